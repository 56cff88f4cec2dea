// Package kdcode implements the KD-Code format: a circular, ring-segmented
// 2D barcode with a pure-Go encoder and decoder.
//
// A KD-Code consists of a solid central anchor disk, a triangular orientation
// fin pointing away from the anchor, concentric data rings whose angular
// segments carry one bit each, and a thin outer "distortion ring" used only
// for localization. Text is stored as 8 bits per character; dark segments
// are ones, untouched background is zero.
//
// Encoding is a deterministic rasterization:
//
//	img, err := kdcode.Encode("Hello", kdcode.DefaultCodeParameters())
//
// Decoding runs a multi-stage pipeline (preprocessing, circle localization,
// orientation resolution, sub-pixel ring sampling, contextual bit
// correction) and reports absence of a code as a plain result, not an error:
//
//	res, err := kdcode.Decode(imageBytes, kdcode.DefaultScanParameters())
//	if err == nil && res.Found {
//		fmt.Println(res.Text)
//	}
//
// The decoder optionally consults a trained correction model (see
// TrainModel and LoadModel); without one it falls back to plain intensity
// thresholding. All entry points are safe for concurrent use.
package kdcode
