package kdcode

import "fmt"

// Layout limits shared by the encoder and decoder.
const (
	// MaxRings caps the number of data rings a single code may carry.
	MaxRings = 20
	// MaxImageSize caps the rendered canvas edge, in pixels.
	MaxImageSize = 2000

	// canvasMargin is the unscaled whitespace added around the code.
	canvasMargin = 20
	// maxScanDimension is the decode-side downscale ceiling.
	maxScanDimension = 800
)

// allowedSegments are the segment counts the decoding geometry supports.
var allowedSegments = []int{8, 16, 32}

// CodeParameters controls the geometry of a generated KD-Code. All values
// are positive integers; SegmentsPerRing must be 8, 16 or 32.
type CodeParameters struct {
	SegmentsPerRing int // bits per ring
	AnchorRadius    int // radius of the central anchor disk, unscaled
	RingWidth       int // width of one data ring, unscaled
	ScaleFactor     int // rendering scale applied to the whole layout
	MaxChars        int // maximum accepted text length
}

// DefaultCodeParameters returns the standard KD-Code geometry.
func DefaultCodeParameters() CodeParameters {
	return CodeParameters{
		SegmentsPerRing: 16,
		AnchorRadius:    10,
		RingWidth:       15,
		ScaleFactor:     5,
		MaxChars:        128,
	}
}

func (p CodeParameters) validate() error {
	if !segmentsAllowed(p.SegmentsPerRing) {
		return &ValidationError{Field: "segments_per_ring", Reason: fmt.Sprintf("must be one of %v, got %d", allowedSegments, p.SegmentsPerRing)}
	}
	if p.AnchorRadius <= 0 {
		return &ValidationError{Field: "anchor_radius", Reason: "must be a positive integer"}
	}
	if p.RingWidth <= 0 {
		return &ValidationError{Field: "ring_width", Reason: "must be a positive integer"}
	}
	if p.ScaleFactor <= 0 {
		return &ValidationError{Field: "scale_factor", Reason: "must be a positive integer"}
	}
	if p.MaxChars <= 0 {
		return &ValidationError{Field: "max_chars", Reason: "must be a positive integer"}
	}
	return nil
}

// ScanParameters controls a decode attempt.
type ScanParameters struct {
	SegmentsPerRing      int
	MinAnchorRadius      int
	MaxAnchorRadius      int
	EnableMultithreading bool
}

// DefaultScanParameters returns the standard scanning configuration.
func DefaultScanParameters() ScanParameters {
	return ScanParameters{
		SegmentsPerRing: 16,
		MinAnchorRadius: 5,
		MaxAnchorRadius: 100,
	}
}

func (p ScanParameters) validate() error {
	if !segmentsAllowed(p.SegmentsPerRing) {
		return &ValidationError{Field: "segments_per_ring", Reason: fmt.Sprintf("must be one of %v, got %d", allowedSegments, p.SegmentsPerRing)}
	}
	if p.MinAnchorRadius <= 0 {
		return &ValidationError{Field: "min_anchor_radius", Reason: "must be a positive integer"}
	}
	if p.MaxAnchorRadius <= p.MinAnchorRadius {
		return &ValidationError{Field: "max_anchor_radius", Reason: "must be greater than min_anchor_radius"}
	}
	return nil
}

func segmentsAllowed(n int) bool {
	for _, v := range allowedSegments {
		if n == v {
			return true
		}
	}
	return false
}
