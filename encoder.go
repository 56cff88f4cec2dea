package kdcode

import (
	"bytes"
	"image"
	"image/jpeg"
	"image/png"
	"math"

	"github.com/xfmoulet/qoi"
)

// finHeightFrac sizes the orientation fin relative to the marker gap ring.
// The fin must stay inside the gap so it never shadows data samples.
const finHeightFrac = 0.9

// RasterPlan is the layout computed for one encode call before any pixel is
// drawn.
type RasterPlan struct {
	RingsNeeded int
	OuterRadius int // unscaled, includes the marker gap ring
	ImageSize   int // final canvas edge, scaled
}

// planLayout derives the raster plan for a bit count. It fails with a
// CapacityError when the layout would exceed MaxRings or MaxImageSize.
func planLayout(bitCount int, p CodeParameters) (RasterPlan, error) {
	rings := (bitCount + p.SegmentsPerRing - 1) / p.SegmentsPerRing
	outer := p.AnchorRadius + rings*p.RingWidth + p.RingWidth
	size := (outer*2 + canvasMargin) * p.ScaleFactor
	plan := RasterPlan{RingsNeeded: rings, OuterRadius: outer, ImageSize: size}
	if rings > MaxRings || size > MaxImageSize {
		return plan, &CapacityError{RingsNeeded: rings, ImageSize: size}
	}
	return plan, nil
}

// Encode renders text as a KD-Code image. The rendering is deterministic:
// identical input produces an identical image.
func Encode(text string, p CodeParameters) (*image.Gray, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	if len(text) == 0 {
		return nil, &ValidationError{Field: "text", Reason: "must not be empty"}
	}
	if n := len([]rune(text)); n > p.MaxChars {
		return nil, &ValidationError{Field: "text", Reason: "exceeds maximum length"}
	}
	bits, err := TextToBits(text)
	if err != nil {
		return nil, err
	}
	plan, err := planLayout(len(bits), p)
	if err != nil {
		return nil, err
	}
	// Pad the stream so every ring is full; padding decodes as NUL and is
	// dropped by BitsToText.
	if pad := plan.RingsNeeded*p.SegmentsPerRing - len(bits); pad > 0 {
		bits = append(bits, make(BitStream, pad)...)
	}
	return renderCode(bits, p, plan), nil
}

// segmentAngle returns the image-space angle in degrees (y axis down) of the
// center of segment k for an upright code. The angular origin points away
// from the orientation fin, which sits at the top.
func segmentAngle(k, segments int) float64 {
	return 90 + float64(k)*(360/float64(segments))
}

func renderCode(bits BitStream, p CodeParameters, plan RasterPlan) *image.Gray {
	s := float64(p.ScaleFactor)
	c := newCanvas(plan.ImageSize)
	cx := float64(plan.ImageSize) / 2
	cy := cx
	anchor := float64(p.AnchorRadius) * s
	rw := float64(p.RingWidth) * s

	c.fillDisk(cx, cy, anchor)

	// Orientation fin: isosceles triangle anchored at the top of the disk,
	// pointing up into the data-free gap ring between anchor and ring 0.
	finH := finHeightFrac * rw
	c.fillPolygon([]point{
		{cx, cy - anchor - finH},
		{cx - rw/2, cy - anchor},
		{cx + rw/2, cy - anchor},
	})

	step := 360 / float64(p.SegmentsPerRing)
	for ring := 0; ring < plan.RingsNeeded; ring++ {
		inner := anchor + rw + float64(ring)*rw
		outer := inner + rw
		for seg := 0; seg < p.SegmentsPerRing; seg++ {
			if bits[ring*p.SegmentsPerRing+seg] == 0 {
				continue
			}
			mid := segmentAngle(seg, p.SegmentsPerRing)
			c.fillWedge(cx, cy, inner, outer, mid-step/2, mid+step/2)
		}
	}

	// Distortion ring: thin outline at the outermost radius. Carries no
	// data, the decoder uses it purely as a localization anchor.
	c.strokeCircle(cx, cy, float64(plan.OuterRadius)*s, math.Max(1, 2*s))
	return c.pix
}

// OutputFormat selects the byte encoding of a rendered code.
type OutputFormat int

const (
	// FormatPNG is the default, lossless output.
	FormatPNG OutputFormat = iota
	// FormatQOI is a faster lossless alternative.
	FormatQOI
	// FormatJPEG is lossy and must be requested explicitly; compression
	// artifacts are the main noise source the decoder has to tolerate.
	FormatJPEG
)

// EncodeOptions controls the byte encoding of EncodeBytes.
type EncodeOptions struct {
	Format  OutputFormat
	Quality int // JPEG quality 1..100; 0 means the default of 95
}

// EncodeBytes renders text as a KD-Code and serializes it in the requested
// format. Lossless formats are byte-deterministic.
func EncodeBytes(text string, p CodeParameters, o EncodeOptions) ([]byte, error) {
	img, err := Encode(text, p)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	switch o.Format {
	case FormatPNG:
		err = png.Encode(&buf, img)
	case FormatQOI:
		err = qoi.Encode(&buf, img)
	case FormatJPEG:
		q := o.Quality
		if q == 0 {
			q = 95
		}
		if q < 1 || q > 100 {
			return nil, &ValidationError{Field: "quality", Reason: "must be between 1 and 100"}
		}
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: q})
	default:
		return nil, &ValidationError{Field: "format", Reason: "unknown output format"}
	}
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
