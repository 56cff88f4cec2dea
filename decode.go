package kdcode

import (
	"bytes"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"sync"

	"go.uber.org/zap"
)

// Result is the outcome of a decode attempt. A missing code is an expected,
// common outcome and is reported here, never as an error.
type Result struct {
	Found bool
	Text  string
}

// Decoder runs the decode pipeline. It holds the correction model and
// logger explicitly, is immutable after construction and safe for
// concurrent use.
type Decoder struct {
	model     *CorrectionModel
	logger    *zap.Logger
	useShared bool
}

// DecoderOption configures a Decoder.
type DecoderOption func(*Decoder)

// WithModel attaches an explicit correction model. It disables the lookup
// of the shared artifact at DefaultModelPath; pass nil for threshold-only
// correction.
func WithModel(m *CorrectionModel) DecoderOption {
	return func(d *Decoder) {
		d.model = m
		d.useShared = false
	}
}

// WithLogger attaches a logger; the default is a nop.
func WithLogger(l *zap.Logger) DecoderOption {
	return func(d *Decoder) {
		if l != nil {
			d.logger = l
		}
	}
}

// NewDecoder builds a Decoder. Without WithModel it consults the shared
// model artifact, lazily loaded on first use.
func NewDecoder(opts ...DecoderOption) *Decoder {
	d := &Decoder{logger: zap.NewNop(), useShared: true}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Decode scans imageBytes for a KD-Code. Invalid scan parameters error;
// bytes that do not decode to an image, or images without a visible code,
// are a soft NotFound.
func (d *Decoder) Decode(imageBytes []byte, sp ScanParameters) (Result, error) {
	if err := sp.validate(); err != nil {
		return Result{}, err
	}
	log := d.logger

	img, _, err := image.Decode(bytes.NewReader(imageBytes))
	if err != nil {
		log.Debug("input is not a decodable image", zap.Error(err))
		return Result{}, nil
	}

	sf := preprocess(img)
	geo := localize(sf, sp, log)
	if geo == nil {
		log.Debug("no code geometry found")
		return Result{}, nil
	}

	geo.OrientationAngle = resolveOrientation(sf, geo)
	calibrateRings(sf, geo, sp.SegmentsPerRing)
	log.Debug("geometry resolved",
		zap.Float64("anchor_radius", geo.AnchorRadius),
		zap.Float64("outer_radius", geo.OuterRadius),
		zap.Float64("orientation", geo.OrientationAngle),
		zap.Int("rings", geo.RingsNeeded))

	samples := sampleBits(sf, geo, sp.SegmentsPerRing)

	model := d.model
	if model == nil && d.useShared {
		model = defaultCorrectionModel(log)
	}
	bits := correctBits(samples, model, geo.RingsNeeded)

	text := BitsToText(bits)
	if text == "" {
		// Geometry without content is clutter, not a code.
		return Result{}, nil
	}
	return Result{Found: true, Text: text}, nil
}

var (
	defaultDecoder     *Decoder
	defaultDecoderOnce sync.Once
)

// Decode scans imageBytes with a shared default Decoder.
func Decode(imageBytes []byte, sp ScanParameters) (Result, error) {
	defaultDecoderOnce.Do(func() { defaultDecoder = NewDecoder() })
	return defaultDecoder.Decode(imageBytes, sp)
}
