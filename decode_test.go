package kdcode

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"math/rand"
	"testing"
)

func encodePNG(t testing.TB, text string, p CodeParameters) []byte {
	t.Helper()
	data, err := EncodeBytes(text, p, EncodeOptions{Format: FormatPNG})
	if err != nil {
		t.Fatalf("EncodeBytes: %v", err)
	}
	return data
}

func mustDecode(t *testing.T, data []byte, sp ScanParameters) Result {
	t.Helper()
	res, err := Decode(data, sp)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	return res
}

func TestDecode_RoundTrip(t *testing.T) {
	for _, tc := range []struct {
		name     string
		text     string
		segments int
	}{
		{name: "short_16seg", text: "HI", segments: 16},
		{name: "sentence_16seg", text: "Hello, KD-Code!", segments: 16},
		{name: "short_8seg", text: "Go", segments: 8},
		{name: "word_32seg", text: "KD-Code", segments: 32},
	} {
		t.Run(tc.name, func(t *testing.T) {
			p := DefaultCodeParameters()
			p.SegmentsPerRing = tc.segments
			sp := DefaultScanParameters()
			sp.SegmentsPerRing = tc.segments

			res := mustDecode(t, encodePNG(t, tc.text, p), sp)
			if !res.Found {
				t.Fatalf("code not found")
			}
			if res.Text != tc.text {
				t.Fatalf("got %q want %q", res.Text, tc.text)
			}
		})
	}
}

func TestDecode_RingCountMatrix(t *testing.T) {
	// Sweeps the ring count per segment setting: 1..10 rings at 8 segments,
	// 1..5 at 16, 1..3 at 32. Small ring counts are where localization
	// error is largest relative to the geometry, so every cell must round
	// trip, not just the comfortable ones.
	const alphabet = "KD-Code 42"
	for _, segments := range []int{8, 16, 32} {
		for n := 1; n <= len(alphabet); n++ {
			text := alphabet[:n]
			t.Run(fmt.Sprintf("seg%d_len%d", segments, n), func(t *testing.T) {
				p := DefaultCodeParameters()
				p.SegmentsPerRing = segments
				sp := DefaultScanParameters()
				sp.SegmentsPerRing = segments

				res := mustDecode(t, encodePNG(t, text, p), sp)
				if !res.Found {
					t.Fatalf("code not found")
				}
				if res.Text != text {
					t.Fatalf("got %q want %q", res.Text, text)
				}
			})
		}
	}
}

func rotate180(src *image.Gray) *image.Gray {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	dst := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			dst.Pix[y*dst.Stride+x] = src.Pix[(h-1-y)*src.Stride+(w-1-x)]
		}
	}
	return dst
}

func rotate90(src *image.Gray) *image.Gray {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	dst := image.NewGray(image.Rect(0, 0, h, w))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			dst.Pix[x*dst.Stride+(h-1-y)] = src.Pix[y*src.Stride+x]
		}
	}
	return dst
}

func TestDecode_Rotated(t *testing.T) {
	p := DefaultCodeParameters()
	img, err := Encode("HI", p)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	for _, tc := range []struct {
		name string
		rot  func(*image.Gray) *image.Gray
	}{
		{name: "rot90", rot: rotate90},
		{name: "rot180", rot: rotate180},
		{name: "rot270", rot: func(g *image.Gray) *image.Gray { return rotate90(rotate180(g)) }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := png.Encode(&buf, tc.rot(img)); err != nil {
				t.Fatalf("png encode: %v", err)
			}
			res := mustDecode(t, buf.Bytes(), DefaultScanParameters())
			if !res.Found || res.Text != "HI" {
				t.Fatalf("rotated decode: found=%v text=%q", res.Found, res.Text)
			}
		})
	}
}

func TestDecode_NoiseIsNotFound(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	img := image.NewGray(image.Rect(0, 0, 400, 400))
	for i := range img.Pix {
		img.Pix[i] = uint8(rng.Intn(256))
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png encode: %v", err)
	}

	res := mustDecode(t, buf.Bytes(), DefaultScanParameters())
	if res.Found {
		t.Fatalf("found a code in random noise: %q", res.Text)
	}
}

func TestDecode_MalformedBytes(t *testing.T) {
	res, err := Decode([]byte("this is not an image"), DefaultScanParameters())
	if err != nil {
		t.Fatalf("undecodable bytes must be a soft miss, got %v", err)
	}
	if res.Found {
		t.Fatalf("found a code in garbage bytes")
	}
}

func TestDecode_InvalidScanParameters(t *testing.T) {
	data := encodePNG(t, "HI", DefaultCodeParameters())
	for _, tc := range []struct {
		name string
		sp   ScanParameters
	}{
		{name: "bad_segments", sp: ScanParameters{SegmentsPerRing: 7, MinAnchorRadius: 5, MaxAnchorRadius: 100}},
		{name: "zero_min_anchor", sp: ScanParameters{SegmentsPerRing: 16, MinAnchorRadius: 0, MaxAnchorRadius: 100}},
		{name: "inverted_anchor_range", sp: ScanParameters{SegmentsPerRing: 16, MinAnchorRadius: 50, MaxAnchorRadius: 10}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode(data, tc.sp)
			if err == nil {
				t.Fatalf("expected validation error, got nil")
			}
			if _, ok := err.(*ValidationError); !ok {
				t.Fatalf("expected *ValidationError, got %T: %v", err, err)
			}
		})
	}
}

func TestDecode_MultithreadedMatchesSequential(t *testing.T) {
	data := encodePNG(t, "threads", DefaultCodeParameters())

	sp := DefaultScanParameters()
	seq := mustDecode(t, data, sp)
	sp.EnableMultithreading = true
	par := mustDecode(t, data, sp)

	if seq != par {
		t.Fatalf("results diverged:\nsequential %+v\nconcurrent %+v", seq, par)
	}
	if !seq.Found || seq.Text != "threads" {
		t.Fatalf("got %+v", seq)
	}
}

func TestSampleBits_ConfidenceRange(t *testing.T) {
	p := DefaultCodeParameters()
	sf := encodedSurface(t, "HI", p)
	geo := &DetectedGeometry{
		CenterX: 250, CenterY: 250,
		AnchorRadius: 50, OuterRadius: 200,
		OrientationAngle: 90,
		RingWidth:        75,
		RingsNeeded:      1,
	}
	samples := sampleBits(sf, geo, 16)
	if len(samples) != 16 {
		t.Fatalf("sample count: got %d want 16", len(samples))
	}
	for i, s := range samples {
		if s.Confidence < 0 || s.Confidence > 1 {
			t.Fatalf("sample %d confidence %v outside [0, 1]", i, s.Confidence)
		}
		if !s.InBounds {
			t.Fatalf("sample %d unexpectedly out of bounds", i)
		}
	}

	// Push the geometry off the canvas; samples must degrade to zero
	// confidence, not panic.
	geo.CenterX = 10000
	for i, s := range sampleBits(sf, geo, 16) {
		if s.InBounds || s.Confidence != 0 || s.Bit != 0 {
			t.Fatalf("out-of-bounds sample %d not zeroed: %+v", i, s)
		}
	}
}

func TestDecoder_ExplicitNilModel(t *testing.T) {
	data := encodePNG(t, "plain", DefaultCodeParameters())
	d := NewDecoder(WithModel(nil))
	res, err := d.Decode(data, DefaultScanParameters())
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !res.Found || res.Text != "plain" {
		t.Fatalf("threshold-only decode failed: %+v", res)
	}
}

func BenchmarkEncode(b *testing.B) {
	p := DefaultCodeParameters()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if _, err := Encode("Hello, KD-Code!", p); err != nil {
			b.Fatalf("Encode: %v", err)
		}
	}
}

func BenchmarkDecode(b *testing.B) {
	data := encodePNG(b, "Hello, KD-Code!", DefaultCodeParameters())
	sp := DefaultScanParameters()
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		res, err := Decode(data, sp)
		if err != nil {
			b.Fatalf("Decode: %v", err)
		}
		if !res.Found {
			b.Fatalf("code not found")
		}
	}
}
