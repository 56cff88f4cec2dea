package kdcode

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func trainedModel(t *testing.T) *CorrectionModel {
	t.Helper()
	m, err := TrainModel(1, 2000)
	if err != nil {
		t.Fatalf("TrainModel: %v", err)
	}
	return m
}

func TestTrainModel_RejectsTinySets(t *testing.T) {
	if _, err := TrainModel(1, 99); err == nil {
		t.Fatalf("expected error for undersized training set, got nil")
	}
}

func TestTrainModel_Deterministic(t *testing.T) {
	a, err := TrainModel(42, 500)
	if err != nil {
		t.Fatalf("TrainModel: %v", err)
	}
	b, err := TrainModel(42, 500)
	if err != nil {
		t.Fatalf("TrainModel: %v", err)
	}
	if len(a.Trees) != len(b.Trees) {
		t.Fatalf("tree count: %d vs %d", len(a.Trees), len(b.Trees))
	}
	for i := range a.Trees {
		if len(a.Trees[i].Nodes) != len(b.Trees[i].Nodes) {
			t.Fatalf("tree %d node count: %d vs %d", i, len(a.Trees[i].Nodes), len(b.Trees[i].Nodes))
		}
		for j := range a.Trees[i].Nodes {
			if a.Trees[i].Nodes[j] != b.Trees[i].Nodes[j] {
				t.Fatalf("tree %d node %d differs", i, j)
			}
		}
	}
}

func TestModel_PredictsSeparableClasses(t *testing.T) {
	m := trainedModel(t)

	dark := SampledBit{Intensity: 20, LocalAvg: 180, Gradient: 10, Confidence: 1, Ring: 2, InBounds: true}
	fv := buildFeatures(dark, 1, 1, 10, 100, 5)
	if got := m.predict(fv[:]); got != 1 {
		t.Fatalf("clear dark sample classified as %d", got)
	}

	bright := SampledBit{Intensity: 240, LocalAvg: 80, Gradient: 10, Confidence: 1, Ring: 2, InBounds: true}
	fv = buildFeatures(bright, 0, 0, 10, 100, 5)
	if got := m.predict(fv[:]); got != 0 {
		t.Fatalf("clear bright sample classified as %d", got)
	}
}

func TestModel_SaveLoadRoundTrip(t *testing.T) {
	m := trainedModel(t)
	path := filepath.Join(t.TempDir(), "corrector.kdm")
	if err := m.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := LoadModel(path)
	if err != nil {
		t.Fatalf("LoadModel: %v", err)
	}
	if loaded.Seed != m.Seed || len(loaded.Trees) != len(m.Trees) {
		t.Fatalf("artifact mismatch: seed %d/%d trees %d/%d", loaded.Seed, m.Seed, len(loaded.Trees), len(m.Trees))
	}

	// The loaded forest must agree with the original on every input.
	for i := 0; i < 200; i++ {
		s := SampledBit{
			Intensity:  float64(i % 255),
			LocalAvg:   float64((i * 7) % 255),
			Gradient:   float64(i % 60),
			Confidence: float64(i%100) / 100,
			Ring:       i % MaxRings,
			InBounds:   true,
		}
		fv := buildFeatures(s, i%2, (i+1)%2, i, 200, MaxRings)
		if m.predict(fv[:]) != loaded.predict(fv[:]) {
			t.Fatalf("prediction diverged for input %d", i)
		}
	}
}

func TestLoadModel_MissingFile(t *testing.T) {
	_, err := LoadModel(filepath.Join(t.TempDir(), "absent.kdm"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected os.ErrNotExist, got %v", err)
	}
}

func TestLoadModel_RejectsForeignBytes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bogus.kdm")
	if err := os.WriteFile(path, []byte("definitely not a model"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := LoadModel(path); err == nil {
		t.Fatalf("expected error for foreign bytes, got nil")
	}
}

func TestCorrectBits_NilModelPassesThrough(t *testing.T) {
	samples := []SampledBit{
		{Bit: 1, InBounds: true},
		{Bit: 0, InBounds: true},
		{Bit: 1, InBounds: true},
	}
	bits := correctBits(samples, nil, 1)
	want := BitStream{1, 0, 1}
	for i := range want {
		if bits[i] != want[i] {
			t.Fatalf("bit %d: got %d want %d", i, bits[i], want[i])
		}
	}
}

func TestCorrectBits_NeighborRuleOverride(t *testing.T) {
	m := trainedModel(t)

	// An isolated flip between two identical raw neighbors is restored from
	// the neighbors regardless of the classifier's opinion.
	samples := []SampledBit{
		{Bit: 1, Intensity: 10, LocalAvg: 200, Confidence: 1, InBounds: true},
		{Bit: 0, Intensity: 250, LocalAvg: 30, Confidence: 1, InBounds: true},
		{Bit: 1, Intensity: 12, LocalAvg: 205, Confidence: 1, InBounds: true},
	}
	bits := correctBits(samples, m, 1)
	if bits[1] != 1 {
		t.Fatalf("middle bit not overridden to neighbor value: %v", bits)
	}
}

func TestCorrectBits_OutOfBoundsKeepsThreshold(t *testing.T) {
	m := trainedModel(t)
	samples := []SampledBit{
		{Bit: 1, Intensity: 10, LocalAvg: 200, Confidence: 1, InBounds: true},
		{Bit: 0, InBounds: false},
		{Bit: 0, Intensity: 240, LocalAvg: 40, Confidence: 1, InBounds: true},
	}
	bits := correctBits(samples, m, 1)
	if bits[1] != 0 {
		t.Fatalf("out-of-bounds bit was reclassified: %v", bits)
	}
}

func TestCorrectBits_OutputIsBinary(t *testing.T) {
	m := trainedModel(t)
	samples := make([]SampledBit, 64)
	for i := range samples {
		samples[i] = SampledBit{
			Bit:        uint8(i % 2),
			Intensity:  float64((i * 37) % 255),
			LocalAvg:   float64((i * 91) % 255),
			Gradient:   float64(i % 60),
			Confidence: float64(i%10) / 10,
			Ring:       i / 16,
			InBounds:   true,
		}
	}
	for i, b := range correctBits(samples, m, 4) {
		if b != 0 && b != 1 {
			t.Fatalf("bit %d is %d", i, b)
		}
	}
}
