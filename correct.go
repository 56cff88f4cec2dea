package kdcode

import "math"

// numFeatures is the width of the corrector's input vector. The layout is
// shared between the synthetic training generator and decode-time
// extraction; both sides must stay in lockstep.
const numFeatures = 10

// buildFeatures maps one sampled bit and its sequence context onto the
// model input vector. Neighbor bits are -1 at the stream edges.
func buildFeatures(s SampledBit, prev, next, pos, total, rings int) [numFeatures]float64 {
	if total < 1 {
		total = 1
	}
	noise := 255 - math.Abs(s.Intensity-s.LocalAvg)
	return [numFeatures]float64{
		s.Intensity,
		s.LocalAvg,
		noise,
		s.Gradient,
		s.Confidence,
		float64(prev),
		float64(next),
		float64(pos) / float64(total),
		math.Abs(float64(s.Ring) - float64(rings)/2),
		(float64(prev) + float64(next)) / 2,
	}
}

// correctBits turns raw samples into the final bit stream. Without a model
// the threshold decisions pass through unchanged. With a model, an isolated
// flip between two identical neighbors is overridden first; the heuristic
// catches noise spikes the classifier may never have seen. Remaining bits
// are classified from their sampled context. The pass is deterministic for
// a fixed model and input, and each bit is corrected exactly once.
func correctBits(samples []SampledBit, model *CorrectionModel, rings int) BitStream {
	bits := make(BitStream, len(samples))
	for i, s := range samples {
		bits[i] = s.Bit
	}
	if model == nil {
		return bits
	}

	out := make(BitStream, len(bits))
	for i := range bits {
		prev, next := -1, -1
		if i > 0 {
			prev = int(bits[i-1])
		}
		if i < len(bits)-1 {
			next = int(bits[i+1])
		}
		if prev >= 0 && next >= 0 && prev == next && int(bits[i]) != prev {
			out[i] = uint8(prev)
			continue
		}
		if !samples[i].InBounds {
			out[i] = bits[i]
			continue
		}
		fv := buildFeatures(samples[i], prev, next, i, len(bits), rings)
		out[i] = model.predict(fv[:])
	}
	return out
}
