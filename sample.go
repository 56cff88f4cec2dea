package kdcode

import (
	"math"
	"sort"
)

// SampledBit is one ring/segment observation together with the local
// context the error corrector consumes. Bit holds the plain threshold
// decision (dark = 1) used when no correction model is available.
type SampledBit struct {
	Bit        uint8
	Intensity  float64
	LocalAvg   float64
	Gradient   float64
	Confidence float64
	Ring       int
	Segment    int
	InBounds   bool
}

// calibrateRings refines the localizer's ring estimates. The initial
// ring-width guess is coarse; the real count is pinned down by measuring the
// marker gap (which is exactly one ring width wide) and scoring nearby
// ring-count hypotheses by radial sampling consistency.
func calibrateRings(sf *Surface, g *DetectedGeometry, segments int) {
	d := g.OuterRadius - g.AnchorRadius
	if d <= 0 {
		return
	}

	candidates := make([]int, 0, MaxRings)
	add := func(k int) {
		k = clampInt(k, 1, MaxRings)
		for _, c := range candidates {
			if c == k {
				return
			}
		}
		candidates = append(candidates, k)
	}
	if gap := measureMarkerGap(sf, g); gap > 0 {
		kGap := int(math.Round(d/gap)) - 1
		add(kGap)
		add(kGap - 1)
		add(kGap + 1)
	}
	add(g.RingsNeeded)
	add(g.RingsNeeded - 1)
	add(g.RingsNeeded + 1)
	// Safety net: when localization is off, the gap measurement and the
	// coarse estimate can both miss the true count. Scoring every feasible
	// count is cheap, and ties go to the earlier, trusted candidates.
	for k := 1; k <= MaxRings; k++ {
		add(k)
	}

	bestK, bestScore := candidates[0], -1.0
	for _, k := range candidates {
		if score := scoreRingHypothesis(sf, g, k, segments); score > bestScore {
			bestScore = score
			bestK = k
		}
	}
	g.RingsNeeded = bestK
	g.RingWidth = d / float64(bestK+1)
}

// measureMarkerGap walks outward from the anchor along many directions and
// records the distance to the first solid dark crossing per direction: the
// inner edge of ring 0, one ring width out. Directions near the fin are
// skipped, and a crossing only counts when at least three directions agree
// on it within a few pixels, so a ray grazing the fin base cannot fake a
// tiny gap. Returns 0 when no supported crossing exists.
func measureMarkerGap(sf *Surface, g *DetectedGeometry) float64 {
	marker := math.Mod(g.OrientationAngle+180, 360)
	limit := g.OuterRadius - g.AnchorRadius
	start := g.AnchorRadius + math.Max(3, 0.08*g.AnchorRadius)

	var crossings []float64
	for a := 0.0; a < 360; a += 5 {
		if angularDistance(a, marker) < 35 {
			continue
		}
		rad := a * math.Pi / 180
		sin, cos := math.Sincos(rad)
		// The detected anchor radius can undershoot the real rim, which
		// would put the march start on the anchor disk itself. March
		// through any dark contiguous with the start and require a clear
		// white span before a dark run counts as the ring 0 edge.
		clear := false
		whiteRun := 0.0
		darkStart := -1.0
		for r := start; r < g.OuterRadius; r += 0.5 {
			x := g.CenterX + r*cos
			y := g.CenterY + r*sin
			if !sf.inBounds(x, y) {
				break
			}
			dark := bilinear(sf.Binary, x, y) < 128
			if !clear {
				if dark {
					whiteRun = 0
				} else {
					whiteRun += 0.5
					clear = whiteRun >= 1.5
				}
				continue
			}
			if dark {
				if darkStart < 0 {
					darkStart = r
				}
				if r-darkStart >= 1.5 {
					if w := darkStart - g.AnchorRadius; w > 0 && w < limit {
						crossings = append(crossings, w)
					}
					break
				}
			} else {
				darkStart = -1
			}
		}
	}

	sort.Float64s(crossings)
	for i := 0; i+2 < len(crossings); i++ {
		if crossings[i+2]-crossings[i] <= 3 {
			return crossings[i+1]
		}
	}
	return 0
}

func angularDistance(a, b float64) float64 {
	d := math.Abs(math.Mod(a-b+540, 360) - 180)
	return d
}

// scoreRingHypothesis rates a ring count by sampling every segment at three
// radii inside each hypothesized ring. When the count is right, all three
// land inside the same drawn ring and agree; a wrong count straddles ring
// boundaries and disagrees wherever the bit pattern changes.
func scoreRingHypothesis(sf *Surface, g *DetectedGeometry, k, segments int) float64 {
	rw := (g.OuterRadius - g.AnchorRadius) / float64(k+1)
	step := 360 / float64(segments)
	total, agree := 0, 0
	for ring := 0; ring < k; ring++ {
		base := g.AnchorRadius + rw*(float64(ring)+1.5)
		for seg := 0; seg < segments; seg++ {
			rad := (g.OrientationAngle + float64(seg)*step) * math.Pi / 180
			sin, cos := math.Sincos(rad)
			first, ok := -1, true
			for _, dr := range [3]float64{-0.25 * rw, 0, 0.25 * rw} {
				x := g.CenterX + (base+dr)*cos
				y := g.CenterY + (base+dr)*sin
				if !sf.inBounds(x, y) {
					ok = false
					break
				}
				bit := 0
				if bilinear(sf.Gray, x, y) < 128 {
					bit = 1
				}
				if first < 0 {
					first = bit
				} else if bit != first {
					ok = false
					break
				}
			}
			total++
			if ok {
				agree++
			}
		}
	}
	if total == 0 {
		return 0
	}
	return float64(agree) / float64(total)
}

// sampleBits reads one observation per ring segment with sub-pixel bilinear
// interpolation on the plain grayscale plane. Out-of-bounds positions
// record a zero bit with zero confidence.
func sampleBits(sf *Surface, g *DetectedGeometry, segments int) []SampledBit {
	step := 360 / float64(segments)
	window := int(math.Max(2, g.AnchorRadius/4))
	out := make([]SampledBit, 0, g.RingsNeeded*segments)

	for ring := 0; ring < g.RingsNeeded; ring++ {
		radius := g.AnchorRadius + g.RingWidth*(float64(ring)+1.5)
		for seg := 0; seg < segments; seg++ {
			rad := (g.OrientationAngle + float64(seg)*step) * math.Pi / 180
			sin, cos := math.Sincos(rad)
			x := g.CenterX + radius*cos
			y := g.CenterY + radius*sin

			sb := SampledBit{Ring: ring, Segment: seg}
			if !sf.inBounds(x, y) {
				out = append(out, sb)
				continue
			}
			sb.InBounds = true
			sb.Intensity = bilinear(sf.Gray, x, y)
			sb.LocalAvg = localAverage(sf.Gray, int(x), int(y), window)
			gx, gy := centralGradient(sf.Gray, int(x), int(y))
			sb.Gradient = math.Hypot(gx, gy)
			sb.Confidence = math.Min(1, math.Abs(sb.Intensity-sb.LocalAvg)/128)
			if sb.Intensity < 128 {
				sb.Bit = 1
			}
			out = append(out, sb)
		}
	}
	return out
}
