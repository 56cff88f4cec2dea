package kdcode

import "math"

// resolveOrientation locates the orientation fin and returns the decoding
// angle in degrees. The marker gap ring is sampled at the four cardinal
// directions just beyond the anchor; the fin is the only dark structure
// there, so the darkest sample marks the fin direction. The reported angle
// is that direction rotated by 180 degrees, the shared angular origin of
// encoder and decoder. Defaults to 0 when no sample is in bounds.
func resolveOrientation(sf *Surface, g *DetectedGeometry) float64 {
	r := g.AnchorRadius + math.Max(2, 0.4*g.RingWidth)
	best := -1.0
	bestIntensity := math.Inf(1)
	for _, deg := range []float64{0, 90, 180, 270} {
		rad := deg * math.Pi / 180
		x := g.CenterX + r*math.Cos(rad)
		y := g.CenterY + r*math.Sin(rad)
		if !sf.inBounds(x, y) {
			continue
		}
		v := bilinear(sf.Gray, x, y)
		if v < bestIntensity {
			bestIntensity = v
			best = deg
		}
	}
	if best < 0 {
		return 0
	}
	return math.Mod(best+180, 360)
}
