package kdcode

import (
	"image"
	"math"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// DetectedGeometry describes one located code in surface coordinates. It is
// created fresh per decode attempt and discarded afterwards.
type DetectedGeometry struct {
	CenterX, CenterY float64
	AnchorRadius     float64
	OuterRadius      float64
	OrientationAngle float64 // degrees, image convention (y down)
	RingWidth        float64 // estimate, refined during sampling
	RingsNeeded      int     // estimate, refined during sampling
}

// circle is one candidate produced by the detector.
type circle struct {
	x, y, r float64
	support float64 // fraction of the circumference backed by edge pixels
}

// houghParams is one sensitivity configuration for the circle detector.
type houghParams struct {
	dp          int     // accumulator downscale factor
	minDist     float64 // minimum distance between accepted centers
	centerVotes int     // vote floor for a center peak
	minSupport  float64 // circumference fraction required for a radius
}

// houghParamSets are tried in order, most permissive first; the first set
// that yields at least two circles wins.
var houghParamSets = []houghParams{
	{dp: 1, minDist: 50, centerVotes: 30, minSupport: 0.50},
	{dp: 1, minDist: 30, centerVotes: 25, minSupport: 0.45},
	{dp: 2, minDist: 40, centerVotes: 35, minSupport: 0.60},
}

// localize finds the anchor and outer-ring geometry of a code on the
// combined binary surface, or returns nil when no code is visible.
func localize(sf *Surface, sp ScanParameters, log *zap.Logger) *DetectedGeometry {
	rMin := float64(sp.MinAnchorRadius)
	rMax := float64(min(sf.W, sf.H)) / 2
	if rMax <= rMin {
		return nil
	}

	edges := edgePoints(sf)
	if len(edges) == 0 {
		return nil
	}

	var candidates []circle
	if sp.EnableMultithreading {
		candidates = runStrategiesConcurrent(sf, edges, rMin, rMax)
	} else {
		candidates = runStrategiesSequential(sf, edges, rMin, rMax)
	}
	log.Debug("circle detection finished", zap.Int("candidates", len(candidates)))
	if len(candidates) == 0 {
		return nil
	}
	return geometryFromCircles(candidates, sf, sp)
}

// runStrategiesSequential evaluates the parameter sets in order. A set with
// at least two circles short-circuits; otherwise the last non-empty result
// is kept so a single strong circle still reaches the geometry filter.
func runStrategiesSequential(sf *Surface, edges []edgePoint, rMin, rMax float64) []circle {
	var last []circle
	for _, hp := range houghParamSets {
		cs := detectCircles(sf, edges, hp, rMin, rMax)
		if len(cs) >= 2 {
			return cs
		}
		if len(cs) > 0 {
			last = cs
		}
	}
	return last
}

// runStrategiesConcurrent evaluates the parameter sets in parallel but keeps
// the sequential selection semantics: the winner is the lowest-index set
// with at least two circles, so the result is identical to sequential
// evaluation on the same surface. Sets ordered after an already-known winner
// are skipped.
func runStrategiesConcurrent(sf *Surface, edges []edgePoint, rMin, rMax float64) []circle {
	n := len(houghParamSets)
	results := make([][]circle, n)
	ran := make([]bool, n)

	var mu sync.Mutex
	winner := n // lowest known index with >= 2 circles

	var wg sync.WaitGroup
	for i := range houghParamSets {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			mu.Lock()
			skip := i > winner
			mu.Unlock()
			if skip {
				return
			}
			cs := detectCircles(sf, edges, houghParamSets[i], rMin, rMax)
			mu.Lock()
			results[i] = cs
			ran[i] = true
			if len(cs) >= 2 && i < winner {
				winner = i
			}
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		if ran[i] && len(results[i]) >= 2 {
			return results[i]
		}
	}
	var last []circle
	for i := 0; i < n; i++ {
		if ran[i] && len(results[i]) > 0 {
			last = results[i]
		}
	}
	return last
}

type edgePoint struct {
	x, y   int
	dx, dy float64 // unit gradient direction
}

// edgePoints collects binary transitions together with the gradient
// direction measured on the enhanced plane.
func edgePoints(sf *Surface) []edgePoint {
	pts := make([]edgePoint, 0, 1024)
	bin := sf.Binary
	for y := 0; y < sf.H-1; y++ {
		row := y * bin.Stride
		for x := 0; x < sf.W-1; x++ {
			v := bin.Pix[row+x]
			if v == bin.Pix[row+x+1] && v == bin.Pix[row+bin.Stride+x] {
				continue
			}
			gx, gy := sobelAt(sf.Enhanced, x, y)
			mag := math.Hypot(gx, gy)
			if mag < 1e-3 {
				continue
			}
			pts = append(pts, edgePoint{x: x, y: y, dx: gx / mag, dy: gy / mag})
		}
	}
	return pts
}

// sobelAt computes the 3x3 Sobel gradient at an interior pixel; border
// pixels report a zero gradient.
func sobelAt(img *image.Gray, x, y int) (float64, float64) {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	if x <= 0 || y <= 0 || x >= w-1 || y >= h-1 {
		return 0, 0
	}
	s := img.Stride
	p := func(xx, yy int) float64 { return float64(img.Pix[yy*s+xx]) }
	gx := -p(x-1, y-1) - 2*p(x-1, y) - p(x-1, y+1) +
		p(x+1, y-1) + 2*p(x+1, y) + p(x+1, y+1)
	gy := -p(x-1, y-1) - 2*p(x, y-1) - p(x+1, y-1) +
		p(x-1, y+1) + 2*p(x, y+1) + p(x+1, y+1)
	return gx, gy
}

// detectCircles runs a gradient Hough transform: edge points vote for
// centers along their gradient line, center peaks are extracted with
// non-maximum suppression, and each peak is validated against a radius
// histogram of the surrounding edge pixels.
func detectCircles(sf *Surface, edges []edgePoint, hp houghParams, rMin, rMax float64) []circle {
	aw := (sf.W + hp.dp - 1) / hp.dp
	ah := (sf.H + hp.dp - 1) / hp.dp
	acc := make([]int32, aw*ah)

	rStep := float64(hp.dp)
	total := int64(0)
	for _, e := range edges {
		for r := rMin; r <= rMax; r += rStep {
			for _, sign := range [2]float64{1, -1} {
				cx := float64(e.x) + sign*r*e.dx
				cy := float64(e.y) + sign*r*e.dy
				ax := int(cx) / hp.dp
				ay := int(cy) / hp.dp
				if ax < 0 || ay < 0 || ax >= aw || ay >= ah {
					continue
				}
				acc[ay*aw+ax]++
				total++
			}
		}
	}
	if total == 0 {
		return nil
	}

	// A real center must stand far above the vote noise floor, not just
	// above the absolute minimum.
	mean := float64(total) / float64(len(acc))
	floor := int32(hp.centerVotes)
	if rel := int32(4 * mean); rel > floor {
		floor = rel
	}

	type peak struct {
		x, y float64
		v    int32
	}
	var peaks []peak
	for ay := 0; ay < ah; ay++ {
		for ax := 0; ax < aw; ax++ {
			v := acc[ay*aw+ax]
			if v < floor {
				continue
			}
			peaks = append(peaks, peak{
				x: (float64(ax) + 0.5) * float64(hp.dp),
				y: (float64(ay) + 0.5) * float64(hp.dp),
				v: v,
			})
		}
	}
	sort.Slice(peaks, func(i, j int) bool {
		if peaks[i].v != peaks[j].v {
			return peaks[i].v > peaks[j].v
		}
		if peaks[i].y != peaks[j].y {
			return peaks[i].y < peaks[j].y
		}
		return peaks[i].x < peaks[j].x
	})

	var centers []peak
	for _, p := range peaks {
		ok := true
		for _, c := range centers {
			if math.Hypot(p.x-c.x, p.y-c.y) < hp.minDist {
				ok = false
				break
			}
		}
		if ok {
			centers = append(centers, p)
			if len(centers) >= 4 {
				break
			}
		}
	}

	var out []circle
	for _, c := range centers {
		out = append(out, radiiAtCenter(edges, c.x, c.y, rMin, rMax, hp.minSupport)...)
	}
	return out
}

// radiiAtCenter builds a histogram of edge-pixel distances from a center and
// returns one circle per sufficiently supported local maximum.
func radiiAtCenter(edges []edgePoint, cx, cy, rMin, rMax, minSupport float64) []circle {
	bins := int(rMax) + 3
	hist := make([]float64, bins)
	for _, e := range edges {
		d := math.Hypot(float64(e.x)-cx, float64(e.y)-cy)
		if d > rMax+2 {
			continue
		}
		b := int(d + 0.5)
		if b < bins {
			hist[b]++
		}
	}

	var out []circle
	for r := int(rMin); r < bins-2; r++ {
		if float64(r) < rMin {
			continue
		}
		// Window sum absorbs the 1-2 bin spread of a rasterized contour.
		win := hist[r]
		for d := 1; d <= 2; d++ {
			if r-d >= 0 {
				win += hist[r-d]
			}
			win += hist[r+d]
		}
		need := minSupport * 2 * math.Pi * float64(r)
		if win < need {
			continue
		}
		isMax := true
		for d := -2; d <= 2; d++ {
			if r+d >= 0 && r+d < bins && hist[r+d] > hist[r] {
				isMax = false
				break
			}
		}
		if !isMax {
			continue
		}
		out = append(out, circle{x: cx, y: cy, r: float64(r), support: win / (2 * math.Pi * float64(r))})
		r += 2 // skip the rest of this contour
	}
	return out
}

// geometryFromCircles filters the candidates down to the anchor/outer-ring
// pair and derives the initial ring estimates.
func geometryFromCircles(candidates []circle, sf *Surface, sp ScanParameters) *DetectedGeometry {
	centerThreshold := 0.4 * float64(min(sf.W, sf.H))
	var filtered []circle
	for _, c := range candidates {
		if math.Abs(c.x-float64(sf.W)/2) < centerThreshold && math.Abs(c.y-float64(sf.H)/2) < centerThreshold {
			filtered = append(filtered, c)
		}
	}
	if len(filtered) == 0 {
		return nil
	}
	sort.Slice(filtered, func(i, j int) bool { return filtered[i].r < filtered[j].r })

	outer := filtered[len(filtered)-1]

	var anchor *circle
	bestDist := math.Inf(1)
	for i := range filtered {
		c := filtered[i]
		dist := math.Hypot(c.x-outer.x, c.y-outer.y)
		if dist >= outer.r*0.3 || c.r >= outer.r*0.3 {
			continue
		}
		if c.r < float64(sp.MinAnchorRadius) || c.r > float64(sp.MaxAnchorRadius) {
			continue
		}
		if dist < bestDist {
			bestDist = dist
			anchor = &filtered[i]
		}
	}
	if anchor == nil {
		return nil
	}

	ringWidth := math.Max(1, (outer.r-anchor.r)/10)
	rings := int((outer.r - anchor.r) / ringWidth)
	if rings < 1 {
		rings = 1
	}
	return &DetectedGeometry{
		CenterX:      anchor.x,
		CenterY:      anchor.y,
		AnchorRadius: anchor.r,
		OuterRadius:  outer.r,
		RingWidth:    ringWidth,
		RingsNeeded:  rings,
	}
}
