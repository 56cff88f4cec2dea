package kdcode

import (
	"image"
	"math"
	"sort"
)

const (
	white = 0xff
	black = 0x00
)

type point struct {
	x, y float64
}

// canvas is a square grayscale drawing surface with a white background.
// All primitives draw in black; coordinates are in pixels with the y axis
// pointing down.
type canvas struct {
	pix  *image.Gray
	size int
}

func newCanvas(size int) *canvas {
	img := image.NewGray(image.Rect(0, 0, size, size))
	for i := range img.Pix {
		img.Pix[i] = white
	}
	return &canvas{pix: img, size: size}
}

// fillDisk fills the disk of radius r around (cx, cy).
func (c *canvas) fillDisk(cx, cy, r float64) {
	r2 := r * r
	x0, x1 := int(math.Floor(cx-r)), int(math.Ceil(cx+r))
	y0, y1 := int(math.Floor(cy-r)), int(math.Ceil(cy+r))
	for y := max(y0, 0); y <= min(y1, c.size-1); y++ {
		dy := float64(y) + 0.5 - cy
		for x := max(x0, 0); x <= min(x1, c.size-1); x++ {
			dx := float64(x) + 0.5 - cx
			if dx*dx+dy*dy <= r2 {
				c.pix.Pix[y*c.pix.Stride+x] = black
			}
		}
	}
}

// strokeCircle draws a circle outline of the given width. The stroke extends
// inward from radius r, so r stays the outermost dark radius.
func (c *canvas) strokeCircle(cx, cy, r, width float64) {
	inner := r - width
	if inner < 0 {
		inner = 0
	}
	out2, in2 := r*r, inner*inner
	x0, x1 := int(math.Floor(cx-r)), int(math.Ceil(cx+r))
	y0, y1 := int(math.Floor(cy-r)), int(math.Ceil(cy+r))
	for y := max(y0, 0); y <= min(y1, c.size-1); y++ {
		dy := float64(y) + 0.5 - cy
		for x := max(x0, 0); x <= min(x1, c.size-1); x++ {
			dx := float64(x) + 0.5 - cx
			d2 := dx*dx + dy*dy
			if d2 <= out2 && d2 >= in2 {
				c.pix.Pix[y*c.pix.Stride+x] = black
			}
		}
	}
}

// fillPolygon fills a simple polygon using even-odd scanline filling.
// Pixel centers are sampled at (x+0.5, y+0.5).
func (c *canvas) fillPolygon(pts []point) {
	if len(pts) < 3 {
		return
	}
	minY, maxY := pts[0].y, pts[0].y
	for _, p := range pts[1:] {
		minY = math.Min(minY, p.y)
		maxY = math.Max(maxY, p.y)
	}
	y0 := max(int(math.Floor(minY)), 0)
	y1 := min(int(math.Ceil(maxY)), c.size-1)

	xs := make([]float64, 0, 8)
	for y := y0; y <= y1; y++ {
		yc := float64(y) + 0.5
		xs = xs[:0]
		for i := range pts {
			a, b := pts[i], pts[(i+1)%len(pts)]
			if (a.y <= yc) == (b.y <= yc) {
				continue
			}
			t := (yc - a.y) / (b.y - a.y)
			xs = append(xs, a.x+t*(b.x-a.x))
		}
		sort.Float64s(xs)
		for i := 0; i+1 < len(xs); i += 2 {
			xa := max(int(math.Ceil(xs[i]-0.5)), 0)
			xb := min(int(math.Floor(xs[i+1]-0.5)), c.size-1)
			row := y * c.pix.Stride
			for x := xa; x <= xb; x++ {
				c.pix.Pix[row+x] = black
			}
		}
	}
}

// fillWedge fills the annular segment between the inner and outer radii
// spanning [a0, a1] degrees. The arcs are approximated with enough points
// that sampled bit centers fall unambiguously inside the filled region.
func (c *canvas) fillWedge(cx, cy, inner, outer, a0, a1 float64) {
	if inner < 0 || outer <= 0 || inner >= outer {
		return
	}
	span := math.Abs(a1 - a0)
	n := int(span * 0.5)
	if n < 10 {
		n = 10
	}
	pts := make([]point, 0, 2*(n+1))
	for i := 0; i <= n; i++ {
		a := (a0 + span*float64(i)/float64(n)) * math.Pi / 180
		pts = append(pts, point{cx + outer*math.Cos(a), cy + outer*math.Sin(a)})
	}
	for i := 0; i <= n; i++ {
		a := (a1 - span*float64(i)/float64(n)) * math.Pi / 180
		pts = append(pts, point{cx + inner*math.Cos(a), cy + inner*math.Sin(a)})
	}
	c.fillPolygon(pts)
}
