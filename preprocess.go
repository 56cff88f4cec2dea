package kdcode

import (
	"image"
	"math"

	xdraw "golang.org/x/image/draw"
)

// Surface is the preprocessed form of a scanned image. Gray is the plain
// intensity plane used for sub-pixel sampling, Enhanced is the
// contrast-normalized and denoised plane used for gradients, and Binary is
// the combined threshold plane used for localization. Scale records the
// factor applied when the input exceeded the downscale ceiling; decoding
// reports no coordinates, so nothing maps back to input pixels, but the
// factor is kept for diagnostics.
type Surface struct {
	Gray     *image.Gray
	Enhanced *image.Gray
	Binary   *image.Gray
	Scale    float64
	W, H     int
}

func (s *Surface) inBounds(x, y float64) bool {
	return x >= 0 && y >= 0 && x < float64(s.W) && y < float64(s.H)
}

// preprocess turns a raw decoded image into the candidate surfaces the
// localizer works on. Every step is a pure transform.
func preprocess(img image.Image) *Surface {
	scale := 1.0
	b := img.Bounds()
	if m := max(b.Dx(), b.Dy()); m > maxScanDimension {
		scale = float64(maxScanDimension) / float64(m)
		w := int(float64(b.Dx()) * scale)
		h := int(float64(b.Dy()) * scale)
		dst := image.NewRGBA(image.Rect(0, 0, w, h))
		xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, xdraw.Src, nil)
		img = dst
	}

	gray := toGray(img)
	enhanced := gaussianBlur(equalizeLocal(gray, 8, 2.0), 5, 1.1)

	globalBin := thresholdBinary(enhanced, otsuThreshold(enhanced))
	adaptiveBin := adaptiveThreshold(enhanced, 11, 2)

	// Requiring both methods to agree suppresses false edges while still
	// finding the pattern under partial shadow.
	combined := image.NewGray(gray.Bounds())
	for i := range combined.Pix {
		combined.Pix[i] = globalBin.Pix[i] & adaptiveBin.Pix[i]
	}

	return &Surface{
		Gray:     gray,
		Enhanced: enhanced,
		Binary:   combined,
		Scale:    scale,
		W:        gray.Bounds().Dx(),
		H:        gray.Bounds().Dy(),
	}
}

// toGray converts any image into a tightly packed *image.Gray. Common
// concrete types bypass the generic At path.
func toGray(img image.Image) *image.Gray {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	dst := image.NewGray(image.Rect(0, 0, w, h))

	switch src := img.(type) {
	case *image.Gray:
		for y := 0; y < h; y++ {
			copy(dst.Pix[y*dst.Stride:y*dst.Stride+w], src.Pix[(y+b.Min.Y-src.Rect.Min.Y)*src.Stride+(b.Min.X-src.Rect.Min.X):])
		}
	case *image.RGBA:
		for y := 0; y < h; y++ {
			row := (y + b.Min.Y - src.Rect.Min.Y) * src.Stride
			for x := 0; x < w; x++ {
				p := row + (x+b.Min.X-src.Rect.Min.X)*4
				r := int32(src.Pix[p])
				g := int32(src.Pix[p+1])
				bl := int32(src.Pix[p+2])
				dst.Pix[y*dst.Stride+x] = uint8((299*r + 587*g + 114*bl + 500) / 1000)
			}
		}
	default:
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				r16, g16, b16, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
				r := int32(r16 >> 8)
				g := int32(g16 >> 8)
				bl := int32(b16 >> 8)
				dst.Pix[y*dst.Stride+x] = uint8((299*r + 587*g + 114*bl + 500) / 1000)
			}
		}
	}
	return dst
}

// equalizeLocal applies tile-based histogram equalization with a clip limit,
// compensating for uneven lighting. Tile mappings are blended bilinearly so
// tile seams stay invisible.
func equalizeLocal(src *image.Gray, tiles int, clipLimit float64) *image.Gray {
	w, h := src.Bounds().Dx(), src.Bounds().Dy()
	if w < tiles || h < tiles {
		return src
	}
	tw := (w + tiles - 1) / tiles
	th := (h + tiles - 1) / tiles

	luts := make([][256]uint8, tiles*tiles)
	for ty := 0; ty < tiles; ty++ {
		for tx := 0; tx < tiles; tx++ {
			x0, y0 := tx*tw, ty*th
			x1, y1 := min(x0+tw, w), min(y0+th, h)

			var hist [256]int
			for y := y0; y < y1; y++ {
				row := y * src.Stride
				for x := x0; x < x1; x++ {
					hist[src.Pix[row+x]]++
				}
			}
			area := (x1 - x0) * (y1 - y0)

			// Clip the histogram and hand the excess back uniformly; this
			// bounds the slope of the mapping so flat regions keep their
			// tone instead of being stretched across the full range.
			clip := int(clipLimit * float64(area) / 256)
			if clip < 1 {
				clip = 1
			}
			excess := 0
			for i := range hist {
				if hist[i] > clip {
					excess += hist[i] - clip
					hist[i] = clip
				}
			}
			share := excess / 256
			rem := excess % 256
			for i := range hist {
				hist[i] += share
				if i < rem {
					hist[i]++
				}
			}

			lut := &luts[ty*tiles+tx]
			cum := 0
			for i := 0; i < 256; i++ {
				cum += hist[i]
				lut[i] = uint8(min(255, cum*255/area))
			}
		}
	}

	dst := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		fy := (float64(y) - float64(th)/2) / float64(th)
		ty0 := int(math.Floor(fy))
		wy := fy - float64(ty0)
		ty1 := ty0 + 1
		ty0 = clampInt(ty0, 0, tiles-1)
		ty1 = clampInt(ty1, 0, tiles-1)

		row := y * src.Stride
		for x := 0; x < w; x++ {
			fx := (float64(x) - float64(tw)/2) / float64(tw)
			tx0 := int(math.Floor(fx))
			wx := fx - float64(tx0)
			tx1 := tx0 + 1
			tx0 = clampInt(tx0, 0, tiles-1)
			tx1 = clampInt(tx1, 0, tiles-1)

			v := src.Pix[row+x]
			v00 := float64(luts[ty0*tiles+tx0][v])
			v01 := float64(luts[ty0*tiles+tx1][v])
			v10 := float64(luts[ty1*tiles+tx0][v])
			v11 := float64(luts[ty1*tiles+tx1][v])
			top := v00*(1-wx) + v01*wx
			bot := v10*(1-wx) + v11*wx
			dst.Pix[y*dst.Stride+x] = uint8(top*(1-wy) + bot*wy + 0.5)
		}
	}
	return dst
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// gaussianBlur applies a separable Gaussian filter with edge replication.
func gaussianBlur(src *image.Gray, ksize int, sigma float64) *image.Gray {
	w, h := src.Bounds().Dx(), src.Bounds().Dy()
	half := ksize / 2
	kernel := make([]float64, ksize)
	sum := 0.0
	for i := range kernel {
		d := float64(i - half)
		kernel[i] = math.Exp(-d * d / (2 * sigma * sigma))
		sum += kernel[i]
	}
	for i := range kernel {
		kernel[i] /= sum
	}

	tmp := make([]float64, w*h)
	for y := 0; y < h; y++ {
		row := y * src.Stride
		for x := 0; x < w; x++ {
			acc := 0.0
			for i := range kernel {
				xi := clampInt(x+i-half, 0, w-1)
				acc += kernel[i] * float64(src.Pix[row+xi])
			}
			tmp[y*w+x] = acc
		}
	}
	dst := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			acc := 0.0
			for i := range kernel {
				yi := clampInt(y+i-half, 0, h-1)
				acc += kernel[i] * tmp[yi*w+x]
			}
			dst.Pix[y*dst.Stride+x] = uint8(acc + 0.5)
		}
	}
	return dst
}

// otsuThreshold picks the global threshold that maximizes between-class
// variance.
func otsuThreshold(src *image.Gray) uint8 {
	var hist [256]int
	w, h := src.Bounds().Dx(), src.Bounds().Dy()
	for y := 0; y < h; y++ {
		row := y * src.Stride
		for x := 0; x < w; x++ {
			hist[src.Pix[row+x]]++
		}
	}
	total := w * h
	sumAll := 0.0
	for i, n := range hist {
		sumAll += float64(i) * float64(n)
	}

	best, bestVar := 127, -1.0
	wB, sumB := 0, 0.0
	for t := 0; t < 256; t++ {
		wB += hist[t]
		if wB == 0 {
			continue
		}
		wF := total - wB
		if wF == 0 {
			break
		}
		sumB += float64(t) * float64(hist[t])
		mB := sumB / float64(wB)
		mF := (sumAll - sumB) / float64(wF)
		between := float64(wB) * float64(wF) * (mB - mF) * (mB - mF)
		if between > bestVar {
			bestVar = between
			best = t
		}
	}
	return uint8(best)
}

// thresholdBinary maps intensities above t to white and the rest to black.
func thresholdBinary(src *image.Gray, t uint8) *image.Gray {
	dst := image.NewGray(src.Bounds())
	for i, v := range src.Pix {
		if v > t {
			dst.Pix[i] = white
		}
	}
	return dst
}

// adaptiveThreshold compares each pixel against a Gaussian-weighted local
// mean minus a small constant, which keeps the pattern separable under
// gradients of illumination that defeat a single global threshold.
func adaptiveThreshold(src *image.Gray, block int, c int) *image.Gray {
	sigma := 0.3*(float64(block-1)*0.5-1) + 0.8
	mean := gaussianBlur(src, block, sigma)
	dst := image.NewGray(src.Bounds())
	for i, v := range src.Pix {
		if int(v) > int(mean.Pix[i])-c {
			dst.Pix[i] = white
		}
	}
	return dst
}

// bilinear reads an intensity with sub-pixel accuracy. Coordinates are
// clamped to the image rectangle.
func bilinear(img *image.Gray, x, y float64) float64 {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	x1 := clampInt(int(x), 0, w-1)
	y1 := clampInt(int(y), 0, h-1)
	x2 := min(x1+1, w-1)
	y2 := min(y1+1, h-1)
	dx := x - float64(x1)
	dy := y - float64(y1)

	v11 := float64(img.Pix[y1*img.Stride+x1])
	v12 := float64(img.Pix[y1*img.Stride+x2])
	v21 := float64(img.Pix[y2*img.Stride+x1])
	v22 := float64(img.Pix[y2*img.Stride+x2])
	return v11*(1-dx)*(1-dy) + v12*dx*(1-dy) + v21*(1-dx)*dy + v22*dx*dy
}

// localAverage is the mean intensity in a square window around (x, y),
// truncated at the image border.
func localAverage(img *image.Gray, x, y, radius int) float64 {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	x0, x1 := max(x-radius, 0), min(x+radius, w-1)
	y0, y1 := max(y-radius, 0), min(y+radius, h-1)
	sum, n := 0, 0
	for yy := y0; yy <= y1; yy++ {
		row := yy * img.Stride
		for xx := x0; xx <= x1; xx++ {
			sum += int(img.Pix[row+xx])
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return float64(sum) / float64(n)
}

// centralGradient is the finite-difference gradient at an integer pixel.
func centralGradient(img *image.Gray, x, y int) (float64, float64) {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	if x <= 0 || y <= 0 || x >= w-1 || y >= h-1 {
		return 0, 0
	}
	gx := float64(img.Pix[y*img.Stride+x+1]) - float64(img.Pix[y*img.Stride+x-1])
	gy := float64(img.Pix[(y+1)*img.Stride+x]) - float64(img.Pix[(y-1)*img.Stride+x])
	return gx, gy
}
