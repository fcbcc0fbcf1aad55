package segment

import (
	"image"
	"image/color"
	"math"

	"golang.org/x/image/draw"
	"golang.org/x/image/vector"

	"github.com/Fepozopo/maskedit/pkg/mask"
	"github.com/Fepozopo/maskedit/pkg/maskraster"
)

// ImageNet statistics the model was trained with, RGB order.
var (
	mean = [3]float32{0.485, 0.456, 0.406}
	std  = [3]float32{0.229, 0.224, 0.225}
)

const (
	// DefaultPadding is the share of the lasso's span added around it.
	DefaultPadding = 0.08
	minPadding     = 0.02
)

// CropRect returns the pixel rectangle of a w x h preview the model sees for
// a lasso: its bounding box grown by max(0.02, span*padding) on each axis,
// clamped to the image and at least 1x1.
func CropRect(lasso []mask.Point, w, h int, padding float64) image.Rectangle {
	w, h = max(w, 1), max(h, 1)
	if len(lasso) == 0 {
		return image.Rect(0, 0, w, h)
	}
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, p := range lasso {
		minX, maxX = min(minX, p.X), max(maxX, p.X)
		minY, maxY = min(minY, p.Y), max(maxY, p.Y)
	}
	minX, maxX = clamp01(minX), clamp01(maxX)
	minY, maxY = clamp01(minY), clamp01(maxY)
	padX := max((maxX-minX)*padding, minPadding)
	padY := max((maxY-minY)*padding, minPadding)

	edge := func(v float64, size int) int {
		return clampInt(int(math.Round(v*float64(size-1))), 0, size-1)
	}
	left, top := edge(minX-padX, w), edge(minY-padY, h)
	right, bottom := edge(maxX+padX, w), edge(maxY+padY, h)
	return image.Rect(left, top, max(right, left+1), max(bottom, top+1))
}

// letterbox scales src to fit a size x size black square preserving aspect
// ratio, centred. It returns the square and where src landed inside it.
func letterbox(src image.Image, size int) (*image.NRGBA, image.Rectangle) {
	b := src.Bounds()
	sw, sh := max(b.Dx(), 1), max(b.Dy(), 1)
	scale := float64(size) / float64(max(sw, sh))
	rw := clampInt(int(math.Round(float64(sw)*scale)), 1, size)
	rh := clampInt(int(math.Round(float64(sh)*scale)), 1, size)
	px, py := (size-rw)/2, (size-rh)/2

	square := image.NewNRGBA(image.Rect(0, 0, size, size))
	draw.Draw(square, square.Bounds(), image.NewUniform(color.Black), image.Point{}, draw.Src)
	placed := image.Rect(px, py, px+rw, py+rh)
	draw.BiLinear.Scale(square, placed, src, b, draw.Src, nil)
	return square, placed
}

// tensorCHW lays the square out as a 1x3xSxS normalized float tensor.
func tensorCHW(square *image.NRGBA) []float32 {
	size := square.Bounds().Dx()
	plane := size * size
	out := make([]float32, 3*plane)
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			o := square.PixOffset(x, y)
			i := y*size + x
			for c := 0; c < 3; c++ {
				v := float32(square.Pix[o+c]) / 255
				out[c*plane+i] = (v - mean[c]) / std[c]
			}
		}
	}
	return out
}

// normalize min-max scales the first size*size values to 0..255.
func normalize(out []float32, size int) *maskraster.Buffer {
	n := size * size
	lo, hi := float32(math.Inf(1)), float32(math.Inf(-1))
	for _, v := range out[:n] {
		lo, hi = min(lo, v), max(hi, v)
	}
	span := hi - lo
	if span <= 1e-6 {
		span = 1
	}
	b := maskraster.NewBuffer(size, size)
	for i, v := range out[:n] {
		b.Pix[i] = uint8(clampInt(int(math.Round(float64((v-lo)/span*255))), 0, 255))
	}
	return b
}

// scaleGray bilinearly resizes a buffer.
func scaleGray(src *maskraster.Buffer, r image.Rectangle, w, h int) *maskraster.Buffer {
	dst := image.NewGray(image.Rect(0, 0, w, h))
	draw.BiLinear.Scale(dst, dst.Bounds(), src.Gray(), r, draw.Src, nil)
	return maskraster.BufferFromGray(dst)
}

// lassoMask fills the lasso polygon at crop resolution. Any coverage counts
// as inside.
func lassoMask(lasso []mask.Point, crop image.Rectangle, w, h int) *maskraster.Buffer {
	cw, ch := crop.Dx(), crop.Dy()
	mx, my := float32(max(w-1, 1)), float32(max(h-1, 1))
	ox, oy := float32(crop.Min.X), float32(crop.Min.Y)

	z := vector.NewRasterizer(cw, ch)
	z.DrawOp = draw.Src
	for i, p := range lasso {
		x, y := float32(p.X)*mx-ox, float32(p.Y)*my-oy
		if i == 0 {
			z.MoveTo(x, y)
		} else {
			z.LineTo(x, y)
		}
	}
	z.ClosePath()
	cov := image.NewAlpha(image.Rect(0, 0, cw, ch))
	z.Draw(cov, cov.Bounds(), image.Opaque, image.Point{})

	out := maskraster.NewBuffer(cw, ch)
	for i, a := range cov.Pix {
		if a != 0 {
			out.Pix[i] = 255
		}
	}
	return out
}

func clamp01(v float64) float64 {
	return min(max(v, 0), 1)
}

func clampInt(v, lo, hi int) int {
	return min(max(v, lo), hi)
}
