// Package maskraster turns masks into per-pixel selection buffers and renders
// the tinted overlay shown while a mask is being edited.
//
// Every function here is pure: contributors allocate their own buffers and
// never write into shared state, so sub-masks can be rasterized in parallel.
package maskraster

import (
	"image"
	"image/color"
	"math"
)

// Buffer is a single channel 0..255 raster.
type Buffer struct {
	Width  int
	Height int
	Pix    []uint8
}

// NewBuffer returns a zeroed buffer. Sizes below 1 are raised to 1.
func NewBuffer(w, h int) *Buffer {
	w, h = max(w, 1), max(h, 1)
	return &Buffer{Width: w, Height: h, Pix: make([]uint8, w*h)}
}

// At returns the value at (x,y), or 0 outside the buffer.
func (b *Buffer) At(x, y int) uint8 {
	if x < 0 || y < 0 || x >= b.Width || y >= b.Height {
		return 0
	}
	return b.Pix[y*b.Width+x]
}

// Set writes v at (x,y); out of range writes are ignored.
func (b *Buffer) Set(x, y int, v uint8) {
	if x < 0 || y < 0 || x >= b.Width || y >= b.Height {
		return
	}
	b.Pix[y*b.Width+x] = v
}

// Clone returns a copy of b.
func (b *Buffer) Clone() *Buffer {
	if b == nil {
		return nil
	}
	out := &Buffer{Width: b.Width, Height: b.Height, Pix: make([]uint8, len(b.Pix))}
	copy(out.Pix, b.Pix)
	return out
}

// Empty reports whether every pixel is 0.
func (b *Buffer) Empty() bool {
	for _, v := range b.Pix {
		if v != 0 {
			return false
		}
	}
	return true
}

// Gray returns b as an *image.Gray sharing no memory with b.
func (b *Buffer) Gray() *image.Gray {
	g := image.NewGray(image.Rect(0, 0, b.Width, b.Height))
	copy(g.Pix, b.Pix)
	return g
}

// BufferFromGray copies a gray image into a new buffer.
func BufferFromGray(g *image.Gray) *Buffer {
	r := g.Bounds()
	out := NewBuffer(r.Dx(), r.Dy())
	for y := 0; y < r.Dy(); y++ {
		copy(out.Pix[y*out.Width:(y+1)*out.Width], g.Pix[g.PixOffset(r.Min.X, r.Min.Y+y):])
	}
	return out
}

// RedChannel reads the red channel of any image into a buffer.
func RedChannel(img image.Image) *Buffer {
	r := img.Bounds()
	out := NewBuffer(r.Dx(), r.Dy())
	switch src := img.(type) {
	case *image.Gray:
		return BufferFromGray(src)
	case *image.NRGBA:
		for y := 0; y < r.Dy(); y++ {
			i := src.PixOffset(r.Min.X, r.Min.Y+y)
			row := out.Pix[y*out.Width:]
			for x := 0; x < r.Dx(); x++ {
				row[x] = src.Pix[i+x*4]
			}
		}
		return out
	}
	for y := 0; y < r.Dy(); y++ {
		for x := 0; x < r.Dx(); x++ {
			c := color.NRGBAModel.Convert(img.At(r.Min.X+x, r.Min.Y+y)).(color.NRGBA)
			out.Pix[y*out.Width+x] = c.R
		}
	}
	return out
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

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// toUint8 maps a 0..1 intensity to 0..255 with rounding.
func toUint8(v float64) uint8 {
	return uint8(math.Round(clamp01(v) * 255))
}
