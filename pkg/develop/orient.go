package develop

import "image"

// orient applies an EXIF orientation (1..8) to src. Orientations 5 to 8
// swap width and height. Unknown values return src unchanged.
func orient(src *image.NRGBA, o int) *image.NRGBA {
	if o <= 1 || o > 8 {
		return src
	}
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	dw, dh := w, h
	if o >= 5 {
		dw, dh = h, w
	}
	// dest maps a source pixel to its place in the output.
	var dest func(x, y int) (int, int)
	switch o {
	case 2:
		dest = func(x, y int) (int, int) { return w - 1 - x, y }
	case 3:
		dest = func(x, y int) (int, int) { return w - 1 - x, h - 1 - y }
	case 4:
		dest = func(x, y int) (int, int) { return x, h - 1 - y }
	case 5:
		dest = func(x, y int) (int, int) { return y, x }
	case 6:
		dest = func(x, y int) (int, int) { return h - 1 - y, x }
	case 7:
		dest = func(x, y int) (int, int) { return h - 1 - y, w - 1 - x }
	case 8:
		dest = func(x, y int) (int, int) { return y, w - 1 - x }
	}
	out := image.NewNRGBA(image.Rect(0, 0, dw, dh))
	for y := range h {
		for x := range w {
			dx, dy := dest(x, y)
			si := src.PixOffset(b.Min.X+x, b.Min.Y+y)
			di := out.PixOffset(dx, dy)
			copy(out.Pix[di:di+4], src.Pix[si:si+4])
		}
	}
	return out
}
