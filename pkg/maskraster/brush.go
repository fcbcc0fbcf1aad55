package maskraster

import (
	"math"

	"github.com/Fepozopo/maskedit/pkg/mask"
)

// stampIntensity is the coverage of one brush stamp at distance dist from its
// centre: full inside radius*(1-feather), fading linearly to 0 at radius.
func stampIntensity(dist, radius, feather float64) uint8 {
	if radius <= 0.5 {
		return 0
	}
	feather = clamp01(feather)
	if feather <= 0.0001 {
		if dist <= radius {
			return 255
		}
		return 0
	}
	inner := radius * (1 - feather)
	if dist <= inner {
		return 255
	}
	if dist >= radius {
		return 0
	}
	t := (dist - inner) / max(radius-inner, 0.001)
	return toUint8(1 - t)
}

// brushRadius gives the stamp radius in pixels for a stroke size, or 0 when
// the stroke cannot paint.
func (s space) brushRadius(size float64) float64 {
	if size <= 0 {
		return 0
	}
	return max(s.length(size)/2, 1)
}

// RasterizeStroke renders one stroke as overlapping circular stamps. Stamps
// combine additively inside the stroke; the stroke's blend mode is applied
// later by the compositor.
func RasterizeStroke(st mask.Stroke, w, h int) *Buffer {
	sp := newSpace(w, h)
	buf := NewBuffer(sp.w, sp.h)
	if r := rasterizeStrokeRegion(st, sp); r != nil {
		r.paste(buf)
	}
	return buf
}

// region is a buffer covering only part of a larger raster, with its top
// left corner at (X, Y).
type region struct {
	*Buffer
	X, Y int
}

// paste copies r into dst at its offset.
func (r region) paste(dst *Buffer) {
	for y := 0; y < r.Height; y++ {
		copy(dst.Pix[(r.Y+y)*dst.Width+r.X:], r.Pix[y*r.Width:(y+1)*r.Width])
	}
}

// foldInto blends r into acc at its offset. Pixels where r is 0 are left
// untouched.
func (r region) foldInto(acc *Buffer, blend func(c, i uint8) uint8) {
	for y := 0; y < r.Height; y++ {
		src := r.Pix[y*r.Width : (y+1)*r.Width]
		dst := acc.Pix[(r.Y+y)*acc.Width+r.X:]
		for x, v := range src {
			if v == 0 {
				continue
			}
			dst[x] = blend(dst[x], v)
		}
	}
}

// rasterizeStrokeRegion stamps st into a buffer sized to the stroke's
// bounding box. It returns nil when the stroke paints nothing.
func rasterizeStrokeRegion(st mask.Stroke, sp space) *region {
	radius := sp.brushRadius(st.BrushSize)
	if radius == 0 || len(st.Points) == 0 {
		return nil
	}
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, p := range st.Points {
		x, y := sp.point(p)
		minX, maxX = min(minX, x), max(maxX, x)
		minY, maxY = min(minY, y), max(maxY, y)
	}
	x0 := max(int(math.Floor(minX-radius-1)), 0)
	y0 := max(int(math.Floor(minY-radius-1)), 0)
	x1 := min(int(maxX+radius+1), sp.w-1)
	y1 := min(int(maxY+radius+1), sp.h-1)
	if x0 > x1 || y0 > y1 {
		return nil
	}
	r := &region{Buffer: NewBuffer(x1-x0+1, y1-y0+1), X: x0, Y: y0}
	ox, oy := float64(x0), float64(y0)

	feather := clamp01(st.Feather)
	if len(st.Points) == 1 {
		x, y := sp.point(st.Points[0])
		r.stamp(x-ox, y-oy, radius, feather)
		return r
	}
	step := max(radius*0.5, 0.75)
	for i := 1; i < len(st.Points); i++ {
		px0, py0 := sp.point(st.Points[i-1])
		px1, py1 := sp.point(st.Points[i])
		dx, dy := px1-px0, py1-py0
		dist := max(math.Hypot(dx, dy), 0.001)
		steps := max(int(math.Round(dist/step)), 1)
		for k := 0; k <= steps; k++ {
			t := float64(k) / float64(steps)
			r.stamp(px0+dx*t-ox, py0+dy*t-oy, radius, feather)
		}
	}
	return r
}

// stamp screens one circle into b.
func (b *Buffer) stamp(cx, cy, radius, feather float64) {
	x0 := max(int(cx-radius-1), 0)
	y0 := max(int(cy-radius-1), 0)
	x1 := min(int(cx+radius+1), b.Width-1)
	y1 := min(int(cy+radius+1), b.Height-1)
	for y := y0; y <= y1; y++ {
		dy := float64(y) + 0.5 - cy
		row := b.Pix[y*b.Width:]
		for x := x0; x <= x1; x++ {
			dx := float64(x) + 0.5 - cx
			i := stampIntensity(math.Sqrt(dx*dx+dy*dy), radius, feather)
			if i == 0 {
				continue
			}
			row[x] = blendAdditive(row[x], i)
		}
	}
}
