package maskraster

import (
	"math"

	"github.com/Fepozopo/maskedit/pkg/mask"
)

// RasterizeLinear renders a linear gradient: 255 well on one side of the line
// through start and end, 0 on the other, with a transition of width range
// centred on the line. Walking from start to end, the bright side is on the
// left in image coordinates (y down). A degenerate direction or a
// non-positive range renders nothing.
func RasterizeLinear(p mask.LinearParams, w, h int) *Buffer {
	sp := newSpace(w, h)
	buf := NewBuffer(sp.w, sp.h)
	if p.Range <= 0 {
		return buf
	}
	sx, sy := sp.x(p.StartX), sp.y(p.StartY)
	ex, ey := sp.x(p.EndX), sp.y(p.EndY)
	rangePx := max(sp.length(p.Range), 0.01)
	vx, vy := ex-sx, ey-sy
	l := math.Hypot(vx, vy)
	if l <= 0.01 {
		return buf
	}
	nx, ny := vy/l, -vx/l
	for y := 0; y < sp.h; y++ {
		py := float64(y) + 0.5 - sy
		row := buf.Pix[y*sp.w:]
		for x := 0; x < sp.w; x++ {
			d := (float64(x)+0.5-sx)*nx + py*ny
			row[x] = toUint8(0.5 - d/rangePx*0.5)
		}
	}
	return buf
}

// RasterizeRadial renders an elliptical gradient, solid inside 1-feather of
// the normalized radius and fading to 0 at the ellipse edge. Rotation is in
// degrees. A non-positive radius renders nothing.
func RasterizeRadial(p mask.RadialParams, w, h int) *Buffer {
	sp := newSpace(w, h)
	buf := NewBuffer(sp.w, sp.h)
	if p.RadiusX <= 0 || p.RadiusY <= 0 {
		return buf
	}
	cx, cy := sp.x(p.CenterX), sp.y(p.CenterY)
	rx := max(sp.length(p.RadiusX), 0.01)
	ry := max(sp.length(p.RadiusY), 0.01)
	inner := clamp01(1 - clamp01(p.Feather))
	falloff := max(1-inner, 0.01)
	sin, cos := math.Sincos(p.Rotation * math.Pi / 180)
	for y := 0; y < sp.h; y++ {
		dy := float64(y) + 0.5 - cy
		row := buf.Pix[y*sp.w:]
		for x := 0; x < sp.w; x++ {
			dx := float64(x) + 0.5 - cx
			nx := (dx*cos + dy*sin) / rx
			ny := (-dx*sin + dy*cos) / ry
			rho := math.Sqrt(nx*nx + ny*ny)
			if rho <= inner {
				row[x] = 255
				continue
			}
			row[x] = toUint8(1 - (rho-inner)/falloff)
		}
	}
	return buf
}
