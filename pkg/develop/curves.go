package develop

import (
	"cmp"
	"math"
	"slices"

	"github.com/Fepozopo/maskedit/pkg/mask"
)

const maxCurvePoints = 16

type segment struct {
	p1, p2 mask.CurvePoint
	m1, m2 float64
}

// curve is a monotone cubic Hermite spline through 0..255 control points.
type curve struct {
	points   []mask.CurvePoint
	segments []segment
}

func newCurve(in []mask.CurvePoint) curve {
	pts := slices.Clone(in)
	if len(pts) < 2 {
		pts = []mask.CurvePoint{{X: 0, Y: 0}, {X: 255, Y: 255}}
	}
	slices.SortStableFunc(pts, func(a, b mask.CurvePoint) int { return cmp.Compare(a.X, b.X) })
	if len(pts) > maxCurvePoints {
		pts = pts[:maxCurvePoints]
	}

	c := curve{points: pts, segments: make([]segment, 0, len(pts)-1)}
	last := len(pts) - 1
	slope := func(a, b mask.CurvePoint) float64 { return (b.Y - a.Y) / max(b.X-a.X, 0.001) }
	for i := range last {
		p0, p1, p2, p3 := pts[max(i-1, 0)], pts[i], pts[i+1], pts[min(i+2, last)]
		before, cur, after := slope(p0, p1), slope(p1, p2), slope(p2, p3)

		m1 := cur
		if i > 0 {
			m1 = 0
			if before*cur > 0 {
				m1 = (before + cur) / 2
			}
		}
		m2 := cur
		if i+1 != last {
			m2 = 0
			if cur*after > 0 {
				m2 = (cur + after) / 2
			}
		}
		if cur != 0 {
			a, b := m1/cur, m2/cur
			if r := a*a + b*b; r > 9 {
				tau := 3 / math.Sqrt(r)
				m1 *= tau
				m2 *= tau
			}
		}
		c.segments = append(c.segments, segment{p1: p1, p2: p2, m1: m1, m2: m2})
	}
	return c
}

func (c curve) isDefault() bool {
	if len(c.points) != 2 {
		return false
	}
	return math.Abs(c.points[0].Y) < 0.1 && math.Abs(c.points[1].Y-255) < 0.1
}

// eval maps a 0..1 value through the curve.
func (c curve) eval(v float64) float64 {
	x := v * 255
	first, last := c.points[0], c.points[len(c.points)-1]
	if x <= first.X {
		return clamp01(first.Y / 255)
	}
	if x >= last.X {
		return clamp01(last.Y / 255)
	}
	for _, s := range c.segments {
		if x > s.p2.X {
			continue
		}
		dx := s.p2.X - s.p1.X
		if dx <= 0 {
			return clamp01(s.p1.Y / 255)
		}
		t := (x - s.p1.X) / dx
		t2, t3 := t*t, t*t*t
		y := (2*t3-3*t2+1)*s.p1.Y +
			(t3-2*t2+t)*s.m1*dx +
			(-2*t3+3*t2)*s.p2.Y +
			(t3-t2)*s.m2*dx
		return clamp01(y / 255)
	}
	return clamp01(last.Y / 255)
}

type curves struct {
	luma, red, green, blue curve
	rgbActive              bool
}

func newCurves(c mask.Curves) curves {
	out := curves{
		luma:  newCurve(c.Luma),
		red:   newCurve(c.Red),
		green: newCurve(c.Green),
		blue:  newCurve(c.Blue),
	}
	out.rgbActive = !out.red.isDefault() || !out.green.isDefault() || !out.blue.isDefault()
	return out
}

func (c curves) isDefault() bool { return c.luma.isDefault() && !c.rgbActive }

// apply maps an sRGB colour through the curves. With only the luma curve
// set each channel goes through it; otherwise the per-channel result is
// rescaled to the luma curve's target luminance.
func (c curves) apply(col rgb) rgb {
	if !c.rgbActive {
		return rgb{c.luma.eval(col[0]), c.luma.eval(col[1]), c.luma.eval(col[2])}
	}
	graded := rgb{c.red.eval(col[0]), c.green.eval(col[1]), c.blue.eval(col[2])}
	target := c.luma.eval(luma(col))
	var out rgb
	if gl := luma(graded); gl > 0.001 {
		for i := range graded {
			out[i] = graded[i] * target / gl
		}
	} else {
		out = rgb{target, target, target}
	}
	if top := max(out[0], out[1], out[2]); top > 1 {
		for i := range out {
			out[i] /= top
		}
	}
	return out
}
