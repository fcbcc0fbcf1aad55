package maskraster

import "github.com/Fepozopo/maskedit/pkg/mask"

// Documents store fractions of the image size, but older ones may carry
// absolute pixels. Anything above this is taken as pixels.
const normalizedLimit = 1.5

// space maps document coordinates into destination pixels.
type space struct {
	w, h    int
	baseDim float64 // shorter side, the unit for sizes
}

func newSpace(w, h int) space {
	w, h = max(w, 1), max(h, 1)
	return space{w: w, h: h, baseDim: float64(min(w, h))}
}

func denorm(v float64, size int) float64 {
	if v > normalizedLimit {
		return v
	}
	maxCoord := float64(max(size-1, 1))
	return min(max(v*maxCoord, 0), maxCoord)
}

func (s space) x(v float64) float64 { return denorm(v, s.w) }
func (s space) y(v float64) float64 { return denorm(v, s.h) }

func (s space) point(p mask.Point) (float64, float64) {
	return s.x(p.X), s.y(p.Y)
}

// length converts a size relative to the shorter side into pixels.
func (s space) length(v float64) float64 {
	if v > normalizedLimit {
		return v
	}
	return max(v*s.baseDim, 0)
}
