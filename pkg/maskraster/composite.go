package maskraster

import (
	"cmp"
	"math"
	"runtime"
	"slices"
	"sync"

	"github.com/Fepozopo/maskedit/pkg/logging"
	"github.com/Fepozopo/maskedit/pkg/mask"
)

// blendAdditive is the screen union of coverage c and intensity i.
func blendAdditive(c, i uint8) uint8 {
	cf, f := float64(c)/255, float64(i)/255
	return toUint8(1 - (1-cf)*(1-f))
}

// blendSubtractive punches a hole of depth i into c.
func blendSubtractive(c, i uint8) uint8 {
	return toUint8(float64(c) / 255 * (1 - float64(i)/255))
}

func blendFor(m mask.Mode) func(c, i uint8) uint8 {
	if m == mask.Subtractive {
		return blendSubtractive
	}
	return blendAdditive
}

// contribution is one rasterizer call and how its result folds in. render
// returns nil when the contributor paints nothing.
type contribution struct {
	mode   mask.Mode
	render func() *region
}

func whole(b *Buffer) *region {
	if b == nil {
		return nil
	}
	return &region{Buffer: b}
}

type strokeEvent struct {
	order  int64
	mode   mask.Mode
	stroke mask.Stroke
}

// contributions lists the visible contributors of m in fold order: every
// brush stroke by global stroke order (erasers subtract), then linear and
// radial sub-masks in slice order, then subject masks in slice order.
func contributions(m mask.Mask, w, h int) []contribution {
	sp := newSpace(w, h)
	var events []strokeEvent
	for _, sub := range m.SubMasks {
		if !sub.Visible || sub.Type != mask.TypeBrush {
			continue
		}
		for _, l := range sub.Lines {
			mode := sub.Mode
			if l.Tool == mask.ToolEraser {
				mode = mask.Subtractive
			}
			events = append(events, strokeEvent{order: l.Order, mode: mode, stroke: l})
		}
	}
	slices.SortStableFunc(events, func(a, b strokeEvent) int { return cmp.Compare(a.order, b.order) })

	out := make([]contribution, 0, len(events)+len(m.SubMasks))
	for _, e := range events {
		st := e.stroke
		out = append(out, contribution{mode: e.mode, render: func() *region { return rasterizeStrokeRegion(st, sp) }})
	}
	for _, sub := range m.SubMasks {
		if !sub.Visible {
			continue
		}
		switch sub.Type {
		case mask.TypeLinear:
			p := sub.Linear
			out = append(out, contribution{mode: sub.Mode, render: func() *region { return whole(RasterizeLinear(p, w, h)) }})
		case mask.TypeRadial:
			p := sub.Radial
			out = append(out, contribution{mode: sub.Mode, render: func() *region { return whole(RasterizeRadial(p, w, h)) }})
		}
	}
	for _, sub := range m.SubMasks {
		if !sub.Visible || sub.Type != mask.TypeAiSubject {
			continue
		}
		p, id := sub.AiSubject, sub.ID
		out = append(out, contribution{mode: sub.Mode, render: func() *region {
			b, err := rasterizeAiSubject(p, w, h)
			if err != nil {
				logging.Logger().Warn("subject mask skipped", "subMask", id, "err", err)
				return nil
			}
			return whole(b)
		}})
	}
	return out
}

// Composite folds every visible sub-mask of m into one selection buffer of
// size w x h. Contributors are rasterized concurrently, at most one batch of
// GOMAXPROCS at a time, and each batch is folded in order before the next
// starts. Brush strokes only allocate their bounding box. Pixels where a
// contributor is 0 are left untouched.
func Composite(m mask.Mask, w, h int) *Buffer {
	acc := NewBuffer(w, h)
	parts := contributions(m, acc.Width, acc.Height)
	batch := max(runtime.GOMAXPROCS(0), 1)
	results := make([]*region, batch)

	for start := 0; start < len(parts); start += batch {
		chunk := parts[start:min(start+batch, len(parts))]
		if len(chunk) == 1 {
			results[0] = chunk[0].render()
		} else {
			var wg sync.WaitGroup
			for i, p := range chunk {
				wg.Add(1)
				go func() {
					defer wg.Done()
					results[i] = p.render()
				}()
			}
			wg.Wait()
		}
		for i, p := range chunk {
			if r := results[i]; r != nil {
				r.foldInto(acc, blendFor(p.mode))
			}
			results[i] = nil
		}
	}
	return acc
}

// Effective applies the mask's invert flag and opacity to a selection,
// giving the per-pixel weight its adjustments are applied with.
func Effective(m mask.Mask, sel *Buffer) *Buffer {
	out := sel.Clone()
	op := mask.ClampOpacity(m.Opacity) / 100
	for i, v := range out.Pix {
		if m.Invert {
			v = 255 - v
		}
		out.Pix[i] = uint8(math.Round(float64(v) * op))
	}
	return out
}
