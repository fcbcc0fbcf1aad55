package mask

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync/atomic"
)

var (
	// ErrNotFound is returned when a mask or sub-mask id does not resolve.
	ErrNotFound = errors.New("mask: not found")
	// ErrAiMaskExists guards an already generated subject mask against an
	// unconfirmed overwrite.
	ErrAiMaskExists = errors.New("mask: ai subject mask already generated")
	// ErrWrongType is returned when an operation does not apply to the
	// sub-mask's type.
	ErrWrongType = errors.New("mask: operation does not apply to sub-mask type")
	// ErrEmptyStroke rejects strokes without points.
	ErrEmptyStroke = errors.New("mask: stroke has no points")
)

// StrokeCounter hands out stroke orders. Orders only grow; after loading a
// document call Observe with its MaxStrokeOrder so new strokes sort last.
type StrokeCounter struct {
	n atomic.Int64
}

// Next returns the next order.
func (c *StrokeCounter) Next() int64 { return c.n.Add(1) }

// Observe raises the counter to at least n.
func (c *StrokeCounter) Observe(n int64) {
	for {
		cur := c.n.Load()
		if n <= cur || c.n.CompareAndSwap(cur, n) {
			return
		}
	}
}

// Current returns the last order handed out or observed.
func (c *StrokeCounter) Current() int64 { return c.n.Load() }

// Handle names a draggable control point.
type Handle int

const (
	RadialCenter Handle = iota
	LinearStart
	LinearEnd
)

func (h Handle) String() string {
	switch h {
	case RadialCenter:
		return "radial-center"
	case LinearStart:
		return "linear-start"
	case LinearEnd:
		return "linear-end"
	}
	return fmt.Sprintf("handle(%d)", int(h))
}

// Clone returns a deep copy of s.
func (s EditState) Clone() EditState {
	out := EditState{Adjustments: s.Adjustments.Clone()}
	if s.Masks != nil {
		out.Masks = make([]Mask, len(s.Masks))
		for i, m := range s.Masks {
			out.Masks[i] = m.Clone()
		}
	}
	return out
}

// Clone returns a deep copy of m.
func (m Mask) Clone() Mask {
	m.Adjustments = m.Adjustments.Clone()
	if m.SubMasks != nil {
		subs := make([]SubMask, len(m.SubMasks))
		for i, s := range m.SubMasks {
			subs[i] = s.Clone()
		}
		m.SubMasks = subs
	}
	return m
}

// Clone returns a deep copy of s.
func (s SubMask) Clone() SubMask {
	if s.Lines != nil {
		lines := make([]Stroke, len(s.Lines))
		for i, l := range s.Lines {
			l.Points = append([]Point(nil), l.Points...)
			lines[i] = l
		}
		s.Lines = lines
	}
	return s
}

// Mask returns the mask with the given id.
func (s EditState) Mask(id string) (Mask, bool) {
	if i := s.maskIndex(id); i >= 0 {
		return s.Masks[i], true
	}
	return Mask{}, false
}

func (s EditState) maskIndex(id string) int {
	for i, m := range s.Masks {
		if m.ID == id {
			return i
		}
	}
	return -1
}

func (m Mask) subIndex(id string) int {
	for i, s := range m.SubMasks {
		if s.ID == id {
			return i
		}
	}
	return -1
}

// SubMask returns the sub-mask with the given id.
func (m Mask) SubMask(id string) (SubMask, bool) {
	if i := m.subIndex(id); i >= 0 {
		return m.SubMasks[i], true
	}
	return SubMask{}, false
}

// withMasks returns s sharing adjustments but owning a fresh mask slice.
func (s EditState) withMasks(masks []Mask) EditState {
	return EditState{Adjustments: s.Adjustments, Masks: masks}
}

// WithAdjustments replaces the global bundle.
func (s EditState) WithAdjustments(a Adjustments) EditState {
	out := s.withMasks(s.Masks)
	out.Adjustments = a.Clone()
	return out
}

// WithMask appends m.
func (s EditState) WithMask(m Mask) EditState {
	masks := make([]Mask, 0, len(s.Masks)+1)
	masks = append(masks, s.Masks...)
	masks = append(masks, m.Clone())
	return s.withMasks(masks)
}

// UpdateMask applies fn to a private copy of the mask with the given id.
func (s EditState) UpdateMask(id string, fn func(*Mask)) (EditState, error) {
	i := s.maskIndex(id)
	if i < 0 {
		return s, fmt.Errorf("update mask %q: %w", id, ErrNotFound)
	}
	masks := append([]Mask(nil), s.Masks...)
	m := masks[i].Clone()
	fn(&m)
	m.Opacity = ClampOpacity(m.Opacity)
	masks[i] = m
	return s.withMasks(masks), nil
}

// RemoveMask drops the mask with the given id.
func (s EditState) RemoveMask(id string) (EditState, error) {
	i := s.maskIndex(id)
	if i < 0 {
		return s, fmt.Errorf("remove mask %q: %w", id, ErrNotFound)
	}
	masks := make([]Mask, 0, len(s.Masks)-1)
	masks = append(masks, s.Masks[:i]...)
	masks = append(masks, s.Masks[i+1:]...)
	if len(masks) == 0 {
		masks = nil
	}
	return s.withMasks(masks), nil
}

// MoveMask shifts mask id by delta positions in the stack, stopping at
// either end. Later masks composite on top of earlier ones.
func (s EditState) MoveMask(id string, delta int) (EditState, error) {
	i := s.maskIndex(id)
	if i < 0 {
		return s, fmt.Errorf("move mask %q: %w", id, ErrNotFound)
	}
	to := min(max(i+delta, 0), len(s.Masks)-1)
	if to == i {
		return s, nil
	}
	masks := slices.Clone(s.Masks)
	m := masks[i]
	masks = slices.Delete(masks, i, i+1)
	masks = slices.Insert(masks, to, m)
	return s.withMasks(masks), nil
}

// DuplicateMask inserts a copy of the mask right after it and returns the
// copy's id. The copy and its sub-masks get fresh ids; its name gains
// " Copy" (or " 2" when the name already ends in " Copy"). With invert the
// copy's invert flag is toggled.
func (s EditState) DuplicateMask(id string, invert bool) (EditState, string, error) {
	i := s.maskIndex(id)
	if i < 0 {
		return s, "", fmt.Errorf("duplicate mask %q: %w", id, ErrNotFound)
	}
	dup := s.Masks[i].Clone()
	dup.ID = newID()
	if strings.HasSuffix(dup.Name, " Copy") {
		dup.Name += " 2"
	} else {
		dup.Name += " Copy"
	}
	if invert {
		dup.Invert = !dup.Invert
	}
	for j := range dup.SubMasks {
		dup.SubMasks[j].ID = newID()
	}
	masks := make([]Mask, 0, len(s.Masks)+1)
	masks = append(masks, s.Masks[:i+1]...)
	masks = append(masks, dup)
	masks = append(masks, s.Masks[i+1:]...)
	return s.withMasks(masks), dup.ID, nil
}

// AddSubMask appends sub to the mask with the given id.
func (s EditState) AddSubMask(maskID string, sub SubMask) (EditState, error) {
	return s.UpdateMask(maskID, func(m *Mask) {
		m.SubMasks = append(m.SubMasks, sub.Clone())
	})
}

// UpdateSubMask applies fn to a private copy of the addressed sub-mask.
func (s EditState) UpdateSubMask(maskID, subID string, fn func(*SubMask) error) (EditState, error) {
	i := s.maskIndex(maskID)
	if i < 0 {
		return s, fmt.Errorf("update sub-mask %q: mask %q: %w", subID, maskID, ErrNotFound)
	}
	j := s.Masks[i].subIndex(subID)
	if j < 0 {
		return s, fmt.Errorf("update sub-mask %q: %w", subID, ErrNotFound)
	}
	m := s.Masks[i].Clone()
	if err := fn(&m.SubMasks[j]); err != nil {
		return s, err
	}
	masks := append([]Mask(nil), s.Masks...)
	masks[i] = m
	return s.withMasks(masks), nil
}

// RemoveSubMask drops the addressed sub-mask.
func (s EditState) RemoveSubMask(maskID, subID string) (EditState, error) {
	i := s.maskIndex(maskID)
	if i < 0 {
		return s, fmt.Errorf("remove sub-mask %q: mask %q: %w", subID, maskID, ErrNotFound)
	}
	j := s.Masks[i].subIndex(subID)
	if j < 0 {
		return s, fmt.Errorf("remove sub-mask %q: %w", subID, ErrNotFound)
	}
	return s.UpdateMask(maskID, func(m *Mask) {
		subs := make([]SubMask, 0, len(m.SubMasks)-1)
		subs = append(subs, m.SubMasks[:j]...)
		subs = append(subs, m.SubMasks[j+1:]...)
		if len(subs) == 0 {
			subs = nil
		}
		m.SubMasks = subs
	})
}

// AppendStroke adds st to a brush sub-mask. When c is non-nil the stroke's
// Order is taken from it.
func (s EditState) AppendStroke(maskID, subID string, st Stroke, c *StrokeCounter) (EditState, error) {
	if len(st.Points) == 0 {
		return s, ErrEmptyStroke
	}
	return s.UpdateSubMask(maskID, subID, func(sub *SubMask) error {
		if sub.Type != TypeBrush {
			return fmt.Errorf("append stroke to %s sub-mask: %w", sub.Type, ErrWrongType)
		}
		if st.Tool == "" {
			st.Tool = ToolBrush
		}
		if c != nil {
			st.Order = c.Next()
		}
		st.Points = append([]Point(nil), st.Points...)
		sub.Lines = append(sub.Lines, st)
		return nil
	})
}

// MoveHandle moves a control point of a radial or linear sub-mask to p.
func (s EditState) MoveHandle(maskID, subID string, h Handle, p Point) (EditState, error) {
	return s.UpdateSubMask(maskID, subID, func(sub *SubMask) error {
		switch {
		case h == RadialCenter && sub.Type == TypeRadial:
			sub.Radial.CenterX, sub.Radial.CenterY = p.X, p.Y
		case h == LinearStart && sub.Type == TypeLinear:
			sub.Linear.StartX, sub.Linear.StartY = p.X, p.Y
		case h == LinearEnd && sub.Type == TypeLinear:
			sub.Linear.EndX, sub.Linear.EndY = p.X, p.Y
		default:
			return fmt.Errorf("move %s on %s sub-mask: %w", h, sub.Type, ErrWrongType)
		}
		return nil
	})
}

// SetAiSubjectData stores a generated subject mask. An existing payload is
// only replaced when overwrite is set; otherwise ErrAiMaskExists is returned
// and s is unchanged.
func (s EditState) SetAiSubjectData(maskID, subID, dataURL string, overwrite bool) (EditState, error) {
	return s.UpdateSubMask(maskID, subID, func(sub *SubMask) error {
		if sub.Type != TypeAiSubject {
			return fmt.Errorf("set subject data on %s sub-mask: %w", sub.Type, ErrWrongType)
		}
		if sub.AiSubject.MaskDataURL != "" && !overwrite {
			return ErrAiMaskExists
		}
		sub.AiSubject.MaskDataURL = dataURL
		return nil
	})
}

// MaxStrokeOrder returns the highest stroke order anywhere in s, or 0.
func (s EditState) MaxStrokeOrder() int64 {
	var top int64
	for _, m := range s.Masks {
		for _, sub := range m.SubMasks {
			for _, l := range sub.Lines {
				if l.Order > top {
					top = l.Order
				}
			}
		}
	}
	return top
}
