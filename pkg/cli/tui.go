package cli

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"

	"github.com/gdamore/tcell/v2"
	"golang.org/x/image/draw"

	"github.com/Fepozopo/maskedit/pkg/histogram"
	"github.com/Fepozopo/maskedit/pkg/mask"
	"github.com/Fepozopo/maskedit/pkg/render"
)

const panelWidth = 36

// stateEditor is the part of an open document the slider editor drives.
type stateEditor interface {
	State() mask.EditState
	Update(fn func(mask.EditState) (mask.EditState, error)) error
}

// tui is a full screen editor: a slider list on the left and the latest
// frame drawn with half-block cells on the right.
type tui struct {
	doc     stateEditor
	sel     int // index into Fields
	target  int // 0 is global, i is mask i-1
	overlay bool
	histo   bool
	status  string

	frame     image.Image
	scaled    *image.NRGBA
	scaledFor image.Point
	hist      *histogram.Data
}

func (t *tui) currentMask() (mask.Mask, bool) {
	s := t.doc.State()
	if t.target < 1 || t.target > len(s.Masks) {
		t.target = 0
		return mask.Mask{}, false
	}
	return s.Masks[t.target-1], true
}

func (t *tui) adjustments() mask.Adjustments {
	if m, ok := t.currentMask(); ok {
		return m.Adjustments
	}
	return t.doc.State().Adjustments
}

// step is one hundredth of a field's span, so ±100 sliders move by 2.
func step(f Field) float64 { return (f.Max - f.Min) / 100 }

func (t *tui) update(fn func(*mask.Adjustments)) {
	m, onMask := t.currentMask()
	err := t.doc.Update(func(s mask.EditState) (mask.EditState, error) {
		if !onMask {
			adj := s.Adjustments.Clone()
			fn(&adj)
			return s.WithAdjustments(adj), nil
		}
		return s.UpdateMask(m.ID, func(m *mask.Mask) { fn(&m.Adjustments) })
	})
	if err != nil {
		t.status = err.Error()
	}
}

func (t *tui) nudge(steps float64) {
	f := Fields[t.sel]
	t.update(func(a *mask.Adjustments) {
		v := min(max(f.Get(*a)+steps*step(f), f.Min), f.Max)
		f.Set(a, v)
	})
}

func (t *tui) toggleMask(fn func(*mask.Mask)) {
	m, ok := t.currentMask()
	if !ok {
		t.status = "no mask selected"
		return
	}
	err := t.doc.Update(func(s mask.EditState) (mask.EditState, error) {
		return s.UpdateMask(m.ID, fn)
	})
	if err != nil {
		t.status = err.Error()
	}
}

// handleKey applies one key press and reports whether the editor should quit.
func (t *tui) handleKey(ev *tcell.EventKey) bool {
	t.status = ""
	switch ev.Key() {
	case tcell.KeyEscape, tcell.KeyCtrlC:
		return true
	case tcell.KeyUp:
		t.sel = (t.sel + len(Fields) - 1) % len(Fields)
	case tcell.KeyDown:
		t.sel = (t.sel + 1) % len(Fields)
	case tcell.KeyLeft:
		t.nudge(-1)
	case tcell.KeyRight:
		t.nudge(1)
	case tcell.KeyPgDn:
		t.nudge(-10)
	case tcell.KeyPgUp:
		t.nudge(10)
	case tcell.KeyTab:
		t.target = (t.target + 1) % (len(t.doc.State().Masks) + 1)
	case tcell.KeyRune:
		switch ev.Rune() {
		case 'q':
			return true
		case 'k':
			t.sel = (t.sel + len(Fields) - 1) % len(Fields)
		case 'j':
			t.sel = (t.sel + 1) % len(Fields)
		case 'h':
			t.nudge(-1)
		case 'l':
			t.nudge(1)
		case 'H':
			t.nudge(-10)
		case 'L':
			t.nudge(10)
		case 'r':
			f := Fields[t.sel]
			t.update(func(a *mask.Adjustments) { f.Set(a, f.Default) })
		case 'i':
			t.toggleMask(func(m *mask.Mask) { m.Invert = !m.Invert })
		case 'v':
			t.toggleMask(func(m *mask.Mask) { m.Visible = !m.Visible })
		case 'o':
			t.overlay = !t.overlay
		case 'g':
			t.histo = !t.histo
		}
	}
	return false
}

func putString(s tcell.Screen, x, y, width int, text string, style tcell.Style) {
	col := 0
	for _, r := range text {
		if col >= width {
			return
		}
		s.SetContent(x+col, y, r, nil, style)
		col++
	}
	for ; col < width; col++ {
		s.SetContent(x+col, y, ' ', nil, style)
	}
}

func (t *tui) drawPanel(s tcell.Screen, height int) {
	plain := tcell.StyleDefault
	bold := plain.Bold(true)
	target := "global"
	if m, ok := t.currentMask(); ok {
		target = fmt.Sprintf("mask %d/%d %s", t.target, len(t.doc.State().Masks), m.Name)
		if m.Invert {
			target += " (inv)"
		}
		if !m.Visible {
			target += " (hidden)"
		}
	}
	putString(s, 0, 0, panelWidth, "maskedit  "+target, bold)
	adj := t.adjustments()
	rows := max(height-4, 1)
	if t.histo && t.frame != nil {
		rows = max(height-9, 1)
		t.drawHistogram(s, height-6)
	}
	first := max(0, min(t.sel-rows/2, len(Fields)-rows))
	for i := 0; i < rows && first+i < len(Fields); i++ {
		f := Fields[first+i]
		style := plain
		if first+i == t.sel {
			style = plain.Reverse(true)
		}
		putString(s, 0, 2+i, panelWidth-1, fmt.Sprintf(" %-24s %8s", f.Label, formatNumber(f.Get(adj))), style)
	}
	help := "←→ adjust  ↑↓ field  tab target  o overlay  g histogram  q quit"
	if t.status != "" {
		help = t.status
	}
	putString(s, 0, height-1, panelWidth, help, plain.Dim(true))
}

// drawHistogram writes the luma and channel sparklines of the current
// frame on four rows starting at y.
func (t *tui) drawHistogram(s tcell.Screen, y int) {
	if t.hist == nil {
		d := histogram.Compute(t.frame)
		t.hist = &d
	}
	for i, row := range []struct {
		label string
		curve []float64
		color tcell.Color
	}{
		{"L", t.hist.Luma, tcell.ColorWhite},
		{"R", t.hist.Red, tcell.ColorRed},
		{"G", t.hist.Green, tcell.ColorGreen},
		{"B", t.hist.Blue, tcell.ColorBlue},
	} {
		line := row.label + " " + histogram.Sparkline(row.curve, panelWidth-3)
		putString(s, 0, y+i, panelWidth-1, line, tcell.StyleDefault.Foreground(row.color))
	}
}

// image returns the frame to show, tinted with the selection in overlay
// mode while the mask is still neutral.
func (t *tui) image() image.Image {
	if t.frame == nil {
		return nil
	}
	if m, ok := t.currentMask(); ok && t.overlay {
		if img, ok := tinted(t.frame, m); ok {
			return img
		}
	}
	return t.frame
}

// fitCells scales img to fit cols x rows half-block cells.
func fitCells(img image.Image, cols, rows int) *image.NRGBA {
	b := img.Bounds()
	pw, ph := cols, rows*2
	if b.Dx()*ph > b.Dy()*pw {
		ph = max(b.Dy()*pw/max(b.Dx(), 1), 1)
	} else {
		pw = max(b.Dx()*ph/max(b.Dy(), 1), 1)
	}
	dst := image.NewNRGBA(image.Rect(0, 0, pw, ph))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

func cellColor(c color.NRGBA) tcell.Color {
	return tcell.NewRGBColor(int32(c.R), int32(c.G), int32(c.B))
}

func (t *tui) drawImage(s tcell.Screen, x0, cols, rows int) {
	img := t.image()
	if img == nil || cols < 1 || rows < 1 {
		putString(s, x0, 0, max(cols, 0), "rendering...", tcell.StyleDefault)
		return
	}
	want := image.Pt(cols, rows)
	if t.scaled == nil || t.scaledFor != want || t.overlay {
		t.scaled = fitCells(img, cols, rows)
		t.scaledFor = want
	}
	px := t.scaled
	for y := 0; y*2 < px.Rect.Dy(); y++ {
		for x := 0; x < px.Rect.Dx(); x++ {
			top := px.NRGBAAt(x, y*2)
			bottom := top
			if y*2+1 < px.Rect.Dy() {
				bottom = px.NRGBAAt(x, y*2+1)
			}
			style := tcell.StyleDefault.Foreground(cellColor(top)).Background(cellColor(bottom))
			s.SetContent(x0+x, y, '▀', nil, style)
		}
	}
}

func (t *tui) draw(s tcell.Screen) {
	s.Clear()
	w, h := s.Size()
	t.drawPanel(s, h)
	t.drawImage(s, panelWidth, w-panelWidth, h)
	s.Show()
}

// setFrame replaces the displayed frame and drops the scaled copy.
func (t *tui) setFrame(img image.Image) {
	t.frame = img
	t.scaled = nil
	t.hist = nil
}

func cmdTUI(ctx context.Context, a *app, args []string) error {
	id, _, err := a.projectID(args)
	if err != nil {
		return err
	}
	screen, err := tcell.NewScreen()
	if err != nil {
		return err
	}
	if err := screen.Init(); err != nil {
		return err
	}
	defer screen.Fini()

	doc, err := a.open(ctx, id)
	if err != nil {
		return err
	}
	defer doc.Close()
	return runTUI(ctx, screen, doc)
}

// runTUI drives the editor until quit or ctx ends. Frames arrive as
// interrupt events posted from the render loop.
func runTUI(ctx context.Context, screen tcell.Screen, doc *document) error {
	t := &tui{doc: doc}
	doc.onFrame(func(f render.Frame) { screen.PostEvent(tcell.NewEventInterrupt(f)) })
	defer doc.onFrame(nil)
	if f, ok := doc.Latest(); ok {
		t.setFrame(f.Image)
	}
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			screen.PostEvent(tcell.NewEventInterrupt(nil))
		case <-done:
		}
	}()

	t.draw(screen)
	for {
		switch ev := screen.PollEvent().(type) {
		case nil:
			return nil
		case *tcell.EventInterrupt:
			f, ok := ev.Data().(render.Frame)
			if !ok {
				if err := ctx.Err(); err != nil && !errors.Is(err, context.Canceled) {
					return err
				}
				return nil
			}
			t.setFrame(f.Image)
		case *tcell.EventResize:
			screen.Sync()
		case *tcell.EventKey:
			if t.handleKey(ev) {
				return nil
			}
		}
		t.draw(screen)
	}
}
