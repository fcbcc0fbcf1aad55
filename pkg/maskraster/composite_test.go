package maskraster

import (
	"bytes"
	"image/png"
	"os"
	"runtime"
	"testing"

	"github.com/Fepozopo/maskedit/pkg/mask"
)

func radialAt(x, y, r float64, mode mask.Mode) mask.SubMask {
	s := mask.NewSubMask(mask.TypeRadial, mode)
	s.Radial = mask.RadialParams{CenterX: x, CenterY: y, RadiusX: r, RadiusY: r, Feather: 0.5}
	return s
}

func brushAt(x, y, size float64, tool mask.Tool, order int64) mask.SubMask {
	s := mask.NewSubMask(mask.TypeBrush, mask.Additive)
	s.Lines = []mask.Stroke{{Tool: tool, BrushSize: size, Order: order, Points: []mask.Point{{X: x, Y: y}}}}
	return s
}

func equalBuffers(t *testing.T, a, b *Buffer) {
	t.Helper()
	if a.Width != b.Width || a.Height != b.Height {
		t.Fatalf("size mismatch %dx%d vs %dx%d", a.Width, a.Height, b.Width, b.Height)
	}
	if !bytes.Equal(a.Pix, b.Pix) {
		t.Fatalf("buffers differ")
	}
}

func saveOutput(t *testing.T, name string, b *Buffer) {
	if os.Getenv("MASKEDIT_SAVE_TEST_OUTPUT") != "1" {
		return
	}
	f, err := os.Create(name)
	if err != nil {
		t.Logf("save %s: %v", name, err)
		return
	}
	defer f.Close()
	png.Encode(f, Overlay(b))
}

func TestNoOpSubMasksAreIdempotent(t *testing.T) {
	base := mask.NewMask("m", radialAt(0.5, 0.5, 0.3, mask.Additive))
	want := Composite(base, 64, 48)

	flat := mask.NewSubMask(mask.TypeLinear, mask.Additive)
	flat.Linear.Range = 0
	zeroBrush := brushAt(0.2, 0.2, 0, mask.ToolBrush, 1)
	hidden := radialAt(0.1, 0.1, 0.4, mask.Additive)
	hidden.Visible = false
	emptyAi := mask.NewSubMask(mask.TypeAiSubject, mask.Additive)

	withNoOps := mask.NewMask("m", base.SubMasks[0], flat, zeroBrush, hidden, emptyAi)
	equalBuffers(t, want, Composite(withNoOps, 64, 48))
}

func TestAdditiveIsCommutative(t *testing.T) {
	a := radialAt(0.4, 0.5, 0.3, mask.Additive)
	b := radialAt(0.6, 0.5, 0.25, mask.Additive)
	b.Radial.Rotation = 30
	b.Radial.RadiusY = 0.1
	ab := Composite(mask.NewMask("ab", a, b), 80, 60)
	ba := Composite(mask.NewMask("ba", b, a), 80, 60)
	equalBuffers(t, ab, ba)
	saveOutput(t, "composite_union_test_out.png", ab)
}

func TestEraserPunchesAcrossSubMasks(t *testing.T) {
	paint := brushAt(0.5, 0.5, 0.2, mask.ToolBrush, 1)
	paint.Lines[0].Feather = 0
	erase := brushAt(0.5, 0.5, 0.4, mask.ToolEraser, 2)
	erase.Lines[0].Feather = 0

	sel := Composite(mask.NewMask("m", erase, paint), 50, 50)
	if !sel.Empty() {
		t.Fatalf("later eraser should clear the overlap")
	}

	// eraser drawn first has nothing to erase
	erase.Lines[0].Order = 0
	sel = Composite(mask.NewMask("m", erase, paint), 50, 50)
	if sel.At(25, 25) != 255 {
		t.Fatalf("brush after eraser should remain, got %d", sel.At(25, 25))
	}
}

func TestSubtractiveSubMaskMode(t *testing.T) {
	fill := radialAt(0.5, 0.5, 2, mask.Additive)
	fill.Radial.Feather = 0
	hole := radialAt(0.5, 0.5, 0.2, mask.Subtractive)
	hole.Radial.Feather = 0
	sel := Composite(mask.NewMask("m", fill, hole), 40, 40)
	if sel.At(20, 20) != 0 {
		t.Fatalf("centre should be punched out, got %d", sel.At(20, 20))
	}
	if sel.At(1, 1) != 255 {
		t.Fatalf("corner should stay selected, got %d", sel.At(1, 1))
	}
}

func TestNonBrushAppliedAfterStrokes(t *testing.T) {
	// the radial hole is first in the slice but still folds after the stroke
	hole := radialAt(0.5, 0.5, 0.3, mask.Subtractive)
	hole.Radial.Feather = 0
	paint := brushAt(0.5, 0.5, 0.3, mask.ToolBrush, 1)
	paint.Lines[0].Feather = 0
	sel := Composite(mask.NewMask("m", hole, paint), 40, 40)
	if sel.At(20, 20) != 0 {
		t.Fatalf("radial should apply after brush strokes, got %d", sel.At(20, 20))
	}
}

func TestEffectiveAppliesInvertAndOpacity(t *testing.T) {
	sel := NewBuffer(2, 1)
	sel.Pix[0] = 255
	m := mask.NewMask("m")
	m.Opacity = 50
	eff := Effective(m, sel)
	if eff.Pix[0] != 128 || eff.Pix[1] != 0 {
		t.Fatalf("unexpected opacity result %v", eff.Pix)
	}
	m.Invert = true
	eff = Effective(m, sel)
	if eff.Pix[0] != 0 || eff.Pix[1] != 128 {
		t.Fatalf("unexpected inverted result %v", eff.Pix)
	}
	if sel.Pix[0] != 255 {
		t.Fatalf("input must not change")
	}
}

func TestOverlay(t *testing.T) {
	sel := NewBuffer(3, 1)
	sel.Pix[1] = 255
	sel.Pix[2] = 128
	img := Overlay(sel)
	if img.Pix[3] != 0 {
		t.Fatalf("unselected pixel must be transparent")
	}
	if c := img.NRGBAAt(1, 0); c.R != 255 || c.G != 23 || c.B != 68 || c.A != 140 {
		t.Fatalf("unexpected full pixel %+v", c)
	}
	if a := img.NRGBAAt(2, 0).A; a != 70 {
		t.Fatalf("expected alpha 70 for 128, got %d", a)
	}

	m := mask.NewMask("m", radialAt(0.5, 0.5, 0.3, mask.Additive))
	if _, ok := MaskOverlay(m, 10, 10); !ok {
		t.Fatalf("neutral mask should get an overlay")
	}
	m.Adjustments.Brightness = 10
	if img, ok := MaskOverlay(m, 10, 10); ok || img != nil {
		t.Fatalf("adjusted mask must not get an overlay")
	}
}

func TestTraceOutline(t *testing.T) {
	m := mask.NewMask("m", radialAt(0.5, 0.5, 0.3, mask.Additive))
	svg, err := TraceOutline(Composite(m, 40, 40))
	if err != nil {
		t.Fatalf("trace: %v", err)
	}
	if !bytes.Contains([]byte(svg), []byte("svg")) {
		t.Fatalf("expected an svg document, got %q", svg)
	}
}

// foldFullSize is the straightforward fold over full size stroke buffers.
func foldFullSize(strokes []mask.Stroke, w, h int) *Buffer {
	acc := NewBuffer(w, h)
	for _, st := range strokes {
		blend := blendAdditive
		if st.Tool == mask.ToolEraser {
			blend = blendSubtractive
		}
		for i, v := range RasterizeStroke(st, w, h).Pix {
			if v != 0 {
				acc.Pix[i] = blend(acc.Pix[i], v)
			}
		}
	}
	return acc
}

func TestStrokeRegionsMatchFullSizeFold(t *testing.T) {
	strokes := []mask.Stroke{
		{Tool: mask.ToolBrush, BrushSize: 0.2, Feather: 0.5, Order: 1, Points: []mask.Point{{X: 0, Y: 0}, {X: 0.4, Y: 0.3}}},
		{Tool: mask.ToolBrush, BrushSize: 0.1, Feather: 0, Order: 2, Points: []mask.Point{{X: 1, Y: 1}}},
		{Tool: mask.ToolEraser, BrushSize: 0.15, Feather: 0.3, Order: 3, Points: []mask.Point{{X: 0.2, Y: 0.1}, {X: 0.25, Y: 0.9}}},
		{Tool: mask.ToolBrush, BrushSize: 0.3, Feather: 1, Order: 4, Points: []mask.Point{{X: 0.7, Y: 0.5}, {X: 0.95, Y: 0.05}, {X: 0.6, Y: 0.6}}},
	}
	sub := mask.NewSubMask(mask.TypeBrush, mask.Additive)
	sub.Lines = strokes
	got := Composite(mask.NewMask("m", sub), 97, 61)
	equalBuffers(t, foldFullSize(strokes, 97, 61), got)
	if got.Empty() {
		t.Fatalf("expected painted pixels")
	}
}

func TestManySmallStrokesStayBounded(t *testing.T) {
	const w, h = 2000, 1500
	sub := mask.NewSubMask(mask.TypeBrush, mask.Additive)
	for i := range 400 {
		p := mask.Point{X: float64(i%20) / 20, Y: float64(i/20) / 20}
		sub.Lines = append(sub.Lines, mask.Stroke{Tool: mask.ToolBrush, BrushSize: 0.01, Feather: 0.5, Order: int64(i), Points: []mask.Point{p}})
	}
	m := mask.NewMask("dots", sub)

	var before, after runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&before)
	sel := Composite(m, w, h)
	runtime.ReadMemStats(&after)

	full := uint64(w * h)
	if alloc := after.TotalAlloc - before.TotalAlloc; alloc > 4*full {
		t.Fatalf("allocated %d bytes for 400 small strokes, want under %d", alloc, 4*full)
	}
	if sel.At(0, 0) == 0 || sel.At(w/2, h/2) == 0 {
		t.Fatalf("expected stamps at (0,0) and the centre")
	}
}

func TestBoxBlurLargeBufferMatchesSequential(t *testing.T) {
	src := gradientBuffer(300, 200)
	got := BoxBlur(src, 3)
	want := NewBuffer(300, 200)
	tmp := NewBuffer(300, 200)
	for y := range 200 {
		blurLine(src.Pix[y*300:], tmp.Pix[y*300:], 300, 1, 3, 7)
	}
	for x := range 300 {
		blurLine(tmp.Pix[x:], want.Pix[x:], 200, 300, 3, 7)
	}
	equalBuffers(t, want, got)
}
