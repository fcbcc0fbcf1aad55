package segment

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Fepozopo/maskedit/pkg/mask"
	"github.com/Fepozopo/maskedit/pkg/maskraster"
)

// brightnessRunner echoes the red plane of the input tensor.
var brightnessRunner = RunnerFunc(func(ctx context.Context, in []float32, size int) ([]float32, error) {
	return append([]float32(nil), in[:size*size]...), nil
})

func whiteImage(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 255
	}
	return img
}

var triangle = []mask.Point{{X: 0.3, Y: 0.3}, {X: 0.7, Y: 0.3}, {X: 0.5, Y: 0.7}}

func TestCropRect(t *testing.T) {
	r := CropRect([]mask.Point{{X: 0.4, Y: 0.4}, {X: 0.6, Y: 0.4}, {X: 0.5, Y: 0.6}}, 101, 101, DefaultPadding)
	if r != image.Rect(38, 38, 62, 62) {
		t.Fatalf("unexpected crop %v", r)
	}
	wide := CropRect([]mask.Point{{X: 0, Y: 0.5}, {X: 1, Y: 0.5}, {X: 0.5, Y: 0.5}}, 101, 101, DefaultPadding)
	if wide.Min.X != 0 || wide.Max.X != 100 || wide.Min.Y != 48 || wide.Max.Y != 52 {
		t.Fatalf("unexpected clamped crop %v", wide)
	}
	tiny := CropRect([]mask.Point{{X: 1, Y: 1}, {X: 1, Y: 1}, {X: 1, Y: 1}}, 10, 10, DefaultPadding)
	if tiny.Dx() != 1 || tiny.Dy() != 1 {
		t.Fatalf("crop must be at least 1x1, got %v", tiny)
	}
}

func TestLetterboxPreservesAspect(t *testing.T) {
	sq, placed := letterbox(whiteImage(200, 100), 320)
	if placed != image.Rect(0, 80, 320, 240) {
		t.Fatalf("unexpected placement %v", placed)
	}
	if c := sq.NRGBAAt(10, 10); c != (color.NRGBA{A: 255}) {
		t.Fatalf("padding should be opaque black, got %+v", c)
	}
	if c := sq.NRGBAAt(160, 160); c.R != 255 {
		t.Fatalf("content should be white, got %+v", c)
	}
}

func TestNormalizeFlatField(t *testing.T) {
	b := normalize([]float32{3, 3, 3, 3}, 2)
	for _, v := range b.Pix {
		if v != 0 {
			t.Fatalf("flat output should normalize to 0, got %v", b.Pix)
		}
	}
}

func TestGenerateGatesByLasso(t *testing.T) {
	g := NewGenerator(brightnessRunner)
	g.InputSize = 64
	b, err := g.GenerateBuffer(context.Background(), whiteImage(100, 80), triangle)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if b.Width != 100 || b.Height != 80 {
		t.Fatalf("mask should match the preview size, got %dx%d", b.Width, b.Height)
	}
	if v := b.At(50, 35); v != 255 {
		t.Fatalf("inside the lasso should be selected, got %d", v)
	}
	if v := b.At(32, 52); v != 0 {
		t.Fatalf("inside the crop but outside the lasso should be gated, got %d", v)
	}
	if v := b.At(5, 5); v != 0 {
		t.Fatalf("outside the crop should be empty, got %d", v)
	}
}

func TestGeneratedMaskRoundTripsWithoutSoftness(t *testing.T) {
	g := NewGenerator(brightnessRunner)
	g.InputSize = 48
	preview := whiteImage(60, 40)
	raw, err := g.GenerateBuffer(context.Background(), preview, triangle)
	if err != nil {
		t.Fatalf("generate buffer: %v", err)
	}
	url, err := g.Generate(context.Background(), preview, triangle)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	got, err := maskraster.RasterizeAiSubject(mask.AiSubjectParams{MaskDataURL: url, Softness: 0}, 60, 40)
	if err != nil {
		t.Fatalf("rasterize: %v", err)
	}
	if !bytes.Equal(raw.Pix, got.Pix) {
		t.Fatalf("softness 0 should reproduce the gated segmentation")
	}
}

func TestGenerateErrors(t *testing.T) {
	g := NewGenerator(brightnessRunner)
	if _, err := g.Generate(context.Background(), whiteImage(10, 10), triangle[:2]); !errors.Is(err, ErrTooFewPoints) {
		t.Fatalf("expected ErrTooFewPoints, got %v", err)
	}

	boom := errors.New("boom")
	g.Runner = RunnerFunc(func(context.Context, []float32, int) ([]float32, error) { return nil, boom })
	_, err := g.Generate(context.Background(), whiteImage(10, 10), triangle)
	if !errors.Is(err, ErrSegmentation) || !errors.Is(err, boom) {
		t.Fatalf("expected wrapped segmentation error, got %v", err)
	}

	g.Runner = RunnerFunc(func(context.Context, []float32, int) ([]float32, error) { return []float32{1}, nil })
	if _, err := g.Generate(context.Background(), whiteImage(10, 10), triangle); !errors.Is(err, ErrSegmentation) {
		t.Fatalf("short output should fail, got %v", err)
	}
	if g.Busy() {
		t.Fatalf("generator should be idle after failures")
	}
}

func TestGenerateBusy(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	g := NewGenerator(RunnerFunc(func(ctx context.Context, in []float32, size int) ([]float32, error) {
		close(started)
		<-release
		return make([]float32, size*size), nil
	}))
	g.InputSize = 16
	done := make(chan error, 1)
	go func() {
		_, err := g.Generate(context.Background(), whiteImage(20, 20), triangle)
		done <- err
	}()
	<-started
	if !g.Busy() {
		t.Fatalf("expected busy while running")
	}
	if _, err := g.Generate(context.Background(), whiteImage(20, 20), triangle); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
	close(release)
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("first generation failed: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("generation did not finish")
	}
}

func TestApplyGuardsExistingMask(t *testing.T) {
	var calls atomic.Int32
	g := NewGenerator(RunnerFunc(func(ctx context.Context, in []float32, size int) ([]float32, error) {
		calls.Add(1)
		return brightnessRunner(ctx, in, size)
	}))
	g.InputSize = 32

	ai := mask.NewSubMask(mask.TypeAiSubject, mask.Additive)
	m := mask.NewMask("Subject", ai)
	s := mask.DefaultEditState().WithMask(m)

	s2, err := g.Apply(context.Background(), s, m.ID, ai.ID, whiteImage(40, 40), triangle, false)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	first := s2.Masks[0].SubMasks[0].AiSubject.MaskDataURL
	if first == "" {
		t.Fatalf("expected a stored payload")
	}

	s3, err := g.Apply(context.Background(), s2, m.ID, ai.ID, whiteImage(40, 40), triangle, false)
	if !errors.Is(err, mask.ErrAiMaskExists) {
		t.Fatalf("expected ErrAiMaskExists, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("model should not run for a refused overwrite")
	}
	if s3.Masks[0].SubMasks[0].AiSubject.MaskDataURL != first {
		t.Fatalf("existing payload must be kept")
	}

	g.Runner = RunnerFunc(func(context.Context, []float32, int) ([]float32, error) { return nil, errors.New("load failed") })
	s4, err := g.Apply(context.Background(), s2, m.ID, ai.ID, whiteImage(40, 40), triangle, true)
	if !errors.Is(err, ErrSegmentation) {
		t.Fatalf("expected ErrSegmentation, got %v", err)
	}
	if s4.Masks[0].SubMasks[0].AiSubject.MaskDataURL != first {
		t.Fatalf("failed generation must leave the payload untouched")
	}
}
