// Package segment turns a lasso drawn over the preview into a subject mask
// using an external foreground segmentation model.
package segment

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"sync/atomic"
	"time"

	"golang.org/x/image/draw"

	"github.com/Fepozopo/maskedit/pkg/logging"
	"github.com/Fepozopo/maskedit/pkg/mask"
	"github.com/Fepozopo/maskedit/pkg/maskraster"
)

var (
	ErrTooFewPoints = errors.New("segment: lasso needs at least 3 points")
	// ErrSegmentation wraps model load, inference and decode failures.
	ErrSegmentation = errors.New("segment: segmentation failed")
	ErrBusy         = errors.New("segment: a generation is already running")
)

// DefaultInputSize is the square input resolution of the bundled model.
const DefaultInputSize = 320

// Runner executes the model on a 1x3xSxS CHW tensor and returns at least
// S*S output values, one per input pixel.
type Runner interface {
	Run(ctx context.Context, input []float32, size int) ([]float32, error)
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, input []float32, size int) ([]float32, error)

func (f RunnerFunc) Run(ctx context.Context, input []float32, size int) ([]float32, error) {
	return f(ctx, input, size)
}

// Generator produces subject masks. Only one generation runs at a time; a
// concurrent call fails with ErrBusy.
type Generator struct {
	Runner    Runner
	InputSize int     // defaults to DefaultInputSize
	Padding   float64 // defaults to DefaultPadding

	busy atomic.Bool
}

// NewGenerator returns a Generator with default input size and padding.
func NewGenerator(r Runner) *Generator {
	return &Generator{Runner: r, InputSize: DefaultInputSize, Padding: DefaultPadding}
}

// Busy reports whether a generation is in flight.
func (g *Generator) Busy() bool { return g.busy.Load() }

// Generate returns the subject mask for lasso over preview as a PNG data URL
// the size of preview.
func (g *Generator) Generate(ctx context.Context, preview image.Image, lasso []mask.Point) (string, error) {
	b, err := g.GenerateBuffer(ctx, preview, lasso)
	if err != nil {
		return "", err
	}
	url, err := maskraster.EncodeDataURL(b)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrSegmentation, err)
	}
	return url, nil
}

// GenerateBuffer is Generate without the PNG encoding.
func (g *Generator) GenerateBuffer(ctx context.Context, preview image.Image, lasso []mask.Point) (*maskraster.Buffer, error) {
	if len(lasso) < 3 {
		return nil, ErrTooFewPoints
	}
	if !g.busy.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	defer g.busy.Store(false)

	size := g.InputSize
	if size <= 0 {
		size = DefaultInputSize
	}
	padding := g.Padding
	if padding <= 0 {
		padding = DefaultPadding
	}

	start := time.Now()
	pb := preview.Bounds()
	w, h := max(pb.Dx(), 1), max(pb.Dy(), 1)
	crop := CropRect(lasso, w, h, padding)

	cropImg := image.NewNRGBA(image.Rect(0, 0, crop.Dx(), crop.Dy()))
	draw.Draw(cropImg, cropImg.Bounds(), preview, pb.Min.Add(crop.Min), draw.Src)

	square, placed := letterbox(cropImg, size)
	out, err := g.Runner.Run(ctx, tensorCHW(square), size)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSegmentation, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(out) < size*size {
		return nil, fmt.Errorf("%w: model returned %d values, want %d", ErrSegmentation, len(out), size*size)
	}

	seg := scaleGray(normalize(out, size), placed, crop.Dx(), crop.Dy())
	gate := lassoMask(lasso, crop, w, h)

	full := maskraster.NewBuffer(w, h)
	for y := 0; y < crop.Dy(); y++ {
		row := (crop.Min.Y+y)*w + crop.Min.X
		for x := 0; x < crop.Dx(); x++ {
			i := y*crop.Dx() + x
			full.Pix[row+x] = uint8(math.Round(float64(seg.Pix[i]) * float64(gate.Pix[i]) / 255))
		}
	}
	logging.Logger().Info("subject mask generated", "crop", crop.String(), "elapsed", time.Since(start))
	return full, nil
}

// Apply generates a mask and stores it into the addressed AI subject
// sub-mask. An existing payload is kept unless overwrite is set, and that
// check happens before the model runs. On failure s is returned unchanged.
func (g *Generator) Apply(ctx context.Context, s mask.EditState, maskID, subID string, preview image.Image, lasso []mask.Point, overwrite bool) (mask.EditState, error) {
	m, ok := s.Mask(maskID)
	if !ok {
		return s, fmt.Errorf("apply subject mask: %w", mask.ErrNotFound)
	}
	sub, ok := m.SubMask(subID)
	if !ok {
		return s, fmt.Errorf("apply subject mask: %w", mask.ErrNotFound)
	}
	if sub.Type != mask.TypeAiSubject {
		return s, fmt.Errorf("apply subject mask to %s sub-mask: %w", sub.Type, mask.ErrWrongType)
	}
	if sub.AiSubject.MaskDataURL != "" && !overwrite {
		return s, mask.ErrAiMaskExists
	}
	url, err := g.Generate(ctx, preview, lasso)
	if err != nil {
		logging.Logger().Warn("subject mask generation failed", "mask", maskID, "subMask", subID, "err", err)
		return s, err
	}
	return s.SetAiSubjectData(maskID, subID, url, overwrite)
}
