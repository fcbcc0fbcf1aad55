package maskraster

import (
	"bytes"
	"fmt"
	"image"
	"image/color"

	"github.com/gotranspile/gotrace"

	"github.com/Fepozopo/maskedit/pkg/mask"
)

// OverlayTint is the colour selections are shown in.
var OverlayTint = color.NRGBA{R: 255, G: 23, B: 68}

// overlayMaxAlpha is the alpha of a fully selected pixel.
const overlayMaxAlpha = 140

// Overlay renders sel as a translucent tint: alpha round(v*140/255) where
// the selection is non-zero, transparent elsewhere.
func Overlay(sel *Buffer) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, sel.Width, sel.Height))
	for i, v := range sel.Pix {
		if v == 0 {
			continue
		}
		o := i * 4
		img.Pix[o+0] = OverlayTint.R
		img.Pix[o+1] = OverlayTint.G
		img.Pix[o+2] = OverlayTint.B
		img.Pix[o+3] = uint8((int(v)*overlayMaxAlpha*2 + 255) / (255 * 2))
	}
	return img
}

// MaskOverlay composites m and renders its overlay. Once the mask's own
// adjustments are no longer neutral the selection preview would hide their
// effect, so it returns nil, false.
func MaskOverlay(m mask.Mask, w, h int) (*image.NRGBA, bool) {
	if !m.Adjustments.IsNeutral() {
		return nil, false
	}
	return Overlay(Composite(m, w, h)), true
}

// TraceOutline returns the outline of the selection (pixels at or above
// half strength) as an SVG document of size w x h.
func TraceOutline(sel *Buffer) (string, error) {
	bm := gotrace.BitmapFromGray(sel.Gray(), func(c color.Gray) bool { return c.Y >= 128 })
	paths, err := gotrace.Trace(bm, nil)
	if err != nil {
		return "", fmt.Errorf("trace selection: %w", err)
	}
	var buf bytes.Buffer
	if err := gotrace.Render("svg", nil, &buf, paths, sel.Width, sel.Height); err != nil {
		return "", fmt.Errorf("render outline: %w", err)
	}
	return buf.String(), nil
}
