// Package histogram computes the smoothed tone histogram shown next to a
// preview and draws it as an image or a line of text.
package histogram

import (
	"image"
	"image/color"
	"math"
	"slices"
	"strings"

	"github.com/gogpu/gg"
)

const (
	Bins = 256

	sigma      = 2.5
	percentile = 0.99
)

// Data holds one normalized curve per channel, each value in 0..1.
type Data struct {
	Red, Green, Blue, Luma []float64
}

// Compute counts R, G, B and Rec.709 luma over img, smooths each curve with
// a gaussian and scales it so the 99th percentile bin reaches 1.
func Compute(img image.Image) Data {
	var r, g, b, l [Bins]int
	if img != nil {
		bounds := img.Bounds()
		for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
			for x := bounds.Min.X; x < bounds.Max.X; x++ {
				c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
				r[c.R]++
				g[c.G]++
				b[c.B]++
				luma := math.Round(0.2126*float64(c.R) + 0.7152*float64(c.G) + 0.0722*float64(c.B))
				l[int(min(max(luma, 0), 255))]++
			}
		}
	}
	return Data{Red: curve(r), Green: curve(g), Blue: curve(b), Luma: curve(l)}
}

func curve(counts [Bins]int) []float64 {
	h := make([]float64, Bins)
	for i, n := range counts {
		h[i] = float64(n)
	}
	smooth(h, sigma)
	normalize(h, percentile)
	return h
}

// smooth convolves h with a normalized gaussian, clamping at the edges.
func smooth(h []float64, sigma float64) {
	radius := int(math.Ceil(sigma * 3))
	if sigma <= 0 || radius <= 0 || radius >= len(h) {
		return
	}
	kernel := make([]float64, 2*radius+1)
	var sum float64
	for i := range kernel {
		x := float64(i - radius)
		kernel[i] = math.Exp(-x * x / (2 * sigma * sigma))
		sum += kernel[i]
	}
	src := slices.Clone(h)
	for i := range h {
		var v float64
		for k, w := range kernel {
			j := min(max(i+k-radius, 0), len(h)-1)
			v += src[j] * w
		}
		h[i] = v / sum
	}
}

// normalize scales h so its p-th percentile value becomes 1; larger
// values are clipped. A flat zero reference zeroes the curve.
func normalize(h []float64, p float64) {
	if len(h) == 0 {
		return
	}
	sorted := slices.Clone(h)
	slices.Sort(sorted)
	ref := sorted[int(math.Round(float64(len(sorted)-1)*p))]
	for i := range h {
		if ref <= 1e-6 {
			h[i] = 0
			continue
		}
		h[i] = min(h[i]/ref, 1)
	}
}

var sparks = []rune(" ▁▂▃▄▅▆▇█")

// Sparkline folds curve into width columns of block characters.
func Sparkline(curve []float64, width int) string {
	if width <= 0 || len(curve) == 0 {
		return ""
	}
	var sb strings.Builder
	for col := range width {
		lo := col * len(curve) / width
		hi := max((col+1)*len(curve)/width, lo+1)
		var peak float64
		for _, v := range curve[lo:min(hi, len(curve))] {
			peak = max(peak, v)
		}
		sb.WriteRune(sparks[int(math.Round(peak*float64(len(sparks)-1)))])
	}
	return sb.String()
}

// Render draws the four curves as translucent filled areas on a dark
// background.
func Render(d Data, width, height int) image.Image {
	if width <= 0 {
		width = 512
	}
	if height <= 0 {
		height = 128
	}
	dc := gg.NewContext(width, height)
	defer dc.Close()
	dc.ClearWithColor(gg.RGB(0.08, 0.08, 0.08))
	for _, ch := range []struct {
		curve   []float64
		r, g, b float64
	}{
		{d.Luma, 0.85, 0.85, 0.85},
		{d.Red, 1, 0.25, 0.25},
		{d.Green, 0.25, 1, 0.25},
		{d.Blue, 0.3, 0.45, 1},
	} {
		if len(ch.curve) == 0 {
			continue
		}
		w, h := float64(width), float64(height)
		dc.MoveTo(0, h)
		for i, v := range ch.curve {
			dc.LineTo(float64(i)*w/float64(len(ch.curve)-1), h-v*h)
		}
		dc.LineTo(w, h)
		dc.ClosePath()
		dc.SetRGBA(ch.r, ch.g, ch.b, 0.45)
		_ = dc.Fill()
	}
	return dc.Image()
}
