package develop

import (
	"image"
	"math"
	"runtime"
	"sync"

	"github.com/Fepozopo/maskedit/pkg/mask"
	"github.com/Fepozopo/maskedit/pkg/maskraster"
)

// values holds one adjustments bundle normalized to the ranges the colour
// math works in, mostly -1..1.
type values struct {
	brightness, contrast, highlights, shadows, whites, blacks float64
	saturation, temperature, tint, vibrance                   float64
	clarity, dehaze, structure, centre, sharpness             float64
	vignetteAmount, vignetteMidpoint                          float64
	vignetteRoundness, vignetteFeather                        float64
	grading                                                   grading
}

type wheel struct{ hue, sat, lum float64 }

type grading struct {
	shadows, midtones, highlights wheel
	blending, balance             float64
}

func normalize(a mask.Adjustments) values {
	g := a.ColorGrading
	w := func(h mask.HueSatLum) wheel {
		return wheel{hue: h.Hue, sat: h.Saturation / 500, lum: h.Luminance / 500}
	}
	return values{
		brightness:        a.Brightness / 0.8,
		contrast:          a.Contrast / 100,
		highlights:        a.Highlights / 150,
		shadows:           a.Shadows / 100,
		whites:            a.Whites / 30,
		blacks:            a.Blacks / 60,
		saturation:        a.Saturation / 100,
		temperature:       a.Temperature / 25,
		tint:              a.Tint / 100,
		vibrance:          a.Vibrance / 100,
		clarity:           a.Clarity / 200,
		dehaze:            a.Dehaze / 750,
		structure:         a.Structure / 200,
		centre:            a.Centre / 250,
		sharpness:         a.Sharpness / 80,
		vignetteAmount:    a.VignetteAmount / 100,
		vignetteMidpoint:  a.VignetteMidpoint / 100,
		vignetteRoundness: a.VignetteRoundness / 100,
		vignetteFeather:   a.VignetteFeather / 100,
		grading: grading{
			shadows:    w(g.Shadows),
			midtones:   w(g.Midtones),
			highlights: w(g.Highlights),
			blending:   g.Blending / 100,
			balance:    g.Balance / 200,
		},
	}
}

type rgb [3]float64

func luma(c rgb) float64 { return c[0]*0.2126 + c[1]*0.7152 + c[2]*0.0722 }

func smoothstep(e0, e1, x float64) float64 {
	if math.Abs(e1-e0) < 1e-7 {
		return 0
	}
	t := clamp01((x - e0) / (e1 - e0))
	return t * t * (3 - 2*t)
}

func clamp01(v float64) float64 { return min(max(v, 0), 1) }

func mix(c rgb, target float64, amount float64) rgb {
	for i := range c {
		c[i] = target + (c[i]-target)*amount
	}
	return c
}

func lerp(a, b rgb, t float64) rgb {
	for i := range a {
		a[i] += (b[i] - a[i]) * t
	}
	return a
}

func srgbToLinear(v float64) float64 {
	v = max(v, 0)
	if v <= 0.04045 {
		return v / 12.92
	}
	return math.Pow((v+0.055)/1.055, 2.4)
}

func linearToSRGB(v float64) float64 {
	v = max(v, 0)
	if v <= 0.0031308 {
		return 12.92 * v
	}
	return 1.055*math.Pow(v, 1/2.4) - 0.055
}

var linearLUT = func() (t [256]float64) {
	for i := range t {
		t[i] = srgbToLinear(float64(i) / 255)
	}
	return t
}()

func filmicBrightness(c rgb, adj float64) rgb {
	const curveMix, midtone = 0.95, 1.2
	if math.Abs(adj) < 1e-5 {
		return c
	}
	l := luma(c)
	if math.Abs(l) < 1e-5 {
		return c
	}
	scale := math.Exp2(adj * (1 - curveMix))
	k := math.Exp2(-adj * curveMix * midtone)
	abs := math.Abs(l)
	whole, frac := math.Floor(abs), abs-math.Floor(abs)
	shaped := whole + frac/(frac+(1-frac)*k)
	nl := math.Copysign(shaped, l) * scale
	chroma := math.Pow(nl/l, 0.8)
	for i := range c {
		c[i] = nl + (c[i]-l)*chroma
	}
	return c
}

func scaleMasked(c rgb, factor, m float64) rgb {
	for i := range c {
		c[i] += (c[i]*factor - c[i]) * m
	}
	return c
}

func tonal(c rgb, v values) rgb {
	if math.Abs(v.whites) > 1e-5 {
		level := max(1-v.whites*0.25, 0.01)
		for i := range c {
			c[i] /= level
		}
	}
	if math.Abs(v.blacks) > 1e-5 {
		if m := 1 - smoothstep(0, 0.25, max(luma(c), 0)); m > 0.001 {
			c = scaleMasked(c, math.Exp2(v.blacks*0.75), m)
		}
	}
	if math.Abs(v.shadows) > 1e-5 {
		if m := math.Pow(1-smoothstep(0, 0.4, max(luma(c), 0)), 3); m > 0.001 {
			c = scaleMasked(c, math.Exp2(v.shadows*1.5), m)
		}
	}
	if math.Abs(v.contrast) > 1e-5 {
		const gamma = 2.2
		strength := math.Exp2(v.contrast * 1.25)
		for i := range c {
			safe := max(c[i], 0)
			p := clamp01(math.Pow(safe, 1/gamma))
			if p < 0.5 {
				p = 0.5 * math.Pow(2*p, strength)
			} else {
				p = 1 - 0.5*math.Pow(2*(1-p), strength)
			}
			adjusted := math.Pow(p, gamma)
			// values above white keep their original level
			c[i] = adjusted + (c[i]-adjusted)*smoothstep(1, 1.01, safe)
		}
	}
	return c
}

func highlights(c rgb, h float64) rgb {
	if math.Abs(h) < 1e-5 {
		return c
	}
	l := max(luma(c), 0)
	m := smoothstep(0.3, 0.95, math.Tanh(l*1.5))
	if m < 0.001 {
		return c
	}
	if h > 0 {
		return scaleMasked(c, math.Exp2(h*1.75), m)
	}
	var nl float64
	if l <= 1 {
		nl = math.Pow(l, 1-h*1.75)
	} else {
		excess := l - 1
		nl = 1 + excess/(1+excess*(-h*6))
	}
	ratio := nl / max(l, 0.0001)
	desat := smoothstep(1, 10, l)
	for i := range c {
		toned := c[i] * ratio
		final := toned + (nl-toned)*desat
		c[i] += (final - c[i]) * m
	}
	return c
}

func hue(c rgb) float64 {
	hi := max(c[0], c[1], c[2])
	lo := min(c[0], c[1], c[2])
	d := hi - lo
	if d < 0.0001 {
		return 0
	}
	var h float64
	switch hi {
	case c[0]:
		h = 60 * math.Mod((c[1]-c[2])/d, 6)
	case c[1]:
		h = 60 * ((c[2]-c[0])/d + 2)
	default:
		h = 60 * ((c[0]-c[1])/d + 4)
	}
	if h < 0 {
		h += 360
	}
	return h
}

// hueRGB is the fully saturated colour of hue h in degrees.
func hueRGB(h float64) rgb {
	x := 1 - math.Abs(math.Mod(h/60, 2)-1)
	switch {
	case h < 60:
		return rgb{1, x, 0}
	case h < 120:
		return rgb{x, 1, 0}
	case h < 180:
		return rgb{0, 1, x}
	case h < 240:
		return rgb{0, x, 1}
	case h < 300:
		return rgb{x, 0, 1}
	}
	return rgb{1, 0, x}
}

func colorGrade(c rgb, g grading) rgb {
	l := luma(rgb{max(c[0], 0), max(c[1], 0), max(c[2], 0)})
	shadowX := 0.1 + max(-g.balance, 0)*0.5
	highlightX := 0.5 - max(g.balance, 0)*0.5
	feather := 0.2 * g.blending
	shadowX = min(shadowX, highlightX-0.01)
	shadowMask := 1 - smoothstep(shadowX-feather, shadowX+feather, l)
	highlightMask := smoothstep(highlightX-feather, highlightX+feather, l)
	midMask := max(1-shadowMask-highlightMask, 0)

	apply := func(c rgb, w wheel, m, satStrength, lumStrength float64) rgb {
		if w.sat > 0.001 {
			t := hueRGB(w.hue)
			for i := range c {
				c[i] += (t[i] - 0.5) * w.sat * m * satStrength
			}
		}
		for i := range c {
			c[i] += w.lum * m * lumStrength
		}
		return c
	}
	c = apply(c, g.shadows, shadowMask, 0.3, 0.5)
	c = apply(c, g.midtones, midMask, 0.6, 0.8)
	return apply(c, g.highlights, highlightMask, 0.8, 1)
}

func vibrance(c rgb, v, l float64) rgb {
	hi := max(c[0], c[1], c[2])
	d := hi - min(c[0], c[1], c[2])
	if d < 0.02 {
		return c
	}
	sat := d / max(hi, 0.001)
	if v < 0 {
		return mix(c, l, 1+v*(1-smoothstep(0.2, 0.8, sat)))
	}
	satMask := 1 - smoothstep(0.4, 0.9, sat)
	dist := math.Abs(hue(c) - 25)
	dist = min(dist, 360-dist)
	skin := smoothstep(35, 10, dist)
	return mix(c, l, 1+v*satMask*(1-skin*0.4)*3)
}

// adjust runs the per-pixel colour pipeline on a linear colour.
func adjust(c rgb, v values) rgb {
	c[0] *= (1 + v.temperature*0.2) * (1 + v.tint*0.25)
	c[1] *= (1 + v.temperature*0.05) * (1 - v.tint*0.25)
	c[2] *= (1 - v.temperature*0.2) * (1 + v.tint*0.25)

	c = filmicBrightness(c, v.brightness)
	c = tonal(c, v)
	c = highlights(c, v.highlights)
	c = colorGrade(c, v.grading)

	l := luma(c)
	if v.saturation != 0 {
		c = mix(c, l, 1+v.saturation)
	}
	if v.vibrance != 0 {
		c = vibrance(c, v.vibrance, l)
	}

	detail := min(max((l-0.5)*2, -1), 1)
	offset := v.clarity/100*0.15*detail +
		v.dehaze/500*(l-0.5) +
		v.structure/200*0.1*detail +
		v.centre/200*0.08*math.Abs(detail) +
		v.sharpness/100*0.12*detail
	for i := range c {
		c[i] = clamp01(c[i] + offset)
	}
	return c
}

// vignette darkens (negative amount) or lightens the frame edges of an
// sRGB colour at pixel (x, y).
func vignette(c rgb, v values, x, y, w, h int) rgb {
	amount := min(max(v.vignetteAmount, -1), 1)
	mid := clamp01(v.vignetteMidpoint)
	round := min(max(1-v.vignetteRoundness, 0.01), 4)
	feather := clamp01(v.vignetteFeather) * 0.5
	aspect := 1.0
	if w > 0 {
		aspect = float64(h) / float64(w)
	}
	ux := (float64(x)/float64(w) - 0.5) * 2
	uy := (float64(y)/float64(h) - 0.5) * 2
	rx := math.Copysign(math.Pow(math.Abs(ux), round), ux)
	ry := math.Copysign(math.Pow(math.Abs(uy), round), uy) * aspect
	d := math.Sqrt(rx*rx+ry*ry) * 0.5
	m := smoothstep(mid-feather, mid+feather, d)
	if amount < 0 {
		f := min(max(1+amount*m, 0), 2)
		for i := range c {
			c[i] *= f
		}
	} else {
		t := clamp01(amount * m)
		for i := range c {
			c[i] += (1 - c[i]) * t
		}
	}
	for i := range c {
		c[i] = clamp01(c[i])
	}
	return c
}

// layer is one visible mask prepared for a render.
type layer struct {
	weight       *maskraster.Buffer
	values       values
	curves       curves
	curvesActive bool
}

// SelectionFunc returns the composited selection of m at w x h.
type SelectionFunc func(m mask.Mask, w, h int) *maskraster.Buffer

// Develop renders src, an sRGB image, under the edit state s. Global
// adjustments are applied first, then each visible mask mixes its own
// adjustments in by its effective weight. selection defaults to
// maskraster.Composite.
func Develop(src *image.NRGBA, s mask.EditState, selection SelectionFunc) *image.NRGBA {
	if selection == nil {
		selection = maskraster.Composite
	}
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	out := image.NewNRGBA(image.Rect(0, 0, w, h))

	global := normalize(s.Adjustments)
	globalCurves := newCurves(s.Adjustments.Curves)
	var layers []layer
	for _, m := range s.Masks {
		if !m.Visible {
			continue
		}
		c := newCurves(m.Adjustments.Curves)
		layers = append(layers, layer{
			weight:       maskraster.Effective(m, selection(m, w, h)),
			values:       normalize(m.Adjustments),
			curves:       c,
			curvesActive: !c.isDefault(),
		})
	}
	curvesActive := !globalCurves.isDefault()
	for _, l := range layers {
		curvesActive = curvesActive || l.curvesActive
	}
	doVignette := math.Abs(global.vignetteAmount) > 1e-5

	row := func(y int) {
		for x := range w {
			si := src.PixOffset(b.Min.X+x, b.Min.Y+y)
			c := rgb{linearLUT[src.Pix[si]], linearLUT[src.Pix[si+1]], linearLUT[src.Pix[si+2]]}
			c = adjust(c, global)
			idx := y*w + x
			for _, l := range layers {
				if t := float64(l.weight.Pix[idx]) / 255; t > 0.001 {
					c = lerp(c, adjust(c, l.values), t)
				}
			}
			c = rgb{linearToSRGB(c[0]), linearToSRGB(c[1]), linearToSRGB(c[2])}
			if curvesActive {
				c = globalCurves.apply(c)
				for _, l := range layers {
					if !l.curvesActive {
						continue
					}
					if t := float64(l.weight.Pix[idx]) / 255; t > 0.001 {
						c = lerp(c, l.curves.apply(c), t)
					}
				}
			}
			if doVignette {
				c = vignette(c, global, x, y, w, h)
			}
			di := out.PixOffset(x, y)
			out.Pix[di] = to8(c[0])
			out.Pix[di+1] = to8(c[1])
			out.Pix[di+2] = to8(c[2])
			out.Pix[di+3] = 255
		}
	}

	workers := runtime.GOMAXPROCS(0)
	if h < 64 || workers <= 1 {
		for y := range h {
			row(y)
		}
		return out
	}
	var wg sync.WaitGroup
	band := (h + workers - 1) / workers
	for y0 := 0; y0 < h; y0 += band {
		y1 := min(y0+band, h)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for y := y0; y < y1; y++ {
				row(y)
			}
		}()
	}
	wg.Wait()
	return out
}

func to8(v float64) uint8 { return uint8(min(max(math.Round(v*255), 0), 255)) }
