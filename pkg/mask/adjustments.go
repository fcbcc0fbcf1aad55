package mask

import "math"

// CurvePoint is a control point of a tone curve, both axes in 0..255.
type CurvePoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Curves carries one tone curve per channel.
type Curves struct {
	Luma  []CurvePoint `json:"luma"`
	Red   []CurvePoint `json:"red"`
	Green []CurvePoint `json:"green"`
	Blue  []CurvePoint `json:"blue"`
}

func identityCurve() []CurvePoint {
	return []CurvePoint{{X: 0, Y: 0}, {X: 255, Y: 255}}
}

// DefaultCurves returns identity curves on every channel. Each call returns
// fresh slices.
func DefaultCurves() Curves {
	return Curves{Luma: identityCurve(), Red: identityCurve(), Green: identityCurve(), Blue: identityCurve()}
}

// IsDefault reports whether every channel is a two point identity curve.
func (c Curves) IsDefault() bool {
	return identityChannel(c.Luma) && identityChannel(c.Red) && identityChannel(c.Green) && identityChannel(c.Blue)
}

func identityChannel(p []CurvePoint) bool {
	if len(p) != 2 {
		return false
	}
	return math.Abs(p[0].Y) <= 0.1 && math.Abs(p[1].Y-255) <= 0.1
}

func (c Curves) clone() Curves {
	return Curves{
		Luma:  append([]CurvePoint(nil), c.Luma...),
		Red:   append([]CurvePoint(nil), c.Red...),
		Green: append([]CurvePoint(nil), c.Green...),
		Blue:  append([]CurvePoint(nil), c.Blue...),
	}
}

// fillDefaults replaces missing channels with identity curves.
func (c *Curves) fillDefaults() {
	for _, ch := range []*[]CurvePoint{&c.Luma, &c.Red, &c.Green, &c.Blue} {
		if len(*ch) == 0 {
			*ch = identityCurve()
		}
	}
}

// HueSatLum is one colour grading wheel.
type HueSatLum struct {
	Hue        float64 `json:"hue"`
	Saturation float64 `json:"saturation"`
	Luminance  float64 `json:"luminance"`
}

func (h HueSatLum) isDefault() bool {
	return nearZero(h.Hue) && nearZero(h.Saturation) && nearZero(h.Luminance)
}

// ColorGrading is the three way colour grade.
type ColorGrading struct {
	Shadows    HueSatLum `json:"shadows"`
	Midtones   HueSatLum `json:"midtones"`
	Highlights HueSatLum `json:"highlights"`
	Blending   float64   `json:"blending"`
	Balance    float64   `json:"balance"`
}

// DefaultColorGrading has neutral wheels, blending 50 and balance 0.
func DefaultColorGrading() ColorGrading {
	return ColorGrading{Blending: 50}
}

// IsDefault reports whether the grade leaves colours untouched.
func (g ColorGrading) IsDefault() bool {
	return g.Shadows.isDefault() && g.Midtones.isDefault() && g.Highlights.isDefault() &&
		near(g.Blending, 50) && nearZero(g.Balance)
}

// Adjustments is the bundle of tonal and colour parameters applied either to
// the whole image or, inside a Mask, to the masked region. The decoder owns
// their meaning; this package only stores and compares them.
type Adjustments struct {
	Brightness                    float64 `json:"brightness"`
	Contrast                      float64 `json:"contrast"`
	Highlights                    float64 `json:"highlights"`
	Shadows                       float64 `json:"shadows"`
	Whites                        float64 `json:"whites"`
	Blacks                        float64 `json:"blacks"`
	Saturation                    float64 `json:"saturation"`
	Temperature                   float64 `json:"temperature"`
	Tint                          float64 `json:"tint"`
	Vibrance                      float64 `json:"vibrance"`
	Clarity                       float64 `json:"clarity"`
	Dehaze                        float64 `json:"dehaze"`
	Structure                     float64 `json:"structure"`
	Centre                        float64 `json:"centre"`
	VignetteAmount                float64 `json:"vignetteAmount"`
	VignetteMidpoint              float64 `json:"vignetteMidpoint"`
	VignetteRoundness             float64 `json:"vignetteRoundness"`
	VignetteFeather               float64 `json:"vignetteFeather"`
	Sharpness                     float64 `json:"sharpness"`
	LumaNoiseReduction            float64 `json:"lumaNoiseReduction"`
	ColorNoiseReduction           float64 `json:"colorNoiseReduction"`
	ChromaticAberrationRedCyan    float64 `json:"chromaticAberrationRedCyan"`
	ChromaticAberrationBlueYellow float64 `json:"chromaticAberrationBlueYellow"`

	// ToneMapper is only meaningful on the global bundle. Mask adjustments
	// keep it empty and it is then left out of the document.
	ToneMapper   string       `json:"toneMapper,omitempty"`
	Curves       Curves       `json:"curves"`
	ColorGrading ColorGrading `json:"colorGrading"`
}

// DefaultToneMapper is the global tone mapper of a new project.
const DefaultToneMapper = "basic"

// DefaultAdjustments returns the neutral global bundle.
func DefaultAdjustments() Adjustments {
	a := LocalDefaults()
	a.ToneMapper = DefaultToneMapper
	return a
}

// LocalDefaults returns the neutral bundle used inside masks.
func LocalDefaults() Adjustments {
	return Adjustments{
		VignetteMidpoint: 50,
		VignetteFeather:  50,
		Curves:           DefaultCurves(),
		ColorGrading:     DefaultColorGrading(),
	}
}

// IsNeutral reports whether applying a would leave the image unchanged.
// ToneMapper is not considered.
func (a Adjustments) IsNeutral() bool {
	for _, v := range []float64{
		a.Brightness, a.Contrast, a.Highlights, a.Shadows, a.Whites, a.Blacks,
		a.Saturation, a.Temperature, a.Tint, a.Vibrance, a.Clarity, a.Dehaze,
		a.Structure, a.Centre, a.VignetteAmount, a.VignetteRoundness,
		a.Sharpness, a.LumaNoiseReduction, a.ColorNoiseReduction,
		a.ChromaticAberrationRedCyan, a.ChromaticAberrationBlueYellow,
	} {
		if !nearZero(v) {
			return false
		}
	}
	return near(a.VignetteMidpoint, 50) && near(a.VignetteFeather, 50) &&
		a.Curves.IsDefault() && a.ColorGrading.IsDefault()
}

// Clone returns a copy that shares no slices with a.
func (a Adjustments) Clone() Adjustments {
	a.Curves = a.Curves.clone()
	return a
}

const neutralEpsilon = 1e-6

func nearZero(v float64) bool { return math.Abs(v) <= neutralEpsilon }

func near(v, target float64) bool { return math.Abs(v-target) <= neutralEpsilon }
