package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Fepozopo/maskedit/pkg/mask"
)

// Field describes one numeric adjustment the editor can set.
type Field struct {
	Name    string // JSON key in the adjustments object
	Label   string
	Section string
	Min     float64
	Max     float64
	Default float64
}

var Fields = []Field{
	{Name: "brightness", Label: "Brightness", Section: "Basic", Min: -5, Max: 5},
	{Name: "contrast", Label: "Contrast", Section: "Basic", Min: -100, Max: 100},
	{Name: "highlights", Label: "Highlights", Section: "Basic", Min: -100, Max: 100},
	{Name: "shadows", Label: "Shadows", Section: "Basic", Min: -100, Max: 100},
	{Name: "whites", Label: "Whites", Section: "Basic", Min: -100, Max: 100},
	{Name: "blacks", Label: "Blacks", Section: "Basic", Min: -100, Max: 100},

	{Name: "saturation", Label: "Saturation", Section: "Color", Min: -100, Max: 100},
	{Name: "temperature", Label: "Temperature", Section: "Color", Min: -100, Max: 100},
	{Name: "tint", Label: "Tint", Section: "Color", Min: -100, Max: 100},
	{Name: "vibrance", Label: "Vibrance", Section: "Color", Min: -100, Max: 100},

	{Name: "clarity", Label: "Clarity", Section: "Details", Min: -100, Max: 100},
	{Name: "dehaze", Label: "Dehaze", Section: "Details", Min: -100, Max: 100},
	{Name: "structure", Label: "Structure", Section: "Details", Min: -100, Max: 100},
	{Name: "centre", Label: "Centré", Section: "Details", Min: -100, Max: 100},
	{Name: "sharpness", Label: "Sharpness", Section: "Details", Min: -100, Max: 100},
	{Name: "lumaNoiseReduction", Label: "Luminance NR", Section: "Details", Min: 0, Max: 100},
	{Name: "colorNoiseReduction", Label: "Color NR", Section: "Details", Min: 0, Max: 100},
	{Name: "chromaticAberrationRedCyan", Label: "CA Red/Cyan", Section: "Details", Min: -100, Max: 100},
	{Name: "chromaticAberrationBlueYellow", Label: "CA Blue/Yellow", Section: "Details", Min: -100, Max: 100},

	{Name: "vignetteAmount", Label: "Vignette amount", Section: "Vignette", Min: -100, Max: 100},
	{Name: "vignetteMidpoint", Label: "Vignette midpoint", Section: "Vignette", Min: 0, Max: 100, Default: 50},
	{Name: "vignetteRoundness", Label: "Vignette roundness", Section: "Vignette", Min: -100, Max: 100},
	{Name: "vignetteFeather", Label: "Vignette feather", Section: "Vignette", Min: 0, Max: 100, Default: 50},
}

// MetaStore indexes Fields by name.
type MetaStore struct {
	byName map[string]Field
}

func NewMetaStore(fields []Field) *MetaStore {
	m := &MetaStore{byName: make(map[string]Field, len(fields))}
	for _, f := range fields {
		m.byName[strings.ToLower(f.Name)] = f
	}
	return m
}

// Lookup finds a field by exact name, case-insensitively, or by a unique
// prefix.
func (m *MetaStore) Lookup(name string) (Field, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if f, ok := m.byName[key]; ok {
		return f, nil
	}
	var matches []Field
	for k, f := range m.byName {
		if strings.HasPrefix(k, key) {
			matches = append(matches, f)
		}
	}
	switch len(matches) {
	case 1:
		return matches[0], nil
	case 0:
		return Field{}, fmt.Errorf("unknown adjustment: %s", name)
	}
	names := make([]string, len(matches))
	for i, f := range matches {
		names[i] = f.Name
	}
	return Field{}, fmt.Errorf("ambiguous adjustment %q: %s", name, strings.Join(names, ", "))
}

// Tooltip is the one line help shown before prompting for a value.
func (f Field) Tooltip() string {
	return fmt.Sprintf("%s (%s): %s to %s, default %s", f.Label, f.Section,
		formatNumber(f.Min), formatNumber(f.Max), formatNumber(f.Default))
}

// Parse reads a value for f. A trailing "%" is accepted and ignored; values
// outside the field range are clamped.
func (f Field) Parse(s string) (float64, error) {
	s = strings.TrimSuffix(strings.TrimSpace(s), "%")
	if s == "" {
		return f.Default, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %q", f.Name, s)
	}
	return min(max(v, f.Min), f.Max), nil
}

// Get returns the field's current value in a.
func (f Field) Get(a mask.Adjustments) float64 {
	if p := f.ptr(&a); p != nil {
		return *p
	}
	return 0
}

// Set stores v into a.
func (f Field) Set(a *mask.Adjustments, v float64) error {
	p := f.ptr(a)
	if p == nil {
		return fmt.Errorf("unknown adjustment: %s", f.Name)
	}
	*p = v
	return nil
}

func (f Field) ptr(a *mask.Adjustments) *float64 {
	switch f.Name {
	case "brightness":
		return &a.Brightness
	case "contrast":
		return &a.Contrast
	case "highlights":
		return &a.Highlights
	case "shadows":
		return &a.Shadows
	case "whites":
		return &a.Whites
	case "blacks":
		return &a.Blacks
	case "saturation":
		return &a.Saturation
	case "temperature":
		return &a.Temperature
	case "tint":
		return &a.Tint
	case "vibrance":
		return &a.Vibrance
	case "clarity":
		return &a.Clarity
	case "dehaze":
		return &a.Dehaze
	case "structure":
		return &a.Structure
	case "centre":
		return &a.Centre
	case "sharpness":
		return &a.Sharpness
	case "lumaNoiseReduction":
		return &a.LumaNoiseReduction
	case "colorNoiseReduction":
		return &a.ColorNoiseReduction
	case "chromaticAberrationRedCyan":
		return &a.ChromaticAberrationRedCyan
	case "chromaticAberrationBlueYellow":
		return &a.ChromaticAberrationBlueYellow
	case "vignetteAmount":
		return &a.VignetteAmount
	case "vignetteMidpoint":
		return &a.VignetteMidpoint
	case "vignetteRoundness":
		return &a.VignetteRoundness
	case "vignetteFeather":
		return &a.VignetteFeather
	}
	return nil
}

// ParseAssignment parses "name=value" against the store.
func (m *MetaStore) ParseAssignment(s string) (Field, float64, error) {
	name, val, ok := strings.Cut(s, "=")
	if !ok {
		return Field{}, 0, fmt.Errorf("expected name=value, got %q", s)
	}
	f, err := m.Lookup(name)
	if err != nil {
		return Field{}, 0, err
	}
	v, err := f.Parse(val)
	if err != nil {
		return Field{}, 0, err
	}
	return f, v, nil
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// parseBoolLike accepts common truthy and falsy spellings.
func parseBoolLike(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "t", "true", "y", "yes", "on":
		return true, nil
	case "0", "f", "false", "n", "no", "off", "":
		return false, nil
	}
	return false, fmt.Errorf("invalid boolean: %q", s)
}
