// Package mask describes local-adjustment masks and the edit state document
// exchanged with the native decoder and persisted per project.
//
// Values in this package are treated as immutable: every mutator returns a
// new EditState and never writes through slices shared with its receiver.
package mask

import (
	"strings"

	"github.com/google/uuid"
)

// Point is a position on the image. Coordinates are normally fractions of the
// image size in [0,1]; values above 1.5 are read as absolute pixels by the
// rasterizer for compatibility with older documents.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Mode is how a contribution combines with the selection built so far.
type Mode int

const (
	Additive Mode = iota
	Subtractive
)

func (m Mode) String() string {
	if m == Subtractive {
		return "subtractive"
	}
	return "additive"
}

// Inverted swaps additive and subtractive.
func (m Mode) Inverted() Mode {
	if m == Subtractive {
		return Additive
	}
	return Subtractive
}

// ParseMode is case-insensitive; anything but "subtractive" is additive.
func ParseMode(s string) Mode {
	if strings.EqualFold(strings.TrimSpace(s), "subtractive") {
		return Subtractive
	}
	return Additive
}

// Type selects the sub-mask variant.
type Type string

const (
	TypeBrush     Type = "brush"
	TypeLinear    Type = "linear"
	TypeRadial    Type = "radial"
	TypeAiSubject Type = "ai-subject"
)

// ParseType lower-cases s; unknown values become brush.
func ParseType(s string) Type {
	switch t := Type(strings.ToLower(strings.TrimSpace(s))); t {
	case TypeLinear, TypeRadial, TypeAiSubject:
		return t
	default:
		return TypeBrush
	}
}

// Tool is the brush tool a stroke was drawn with.
type Tool string

const (
	ToolBrush  Tool = "brush"
	ToolEraser Tool = "eraser"
)

// ParseTool returns eraser for "eraser" and brush otherwise.
func ParseTool(s string) Tool {
	if strings.EqualFold(strings.TrimSpace(s), string(ToolEraser)) {
		return ToolEraser
	}
	return ToolBrush
}

// Stroke is one painted line of a brush sub-mask.
//
// Order is drawn from the mask's StrokeCounter when the stroke is created and
// defines compositing order across every brush sub-mask of the mask.
type Stroke struct {
	Tool      Tool    `json:"tool"`
	BrushSize float64 `json:"brushSize"`
	Feather   float64 `json:"feather"`
	Order     int64   `json:"order"`
	Points    []Point `json:"points"`
}

// LinearParams describe a linear gradient.
type LinearParams struct {
	StartX float64 `json:"startX"`
	StartY float64 `json:"startY"`
	EndX   float64 `json:"endX"`
	EndY   float64 `json:"endY"`
	Range  float64 `json:"range"`
}

// DefaultLinear is the gradient a new linear sub-mask starts with.
func DefaultLinear() LinearParams {
	return LinearParams{StartX: 0.5, StartY: 0.2, EndX: 0.5, EndY: 0.8, Range: 0.25}
}

// RadialParams describe an elliptical gradient. Rotation is in degrees.
type RadialParams struct {
	CenterX  float64 `json:"centerX"`
	CenterY  float64 `json:"centerY"`
	RadiusX  float64 `json:"radiusX"`
	RadiusY  float64 `json:"radiusY"`
	Rotation float64 `json:"rotation"`
	Feather  float64 `json:"feather"`
}

// DefaultRadial is the ellipse a new radial sub-mask starts with.
func DefaultRadial() RadialParams {
	return RadialParams{CenterX: 0.5, CenterY: 0.5, RadiusX: 0.35, RadiusY: 0.35, Feather: 0.5}
}

// AiSubjectParams hold a pre-rendered subject mask. MaskDataURL is a
// data:image/png;base64 URL of a grayscale image, empty until generated.
type AiSubjectParams struct {
	MaskDataURL string  `json:"maskDataBase64,omitempty"`
	Softness    float64 `json:"softness"`
}

// DefaultAiSubject is the payload of a new AI subject sub-mask.
func DefaultAiSubject() AiSubjectParams {
	return AiSubjectParams{Softness: 0.25}
}

// SubMask is one geometric contributor to a Mask. Only the payload that
// matches Type is meaningful; the others stay at their zero value.
type SubMask struct {
	ID      string
	Type    Type
	Visible bool
	Mode    Mode

	Lines     []Stroke
	Linear    LinearParams
	Radial    RadialParams
	AiSubject AiSubjectParams
}

// NewSubMask returns a visible sub-mask of type t with a fresh id and the
// default payload for t.
func NewSubMask(t Type, mode Mode) SubMask {
	s := SubMask{ID: newID(), Type: t, Visible: true, Mode: mode}
	switch t {
	case TypeLinear:
		s.Linear = DefaultLinear()
	case TypeRadial:
		s.Radial = DefaultRadial()
	case TypeAiSubject:
		s.AiSubject = DefaultAiSubject()
	}
	return s
}

// Mask is one named local adjustment layer. SubMasks are composited in
// slice order (brush strokes by their global Order).
type Mask struct {
	ID          string
	Name        string
	Visible     bool
	Invert      bool
	Opacity     float64 // 0..100
	Adjustments Adjustments
	SubMasks    []SubMask
}

// NewMask returns a visible, fully opaque mask with neutral adjustments.
func NewMask(name string, subs ...SubMask) Mask {
	m := Mask{
		ID:          newID(),
		Name:        name,
		Visible:     true,
		Opacity:     100,
		Adjustments: LocalDefaults(),
	}
	if len(subs) > 0 {
		m.SubMasks = append([]SubMask(nil), subs...)
	}
	return m
}

// EditState is the full edit of one project.
type EditState struct {
	Adjustments Adjustments
	Masks       []Mask
}

// DefaultEditState is the state of a freshly imported project.
func DefaultEditState() EditState {
	return EditState{Adjustments: DefaultAdjustments()}
}

// ClampOpacity limits v to [0,100].
func ClampOpacity(v float64) float64 {
	return clamp(v, 0, 100)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func newID() string {
	return uuid.NewString()
}
