package mask

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"

	"github.com/Fepozopo/maskedit/pkg/logging"
)

// Wire format
//
// The edit state travels as one flat JSON object: every global adjustment
// field at top level plus "masks". Each mask is
//
//	{"id","name","visible","invert","opacity","adjustments","subMasks"}
//
// and each sub-mask is {"id","type","visible","mode","parameters"} where the
// parameters object depends on the type. Decoding is lenient: absent fields
// take their defaults, list entries that fail to decode are skipped, and
// blank ids are replaced with fresh ones.

const defaultMaskName = "Mask"

// Stroke defaults applied when a field is absent on decode.
const (
	DefaultBrushSize = 50
	DefaultFeather   = 0.5
)

type stateWire struct {
	Adjustments
	Masks []Mask `json:"masks"`
}

type stateIn struct {
	Adjustments
	Masks []json.RawMessage `json:"masks"`
}

// MarshalJSON emits the flat decoder document.
func (s EditState) MarshalJSON() ([]byte, error) {
	w := stateWire{Adjustments: s.Adjustments, Masks: s.Masks}
	if w.Masks == nil {
		w.Masks = []Mask{}
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes the flat document with defaults; see ParseEditState.
func (s *EditState) UnmarshalJSON(data []byte) error {
	in := stateIn{Adjustments: DefaultAdjustments()}
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	in.Adjustments.Curves.fillDefaults()
	out := EditState{Adjustments: in.Adjustments}
	for i, raw := range in.Masks {
		var m Mask
		if err := json.Unmarshal(raw, &m); err != nil {
			logging.Logger().Warn("skipping undecodable mask", "index", i, "err", err)
			continue
		}
		out.Masks = append(out.Masks, m)
	}
	*s = out
	return nil
}

// ParseEditState decodes data, reporting malformed documents.
func ParseEditState(data []byte) (EditState, error) {
	var s EditState
	if len(bytes.TrimSpace(data)) == 0 {
		return DefaultEditState(), nil
	}
	if err := json.Unmarshal(data, &s); err != nil {
		return DefaultEditState(), fmt.Errorf("parse edit state: %w", err)
	}
	return s, nil
}

// LoadEditState decodes persisted data and falls back to the default state
// when it cannot be read.
func LoadEditState(data []byte) EditState {
	s, err := ParseEditState(data)
	if err != nil {
		logging.Logger().Warn("persisted edit state unreadable, using defaults", "err", err)
		return DefaultEditState()
	}
	return s
}

// Encode is MarshalJSON returning a string, the form the decoder takes.
func (s EditState) Encode() (string, error) {
	b, err := s.MarshalJSON()
	if err != nil {
		return "", fmt.Errorf("encode edit state: %w", err)
	}
	return string(b), nil
}

type maskWire struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Visible     bool        `json:"visible"`
	Invert      bool        `json:"invert"`
	Opacity     float64     `json:"opacity"`
	Adjustments Adjustments `json:"adjustments"`
	SubMasks    []SubMask   `json:"subMasks"`
}

type maskIn struct {
	ID          string            `json:"id"`
	Name        *string           `json:"name"`
	Visible     bool              `json:"visible"`
	Invert      bool              `json:"invert"`
	Opacity     float64           `json:"opacity"`
	Adjustments Adjustments       `json:"adjustments"`
	SubMasks    []json.RawMessage `json:"subMasks"`
}

func (m Mask) MarshalJSON() ([]byte, error) {
	w := maskWire{
		ID:          m.ID,
		Name:        m.Name,
		Visible:     m.Visible,
		Invert:      m.Invert,
		Opacity:     ClampOpacity(m.Opacity),
		Adjustments: m.Adjustments,
		SubMasks:    m.SubMasks,
	}
	w.Adjustments.ToneMapper = ""
	if w.SubMasks == nil {
		w.SubMasks = []SubMask{}
	}
	return json.Marshal(w)
}

func (m *Mask) UnmarshalJSON(data []byte) error {
	in := maskIn{Visible: true, Opacity: 100, Adjustments: LocalDefaults()}
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	out := Mask{
		ID:          in.ID,
		Name:        defaultMaskName,
		Visible:     in.Visible,
		Invert:      in.Invert,
		Opacity:     ClampOpacity(in.Opacity),
		Adjustments: in.Adjustments,
	}
	if in.Name != nil {
		out.Name = *in.Name
	}
	if out.ID == "" {
		out.ID = newID()
	}
	out.Adjustments.ToneMapper = ""
	out.Adjustments.Curves.fillDefaults()
	for i, raw := range in.SubMasks {
		var s SubMask
		if err := json.Unmarshal(raw, &s); err != nil {
			logging.Logger().Warn("skipping undecodable sub-mask", "mask", out.ID, "index", i, "err", err)
			continue
		}
		out.SubMasks = append(out.SubMasks, s)
	}
	*m = out
	return nil
}

type subMaskWire struct {
	ID         string `json:"id"`
	Type       Type   `json:"type"`
	Visible    bool   `json:"visible"`
	Mode       string `json:"mode"`
	Parameters any    `json:"parameters"`
}

type subMaskIn struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Visible    bool            `json:"visible"`
	Mode       string          `json:"mode"`
	Parameters json.RawMessage `json:"parameters"`
}

type brushParams struct {
	Lines []Stroke `json:"lines"`
}

type brushParamsIn struct {
	Lines []json.RawMessage `json:"lines"`
}

func (s SubMask) MarshalJSON() ([]byte, error) {
	w := subMaskWire{ID: s.ID, Type: ParseType(string(s.Type)), Visible: s.Visible, Mode: s.Mode.String()}
	switch w.Type {
	case TypeLinear:
		w.Parameters = s.Linear
	case TypeRadial:
		w.Parameters = s.Radial
	case TypeAiSubject:
		p := s.AiSubject
		p.Softness = clamp(p.Softness, 0, 1)
		w.Parameters = p
	default:
		lines := make([]Stroke, len(s.Lines))
		for i, l := range s.Lines {
			if l.Tool == "" {
				l.Tool = ToolBrush
			}
			if l.Points == nil {
				l.Points = []Point{}
			}
			lines[i] = l
		}
		w.Parameters = brushParams{Lines: lines}
	}
	return json.Marshal(w)
}

func (s *SubMask) UnmarshalJSON(data []byte) error {
	in := subMaskIn{Visible: true}
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	out := SubMask{ID: in.ID, Type: ParseType(in.Type), Visible: in.Visible, Mode: ParseMode(in.Mode)}
	if out.ID == "" {
		out.ID = newID()
	}
	params := in.Parameters
	if len(bytes.TrimSpace(params)) == 0 || bytes.Equal(bytes.TrimSpace(params), []byte("null")) {
		params = []byte("{}")
	}
	switch out.Type {
	case TypeLinear:
		out.Linear = DefaultLinear()
		if err := json.Unmarshal(params, &out.Linear); err != nil {
			return fmt.Errorf("linear parameters: %w", err)
		}
	case TypeRadial:
		out.Radial = DefaultRadial()
		if err := json.Unmarshal(params, &out.Radial); err != nil {
			return fmt.Errorf("radial parameters: %w", err)
		}
	case TypeAiSubject:
		out.AiSubject = DefaultAiSubject()
		if err := json.Unmarshal(params, &out.AiSubject); err != nil {
			return fmt.Errorf("ai-subject parameters: %w", err)
		}
		out.AiSubject.Softness = clamp(out.AiSubject.Softness, 0, 1)
	default:
		var bp brushParamsIn
		if err := json.Unmarshal(params, &bp); err != nil {
			return fmt.Errorf("brush parameters: %w", err)
		}
		for i, raw := range bp.Lines {
			l, err := decodeStroke(raw)
			if err != nil {
				logging.Logger().Warn("skipping undecodable stroke", "subMask", out.ID, "index", i, "err", err)
				continue
			}
			out.Lines = append(out.Lines, l)
		}
	}
	*s = out
	return nil
}

type strokeIn struct {
	Tool      string            `json:"tool"`
	BrushSize float64           `json:"brushSize"`
	Feather   float64           `json:"feather"`
	Order     float64           `json:"order"`
	Points    []json.RawMessage `json:"points"`
}

func decodeStroke(raw json.RawMessage) (Stroke, error) {
	in := strokeIn{Tool: string(ToolBrush), BrushSize: DefaultBrushSize, Feather: DefaultFeather}
	if err := json.Unmarshal(raw, &in); err != nil {
		return Stroke{}, err
	}
	out := Stroke{
		Tool:      ParseTool(in.Tool),
		BrushSize: in.BrushSize,
		Feather:   in.Feather,
		Order:     int64(math.Round(in.Order)),
	}
	for _, pr := range in.Points {
		var p Point
		if err := json.Unmarshal(pr, &p); err != nil {
			continue
		}
		out.Points = append(out.Points, p)
	}
	return out, nil
}
