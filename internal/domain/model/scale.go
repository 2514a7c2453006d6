// Package model contains domain models passed between layers.
package model

import (
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/goccy/go-json"
)

// ScaleKind selects which ScaleValue variant a scale accepts.
type ScaleKind string

const (
	KindDiscrete ScaleKind = "discrete" // one choice out of an enumerated set
	KindRange    ScaleKind = "slider"   // continuous value in [Min, Max]
	KindText     ScaleKind = "text"     // free text
)

// ParseScaleKind maps a configured type name to a ScaleKind. Empty means discrete.
func ParseScaleKind(s string) (ScaleKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "discrete":
		return KindDiscrete, nil
	case "slider", "range":
		return KindRange, nil
	case "text":
		return KindText, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownScaleKind, s)
	}
}

// DefaultDiscreteValues is used when a discrete scale lists no values.
var DefaultDiscreteValues = []int{1, 2, 3, 4, 5, 6, 7}

// ScaleSpec describes one rating scale shown for every item.
type ScaleSpec struct {
	Title     string    `json:"title"`
	Kind      ScaleKind `json:"kind"`
	Values    []int     `json:"values,omitempty"`
	Min       float64   `json:"min,omitempty"`
	Max       float64   `json:"max,omitempty"`
	LabelLow  string    `json:"label_low,omitempty"`
	LabelHigh string    `json:"label_high,omitempty"`
	Required  bool      `json:"required_to_proceed"`
}

// Allows reports whether v is the variant this scale accepts and lies in its domain.
func (s ScaleSpec) Allows(v ScaleValue) bool {
	if v.kind != s.Kind {
		return false
	}
	switch s.Kind {
	case KindDiscrete:
		values := s.Values
		if len(values) == 0 {
			values = DefaultDiscreteValues
		}
		return slices.Contains(values, v.discrete)
	case KindRange:
		return !math.IsNaN(v.rng) && v.rng >= s.Min && v.rng <= s.Max
	case KindText:
		return true
	}
	return false
}

// Parse converts a decoded JSON scalar into the variant this scale accepts.
// A nil input yields the zero ScaleValue, which counts as no answer.
func (s ScaleSpec) Parse(raw any) (ScaleValue, error) {
	if raw == nil {
		return ScaleValue{}, nil
	}
	switch s.Kind {
	case KindDiscrete:
		f, ok := raw.(float64)
		if !ok || f != math.Trunc(f) {
			return ScaleValue{}, fmt.Errorf("%w: %q expects an integer choice", ErrIllegalValue, s.Title)
		}
		return DiscreteValue(int(f)), nil
	case KindRange:
		f, ok := raw.(float64)
		if !ok {
			return ScaleValue{}, fmt.Errorf("%w: %q expects a number", ErrIllegalValue, s.Title)
		}
		return RangeValue(f), nil
	case KindText:
		str, ok := raw.(string)
		if !ok {
			return ScaleValue{}, fmt.Errorf("%w: %q expects text", ErrIllegalValue, s.Title)
		}
		return TextValue(str), nil
	}
	return ScaleValue{}, fmt.Errorf("%w: %q", ErrUnknownScaleKind, s.Kind)
}

// ScaleValue is a tagged variant holding one scale response.
type ScaleValue struct {
	kind     ScaleKind
	discrete int
	rng      float64
	text     string
}

// DiscreteValue builds a response for a discrete scale.
func DiscreteValue(v int) ScaleValue { return ScaleValue{kind: KindDiscrete, discrete: v} }

// RangeValue builds a response for a slider scale.
func RangeValue(v float64) ScaleValue { return ScaleValue{kind: KindRange, rng: v} }

// TextValue builds a response for a free-text scale.
func TextValue(v string) ScaleValue { return ScaleValue{kind: KindText, text: v} }

// Kind returns the variant tag; empty for the zero value.
func (v ScaleValue) Kind() ScaleKind { return v.kind }

// Discrete returns the discrete choice and whether v holds one.
func (v ScaleValue) Discrete() (int, bool) { return v.discrete, v.kind == KindDiscrete }

// Range returns the slider value and whether v holds one.
func (v ScaleValue) Range() (float64, bool) { return v.rng, v.kind == KindRange }

// Text returns the text and whether v holds one.
func (v ScaleValue) Text() (string, bool) { return v.text, v.kind == KindText }

// IsEmpty reports whether v counts as no answer.
func (v ScaleValue) IsEmpty() bool {
	switch v.kind {
	case "":
		return true
	case KindText:
		return strings.TrimSpace(v.text) == ""
	}
	return false
}

// Value returns the underlying scalar for export.
func (v ScaleValue) Value() any {
	switch v.kind {
	case KindDiscrete:
		return v.discrete
	case KindRange:
		return v.rng
	case KindText:
		return v.text
	}
	return nil
}

type scaleValueJSON struct {
	Kind  ScaleKind       `json:"kind"`
	Value json.RawMessage `json:"value"`
}

// MarshalJSON encodes v as {"kind": ..., "value": ...}.
func (v ScaleValue) MarshalJSON() ([]byte, error) {
	raw, err := json.Marshal(v.Value())
	if err != nil {
		return nil, err
	}
	return json.Marshal(scaleValueJSON{Kind: v.kind, Value: raw})
}

// UnmarshalJSON decodes the form written by MarshalJSON.
func (v *ScaleValue) UnmarshalJSON(data []byte) error {
	var w scaleValueJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	switch w.Kind {
	case KindDiscrete:
		var i int
		if err := json.Unmarshal(w.Value, &i); err != nil {
			return err
		}
		*v = DiscreteValue(i)
	case KindRange:
		var f float64
		if err := json.Unmarshal(w.Value, &f); err != nil {
			return err
		}
		*v = RangeValue(f)
	case KindText:
		var s string
		if err := json.Unmarshal(w.Value, &s); err != nil {
			return err
		}
		*v = TextValue(s)
	case "":
		*v = ScaleValue{}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownScaleKind, w.Kind)
	}
	return nil
}

// ScaleSet is the ordered list of active scales.
type ScaleSet []ScaleSpec

// Lookup returns the scale with the given title.
func (s ScaleSet) Lookup(title string) (ScaleSpec, bool) {
	for _, spec := range s {
		if spec.Title == title {
			return spec, true
		}
	}
	return ScaleSpec{}, false
}

// Required returns the titles of scales that gate submission.
func (s ScaleSet) Required() []string {
	var out []string
	for _, spec := range s {
		if spec.Required {
			out = append(out, spec.Title)
		}
	}
	return out
}

// CheckUnique returns an error naming the first duplicated title.
func (s ScaleSet) CheckUnique() error {
	seen := make(map[string]struct{}, len(s))
	for _, spec := range s {
		if _, dup := seen[spec.Title]; dup {
			return fmt.Errorf("%w: %q", ErrDuplicateScale, spec.Title)
		}
		seen[spec.Title] = struct{}{}
	}
	return nil
}

// ValidationError lists the scales that blocked a submission.
type ValidationError struct {
	Missing []string // required scales without a value
	Illegal []string // values of the wrong variant, out of domain, or for unknown scales
}

func (e *ValidationError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing required scales: "+strings.Join(e.Missing, ", "))
	}
	if len(e.Illegal) > 0 {
		parts = append(parts, "illegal values for: "+strings.Join(e.Illegal, ", "))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Unwrap lets callers match ErrValidationFailed.
func (e *ValidationError) Unwrap() error { return ErrValidationFailed }

// Validate checks a submission's responses. Every non-empty value must be legal for
// its scale. Required scales must be answered unless the item was flagged as not
// recognized.
func (s ScaleSet) Validate(responses map[string]ScaleValue, flagged bool) error {
	verr := &ValidationError{}

	titles := make([]string, 0, len(responses))
	for title := range responses {
		titles = append(titles, title)
	}
	slices.Sort(titles)
	for _, title := range titles {
		v := responses[title]
		if v.IsEmpty() {
			continue
		}
		spec, ok := s.Lookup(title)
		if !ok || !spec.Allows(v) {
			verr.Illegal = append(verr.Illegal, title)
		}
	}

	if !flagged {
		for _, title := range s.Required() {
			if responses[title].IsEmpty() {
				verr.Missing = append(verr.Missing, title)
			}
		}
	}

	if len(verr.Missing) > 0 || len(verr.Illegal) > 0 {
		return verr
	}
	return nil
}
