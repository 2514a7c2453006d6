package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/okian/kickrate/internal/domain/model"
	"github.com/okian/kickrate/pkg/logger"
	"gopkg.in/yaml.v3"
)

// scaleEntry is one list item of the rating scales file.
type scaleEntry struct {
	Title     string   `yaml:"title"`
	Type      string   `yaml:"type"`
	Values    []int    `yaml:"values"`
	SliderMin *float64 `yaml:"slider_min"`
	SliderMax *float64 `yaml:"slider_max"`
	LabelLow  string   `yaml:"label_low"`
	LabelHigh string   `yaml:"label_high"`
	Required  *bool    `yaml:"required_to_proceed"`
	Active    bool     `yaml:"active"`
}

// fieldEntry is one list item of the questionnaire file.
type fieldEntry struct {
	Name    string   `yaml:"name"`
	Label   string   `yaml:"label"`
	Type    string   `yaml:"type"`
	Options []string `yaml:"options"`
	Help    string   `yaml:"help"`
	Active  bool     `yaml:"active"`
}

// LoadScales reads the active rating scales in file order. A missing file is
// ErrConfigurationMissing because no session can start without scales.
func LoadScales(path string) (model.ScaleSet, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: rating scales file %s", ErrConfigurationMissing, path)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}

	var entries []scaleEntry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %w", ErrLoadConfig, path, err)
	}

	scales := make(model.ScaleSet, 0, len(entries))
	for _, e := range entries {
		if !e.Active {
			continue
		}
		if e.Title == "" {
			return nil, fmt.Errorf("%w: scale without title in %s", ErrInvalidConfig, path)
		}
		kind, err := model.ParseScaleKind(e.Type)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
		spec := model.ScaleSpec{
			Title:     e.Title,
			Kind:      kind,
			LabelLow:  e.LabelLow,
			LabelHigh: e.LabelHigh,
			Required:  e.Required == nil || *e.Required,
		}
		switch kind {
		case model.KindDiscrete:
			spec.Values = e.Values
			if len(spec.Values) == 0 {
				spec.Values = model.DefaultDiscreteValues
			}
		case model.KindRange:
			spec.Min, spec.Max = 0, 100
			if e.SliderMin != nil {
				spec.Min = *e.SliderMin
			}
			if e.SliderMax != nil {
				spec.Max = *e.SliderMax
			}
			if spec.Min > spec.Max {
				return nil, fmt.Errorf("%w: scale %q has slider_min > slider_max", ErrInvalidConfig, e.Title)
			}
		}
		scales = append(scales, spec)
	}
	if err := scales.CheckUnique(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return scales, nil
}

// LoadQuestionnaire reads the active demographic fields. A missing file yields
// no fields and a warning.
func LoadQuestionnaire(ctx context.Context, path string) ([]model.QuestionnaireField, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		logger.Get().Warn(ctx, "questionnaire file not found, using no fields", logger.String("path", path))
		return []model.QuestionnaireField{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}

	var entries []fieldEntry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %w", ErrLoadConfig, path, err)
	}

	fields := make([]model.QuestionnaireField, 0, len(entries))
	for _, e := range entries {
		if !e.Active || e.Name == "" {
			continue
		}
		fields = append(fields, model.QuestionnaireField{
			Name:    e.Name,
			Label:   e.Label,
			Type:    e.Type,
			Options: e.Options,
			Help:    e.Help,
		})
	}
	return fields, nil
}
