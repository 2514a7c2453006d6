package model

import (
	"maps"
	"math"
	"strconv"
	"strings"
)

// Questionnaire field names the identity scheme reads.
const (
	FieldMotherInitials = "mother_initials"
	FieldFatherInitials = "father_initials"
	FieldSiblings       = "siblings"
	FieldBirthDay       = "birth_day"
	FieldBirthMonth     = "birth_month"
	FieldBirthYear      = "birth_year"
)

// QuestionnaireField describes one demographic question.
type QuestionnaireField struct {
	Name    string   `json:"name"`
	Label   string   `json:"label,omitempty"`
	Type    string   `json:"type,omitempty"`
	Options []string `json:"options,omitempty"`
	Help    string   `json:"help,omitempty"`
}

// Profile holds a participant's questionnaire answers keyed by field name.
// It is the single canonical representation; typed accessors read from it.
type Profile map[string]any

// NewProfile copies answers, keeping only the named active fields. With no
// fields every answer is kept.
func NewProfile(answers map[string]any, fields []QuestionnaireField) Profile {
	p := make(Profile, len(answers))
	if len(fields) == 0 {
		maps.Copy(p, answers)
		return p
	}
	for _, f := range fields {
		if v, ok := answers[f.Name]; ok {
			p[f.Name] = v
		}
	}
	return p
}

// MotherInitials returns the lowercased first two characters of the answer.
func (p Profile) MotherInitials() string { return p.initials(FieldMotherInitials) }

// FatherInitials returns the lowercased first two characters of the answer.
func (p Profile) FatherInitials() string { return p.initials(FieldFatherInitials) }

// Siblings returns the number of siblings, 0 when absent or unparseable.
func (p Profile) Siblings() int { return p.integer(FieldSiblings) }

// BirthDay returns the day of birth, 0 when absent or unparseable.
func (p Profile) BirthDay() int { return p.integer(FieldBirthDay) }

// BirthMonth returns the month of birth, 0 when absent or unparseable.
func (p Profile) BirthMonth() int { return p.integer(FieldBirthMonth) }

// BirthYear returns the year of birth, 0 when absent or unparseable.
func (p Profile) BirthYear() int { return p.integer(FieldBirthYear) }

func (p Profile) initials(field string) string {
	s, _ := p[field].(string)
	runes := []rune(strings.ToLower(s))
	if len(runes) > 2 {
		runes = runes[:2]
	}
	return string(runes)
}

func (p Profile) integer(field string) int {
	switch v := p[field].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0
		}
		return int(v)
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0
		}
		return n
	}
	return 0
}
