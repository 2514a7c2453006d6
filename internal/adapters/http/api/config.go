package api

import (
	"net/http"

	"github.com/okian/kickrate/internal/domain/model"
)

// ConfigDependencies exposes the survey configuration clients render.
type ConfigDependencies interface {
	Scales() model.ScaleSet
	Questionnaire() []model.QuestionnaireField
	PlaybackMode() string
}

// ConfigHandler serves scales and questionnaire fields.
type ConfigHandler struct {
	deps ConfigDependencies
}

// NewConfigHandler creates a new config handler.
func NewConfigHandler(deps ConfigDependencies) *ConfigHandler {
	return &ConfigHandler{deps: deps}
}

type scalesResponse struct {
	Scales       model.ScaleSet `json:"scales"`
	PlaybackMode string         `json:"playback_mode"`
}

type questionnaireResponse struct {
	Fields []model.QuestionnaireField `json:"fields"`
}

// HandleScales handles GET /scales requests.
func (h *ConfigHandler) HandleScales(w http.ResponseWriter, _ *http.Request) {
	scales := h.deps.Scales()
	if scales == nil {
		scales = model.ScaleSet{}
	}
	writeJSON(w, http.StatusOK, scalesResponse{Scales: scales, PlaybackMode: h.deps.PlaybackMode()})
}

// HandleQuestionnaire handles GET /questionnaire requests.
func (h *ConfigHandler) HandleQuestionnaire(w http.ResponseWriter, _ *http.Request) {
	fields := h.deps.Questionnaire()
	if fields == nil {
		fields = []model.QuestionnaireField{}
	}
	writeJSON(w, http.StatusOK, questionnaireResponse{Fields: fields})
}
