// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/okian/kickrate/internal/adapters/catalog"
	repository "github.com/okian/kickrate/internal/adapters/repository"
	service "github.com/okian/kickrate/internal/app"
	"github.com/okian/kickrate/internal/domain/model"
	"github.com/okian/kickrate/internal/domain/session"
)

const maxBodyBytes = 1 << 20

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	IdentityDependencies
	SessionDependencies
	ConfigDependencies
	VideoDependencies
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler   *HealthHandler
	statsHandler    *StatsHandler
	configHandler   *ConfigHandler
	identityHandler *IdentityHandler
	sessionsHandler *SessionsHandler
	videosHandler   *VideosHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider) *Server {
	return &Server{
		healthHandler:   NewHealthHandler(),
		statsHandler:    NewStatsHandler(statsProvider),
		configHandler:   NewConfigHandler(deps),
		identityHandler: NewIdentityHandler(deps),
		sessionsHandler: NewSessionsHandler(deps),
		videosHandler:   NewVideosHandler(deps),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("GET /stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	mux.HandleFunc("GET /scales", MetricsMiddleware(s.configHandler.HandleScales, "scales"))
	mux.HandleFunc("GET /questionnaire", MetricsMiddleware(s.configHandler.HandleQuestionnaire, "questionnaire"))
	mux.HandleFunc("POST /identity", MetricsMiddleware(s.identityHandler.HandleDerive, "identity"))
	mux.HandleFunc("GET /identity/{id}", MetricsMiddleware(s.identityHandler.HandleExists, "identity_exists"))
	mux.HandleFunc("POST /profiles", MetricsMiddleware(s.identityHandler.HandleSaveProfile, "profiles"))
	mux.HandleFunc("POST /sessions", MetricsMiddleware(s.sessionsHandler.HandleStart, "sessions"))
	mux.HandleFunc("GET /sessions/{id}", MetricsMiddleware(s.sessionsHandler.HandleGet, "session"))
	mux.HandleFunc("DELETE /sessions/{id}", MetricsMiddleware(s.sessionsHandler.HandleEnd, "session"))
	mux.HandleFunc("POST /sessions/{id}/ratings", MetricsMiddleware(s.sessionsHandler.HandleSubmit, "ratings"))
	mux.HandleFunc("GET /videos/{item}", MetricsMiddleware(s.videosHandler.HandleVideo, "videos"))
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// decode reads a JSON body into v and validates its struct tags.
func decode(op string, r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return WrapKind(op, ErrBadRequest, err)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return WrapKind(op, ErrBadRequest, err)
	}
	if err := getValidator().Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s failed %s", strings.ToLower(fe.Field()), fe.Tag()))
			}
			return WrapKind(op, ErrBadRequest, errors.New(strings.Join(fields, "; ")))
		}
		return WrapKind(op, ErrBadRequest, err)
	}
	return nil
}

type errorResponse struct {
	Code    string   `json:"code"`
	Message string   `json:"message"`
	Missing []string `json:"missing,omitempty"`
	Illegal []string `json:"illegal,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	resp := errorResponse{Code: code, Message: msg}
	var verr *model.ValidationError
	if errors.As(err, &verr) {
		resp.Missing = verr.Missing
		resp.Illegal = verr.Illegal
	}
	writeJSON(w, status, resp)
}

// classify maps domain sentinels to an API kind.
func classify(err error) error {
	switch {
	case errors.Is(err, service.ErrSessionNotFound), errors.Is(err, catalog.ErrItemNotFound),
		errors.Is(err, repository.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, service.ErrInvalidUser), errors.Is(err, catalog.ErrInvalidItem),
		errors.Is(err, repository.ErrInvalidID):
		return ErrBadRequest
	case errors.Is(err, model.ErrValidationFailed):
		return ErrInvalid
	case errors.Is(err, session.ErrWrongItem), errors.Is(err, session.ErrExhausted),
		errors.Is(err, session.ErrAlreadyRated), errors.Is(err, session.ErrNotStarted):
		return ErrConflict
	case errors.Is(err, service.ErrConfigurationMissing), errors.Is(err, session.ErrWriteFailed),
		errors.Is(err, catalog.ErrSourceUnavailable):
		return ErrUnavailable
	}
	return ErrInternal
}

// fail writes err with the status its kind maps to.
func fail(w http.ResponseWriter, op string, err error) {
	err = Wrap(op, err)
	switch {
	case errors.Is(err, ErrBadRequest):
		writeError(w, http.StatusBadRequest, "bad_request", err)
	case errors.Is(err, ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err)
	case errors.Is(err, ErrConflict):
		writeError(w, http.StatusConflict, "conflict", err)
	case errors.Is(err, ErrInvalid):
		writeError(w, http.StatusUnprocessableEntity, "validation_failed", err)
	case errors.Is(err, ErrUnavailable):
		writeError(w, http.StatusServiceUnavailable, "unavailable", err)
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err)
	}
}
