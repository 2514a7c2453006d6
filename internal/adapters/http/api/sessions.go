package api

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/okian/kickrate/internal/adapters/metadata"
	service "github.com/okian/kickrate/internal/app"
	"github.com/okian/kickrate/internal/domain/model"
	"github.com/okian/kickrate/internal/domain/session"
)

// SessionDependencies drives rating sessions.
type SessionDependencies interface {
	StartSession(ctx context.Context, userID string) (service.View, error)
	GetSession(ctx context.Context, id string) (service.View, error)
	Submit(ctx context.Context, id string, sub session.Submission) (service.View, model.RatingRecord, error)
	EndSession(ctx context.Context, id string) error
	ParseResponses(raw map[string]any) (map[string]model.ScaleValue, error)
}

// SessionsHandler handles session lifecycle and rating submissions.
type SessionsHandler struct {
	deps SessionDependencies
}

// NewSessionsHandler creates a new sessions handler.
func NewSessionsHandler(deps SessionDependencies) *SessionsHandler {
	return &SessionsHandler{deps: deps}
}

type startSessionRequest struct {
	UserID string `json:"user_id" validate:"required"`
}

type ratingRequest struct {
	ItemID       string         `json:"item_id" validate:"required"`
	Responses    map[string]any `json:"responses"`
	Unrecognized bool           `json:"flagged_unrecognized"`
}

type sessionResponse struct {
	SessionID    string           `json:"session_id"`
	UserID       string           `json:"user_id"`
	State        string           `json:"state"`
	CurrentItem  string           `json:"current_item,omitempty"`
	VideoURL     string           `json:"video_url,omitempty"`
	Position     int              `json:"position"`
	Total        int              `json:"total"`
	Remaining    int              `json:"remaining"`
	Upcoming     []string         `json:"upcoming,omitempty"`
	Action       *metadata.Action `json:"action,omitempty"`
	PlaybackMode string           `json:"playback_mode"`
	Fallback     bool             `json:"fallback,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
}

type ratingResponse struct {
	Status  string              `json:"status"`
	Record  *model.RatingRecord `json:"record,omitempty"`
	Session sessionResponse     `json:"session"`
}

func toSessionResponse(v service.View) sessionResponse {
	resp := sessionResponse{
		SessionID:    v.ID,
		UserID:       v.UserID,
		State:        v.State.String(),
		CurrentItem:  v.CurrentItem,
		Position:     v.Position,
		Total:        v.Total,
		Remaining:    v.Remaining,
		Upcoming:     v.Upcoming,
		Action:       v.Action,
		PlaybackMode: v.PlaybackMode,
		Fallback:     v.Fallback,
		CreatedAt:    v.CreatedAt,
	}
	if v.CurrentItem != "" {
		resp.VideoURL = "/videos/" + url.PathEscape(v.CurrentItem)
	}
	return resp
}

// HandleStart handles POST /sessions requests.
func (h *SessionsHandler) HandleStart(w http.ResponseWriter, r *http.Request) {
	const op = "api.start_session"
	var req startSessionRequest
	if err := decode(op, r, &req); err != nil {
		fail(w, op, err)
		return
	}
	v, err := h.deps.StartSession(r.Context(), req.UserID)
	if err != nil {
		fail(w, op, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSessionResponse(v))
}

// HandleGet handles GET /sessions/{id} requests.
func (h *SessionsHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_session"
	v, err := h.deps.GetSession(r.Context(), r.PathValue("id"))
	if err != nil {
		fail(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(v))
}

// HandleEnd handles DELETE /sessions/{id} requests. Stored ratings are kept.
func (h *SessionsHandler) HandleEnd(w http.ResponseWriter, r *http.Request) {
	const op = "api.end_session"
	if err := h.deps.EndSession(r.Context(), r.PathValue("id")); err != nil {
		fail(w, op, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleSubmit handles POST /sessions/{id}/ratings requests.
//
// A pair the participant already rated is skipped and answered with status
// "duplicate" so clients simply move on to the next item.
func (h *SessionsHandler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	const op = "api.submit_rating"
	var req ratingRequest
	if err := decode(op, r, &req); err != nil {
		fail(w, op, err)
		return
	}
	responses, err := h.deps.ParseResponses(req.Responses)
	if err != nil {
		fail(w, op, err)
		return
	}

	v, record, err := h.deps.Submit(r.Context(), r.PathValue("id"), session.Submission{
		ItemID:       req.ItemID,
		Responses:    responses,
		Unrecognized: req.Unrecognized,
	})
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, ratingResponse{Status: "accepted", Record: &record, Session: toSessionResponse(v)})
	case errors.Is(err, session.ErrAlreadyRated):
		writeJSON(w, http.StatusOK, ratingResponse{Status: "duplicate", Session: toSessionResponse(v)})
	default:
		fail(w, op, err)
	}
}
