package api

import (
	"context"
	"net/http"
	"strings"
)

// IdentityDependencies derives and checks participant ids.
type IdentityDependencies interface {
	DeriveIdentity(answers map[string]any) string
	IdentityExists(ctx context.Context, id string) bool
	SaveProfile(ctx context.Context, answers map[string]any) (string, error)
}

// IdentityHandler handles identity and profile requests.
type IdentityHandler struct {
	deps IdentityDependencies
}

// NewIdentityHandler creates a new identity handler.
func NewIdentityHandler(deps IdentityDependencies) *IdentityHandler {
	return &IdentityHandler{deps: deps}
}

// answersRequest mirrors the OpenAPI schema for POST /identity and POST /profiles.
type answersRequest struct {
	Answers map[string]any `json:"answers" validate:"required"`
}

type identityResponse struct {
	UserID string `json:"user_id"`
	Exists bool   `json:"exists"`
}

// HandleDerive handles POST /identity requests.
func (h *IdentityHandler) HandleDerive(w http.ResponseWriter, r *http.Request) {
	const op = "api.derive_identity"
	var req answersRequest
	if err := decode(op, r, &req); err != nil {
		fail(w, op, err)
		return
	}
	id := h.deps.DeriveIdentity(req.Answers)
	writeJSON(w, http.StatusOK, identityResponse{UserID: id, Exists: h.deps.IdentityExists(r.Context(), id)})
}

// HandleExists handles GET /identity/{id} requests. Unknown ids answer 404
// so a login form can tell them apart.
func (h *IdentityHandler) HandleExists(w http.ResponseWriter, r *http.Request) {
	const op = "api.identity_exists"
	id := strings.ToLower(strings.TrimSpace(r.PathValue("id")))
	if id == "" {
		fail(w, op, NewKind(op, ErrBadRequest))
		return
	}
	if !h.deps.IdentityExists(r.Context(), id) {
		writeJSON(w, http.StatusNotFound, identityResponse{UserID: id})
		return
	}
	writeJSON(w, http.StatusOK, identityResponse{UserID: id, Exists: true})
}

// HandleSaveProfile handles POST /profiles requests.
func (h *IdentityHandler) HandleSaveProfile(w http.ResponseWriter, r *http.Request) {
	const op = "api.save_profile"
	var req answersRequest
	if err := decode(op, r, &req); err != nil {
		fail(w, op, err)
		return
	}
	id, err := h.deps.SaveProfile(r.Context(), req.Answers)
	if err != nil {
		fail(w, op, err)
		return
	}
	writeJSON(w, http.StatusCreated, identityResponse{UserID: id, Exists: h.deps.IdentityExists(r.Context(), id)})
}
