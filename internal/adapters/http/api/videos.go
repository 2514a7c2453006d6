package api

import (
	"context"
	"net/http"
)

// VideoDependencies resolves items to local files.
type VideoDependencies interface {
	VideoPath(ctx context.Context, itemID string) (string, error)
}

// VideosHandler streams video files.
type VideosHandler struct {
	deps VideoDependencies
}

// NewVideosHandler creates a new videos handler.
func NewVideosHandler(deps VideoDependencies) *VideosHandler {
	return &VideosHandler{deps: deps}
}

// HandleVideo handles GET /videos/{item} requests. Range requests are
// honoured so players can seek.
func (h *VideosHandler) HandleVideo(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_video"
	path, err := h.deps.VideoPath(r.Context(), r.PathValue("item"))
	if err != nil {
		fail(w, op, err)
		return
	}
	w.Header().Set("Cache-Control", "private, max-age=3600")
	http.ServeFile(w, r, path)
}
