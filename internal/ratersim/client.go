package ratersim

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/goccy/go-json"
	"github.com/okian/kickrate/internal/domain/model"
)

// ErrUnexpectedStatus is returned for responses the simulator cannot use.
var ErrUnexpectedStatus = errors.New("unexpected status")

type scalesResponse struct {
	Scales       model.ScaleSet `json:"scales"`
	PlaybackMode string         `json:"playback_mode"`
}

type sessionResponse struct {
	SessionID   string `json:"session_id"`
	UserID      string `json:"user_id"`
	State       string `json:"state"`
	CurrentItem string `json:"current_item"`
	Total       int    `json:"total"`
	Remaining   int    `json:"remaining"`
}

type ratingResponse struct {
	Status  string          `json:"status"`
	Session sessionResponse `json:"session"`
}

type ratingRequest struct {
	ItemID    string         `json:"item_id"`
	Responses map[string]any `json:"responses"`
}

// client is a thin JSON client for the rating API.
type client struct {
	base string
	http *http.Client
}

func newClient(base string, hc *http.Client) *client {
	return &client{base: base, http: hc}
}

func (c *client) do(ctx context.Context, method, path string, body, out any) (int, error) {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("marshal request: %w", err)
		}
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, r)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("read response: %w", err)
	}
	if out != nil && resp.StatusCode < http.StatusMultipleChoices && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

func (c *client) health(ctx context.Context) error {
	status, err := c.do(ctx, http.MethodGet, "/healthz", nil, nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("%w: healthz %d", ErrUnexpectedStatus, status)
	}
	return nil
}

func (c *client) scales(ctx context.Context) (model.ScaleSet, error) {
	var out scalesResponse
	status, err := c.do(ctx, http.MethodGet, "/scales", nil, &out)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("%w: scales %d", ErrUnexpectedStatus, status)
	}
	return out.Scales, nil
}

func (c *client) stats(ctx context.Context) (map[string]any, error) {
	out := map[string]any{}
	status, err := c.do(ctx, http.MethodGet, "/stats", nil, &out)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("%w: stats %d", ErrUnexpectedStatus, status)
	}
	return out, nil
}

func (c *client) startSession(ctx context.Context, userID string) (sessionResponse, error) {
	var out sessionResponse
	status, err := c.do(ctx, http.MethodPost, "/sessions", map[string]string{"user_id": userID}, &out)
	if err != nil {
		return out, err
	}
	if status != http.StatusCreated {
		return out, fmt.Errorf("%w: start session %d", ErrUnexpectedStatus, status)
	}
	return out, nil
}

// submit posts one rating and maps the status to an outcome.
func (c *client) submit(ctx context.Context, sessionID string, req ratingRequest) (string, sessionResponse, error) {
	var out ratingResponse
	status, err := c.do(ctx, http.MethodPost, "/sessions/"+url.PathEscape(sessionID)+"/ratings", req, &out)
	if err != nil {
		return outcomeFailed, out.Session, err
	}
	switch status {
	case http.StatusCreated:
		return outcomeAccepted, out.Session, nil
	case http.StatusOK:
		return outcomeDuplicate, out.Session, nil
	case http.StatusConflict:
		return outcomeConflict, out.Session, nil
	}
	return outcomeFailed, out.Session, fmt.Errorf("%w: submit %d", ErrUnexpectedStatus, status)
}

func (c *client) endSession(ctx context.Context, sessionID string) error {
	status, err := c.do(ctx, http.MethodDelete, "/sessions/"+url.PathEscape(sessionID), nil, nil)
	if err != nil {
		return err
	}
	if status != http.StatusNoContent && status != http.StatusNotFound {
		return fmt.Errorf("%w: end session %d", ErrUnexpectedStatus, status)
	}
	return nil
}
