// Package metadata looks up descriptive data for video items in a duckdb
// events table: team, player, jersey number, action type, body part and the
// start/end pitch coordinates.
package metadata

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/okian/kickrate/pkg/logger"
	"github.com/okian/kickrate/pkg/metrics"
)

// Action describes the football action shown in one item.
type Action struct {
	ID           string   `json:"id"`
	Team         string   `json:"team,omitempty"`
	Player       string   `json:"player,omitempty"`
	JerseyNumber string   `json:"jersey_number,omitempty"`
	Type         string   `json:"type,omitempty"`
	BodyPart     string   `json:"bodypart,omitempty"`
	StartX       *float64 `json:"start_x,omitempty"`
	StartY       *float64 `json:"start_y,omitempty"`
	EndX         *float64 `json:"end_x,omitempty"`
	EndY         *float64 `json:"end_y,omitempty"`
}

// Lookup reads actions from an events table keyed by id.
type Lookup struct {
	db  *sql.DB
	log logger.Logger
}

// Open connects to the duckdb file at path in read-only mode.
func Open(path string) (*Lookup, error) {
	db, err := sql.Open("duckdb", path+"?access_mode=READ_ONLY")
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping duckdb: %w", err)
	}
	return New(db), nil
}

// New wraps an open database handle.
func New(db *sql.DB) *Lookup {
	return &Lookup{db: db, log: logger.Get().Named("metadata")}
}

// Actions returns metadata for the given ids. Any failure is logged and
// yields an empty result; metadata is never required to rate an item.
func (l *Lookup) Actions(ctx context.Context, ids []string) map[string]Action {
	out := make(map[string]Action, len(ids))
	if l == nil || len(ids) == 0 {
		return out
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := l.db.QueryContext(ctx, "SELECT * FROM events WHERE CAST(id AS VARCHAR) IN ("+placeholders+")", args...)
	if err != nil {
		l.degrade(ctx, "query events", err)
		return out
	}
	defer func() { _ = rows.Close() }()

	cols, err := rows.Columns()
	if err != nil {
		l.degrade(ctx, "read columns", err)
		return out
	}
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			l.degrade(ctx, "scan event", err)
			return map[string]Action{}
		}
		a := toAction(cols, values)
		out[a.ID] = a
	}
	if err := rows.Err(); err != nil {
		l.degrade(ctx, "iterate events", err)
		return map[string]Action{}
	}
	return out
}

// Action returns metadata for one id.
func (l *Lookup) Action(ctx context.Context, id string) (Action, bool) {
	a, ok := l.Actions(ctx, []string{id})[id]
	return a, ok
}

// Close closes the database handle.
func (l *Lookup) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}

func (l *Lookup) degrade(ctx context.Context, op string, err error) {
	l.log.Warn(ctx, "metadata lookup failed, continuing without metadata",
		logger.String("op", op), logger.Error(err))
	metrics.RecordErrorByComponent("metadata", op)
}

func toAction(cols []string, values []any) Action {
	var a Action
	for i, col := range cols {
		v := values[i]
		switch strings.ToLower(col) {
		case "id":
			a.ID = asString(v)
		case "team":
			a.Team = asString(v)
		case "player":
			a.Player = asString(v)
		case "jersey_number":
			a.JerseyNumber = asString(v)
		case "type":
			a.Type = asString(v)
		case "bodypart":
			a.BodyPart = asString(v)
		case "start_x":
			a.StartX = asFloat(v)
		case "start_y":
			a.StartY = asFloat(v)
		case "end_x":
			a.EndX = asFloat(v)
		case "end_y":
			a.EndY = asFloat(v)
		}
	}
	return a
}

func asString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}

func asFloat(v any) *float64 {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case float32:
		f = float64(t)
	case int8:
		f = float64(t)
	case int16:
		f = float64(t)
	case int32:
		f = float64(t)
	case int64:
		f = float64(t)
	case int:
		f = float64(t)
	case uint8:
		f = float64(t)
	case uint16:
		f = float64(t)
	case uint32:
		f = float64(t)
	case uint64:
		f = float64(t)
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return nil
		}
		f = parsed
	default:
		return nil
	}
	return &f
}
