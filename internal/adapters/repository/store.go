// Package repository persists rating records and participant profiles.
//
// Three backends share one contract: plain JSON files, an embedded badger
// key-value store, and SQLite. Every backend stores at most one record per
// (user, item) and writes it atomically.
package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/okian/kickrate/internal/domain/model"
)

// Backend names accepted by Open.
const (
	BackendFile   = "file"
	BackendBadger = "badger"
	BackendSQLite = "sqlite"
)

// StoredProfile is a participant's saved questionnaire answers.
type StoredProfile struct {
	UserID  string        `json:"user_id"`
	Answers model.Profile `json:"answers"`
	SavedAt time.Time     `json:"saved_at"`
}

// RecordStore provides append-only access to rating records plus profiles.
type RecordStore interface {
	// Write stores r. Returns an error matching model.ErrRecordExists when a
	// record for the same (user, item) is already stored.
	Write(ctx context.Context, r model.RatingRecord) error

	// RatedBy returns the ids of items the user has any record for.
	RatedBy(ctx context.Context, userID string) (map[string]struct{}, error)

	// CountsByItem returns the number of records per item across all users.
	CountsByItem(ctx context.Context) (map[string]int, error)

	// Exists reports whether the user has at least one record.
	Exists(ctx context.Context, userID string) (bool, error)

	// SaveProfile stores or replaces the user's questionnaire answers.
	SaveProfile(ctx context.Context, userID string, p model.Profile) error

	// LoadProfile returns ErrNotFound when nothing was saved for the user.
	LoadProfile(ctx context.Context, userID string) (StoredProfile, error)

	Close() error
}

// Open creates the named backend rooted at path.
func Open(backend, path string, opts ...Option) (RecordStore, error) {
	var (
		s   RecordStore
		err error
	)
	switch strings.ToLower(backend) {
	case BackendFile:
		s, err = NewFileStore(path, opts...)
	case BackendBadger:
		s, err = NewBadgerStore(path, opts...)
	case BackendSQLite:
		s, err = NewSQLiteStore(path, opts...)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, backend)
	}
	if err != nil {
		return nil, err
	}
	return Instrument(s, strings.ToLower(backend)), nil
}

// checkID rejects ids that cannot be used as a path segment or key part.
func checkID(kind, id string) error {
	switch {
	case strings.TrimSpace(id) == "":
		return fmt.Errorf("%w: empty %s", ErrInvalidID, kind)
	case strings.HasPrefix(id, "."):
		return fmt.Errorf("%w: %s %q starts with a dot", ErrInvalidID, kind, id)
	case strings.ContainsAny(id, "/\\\x00"):
		return fmt.Errorf("%w: %s %q contains a separator", ErrInvalidID, kind, id)
	}
	return nil
}

func checkRecord(r model.RatingRecord) error {
	if err := r.Check(); err != nil {
		return err
	}
	if err := checkID("user id", r.UserID); err != nil {
		return err
	}
	return checkID("item id", r.ItemID)
}
