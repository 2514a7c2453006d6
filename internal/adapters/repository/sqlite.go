package repository

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/okian/kickrate/internal/domain/model"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

//go:embed schema.sql
var sqliteSchema string

// SQLiteStore keeps records in a ratings table keyed by (user_id, item_id).
type SQLiteStore struct {
	sqlDB *sql.DB
	opts  options
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// NewSQLiteStore opens the database file at path and applies the schema.
func NewSQLiteStore(path string, opts ...Option) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("%w: empty store path", ErrInvalidID)
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(sqliteSchema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLiteStore{sqlDB: sqlDB, opts: newOptions(BackendSQLite, opts)}, nil
}

func (s *SQLiteStore) Write(ctx context.Context, r model.RatingRecord) error {
	if err := checkRecord(r); err != nil {
		return err
	}
	responses, err := json.Marshal(r.Responses)
	if err != nil {
		return fmt.Errorf("marshal responses: %w", err)
	}
	flagged := 0
	if r.Unrecognized {
		flagged = 1
	}
	_, err = s.sqlDB.ExecContext(ctx,
		`INSERT INTO ratings (user_id, item_id, responses, flagged, rated_at) VALUES (?, ?, ?, ?, ?)`,
		r.UserID, r.ItemID, string(responses), flagged, toMillis(r.RatedAt),
	)
	if isConstraintViolation(err) {
		return fmt.Errorf("%w: %s", model.ErrRecordExists, r.Key())
	}
	if err != nil {
		return fmt.Errorf("insert rating: %w", err)
	}
	return nil
}

func (s *SQLiteStore) RatedBy(ctx context.Context, userID string) (map[string]struct{}, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `SELECT item_id FROM ratings WHERE user_id = ?`, userID)
	if err != nil {
		return nil, fmt.Errorf("query rated items: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]struct{})
	for rows.Next() {
		var item string
		if err := rows.Scan(&item); err != nil {
			return nil, fmt.Errorf("scan rated item: %w", err)
		}
		out[item] = struct{}{}
	}
	return out, rows.Err()
}

func (s *SQLiteStore) CountsByItem(ctx context.Context) (map[string]int, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `SELECT item_id, COUNT(*) FROM ratings GROUP BY item_id`)
	if err != nil {
		return nil, fmt.Errorf("query counts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			item string
			n    int
		)
		if err := rows.Scan(&item, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[item] = n
	}
	return counts, rows.Err()
}

func (s *SQLiteStore) Exists(ctx context.Context, userID string) (bool, error) {
	var one int
	err := s.sqlDB.QueryRowContext(ctx, `SELECT 1 FROM ratings WHERE user_id = ? LIMIT 1`, userID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query user: %w", err)
	}
	return true, nil
}

func (s *SQLiteStore) SaveProfile(ctx context.Context, userID string, p model.Profile) error {
	if err := checkID("user id", userID); err != nil {
		return err
	}
	answers, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal profile: %w", err)
	}
	_, err = s.sqlDB.ExecContext(ctx,
		`INSERT INTO profiles (user_id, answers, saved_at) VALUES (?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET answers = excluded.answers, saved_at = excluded.saved_at`,
		userID, string(answers), toMillis(s.opts.now()),
	)
	if err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}
	return nil
}

func (s *SQLiteStore) LoadProfile(ctx context.Context, userID string) (StoredProfile, error) {
	var (
		answers string
		savedAt int64
	)
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT answers, saved_at FROM profiles WHERE user_id = ?`, userID,
	).Scan(&answers, &savedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return StoredProfile{}, ErrNotFound
	}
	if err != nil {
		return StoredProfile{}, fmt.Errorf("query profile: %w", err)
	}
	p := StoredProfile{UserID: userID, SavedAt: fromMillis(savedAt)}
	if err := json.Unmarshal([]byte(answers), &p.Answers); err != nil {
		return StoredProfile{}, fmt.Errorf("decode profile: %w", err)
	}
	return p, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}
