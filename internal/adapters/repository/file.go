package repository

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"
	"github.com/okian/kickrate/internal/domain/model"
	"github.com/okian/kickrate/pkg/logger"
)

const (
	ratingsDir  = "user_ratings"
	profilesDir = "user_data"
	jsonExt     = ".json"
)

// FileStore keeps one JSON document per record under
// {root}/user_ratings/{user}/{item}.json and profiles under
// {root}/user_data/{user}.json.
type FileStore struct {
	root string
	opts options
}

// NewFileStore creates the directory layout under root.
func NewFileStore(root string, opts ...Option) (*FileStore, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("%w: empty store path", ErrInvalidID)
	}
	s := &FileStore{root: filepath.Clean(root), opts: newOptions(BackendFile, opts)}
	for _, dir := range []string{ratingsDir, profilesDir} {
		if err := os.MkdirAll(filepath.Join(s.root, dir), 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return s, nil
}

// Write publishes the record with a hard link so an existing record is never
// replaced and readers never see a partial file.
func (s *FileStore) Write(ctx context.Context, r model.RatingRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkRecord(r); err != nil {
		return err
	}
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	dir := filepath.Join(s.root, ratingsDir, r.UserID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create user dir: %w", err)
	}
	final := filepath.Join(dir, r.ItemID+jsonExt)
	if _, err := os.Stat(final); err == nil {
		return fmt.Errorf("%w: %s", model.ErrRecordExists, r.Key())
	}

	tmp, err := writeTemp(dir, data)
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp) }()

	if err := os.Link(tmp, final); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%w: %s", model.ErrRecordExists, r.Key())
		}
		return fmt.Errorf("publish record: %w", err)
	}
	return nil
}

func (s *FileStore) RatedBy(ctx context.Context, userID string) (map[string]struct{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make(map[string]struct{})
	if checkID("user id", userID) != nil {
		return out, nil
	}
	entries, err := os.ReadDir(filepath.Join(s.root, ratingsDir, userID))
	if errors.Is(err, fs.ErrNotExist) {
		return out, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list ratings: %w", err)
	}
	for _, e := range entries {
		if item, ok := recordName(e); ok {
			out[item] = struct{}{}
		}
	}
	return out, nil
}

func (s *FileStore) CountsByItem(ctx context.Context) (map[string]int, error) {
	users, err := os.ReadDir(filepath.Join(s.root, ratingsDir))
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	counts := make(map[string]int)
	for _, u := range users {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !u.IsDir() {
			continue
		}
		entries, err := os.ReadDir(filepath.Join(s.root, ratingsDir, u.Name()))
		if err != nil {
			return nil, fmt.Errorf("list ratings of %s: %w", u.Name(), err)
		}
		for _, e := range entries {
			if item, ok := recordName(e); ok {
				counts[item]++
			}
		}
	}
	return counts, nil
}

func (s *FileStore) Exists(ctx context.Context, userID string) (bool, error) {
	rated, err := s.RatedBy(ctx, userID)
	if err != nil {
		return false, err
	}
	return len(rated) > 0, nil
}

func (s *FileStore) SaveProfile(ctx context.Context, userID string, p model.Profile) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkID("user id", userID); err != nil {
		return err
	}
	data, err := json.Marshal(StoredProfile{UserID: userID, Answers: p, SavedAt: s.opts.now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal profile: %w", err)
	}
	dir := filepath.Join(s.root, profilesDir)
	tmp, err := writeTemp(dir, data)
	if err != nil {
		return err
	}
	if err := os.Rename(tmp, filepath.Join(dir, userID+jsonExt)); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("publish profile: %w", err)
	}
	return nil
}

func (s *FileStore) LoadProfile(ctx context.Context, userID string) (StoredProfile, error) {
	if err := ctx.Err(); err != nil {
		return StoredProfile{}, err
	}
	if err := checkID("user id", userID); err != nil {
		return StoredProfile{}, err
	}
	data, err := os.ReadFile(filepath.Join(s.root, profilesDir, userID+jsonExt))
	if errors.Is(err, fs.ErrNotExist) {
		return StoredProfile{}, ErrNotFound
	}
	if err != nil {
		return StoredProfile{}, fmt.Errorf("read profile: %w", err)
	}
	var p StoredProfile
	if err := json.Unmarshal(data, &p); err != nil {
		s.opts.log.Warn(ctx, "unreadable profile", logger.String("user", userID), logger.Error(err))
		return StoredProfile{}, fmt.Errorf("decode profile: %w", err)
	}
	return p, nil
}

func (s *FileStore) Close() error { return nil }

// recordName returns the item id for a published record file. Temp files
// start with a dot and are skipped.
func recordName(e fs.DirEntry) (string, bool) {
	name := e.Name()
	if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, jsonExt) {
		return "", false
	}
	return strings.TrimSuffix(name, jsonExt), true
}

func writeTemp(dir string, data []byte) (string, error) {
	f, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	name := f.Name()
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(name)
		return "", fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(name)
		return "", fmt.Errorf("sync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(name)
		return "", fmt.Errorf("close temp file: %w", err)
	}
	return name, nil
}
