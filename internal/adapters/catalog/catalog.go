// Package catalog lists ratable video items and resolves them to local files.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// Sentinel errors for catalog operations.
var (
	ErrItemNotFound       = errors.New("item not found")
	ErrSourceUnavailable  = errors.New("catalog source unavailable")
	ErrInvalidItem        = errors.New("invalid item id")
	ErrInvalidSourceSetup = errors.New("invalid catalog source configuration")
)

// Source lists item ids and fetches an item to a local path.
type Source interface {
	// List returns item ids (file names without extension) in a stable order.
	List(ctx context.Context) ([]string, error)
	// Fetch returns a local file path holding the item's video.
	Fetch(ctx context.Context, itemID string) (string, error)
}

// LocalDir serves videos straight from a directory.
type LocalDir struct {
	dir string
	ext string
}

// NewLocalDir creates a source over dir for files ending in ext.
func NewLocalDir(dir, ext string) (*LocalDir, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("%w: empty video path", ErrInvalidSourceSetup)
	}
	return &LocalDir{dir: filepath.Clean(dir), ext: normalizeExt(ext)}, nil
}

func (l *LocalDir) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}
	items := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if id, ok := itemFromName(e.Name(), l.ext); ok {
			items = append(items, id)
		}
	}
	slices.Sort(items)
	return items, nil
}

func (l *LocalDir) Fetch(ctx context.Context, itemID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := checkItem(itemID); err != nil {
		return "", err
	}
	path := filepath.Join(l.dir, itemID+l.ext)
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) || (err == nil && info.IsDir()) {
		return "", fmt.Errorf("%w: %s", ErrItemNotFound, itemID)
	}
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}
	return path, nil
}

func normalizeExt(ext string) string {
	ext = strings.TrimSpace(ext)
	if ext == "" {
		return ".mp4"
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

// itemFromName strips ext from a file name; hidden files and other
// extensions are not items.
func itemFromName(name, ext string) (string, bool) {
	if strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ext) {
		return "", false
	}
	id := name[:len(name)-len(ext)]
	if id == "" {
		return "", false
	}
	return id, true
}

func checkItem(itemID string) error {
	if itemID == "" || strings.HasPrefix(itemID, ".") || strings.ContainsAny(itemID, "/\\\x00") {
		return fmt.Errorf("%w: %q", ErrInvalidItem, itemID)
	}
	return nil
}
