package catalog

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/okian/kickrate/pkg/metrics"
)

// Cache keeps downloaded videos on local disk. It is owned by the caller and
// invalidated explicitly; nothing expires on its own.
type Cache struct {
	dir string
	ext string
}

// NewCache creates the cache directory.
func NewCache(dir, ext string) (*Cache, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("%w: empty cache dir", ErrInvalidSourceSetup)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return &Cache{dir: filepath.Clean(dir), ext: normalizeExt(ext)}, nil
}

func (c *Cache) path(itemID string) string {
	return filepath.Join(c.dir, itemID+c.ext)
}

// Get returns the cached path for the item, if present.
func (c *Cache) Get(itemID string) (string, bool) {
	if checkItem(itemID) != nil {
		return "", false
	}
	p := c.path(itemID)
	if _, err := os.Stat(p); err != nil {
		metrics.RecordCacheLookup("miss")
		return "", false
	}
	metrics.RecordCacheLookup("hit")
	return p, true
}

// Put stores the content under the item id. Readers never see a partial file.
func (c *Cache) Put(itemID string, r io.Reader) (string, error) {
	if err := checkItem(itemID); err != nil {
		return "", err
	}
	tmp, err := os.CreateTemp(c.dir, ".part-*")
	if err != nil {
		return "", fmt.Errorf("create cache file: %w", err)
	}
	if _, err := io.Copy(tmp, r); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("write cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("close cache file: %w", err)
	}
	p := c.path(itemID)
	if err := os.Rename(tmp.Name(), p); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("publish cache file: %w", err)
	}
	return p, nil
}

// Invalidate drops one item. Missing items are not an error.
func (c *Cache) Invalidate(itemID string) error {
	if err := checkItem(itemID); err != nil {
		return err
	}
	if err := os.Remove(c.path(itemID)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("invalidate %s: %w", itemID, err)
	}
	return nil
}

// Clear drops every cached item and leftover partial download.
func (c *Cache) Clear() error {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return fmt.Errorf("list cache: %w", err)
	}
	var errs []error
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if err := os.Remove(filepath.Join(c.dir, e.Name())); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Len returns the number of cached items.
func (c *Cache) Len() int {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return 0
	}
	n := 0
	for _, e := range entries {
		if _, ok := itemFromName(e.Name(), c.ext); ok && !e.IsDir() {
			n++
		}
	}
	return n
}
