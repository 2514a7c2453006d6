package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/okian/kickrate/pkg/logger"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/sync/singleflight"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// errCallerGone marks a remote call aborted because its caller's context ended.
var errCallerGone = errors.New("caller gone")

// bucket is the part of a GCS bucket the source uses.
type bucket interface {
	ListNames(ctx context.Context, prefix string) ([]string, error)
	Open(ctx context.Context, name string) (io.ReadCloser, error)
}

// GCSConfig names the bucket and object layout.
type GCSConfig struct {
	Bucket          string
	Prefix          string
	Extension       string
	CredentialsFile string
}

// GCSSource lists videos in a GCS bucket and downloads them into a Cache.
// It owns its storage client; call Close when done.
type GCSSource struct {
	cfg    GCSConfig
	bucket bucket
	client *storage.Client
	cache  *Cache
	log    logger.Logger

	listBreaker  *gobreaker.CircuitBreaker[[]string]
	fetchBreaker *gobreaker.CircuitBreaker[string]
	downloads    singleflight.Group
	timeout      time.Duration
}

// NewGCSSource creates a storage client for cfg.Bucket.
func NewGCSSource(ctx context.Context, cfg GCSConfig, cache *Cache, opts ...Option) (*GCSSource, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("%w: empty bucket", ErrInvalidSourceSetup)
	}
	var clientOpts []option.ClientOption
	if cfg.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	clientOpts = append(clientOpts, option.WithScopes(storage.ScopeReadOnly))
	client, err := storage.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("%w: create storage client: %w", ErrSourceUnavailable, err)
	}
	s := newGCSSource(cfg, &gcsBucket{handle: client.Bucket(cfg.Bucket)}, cache, opts...)
	s.client = client
	return s, nil
}

func newGCSSource(cfg GCSConfig, b bucket, cache *Cache, opts ...Option) *GCSSource {
	o := newOptions(opts)
	cfg.Extension = normalizeExt(cfg.Extension)
	s := &GCSSource{
		cfg:     cfg,
		bucket:  b,
		cache:   cache,
		log:     o.log,
		timeout: o.timeout,
	}

	onStateChange := func(name string, from, to gobreaker.State) {
		s.log.Warn(context.Background(), "gcs circuit breaker changed state",
			logger.String("breaker", name),
			logger.String("from", from.String()),
			logger.String("to", to.String()))
	}
	settings := func(name string) gobreaker.Settings {
		return gobreaker.Settings{
			Name:        name,
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     o.breakerTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= o.failureThreshold
			},
			// Missing objects and callers that went away say nothing about
			// the bucket's health.
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, ErrItemNotFound) ||
					errors.Is(err, errCallerGone) || errors.Is(err, context.Canceled)
			},
			OnStateChange: onStateChange,
		}
	}
	s.listBreaker = gobreaker.NewCircuitBreaker[[]string](settings("gcs-list"))
	s.fetchBreaker = gobreaker.NewCircuitBreaker[string](settings("gcs-fetch"))
	return s
}

func (s *GCSSource) List(ctx context.Context) ([]string, error) {
	names, err := s.listBreaker.Execute(func() ([]string, error) {
		callCtx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()
		names, err := s.bucket.ListNames(callCtx, s.cfg.Prefix)
		if err != nil && ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %w", errCallerGone, err)
		}
		return names, err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: list gs://%s/%s: %w", ErrSourceUnavailable, s.cfg.Bucket, s.cfg.Prefix, err)
	}

	items := make([]string, 0, len(names))
	for _, name := range names {
		rest := strings.TrimPrefix(name, s.cfg.Prefix)
		if strings.Contains(rest, "/") {
			continue
		}
		if id, ok := itemFromName(rest, s.cfg.Extension); ok {
			items = append(items, id)
		}
	}
	slices.Sort(items)
	return items, nil
}

// Fetch serves the item from the cache or downloads it once, however many
// callers ask concurrently. The shared download is detached from the caller
// that started it, so an aborted request does not fail the others.
func (s *GCSSource) Fetch(ctx context.Context, itemID string) (string, error) {
	if err := checkItem(itemID); err != nil {
		return "", err
	}
	if p, ok := s.cache.Get(itemID); ok {
		return p, nil
	}

	detached := context.WithoutCancel(ctx)
	ch := s.downloads.DoChan(itemID, func() (any, error) {
		if p, ok := s.cache.Get(itemID); ok {
			return p, nil
		}
		return s.fetchBreaker.Execute(func() (string, error) {
			return s.download(detached, itemID)
		})
	})

	select {
	case <-ctx.Done():
		return "", fmt.Errorf("fetch %s: %w", itemID, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			if errors.Is(res.Err, ErrItemNotFound) {
				return "", res.Err
			}
			return "", fmt.Errorf("%w: fetch %s: %w", ErrSourceUnavailable, itemID, res.Err)
		}
		return res.Val.(string), nil
	}
}

func (s *GCSSource) download(ctx context.Context, itemID string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	r, err := s.bucket.Open(ctx, s.cfg.Prefix+itemID+s.cfg.Extension)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return "", fmt.Errorf("%w: %s", ErrItemNotFound, itemID)
	}
	if err != nil {
		return "", err
	}
	defer func() { _ = r.Close() }()

	p, err := s.cache.Put(itemID, r)
	if err != nil {
		return "", err
	}
	s.log.Debug(ctx, "video downloaded", logger.String("item", itemID), logger.Duration("took", time.Since(start)))
	return p, nil
}

// Cache exposes the download cache for explicit invalidation.
func (s *GCSSource) Cache() *Cache { return s.cache }

// Close releases the storage client.
func (s *GCSSource) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}

// gcsBucket adapts a storage bucket handle.
type gcsBucket struct {
	handle *storage.BucketHandle
}

func (b *gcsBucket) ListNames(ctx context.Context, prefix string) ([]string, error) {
	it := b.handle.Objects(ctx, &storage.Query{Prefix: prefix})
	out := []string{}
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, err
		}
		out = append(out, attrs.Name)
	}
	return out, nil
}

func (b *gcsBucket) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	return b.handle.Object(name).NewReader(ctx)
}
