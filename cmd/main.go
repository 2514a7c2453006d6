package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/okian/kickrate/internal/adapters/catalog"
	"github.com/okian/kickrate/internal/adapters/http/api"
	"github.com/okian/kickrate/internal/adapters/http/swagger"
	"github.com/okian/kickrate/internal/adapters/metadata"
	repository "github.com/okian/kickrate/internal/adapters/repository"
	app "github.com/okian/kickrate/internal/app"
	"github.com/okian/kickrate/internal/config"
	"github.com/okian/kickrate/pkg/logger"
	"github.com/okian/kickrate/pkg/metrics"
)

// HTTP server timeout constants.
const (
	readTimeout       = 10 * time.Second
	writeTimeout      = 5 * time.Minute // video downloads from the bucket can be slow
	idleTimeout       = 60 * time.Second
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 30 * time.Second
	badgerGCInterval  = 10 * time.Minute
)

func main() {
	if err := logger.Init(); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		logger.Get().Error(ctx, "kickrate exited", logger.Error(err))
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	log := logger.Get()

	// Load configuration (defaults -> optional file -> env)
	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	deps, err := wire(ctx, cfg)
	if err != nil {
		return err
	}
	defer deps.close(ctx)

	if err := deps.svc.Start(ctx); err != nil {
		return fmt.Errorf("start service: %w", err)
	}
	defer deps.svc.Stop()

	go startSystemMetricsUpdater(ctx)
	if deps.badger != nil {
		go deps.badger.RunGC(ctx, badgerGCInterval)
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           newMux(ctx, deps.svc),
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info(ctx, "starting HTTP server", logger.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}
	log.Info(ctx, "shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(ctx, "server shutdown failed", logger.Error(err))
	}
	log.Info(ctx, "server stopped")
	return nil
}

// components owns everything run has to close on exit.
type components struct {
	svc     *app.Service
	store   repository.RecordStore
	badger  *repository.BadgerStore
	source  catalog.Source
	meta    *metadata.Lookup
	closers []io.Closer
}

func (c *components) close(ctx context.Context) {
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i].Close(); err != nil {
			logger.Get().Warn(ctx, "close failed", logger.Error(err))
		}
	}
}

// wire opens the store, catalog and metadata and builds the service.
func wire(ctx context.Context, cfg *config.Config) (*components, error) {
	log := logger.Get()
	c := &components{}

	scales, err := config.LoadScales(cfg.RatingScalesFile)
	if err != nil {
		return nil, err
	}
	fields, err := config.LoadQuestionnaire(ctx, cfg.QuestionnaireFieldsFile)
	if err != nil {
		return nil, err
	}

	if err := openStore(cfg, c); err != nil {
		return nil, err
	}

	source, err := openSource(ctx, cfg)
	if err != nil {
		c.close(ctx)
		return nil, err
	}
	c.source = source
	if closer, ok := source.(io.Closer); ok {
		c.closers = append(c.closers, closer)
	}

	if cfg.DisplayMetadata && cfg.MetadataDBPath != "" {
		meta, err := metadata.Open(cfg.MetadataDBPath)
		if err != nil {
			// Metadata is optional; rating works without it.
			log.Warn(ctx, "metadata disabled", logger.String("path", cfg.MetadataDBPath), logger.Error(err))
		} else {
			c.meta = meta
			c.closers = append(c.closers, meta)
		}
	}

	c.svc = app.New(c.store, c.source, scales,
		app.WithLogger(log.Named("service")),
		app.WithQuestionnaire(fields),
		app.WithMetadata(c.meta),
		app.WithMinRatings(cfg.MinRatingsPerItem),
		app.WithPlaybackMode(cfg.VideoPlaybackMode),
		app.WithPrefetch(cfg.PrefetchWorkers, cfg.PrefetchDepth, cfg.PrefetchQueueSize),
		app.WithSessionTTL(time.Duration(cfg.SessionTTLMinutes)*time.Minute),
	)
	log.Info(ctx, "components wired",
		logger.String("store", cfg.StoreBackend),
		logger.String("catalog", cfg.CatalogSource),
		logger.Int("scales", len(scales)),
		logger.Int("questionnaireFields", len(fields)),
		logger.Bool("metadata", c.meta != nil),
	)
	return c, nil
}

func openStore(cfg *config.Config, c *components) error {
	if strings.EqualFold(cfg.StoreBackend, repository.BackendBadger) {
		b, err := repository.NewBadgerStore(cfg.StorePath)
		if err != nil {
			return err
		}
		c.badger = b
		c.store = repository.Instrument(b, repository.BackendBadger)
	} else {
		s, err := repository.Open(cfg.StoreBackend, cfg.StorePath)
		if err != nil {
			return err
		}
		c.store = s
	}
	c.closers = append(c.closers, c.store)
	return nil
}

func openSource(ctx context.Context, cfg *config.Config) (catalog.Source, error) {
	if cfg.CatalogSource == config.SourceGCS {
		cache, err := catalog.NewCache(cfg.CacheDir, cfg.VideoExtension)
		if err != nil {
			return nil, err
		}
		return catalog.NewGCSSource(ctx, catalog.GCSConfig{
			Bucket:          cfg.GCSBucket,
			Prefix:          cfg.GCSPrefix,
			Extension:       cfg.VideoExtension,
			CredentialsFile: cfg.GCSCredentialsFile,
		}, cache)
	}
	return catalog.NewLocalDir(cfg.VideoPath, cfg.VideoExtension)
}

// newMux registers the business API and the API docs.
func newMux(ctx context.Context, svc *app.Service) *http.ServeMux {
	mux := http.NewServeMux()
	swagger.Register(ctx, mux)
	api.NewServer(svc, svc).Register(ctx, mux)
	return mux
}

// startSystemMetricsUpdater starts a background goroutine that updates system metrics.
func startSystemMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(metrics.RefreshInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateSystemMetrics()
		}
	}
}

func updateSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	metrics.UpdateSystemMemoryUsage(m.Alloc)
	metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())
}
