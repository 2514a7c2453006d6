// Package service provides the core business service that implements
// the dependencies required by the HTTP API.
package service

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/okian/kickrate/internal/adapters/catalog"
	"github.com/okian/kickrate/internal/adapters/metadata"
	prefetchqueue "github.com/okian/kickrate/internal/adapters/mq/queue"
	prefetchpool "github.com/okian/kickrate/internal/adapters/mq/worker"
	repository "github.com/okian/kickrate/internal/adapters/repository"
	"github.com/okian/kickrate/internal/domain/assign"
	"github.com/okian/kickrate/internal/domain/dedupe"
	"github.com/okian/kickrate/internal/domain/identity"
	"github.com/okian/kickrate/internal/domain/model"
	"github.com/okian/kickrate/internal/domain/session"
	"github.com/okian/kickrate/pkg/logger"
	"github.com/okian/kickrate/pkg/metrics"
)

const (
	defaultMinRatings    = 3
	defaultPrefetchDepth = 2
	defaultPrefetchQueue = 64
	defaultPrefetchCount = 2
	defaultDedupeSize    = 50000
	defaultSessionTTL    = 2 * time.Hour
	sweepInterval        = time.Minute
)

// View is what callers see of a session: its snapshot plus presentation data
// for the current item.
type View struct {
	session.Snapshot
	Upcoming     []string
	Action       *metadata.Action
	PlaybackMode string
	Fallback     bool
}

type entry struct {
	sess     *session.Session
	fallback bool
}

// Service implements the API dependencies for the rating system.
type Service struct {
	mu sync.RWMutex

	// Core components
	store         repository.RecordStore
	source        catalog.Source
	scales        model.ScaleSet
	questionnaire []model.QuestionnaireField
	meta          *metadata.Lookup
	assigner      *assign.Assigner
	guard         dedupe.Deduper
	prefetchQueue *prefetchqueue.InMemoryQueue
	prefetchPool  *prefetchpool.Pool

	// Configuration
	minRatings        int
	prefetchWorkers   int
	prefetchDepth     int
	prefetchQueueSize int
	dedupeSize        int
	sessionTTL        time.Duration
	playbackMode      string
	shuffle           func([]string)
	now               func() time.Time

	// State
	sessions    map[string]*entry
	catalogSize int
	started     bool
	stopCh      chan struct{}

	logger logger.Logger
}

// New constructs a Service over a record store, a catalog source and the
// active scales.
func New(store repository.RecordStore, source catalog.Source, scales model.ScaleSet, opts ...Option) *Service {
	s := &Service{
		store:             store,
		source:            source,
		scales:            scales,
		minRatings:        defaultMinRatings,
		prefetchWorkers:   defaultPrefetchCount,
		prefetchDepth:     defaultPrefetchDepth,
		prefetchQueueSize: defaultPrefetchQueue,
		dedupeSize:        defaultDedupeSize,
		sessionTTL:        defaultSessionTTL,
		playbackMode:      "loop",
		now:               time.Now,
		sessions:          make(map[string]*entry),
		stopCh:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}
	s.guard = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.dedupeSize))
	s.assigner = assign.New(store, assign.WithShuffle(s.shuffle), assign.WithLogger(s.logger))
	return s
}

// Start launches the prefetch pool and the idle session sweep.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	s.logger.Info(ctx, "starting rating service...")

	if s.prefetchDepth > 0 {
		s.prefetchQueue = prefetchqueue.NewInMemoryQueue(prefetchqueue.WithCapacity(s.prefetchQueueSize))
		s.prefetchPool = prefetchpool.NewPool(s.prefetchWorkers, s.prefetchQueue, s.source)
		s.prefetchPool.Start(ctx)
	}

	s.stopCh = make(chan struct{})
	go s.sweepLoop(ctx, s.stopCh)

	s.started = true
	s.logger.Info(ctx, "rating service started",
		logger.Int("minRatings", s.minRatings),
		logger.Int("scales", len(s.scales)),
		logger.Int("questionnaireFields", len(s.questionnaire)),
		logger.Int("prefetchDepth", s.prefetchDepth),
		logger.Duration("sessionTTL", s.sessionTTL),
	)
	return nil
}

// Stop shuts down background work. Sessions and the store are left intact.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}
	ctx := context.Background()
	s.logger.Info(ctx, "stopping rating service...")

	close(s.stopCh)
	if s.prefetchPool != nil {
		if err := s.prefetchPool.Shutdown(ctx); err != nil {
			s.logger.Warn(ctx, "prefetch pool shutdown", logger.Error(err))
		}
		s.prefetchPool = nil
		s.prefetchQueue = nil
	}

	s.started = false
	s.logger.Info(ctx, "rating service stopped")
}

// Scales returns the active rating scales in display order.
func (s *Service) Scales() model.ScaleSet { return s.scales }

// Questionnaire returns the active questionnaire fields.
func (s *Service) Questionnaire() []model.QuestionnaireField { return s.questionnaire }

// PlaybackMode returns how clients should play videos.
func (s *Service) PlaybackMode() string { return s.playbackMode }

// DeriveIdentity builds a profile from the answers and derives the user id.
// Answers for inactive fields are dropped first.
func (s *Service) DeriveIdentity(answers map[string]any) string {
	return identity.Derive(model.NewProfile(answers, s.questionnaire))
}

// IdentityExists reports whether the id has at least one stored record.
// Store failures are logged and reported as false.
func (s *Service) IdentityExists(ctx context.Context, id string) bool {
	id = identity.Normalize(id)
	if id == "" {
		metrics.RecordIdentityCheck("missing")
		return false
	}
	ok, err := s.store.Exists(ctx, id)
	if err != nil {
		s.logger.Warn(ctx, "identity lookup failed", logger.String("user", id), logger.Error(err))
		metrics.RecordIdentityCheck("error")
		metrics.RecordErrorByComponent("service", "identity_exists")
		return false
	}
	if ok {
		metrics.RecordIdentityCheck("found")
	} else {
		metrics.RecordIdentityCheck("missing")
	}
	return ok
}

// SaveProfile derives the id for the answers and stores them under it.
func (s *Service) SaveProfile(ctx context.Context, answers map[string]any) (string, error) {
	p := model.NewProfile(answers, s.questionnaire)
	id := identity.Derive(p)
	if err := s.store.SaveProfile(ctx, id, p); err != nil {
		return id, fmt.Errorf("save profile for %s: %w", id, err)
	}
	s.logger.Info(ctx, "profile saved", logger.String("user", id), logger.Int("answers", len(p)))
	return id, nil
}

// LoadProfile returns the stored answers for an id.
func (s *Service) LoadProfile(ctx context.Context, id string) (repository.StoredProfile, error) {
	return s.store.LoadProfile(ctx, identity.Normalize(id))
}

// ParseResponses converts decoded JSON scalars keyed by scale title into scale
// values. Unknown titles and values of the wrong shape are reported together
// as a ValidationError.
func (s *Service) ParseResponses(raw map[string]any) (map[string]model.ScaleValue, error) {
	out := make(map[string]model.ScaleValue, len(raw))
	verr := &model.ValidationError{}
	for _, title := range slices.Sorted(maps.Keys(raw)) {
		spec, ok := s.scales.Lookup(title)
		if !ok {
			verr.Illegal = append(verr.Illegal, title)
			continue
		}
		v, err := spec.Parse(raw[title])
		if err != nil {
			verr.Illegal = append(verr.Illegal, title)
			continue
		}
		out[title] = v
	}
	if len(verr.Illegal) > 0 {
		return nil, verr
	}
	return out, nil
}

// StartSession builds a fresh queue for the user and registers a session.
func (s *Service) StartSession(ctx context.Context, userID string) (View, error) {
	userID = identity.Normalize(userID)
	if userID == "" {
		return View{}, ErrInvalidUser
	}

	items, err := s.source.List(ctx)
	if err != nil {
		metrics.RecordErrorByComponent("service", "catalog_list")
		return View{}, fmt.Errorf("%w: list catalog: %w", ErrConfigurationMissing, err)
	}
	if len(s.scales) == 0 {
		return View{}, fmt.Errorf("%w: no active rating scales", ErrConfigurationMissing)
	}
	metrics.UpdateCatalogSize(len(items))

	res := s.assigner.BuildQueue(ctx, userID, items, s.minRatings)
	sess := session.New(uuid.NewString(), userID, s.scales, s.store, s.guard, session.WithClock(s.now))
	if err := sess.Start(res.Items); err != nil {
		return View{}, err
	}
	e := &entry{sess: sess, fallback: res.Fallback}

	s.mu.Lock()
	s.sessions[sess.ID()] = e
	s.catalogSize = len(items)
	active := len(s.sessions)
	s.mu.Unlock()
	metrics.UpdateActiveSessions(active)

	s.logger.Info(ctx, "session started",
		logger.String("session_id", sess.ID()),
		logger.String("user", userID),
		logger.Int("queue", len(res.Items)),
		logger.Bool("fallback", res.Fallback),
	)
	s.prefetch(ctx, sess)
	return s.view(ctx, e), nil
}

// GetSession returns the current view of a session.
func (s *Service) GetSession(ctx context.Context, id string) (View, error) {
	e, err := s.lookup(id)
	if err != nil {
		return View{}, err
	}
	return s.view(ctx, e), nil
}

// Submit records a rating for the session's current item. The returned view
// reflects the session after the attempt, whatever its outcome.
func (s *Service) Submit(ctx context.Context, id string, sub session.Submission) (View, model.RatingRecord, error) {
	e, err := s.lookup(id)
	if err != nil {
		return View{}, model.RatingRecord{}, err
	}

	record, err := e.sess.Submit(ctx, sub)
	metrics.RecordSubmission(outcome(err))
	switch {
	case err == nil:
		s.logger.Debug(ctx, "rating stored",
			logger.String("session_id", id),
			logger.String("user", record.UserID),
			logger.String("item", record.ItemID),
		)
	case errors.Is(err, session.ErrWriteFailed):
		metrics.RecordErrorByComponent("service", "record_write")
		s.logger.Error(ctx, "rating write failed",
			logger.String("session_id", id),
			logger.String("item", sub.ItemID),
			logger.Error(err),
		)
	}
	if err == nil || errors.Is(err, session.ErrAlreadyRated) {
		s.prefetch(ctx, e.sess)
	}
	return s.view(ctx, e), record, err
}

// EndSession drops a session. Stored records are kept.
func (s *Service) EndSession(ctx context.Context, id string) error {
	s.mu.Lock()
	_, ok := s.sessions[id]
	delete(s.sessions, id)
	active := len(s.sessions)
	s.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	metrics.UpdateActiveSessions(active)
	s.logger.Info(ctx, "session ended", logger.String("session_id", id))
	return nil
}

// VideoPath returns a local file for the item, downloading it if needed.
func (s *Service) VideoPath(ctx context.Context, itemID string) (string, error) {
	return s.source.Fetch(ctx, itemID)
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]any {
	ctx := context.Background()
	counts, err := s.store.CountsByItem(ctx)
	if err != nil {
		s.logger.Warn(ctx, "stats: count ratings failed", logger.Error(err))
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]any{
		"started":        s.started,
		"activeSessions": len(s.sessions),
		"catalogSize":    s.catalogSize,
		"minRatings":     s.minRatings,
		"scales":         len(s.scales),
		"playbackMode":   s.playbackMode,
		"dedupeSize":     s.guard.Size(),
		"prefetchDepth":  s.prefetchDepth,
	}
	if s.prefetchQueue != nil {
		stats["prefetchQueued"] = s.prefetchQueue.Len(ctx)
	}
	if s.prefetchPool != nil {
		stats["prefetched"] = s.prefetchPool.Processed()
	}
	if counts != nil {
		stats["itemCounts"] = counts
	}
	metrics.UpdateActiveSessions(len(s.sessions))
	return stats
}

func (s *Service) lookup(id string) (*entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return e, nil
}

func (s *Service) view(ctx context.Context, e *entry) View {
	v := View{
		Snapshot:     e.sess.Snapshot(),
		Upcoming:     e.sess.Upcoming(s.prefetchDepth),
		PlaybackMode: s.playbackMode,
		Fallback:     e.fallback,
	}
	if s.meta != nil && v.CurrentItem != "" {
		if a, ok := s.meta.Action(ctx, v.CurrentItem); ok {
			v.Action = &a
		}
	}
	return v
}

// prefetch enqueues the current and upcoming items. A full queue drops jobs.
func (s *Service) prefetch(ctx context.Context, sess *session.Session) {
	s.mu.RLock()
	q := s.prefetchQueue
	s.mu.RUnlock()
	if q == nil {
		return
	}
	items := sess.Upcoming(s.prefetchDepth)
	if cur, ok := sess.Current(); ok {
		items = append([]string{cur}, items...)
	}
	for _, item := range items {
		q.Enqueue(ctx, prefetchqueue.FetchJob{SessionID: sess.ID(), ItemID: item, EnqueuedAt: s.now()})
	}
}

func (s *Service) sweepLoop(ctx context.Context, stop <-chan struct{}) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			s.SweepIdle(ctx)
		}
	}
}

// SweepIdle drops sessions idle for longer than the TTL and returns how many
// were removed.
func (s *Service) SweepIdle(ctx context.Context) int {
	cutoff := s.now().Add(-s.sessionTTL)

	s.mu.Lock()
	removed := 0
	for id, e := range s.sessions {
		if e.sess.LastActive().Before(cutoff) {
			delete(s.sessions, id)
			removed++
		}
	}
	active := len(s.sessions)
	s.mu.Unlock()

	if removed > 0 {
		metrics.UpdateActiveSessions(active)
		s.logger.Info(ctx, "idle sessions dropped", logger.Int("removed", removed), logger.Int("active", active))
	}
	return removed
}

func outcome(err error) string {
	var verr *model.ValidationError
	switch {
	case err == nil:
		return "accepted"
	case errors.As(err, &verr):
		return "rejected"
	case errors.Is(err, session.ErrAlreadyRated):
		return "duplicate"
	case errors.Is(err, session.ErrWrongItem):
		return "wrong_item"
	case errors.Is(err, session.ErrExhausted):
		return "exhausted"
	case errors.Is(err, session.ErrWriteFailed):
		return "failed"
	}
	return "error"
}
