package service

import (
	"time"

	"github.com/okian/kickrate/internal/adapters/metadata"
	"github.com/okian/kickrate/internal/domain/model"
	"github.com/okian/kickrate/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithMinRatings sets the per-item quota across all raters.
func WithMinRatings(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.minRatings = n
		}
	}
}

// WithQuestionnaire sets the active questionnaire fields.
func WithQuestionnaire(fields []model.QuestionnaireField) Option {
	return func(s *Service) {
		s.questionnaire = fields
	}
}

// WithMetadata attaches action metadata to the current item of each session.
// A nil lookup disables it.
func WithMetadata(meta *metadata.Lookup) Option {
	return func(s *Service) {
		s.meta = meta
	}
}

// WithPlaybackMode sets the playback mode surfaced to clients.
func WithPlaybackMode(mode string) Option {
	return func(s *Service) {
		if mode != "" {
			s.playbackMode = mode
		}
	}
}

// WithPrefetch configures background downloads of upcoming items. A depth of
// zero disables prefetching.
func WithPrefetch(workers, depth, queueSize int) Option {
	return func(s *Service) {
		if workers > 0 {
			s.prefetchWorkers = workers
		}
		if depth >= 0 {
			s.prefetchDepth = depth
		}
		if queueSize > 0 {
			s.prefetchQueueSize = queueSize
		}
	}
}

// WithSessionTTL drops sessions idle for longer than ttl.
func WithSessionTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.sessionTTL = ttl
		}
	}
}

// WithDedupeSize sets the size of the in-flight submission guard.
func WithDedupeSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.dedupeSize = size
		}
	}
}

// WithShuffle replaces the queue shuffle; tests use it for determinism.
func WithShuffle(fn func([]string)) Option {
	return func(s *Service) {
		s.shuffle = fn
	}
}

// WithClock overrides time.Now for sessions and the idle sweep.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}
