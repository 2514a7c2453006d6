package catalog

import (
	"time"

	"github.com/okian/kickrate/pkg/logger"
)

type options struct {
	log              logger.Logger
	timeout          time.Duration
	breakerTimeout   time.Duration
	failureThreshold uint32
}

func newOptions(opts []Option) options {
	o := options{
		timeout:          2 * time.Minute,
		breakerTimeout:   30 * time.Second,
		failureThreshold: 5,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = logger.Get().Named("catalog")
	}
	return o
}

// Option applies a configuration option to a remote source.
type Option func(*options)

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// WithTimeout bounds each remote call.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithBreaker sets how many consecutive failures open the breaker and how
// long it stays open.
func WithBreaker(failures uint32, openFor time.Duration) Option {
	return func(o *options) {
		if failures > 0 {
			o.failureThreshold = failures
		}
		if openFor > 0 {
			o.breakerTimeout = openFor
		}
	}
}
