package repository

import (
	"time"

	"github.com/okian/kickrate/pkg/logger"
)

type options struct {
	now   func() time.Time
	log   logger.Logger
	inMem bool
}

func newOptions(name string, opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = logger.Get().Named("repository." + name)
	}
	return o
}

// Option applies a configuration option to a store.
type Option func(*options)

// WithClock sets the time source used for profile timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// WithInMemory keeps badger data in memory only. Other backends ignore it.
func WithInMemory() Option {
	return func(o *options) {
		o.inMem = true
	}
}
