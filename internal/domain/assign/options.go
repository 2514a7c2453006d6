package assign

import "github.com/okian/kickrate/pkg/logger"

// Option applies a configuration option to the Assigner.
type Option func(*Assigner)

// WithShuffle replaces the random permutation, e.g. with a seeded one in tests.
func WithShuffle(fn func([]string)) Option {
	return func(a *Assigner) {
		if fn != nil {
			a.shuffle = fn
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(a *Assigner) {
		if l != nil {
			a.log = l
		}
	}
}
