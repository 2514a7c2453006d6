package session

import "time"

// Option applies a configuration option to a Session.
type Option func(*Session)

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		if now != nil {
			s.now = now
		}
	}
}
