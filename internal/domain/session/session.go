// Package session holds the per-participant rating session state machine.
//
// A session moves BUILDING -> ACTIVE -> EXHAUSTED. The queue is a snapshot
// taken once when the session starts and is never rebuilt. Each accepted
// submission writes exactly one record and advances the cursor by one.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/okian/kickrate/internal/domain/dedupe"
	"github.com/okian/kickrate/internal/domain/model"
)

// State is the lifecycle position of a session.
type State int

const (
	StateBuilding State = iota
	StateActive
	StateExhausted
)

func (s State) String() string {
	switch s {
	case StateBuilding:
		return "building"
	case StateActive:
		return "active"
	case StateExhausted:
		return "exhausted"
	}
	return "unknown"
}

// RecordWriter persists one rating record atomically. It returns an error
// matching model.ErrRecordExists when the (user, item) slot is taken.
type RecordWriter interface {
	Write(ctx context.Context, r model.RatingRecord) error
}

// Submission is one participant answer for the current item.
type Submission struct {
	ItemID       string
	Responses    map[string]model.ScaleValue
	Unrecognized bool
}

// Snapshot is a read-only view of a session.
type Snapshot struct {
	ID          string
	UserID      string
	State       State
	CurrentItem string
	Position    int
	Total       int
	Remaining   int
	CreatedAt   time.Time
	LastActive  time.Time
}

// Session is safe for concurrent use; operations are serialized.
type Session struct {
	id     string
	userID string
	scales model.ScaleSet
	writer RecordWriter
	guard  dedupe.Deduper
	now    func() time.Time

	mu         sync.Mutex
	state      State
	queue      []string
	cursor     int
	createdAt  time.Time
	lastActive time.Time
}

// New creates a session in the BUILDING state.
func New(id, userID string, scales model.ScaleSet, writer RecordWriter, guard dedupe.Deduper, opts ...Option) *Session {
	s := &Session{
		id:     id,
		userID: userID,
		scales: scales,
		writer: writer,
		guard:  guard,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.guard == nil {
		s.guard = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(0))
	}
	s.createdAt = s.now()
	s.lastActive = s.createdAt
	return s
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// UserID returns the participant id.
func (s *Session) UserID() string { return s.userID }

// Start installs the queue snapshot. An empty queue exhausts the session at once.
func (s *Session) Start(queue []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateBuilding {
		return ErrAlreadyStarted
	}
	s.queue = append([]string(nil), queue...)
	s.cursor = 0
	s.state = StateActive
	if len(s.queue) == 0 {
		s.state = StateExhausted
	}
	s.lastActive = s.now()
	return nil
}

// Current returns the item at the cursor.
func (s *Session) Current() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateActive {
		return "", false
	}
	return s.queue[s.cursor], true
}

// Upcoming returns up to n items after the current one.
func (s *Session) Upcoming(n int) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateActive || n <= 0 {
		return nil
	}
	start := s.cursor + 1
	end := min(start+n, len(s.queue))
	if start >= end {
		return nil
	}
	return append([]string(nil), s.queue[start:end]...)
}

// State returns the lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Snapshot returns a consistent view of the session.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		ID:         s.id,
		UserID:     s.userID,
		State:      s.state,
		Position:   s.cursor,
		Total:      len(s.queue),
		Remaining:  len(s.queue) - s.cursor,
		CreatedAt:  s.createdAt,
		LastActive: s.lastActive,
	}
	if s.state == StateActive {
		snap.CurrentItem = s.queue[s.cursor]
	}
	return snap
}

// LastActive returns when the session was last touched.
func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

// Submit validates and records a rating for the current item.
//
// On success the record is returned and the cursor advances. A validation
// error, a wrong item or a write failure leaves the cursor where it was and
// no record is stored. The item is skipped with ErrAlreadyRated only when
// the store reports a record for the pair already exists.
func (s *Session) Submit(ctx context.Context, sub Submission) (model.RatingRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastActive = s.now()

	switch s.state {
	case StateBuilding:
		return model.RatingRecord{}, ErrNotStarted
	case StateExhausted:
		return model.RatingRecord{}, ErrExhausted
	}

	current := s.queue[s.cursor]
	if sub.ItemID != current {
		return model.RatingRecord{}, fmt.Errorf("%w: got %q, current is %q", ErrWrongItem, sub.ItemID, current)
	}

	if err := s.scales.Validate(sub.Responses, sub.Unrecognized); err != nil {
		return model.RatingRecord{}, err
	}

	// A guard hit means another session of this user may be writing the pair.
	// Its write can still fail, so only the store decides whether to skip.
	reserved := !s.guard.SeenAndRecord(ctx, s.userID, current)

	record := model.RatingRecord{
		UserID:       s.userID,
		ItemID:       current,
		Responses:    compact(sub.Responses),
		Unrecognized: sub.Unrecognized,
		RatedAt:      s.now().UTC(),
	}
	if err := s.writer.Write(ctx, record); err != nil {
		if errors.Is(err, model.ErrRecordExists) {
			s.advance()
			return model.RatingRecord{}, ErrAlreadyRated
		}
		if reserved {
			s.guard.Unrecord(ctx, s.userID, current)
		}
		return model.RatingRecord{}, fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	if !reserved {
		// The holder may have released the pair after a failed write.
		s.guard.SeenAndRecord(ctx, s.userID, current)
	}

	s.advance()
	return record, nil
}

// advance moves the cursor. Callers hold s.mu.
func (s *Session) advance() {
	s.cursor++
	if s.cursor >= len(s.queue) {
		s.state = StateExhausted
	}
}

// compact drops empty responses so stored records only hold answers.
func compact(in map[string]model.ScaleValue) map[string]model.ScaleValue {
	out := make(map[string]model.ScaleValue, len(in))
	for title, v := range in {
		if !v.IsEmpty() {
			out[title] = v
		}
	}
	return out
}
