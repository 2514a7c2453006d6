package session_test

import (
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/okian/kickrate/internal/domain/assign"
	"github.com/okian/kickrate/internal/domain/dedupe"
	"github.com/okian/kickrate/internal/domain/model"
	"github.com/okian/kickrate/internal/domain/session"
	"github.com/okian/kickrate/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMain(m *testing.M) {
	if err := logger.Init(logger.WithWriter(io.Discard)); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

// memStore is an append-only record store that can be told to fail writes.
type memStore struct {
	mu       sync.Mutex
	records  map[model.SlotKey]model.RatingRecord
	failNext error
	writes   int
	// gate, when set, blocks writers until closed.
	gate chan struct{}
}

func newMemStore() *memStore {
	return &memStore{records: map[model.SlotKey]model.RatingRecord{}}
}

func (m *memStore) Write(_ context.Context, r model.RatingRecord) error {
	if m.gate != nil {
		<-m.gate
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failNext; err != nil {
		m.failNext = nil
		return err
	}
	if _, ok := m.records[r.Key()]; ok {
		return model.ErrRecordExists
	}
	m.records[r.Key()] = r
	m.writes++
	return nil
}

func (m *memStore) RatedBy(_ context.Context, user string) (map[string]struct{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string]struct{}{}
	for _, r := range m.records {
		if r.UserID == user {
			out[r.ItemID] = struct{}{}
		}
	}
	return out, nil
}

func (m *memStore) CountsByItem(context.Context) (map[string]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string]int{}
	for _, r := range m.records {
		out[r.ItemID]++
	}
	return out, nil
}

func (m *memStore) Exists(_ context.Context, user string) bool {
	rated, _ := m.RatedBy(context.Background(), user)
	return len(rated) > 0
}

func scales() model.ScaleSet {
	return model.ScaleSet{
		{Title: "Creativity", Kind: model.KindDiscrete, Values: []int{1, 2, 3, 4, 5}, Required: true},
		{Title: "Comment", Kind: model.KindText},
	}
}

func answer(item string) session.Submission {
	return session.Submission{
		ItemID:    item,
		Responses: map[string]model.ScaleValue{"Creativity": model.DiscreteValue(4)},
	}
}

func TestSessionLifecycle(t *testing.T) {
	ctx := context.Background()

	Convey("Given a new session", t, func() {
		store := newMemStore()
		s := session.New("s1", "josm1657", scales(), store, dedupe.NewInMemoryDeduper())

		Convey("Then it should be building and refuse submissions", func() {
			So(s.State(), ShouldEqual, session.StateBuilding)
			_, err := s.Submit(ctx, answer("clip_a"))
			So(errors.Is(err, session.ErrNotStarted), ShouldBeTrue)
		})

		Convey("When started with an empty queue", func() {
			So(s.Start(nil), ShouldBeNil)

			Convey("Then it should be exhausted at once", func() {
				So(s.State(), ShouldEqual, session.StateExhausted)
				snap := s.Snapshot()
				So(snap.Remaining, ShouldEqual, 0)
				So(snap.CurrentItem, ShouldEqual, "")
			})
		})

		Convey("When started with two items", func() {
			queue := []string{"clip_a", "clip_b"}
			So(s.Start(queue), ShouldBeNil)
			queue[0] = "mutated"

			Convey("Then it should hold a snapshot of the queue", func() {
				item, ok := s.Current()
				So(ok, ShouldBeTrue)
				So(item, ShouldEqual, "clip_a")
				So(s.Upcoming(5), ShouldResemble, []string{"clip_b"})
				So(errors.Is(s.Start([]string{"x"}), session.ErrAlreadyStarted), ShouldBeTrue)
			})

			Convey("And both items are rated", func() {
				r1, err1 := s.Submit(ctx, answer("clip_a"))
				r2, err2 := s.Submit(ctx, answer("clip_b"))

				Convey("Then records should be written and the session exhausted", func() {
					So(err1, ShouldBeNil)
					So(err2, ShouldBeNil)
					So(r1.ItemID, ShouldEqual, "clip_a")
					So(r2.UserID, ShouldEqual, "josm1657")
					So(store.writes, ShouldEqual, 2)
					So(s.State(), ShouldEqual, session.StateExhausted)

					_, err := s.Submit(ctx, answer("clip_b"))
					So(errors.Is(err, session.ErrExhausted), ShouldBeTrue)
				})
			})

			Convey("And the submission targets another item", func() {
				_, err := s.Submit(ctx, answer("clip_b"))

				Convey("Then it should be refused without moving", func() {
					So(errors.Is(err, session.ErrWrongItem), ShouldBeTrue)
					item, _ := s.Current()
					So(item, ShouldEqual, "clip_a")
				})
			})
		})
	})
}

func TestSessionSubmissionGate(t *testing.T) {
	ctx := context.Background()

	Convey("Given an active session", t, func() {
		store := newMemStore()
		s := session.New("s1", "josm1657", scales(), store, dedupe.NewInMemoryDeduper())
		So(s.Start([]string{"clip_a", "clip_b"}), ShouldBeNil)

		Convey("When a required scale is missing", func() {
			_, err := s.Submit(ctx, session.Submission{
				ItemID:    "clip_a",
				Responses: map[string]model.ScaleValue{"Comment": model.TextValue("nice")},
			})

			Convey("Then it should be rejected, unmoved and unrecorded", func() {
				So(errors.Is(err, model.ErrValidationFailed), ShouldBeTrue)
				item, _ := s.Current()
				So(item, ShouldEqual, "clip_a")
				So(store.writes, ShouldEqual, 0)
			})

			Convey("And a retry with the value should pass", func() {
				_, err := s.Submit(ctx, answer("clip_a"))
				So(err, ShouldBeNil)
				item, _ := s.Current()
				So(item, ShouldEqual, "clip_b")
			})
		})

		Convey("When the item is flagged as not recognized", func() {
			rec, err := s.Submit(ctx, session.Submission{ItemID: "clip_a", Unrecognized: true})

			Convey("Then it should be accepted without required scales", func() {
				So(err, ShouldBeNil)
				So(rec.Unrecognized, ShouldBeTrue)
				So(rec.Responses, ShouldBeEmpty)
			})
		})

		Convey("When the write fails", func() {
			store.failNext = errors.New("disk full")
			_, err := s.Submit(ctx, answer("clip_a"))

			Convey("Then the failure should surface and nothing should exist", func() {
				So(errors.Is(err, session.ErrWriteFailed), ShouldBeTrue)
				item, _ := s.Current()
				So(item, ShouldEqual, "clip_a")
				So(store.Exists(ctx, "josm1657"), ShouldBeFalse)
			})

			Convey("And a retry should succeed", func() {
				_, err := s.Submit(ctx, answer("clip_a"))
				So(err, ShouldBeNil)
				So(store.Exists(ctx, "josm1657"), ShouldBeTrue)
			})
		})

		Convey("When the store already has the pair", func() {
			_ = store.Write(ctx, model.RatingRecord{UserID: "josm1657", ItemID: "clip_a"})
			_, err := s.Submit(ctx, answer("clip_a"))

			Convey("Then the item should be skipped without a second record", func() {
				So(errors.Is(err, session.ErrAlreadyRated), ShouldBeTrue)
				So(store.writes, ShouldEqual, 1)
				item, _ := s.Current()
				So(item, ShouldEqual, "clip_b")
			})
		})

		Convey("When another session holds the pair and its write later fails", func() {
			guard := dedupe.NewInMemoryDeduper()
			other := session.New("s0", "josm1657", scales(), store, guard)
			mine := session.New("s3", "josm1657", scales(), store, guard)
			So(other.Start([]string{"clip_a"}), ShouldBeNil)
			So(mine.Start([]string{"clip_a", "clip_b"}), ShouldBeNil)

			// The other session reserved clip_a and is still writing.
			guard.SeenAndRecord(ctx, "josm1657", "clip_a")
			rec, err := mine.Submit(ctx, answer("clip_a"))
			store.failNext = errors.New("disk full")
			_, otherErr := other.Submit(ctx, answer("clip_a"))

			Convey("Then this session should store its own record before moving on", func() {
				So(err, ShouldBeNil)
				So(rec.ItemID, ShouldEqual, "clip_a")
				item, _ := mine.Current()
				So(item, ShouldEqual, "clip_b")
				So(store.writes, ShouldEqual, 1)
				So(guard.SeenAndRecord(ctx, "josm1657", "clip_a"), ShouldBeTrue)
			})

			Convey("And the failed session should stay on the item", func() {
				So(errors.Is(otherErr, session.ErrWriteFailed), ShouldBeTrue)
				item, _ := other.Current()
				So(item, ShouldEqual, "clip_a")
			})
		})

		Convey("When the pair is reserved but the store holds it", func() {
			guard := dedupe.NewInMemoryDeduper()
			s := session.New("s4", "josm1657", scales(), store, guard)
			So(s.Start([]string{"clip_a", "clip_b"}), ShouldBeNil)
			guard.SeenAndRecord(ctx, "josm1657", "clip_a")
			_ = store.Write(ctx, model.RatingRecord{UserID: "josm1657", ItemID: "clip_a"})
			_, err := s.Submit(ctx, answer("clip_a"))

			Convey("Then the item should be skipped", func() {
				So(errors.Is(err, session.ErrAlreadyRated), ShouldBeTrue)
				item, _ := s.Current()
				So(item, ShouldEqual, "clip_b")
				So(store.writes, ShouldEqual, 1)
			})
		})

		Convey("When the clock moves between operations", func() {
			at := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
			s := session.New("s2", "u", scales(), store, nil, session.WithClock(func() time.Time { return at }))
			So(s.Start([]string{"clip_a"}), ShouldBeNil)
			at = at.Add(time.Minute)
			rec, err := s.Submit(ctx, answer("clip_a"))

			Convey("Then the record and activity time should use it", func() {
				So(err, ShouldBeNil)
				So(rec.RatedAt, ShouldEqual, at)
				So(s.LastActive(), ShouldEqual, at)
			})
		})
	})
}

func TestQuotaRace(t *testing.T) {
	ctx := context.Background()

	Convey("Given one open slot left on an item", t, func() {
		const quota = 2
		store := newMemStore()
		So(store.Write(ctx, model.RatingRecord{UserID: "early", ItemID: "clip_a"}), ShouldBeNil)

		assigner := assign.New(store)
		guard := dedupe.NewInMemoryDeduper()
		users := []string{"josm1657", "abcd213"}
		sessions := make([]*session.Session, len(users))
		for i, u := range users {
			res := assigner.BuildQueue(ctx, u, []string{"clip_a"}, quota)
			So(res.Items, ShouldResemble, []string{"clip_a"})
			sessions[i] = session.New("s"+u, u, scales(), store, guard)
			So(sessions[i].Start(res.Items), ShouldBeNil)
		}

		Convey("When both raters submit at the same time", func() {
			store.gate = make(chan struct{})
			var wg sync.WaitGroup
			errs := make([]error, len(sessions))
			for i, s := range sessions {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, errs[i] = s.Submit(ctx, answer("clip_a"))
				}()
			}
			close(store.gate)
			wg.Wait()

			Convey("Then both should succeed and the overshoot stay bounded", func() {
				So(errs[0], ShouldBeNil)
				So(errs[1], ShouldBeNil)
				counts, _ := store.CountsByItem(ctx)
				So(counts["clip_a"], ShouldBeGreaterThan, quota)
				So(counts["clip_a"]-quota, ShouldBeLessThanOrEqualTo, len(users)-1)
			})

			Convey("And a later build should see the item saturated", func() {
				res := assigner.BuildQueue(ctx, "late", []string{"clip_a"}, quota)
				So(res.Items, ShouldBeEmpty)
			})
		})
	})
}

func TestSharedGuardKeys(t *testing.T) {
	ctx := context.Background()

	Convey("Given two raters whose ids join to the same text", t, func() {
		store := newMemStore()
		guard := dedupe.NewInMemoryDeduper()
		first := session.New("s1", "ab12", scales(), store, guard)
		second := session.New("s2", "ab12_1", scales(), store, guard)
		So(first.Start([]string{"1_x"}), ShouldBeNil)
		So(second.Start([]string{"x"}), ShouldBeNil)

		Convey("When both submit", func() {
			_, errFirst := first.Submit(ctx, answer("1_x"))
			_, errSecond := second.Submit(ctx, answer("x"))

			Convey("Then both records should be written", func() {
				So(errFirst, ShouldBeNil)
				So(errSecond, ShouldBeNil)
				So(store.writes, ShouldEqual, 2)
				So(guard.Size(), ShouldEqual, 2)
			})
		})
	})
}
