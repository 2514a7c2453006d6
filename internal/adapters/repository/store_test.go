package repository

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/okian/kickrate/internal/domain/model"
	"github.com/okian/kickrate/pkg/logger"
)

func TestMain(m *testing.M) {
	if err := logger.Init(logger.WithWriter(io.Discard)); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

var fixedNow = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

func openBackends(t *testing.T) map[string]RecordStore {
	t.Helper()
	clock := WithClock(func() time.Time { return fixedNow })

	fileStore, err := NewFileStore(t.TempDir(), clock)
	if err != nil {
		t.Fatalf("file store: %v", err)
	}
	badgerStore, err := NewBadgerStore("", clock, WithInMemory())
	if err != nil {
		t.Fatalf("badger store: %v", err)
	}
	sqliteStore, err := NewSQLiteStore(filepath.Join(t.TempDir(), "ratings.db"), clock)
	if err != nil {
		t.Fatalf("sqlite store: %v", err)
	}

	stores := map[string]RecordStore{
		BackendFile:   fileStore,
		BackendBadger: badgerStore,
		BackendSQLite: sqliteStore,
	}
	t.Cleanup(func() {
		for name, s := range stores {
			if err := s.Close(); err != nil {
				t.Errorf("close %s: %v", name, err)
			}
		}
	})
	return stores
}

func record(user, item string) model.RatingRecord {
	return model.RatingRecord{
		UserID:    user,
		ItemID:    item,
		Responses: map[string]model.ScaleValue{"Creativity": model.DiscreteValue(5), "Risk": model.RangeValue(0.4)},
		RatedAt:   fixedNow,
	}
}

func TestRecordStore_Contract(t *testing.T) {
	ctx := context.Background()

	for name, store := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			// Empty store
			if ok, err := store.Exists(ctx, "josm1657"); err != nil || ok {
				t.Fatalf("expected no user, got %v, %v", ok, err)
			}
			counts, err := store.CountsByItem(ctx)
			if err != nil {
				t.Fatalf("counts: %v", err)
			}
			if len(counts) != 0 {
				t.Errorf("expected no counts, got %v", counts)
			}

			for _, r := range []model.RatingRecord{
				record("josm1657", "clip_01"),
				record("josm1657", "clip_02"),
				record("abcd213", "clip_01"),
			} {
				if err := store.Write(ctx, r); err != nil {
					t.Fatalf("write %s: %v", r.Key(), err)
				}
			}

			// Duplicate pair
			err = store.Write(ctx, record("josm1657", "clip_01"))
			if !errors.Is(err, model.ErrRecordExists) {
				t.Errorf("expected ErrRecordExists, got %v", err)
			}

			rated, err := store.RatedBy(ctx, "josm1657")
			if err != nil {
				t.Fatalf("rated by: %v", err)
			}
			if len(rated) != 2 {
				t.Errorf("expected 2 rated items, got %v", rated)
			}
			if _, ok := rated["clip_02"]; !ok {
				t.Errorf("expected clip_02 in %v", rated)
			}

			counts, err = store.CountsByItem(ctx)
			if err != nil {
				t.Fatalf("counts: %v", err)
			}
			if counts["clip_01"] != 2 || counts["clip_02"] != 1 {
				t.Errorf("unexpected counts %v", counts)
			}

			if ok, _ := store.Exists(ctx, "abcd213"); !ok {
				t.Error("expected abcd213 to exist")
			}
			if ok, _ := store.Exists(ctx, "abcd"); ok {
				t.Error("a prefix of a user id must not exist")
			}

			rated, err = store.RatedBy(ctx, "nobody")
			if err != nil || len(rated) != 0 {
				t.Errorf("expected empty set for unknown user, got %v, %v", rated, err)
			}
		})
	}
}

func TestRecordStore_RejectsBadRecords(t *testing.T) {
	ctx := context.Background()

	for name, store := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			for _, r := range []model.RatingRecord{
				record("", "clip_01"),
				record("josm1657", ""),
				record("../etc", "clip_01"),
				record("josm1657", "a/b"),
				record("josm1657", ".hidden"),
			} {
				if err := store.Write(ctx, r); err == nil {
					t.Errorf("expected %q/%q to be rejected", r.UserID, r.ItemID)
				}
			}
			if ok, _ := store.Exists(ctx, "josm1657"); ok {
				t.Error("rejected writes must not create the user")
			}
		})
	}
}

func TestRecordStore_Profiles(t *testing.T) {
	ctx := context.Background()

	for name, store := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := store.LoadProfile(ctx, "josm1657"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}

			p := model.Profile{model.FieldMotherInitials: "jo", model.FieldSiblings: 2, "nationality": "PT"}
			if err := store.SaveProfile(ctx, "josm1657", p); err != nil {
				t.Fatalf("save: %v", err)
			}
			p["nationality"] = "BR"
			if err := store.SaveProfile(ctx, "josm1657", p); err != nil {
				t.Fatalf("save again: %v", err)
			}

			got, err := store.LoadProfile(ctx, "josm1657")
			if err != nil {
				t.Fatalf("load: %v", err)
			}
			if got.UserID != "josm1657" {
				t.Errorf("expected user josm1657, got %q", got.UserID)
			}
			if !got.SavedAt.Equal(fixedNow) {
				t.Errorf("expected saved_at %v, got %v", fixedNow, got.SavedAt)
			}
			if got.Answers["nationality"] != "BR" {
				t.Errorf("expected latest answers, got %v", got.Answers)
			}
			if got.Answers.Siblings() != 2 {
				t.Errorf("expected siblings 2, got %d", got.Answers.Siblings())
			}

			// A profile alone does not make the id resumable.
			if ok, _ := store.Exists(ctx, "josm1657"); ok {
				t.Error("profile must not count as a rating record")
			}
		})
	}
}

func TestRecordStore_ConcurrentWritesSamePair(t *testing.T) {
	ctx := context.Background()

	for name, store := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			const writers = 8
			var (
				wg       sync.WaitGroup
				accepted atomic.Int32
				other    atomic.Int32
			)
			for i := 0; i < writers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					err := store.Write(ctx, record("josm1657", "clip_01"))
					switch {
					case err == nil:
						accepted.Add(1)
					case !errors.Is(err, model.ErrRecordExists):
						other.Add(1)
					}
				}()
			}
			wg.Wait()

			if accepted.Load() != 1 {
				t.Errorf("expected exactly one accepted write, got %d", accepted.Load())
			}
			if other.Load() != 0 {
				t.Errorf("expected only ErrRecordExists failures, got %d others", other.Load())
			}
			counts, _ := store.CountsByItem(ctx)
			if counts["clip_01"] != 1 {
				t.Errorf("expected count 1, got %d", counts["clip_01"])
			}
		})
	}
}

func TestFileStore_IgnoresTempFiles(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	store, err := NewFileStore(root)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := store.Write(ctx, record("josm1657", "clip_01")); err != nil {
		t.Fatalf("write: %v", err)
	}

	dir := filepath.Join(root, ratingsDir, "josm1657")
	if err := os.WriteFile(filepath.Join(dir, ".tmp-123"), []byte("{"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	rated, err := store.RatedBy(ctx, "josm1657")
	if err != nil {
		t.Fatalf("rated by: %v", err)
	}
	if len(rated) != 1 {
		t.Errorf("expected only the published record, got %v", rated)
	}

	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		if e.Name() != "clip_01.json" && e.Name() != ".tmp-123" && e.Name() != "notes.txt" {
			t.Errorf("unexpected leftover %s", e.Name())
		}
	}
}

func TestOpen(t *testing.T) {
	if _, err := Open("postgres", t.TempDir()); !errors.Is(err, ErrUnknownBackend) {
		t.Errorf("expected ErrUnknownBackend, got %v", err)
	}

	s, err := Open("FILE", t.TempDir())
	if err != nil {
		t.Fatalf("open file backend: %v", err)
	}
	defer func() { _ = s.Close() }()
	if _, ok := s.(*instrumented); !ok {
		t.Errorf("expected an instrumented store, got %T", s)
	}
	if err := s.Write(context.Background(), record("u1", "clip")); err != nil {
		t.Errorf("write through wrapper: %v", err)
	}
}

func BenchmarkFileStore_CountsByItem(b *testing.B) {
	ctx := context.Background()
	store, err := NewFileStore(b.TempDir())
	if err != nil {
		b.Fatal(err)
	}
	for u := 0; u < 50; u++ {
		for i := 0; i < 20; i++ {
			_ = store.Write(ctx, record(fmt.Sprintf("user%d", u), fmt.Sprintf("clip_%02d", i)))
		}
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := store.CountsByItem(ctx); err != nil {
			b.Fatal(err)
		}
	}
}
