package worker_test

import (
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	queue "github.com/okian/kickrate/internal/adapters/mq/queue"
	worker "github.com/okian/kickrate/internal/adapters/mq/worker"
	logging "github.com/okian/kickrate/pkg/logger"
	"github.com/smartystreets/goconvey/convey"
)

func TestMain(m *testing.M) {
	_ = logging.Init(logging.WithWriter(io.Discard))
	os.Exit(m.Run())
}

type mockFetcher struct {
	mu      sync.Mutex
	fetched []string
	errs    map[string]error
	block   chan struct{}
}

func newMockFetcher() *mockFetcher {
	return &mockFetcher{errs: make(map[string]error)}
}

func (f *mockFetcher) Fetch(ctx context.Context, itemID string) (string, error) {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.errs[itemID]; ok {
		return "", err
	}
	f.fetched = append(f.fetched, itemID)
	return "/cache/" + itemID + ".mp4", nil
}

func (f *mockFetcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.fetched)
}

func waitFor(cond func() bool) bool {
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func TestInMemoryWorker(t *testing.T) {
	convey.Convey("Given a worker reading from a queue", t, func() {
		q := queue.NewInMemoryQueue(queue.WithCapacity(8))
		fetcher := newMockFetcher()
		w := worker.NewInMemoryWorker(q, fetcher, worker.WithName("test-worker"))
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go w.Run(ctx)

		convey.Convey("When jobs are enqueued", func() {
			q.Enqueue(ctx, queue.FetchJob{SessionID: "s1", ItemID: "event_001"})
			q.Enqueue(ctx, queue.FetchJob{SessionID: "s1", ItemID: "event_002"})

			convey.Convey("Then each item should be fetched", func() {
				convey.So(waitFor(func() bool { return fetcher.count() == 2 }), convey.ShouldBeTrue)
				convey.So(w.Processed(), convey.ShouldEqual, 2)
			})
		})

		convey.Convey("When a fetch fails", func() {
			fetcher.errs["broken"] = errors.New("bucket unavailable")
			q.Enqueue(ctx, queue.FetchJob{ItemID: "broken"})
			q.Enqueue(ctx, queue.FetchJob{ItemID: "event_003"})

			convey.Convey("Then the worker should keep going", func() {
				convey.So(waitFor(func() bool { return fetcher.count() == 1 }), convey.ShouldBeTrue)
				convey.So(w.Processed(), convey.ShouldEqual, 1)
			})
		})

		convey.Convey("When shut down", func() {
			err := w.Shutdown(context.Background())

			convey.Convey("Then it should stop without error and tolerate a second call", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(w.Shutdown(context.Background()), convey.ShouldBeNil)
			})
		})
	})
}

func TestPool(t *testing.T) {
	convey.Convey("Given a pool of prefetch workers", t, func() {
		q := queue.NewInMemoryQueue(queue.WithCapacity(32))
		fetcher := newMockFetcher()
		pool := worker.NewPool(3, q, fetcher, worker.WithFetchTimeout(time.Second))
		pool.Start(context.Background())

		convey.Convey("When many jobs are enqueued", func() {
			for _, id := range []string{"a", "b", "c", "d", "e", "f"} {
				q.Enqueue(context.Background(), queue.FetchJob{ItemID: id})
			}

			convey.Convey("Then all should be fetched and shutdown should close the queue", func() {
				convey.So(waitFor(func() bool { return pool.Processed() == 6 }), convey.ShouldBeTrue)
				convey.So(pool.Shutdown(context.Background()), convey.ShouldBeNil)
				convey.So(q.IsClosed(), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When a fetch is still in flight at shutdown", func() {
			fetcher.block = make(chan struct{})
			q.Enqueue(context.Background(), queue.FetchJob{ItemID: "slow"})
			time.Sleep(20 * time.Millisecond)

			convey.Convey("Then shutdown should cancel it and return", func() {
				convey.So(pool.Shutdown(context.Background()), convey.ShouldBeNil)
				convey.So(fetcher.count(), convey.ShouldEqual, 0)
			})
		})
	})

	convey.Convey("Given a pool that was never started", t, func() {
		q := queue.NewInMemoryQueue()
		pool := worker.NewPool(0, q, newMockFetcher())

		convey.Convey("Then shutdown should still close the queue", func() {
			convey.So(pool.Shutdown(context.Background()), convey.ShouldBeNil)
			convey.So(q.IsClosed(), convey.ShouldBeTrue)
		})
	})
}
