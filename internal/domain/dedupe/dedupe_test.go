package dedupe_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	dedupe "github.com/okian/kickrate/internal/domain/dedupe"
	. "github.com/smartystreets/goconvey/convey"
)

func TestInMemoryDeduper(t *testing.T) {
	ctx := context.Background()

	Convey("Given a new InMemoryDeduper", t, func() {
		Convey("When creating a deduper with default options", func() {
			d := dedupe.NewInMemoryDeduper()

			Convey("Then it should start empty", func() {
				So(d, ShouldNotBeNil)
				So(d.Size(), ShouldEqual, 0)
			})
		})

		Convey("When recording submissions", func() {
			d := dedupe.NewInMemoryDeduper()

			Convey("And the pair is new", func() {
				seen := d.SeenAndRecord(ctx, "josm1657", "clip_01")

				Convey("Then it should return false and record it", func() {
					So(seen, ShouldBeFalse)
					So(d.Size(), ShouldEqual, 1)
				})
			})

			Convey("And the pair was already submitted", func() {
				d.SeenAndRecord(ctx, "josm1657", "clip_01")
				seen := d.SeenAndRecord(ctx, "josm1657", "clip_01")

				Convey("Then it should return true", func() {
					So(seen, ShouldBeTrue)
					So(d.Size(), ShouldEqual, 1)
				})
			})

			Convey("And another user rates the same item", func() {
				d.SeenAndRecord(ctx, "josm1657", "clip_01")
				seen := d.SeenAndRecord(ctx, "abcd213", "clip_01")

				Convey("Then the pairs should be independent", func() {
					So(seen, ShouldBeFalse)
					So(d.Size(), ShouldEqual, 2)
				})
			})

			Convey("And ids with underscores would join to the same text", func() {
				first := d.SeenAndRecord(ctx, "ab12", "1_x")
				second := d.SeenAndRecord(ctx, "ab12_1", "x")

				Convey("Then both pairs should be new", func() {
					So(first, ShouldBeFalse)
					So(second, ShouldBeFalse)
					So(d.Size(), ShouldEqual, 2)
				})
			})
		})

		Convey("When a write failed after reserving the pair", func() {
			d := dedupe.NewInMemoryDeduper()
			d.SeenAndRecord(ctx, "josm1657", "clip_01")
			d.Unrecord(ctx, "josm1657", "clip_01")

			Convey("Then the pair should be accepted again", func() {
				So(d.Size(), ShouldEqual, 0)
				So(d.SeenAndRecord(ctx, "josm1657", "clip_01"), ShouldBeFalse)
			})

			Convey("And unrecording an unknown pair should be a no-op", func() {
				d.Unrecord(ctx, "nobody", "clip_99")
				So(d.Size(), ShouldEqual, 0)
			})
		})

		Convey("When using bounded mode at capacity", func() {
			d := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(3))
			for i := 1; i <= 3; i++ {
				So(d.SeenAndRecord(ctx, "u", fmt.Sprintf("clip_%d", i)), ShouldBeFalse)
			}
			So(d.SeenAndRecord(ctx, "u", "clip_4"), ShouldBeFalse)

			Convey("Then the oldest pair should be evicted", func() {
				So(d.Size(), ShouldEqual, 3)
				So(d.SeenAndRecord(ctx, "u", "clip_4"), ShouldBeTrue)
				So(d.SeenAndRecord(ctx, "u", "clip_3"), ShouldBeTrue)
				So(d.SeenAndRecord(ctx, "u", "clip_1"), ShouldBeFalse)
				So(d.Size(), ShouldEqual, 3)
			})
		})

		Convey("When a freed slot comes around again", func() {
			d := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(2))
			d.SeenAndRecord(ctx, "u", "a")
			d.SeenAndRecord(ctx, "u", "b")
			d.Unrecord(ctx, "u", "a")
			d.SeenAndRecord(ctx, "u", "c")

			Convey("Then no live pair should be evicted for it", func() {
				So(d.Size(), ShouldEqual, 2)
				So(d.SeenAndRecord(ctx, "u", "b"), ShouldBeTrue)
				So(d.SeenAndRecord(ctx, "u", "c"), ShouldBeTrue)
			})
		})

		Convey("When using unbounded mode", func() {
			d := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(-1))
			const n = 1000
			for i := 0; i < n; i++ {
				d.SeenAndRecord(ctx, "u", fmt.Sprintf("clip_%d", i))
			}

			Convey("Then nothing should be evicted", func() {
				So(d.Size(), ShouldEqual, int64(n))
				So(d.SeenAndRecord(ctx, "u", "clip_0"), ShouldBeTrue)
			})
		})
	})
}

func TestDedupeConcurrency(t *testing.T) {
	Convey("Given many goroutines submitting the same pair", t, func() {
		d := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(1000))
		const workers = 16

		var (
			wg       sync.WaitGroup
			accepted atomic.Int32
		)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if !d.SeenAndRecord(context.Background(), "josm1657", "clip_01") {
					accepted.Add(1)
				}
			}()
		}
		wg.Wait()

		Convey("Then exactly one should be accepted", func() {
			So(accepted.Load(), ShouldEqual, 1)
			So(d.Size(), ShouldEqual, 1)
		})
	})
}
