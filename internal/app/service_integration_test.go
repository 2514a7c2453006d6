package service_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/okian/kickrate/internal/adapters/catalog"
	repository "github.com/okian/kickrate/internal/adapters/repository"
	service "github.com/okian/kickrate/internal/app"
	"github.com/okian/kickrate/internal/domain/session"
	. "github.com/smartystreets/goconvey/convey"
)

func writeVideos(t *testing.T, dir string, items ...string) {
	t.Helper()
	for _, item := range items {
		if err := os.WriteFile(filepath.Join(dir, item+".mp4"), []byte("video"), 0o600); err != nil {
			t.Fatal(err)
		}
	}
}

func TestServiceIntegration(t *testing.T) {
	for _, backend := range []string{repository.BackendFile, repository.BackendBadger, repository.BackendSQLite} {
		Convey(fmt.Sprintf("Given a service over a local catalog and the %s store", backend), t, func() {
			videos := t.TempDir()
			writeVideos(t, videos, "event_001", "event_002", "event_003", "event_004")
			source, err := catalog.NewLocalDir(videos, ".mp4")
			So(err, ShouldBeNil)

			path := t.TempDir()
			if backend == repository.BackendSQLite {
				path = filepath.Join(path, "ratings.db")
			}
			store, err := repository.Open(backend, path)
			So(err, ShouldBeNil)
			defer store.Close()

			svc := service.New(store, source, testScales(),
				service.WithMinRatings(2),
				service.WithPrefetch(2, 2, 16),
			)
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			So(svc.Start(ctx), ShouldBeNil)
			defer svc.Stop()

			rateAll := func(user string) []string {
				v, err := svc.StartSession(ctx, user)
				So(err, ShouldBeNil)
				var rated []string
				for v.State == session.StateActive {
					sub := rate(4)
					sub.ItemID = v.CurrentItem
					next, _, err := svc.Submit(ctx, v.ID, sub)
					So(err, ShouldBeNil)
					rated = append(rated, sub.ItemID)
					v = next
				}
				So(svc.EndSession(ctx, v.ID), ShouldBeNil)
				sort.Strings(rated)
				return rated
			}

			Convey("When a participant rates their whole queue", func() {
				rated := rateAll("josm1657")

				Convey("Then every item should be rated once and the id should exist", func() {
					So(rated, ShouldResemble, []string{"event_001", "event_002", "event_003", "event_004"})
					So(svc.IdentityExists(ctx, "josm1657"), ShouldBeTrue)
				})

				Convey("Then a returning participant should get an empty queue", func() {
					v, err := svc.StartSession(ctx, "josm1657")
					So(err, ShouldBeNil)
					So(v.State, ShouldEqual, session.StateExhausted)
				})
			})

			Convey("When enough participants fill the quota", func() {
				rateAll("aaaa10")
				rateAll("bbbb20")

				Convey("Then a third participant should see nothing", func() {
					v, err := svc.StartSession(ctx, "cccc30")
					So(err, ShouldBeNil)
					So(v.Total, ShouldEqual, 0)
					So(v.State, ShouldEqual, session.StateExhausted)
				})

				Convey("Then the stored counts should match the quota", func() {
					counts, err := store.CountsByItem(ctx)
					So(err, ShouldBeNil)
					for _, item := range []string{"event_001", "event_002", "event_003", "event_004"} {
						So(counts[item], ShouldEqual, 2)
					}
				})
			})

			Convey("When a video is requested", func() {
				p, err := svc.VideoPath(ctx, "event_003")

				Convey("Then the local file should be served", func() {
					So(err, ShouldBeNil)
					So(p, ShouldEqual, filepath.Join(videos, "event_003.mp4"))
				})
			})
		})
	}
}
