package ratersim_test

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/okian/kickrate/internal/adapters/catalog"
	"github.com/okian/kickrate/internal/adapters/http/api"
	repository "github.com/okian/kickrate/internal/adapters/repository"
	service "github.com/okian/kickrate/internal/app"
	"github.com/okian/kickrate/internal/domain/model"
	"github.com/okian/kickrate/internal/ratersim"
	"github.com/okian/kickrate/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

var items = []string{"clip_001", "clip_002", "clip_003", "clip_004"}

func TestMain(m *testing.M) {
	if err := logger.Init(logger.WithWriter(io.Discard)); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

// newService starts a real service behind an httptest server. Seed records
// are written before the service starts.
func newService(t *testing.T, minRatings int, seed ...model.RatingRecord) *httptest.Server {
	t.Helper()
	videos := t.TempDir()
	for _, item := range items {
		if err := os.WriteFile(filepath.Join(videos, item+".mp4"), []byte(item), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	source, err := catalog.NewLocalDir(videos, ".mp4")
	if err != nil {
		t.Fatal(err)
	}
	store, err := repository.Open(repository.BackendFile, t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	for _, r := range seed {
		if err := store.Write(context.Background(), r); err != nil {
			t.Fatal(err)
		}
	}

	scales := model.ScaleSet{
		{Title: "Quality", Kind: model.KindDiscrete, Values: []int{1, 2, 3, 4, 5}, Required: true},
		{Title: "Excitement", Kind: model.KindRange, Min: 0, Max: 10, Required: true},
		{Title: "Notes", Kind: model.KindText},
	}
	svc := service.New(store, source, scales, service.WithMinRatings(minRatings))
	ctx, cancel := context.WithCancel(context.Background())
	if err := svc.Start(ctx); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		svc.Stop()
		cancel()
	})

	mux := http.NewServeMux()
	api.NewServer(svc, svc).Register(ctx, mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestRun(t *testing.T) {
	Convey("Given a service with a quota of two ratings per item", t, func() {
		srv := newService(t, 2)
		ctx := context.Background()

		Convey("When five participants rate one after another", func() {
			report, err := ratersim.Run(ctx, &ratersim.Config{
				BaseURL:     srv.URL,
				Client:      srv.Client(),
				Raters:      5,
				Concurrency: 1,
			})

			Convey("Then the quota should be met exactly", func() {
				So(err, ShouldBeNil)
				So(report.MinRatings, ShouldEqual, 2)
				So(report.Accepted, ShouldEqual, len(items)*2)
				So(report.Failed, ShouldEqual, 0)
				So(report.Exhausted, ShouldEqual, 3)
				So(report.Overshoot, ShouldBeEmpty)
				for _, item := range items {
					So(report.PerItem[item], ShouldEqual, 2)
				}
			})
		})

		Convey("When participants stop after one item", func() {
			report, err := ratersim.Run(ctx, &ratersim.Config{
				BaseURL:     srv.URL,
				Client:      srv.Client(),
				Raters:      3,
				Concurrency: 1,
				MaxItems:    1,
				Prefix:      "short",
			})

			Convey("Then each participant should submit once", func() {
				So(err, ShouldBeNil)
				So(report.Accepted, ShouldEqual, 3)
				So(report.Exhausted, ShouldEqual, 0)
			})
		})

		Convey("When many participants rate at the same time", func() {
			report, err := ratersim.Run(ctx, &ratersim.Config{
				BaseURL:     srv.URL,
				Client:      srv.Client(),
				Raters:      6,
				Concurrency: 6,
				Seed:        42,
			})

			Convey("Then every item should reach the quota without failures", func() {
				So(err, ShouldBeNil)
				So(report.Failed, ShouldEqual, 0)
				for _, item := range items {
					So(report.PerItem[item], ShouldBeGreaterThanOrEqualTo, 2)
				}
				for item, n := range report.Overshoot {
					So(n, ShouldBeGreaterThan, 2)
					So(report.PerItem[item], ShouldEqual, n)
				}
			})
		})
	})

	Convey("Given an item already rated past the quota before the run", t, func() {
		var seed []model.RatingRecord
		for _, user := range []string{"ab12cd3", "ef45gh6", "ij78kl9"} {
			seed = append(seed, model.RatingRecord{
				UserID:       user,
				ItemID:       "clip_001",
				Unrecognized: true,
				RatedAt:      time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
			})
		}
		srv := newService(t, 2, seed...)

		Convey("When participants rate one after another", func() {
			report, err := ratersim.Run(context.Background(), &ratersim.Config{
				BaseURL:     srv.URL,
				Client:      srv.Client(),
				Raters:      3,
				Concurrency: 1,
			})

			Convey("Then the stored total should be reported as overshoot", func() {
				So(err, ShouldBeNil)
				So(report.PerItem["clip_001"], ShouldEqual, 0)
				So(report.Overshoot, ShouldResemble, map[string]int{"clip_001": 3})
			})
		})
	})

	Convey("Given a service that is not reachable", t, func() {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()

		Convey("When a simulation is started", func() {
			_, err := ratersim.Run(context.Background(), &ratersim.Config{BaseURL: url, Raters: 1})

			Convey("Then the health check should fail", func() {
				So(err, ShouldNotBeNil)
				So(err.Error(), ShouldContainSubstring, "health check")
			})
		})
	})

	Convey("Given a service without the rating routes", t, func() {
		mux := http.NewServeMux()
		mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
		srv := httptest.NewServer(mux)
		defer srv.Close()

		Convey("When a simulation is started", func() {
			_, err := ratersim.Run(context.Background(), &ratersim.Config{BaseURL: srv.URL, Client: srv.Client()})

			Convey("Then fetching scales should fail", func() {
				So(err, ShouldWrap, ratersim.ErrUnexpectedStatus)
				So(err.Error(), ShouldContainSubstring, fmt.Sprintf("scales %d", http.StatusNotFound))
			})
		})
	})
}
