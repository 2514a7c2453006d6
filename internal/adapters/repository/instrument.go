package repository

import (
	"context"
	"errors"
	"time"

	"github.com/okian/kickrate/internal/domain/model"
	"github.com/okian/kickrate/pkg/metrics"
)

// instrumented records latency and failures of every store call.
type instrumented struct {
	RecordStore
	backend string
}

// Instrument wraps s so each operation is reported to the store metrics.
func Instrument(s RecordStore, backend string) RecordStore {
	return &instrumented{RecordStore: s, backend: backend}
}

func (i *instrumented) observe(op string, start time.Time, err error) {
	failed := err != nil && !errors.Is(err, model.ErrRecordExists) && !errors.Is(err, ErrNotFound)
	metrics.RecordStoreOperation(i.backend, op, float64(time.Since(start).Microseconds())/1000, failed)
}

func (i *instrumented) Write(ctx context.Context, r model.RatingRecord) error {
	start := time.Now()
	err := i.RecordStore.Write(ctx, r)
	i.observe("write", start, err)
	return err
}

func (i *instrumented) RatedBy(ctx context.Context, userID string) (map[string]struct{}, error) {
	start := time.Now()
	out, err := i.RecordStore.RatedBy(ctx, userID)
	i.observe("rated_by", start, err)
	return out, err
}

func (i *instrumented) CountsByItem(ctx context.Context) (map[string]int, error) {
	start := time.Now()
	out, err := i.RecordStore.CountsByItem(ctx)
	i.observe("counts_by_item", start, err)
	return out, err
}

func (i *instrumented) Exists(ctx context.Context, userID string) (bool, error) {
	start := time.Now()
	ok, err := i.RecordStore.Exists(ctx, userID)
	i.observe("exists", start, err)
	return ok, err
}

func (i *instrumented) SaveProfile(ctx context.Context, userID string, p model.Profile) error {
	start := time.Now()
	err := i.RecordStore.SaveProfile(ctx, userID, p)
	i.observe("save_profile", start, err)
	return err
}

func (i *instrumented) LoadProfile(ctx context.Context, userID string) (StoredProfile, error) {
	start := time.Now()
	p, err := i.RecordStore.LoadProfile(ctx, userID)
	i.observe("load_profile", start, err)
	return p, err
}
