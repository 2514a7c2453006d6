package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/okian/kickrate/internal/domain/model"
)

// Key prefixes for badger storage.
const (
	ratingKeyPrefix  = "rating/"
	profileKeyPrefix = "profile/"
)

const badgerConflictRetries = 3

// BadgerStore keeps records under rating/{user}/{item} and profiles under
// profile/{user} in an embedded badger database.
type BadgerStore struct {
	db   *badger.DB
	opts options
}

// NewBadgerStore opens (or creates) a badger database in dir.
func NewBadgerStore(dir string, opts ...Option) (*BadgerStore, error) {
	o := newOptions(BackendBadger, opts)

	bopts := badger.DefaultOptions(dir).WithLogger(nil)
	if o.inMem {
		bopts = badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	} else if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("%w: empty store path", ErrInvalidID)
	}
	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &BadgerStore{db: db, opts: o}, nil
}

func ratingKey(userID, itemID string) []byte {
	return []byte(ratingKeyPrefix + userID + "/" + itemID)
}

// Write stores the record in a single transaction. A concurrent writer of the
// same key makes the commit conflict; the retry then sees the stored record.
func (s *BadgerStore) Write(ctx context.Context, r model.RatingRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkRecord(r); err != nil {
		return err
	}
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	key := ratingKey(r.UserID, r.ItemID)

	for attempt := 0; ; attempt++ {
		err = s.db.Update(func(txn *badger.Txn) error {
			_, err := txn.Get(key)
			if err == nil {
				return fmt.Errorf("%w: %s", model.ErrRecordExists, r.Key())
			}
			if !errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("get record: %w", err)
			}
			return txn.Set(key, data)
		})
		if errors.Is(err, badger.ErrConflict) && attempt < badgerConflictRetries {
			continue
		}
		return err
	}
}

func (s *BadgerStore) RatedBy(ctx context.Context, userID string) (map[string]struct{}, error) {
	out := make(map[string]struct{})
	if checkID("user id", userID) != nil {
		return out, nil
	}
	prefix := []byte(ratingKeyPrefix + userID + "/")
	err := s.scanKeys(ctx, prefix, func(rest string) {
		out[rest] = struct{}{}
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *BadgerStore) CountsByItem(ctx context.Context) (map[string]int, error) {
	counts := make(map[string]int)
	err := s.scanKeys(ctx, []byte(ratingKeyPrefix), func(rest string) {
		if i := strings.IndexByte(rest, '/'); i >= 0 {
			counts[rest[i+1:]]++
		}
	})
	if err != nil {
		return nil, err
	}
	return counts, nil
}

func (s *BadgerStore) Exists(ctx context.Context, userID string) (bool, error) {
	if checkID("user id", userID) != nil {
		return false, nil
	}
	prefix := []byte(ratingKeyPrefix + userID + "/")
	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
		defer it.Close()
		it.Rewind()
		found = it.Valid()
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("scan records: %w", err)
	}
	return found, ctx.Err()
}

// scanKeys calls fn with each key under prefix, minus the prefix. Values are
// not loaded.
func (s *BadgerStore) scanKeys(ctx context.Context, prefix []byte, fn func(rest string)) error {
	return s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			fn(string(it.Item().Key()[len(prefix):]))
		}
		return nil
	})
}

func (s *BadgerStore) SaveProfile(ctx context.Context, userID string, p model.Profile) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkID("user id", userID); err != nil {
		return err
	}
	data, err := json.Marshal(StoredProfile{UserID: userID, Answers: p, SavedAt: s.opts.now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal profile: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(profileKeyPrefix+userID), data)
	})
}

func (s *BadgerStore) LoadProfile(ctx context.Context, userID string) (StoredProfile, error) {
	if err := ctx.Err(); err != nil {
		return StoredProfile{}, err
	}
	var p StoredProfile
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(profileKeyPrefix + userID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get profile: %w", err)
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &p)
		})
	})
	if err != nil {
		return StoredProfile{}, err
	}
	return p, nil
}

// RunGC reclaims value log space until there is nothing left to collect.
func (s *BadgerStore) RunGC(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for s.db.RunValueLogGC(0.5) == nil {
			}
		}
	}
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}
