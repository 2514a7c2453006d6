package model

import (
	"fmt"
	"strings"
	"time"
)

// RatingRecord is the durable evidence that a user rated an item.
// Records are written once per (user, item) and never changed.
type RatingRecord struct {
	UserID       string                `json:"user_id"`
	ItemID       string                `json:"item_id"`
	Responses    map[string]ScaleValue `json:"responses"`
	Unrecognized bool                  `json:"flagged_unrecognized"`
	RatedAt      time.Time             `json:"rated_at"`
}

// Key identifies the record's (user, item) slot.
func (r RatingRecord) Key() SlotKey {
	return RecordKey(r.UserID, r.ItemID)
}

// Check verifies the identifying fields are present.
func (r RatingRecord) Check() error {
	switch {
	case strings.TrimSpace(r.UserID) == "":
		return fmt.Errorf("%w: missing user id", ErrInvalidRecord)
	case strings.TrimSpace(r.ItemID) == "":
		return fmt.Errorf("%w: missing item id", ErrInvalidRecord)
	}
	return nil
}

// SlotKey identifies one (user, item) slot. Both ids may contain any
// character, so the pair is kept as a struct instead of a joined string.
type SlotKey struct {
	UserID string
	ItemID string
}

func (k SlotKey) String() string {
	return k.UserID + "/" + k.ItemID
}

// RecordKey builds the key used for at-most-once tracking.
func RecordKey(userID, itemID string) SlotKey {
	return SlotKey{UserID: userID, ItemID: itemID}
}
