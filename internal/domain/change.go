package domain

import (
	"encoding/json"
	"time"
)

type EntityType string

const (
	EntityRide         EntityType = "ride"
	EntityBooking      EntityType = "booking"
	EntityRating       EntityType = "rating"
	EntityUser         EntityType = "user"
	EntityVehicle      EntityType = "vehicle"
	EntityNotification EntityType = "notification"
)

type ChangeKind string

const (
	ChangeCreated  ChangeKind = "created"
	ChangeModified ChangeKind = "modified"
	ChangeRemoved  ChangeKind = "removed"
)

// ChangeEvent is one mutation observed on the store's change feed. Before is
// empty for created records and After is empty for removed ones.
type ChangeEvent struct {
	ID         string          `json:"id"`
	EntityType EntityType      `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	Kind       ChangeKind      `json:"kind"`
	Before     json.RawMessage `json:"before,omitempty"`
	After      json.RawMessage `json:"after,omitempty"`
	RecordedAt time.Time       `json:"recorded_at"`
}

// NewChangeEvent snapshots before and after as JSON. A nil before means the
// entity was created; a nil after means it was removed.
func NewChangeEvent(entityType EntityType, entityID string, before, after any, at time.Time) (ChangeEvent, error) {
	ev := ChangeEvent{EntityType: entityType, EntityID: entityID, RecordedAt: at, Kind: ChangeModified}
	var err error
	if !isNil(before) {
		if ev.Before, err = json.Marshal(before); err != nil {
			return ChangeEvent{}, err
		}
	} else {
		ev.Kind = ChangeCreated
	}
	if !isNil(after) {
		if ev.After, err = json.Marshal(after); err != nil {
			return ChangeEvent{}, err
		}
	} else {
		ev.Kind = ChangeRemoved
	}
	return ev, nil
}

func isNil(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case *Ride:
		return t == nil
	case *Booking:
		return t == nil
	case *User:
		return t == nil
	case *Vehicle:
		return t == nil
	case *Rating:
		return t == nil
	}
	return false
}
