// Package store holds the event and settings stores: the system of record
// for events and for the user's notification preference.
package store

import (
	"context"
	"errors"
	"strings"

	"dayplanner/internal/model"
	"dayplanner/internal/timecoord"
)

var (
	ErrNotFound = errors.New("store: event not found")
	ErrInvalid  = errors.New("store: invalid event")
)

// EventStore is the CRUD surface the planner needs. Updates are durable
// once they return nil.
type EventStore interface {
	List(ctx context.Context) ([]model.Event, error)
	Get(ctx context.Context, id string) (model.Event, error)
	// UpdateTimes moves an event and returns the stored result.
	UpdateTimes(ctx context.Context, id string, start, end timecoord.TimeOfDay) (model.Event, error)
	MarkCompleted(ctx context.Context, id string) error
	Upsert(ctx context.Context, events ...model.Event) error
	// ReplaceSource swaps every event imported from source for events.
	// Completion status of events that survive the swap is kept.
	ReplaceSource(ctx context.Context, source string, events []model.Event) error
}

// SettingsStore persists NotificationSettings.
type SettingsStore interface {
	Get(ctx context.Context) (model.NotificationSettings, error)
	Set(ctx context.Context, s model.NotificationSettings) error
}

// SourceID is the id of an event imported from a feed.
func SourceID(source, uid string) string {
	return source + ":" + uid
}

// FromSource reports whether id was imported from source.
func FromSource(id, source string) bool {
	return strings.HasPrefix(id, source+":")
}
