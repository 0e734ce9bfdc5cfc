package model

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"dayplanner/internal/timecoord"
)

// Status is the completion state of an event, owned by the event store.
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusCompleted Status = "completed"
)

var (
	ErrMissingID       = errors.New("event: missing id")
	ErrEmptyInterval   = errors.New("event: end must be after start")
	ErrMissingDate     = errors.New("event: one-off event has no date")
	ErrInvalidWeekday  = errors.New("event: recurrence day outside 0..6")
	ErrDateOnRecurring = errors.New("event: recurring event must not carry a date")
)

// Event is a calendar entry as supplied by the event store. The engine
// never mutates stored fields; it only derives layout, new times and
// reminder triggers from them.
type Event struct {
	ID    string              `yaml:"id" json:"id"`
	Title string              `yaml:"title,omitempty" json:"title,omitempty"`
	Start timecoord.TimeOfDay `yaml:"start" json:"start"`
	End   timecoord.TimeOfDay `yaml:"end" json:"end"`

	// Date is the logical day of a one-off event. Absent for recurring events.
	Date *Date `yaml:"date,omitempty" json:"date,omitempty"`

	IsRecurring bool `yaml:"recurring,omitempty" json:"recurring,omitempty"`
	// RecurrenceDays holds weekday indices (0=Sunday..6=Saturday).
	// Empty means every day; use Rule rather than testing emptiness.
	RecurrenceDays []int `yaml:"recurrence_days,omitempty" json:"recurrence_days,omitempty"`

	Status Status `yaml:"status,omitempty" json:"status,omitempty"`
}

// StartOffset and EndOffset are the event bounds as day offsets.
func (e Event) StartOffset() (int, error) { return timecoord.ToDayOffset(e.Start) }
func (e Event) EndOffset() (int, error)   { return timecoord.ToDayOffset(e.End) }

// DurationMinutes is end minus start on the day-offset axis.
func (e Event) DurationMinutes() (int, error) {
	s, err := e.StartOffset()
	if err != nil {
		return 0, err
	}
	end, err := e.EndOffset()
	if err != nil {
		return 0, err
	}
	return end - s, nil
}

// Validate checks the invariants the engine relies on: an id, valid times,
// end strictly after start within the logical day, and a date only on
// one-off events.
func (e Event) Validate() error {
	if e.ID == "" {
		return ErrMissingID
	}
	d, err := e.DurationMinutes()
	if err != nil {
		return fmt.Errorf("event %s: %w", e.ID, err)
	}
	if d <= 0 {
		return fmt.Errorf("event %s: %w (%s-%s)", e.ID, ErrEmptyInterval, e.Start, e.End)
	}
	if e.IsRecurring {
		if e.Date != nil {
			return fmt.Errorf("event %s: %w", e.ID, ErrDateOnRecurring)
		}
		for _, wd := range e.RecurrenceDays {
			if wd < 0 || wd > 6 {
				return fmt.Errorf("event %s: %w: %d", e.ID, ErrInvalidWeekday, wd)
			}
		}
	} else if e.Date == nil {
		return fmt.Errorf("event %s: %w", e.ID, ErrMissingDate)
	}
	return nil
}

// Rule returns the explicit recurrence variant. ok is false for one-off
// events.
func (e Event) Rule() (Recurrence, bool) {
	if !e.IsRecurring {
		return Recurrence{}, false
	}
	if len(e.RecurrenceDays) == 0 {
		return Daily(), true
	}
	days := make([]time.Weekday, 0, len(e.RecurrenceDays))
	for _, d := range e.RecurrenceDays {
		days = append(days, time.Weekday(d))
	}
	return OnDays(days...), true
}

// OccursOn reports whether the event falls on the given logical day.
func (e Event) OccursOn(d Date) bool {
	if r, ok := e.Rule(); ok {
		return r.Matches(d.Weekday())
	}
	return e.Date != nil && *e.Date == d
}

// WithTimes returns a copy of e carrying new start/end times.
func (e Event) WithTimes(start, end timecoord.TimeOfDay) Event {
	e.Start = start
	e.End = end
	e.RecurrenceDays = slices.Clone(e.RecurrenceDays)
	return e
}

// RecurrenceKind tags the two recurrence variants.
type RecurrenceKind int

const (
	RecurDaily RecurrenceKind = iota
	RecurOnDays
)

// Recurrence is either Daily or OnDays(set of weekdays).
type Recurrence struct {
	Kind RecurrenceKind
	Days []time.Weekday // sorted, unique; only for RecurOnDays
}

func Daily() Recurrence { return Recurrence{Kind: RecurDaily} }

// OnDays builds a weekday-set rule. Duplicates are dropped and days are
// sorted Sunday first.
func OnDays(days ...time.Weekday) Recurrence {
	set := slices.Clone(days)
	slices.Sort(set)
	return Recurrence{Kind: RecurOnDays, Days: slices.Compact(set)}
}

func (r Recurrence) Matches(wd time.Weekday) bool {
	if r.Kind == RecurDaily {
		return true
	}
	return slices.Contains(r.Days, wd)
}

func (r Recurrence) String() string {
	if r.Kind == RecurDaily {
		return "daily"
	}
	return fmt.Sprintf("on %v", r.Days)
}
