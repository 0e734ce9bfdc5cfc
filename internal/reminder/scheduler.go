// Package reminder keeps the notification backend consistent with the
// current events and notification settings.
//
// The backend is the only record of what is scheduled. Every pass asks it
// what exists, cancels, and registers; nothing is mirrored locally. Callers
// must not run two RescheduleAll passes against the same backend at once.
package reminder

import (
	"context"
	"errors"
	"fmt"
	"time"

	appLog "dayplanner/internal/log"
	"dayplanner/internal/metrics"
	"dayplanner/internal/model"
	"dayplanner/internal/recurrence"
	"dayplanner/internal/timecoord"
)

var ErrUnknownAction = errors.New("reminder: unknown action")

// Backend is the notification service the scheduler drives.
type Backend interface {
	RequestPermission(ctx context.Context) (bool, error)
	Register(ctx context.Context, content model.ReminderContent, trigger time.Time) (string, error)
	Cancel(ctx context.Context, id string) error
	ListAll(ctx context.Context) ([]model.ReminderRecord, error)
}

// ActionSource delivers user actions taken on delivered reminders.
type ActionSource interface {
	OnUserAction(fn func(ctx context.Context, actionID string, payload model.ReminderPayload))
}

// EventStore is the part of the event store reminder actions need.
type EventStore interface {
	Get(ctx context.Context, id string) (model.Event, error)
	MarkCompleted(ctx context.Context, id string) error
}

// Config holds scheduler configuration.
type Config struct {
	// HorizonDays bounds recurring expansion. Default: 30.
	HorizonDays int

	// Snooze is how far a snoozed reminder is pushed. Default: 5 minutes.
	Snooze time.Duration

	// Location anchors occurrence dates to wall-clock instants.
	// Default: time.Local.
	Location *time.Location
}

func DefaultConfig() Config {
	return Config{
		HorizonDays: recurrence.DefaultHorizonDays,
		Snooze:      5 * time.Minute,
		Location:    time.Local,
	}
}

func (c Config) normalized() Config {
	d := DefaultConfig()
	if c.HorizonDays <= 0 {
		c.HorizonDays = d.HorizonDays
	}
	if c.Snooze <= 0 {
		c.Snooze = d.Snooze
	}
	if c.Location == nil {
		c.Location = d.Location
	}
	return c
}

// Scheduler derives reminders from events and reconciles the backend.
type Scheduler struct {
	config  Config
	backend Backend
	events  EventStore
	metrics metrics.Sink
	clock   func() time.Time
}

// New creates a Scheduler. events may be nil when actions are not handled;
// a nil sink records nothing.
func New(config Config, backend Backend, events EventStore, sink metrics.Sink) *Scheduler {
	if sink == nil {
		sink = metrics.NewNoopSink()
	}
	return &Scheduler{
		config:  config.normalized(),
		backend: backend,
		events:  events,
		metrics: sink,
		clock:   time.Now,
	}
}

// SetClock replaces the time source.
func (s *Scheduler) SetClock(clock func() time.Time) {
	s.clock = clock
}

// Summary describes one RescheduleAll pass.
type Summary struct {
	Cancelled  int
	Registered int
	Skipped    int
	Failed     int
	Duration   time.Duration
}

// ScheduleForEvent registers the reminder for one occurrence of ev. It
// returns false when nothing was registered: settings disabled, trigger at
// or before now, permission denied, or a backend failure (logged).
func (s *Scheduler) ScheduleForEvent(ctx context.Context, ev model.Event, date model.Date, settings model.NotificationSettings) (string, bool) {
	if !settings.Enabled {
		s.metrics.ReminderSkipped(metrics.SkipDisabled)
		return "", false
	}
	if !s.permitted(ctx) {
		return "", false
	}
	return s.scheduleOne(ctx, ev, date, settings)
}

// ScheduleRecurring registers a reminder for every occurrence of ev within
// the horizon and returns the ids that were registered.
func (s *Scheduler) ScheduleRecurring(ctx context.Context, ev model.Event, settings model.NotificationSettings) []string {
	if !settings.Enabled {
		s.metrics.ReminderSkipped(metrics.SkipDisabled)
		return nil
	}
	if !s.permitted(ctx) {
		return nil
	}
	ids, _ := s.scheduleRecurring(ctx, ev, settings)
	return ids
}

// CancelForEvent cancels every scheduled reminder whose payload references
// eventID and returns how many were cancelled. An event with nothing
// scheduled is a no-op.
func (s *Scheduler) CancelForEvent(ctx context.Context, eventID string) int {
	if !s.permitted(ctx) {
		return 0
	}
	records, err := s.backend.ListAll(ctx)
	if err != nil {
		s.metrics.ReminderFailed(metrics.OpList)
		appLog.Error("reminder: list failed", err, "event_id", eventID)
		return 0
	}
	n := 0
	for _, r := range records {
		if r.Content.Payload.EventID != eventID {
			continue
		}
		if s.cancel(ctx, r) {
			n++
		}
	}
	s.metrics.ReminderCancelled(n)
	return n
}

// RescheduleAll cancels every scheduled reminder, then registers reminders
// for events when settings are enabled. A failure on one reminder is
// logged and the pass continues; a failed listing aborts the pass.
func (s *Scheduler) RescheduleAll(ctx context.Context, events []model.Event, settings model.NotificationSettings) Summary {
	started := s.clock()
	var sum Summary
	defer func() {
		sum.Duration = s.clock().Sub(started)
		s.metrics.ReconcileCompleted(sum.Duration, sum.Registered)
		appLog.Info("reminder: reconciliation done",
			"cancelled", sum.Cancelled,
			"registered", sum.Registered,
			"skipped", sum.Skipped,
			"failed", sum.Failed,
			"duration", sum.Duration,
		)
	}()

	if !s.permitted(ctx) {
		return sum
	}

	records, err := s.backend.ListAll(ctx)
	if err != nil {
		s.metrics.ReminderFailed(metrics.OpList)
		appLog.Error("reminder: list failed, queue left untouched", err)
		sum.Failed++
		// Nothing was cancelled, so rebuilding would duplicate the queue.
		return sum
	}
	for _, r := range records {
		if s.cancel(ctx, r) {
			sum.Cancelled++
		} else {
			sum.Failed++
		}
	}
	s.metrics.ReminderCancelled(sum.Cancelled)

	if !settings.Enabled {
		s.metrics.ReminderSkipped(metrics.SkipDisabled)
		return sum
	}

	for _, ev := range events {
		if err := ev.Validate(); err != nil {
			s.metrics.ReminderSkipped(metrics.SkipInvalid)
			appLog.Warn("reminder: skipping invalid event", "event_id", ev.ID, "err", err)
			sum.Skipped++
			continue
		}
		if ev.IsRecurring {
			ids, skipped := s.scheduleRecurring(ctx, ev, settings)
			sum.Registered += len(ids)
			sum.Skipped += skipped
			continue
		}
		if _, ok := s.scheduleOne(ctx, ev, *ev.Date, settings); ok {
			sum.Registered++
		} else {
			sum.Skipped++
		}
	}
	return sum
}

// RefreshEvent replaces the reminders of one event after its times or
// status changed.
func (s *Scheduler) RefreshEvent(ctx context.Context, ev model.Event, settings model.NotificationSettings) []string {
	s.CancelForEvent(ctx, ev.ID)
	if !settings.Enabled {
		return nil
	}
	if err := ev.Validate(); err != nil {
		s.metrics.ReminderSkipped(metrics.SkipInvalid)
		appLog.Warn("reminder: skipping invalid event", "event_id", ev.ID, "err", err)
		return nil
	}
	if ev.IsRecurring {
		return s.ScheduleRecurring(ctx, ev, settings)
	}
	if id, ok := s.ScheduleForEvent(ctx, ev, *ev.Date, settings); ok {
		return []string{id}
	}
	return nil
}

// HandleAction applies an interactive action from a delivered reminder.
// Complete marks the event completed in the store and leaves the queue
// alone. Snooze registers one more reminder Snooze from now with the same
// payload and touches nothing else.
func (s *Scheduler) HandleAction(ctx context.Context, actionID string, payload model.ReminderPayload) error {
	switch actionID {
	case model.ActionComplete:
		if s.events == nil {
			return errors.New("reminder: no event store configured")
		}
		if err := s.events.MarkCompleted(ctx, payload.EventID); err != nil {
			return fmt.Errorf("reminder: mark %s completed: %w", payload.EventID, err)
		}
		appLog.Info("reminder: event completed", "event_id", payload.EventID, "date", payload.OccurrenceDate)
		return nil

	case model.ActionSnooze:
		if !s.permitted(ctx) {
			return nil
		}
		title := "Reminder"
		if s.events != nil {
			if ev, err := s.events.Get(ctx, payload.EventID); err == nil && ev.Title != "" {
				title = ev.Title
			}
		}
		payload.Kind = model.KindSnooze
		content := model.ReminderContent{
			Title:   title,
			Body:    "Snoozed",
			Payload: payload,
			Actions: []string{model.ActionComplete, model.ActionSnooze},
		}
		trigger := s.clock().Add(s.config.Snooze)
		id, err := s.backend.Register(ctx, content, trigger)
		if err != nil {
			s.metrics.ReminderFailed(metrics.OpRegister)
			appLog.Error("reminder: snooze failed", err, "event_id", payload.EventID)
			return nil
		}
		s.metrics.ReminderRegistered(string(model.KindSnooze))
		appLog.Info("reminder: snoozed", "event_id", payload.EventID, "id", id, "trigger", trigger.Format(time.RFC3339))
		return nil

	default:
		return fmt.Errorf("%w: %q", ErrUnknownAction, actionID)
	}
}

// Listen routes user actions from src to HandleAction. Errors are logged.
func (s *Scheduler) Listen(src ActionSource) {
	src.OnUserAction(func(ctx context.Context, actionID string, payload model.ReminderPayload) {
		if err := s.HandleAction(ctx, actionID, payload); err != nil {
			appLog.Error("reminder: action failed", err, "action", actionID, "event_id", payload.EventID)
		}
	})
}

// Trigger is the instant at which the reminder for ev on date fires.
func (s *Scheduler) Trigger(ev model.Event, date model.Date, settings model.NotificationSettings) time.Time {
	at := timecoord.Instant(date.Year, date.Month, date.Day, ev.Start, s.config.Location)
	return at.Add(-settings.Lead())
}

func (s *Scheduler) permitted(ctx context.Context) bool {
	granted, err := s.backend.RequestPermission(ctx)
	if err != nil {
		appLog.Error("reminder: permission request failed", err)
		granted = false
	}
	if !granted {
		s.metrics.ReminderSkipped(metrics.SkipPermission)
		appLog.Warn("reminder: notification permission denied, scheduling disabled")
	}
	return granted
}

// scheduleRecurring returns the registered ids and how many occurrences
// were skipped.
func (s *Scheduler) scheduleRecurring(ctx context.Context, ev model.Event, settings model.NotificationSettings) ([]string, int) {
	today := model.Today(s.clock().In(s.config.Location))
	dates, err := recurrence.Occurrences(ev, today, s.config.HorizonDays)
	if err != nil {
		s.metrics.ReminderSkipped(metrics.SkipInvalid)
		appLog.Warn("reminder: cannot expand event", "event_id", ev.ID, "err", err)
		return nil, 1
	}
	var ids []string
	skipped := 0
	for _, d := range dates {
		if id, ok := s.scheduleOne(ctx, ev, d, settings); ok {
			ids = append(ids, id)
		} else {
			skipped++
		}
	}
	return ids, skipped
}

func (s *Scheduler) scheduleOne(ctx context.Context, ev model.Event, date model.Date, settings model.NotificationSettings) (string, bool) {
	if !ev.IsRecurring && ev.Status == model.StatusCompleted {
		return "", false
	}
	trigger := s.Trigger(ev, date, settings)
	if !trigger.After(s.clock()) {
		s.metrics.ReminderSkipped(metrics.SkipPast)
		appLog.Debug("reminder: trigger already past", "event_id", ev.ID, "date", date, "trigger", trigger.Format(time.RFC3339))
		return "", false
	}

	content := model.ReminderContent{
		Title: ev.Title,
		Body:  fmt.Sprintf("%02d:%02d %s", ev.Start.Hour, ev.Start.Minute, ev.Title),
		Payload: model.ReminderPayload{
			EventID:        ev.ID,
			OccurrenceDate: date,
			Kind:           model.KindOccurrence,
		},
		Actions: []string{model.ActionComplete, model.ActionSnooze},
	}
	id, err := s.backend.Register(ctx, content, trigger)
	if err != nil {
		s.metrics.ReminderFailed(metrics.OpRegister)
		appLog.Error("reminder: register failed", err, "event_id", ev.ID, "date", date)
		return "", false
	}
	s.metrics.ReminderRegistered(string(model.KindOccurrence))
	return id, true
}

func (s *Scheduler) cancel(ctx context.Context, r model.ReminderRecord) bool {
	if err := s.backend.Cancel(ctx, r.NotificationID); err != nil {
		s.metrics.ReminderFailed(metrics.OpCancel)
		appLog.Error("reminder: cancel failed", err, "id", r.NotificationID, "event_id", r.EventID)
		return false
	}
	return true
}
