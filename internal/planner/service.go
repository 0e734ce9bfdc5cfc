// Package planner wires the engine to its stores: it reconciles reminders,
// builds day views, persists drag drops and imports feeds.
package planner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"dayplanner/internal/drag"
	"dayplanner/internal/ics"
	"dayplanner/internal/layout"
	appLog "dayplanner/internal/log"
	"dayplanner/internal/metrics"
	"dayplanner/internal/model"
	"dayplanner/internal/notify"
	"dayplanner/internal/reminder"
	"dayplanner/internal/store"
)

var ErrNotOnDay = errors.New("planner: event does not occur on that day")

// Deliverer hands due reminders to the user. Every reminder pass calls
// it first, so a reminder that came due since the last delivery tick is
// delivered instead of being cancelled by the rebuild.
type Deliverer interface {
	DeliverDue(now time.Time) ([]notify.Delivery, error)
}

// Options configures a Service. Fetcher and Feeds may be empty when no
// subscription feeds are configured. Deliverer may be nil.
type Options struct {
	Events    store.EventStore
	Settings  store.SettingsStore
	Backend   reminder.Backend
	Reminders *reminder.Scheduler
	Deliverer Deliverer
	Fetcher   *ics.Fetcher
	Feeds     []ics.Source
	Drag      drag.Config
	Metrics   metrics.Sink
	Location  *time.Location
}

// Service is safe for concurrent use. Reminder passes are serialized so a
// cron tick and an HTTP request never interleave cancel and register.
type Service struct {
	mu sync.Mutex

	events    store.EventStore
	settings  store.SettingsStore
	backend   reminder.Backend
	reminders *reminder.Scheduler
	deliverer Deliverer
	fetcher   *ics.Fetcher
	feeds     []ics.Source
	drag      drag.Config
	metrics   metrics.Sink
	loc       *time.Location
	clock     func() time.Time
}

func New(opts Options) *Service {
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewNoopSink()
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	return &Service{
		events:    opts.Events,
		settings:  opts.Settings,
		backend:   opts.Backend,
		reminders: opts.Reminders,
		deliverer: opts.Deliverer,
		fetcher:   opts.Fetcher,
		feeds:     opts.Feeds,
		drag:      opts.Drag,
		metrics:   opts.Metrics,
		loc:       opts.Location,
		clock:     time.Now,
	}
}

// SetClock replaces the time source used for "today".
func (s *Service) SetClock(clock func() time.Time) {
	s.clock = clock
}

// Today is the current logical day.
func (s *Service) Today() model.Date {
	return model.Today(s.clock().In(s.loc))
}

// Reconcile reads events and settings fresh and rebuilds every reminder.
func (s *Service) Reconcile(ctx context.Context) (reminder.Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reconcileLocked(ctx)
}

func (s *Service) reconcileLocked(ctx context.Context) (reminder.Summary, error) {
	s.deliverDueLocked()
	events, err := s.events.List(ctx)
	if err != nil {
		return reminder.Summary{}, fmt.Errorf("planner: list events: %w", err)
	}
	settings, err := s.settings.Get(ctx)
	if err != nil {
		return reminder.Summary{}, fmt.Errorf("planner: read settings: %w", err)
	}
	return s.reminders.RescheduleAll(ctx, events, settings), nil
}

// deliverDueLocked flushes reminders whose trigger has passed. A failure
// is logged; the pass that follows still runs.
func (s *Service) deliverDueLocked() {
	if s.deliverer == nil {
		return
	}
	due, err := s.deliverer.DeliverDue(s.clock())
	if err != nil {
		appLog.Error("deliver due reminders failed", err)
		return
	}
	if len(due) > 0 {
		appLog.Debug("delivered due reminders before reminder pass", "count", len(due))
	}
}

// Refresh imports feeds, then reconciles. Feed failures are reported but
// never block the reconciliation.
func (s *Service) Refresh(ctx context.Context) (reminder.Summary, error) {
	feedErr := s.SyncFeeds(ctx)
	sum, err := s.Reconcile(ctx)
	return sum, errors.Join(feedErr, err)
}

// DayView is the laid-out timeline of one logical day.
type DayView struct {
	Date      model.Date        `json:"date"`
	Height    float64           `json:"height"`
	Positions []layout.Position `json:"positions"`
}

func (s *Service) Day(ctx context.Context, date model.Date) (DayView, error) {
	events, err := s.events.List(ctx)
	if err != nil {
		return DayView{}, fmt.Errorf("planner: list events: %w", err)
	}
	positions, err := layout.Arrange(layout.EventsOn(events, date), s.drag.Scale)
	if err != nil {
		return DayView{}, err
	}
	return DayView{Date: date, Height: s.drag.Scale.DayHeight(), Positions: positions}, nil
}

// DropResult reports where a dropped card ended up.
type DropResult struct {
	Outcome drag.Outcome `json:"-"`
	Kind    string       `json:"outcome"`
	Event   model.Event  `json:"event"`
	Top     float64      `json:"top"`
}

// Drop replays a vertical drag of deltaY pixels on the card of eventID in
// date's timeline. A commit is persisted; if the store rejects it the card
// rolls back to its original position and the store error is returned.
// On success the event's reminders are replaced.
func (s *Service) Drop(ctx context.Context, eventID string, date model.Date, deltaY float64) (DropResult, error) {
	ev, err := s.events.Get(ctx, eventID)
	if err != nil {
		return DropResult{}, err
	}
	if !ev.OccursOn(date) {
		return DropResult{}, fmt.Errorf("%w: %s on %s", ErrNotOnDay, eventID, date)
	}

	ctrl, err := drag.New(ev, s.drag, drag.Hooks{})
	if err != nil {
		return DropResult{}, err
	}
	if err := ctrl.Press(); err != nil {
		return DropResult{}, err
	}
	ctrl.Move(0, deltaY)
	outcome, commit, err := ctrl.Release(0, deltaY)
	if err != nil {
		return DropResult{}, err
	}
	res := DropResult{Outcome: outcome, Kind: outcome.String(), Event: ev}

	if outcome != drag.OutcomeCommit {
		s.metrics.DragOutcome(outcome.String())
		res.Top = ctrl.Top()
		return res, nil
	}

	updated, err := s.events.UpdateTimes(ctx, eventID, commit.NewStart, commit.NewEnd)
	if err != nil {
		if rbErr := ctrl.Rollback(); rbErr != nil {
			appLog.Error("drag rollback failed", rbErr, "event_id", eventID)
		}
		s.metrics.DragOutcome(metrics.DragRollback)
		res.Top = ctrl.Top()
		return res, fmt.Errorf("planner: save %s: %w", eventID, err)
	}
	if err := ctrl.Confirm(); err != nil {
		return res, err
	}
	s.metrics.DragOutcome(metrics.DragCommit)
	res.Event = updated
	res.Top = ctrl.Top()
	appLog.Info("event rescheduled", "event_id", eventID, "start", updated.Start, "end", updated.End)

	s.refreshEvent(ctx, updated)
	return res, nil
}

func (s *Service) refreshEvent(ctx context.Context, ev model.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deliverDueLocked()
	settings, err := s.settings.Get(ctx)
	if err != nil {
		appLog.Error("read settings failed, reminders not refreshed", err, "event_id", ev.ID)
		return
	}
	s.reminders.RefreshEvent(ctx, ev, settings)
}

// HandleAction applies an action taken on a delivered reminder.
func (s *Service) HandleAction(ctx context.Context, actionID string, payload model.ReminderPayload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reminders.HandleAction(ctx, actionID, payload)
}

// Reminders lists what the notification backend has scheduled.
func (s *Service) Reminders(ctx context.Context) ([]model.ReminderRecord, error) {
	return s.backend.ListAll(ctx)
}

func (s *Service) Settings(ctx context.Context) (model.NotificationSettings, error) {
	return s.settings.Get(ctx)
}

// SetSettings stores new settings and reconciles against them.
func (s *Service) SetSettings(ctx context.Context, settings model.NotificationSettings) (reminder.Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.settings.Set(ctx, settings); err != nil {
		return reminder.Summary{}, err
	}
	return s.reconcileLocked(ctx)
}

// SyncFeeds imports every configured feed into the event store. Each feed
// replaces only its own events; a failing feed leaves its previous import
// in place.
func (s *Service) SyncFeeds(ctx context.Context) error {
	if s.fetcher == nil || len(s.feeds) == 0 {
		return nil
	}
	results, errs := s.fetcher.FetchAll(ctx, s.feeds)
	for _, res := range results {
		events, err := ics.ParseFeed(res.Source, res.Body, s.loc)
		if err != nil {
			errs = append(errs, fmt.Errorf("feed %s: %w", res.Source.ID, err))
			continue
		}
		if err := s.events.ReplaceSource(ctx, res.Source.ID, events); err != nil {
			errs = append(errs, fmt.Errorf("feed %s: %w", res.Source.ID, err))
			continue
		}
		appLog.Info("feed imported", "id", res.Source.ID, "events", len(events), "from_cache", res.FromCache)
	}
	return errors.Join(errs...)
}
