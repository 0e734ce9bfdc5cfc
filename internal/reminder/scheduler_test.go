package reminder

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dayplanner/internal/model"
	"dayplanner/internal/notify"
	"dayplanner/internal/timecoord"
)

// Wednesday.
var today = model.Date{Year: 2026, Month: time.October, Day: 14}

func at(hour, minute int) time.Time {
	return time.Date(today.Year, today.Month, today.Day, hour, minute, 0, 0, time.UTC)
}

func oneOff(id, start, end string, d model.Date) model.Event {
	return model.Event{
		ID:    id,
		Title: id,
		Start: timecoord.MustParse(start),
		End:   timecoord.MustParse(end),
		Date:  &d,
	}
}

func weekly(id, start, end string, days ...int) model.Event {
	return model.Event{
		ID:             id,
		Title:          id,
		Start:          timecoord.MustParse(start),
		End:            timecoord.MustParse(end),
		IsRecurring:    true,
		RecurrenceDays: days,
	}
}

var enabled = model.NotificationSettings{Enabled: true, MinutesBefore: 10}

type mockStore struct {
	mu        sync.Mutex
	events    map[string]model.Event
	completed []string
	err       error
}

func (m *mockStore) Get(_ context.Context, id string) (model.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev, ok := m.events[id]
	if !ok {
		return model.Event{}, errors.New("not found")
	}
	return ev, nil
}

func (m *mockStore) MarkCompleted(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.completed = append(m.completed, id)
	return nil
}

// flakyBackend fails Register for one event id, Cancel for one
// reminder id and, when failList is set, every ListAll.
type flakyBackend struct {
	*notify.Memory
	failRegister string
	failCancel   string
	failList     bool
}

func (f *flakyBackend) ListAll(ctx context.Context) ([]model.ReminderRecord, error) {
	if f.failList {
		return nil, errors.New("backend unavailable")
	}
	return f.Memory.ListAll(ctx)
}

func (f *flakyBackend) Register(ctx context.Context, c model.ReminderContent, trigger time.Time) (string, error) {
	if c.Payload.EventID == f.failRegister {
		return "", errors.New("backend unavailable")
	}
	return f.Memory.Register(ctx, c, trigger)
}

func (f *flakyBackend) Cancel(ctx context.Context, id string) error {
	if id == f.failCancel {
		return errors.New("backend unavailable")
	}
	return f.Memory.Cancel(ctx, id)
}

func newScheduler(b Backend, store EventStore, now time.Time) *Scheduler {
	s := New(Config{Location: time.UTC}, b, store, nil)
	s.SetClock(func() time.Time { return now })
	return s
}

type pair struct {
	eventID string
	trigger time.Time
}

func snapshot(t *testing.T, b Backend) []pair {
	t.Helper()
	recs, err := b.ListAll(context.Background())
	require.NoError(t, err)
	out := make([]pair, 0, len(recs))
	for _, r := range recs {
		out = append(out, pair{r.EventID, r.TriggerInstant.UTC()})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].trigger.Equal(out[j].trigger) {
			return out[i].trigger.Before(out[j].trigger)
		}
		return out[i].eventID < out[j].eventID
	})
	return out
}

func TestScheduleForEventSkipsPastTrigger(t *testing.T) {
	ctx := context.Background()
	mem := notify.NewMemory()
	ev := oneOff("standup", "09:00:00", "09:15:00", today)

	s := newScheduler(mem, nil, at(8, 55))
	id, ok := s.ScheduleForEvent(ctx, ev, today, enabled)
	assert.False(t, ok)
	assert.Empty(t, id)
	assert.Empty(t, snapshot(t, mem))

	s = newScheduler(mem, nil, at(8, 40))
	id, ok = s.ScheduleForEvent(ctx, ev, today, enabled)
	require.True(t, ok)
	assert.NotEmpty(t, id)

	recs, _ := mem.ListAll(ctx)
	require.Len(t, recs, 1)
	r := recs[0]
	assert.True(t, r.TriggerInstant.Equal(at(8, 50)))
	assert.Equal(t, "standup", r.Content.Payload.EventID)
	assert.Equal(t, today, r.Content.Payload.OccurrenceDate)
	assert.Equal(t, model.KindOccurrence, r.Content.Payload.Kind)
	assert.Equal(t, "09:00 standup", r.Content.Body)
	assert.Equal(t, []string{model.ActionComplete, model.ActionSnooze}, r.Content.Actions)
}

func TestScheduleForEventTriggerAtNowIsSkipped(t *testing.T) {
	mem := notify.NewMemory()
	s := newScheduler(mem, nil, at(8, 50))
	_, ok := s.ScheduleForEvent(context.Background(), oneOff("a", "09:00", "09:30", today), today, enabled)
	assert.False(t, ok)
}

func TestScheduleForEventDisabled(t *testing.T) {
	mem := notify.NewMemory()
	s := newScheduler(mem, nil, at(6, 0))
	_, ok := s.ScheduleForEvent(context.Background(), oneOff("a", "09:00", "09:30", today), today,
		model.NotificationSettings{Enabled: false, MinutesBefore: 10})
	assert.False(t, ok)
	assert.Empty(t, snapshot(t, mem))
}

func TestScheduleForEventAfterMidnightLandsNextDay(t *testing.T) {
	mem := notify.NewMemory()
	s := newScheduler(mem, nil, at(22, 0))
	_, ok := s.ScheduleForEvent(context.Background(), oneOff("late", "02:15", "03:00", today), today, enabled)
	require.True(t, ok)

	got := snapshot(t, mem)
	require.Len(t, got, 1)
	assert.Equal(t, time.Date(2026, time.October, 15, 2, 5, 0, 0, time.UTC), got[0].trigger)
}

func TestScheduleRecurring(t *testing.T) {
	mem := notify.NewMemory()
	s := newScheduler(mem, nil, at(8, 0))

	ids := s.ScheduleRecurring(context.Background(), weekly("gym", "07:00", "07:30", 1, 3, 5), enabled)

	// 13 occurrences in the 30-day window from Wednesday; this morning's
	// already passed.
	assert.Len(t, ids, 12)
	for _, id := range ids {
		assert.NotEmpty(t, id)
	}

	got := snapshot(t, mem)
	require.Len(t, got, 12)
	assert.Equal(t, time.Date(2026, time.October, 16, 6, 50, 0, 0, time.UTC), got[0].trigger)
	assert.Equal(t, time.Date(2026, time.November, 11, 6, 50, 0, 0, time.UTC), got[len(got)-1].trigger)
}

func TestScheduleRecurringOnOneOffIsEmpty(t *testing.T) {
	mem := notify.NewMemory()
	s := newScheduler(mem, nil, at(8, 0))
	ids := s.ScheduleRecurring(context.Background(), oneOff("a", "09:00", "10:00", today), enabled)
	assert.Empty(t, ids)
}

func TestCancelForEventIsIdempotent(t *testing.T) {
	ctx := context.Background()
	mem := notify.NewMemory()
	s := newScheduler(mem, nil, at(6, 0))

	s.ScheduleForEvent(ctx, oneOff("a", "09:00", "10:00", today), today, enabled)
	s.ScheduleForEvent(ctx, oneOff("a", "09:00", "10:00", today), today.AddDays(1), enabled)
	s.ScheduleForEvent(ctx, oneOff("b", "11:00", "12:00", today), today, enabled)

	assert.Equal(t, 2, s.CancelForEvent(ctx, "a"))
	assert.Equal(t, 0, s.CancelForEvent(ctx, "a"))
	assert.Equal(t, 0, s.CancelForEvent(ctx, "missing"))

	got := snapshot(t, mem)
	require.Len(t, got, 1)
	assert.Equal(t, "b", got[0].eventID)
}

func TestRescheduleAllIsIdempotent(t *testing.T) {
	ctx := context.Background()
	mem := notify.NewMemory()
	s := newScheduler(mem, nil, at(8, 0))

	events := []model.Event{
		oneOff("dentist", "14:00", "15:00", today.AddDays(2)),
		weekly("gym", "07:00", "07:30", 1, 3, 5),
		weekly("walk", "18:00", "18:30"),
	}

	first := s.RescheduleAll(ctx, events, enabled)
	after1 := snapshot(t, mem)

	second := s.RescheduleAll(ctx, events, enabled)
	after2 := snapshot(t, mem)

	assert.Equal(t, after1, after2)
	assert.Equal(t, first.Registered, second.Registered)
	assert.Equal(t, first.Registered, second.Cancelled)
	// dentist + 12 gym + 30 walk
	assert.Equal(t, 43, len(after2))
}

func TestRescheduleAllDisabledClearsQueue(t *testing.T) {
	ctx := context.Background()
	mem := notify.NewMemory()
	s := newScheduler(mem, nil, at(8, 0))
	events := []model.Event{weekly("walk", "18:00", "18:30")}

	s.RescheduleAll(ctx, events, enabled)
	require.NotEmpty(t, snapshot(t, mem))

	sum := s.RescheduleAll(ctx, events, model.NotificationSettings{Enabled: false, MinutesBefore: 10})
	assert.Equal(t, 30, sum.Cancelled)
	assert.Zero(t, sum.Registered)
	assert.Empty(t, snapshot(t, mem))
}

func TestRescheduleAllContinuesPastFailures(t *testing.T) {
	ctx := context.Background()
	b := &flakyBackend{Memory: notify.NewMemory(), failRegister: "broken"}
	s := newScheduler(b, nil, at(8, 0))

	stale, err := b.Memory.Register(ctx, model.ReminderContent{Payload: model.ReminderPayload{EventID: "old"}}, at(20, 0))
	require.NoError(t, err)
	b.failCancel = stale

	events := []model.Event{
		oneOff("before", "10:00", "11:00", today),
		oneOff("broken", "12:00", "13:00", today),
		{ID: "invalid", Start: timecoord.MustParse("12:00"), End: timecoord.MustParse("11:00"), Date: &today},
		oneOff("after", "14:00", "15:00", today),
	}
	sum := s.RescheduleAll(ctx, events, enabled)

	assert.Equal(t, 2, sum.Registered)
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, 2, sum.Skipped)

	var ids []string
	for _, p := range snapshot(t, b) {
		ids = append(ids, p.eventID)
	}
	assert.ElementsMatch(t, []string{"before", "after", "old"}, ids)
}

func TestRescheduleAllListFailureKeepsQueue(t *testing.T) {
	ctx := context.Background()
	b := &flakyBackend{Memory: notify.NewMemory()}
	s := newScheduler(b, nil, at(8, 0))
	events := []model.Event{oneOff("dentist", "10:00", "11:00", today)}

	sum := s.RescheduleAll(ctx, events, enabled)
	require.Equal(t, 1, sum.Registered)

	b.failList = true
	sum = s.RescheduleAll(ctx, events, enabled)
	assert.Equal(t, 1, sum.Failed)
	assert.Zero(t, sum.Cancelled)
	assert.Zero(t, sum.Registered)

	b.failList = false
	assert.Equal(t, []pair{{"dentist", at(9, 50)}}, snapshot(t, b))
}

func TestRescheduleAllSkipsCompletedOneOff(t *testing.T) {
	mem := notify.NewMemory()
	s := newScheduler(mem, nil, at(8, 0))

	done := oneOff("done", "10:00", "11:00", today)
	done.Status = model.StatusCompleted
	routine := weekly("walk", "18:00", "18:30")
	routine.Status = model.StatusCompleted

	s.RescheduleAll(context.Background(), []model.Event{done, routine}, enabled)
	for _, p := range snapshot(t, mem) {
		assert.Equal(t, "walk", p.eventID)
	}
}

func TestPermissionDeniedIsNoop(t *testing.T) {
	ctx := context.Background()
	mem := notify.NewMemory()
	s := newScheduler(mem, nil, at(8, 0))
	mem.SetPermission(false)

	_, ok := s.ScheduleForEvent(ctx, oneOff("a", "10:00", "11:00", today), today, enabled)
	assert.False(t, ok)
	assert.Empty(t, s.ScheduleRecurring(ctx, weekly("walk", "18:00", "18:30"), enabled))

	sum := s.RescheduleAll(ctx, []model.Event{weekly("walk", "18:00", "18:30")}, enabled)
	assert.Zero(t, sum.Registered)
	assert.Empty(t, snapshot(t, mem))
}

func TestRefreshEventReplacesReminders(t *testing.T) {
	ctx := context.Background()
	mem := notify.NewMemory()
	s := newScheduler(mem, nil, at(8, 0))

	ev := oneOff("a", "10:00", "11:00", today)
	s.RefreshEvent(ctx, ev, enabled)
	s.ScheduleForEvent(ctx, oneOff("b", "12:00", "13:00", today), today, enabled)

	moved := ev.WithTimes(timecoord.MustParse("16:00"), timecoord.MustParse("17:00"))
	ids := s.RefreshEvent(ctx, moved, enabled)
	require.Len(t, ids, 1)

	assert.Equal(t, []pair{
		{"b", at(11, 50)},
		{"a", at(15, 50)},
	}, snapshot(t, mem))
}

func TestHandleActionComplete(t *testing.T) {
	ctx := context.Background()
	mem := notify.NewMemory()
	store := &mockStore{}
	s := newScheduler(mem, store, at(8, 0))
	s.ScheduleForEvent(ctx, oneOff("a", "10:00", "11:00", today), today, enabled)

	payload := model.ReminderPayload{EventID: "a", OccurrenceDate: today, Kind: model.KindOccurrence}
	require.NoError(t, s.HandleAction(ctx, model.ActionComplete, payload))
	assert.Equal(t, []string{"a"}, store.completed)
	assert.Len(t, snapshot(t, mem), 1, "queue untouched")

	store.err = errors.New("read-only")
	assert.Error(t, s.HandleAction(ctx, model.ActionComplete, payload))
}

func TestHandleActionSnooze(t *testing.T) {
	ctx := context.Background()
	mem := notify.NewMemory()
	store := &mockStore{events: map[string]model.Event{"a": oneOff("a", "09:00", "10:00", today)}}
	s := newScheduler(mem, store, at(8, 50))

	sibling, ok := s.ScheduleForEvent(ctx, oneOff("a", "09:00", "10:00", today), today.AddDays(1), enabled)
	require.True(t, ok)

	payload := model.ReminderPayload{EventID: "a", OccurrenceDate: today, Kind: model.KindOccurrence}
	require.NoError(t, s.HandleAction(ctx, model.ActionSnooze, payload))

	recs, _ := mem.ListAll(ctx)
	require.Len(t, recs, 2)
	snoozed := recs[0]
	assert.True(t, snoozed.TriggerInstant.Equal(at(8, 55)))
	assert.Equal(t, model.KindSnooze, snoozed.Content.Payload.Kind)
	assert.Equal(t, today, snoozed.Content.Payload.OccurrenceDate)
	assert.Equal(t, "a", snoozed.Content.Title)
	assert.Equal(t, sibling, recs[1].NotificationID)
}

func TestHandleActionUnknown(t *testing.T) {
	s := newScheduler(notify.NewMemory(), &mockStore{}, at(8, 0))
	err := s.HandleAction(context.Background(), "archive", model.ReminderPayload{EventID: "a"})
	assert.ErrorIs(t, err, ErrUnknownAction)
}

func TestListenRoutesBackendActions(t *testing.T) {
	mem := notify.NewMemory()
	store := &mockStore{}
	s := newScheduler(mem, store, at(8, 0))
	s.Listen(mem)

	mem.TriggerAction(context.Background(), model.ActionComplete, model.ReminderPayload{EventID: "gym"})
	assert.Equal(t, []string{"gym"}, store.completed)
}
