// Package notify provides local notification backends: an in-process
// queue and a file spool that persists the queue as iCalendar.
//
// A backend is the single source of truth for what is scheduled. Callers
// never keep a shadow index; they list, cancel and register.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"dayplanner/internal/model"
)

var (
	ErrPermissionDenied = errors.New("notify: notification permission denied")
	ErrUnknownReminder  = errors.New("notify: unknown reminder id")
)

// Delivery is a reminder whose trigger time has passed.
type Delivery struct {
	Record      model.ReminderRecord
	DeliveredAt time.Time
}

// Memory is an in-process notification queue. It is safe for concurrent
// use, though the scheduler drives it from a single flow.
type Memory struct {
	mu        sync.Mutex
	granted   bool
	records   map[string]model.ReminderRecord
	delivered []func(Delivery)
	actions   []func(ctx context.Context, actionID string, payload model.ReminderPayload)

	// onChange runs after every mutation, with mu held.
	onChange func(records []model.ReminderRecord) error
	newID    func() string
}

// NewMemory returns an empty queue with permission granted.
func NewMemory() *Memory {
	return &Memory{
		granted: true,
		records: make(map[string]model.ReminderRecord),
		newID:   uuid.NewString,
	}
}

// SetPermission simulates the user granting or revoking permission.
func (m *Memory) SetPermission(granted bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.granted = granted
}

func (m *Memory) RequestPermission(_ context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.granted, nil
}

func (m *Memory) Register(_ context.Context, content model.ReminderContent, trigger time.Time) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.granted {
		return "", ErrPermissionDenied
	}
	id := m.newID()
	m.records[id] = model.ReminderRecord{
		NotificationID: id,
		EventID:        content.Payload.EventID,
		TriggerInstant: trigger,
		Content:        content,
	}
	if err := m.changed(); err != nil {
		delete(m.records, id)
		return "", err
	}
	return id, nil
}

func (m *Memory) Cancel(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownReminder, id)
	}
	delete(m.records, id)
	if err := m.changed(); err != nil {
		m.records[id] = rec
		return err
	}
	return nil
}

// ListAll returns every scheduled reminder ordered by trigger time.
func (m *Memory) ListAll(_ context.Context) ([]model.ReminderRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sorted(), nil
}

func (m *Memory) OnDelivered(fn func(Delivery)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delivered = append(m.delivered, fn)
}

func (m *Memory) OnUserAction(fn func(ctx context.Context, actionID string, payload model.ReminderPayload)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.actions = append(m.actions, fn)
}

// TriggerAction dispatches a user action taken on a delivered reminder.
func (m *Memory) TriggerAction(ctx context.Context, actionID string, payload model.ReminderPayload) {
	m.mu.Lock()
	fns := append(m.actions[:0:0], m.actions...)
	m.mu.Unlock()
	for _, fn := range fns {
		fn(ctx, actionID, payload)
	}
}

// DeliverDue removes every reminder triggering at or before now and hands
// it to the OnDelivered callbacks, earliest first.
func (m *Memory) DeliverDue(now time.Time) ([]Delivery, error) {
	m.mu.Lock()
	var due []Delivery
	for _, rec := range m.sorted() {
		if rec.TriggerInstant.After(now) {
			break
		}
		due = append(due, Delivery{Record: rec, DeliveredAt: now})
		delete(m.records, rec.NotificationID)
	}
	var err error
	if len(due) > 0 {
		err = m.changed()
	}
	fns := append(m.delivered[:0:0], m.delivered...)
	m.mu.Unlock()

	if err != nil {
		m.mu.Lock()
		for _, d := range due {
			m.records[d.Record.NotificationID] = d.Record
		}
		m.mu.Unlock()
		return nil, err
	}
	for _, d := range due {
		for _, fn := range fns {
			fn(d)
		}
	}
	return due, nil
}

func (m *Memory) sorted() []model.ReminderRecord {
	out := make([]model.ReminderRecord, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].TriggerInstant.Equal(out[j].TriggerInstant) {
			return out[i].TriggerInstant.Before(out[j].TriggerInstant)
		}
		return out[i].NotificationID < out[j].NotificationID
	})
	return out
}

func (m *Memory) changed() error {
	if m.onChange == nil {
		return nil
	}
	return m.onChange(m.sorted())
}
