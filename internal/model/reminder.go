package model

import "time"

// NotificationSettings is the user's reminder preference, read fresh on
// every scheduling pass.
type NotificationSettings struct {
	Enabled       bool `yaml:"enabled" json:"enabled"`
	MinutesBefore int  `yaml:"minutes_before" json:"minutes_before"`
}

// DefaultNotificationSettings is used when nothing has been stored yet.
func DefaultNotificationSettings() NotificationSettings {
	return NotificationSettings{Enabled: true, MinutesBefore: 10}
}

// Lead is MinutesBefore as a duration; negative values count as zero.
func (s NotificationSettings) Lead() time.Duration {
	if s.MinutesBefore < 0 {
		return 0
	}
	return time.Duration(s.MinutesBefore) * time.Minute
}

// ReminderKind distinguishes regular occurrence reminders from snoozes.
type ReminderKind string

const (
	KindOccurrence ReminderKind = "occurrence"
	KindSnooze     ReminderKind = "snooze"
)

// Interactive actions offered on a delivered reminder.
const (
	ActionComplete = "complete"
	ActionSnooze   = "snooze"
)

// ReminderPayload travels with a reminder through the notification backend.
type ReminderPayload struct {
	EventID        string       `json:"event_id"`
	OccurrenceDate Date         `json:"occurrence_date"`
	Kind           ReminderKind `json:"kind"`
}

// ReminderContent is what gets registered with the backend.
type ReminderContent struct {
	Title   string          `json:"title"`
	Body    string          `json:"body"`
	Payload ReminderPayload `json:"payload"`
	Actions []string        `json:"actions,omitempty"`
}

// ReminderRecord is the backend's view of one scheduled reminder.
type ReminderRecord struct {
	NotificationID string          `json:"notification_id"`
	EventID        string          `json:"event_id"`
	TriggerInstant time.Time       `json:"trigger_instant"`
	Content        ReminderContent `json:"content"`
}
