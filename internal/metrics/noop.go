package metrics

import "time"

// NoopSink is used when metrics are disabled to avoid nil checks.
type NoopSink struct{}

func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (n *NoopSink) ReminderRegistered(kind string)                           {}
func (n *NoopSink) ReminderSkipped(reason string)                            {}
func (n *NoopSink) ReminderFailed(op string)                                 {}
func (n *NoopSink) ReminderCancelled(count int)                              {}
func (n *NoopSink) ReconcileCompleted(duration time.Duration, registered int) {}
func (n *NoopSink) DragOutcome(outcome string)                               {}
func (n *NoopSink) ReminderDelivered()                                       {}
