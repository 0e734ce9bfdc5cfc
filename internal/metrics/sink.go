package metrics

import "time"

// Sink records planner metrics. Methods are fire-and-forget and must never
// block or fail the caller.
type Sink interface {
	// Reminder scheduling
	ReminderRegistered(kind string)
	ReminderSkipped(reason string)
	ReminderFailed(op string)
	ReminderCancelled(n int)
	ReconcileCompleted(duration time.Duration, registered int)

	// Drag reschedule
	DragOutcome(outcome string)

	// Delivery
	ReminderDelivered()
}

// Skip reasons for ReminderSkipped.
const (
	SkipDisabled   = "disabled"
	SkipPast       = "past"
	SkipInvalid    = "invalid"
	SkipPermission = "permission"
)

// Ops for ReminderFailed.
const (
	OpRegister = "register"
	OpCancel   = "cancel"
	OpList     = "list"
)

// Drag outcomes for DragOutcome.
const (
	DragTap      = "tap"
	DragNoop     = "noop"
	DragCommit   = "commit"
	DragRollback = "rollback"
)
