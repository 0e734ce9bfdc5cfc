package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	appLog "dayplanner/internal/log"
)

// PrometheusSink implements Sink with client_golang collectors.
// Registration errors are logged, never propagated.
type PrometheusSink struct {
	remindersRegistered *prometheus.CounterVec
	remindersSkipped    *prometheus.CounterVec
	remindersFailed     *prometheus.CounterVec
	remindersCancelled  prometheus.Counter
	remindersDelivered  prometheus.Counter
	reconcileDuration   prometheus.Histogram
	reconcileRegistered prometheus.Gauge

	dragOutcomes *prometheus.CounterVec
}

func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	s := &PrometheusSink{}
	s.initReminderMetrics(reg)
	s.initDragMetrics(reg)
	return s
}

func (s *PrometheusSink) initReminderMetrics(reg prometheus.Registerer) {
	s.remindersRegistered = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dayplanner_reminders_registered_total",
		Help: "Reminders registered with the notification backend.",
	}, []string{"kind"})
	s.remindersSkipped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dayplanner_reminders_skipped_total",
		Help: "Reminder registrations skipped without error.",
	}, []string{"reason"})
	s.remindersFailed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dayplanner_reminder_backend_failures_total",
		Help: "Notification backend calls that failed.",
	}, []string{"op"})
	s.remindersCancelled = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dayplanner_reminders_cancelled_total",
		Help: "Reminders cancelled in the notification backend.",
	})
	s.remindersDelivered = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dayplanner_reminders_delivered_total",
		Help: "Reminders delivered because their trigger time passed.",
	})
	s.reconcileDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "dayplanner_reconcile_duration_seconds",
		Help:    "Duration of a full cancel-then-recreate reminder pass.",
		Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5},
	})
	s.reconcileRegistered = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "dayplanner_reconcile_registered_reminders",
		Help: "Reminders registered by the most recent reconciliation pass.",
	})

	s.register(reg, s.remindersRegistered, "dayplanner_reminders_registered_total")
	s.register(reg, s.remindersSkipped, "dayplanner_reminders_skipped_total")
	s.register(reg, s.remindersFailed, "dayplanner_reminder_backend_failures_total")
	s.register(reg, s.remindersCancelled, "dayplanner_reminders_cancelled_total")
	s.register(reg, s.remindersDelivered, "dayplanner_reminders_delivered_total")
	s.register(reg, s.reconcileDuration, "dayplanner_reconcile_duration_seconds")
	s.register(reg, s.reconcileRegistered, "dayplanner_reconcile_registered_reminders")
}

func (s *PrometheusSink) initDragMetrics(reg prometheus.Registerer) {
	s.dragOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dayplanner_drag_outcomes_total",
		Help: "Drag gestures by outcome (tap, noop, commit, rollback).",
	}, []string{"outcome"})

	s.register(reg, s.dragOutcomes, "dayplanner_drag_outcomes_total")
}

func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil {
		appLog.Error("metrics: failed to register collector", err, "name", name)
	}
}

func (s *PrometheusSink) ReminderRegistered(kind string) {
	s.remindersRegistered.WithLabelValues(kind).Inc()
}

func (s *PrometheusSink) ReminderSkipped(reason string) {
	s.remindersSkipped.WithLabelValues(reason).Inc()
}

func (s *PrometheusSink) ReminderFailed(op string) {
	s.remindersFailed.WithLabelValues(op).Inc()
}

func (s *PrometheusSink) ReminderCancelled(n int) {
	s.remindersCancelled.Add(float64(n))
}

func (s *PrometheusSink) ReconcileCompleted(duration time.Duration, registered int) {
	s.reconcileDuration.Observe(duration.Seconds())
	s.reconcileRegistered.Set(float64(registered))
}

func (s *PrometheusSink) DragOutcome(outcome string) {
	s.dragOutcomes.WithLabelValues(outcome).Inc()
}

func (s *PrometheusSink) ReminderDelivered() {
	s.remindersDelivered.Inc()
}
