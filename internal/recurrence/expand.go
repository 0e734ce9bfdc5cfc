// Package recurrence expands recurring events into the logical-day dates
// they occur on within a lookahead horizon.
package recurrence

import (
	"errors"
	"iter"
	"time"

	"github.com/teambition/rrule-go"

	appLog "dayplanner/internal/log"
	"dayplanner/internal/model"
)

const (
	// DefaultHorizonDays is the lookahead window, today inclusive.
	DefaultHorizonDays = 30
)

var ErrNotRecurring = errors.New("recurrence: event is not recurring")

// weekdays maps time.Weekday (Sunday=0) to rrule's Monday-first weekdays.
var weekdays = [7]rrule.Weekday{rrule.SU, rrule.MO, rrule.TU, rrule.WE, rrule.TH, rrule.FR, rrule.SA}

// ToRRule returns the rrule option set for r starting at start.
func ToRRule(r model.Recurrence, start time.Time) rrule.ROption {
	opt := rrule.ROption{
		Freq:    rrule.DAILY,
		Dtstart: start,
	}
	if r.Kind == model.RecurOnDays {
		opt.Freq = rrule.WEEKLY
		opt.Byweekday = make([]rrule.Weekday, 0, len(r.Days))
		for _, d := range r.Days {
			opt.Byweekday = append(opt.Byweekday, weekdays[d])
		}
	}
	return opt
}

// FromRRule maps a parsed RRULE onto the recurrence variant. Only
// FREQ=DAILY and FREQ=WEEKLY with plain BYDAY entries (interval 1) are
// representable; anything else reports ok=false.
func FromRRule(opt rrule.ROption) (model.Recurrence, bool) {
	if opt.Interval > 1 || opt.Count > 0 || !opt.Until.IsZero() {
		return model.Recurrence{}, false
	}
	switch opt.Freq {
	case rrule.DAILY:
		if len(opt.Byweekday) == 0 {
			return model.Daily(), true
		}
	case rrule.WEEKLY:
	default:
		return model.Recurrence{}, false
	}

	if len(opt.Byweekday) == 0 {
		if opt.Dtstart.IsZero() {
			return model.Recurrence{}, false
		}
		return model.OnDays(opt.Dtstart.Weekday()), true
	}
	days := make([]time.Weekday, 0, len(opt.Byweekday))
	for _, wd := range opt.Byweekday {
		found := false
		for i, cand := range weekdays {
			if cand == wd {
				days = append(days, time.Weekday(i))
				found = true
				break
			}
		}
		if !found {
			// Ordinal weekdays such as 2MO do not fit a weekday set.
			return model.Recurrence{}, false
		}
	}
	return model.OnDays(days...), true
}

// Expand yields every date in [today, today+horizonDays) on which r fires.
// The sequence is lazy, finite and restartable: each range over it walks
// the rule again from today.
func Expand(r model.Recurrence, today model.Date, horizonDays int) iter.Seq[model.Date] {
	return func(yield func(model.Date) bool) {
		if horizonDays <= 0 {
			return
		}
		start := today.Midnight(time.UTC)
		opt := ToRRule(r, start)
		// Until is inclusive; stop one second before the day after the horizon.
		opt.Until = today.AddDays(horizonDays).Midnight(time.UTC).Add(-time.Second)

		rule, err := rrule.NewRRule(opt)
		if err != nil {
			appLog.Error("recurrence: failed to build rule", err, "rule", r.String())
			return
		}
		next := rule.Iterator()
		for {
			t, ok := next()
			if !ok {
				return
			}
			if !yield(model.DateOf(t)) {
				return
			}
		}
	}
}

// Occurrences materializes the occurrence dates of a recurring event.
func Occurrences(ev model.Event, today model.Date, horizonDays int) ([]model.Date, error) {
	r, ok := ev.Rule()
	if !ok {
		return nil, ErrNotRecurring
	}
	out := make([]model.Date, 0, horizonDays)
	for d := range Expand(r, today, horizonDays) {
		out = append(out, d)
	}
	return out, nil
}
