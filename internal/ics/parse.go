package ics

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/teambition/rrule-go"

	appLog "dayplanner/internal/log"
	"dayplanner/internal/model"
	"dayplanner/internal/recurrence"
	"dayplanner/internal/store"
	"dayplanner/internal/timecoord"
)

// ErrUnsupported marks a VEVENT the planner cannot represent. Such events
// are skipped, not fatal.
var ErrUnsupported = errors.New("ics: unsupported event")

// ParseFeed converts the timed VEVENTs of one feed into events with ids
// "<source>:<uid>". Times are read in loc.
//
// Skipped with a log line: all-day and cancelled events, overrides of a
// single instance (RECURRENCE-ID), and recurrence rules other than plain
// daily or weekly-by-day.
func ParseFeed(src Source, body []byte, loc *time.Location) ([]model.Event, error) {
	if len(body) == 0 {
		return nil, errors.New("empty ICS body")
	}
	if loc == nil {
		loc = time.Local
	}
	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		appLog.Error("ics parse failed", err, "id", src.ID, "url", redactURL(src.URL))
		return nil, err
	}

	// Keep the highest SEQUENCE per UID.
	type versioned struct {
		ev  model.Event
		seq int
	}
	byID := make(map[string]versioned)
	var order []string

	for _, ve := range cal.Events() {
		ev, seq, err := convert(src, ve, loc)
		if err != nil {
			if errors.Is(err, ErrUnsupported) {
				appLog.Debug("ics vevent skipped", "id", src.ID, "reason", err.Error())
			} else {
				appLog.Error("ics vevent parse failed", err, "id", src.ID)
			}
			continue
		}
		prev, seen := byID[ev.ID]
		if !seen {
			order = append(order, ev.ID)
		}
		if !seen || seq >= prev.seq {
			byID[ev.ID] = versioned{ev: ev, seq: seq}
		}
	}

	out := make([]model.Event, 0, len(order))
	for _, id := range order {
		out = append(out, byID[id].ev)
	}
	appLog.Info("ics parse completed", "id", src.ID, "event_count", len(out))
	return out, nil
}

func convert(src Source, ve *ical.VEvent, loc *time.Location) (model.Event, int, error) {
	var ev model.Event

	uidProp := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uidProp == nil || uidProp.Value == "" {
		return ev, 0, errors.New("missing UID")
	}
	uid := uidProp.Value

	seq := 0
	if p := ve.GetProperty(ical.ComponentPropertySequence); p != nil {
		if n, err := strconv.Atoi(strings.TrimSpace(p.Value)); err == nil {
			seq = n
		}
	}
	if p := ve.GetProperty("STATUS"); p != nil && strings.EqualFold(p.Value, "CANCELLED") {
		return ev, seq, fmt.Errorf("%w: %s cancelled", ErrUnsupported, uid)
	}
	if ve.GetProperty("RECURRENCE-ID") != nil {
		return ev, seq, fmt.Errorf("%w: %s overrides a single instance", ErrUnsupported, uid)
	}

	dtStart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStart == nil {
		return ev, seq, fmt.Errorf("%s: missing DTSTART", uid)
	}
	if isDateValue(dtStart) {
		return ev, seq, fmt.Errorf("%w: %s is all-day", ErrUnsupported, uid)
	}
	start, err := ve.GetStartAt()
	if err != nil {
		return ev, seq, fmt.Errorf("%s: DTSTART: %w", uid, err)
	}
	end, err := ve.GetEndAt()
	if err != nil {
		return ev, seq, fmt.Errorf("%w: %s has no DTEND", ErrUnsupported, uid)
	}
	start, end = start.In(loc), end.In(loc)
	if !end.After(start) {
		return ev, seq, fmt.Errorf("%w: %s has no duration", ErrUnsupported, uid)
	}

	ev = model.Event{
		ID:    store.SourceID(src.ID, uid),
		Start: timecoord.Of(start),
		End:   endWithinDay(start, end),
	}
	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		ev.Title = p.Value
	}
	if d, _ := ev.DurationMinutes(); d <= 0 {
		// Starts in the last minute of the logical day.
		return ev, seq, fmt.Errorf("%w: %s starts at the day boundary", ErrUnsupported, uid)
	}

	day := model.Today(start)
	p := ve.GetProperty(ical.ComponentPropertyRrule)
	if p == nil {
		ev.Date = &day
		return ev, seq, nil
	}

	opt, err := rrule.StrToROption(p.Value)
	if err != nil {
		return ev, seq, fmt.Errorf("%s: RRULE: %w", uid, err)
	}
	opt.Dtstart = day.Midnight(loc)
	r, ok := recurrence.FromRRule(*opt)
	if !ok {
		return ev, seq, fmt.Errorf("%w: %s RRULE %q", ErrUnsupported, uid, p.Value)
	}
	ev.IsRecurring = true
	if r.Kind == model.RecurOnDays {
		// BYDAY names calendar days; before DayStartHour an occurrence
		// belongs to the previous logical day.
		shift := 0
		if len(opt.Byweekday) > 0 && start.Hour() < timecoord.DayStartHour {
			shift = 6
		}
		for _, wd := range r.Days {
			ev.RecurrenceDays = append(ev.RecurrenceDays, (int(wd)+shift)%7)
		}
		ev.RecurrenceDays = normalizeDays(ev.RecurrenceDays)
	}
	return ev, seq, nil
}

// endWithinDay clips end to the last minute of start's logical day.
func endWithinDay(start, end time.Time) timecoord.TimeOfDay {
	so, _ := timecoord.ToDayOffset(timecoord.Of(start))
	mins := int(end.Sub(start) / time.Minute)
	if so+mins >= timecoord.MinutesPerDay {
		return timecoord.FromDayOffset(timecoord.MinutesPerDay - 1)
	}
	return timecoord.FromDayOffset(so + mins)
}

func isDateValue(p *ical.IANAProperty) bool {
	if vs, ok := p.ICalParameters["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		return true
	}
	return !strings.Contains(p.Value, "T")
}

func normalizeDays(days []int) []int {
	r := make([]time.Weekday, 0, len(days))
	for _, d := range days {
		r = append(r, time.Weekday(d))
	}
	out := make([]int, 0, len(days))
	for _, d := range model.OnDays(r...).Days {
		out = append(out, int(d))
	}
	return out
}
