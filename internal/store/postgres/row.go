package postgres

import (
	"fmt"
	"time"

	"dayplanner/internal/model"
	"dayplanner/internal/timecoord"
)

type row struct {
	ID        string
	Title     string
	Start     string
	End       string
	Date      *time.Time
	Recurring bool
	Days      []int32
	Status    string
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(s scanner) (model.Event, error) {
	var r row
	if err := s.Scan(&r.ID, &r.Title, &r.Start, &r.End, &r.Date, &r.Recurring, &r.Days, &r.Status); err != nil {
		return model.Event{}, err
	}
	return r.event()
}

func toRow(ev model.Event) row {
	r := row{
		ID:        ev.ID,
		Title:     ev.Title,
		Start:     ev.Start.String(),
		End:       ev.End.String(),
		Recurring: ev.IsRecurring,
		Days:      make([]int32, 0, len(ev.RecurrenceDays)),
		Status:    string(ev.Status),
	}
	if r.Status == "" {
		r.Status = string(model.StatusScheduled)
	}
	if ev.Date != nil {
		d := ev.Date.Midnight(time.UTC)
		r.Date = &d
	}
	for _, wd := range ev.RecurrenceDays {
		r.Days = append(r.Days, int32(wd))
	}
	return r
}

func (r row) event() (model.Event, error) {
	start, err := timecoord.ParseTimeOfDay(r.Start)
	if err != nil {
		return model.Event{}, fmt.Errorf("event %s start: %w", r.ID, err)
	}
	end, err := timecoord.ParseTimeOfDay(r.End)
	if err != nil {
		return model.Event{}, fmt.Errorf("event %s end: %w", r.ID, err)
	}
	ev := model.Event{
		ID:          r.ID,
		Title:       r.Title,
		Start:       start,
		End:         end,
		IsRecurring: r.Recurring,
		Status:      model.Status(r.Status),
	}
	if r.Date != nil {
		d := model.DateOf(*r.Date)
		ev.Date = &d
	}
	for _, wd := range r.Days {
		ev.RecurrenceDays = append(ev.RecurrenceDays, int(wd))
	}
	return ev, nil
}
