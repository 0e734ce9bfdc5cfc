// Package layout assigns side-by-side columns to concurrent events of one
// logical day.
//
// Events are half-open intervals [start, end) on the day-offset axis. A
// sweep in start order gives each event the lowest free column; every
// event's TotalColumns is then the column count of its own overlap
// cluster, so an isolated event always spans the full width.
package layout

import (
	"errors"
	"fmt"
	"sort"

	"dayplanner/internal/model"
	"dayplanner/internal/timecoord"
)

// ErrInvalidInterval is returned for an event that ends before it starts.
var ErrInvalidInterval = errors.New("layout: event ends before it starts")

// Position is one event's placement for a single render pass.
type Position struct {
	Event        model.Event `json:"event"`
	Top          float64     `json:"top"`
	Height       float64     `json:"height"`
	Column       int         `json:"column"`
	TotalColumns int         `json:"total_columns"`
}

type interval struct {
	event      model.Event
	start, end int
}

// Arrange computes positions for events. The result is ordered by start,
// then shorter duration, then id, and is stable for identical input.
// Zero-duration events are accepted and overlap nothing.
func Arrange(events []model.Event, scale timecoord.Scale) ([]Position, error) {
	items := make([]interval, 0, len(events))
	for _, ev := range events {
		s, err := ev.StartOffset()
		if err != nil {
			return nil, fmt.Errorf("layout: event %s: %w", ev.ID, err)
		}
		e, err := ev.EndOffset()
		if err != nil {
			return nil, fmt.Errorf("layout: event %s: %w", ev.ID, err)
		}
		if e < s {
			return nil, fmt.Errorf("%w: %s (%s-%s)", ErrInvalidInterval, ev.ID, ev.Start, ev.End)
		}
		items = append(items, interval{event: ev, start: s, end: e})
	}

	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.start != b.start {
			return a.start < b.start
		}
		if da, db := a.end-a.start, b.end-b.start; da != db {
			return da < db
		}
		return a.event.ID < b.event.ID
	})

	out := make([]Position, len(items))

	// freeAt[c] is the offset at which column c becomes free again.
	var freeAt []int

	var members []int
	clusterEnd := -1
	clusterCols := 0
	closeCluster := func() {
		for _, k := range members {
			out[k].TotalColumns = clusterCols
		}
		members = members[:0]
		clusterCols = 0
	}

	for i, it := range items {
		pos := Position{
			Event:  it.event,
			Top:    scale.ToPixels(float64(it.start)),
			Height: scale.ToPixels(float64(it.end - it.start)),
		}

		// An empty interval is its own cluster and never claims a column.
		if it.start == it.end {
			pos.TotalColumns = 1
			out[i] = pos
			continue
		}

		// Every column is free once the sweep passes the cluster's end.
		if it.start >= clusterEnd {
			closeCluster()
			freeAt = freeAt[:0]
		}

		col := -1
		for c, free := range freeAt {
			if free <= it.start {
				col = c
				break
			}
		}
		if col == -1 {
			col = len(freeAt)
			freeAt = append(freeAt, it.end)
		} else {
			freeAt[col] = it.end
		}

		if col+1 > clusterCols {
			clusterCols = col + 1
		}
		if it.end > clusterEnd {
			clusterEnd = it.end
		}

		pos.Column = col
		out[i] = pos
		members = append(members, i)
	}
	closeCluster()

	return out, nil
}

// EventsOn filters events down to those that fall on logical day d.
func EventsOn(events []model.Event, d model.Date) []model.Event {
	out := make([]model.Event, 0, len(events))
	for _, ev := range events {
		if ev.OccursOn(d) {
			out = append(out, ev)
		}
	}
	return out
}

// Overlaps reports whether two positioned events intersect in time. An
// empty interval intersects nothing.
func Overlaps(a, b Position) bool {
	as, _ := a.Event.StartOffset()
	ae, _ := a.Event.EndOffset()
	bs, _ := b.Event.StartOffset()
	be, _ := b.Event.EndOffset()
	if as == ae || bs == be {
		return false
	}
	return as < be && bs < ae
}
