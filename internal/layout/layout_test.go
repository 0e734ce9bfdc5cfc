package layout

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dayplanner/internal/model"
	"dayplanner/internal/timecoord"
)

var day = model.Date{Year: 2026, Month: time.October, Day: 14}

func ev(id, start, end string) model.Event {
	d := day
	return model.Event{
		ID:    id,
		Start: timecoord.MustParse(start),
		End:   timecoord.MustParse(end),
		Date:  &d,
	}
}

func byID(ps []Position) map[string]Position {
	m := make(map[string]Position, len(ps))
	for _, p := range ps {
		m[p.Event.ID] = p
	}
	return m
}

func TestArrangeConcreteScenario(t *testing.T) {
	ps, err := Arrange([]model.Event{ev("a", "07:00:00", "07:30:00")}, timecoord.DefaultScale())
	require.NoError(t, err)
	require.Len(t, ps, 1)
	assert.InDelta(t, 160.0, ps[0].Top, 1e-9)
	assert.InDelta(t, 40.0, ps[0].Height, 1e-9)
	assert.Equal(t, 0, ps[0].Column)
	assert.Equal(t, 1, ps[0].TotalColumns)
}

func TestArrangeBackToBackShareColumn(t *testing.T) {
	ps, err := Arrange([]model.Event{
		ev("b", "10:00", "11:00"),
		ev("a", "09:00", "10:00"),
	}, timecoord.DefaultScale())
	require.NoError(t, err)

	m := byID(ps)
	assert.Equal(t, 0, m["a"].Column)
	assert.Equal(t, 0, m["b"].Column)
	assert.Equal(t, 1, m["a"].TotalColumns)
	assert.Equal(t, 1, m["b"].TotalColumns)
}

func TestArrangeTotalColumnsIsPerCluster(t *testing.T) {
	ps, err := Arrange([]model.Event{
		ev("a", "09:00", "11:00"),
		ev("b", "09:30", "10:30"),
		ev("c", "10:00", "12:00"),
		ev("lunch", "13:00", "14:00"),
		ev("late", "23:00", "01:00"),
	}, timecoord.DefaultScale())
	require.NoError(t, err)

	m := byID(ps)
	assert.Equal(t, 3, m["a"].TotalColumns)
	assert.Equal(t, 3, m["b"].TotalColumns)
	assert.Equal(t, 3, m["c"].TotalColumns)
	assert.Equal(t, 1, m["lunch"].TotalColumns)
	assert.Equal(t, 0, m["lunch"].Column)
	assert.Equal(t, 1, m["late"].TotalColumns)
}

func TestArrangeReusesFreedColumn(t *testing.T) {
	ps, err := Arrange([]model.Event{
		ev("a", "09:00", "10:00"),
		ev("b", "09:00", "12:00"),
		ev("c", "10:00", "11:00"),
	}, timecoord.DefaultScale())
	require.NoError(t, err)

	m := byID(ps)
	assert.Equal(t, 0, m["a"].Column, "shorter event takes the lower column")
	assert.Equal(t, 1, m["b"].Column)
	assert.Equal(t, 0, m["c"].Column)
	assert.Equal(t, 2, m["c"].TotalColumns)
}

func TestArrangeIdenticalTimesOrderedByID(t *testing.T) {
	events := []model.Event{
		ev("zeta", "09:00", "10:00"),
		ev("alpha", "09:00", "10:00"),
		ev("mid", "09:00", "10:00"),
	}
	for i := 0; i < 5; i++ {
		rand.Shuffle(len(events), func(a, b int) { events[a], events[b] = events[b], events[a] })
		ps, err := Arrange(events, timecoord.DefaultScale())
		require.NoError(t, err)
		assert.Equal(t, "alpha", ps[0].Event.ID)
		assert.Equal(t, "mid", ps[1].Event.ID)
		assert.Equal(t, "zeta", ps[2].Event.ID)
		assert.Equal(t, []int{0, 1, 2}, []int{ps[0].Column, ps[1].Column, ps[2].Column})
	}
}

func TestArrangeZeroDuration(t *testing.T) {
	ps, err := Arrange([]model.Event{
		ev("point", "12:00", "12:00"),
		ev("other", "15:00", "16:00"),
	}, timecoord.DefaultScale())
	require.NoError(t, err)
	m := byID(ps)
	assert.Equal(t, 1, m["point"].TotalColumns)
	assert.InDelta(t, 0.0, m["point"].Height, 1e-9)
}

func TestArrangeRejectsInvertedInterval(t *testing.T) {
	_, err := Arrange([]model.Event{ev("bad", "04:00", "06:00")}, timecoord.DefaultScale())
	assert.ErrorIs(t, err, ErrInvalidInterval)

	_, err = Arrange([]model.Event{{ID: "broken", Start: timecoord.TimeOfDay{Hour: 30}}}, timecoord.DefaultScale())
	assert.ErrorIs(t, err, timecoord.ErrInvalidTime)
}

func TestArrangeRandomizedInvariants(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for round := 0; round < 200; round++ {
		n := 1 + rng.Intn(12)
		events := make([]model.Event, 0, n)
		for i := 0; i < n; i++ {
			start := rng.Intn(timecoord.MinutesPerDay - 1)
			dur := 1 + rng.Intn(min(240, timecoord.MinutesPerDay-start))
			d := day
			events = append(events, model.Event{
				ID:    fmt.Sprintf("e%02d", i),
				Start: timecoord.FromDayOffset(start),
				End:   timecoord.FromDayOffset(start + dur - 1),
				Date:  &d,
			})
		}
		ps, err := Arrange(events, timecoord.DefaultScale())
		require.NoError(t, err)
		require.Len(t, ps, n)

		for i := range ps {
			require.Less(t, ps[i].Column, ps[i].TotalColumns)
			overlapsAny := false
			for j := range ps {
				if i == j {
					continue
				}
				if Overlaps(ps[i], ps[j]) {
					overlapsAny = true
					require.NotEqual(t, ps[i].Column, ps[j].Column,
						"%s and %s overlap in column %d", ps[i].Event.ID, ps[j].Event.ID, ps[i].Column)
					require.Equal(t, ps[i].TotalColumns, ps[j].TotalColumns)
				}
			}
			if !overlapsAny {
				require.Equal(t, 1, ps[i].TotalColumns, "isolated %s", ps[i].Event.ID)
			}
		}
	}
}

func TestEventsOn(t *testing.T) {
	gym := model.Event{ID: "gym", Start: timecoord.MustParse("07:00"), End: timecoord.MustParse("08:00"), IsRecurring: true, RecurrenceDays: []int{1, 3, 5}}
	daily := model.Event{ID: "standup", Start: timecoord.MustParse("09:00"), End: timecoord.MustParse("09:15"), IsRecurring: true}
	other := ev("other", "10:00", "11:00")
	tomorrow := day.AddDays(1)
	other.Date = &tomorrow

	got := EventsOn([]model.Event{gym, daily, other, ev("today", "12:00", "13:00")}, day)
	ids := make([]string, 0, len(got))
	for _, e := range got {
		ids = append(ids, e.ID)
	}
	assert.Equal(t, []string{"gym", "standup", "today"}, ids)
}
