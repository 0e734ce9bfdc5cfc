package ics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dayplanner/internal/model"
	"dayplanner/internal/timecoord"
)

const feed = `BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//test//EN
BEGIN:VEVENT
UID:standup
DTSTAMP:20261001T000000Z
DTSTART:20261014T090000Z
DTEND:20261014T091500Z
SUMMARY:Standup
END:VEVENT
BEGIN:VEVENT
UID:gym
DTSTAMP:20261001T000000Z
DTSTART:20261012T070000Z
DTEND:20261012T073000Z
RRULE:FREQ=WEEKLY;BYDAY=MO,WE,FR
SUMMARY:Gym
END:VEVENT
BEGIN:VEVENT
UID:late
DTSTAMP:20261001T000000Z
DTSTART:20261013T021500Z
DTEND:20261013T030000Z
RRULE:FREQ=WEEKLY;BYDAY=TU
SUMMARY:Night shift
END:VEVENT
BEGIN:VEVENT
UID:walk
DTSTAMP:20261001T000000Z
DTSTART:20261001T180000Z
DTEND:20261001T183000Z
RRULE:FREQ=DAILY
SUMMARY:Walk
END:VEVENT
BEGIN:VEVENT
UID:holiday
DTSTAMP:20261001T000000Z
DTSTART;VALUE=DATE:20261015
DTEND;VALUE=DATE:20261016
SUMMARY:Holiday
END:VEVENT
BEGIN:VEVENT
UID:cancelled
DTSTAMP:20261001T000000Z
DTSTART:20261014T100000Z
DTEND:20261014T110000Z
STATUS:CANCELLED
SUMMARY:Cancelled
END:VEVENT
BEGIN:VEVENT
UID:monthly
DTSTAMP:20261001T000000Z
DTSTART:20261014T120000Z
DTEND:20261014T130000Z
RRULE:FREQ=MONTHLY
SUMMARY:Monthly
END:VEVENT
BEGIN:VEVENT
UID:standup
SEQUENCE:2
DTSTAMP:20261002T000000Z
DTSTART:20261014T093000Z
DTEND:20261014T094500Z
SUMMARY:Standup (moved)
END:VEVENT
END:VCALENDAR
`

func crlf(s string) []byte {
	return []byte(strings.ReplaceAll(s, "\n", "\r\n"))
}

func TestParseFeed(t *testing.T) {
	events, err := ParseFeed(Source{ID: "work"}, crlf(feed), time.UTC)
	require.NoError(t, err)

	byID := make(map[string]model.Event)
	for _, ev := range events {
		byID[ev.ID] = ev
		assert.NoError(t, ev.Validate(), ev.ID)
	}
	assert.Len(t, byID, 4)

	standup := byID["work:standup"]
	assert.Equal(t, "Standup (moved)", standup.Title)
	assert.Equal(t, timecoord.MustParse("09:30"), standup.Start)
	assert.Equal(t, timecoord.MustParse("09:45"), standup.End)
	require.NotNil(t, standup.Date)
	assert.Equal(t, model.Date{Year: 2026, Month: time.October, Day: 14}, *standup.Date)

	gym := byID["work:gym"]
	assert.True(t, gym.IsRecurring)
	assert.Equal(t, []int{1, 3, 5}, gym.RecurrenceDays)
	assert.Nil(t, gym.Date)

	late := byID["work:late"]
	assert.Equal(t, []int{1}, late.RecurrenceDays, "02:15 on Tuesday belongs to Monday's day")

	walk := byID["work:walk"]
	r, ok := walk.Rule()
	require.True(t, ok)
	assert.Equal(t, model.Daily(), r)

	assert.NotContains(t, byID, "work:holiday")
	assert.NotContains(t, byID, "work:cancelled")
	assert.NotContains(t, byID, "work:monthly")
}

func TestParseFeedRejectsGarbage(t *testing.T) {
	_, err := ParseFeed(Source{ID: "x"}, nil, time.UTC)
	assert.Error(t, err)
}

func TestEndWithinDayClips(t *testing.T) {
	start := time.Date(2026, 10, 14, 23, 0, 0, 0, time.UTC)
	end := start.Add(8 * time.Hour)
	assert.Equal(t, timecoord.MustParse("04:59"), endWithinDay(start, end))
	assert.Equal(t, timecoord.MustParse("01:00"), endWithinDay(start, start.Add(2*time.Hour)))
}

func TestFetcherCachesWithETag(t *testing.T) {
	var conditional atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-None-Match") == `"v1"` {
			conditional.Add(1)
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write(crlf(feed))
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir(), srv.Client())
	src := Source{ID: "work", URL: srv.URL + "/private/feed.ics?token=secret"}

	first, err := f.FetchOne(context.Background(), src)
	require.NoError(t, err)
	assert.False(t, first.FromCache)

	second, err := f.FetchOne(context.Background(), src)
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Equal(t, first.Body, second.Body)
	assert.Equal(t, int32(1), conditional.Load())
}

func TestFetcherFallsBackToCache(t *testing.T) {
	var fail atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			http.Error(w, "down", http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte("BEGIN:VCALENDAR\r\nEND:VCALENDAR\r\n"))
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir(), srv.Client())
	src := Source{ID: "work", URL: srv.URL}

	_, err := f.FetchOne(context.Background(), src)
	require.NoError(t, err)

	fail.Store(true)
	res, err := f.FetchOne(context.Background(), src)
	require.NoError(t, err)
	assert.True(t, res.FromCache)

	results, errs := f.FetchAll(context.Background(), []Source{src, {ID: "nourl"}})
	assert.Len(t, results, 1)
	assert.Len(t, errs, 1)
}

func TestFetcherRejectsOversizedFeed(t *testing.T) {
	small := "BEGIN:VCALENDAR\r\nEND:VCALENDAR\r\n"
	limit := maxFeedBytes
	maxFeedBytes = int64(len(small))
	t.Cleanup(func() { maxFeedBytes = limit })

	var big atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if big.Load() {
			_, _ = w.Write([]byte(small + "X"))
			return
		}
		_, _ = w.Write([]byte(small))
	}))
	defer srv.Close()

	src := Source{ID: "work", URL: srv.URL}
	f := NewFetcher(t.TempDir(), srv.Client())
	_, err := f.FetchOne(context.Background(), src)
	require.NoError(t, err)

	// The oversized body is neither returned nor cached.
	big.Store(true)
	res, err := f.FetchOne(context.Background(), src)
	require.NoError(t, err)
	assert.True(t, res.FromCache)
	assert.Equal(t, small, string(res.Body))

	_, err = NewFetcher(t.TempDir(), srv.Client()).FetchOne(context.Background(), src)
	assert.ErrorIs(t, err, ErrFeedTooLarge)
}

func TestRedactURL(t *testing.T) {
	assert.Equal(t, "https://calendar.example.com/...(redacted)",
		redactURL("https://calendar.example.com/private/abc.ics?token=x"))
	assert.Equal(t, "ics://...(redacted)", redactURL("not a url"))
}
