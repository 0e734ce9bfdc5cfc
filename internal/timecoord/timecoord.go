// Package timecoord maps wall-clock times of day onto the planner's linear
// day coordinate and between that coordinate and pixels.
//
// The logical day starts at 05:00 and ends at 05:00 on the next calendar
// day, so 04:59 is the last minute of the day rather than an early one.
package timecoord

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

const (
	// DayStartHour is the wall-clock hour at which day offset 0 begins.
	DayStartHour = 5
	// MinutesPerDay is the exclusive upper bound of a day offset.
	MinutesPerDay = 24 * 60
	// DefaultPixelsPerHour is the reference vertical scale of the timeline.
	DefaultPixelsPerHour = 80.0
)

// ErrInvalidTime is returned for times of day outside 00:00:00..23:59:59
// or strings that are not HH:MM[:SS].
var ErrInvalidTime = errors.New("timecoord: invalid time of day")

// TimeOfDay is a 24-hour wall-clock time with no date or zone.
type TimeOfDay struct {
	Hour   int
	Minute int
	Second int
}

// NewTimeOfDay validates hour and minute. Out-of-range values are rejected,
// never clamped.
func NewTimeOfDay(hour, minute int) (TimeOfDay, error) {
	t := TimeOfDay{Hour: hour, Minute: minute}
	if err := t.Validate(); err != nil {
		return TimeOfDay{}, err
	}
	return t, nil
}

// ParseTimeOfDay accepts "HH:MM" or "HH:MM:SS".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 && len(parts) != 3 {
		return TimeOfDay{}, fmt.Errorf("%w: %q", ErrInvalidTime, s)
	}
	fields := make([]int, 3)
	for i, p := range parts {
		if len(p) != 2 {
			return TimeOfDay{}, fmt.Errorf("%w: %q", ErrInvalidTime, s)
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			return TimeOfDay{}, fmt.Errorf("%w: %q", ErrInvalidTime, s)
		}
		fields[i] = n
	}
	t := TimeOfDay{Hour: fields[0], Minute: fields[1], Second: fields[2]}
	if err := t.Validate(); err != nil {
		return TimeOfDay{}, fmt.Errorf("%w: %q", ErrInvalidTime, s)
	}
	return t, nil
}

// MustParse is ParseTimeOfDay for literals known to be valid.
func MustParse(s string) TimeOfDay {
	t, err := ParseTimeOfDay(s)
	if err != nil {
		panic(err)
	}
	return t
}

func (t TimeOfDay) Validate() error {
	if t.Hour < 0 || t.Hour > 23 || t.Minute < 0 || t.Minute > 59 || t.Second < 0 || t.Second > 59 {
		return fmt.Errorf("%w: %02d:%02d:%02d", ErrInvalidTime, t.Hour, t.Minute, t.Second)
	}
	return nil
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", t.Hour, t.Minute, t.Second)
}

func (t TimeOfDay) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *TimeOfDay) UnmarshalText(b []byte) error {
	parsed, err := ParseTimeOfDay(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ToDayOffset returns minutes since 05:00 of the logical day, in [0,1440).
// Seconds do not contribute.
func ToDayOffset(t TimeOfDay) (int, error) {
	if err := t.Validate(); err != nil {
		return 0, err
	}
	return ((t.Hour-DayStartHour+24)%24)*60 + t.Minute, nil
}

// FromDayOffset is the inverse of ToDayOffset. Offsets outside [0,1440)
// wrap around the day first, so 1440 is 05:00 and -15 is 04:45.
func FromDayOffset(offset int) TimeOfDay {
	offset = Wrap(offset)
	return TimeOfDay{
		Hour:   (DayStartHour + offset/60) % 24,
		Minute: offset % 60,
	}
}

// Wrap reduces any minute count into [0,1440).
func Wrap(offset int) int {
	offset %= MinutesPerDay
	if offset < 0 {
		offset += MinutesPerDay
	}
	return offset
}

// Snap rounds minutes to the nearest multiple of grid. Halves round away
// from zero.
func Snap(minutes float64, grid int) int {
	if grid <= 0 {
		return int(math.Round(minutes))
	}
	return int(math.Round(minutes/float64(grid))) * grid
}

// Instant places t on the logical day that begins on date's calendar day.
// Times before DayStartHour belong to the tail of that logical day and so
// fall on the following calendar day.
func Instant(year int, month time.Month, day int, t TimeOfDay, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	if t.Hour < DayStartHour {
		day++
	}
	return time.Date(year, month, day, t.Hour, t.Minute, t.Second, 0, loc)
}

// Of returns the wall-clock time of day of ts in its own location.
func Of(ts time.Time) TimeOfDay {
	return TimeOfDay{Hour: ts.Hour(), Minute: ts.Minute(), Second: ts.Second()}
}
