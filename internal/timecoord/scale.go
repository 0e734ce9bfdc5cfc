package timecoord

// Scale converts between day offsets (minutes) and vertical pixels.
type Scale struct {
	PixelsPerHour float64
}

// DefaultScale uses DefaultPixelsPerHour.
func DefaultScale() Scale {
	return Scale{PixelsPerHour: DefaultPixelsPerHour}
}

func (s Scale) pph() float64 {
	if s.PixelsPerHour <= 0 {
		return DefaultPixelsPerHour
	}
	return s.PixelsPerHour
}

// ToPixels converts a day offset in minutes to a vertical position.
func (s Scale) ToPixels(offsetMinutes float64) float64 {
	return offsetMinutes / 60 * s.pph()
}

// ToOffset converts a vertical position or delta to minutes.
func (s Scale) ToOffset(pixels float64) float64 {
	return pixels / s.pph() * 60
}

// Top is the pixel position of a time of day on the timeline.
func (s Scale) Top(t TimeOfDay) (float64, error) {
	off, err := ToDayOffset(t)
	if err != nil {
		return 0, err
	}
	return s.ToPixels(float64(off)), nil
}

// DayHeight is the pixel height of the whole logical day.
func (s Scale) DayHeight() float64 {
	return s.ToPixels(MinutesPerDay)
}

// Height is the pixel height of [start, end) on the timeline.
func (s Scale) Height(start, end TimeOfDay) (float64, error) {
	a, err := ToDayOffset(start)
	if err != nil {
		return 0, err
	}
	b, err := ToDayOffset(end)
	if err != nil {
		return 0, err
	}
	return s.ToPixels(float64(b - a)), nil
}
