package appointment

import (
	"fmt"
	"time"
)

const (
	DefaultDurationMinutes = 30
	MinDurationMinutes     = 15
	MaxDurationMinutes     = 240
)

// Window is the half-open interval [Start, Start+Duration).
type Window struct {
	Start    time.Time
	Duration time.Duration
}

func NewWindow(start time.Time, minutes int) Window {
	return Window{Start: start, Duration: time.Duration(minutes) * time.Minute}
}

func (w Window) End() time.Time {
	return w.Start.Add(w.Duration)
}

// Overlaps reports whether the two half-open windows share any instant.
// Windows that only touch at a boundary do not overlap.
func (w Window) Overlaps(o Window) bool {
	return w.Start.Before(o.End()) && o.Start.Before(w.End())
}

// ValidateDuration checks minutes against the bookable range. Zero is
// accepted by callers that apply DefaultDurationMinutes first.
func ValidateDuration(minutes int) error {
	if minutes < MinDurationMinutes || minutes > MaxDurationMinutes {
		return fmt.Errorf("duration must be between %d and %d minutes: %w",
			MinDurationMinutes, MaxDurationMinutes, ErrInvalidInput)
	}
	return nil
}
