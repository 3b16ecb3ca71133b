package appointment

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	numberPrefix   = "A"
	sequenceDigits = 4
	maxSequence    = 9999
)

// NumberPrefix returns the scope key for appointment numbers minted at now,
// e.g. "A202403" for March 2024 in loc.
func NumberPrefix(now time.Time, loc *time.Location) string {
	if loc != nil {
		now = now.In(loc)
	}
	return fmt.Sprintf("%s%04d%02d", numberPrefix, now.Year(), int(now.Month()))
}

// NextNumber returns the number following last within prefix. last is the
// greatest existing number carrying prefix, or "" when the period is empty.
func NextNumber(prefix, last string) (string, error) {
	seq := 0
	if last != "" {
		if !strings.HasPrefix(last, prefix) {
			return "", fmt.Errorf("appointment number %q outside scope %q", last, prefix)
		}
		n, err := strconv.Atoi(strings.TrimPrefix(last, prefix))
		if err != nil {
			return "", fmt.Errorf("parse appointment number %q: %w", last, err)
		}
		seq = n
	}

	seq++
	if seq > maxSequence {
		return "", ErrCapacityExhausted
	}
	return fmt.Sprintf("%s%0*d", prefix, sequenceDigits, seq), nil
}
