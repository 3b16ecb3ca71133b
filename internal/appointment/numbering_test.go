package appointment

import (
	"errors"
	"testing"
	"time"
)

func TestNumberPrefix(t *testing.T) {
	// 23:30 UTC on Jan 31 is already February in Tokyo.
	now := time.Date(2024, 1, 31, 23, 30, 0, 0, time.UTC)
	tokyo := time.FixedZone("JST", 9*60*60)

	if got := NumberPrefix(now, time.UTC); got != "A202401" {
		t.Errorf("UTC prefix = %q", got)
	}
	if got := NumberPrefix(now, tokyo); got != "A202402" {
		t.Errorf("Tokyo prefix = %q", got)
	}
}

func TestNextNumber(t *testing.T) {
	cases := []struct {
		prefix, last, want string
	}{
		{"A202403", "", "A2024030001"},
		{"A202403", "A2024030001", "A2024030002"},
		{"A202403", "A2024030099", "A2024030100"},
		{"A202403", "A2024039998", "A2024039999"},
	}
	for _, tc := range cases {
		got, err := NextNumber(tc.prefix, tc.last)
		if err != nil {
			t.Fatalf("NextNumber(%q, %q): %v", tc.prefix, tc.last, err)
		}
		if got != tc.want {
			t.Errorf("NextNumber(%q, %q) = %q, want %q", tc.prefix, tc.last, got, tc.want)
		}
	}
}

func TestNextNumber_CapacityExhausted(t *testing.T) {
	_, err := NextNumber("A202403", "A2024039999")
	if !errors.Is(err, ErrCapacityExhausted) || !errors.Is(err, ErrCapacity) {
		t.Fatalf("err = %v, want ErrCapacityExhausted", err)
	}
}

func TestNextNumber_Malformed(t *testing.T) {
	if _, err := NextNumber("A202403", "A202402xxxx"); err == nil {
		t.Fatal("number from another period must be rejected")
	}
	if _, err := NextNumber("A202403", "A202403abcd"); err == nil {
		t.Fatal("non-numeric sequence must be rejected")
	}
}
