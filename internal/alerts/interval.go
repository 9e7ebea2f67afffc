package alerts

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Interval bounds.
const (
	MinHours   = 1
	MaxHours   = 24
	MinMinutes = 5
	MaxMinutes = 60
)

// IntervalUnit names the unit an Interval was configured in.
type IntervalUnit string

const (
	UnitHours   IntervalUnit = "hours"
	UnitMinutes IntervalUnit = "minutes"
)

// Interval is the notification cadence of a setting: either a number of hours or a number
// of minutes, never both. The zero value is not a valid interval.
type Interval struct {
	unit  IntervalUnit
	value int
}

// Hours builds an hourly interval.
func Hours(n int) (Interval, error) {
	if n < MinHours || n > MaxHours {
		return Interval{}, fmt.Errorf("hours must be between %d and %d, got %d", MinHours, MaxHours, n)
	}
	return Interval{unit: UnitHours, value: n}, nil
}

// Minutes builds a minute interval.
func Minutes(n int) (Interval, error) {
	if n < MinMinutes || n > MaxMinutes {
		return Interval{}, fmt.Errorf("minutes must be between %d and %d, got %d", MinMinutes, MaxMinutes, n)
	}
	return Interval{unit: UnitMinutes, value: n}, nil
}

// MustHours is Hours for constants known to be valid.
func MustHours(n int) Interval {
	iv, err := Hours(n)
	if err != nil {
		panic(err)
	}
	return iv
}

// MustMinutes is Minutes for constants known to be valid.
func MustMinutes(n int) Interval {
	iv, err := Minutes(n)
	if err != nil {
		panic(err)
	}
	return iv
}

// ParseInterval accepts "2h" or "15m".
func ParseInterval(raw string) (Interval, error) {
	raw = strings.TrimSpace(strings.ToLower(raw))
	if len(raw) < 2 {
		return Interval{}, fmt.Errorf("invalid interval %q: expected e.g. 2h or 15m", raw)
	}
	n, err := strconv.Atoi(raw[:len(raw)-1])
	if err != nil {
		return Interval{}, fmt.Errorf("invalid interval %q: %w", raw, err)
	}
	switch raw[len(raw)-1] {
	case 'h':
		return Hours(n)
	case 'm':
		return Minutes(n)
	default:
		return Interval{}, fmt.Errorf("invalid interval %q: unit must be h or m", raw)
	}
}

// IntervalFromColumns rebuilds an Interval from the nullable store columns.
func IntervalFromColumns(hours, minutes *int) (Interval, error) {
	switch {
	case hours != nil && minutes != nil:
		return Interval{}, fmt.Errorf("interval has both hours and minutes set")
	case hours != nil:
		return Hours(*hours)
	case minutes != nil:
		return Minutes(*minutes)
	default:
		return Interval{}, fmt.Errorf("interval has neither hours nor minutes set")
	}
}

// Columns splits the interval into the nullable store columns.
func (i Interval) Columns() (hours, minutes *int) {
	v := i.value
	switch i.unit {
	case UnitHours:
		return &v, nil
	case UnitMinutes:
		return nil, &v
	}
	return nil, nil
}

func (i Interval) IsZero() bool { return i.unit == "" }

func (i Interval) Unit() IntervalUnit { return i.unit }

func (i Interval) Value() int { return i.value }

// Duration converts the interval to a time.Duration.
func (i Interval) Duration() time.Duration {
	switch i.unit {
	case UnitHours:
		return time.Duration(i.value) * time.Hour
	case UnitMinutes:
		return time.Duration(i.value) * time.Minute
	}
	return 0
}

// String renders the short form accepted by ParseInterval.
func (i Interval) String() string {
	switch i.unit {
	case UnitHours:
		return strconv.Itoa(i.value) + "h"
	case UnitMinutes:
		return strconv.Itoa(i.value) + "m"
	}
	return ""
}

// Humanize renders the interval for messages, e.g. "1 hour" or "15 minutes".
func (i Interval) Humanize() string {
	var unit string
	switch i.unit {
	case UnitHours:
		unit = "hour"
	case UnitMinutes:
		unit = "minute"
	default:
		return ""
	}
	if i.value != 1 {
		unit += "s"
	}
	return fmt.Sprintf("%d %s", i.value, unit)
}
