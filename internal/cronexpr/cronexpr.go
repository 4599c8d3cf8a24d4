// Package cronexpr parses 5-field cron expressions
// (minute hour day-of-month month day-of-week) and computes fire times.
package cronexpr

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Schedule is a parsed cron expression. The zero value matches nothing;
// obtain one through Parse.
type Schedule struct {
	minute uint64
	hour   uint64
	dom    uint64
	month  uint64
	dow    uint64

	// a "*" in dom/dow changes the match rule (standard cron OR semantics)
	domStar bool
	dowStar bool
}

type fieldSpec struct {
	name     string
	min, max int
}

var fields = [5]fieldSpec{
	{"minute", 0, 59},
	{"hour", 0, 23},
	{"day-of-month", 1, 31},
	{"month", 1, 12},
	{"day-of-week", 0, 6},
}

// Parse parses a 5-field cron expression such as "0 8 * * *".
// Supported syntax per field: "*", numbers, ranges (a-b), lists (a,b,c)
// and steps (*/n, a-b/n). Day-of-week 7 is accepted as Sunday.
func Parse(expr string) (Schedule, error) {
	parts := strings.Fields(strings.TrimSpace(expr))
	if len(parts) != 5 {
		return Schedule{}, fmt.Errorf("cronexpr: want 5 fields, got %d", len(parts))
	}

	var bits [5]uint64
	for i, p := range parts {
		b, err := parseField(p, fields[i])
		if err != nil {
			return Schedule{}, err
		}
		bits[i] = b
	}

	s := Schedule{
		minute:  bits[0],
		hour:    bits[1],
		dom:     bits[2],
		month:   bits[3],
		dow:     bits[4],
		domStar: parts[2] == "*",
		dowStar: parts[4] == "*",
	}
	return s, nil
}

func parseField(expr string, spec fieldSpec) (uint64, error) {
	var bits uint64
	for _, part := range strings.Split(expr, ",") {
		step := 1
		if i := strings.IndexByte(part, '/'); i >= 0 {
			n, err := strconv.Atoi(part[i+1:])
			if err != nil || n < 1 {
				return 0, fmt.Errorf("cronexpr: bad step in %s field %q", spec.name, expr)
			}
			step = n
			part = part[:i]
		}

		lo, hi := spec.min, spec.max
		switch {
		case part == "*":
			// full range
		case strings.Contains(part, "-"):
			seg := strings.SplitN(part, "-", 2)
			a, err1 := strconv.Atoi(seg[0])
			b, err2 := strconv.Atoi(seg[1])
			if err1 != nil || err2 != nil {
				return 0, fmt.Errorf("cronexpr: bad range in %s field %q", spec.name, expr)
			}
			lo, hi = a, b
		default:
			n, err := strconv.Atoi(part)
			if err != nil {
				return 0, fmt.Errorf("cronexpr: bad value in %s field %q", spec.name, expr)
			}
			lo, hi = n, n
		}

		// cron convention: both 0 and 7 are Sunday
		if spec.name == "day-of-week" && hi == 7 {
			if lo == 7 {
				lo, hi = 0, 0
			} else {
				// a range ending at 7 wraps onto Sunday
				bits |= 1 << 0
				hi = spec.max
			}
		}
		if lo < spec.min || hi > spec.max || lo > hi {
			return 0, fmt.Errorf("cronexpr: %s value out of range in %q", spec.name, expr)
		}
		for v := lo; v <= hi; v += step {
			bits |= 1 << uint(v)
		}
	}
	if bits == 0 {
		return 0, fmt.Errorf("cronexpr: empty %s field", spec.name)
	}
	return bits, nil
}

func (s Schedule) matchMinute(t time.Time) bool { return s.minute&(1<<uint(t.Minute())) != 0 }
func (s Schedule) matchHour(t time.Time) bool   { return s.hour&(1<<uint(t.Hour())) != 0 }
func (s Schedule) matchMonth(t time.Time) bool  { return s.month&(1<<uint(t.Month())) != 0 }

// matchDay applies the standard cron rule: if both day fields are
// restricted the day matches when either one does.
func (s Schedule) matchDay(t time.Time) bool {
	domOK := s.dom&(1<<uint(t.Day())) != 0
	dowOK := s.dow&(1<<uint(t.Weekday())) != 0
	switch {
	case s.domStar:
		return dowOK
	case s.dowStar:
		return domOK
	default:
		return domOK || dowOK
	}
}

// Matches reports whether t (truncated to the minute) is a fire time.
func (s Schedule) Matches(t time.Time) bool {
	return s.matchMinute(t) && s.matchHour(t) && s.matchDay(t) && s.matchMonth(t)
}

// Next returns the first fire time strictly after t, in t's location.
// The zero time is returned if no fire time exists within four years
// (an impossible date such as "0 0 31 2 *").
func (s Schedule) Next(t time.Time) time.Time {
	t = t.Truncate(time.Minute).Add(time.Minute)
	limit := t.AddDate(4, 0, 1)
	for t.Before(limit) {
		if !s.matchMonth(t) {
			t = time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location()).AddDate(0, 1, 0)
			continue
		}
		if !s.matchDay(t) {
			t = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location()).AddDate(0, 0, 1)
			continue
		}
		if !s.matchHour(t) {
			t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, t.Location()).Add(time.Hour)
			continue
		}
		if !s.matchMinute(t) {
			t = t.Add(time.Minute)
			continue
		}
		return t
	}
	return time.Time{}
}

// Prev returns the last fire time at or before t, in t's location.
// The zero time is returned if none exists within four years.
func (s Schedule) Prev(t time.Time) time.Time {
	t = t.Truncate(time.Minute)
	limit := t.AddDate(-4, 0, -1)
	for t.After(limit) {
		if !s.matchMonth(t) {
			t = time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location()).Add(-time.Minute)
			continue
		}
		if !s.matchDay(t) {
			t = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location()).Add(-time.Minute)
			continue
		}
		if !s.matchHour(t) {
			t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, t.Location()).Add(-time.Minute)
			continue
		}
		if !s.matchMinute(t) {
			t = t.Add(-time.Minute)
			continue
		}
		return t
	}
	return time.Time{}
}
