package ohlcv

import (
	"fmt"
	"iter"
	"strings"
	"time"
)

// Session describes the trading day used to build the minute grid. Open and
// Close are offsets from midnight; Close is inclusive.
type Session struct {
	Weekdays []time.Weekday
	Open     time.Duration
	Close    time.Duration
	Step     time.Duration
}

// DefaultSession is 09:15 to 15:25 in one-minute steps, Monday to Friday.
func DefaultSession() Session {
	return Session{
		Weekdays: []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday},
		Open:     9*time.Hour + 15*time.Minute,
		Close:    15*time.Hour + 25*time.Minute,
		Step:     time.Minute,
	}
}

func (s Session) Validate() error {
	switch {
	case s.Step <= 0:
		return fmt.Errorf("%w: step must be positive, got %s", ErrInvalidSession, s.Step)
	case s.Open < 0 || s.Close >= 24*time.Hour:
		return fmt.Errorf("%w: open/close must fall within one day", ErrInvalidSession)
	case s.Close < s.Open:
		return fmt.Errorf("%w: close %s before open %s", ErrInvalidSession, s.Close, s.Open)
	}
	return nil
}

// BarsPerDay is the number of grid points in one full session.
func (s Session) BarsPerDay() int {
	if s.Step <= 0 || s.Close < s.Open {
		return 0
	}
	return int((s.Close-s.Open)/s.Step) + 1
}

func (s Session) tradesOn(d time.Weekday) bool {
	for _, w := range s.Weekdays {
		if w == d {
			return true
		}
	}
	return false
}

// Contains reports whether t sits exactly on the session grid.
func (s Session) Contains(t time.Time) bool {
	if s.Step <= 0 {
		return false
	}
	t = Naive(t)
	if !s.tradesOn(t.Weekday()) {
		return false
	}
	off := t.Sub(midnight(t))
	if off < s.Open || off > s.Close {
		return false
	}
	return (off-s.Open)%s.Step == 0
}

// Timestamps yields every grid point in [start, end] in ascending order.
// Nothing is yielded when start is after end or no configured weekday
// falls in the range.
func (s Session) Timestamps(start, end time.Time) iter.Seq[time.Time] {
	return func(yield func(time.Time) bool) {
		if s.Step <= 0 || s.Close < s.Open {
			return
		}
		start, end = Naive(start), Naive(end)
		if start.After(end) {
			return
		}
		firstDay := midnight(start)
		for day := firstDay; !day.After(end); day = day.AddDate(0, 0, 1) {
			if !s.tradesOn(day.Weekday()) {
				continue
			}
			off := s.Open
			if day.Equal(firstDay) {
				if lead := start.Sub(day); lead > s.Open {
					steps := (lead - s.Open + s.Step - 1) / s.Step
					off = s.Open + steps*s.Step
				}
			}
			for ; off <= s.Close; off += s.Step {
				ts := day.Add(off)
				if ts.After(end) {
					return
				}
				if !yield(ts) {
					return
				}
			}
		}
	}
}

// Grid materializes Timestamps. An empty grid is reported as
// EmptyCalendarError.
func (s Session) Grid(start, end time.Time) ([]time.Time, error) {
	var out []time.Time
	for ts := range s.Timestamps(start, end) {
		out = append(out, ts)
	}
	if len(out) == 0 {
		return nil, &EmptyCalendarError{Start: start, End: end}
	}
	return out, nil
}

func midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// ParseClock parses "HH:MM" into an offset from midnight.
func ParseClock(raw string) (time.Duration, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("%w: clock %q: %v", ErrInvalidSession, raw, err)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

var weekdayNames = map[string]time.Weekday{
	"sun": time.Sunday, "mon": time.Monday, "tue": time.Tuesday, "wed": time.Wednesday,
	"thu": time.Thursday, "fri": time.Friday, "sat": time.Saturday,
}

// ParseWeekdays parses a comma separated list such as "Mon,Tue,Wed".
func ParseWeekdays(raw string) ([]time.Weekday, error) {
	out := []time.Weekday{}
	seen := map[time.Weekday]bool{}
	for _, p := range strings.Split(raw, ",") {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		if len(p) > 3 {
			p = p[:3]
		}
		d, ok := weekdayNames[p]
		if !ok {
			return nil, fmt.Errorf("%w: weekday %q", ErrInvalidSession, p)
		}
		if !seen[d] {
			seen[d] = true
			out = append(out, d)
		}
	}
	return out, nil
}
