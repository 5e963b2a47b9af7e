package ohlcv

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Timeframe is a named resampling target. Windows are Interval long and
// start at Unix epoch + Offset + k*Interval, independent of the data.
type Timeframe struct {
	Name     string
	Interval time.Duration
	Offset   time.Duration
}

// DefaultOffset anchors intraday windows on the 09:15 session open.
const DefaultOffset = 15 * time.Minute

// DefaultTimeframes is 5min, 30min, 1hour and 1d.
func DefaultTimeframes() []Timeframe {
	return []Timeframe{
		{Name: "5min", Interval: 5 * time.Minute, Offset: DefaultOffset},
		{Name: "30min", Interval: 30 * time.Minute, Offset: DefaultOffset},
		{Name: "1hour", Interval: time.Hour, Offset: DefaultOffset},
		{Name: "1d", Interval: 24 * time.Hour},
	}
}

func (tf Timeframe) Validate() error {
	if strings.TrimSpace(tf.Name) == "" {
		return fmt.Errorf("%w: empty name", ErrUnknownTimeframe)
	}
	if tf.Interval <= 0 {
		return fmt.Errorf("%w: %s interval must be positive", ErrUnknownTimeframe, tf.Name)
	}
	if tf.Offset < 0 {
		return fmt.Errorf("%w: %s offset must not be negative", ErrUnknownTimeframe, tf.Name)
	}
	return nil
}

// WindowStart returns the left edge of the window containing t.
func (tf Timeframe) WindowStart(t time.Time) time.Time {
	iv := int64(tf.Interval)
	off := int64(tf.Offset) % iv
	ns := Naive(t).UnixNano() - off
	k := ns / iv
	if ns%iv < 0 {
		k--
	}
	return time.Unix(0, k*iv+off).UTC()
}

func (tf Timeframe) String() string {
	return fmt.Sprintf("%s(%s@%s)", tf.Name, tf.Interval, tf.Offset)
}

// ParseInterval understands pandas-style frequencies such as "5min",
// "60min", "1hour", "1H", "1D" as well as Go durations like "15m".
func ParseInterval(raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, fmt.Errorf("%w: empty interval", ErrUnknownTimeframe)
	}
	if s == "0" {
		return 0, nil
	}
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	n := 1
	if i > 0 {
		v, err := strconv.Atoi(s[:i])
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrUnknownTimeframe, raw)
		}
		n = v
	}
	var unit time.Duration
	switch strings.ToLower(s[i:]) {
	case "s", "sec", "second", "seconds":
		unit = time.Second
	case "m", "t", "min", "mins", "minute", "minutes":
		unit = time.Minute
	case "h", "hr", "hour", "hours":
		unit = time.Hour
	case "d", "day", "days":
		unit = 24 * time.Hour
	default:
		if d, err := time.ParseDuration(s); err == nil {
			return d, nil
		}
		return 0, fmt.Errorf("%w: %q", ErrUnknownTimeframe, raw)
	}
	return time.Duration(n) * unit, nil
}

// ParseTimeframe parses "label=freq@offset". Both "label=" and "@offset"
// are optional; the label defaults to freq and the offset to
// DefaultOffset for intraday intervals and zero for daily ones.
func ParseTimeframe(raw string) (Timeframe, error) {
	spec := strings.TrimSpace(raw)
	name, freq := spec, spec
	if i := strings.Index(spec, "="); i >= 0 {
		name, freq = strings.TrimSpace(spec[:i]), strings.TrimSpace(spec[i+1:])
	}
	offRaw := ""
	if i := strings.Index(freq, "@"); i >= 0 {
		freq, offRaw = strings.TrimSpace(freq[:i]), strings.TrimSpace(freq[i+1:])
		if j := strings.Index(name, "@"); j >= 0 {
			name = strings.TrimSpace(name[:j])
		}
	}
	iv, err := ParseInterval(freq)
	if err != nil {
		return Timeframe{}, err
	}
	tf := Timeframe{Name: name, Interval: iv}
	switch {
	case offRaw != "":
		if tf.Offset, err = ParseInterval(offRaw); err != nil {
			return Timeframe{}, err
		}
	case iv < 24*time.Hour:
		tf.Offset = DefaultOffset
	}
	return tf, tf.Validate()
}

// ParseTimeframes parses a comma separated list of ParseTimeframe specs.
func ParseTimeframes(raw string) ([]Timeframe, error) {
	out := []Timeframe{}
	seen := map[string]bool{}
	for _, p := range strings.Split(raw, ",") {
		if strings.TrimSpace(p) == "" {
			continue
		}
		tf, err := ParseTimeframe(p)
		if err != nil {
			return nil, err
		}
		if seen[tf.Name] {
			return nil, fmt.Errorf("%w: duplicate name %q", ErrUnknownTimeframe, tf.Name)
		}
		seen[tf.Name] = true
		out = append(out, tf)
	}
	if len(out) == 0 {
		return DefaultTimeframes(), nil
	}
	return out, nil
}
