package ohlcv

import (
	"errors"
	"strconv"
	"strings"
	"time"
)

// TimeLayout is the layout used when bars are written back out.
const TimeLayout = "2006-01-02 15:04:05"

var timeLayouts = []string{
	TimeLayout,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	time.RFC3339Nano,
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05-0700",
	"2006-01-02T15:04:05-0700",
	"2006/01/02 15:04:05",
	"2006/01/02 15:04",
	"02-01-2006 15:04:05",
	"02-01-2006 15:04",
	"2006-01-02",
}

var errBadTime = errors.New("unrecognised date-time")

// Naive drops the zone of t and keeps its wall clock, stored as UTC.
func Naive(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
}

// ParseTime accepts the common date-time spellings found in exchange dumps.
// A zone offset, when present, is discarded after parsing.
func ParseTime(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return Naive(t), nil
		}
	}
	return time.Time{}, errBadTime
}

// ParseRows validates raw rows and converts them into bars in input order.
// Any missing required field or unparseable value fails the whole batch.
func ParseRows(rows []RawRow) (Series, error) {
	out := make(Series, 0, len(rows))
	for i, row := range rows {
		line := row.Line
		if line == 0 {
			line = i + 1
		}
		bar, err := parseRow(line, row.Values)
		if err != nil {
			return nil, err
		}
		out = append(out, bar)
	}
	return out, nil
}

func parseRow(line int, vals map[string]string) (Bar, error) {
	for _, col := range RequiredColumns {
		if strings.TrimSpace(vals[col]) == "" {
			return Bar{}, &MalformedInputError{Row: line, Field: col, Err: errors.New("required field absent")}
		}
	}
	ts, err := ParseTime(vals[ColDatetime])
	if err != nil {
		return Bar{}, &MalformedInputError{Row: line, Field: ColDatetime, Value: vals[ColDatetime], Err: err}
	}
	bar := Bar{
		Time:       ts,
		ScripCode:  strings.TrimSpace(vals[ColScripCode]),
		ExpiryType: strings.TrimSpace(vals[ColExpiryType]),
		ExpiryDate: strings.TrimSpace(vals[ColExpiryDate]),
	}
	fields := []struct {
		col string
		dst *float64
	}{
		{ColOpen, &bar.Open},
		{ColHigh, &bar.High},
		{ColLow, &bar.Low},
		{ColClose, &bar.Close},
		{ColVolume, &bar.Volume},
		{ColOpenInterest, &bar.OpenInterest},
	}
	for _, f := range fields {
		raw := strings.TrimSpace(vals[f.col])
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return Bar{}, &MalformedInputError{Row: line, Field: f.col, Value: raw, Err: errors.Unwrap(err)}
		}
		*f.dst = v
	}
	return bar, nil
}

// Values renders b back into column form, the inverse of parsing.
func (b Bar) Values() map[string]string {
	return map[string]string{
		ColDatetime:     b.Time.Format(TimeLayout),
		ColOpen:         FormatFloat(b.Open),
		ColHigh:         FormatFloat(b.High),
		ColLow:          FormatFloat(b.Low),
		ColClose:        FormatFloat(b.Close),
		ColVolume:       FormatFloat(b.Volume),
		ColOpenInterest: FormatFloat(b.OpenInterest),
		ColScripCode:    b.ScripCode,
		ColExpiryType:   b.ExpiryType,
		ColExpiryDate:   b.ExpiryDate,
	}
}

// FormatFloat prints v with the shortest exact representation.
func FormatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
