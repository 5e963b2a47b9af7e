// Package ohlcv builds canonical minute series from raw OHLCV rows and
// resamples them into coarser timeframes.
package ohlcv

import "time"

// Column names understood by the row parser.
const (
	ColDatetime     = "datetime"
	ColOpen         = "open"
	ColHigh         = "high"
	ColLow          = "low"
	ColClose        = "close"
	ColVolume       = "volume"
	ColOpenInterest = "open_interest"
	ColScripCode    = "scrip_code"
	ColExpiryType   = "expiry_type"
	ColExpiryDate   = "expiry_date"
)

// RequiredColumns must be present and non-empty on every raw row.
var RequiredColumns = []string{
	ColDatetime, ColOpen, ColHigh, ColLow, ColClose, ColVolume, ColOpenInterest,
}

// PassThroughColumns are carried through unchanged when present.
var PassThroughColumns = []string{ColScripCode, ColExpiryType, ColExpiryDate}

// Bar is one OHLCV record. Time is a naive wall-clock instant stored in UTC.
type Bar struct {
	Time         time.Time
	Open         float64
	High         float64
	Low          float64
	Close        float64
	Volume       float64
	OpenInterest float64
	ScripCode    string
	ExpiryType   string
	ExpiryDate   string
}

// At returns a copy of b stamped with t.
func (b Bar) At(t time.Time) Bar {
	b.Time = t
	return b
}

// Series is an ordered run of bars for one instrument.
type Series []Bar

// Start is the first timestamp, or the zero time for an empty series.
func (s Series) Start() time.Time {
	if len(s) == 0 {
		return time.Time{}
	}
	return s[0].Time
}

// End is the last timestamp, or the zero time for an empty series.
func (s Series) End() time.Time {
	if len(s) == 0 {
		return time.Time{}
	}
	return s[len(s)-1].Time
}

// StrictlyIncreasing reports whether timestamps ascend with no repeats.
func (s Series) StrictlyIncreasing() bool {
	for i := 1; i < len(s); i++ {
		if !s[i].Time.After(s[i-1].Time) {
			return false
		}
	}
	return true
}

// RawRow is one unparsed input row keyed by column name. Line is the
// 1-based position in the source and is used only for error messages.
type RawRow struct {
	Line   int
	Values map[string]string
}

// NewRawRow is a convenience for building rows in code.
func NewRawRow(line int, kv ...string) RawRow {
	vals := make(map[string]string, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		vals[kv[i]] = kv[i+1]
	}
	return RawRow{Line: line, Values: vals}
}
