package ohlcv

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrUnknownTimeframe = errors.New("unknown timeframe")
	ErrInvalidSession   = errors.New("invalid session")
)

// MalformedInputError reports a row that cannot be interpreted.
type MalformedInputError struct {
	Row   int
	Field string
	Value string
	Err   error
}

func (e *MalformedInputError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("malformed input: row %d field %q: %v", e.Row, e.Field, e.Err)
	}
	return fmt.Sprintf("malformed input: row %d field %q value %q: %v", e.Row, e.Field, e.Value, e.Err)
}

func (e *MalformedInputError) Unwrap() error { return e.Err }

// EmptyInputError reports a series with no usable rows.
type EmptyInputError struct {
	Rows int
}

func (e *EmptyInputError) Error() string {
	return fmt.Sprintf("empty input: %d usable rows", e.Rows)
}

// EmptyCalendarError reports a range that contains no session timestamps.
type EmptyCalendarError struct {
	Start time.Time
	End   time.Time
}

func (e *EmptyCalendarError) Error() string {
	return fmt.Sprintf("empty calendar between %s and %s",
		e.Start.Format(TimeLayout), e.End.Format(TimeLayout))
}

// IsMalformed reports whether err carries a MalformedInputError.
func IsMalformed(err error) bool {
	var target *MalformedInputError
	return errors.As(err, &target)
}

// IsEmptyInput reports whether err carries an EmptyInputError.
func IsEmptyInput(err error) bool {
	var target *EmptyInputError
	return errors.As(err, &target)
}

// IsEmptyCalendar reports whether err carries an EmptyCalendarError.
func IsEmptyCalendar(err error) bool {
	var target *EmptyCalendarError
	return errors.As(err, &target)
}
