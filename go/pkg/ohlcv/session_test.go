package ohlcv

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 2025-09-01 is a Monday.
func day(d, h, m int) time.Time {
	return time.Date(2025, time.September, d, h, m, 0, 0, time.UTC)
}

func at(h, m int) time.Time { return day(1, h, m) }

func collect(s Session, start, end time.Time) []time.Time {
	var out []time.Time
	for ts := range s.Timestamps(start, end) {
		out = append(out, ts)
	}
	return out
}

func TestSessionTimestamps_FullDay(t *testing.T) {
	s := DefaultSession()
	got := collect(s, at(0, 0), at(23, 59))

	require.Len(t, got, 371)
	assert.Equal(t, s.BarsPerDay(), len(got))
	assert.Equal(t, at(9, 15), got[0])
	assert.Equal(t, at(15, 25), got[len(got)-1])
	for i := 1; i < len(got); i++ {
		assert.Equal(t, time.Minute, got[i].Sub(got[i-1]))
	}
}

func TestSessionTimestamps_Ranges(t *testing.T) {
	s := DefaultSession()
	tests := []struct {
		name      string
		start     time.Time
		end       time.Time
		wantLen   int
		wantFirst time.Time
		wantLast  time.Time
	}{
		{
			name:      "mid session start rounds up to next minute",
			start:     at(10, 0).Add(30 * time.Second),
			end:       at(10, 5),
			wantLen:   5,
			wantFirst: at(10, 1),
			wantLast:  at(10, 5),
		},
		{
			name:      "end mid minute rounds down",
			start:     at(9, 15),
			end:       at(9, 17).Add(59 * time.Second),
			wantLen:   3,
			wantFirst: at(9, 15),
			wantLast:  at(9, 17),
		},
		{
			name:      "pre-open start snaps to open",
			start:     at(6, 0),
			end:       at(9, 16),
			wantLen:   2,
			wantFirst: at(9, 15),
			wantLast:  at(9, 16),
		},
		{
			name:      "spans overnight",
			start:     at(15, 0),
			end:       day(2, 9, 20),
			wantLen:   26 + 6,
			wantFirst: at(15, 0),
			wantLast:  day(2, 9, 20),
		},
		{
			name:      "skips weekend",
			start:     day(5, 15, 25),
			end:       day(8, 9, 15),
			wantLen:   2,
			wantFirst: day(5, 15, 25),
			wantLast:  day(8, 9, 15),
		},
		{
			name:      "single instant",
			start:     at(11, 11),
			end:       at(11, 11),
			wantLen:   1,
			wantFirst: at(11, 11),
			wantLast:  at(11, 11),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := collect(s, tt.start, tt.end)
			require.Len(t, got, tt.wantLen)
			assert.Equal(t, tt.wantFirst, got[0])
			assert.Equal(t, tt.wantLast, got[len(got)-1])
		})
	}
}

func TestSessionTimestamps_Empty(t *testing.T) {
	s := DefaultSession()
	tests := []struct {
		name  string
		start time.Time
		end   time.Time
	}{
		{"start after end", at(12, 0), at(11, 0)},
		{"weekend only", day(6, 0, 0), day(7, 23, 59)},
		{"after close", at(15, 26), at(23, 0)},
		{"before open", at(0, 0), at(9, 14)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Empty(t, collect(s, tt.start, tt.end))

			_, err := s.Grid(tt.start, tt.end)
			require.Error(t, err)
			assert.True(t, IsEmptyCalendar(err))
		})
	}
}

func TestSessionTimestamps_StopsEarly(t *testing.T) {
	s := DefaultSession()
	n := 0
	for range s.Timestamps(day(1, 0, 0), time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)) {
		n++
		if n == 3 {
			break
		}
	}
	assert.Equal(t, 3, n)
}

func TestSessionTimestamps_CustomSession(t *testing.T) {
	s := Session{
		Weekdays: []time.Weekday{time.Saturday},
		Open:     10 * time.Hour,
		Close:    10*time.Hour + 4*time.Minute,
		Step:     2 * time.Minute,
	}
	require.NoError(t, s.Validate())

	got := collect(s, day(1, 0, 0), day(7, 23, 0))
	assert.Equal(t, []time.Time{day(6, 10, 0), day(6, 10, 2), day(6, 10, 4)}, got)
	assert.Equal(t, 3, s.BarsPerDay())
}

func TestSessionContains(t *testing.T) {
	s := DefaultSession()
	assert.True(t, s.Contains(at(9, 15)))
	assert.True(t, s.Contains(at(15, 25)))
	assert.False(t, s.Contains(at(15, 26)))
	assert.False(t, s.Contains(at(9, 15).Add(time.Second)))
	assert.False(t, s.Contains(day(6, 10, 0)))
}

func TestSessionValidate(t *testing.T) {
	tests := []struct {
		name string
		s    Session
	}{
		{"zero step", Session{Open: time.Hour, Close: 2 * time.Hour}},
		{"close before open", Session{Open: 2 * time.Hour, Close: time.Hour, Step: time.Minute}},
		{"close past midnight", Session{Open: time.Hour, Close: 25 * time.Hour, Step: time.Minute}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.s.Validate(), ErrInvalidSession)
		})
	}
	assert.NoError(t, DefaultSession().Validate())
}

func TestParseClockAndWeekdays(t *testing.T) {
	d, err := ParseClock("09:15")
	require.NoError(t, err)
	assert.Equal(t, 9*time.Hour+15*time.Minute, d)

	_, err = ParseClock("9h15")
	assert.ErrorIs(t, err, ErrInvalidSession)

	days, err := ParseWeekdays("Mon, tue,WEDNESDAY,mon")
	require.NoError(t, err)
	assert.Equal(t, []time.Weekday{time.Monday, time.Tuesday, time.Wednesday}, days)

	_, err = ParseWeekdays("Mon,Funday")
	assert.ErrorIs(t, err, ErrInvalidSession)
}
