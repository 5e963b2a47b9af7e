package ohlcv

import (
	"fmt"
	"sort"
	"time"
)

// Stats counts what normalization did to one series.
type Stats struct {
	Input          int
	Duplicates     int
	OffGrid        int
	ForwardFilled  int
	BackwardFilled int
	Output         int
}

// Slot is one calendar position after the join. Present is false for a hole.
type Slot struct {
	Time    time.Time
	Bar     Bar
	Present bool
}

// Normalizer reconciles raw rows against a session calendar.
type Normalizer struct {
	session Session
}

func NewNormalizer(s Session) (*Normalizer, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &Normalizer{session: s}, nil
}

func (n *Normalizer) Session() Session { return n.session }

// Normalize parses rows and returns a gap-free series with exactly one bar
// for every session minute between the first and last input timestamp.
func (n *Normalizer) Normalize(rows []RawRow) (Series, error) {
	out, _, err := n.NormalizeWithStats(rows)
	return out, err
}

// NormalizeWithStats is Normalize plus the per-step counters.
//
// Leading holes are repaired by BackwardFill, which copies the first later
// bar into earlier minutes. Callers that must not see future data should
// drop the first Stats.BackwardFilled bars of the result.
func (n *Normalizer) NormalizeWithStats(rows []RawRow) (Series, Stats, error) {
	stats := Stats{Input: len(rows)}
	parsed, err := ParseRows(rows)
	if err != nil {
		return nil, stats, err
	}
	return n.normalize(parsed, stats)
}

// NormalizeSeries runs the same steps on already parsed bars.
func (n *Normalizer) NormalizeSeries(in Series) (Series, Stats, error) {
	return n.normalize(in, Stats{Input: len(in)})
}

func (n *Normalizer) normalize(parsed Series, stats Stats) (Series, Stats, error) {
	if len(parsed) == 0 {
		return nil, stats, &EmptyInputError{Rows: 0}
	}

	sorted := SortByTime(parsed)
	deduped := DedupeKeepLast(sorted)
	stats.Duplicates = len(sorted) - len(deduped)

	grid, err := n.session.Grid(deduped.Start(), deduped.End())
	if err != nil {
		if IsEmptyCalendar(err) {
			return Series{}, stats, nil
		}
		return nil, stats, err
	}

	slots, offGrid := JoinGrid(grid, deduped)
	stats.OffGrid = offGrid

	slots, stats.ForwardFilled = ForwardFill(slots)
	slots, stats.BackwardFilled = BackwardFill(slots)

	out := make(Series, 0, len(slots))
	for _, s := range slots {
		if s.Present {
			out = append(out, s.Bar)
		}
	}
	if len(out) == 0 {
		return nil, stats, &EmptyInputError{Rows: len(deduped)}
	}
	if len(out) != len(grid) || !out.StrictlyIncreasing() {
		return nil, stats, fmt.Errorf("normalize: output not canonical (%d bars for %d slots)", len(out), len(grid))
	}
	stats.Output = len(out)
	return out, stats, nil
}

// SortByTime returns a copy ordered by timestamp. Equal timestamps keep
// their input order.
func SortByTime(in Series) Series {
	out := make(Series, len(in))
	copy(out, in)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out
}

// DedupeKeepLast collapses equal timestamps in a sorted series to the row
// that came last in the original input.
func DedupeKeepLast(sorted Series) Series {
	out := make(Series, 0, len(sorted))
	for _, b := range sorted {
		if n := len(out); n > 0 && out[n-1].Time.Equal(b.Time) {
			out[n-1] = b
			continue
		}
		out = append(out, b)
	}
	return out
}

// JoinGrid places each bar on its calendar slot. Bars that do not land on
// a grid point are dropped and counted.
func JoinGrid(grid []time.Time, bars Series) ([]Slot, int) {
	slots := make([]Slot, len(grid))
	j, offGrid := 0, 0
	for i, ts := range grid {
		slots[i].Time = ts
		for j < len(bars) && bars[j].Time.Before(ts) {
			offGrid++
			j++
		}
		if j < len(bars) && bars[j].Time.Equal(ts) {
			slots[i].Bar = bars[j]
			slots[i].Present = true
			j++
		}
	}
	offGrid += len(bars) - j
	return slots, offGrid
}

// ForwardFill copies the latest present bar into each following hole.
func ForwardFill(in []Slot) ([]Slot, int) {
	out := make([]Slot, len(in))
	copy(out, in)
	filled := 0
	var last *Bar
	for i := range out {
		if out[i].Present {
			last = &out[i].Bar
			continue
		}
		if last != nil {
			out[i].Bar = last.At(out[i].Time)
			out[i].Present = true
			filled++
		}
	}
	return out, filled
}

// BackwardFill copies the next present bar into each preceding hole. After
// ForwardFill only a leading run of holes can remain.
func BackwardFill(in []Slot) ([]Slot, int) {
	out := make([]Slot, len(in))
	copy(out, in)
	filled := 0
	var next *Bar
	for i := len(out) - 1; i >= 0; i-- {
		if out[i].Present {
			next = &out[i].Bar
			continue
		}
		if next != nil {
			out[i].Bar = next.At(out[i].Time)
			out[i].Present = true
			filled++
		}
	}
	return out, filled
}
