package ohlcv

import "time"

// Aggregate resamples in into tf windows. Each non-empty window yields one
// bar stamped with the window's left edge: open is the first open, high the
// max, low the min, close the last close, volume and open interest are
// summed and pass-through fields take the last non-empty value. Windows
// with no input bars are not emitted.
func Aggregate(in Series, tf Timeframe) (Series, error) {
	if err := tf.Validate(); err != nil {
		return nil, err
	}
	if len(in) == 0 {
		return Series{}, nil
	}
	src := in
	if !nonDecreasing(in) {
		src = SortByTime(in)
	}

	out := make(Series, 0, len(src)/windowWidth(src, tf)+1)
	var (
		cur      Bar
		curStart time.Time
		open     bool
	)
	for _, b := range src {
		ws := tf.WindowStart(b.Time)
		if open && ws.Equal(curStart) {
			cur = merge(cur, b)
			continue
		}
		if open {
			out = append(out, cur)
		}
		cur, curStart, open = b.At(ws), ws, true
	}
	out = append(out, cur)
	return out, nil
}

func merge(acc, b Bar) Bar {
	if b.High > acc.High {
		acc.High = b.High
	}
	if b.Low < acc.Low {
		acc.Low = b.Low
	}
	acc.Close = b.Close
	acc.Volume += b.Volume
	acc.OpenInterest += b.OpenInterest
	if b.ScripCode != "" {
		acc.ScripCode = b.ScripCode
	}
	if b.ExpiryType != "" {
		acc.ExpiryType = b.ExpiryType
	}
	if b.ExpiryDate != "" {
		acc.ExpiryDate = b.ExpiryDate
	}
	return acc
}

func nonDecreasing(s Series) bool {
	for i := 1; i < len(s); i++ {
		if s[i].Time.Before(s[i-1].Time) {
			return false
		}
	}
	return true
}

// windowWidth estimates bars per window for preallocation.
func windowWidth(s Series, tf Timeframe) int {
	if len(s) < 2 {
		return 1
	}
	step := s[1].Time.Sub(s[0].Time)
	if step <= 0 || step >= tf.Interval {
		return 1
	}
	return int(tf.Interval / step)
}
