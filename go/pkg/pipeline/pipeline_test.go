package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ohlcv-pipeline/go/pkg/ohlcv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type call struct {
	instrument string
	timeframe  string
	bars       int
}

type recordingSink struct {
	mu       sync.Mutex
	calls    []call
	failOn   string
	delay    time.Duration
	inflight atomic.Int32
	peak     atomic.Int32
}

func (s *recordingSink) Write(_ context.Context, instrument, timeframe string, series ohlcv.Series) error {
	n := s.inflight.Add(1)
	defer s.inflight.Add(-1)
	for {
		p := s.peak.Load()
		if n <= p || s.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if instrument == s.failOn {
		return errors.New("disk full")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call{instrument, timeframe, len(series)})
	return nil
}

func (s *recordingSink) callsFor(instrument string) []call {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []call
	for _, c := range s.calls {
		if c.instrument == instrument {
			out = append(out, c)
		}
	}
	return out
}

// minuteRows returns n consecutive rows from 2025-09-01 (a Monday) 09:15.
func minuteRows(n int) []ohlcv.RawRow {
	start := time.Date(2025, 9, 1, 9, 15, 0, 0, time.UTC)
	rows := make([]ohlcv.RawRow, n)
	for i := range rows {
		px := fmt.Sprint(100 + i)
		rows[i] = ohlcv.NewRawRow(i+1,
			ohlcv.ColDatetime, start.Add(time.Duration(i)*time.Minute).Format(ohlcv.TimeLayout),
			ohlcv.ColOpen, px, ohlcv.ColHigh, px, ohlcv.ColLow, px, ohlcv.ColClose, px,
			ohlcv.ColVolume, "1", ohlcv.ColOpenInterest, "2",
		)
	}
	return rows
}

func newTestPipeline(t *testing.T, opts Options) *Pipeline {
	t.Helper()
	opts.Registerer = prometheus.NewRegistry()
	p, err := New(opts)
	require.NoError(t, err)
	return p
}

func TestRun_ProducesEveryTimeframe(t *testing.T) {
	sink := &recordingSink{}
	p := newTestPipeline(t, Options{EmitBase: true, Sink: sink})

	res := p.Run(context.Background(), []Input{{Instrument: "NIFTY", Rows: minuteRows(10)}})

	require.Empty(t, res.Failures)
	assert.Equal(t, []string{"NIFTY"}, res.Succeeded())
	assert.NotEmpty(t, res.RunID)
	assert.Len(t, res.Outputs[Key{"NIFTY", "1min"}], 10)
	assert.Len(t, res.Outputs[Key{"NIFTY", "5min"}], 2)
	assert.Len(t, res.Outputs[Key{"NIFTY", "30min"}], 1)
	assert.Len(t, res.Outputs[Key{"NIFTY", "1hour"}], 1)
	assert.Len(t, res.Outputs[Key{"NIFTY", "1d"}], 1)
	assert.Equal(t, 10.0, res.Outputs[Key{"NIFTY", "1d"}][0].Volume)

	assert.Equal(t, []call{
		{"NIFTY", "1min", 10},
		{"NIFTY", "5min", 2},
		{"NIFTY", "30min", 1},
		{"NIFTY", "1hour", 1},
		{"NIFTY", "1d", 1},
	}, sink.callsFor("NIFTY"))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.metrics.instruments.WithLabelValues("ok")))
}

func TestRun_FailuresAreIsolated(t *testing.T) {
	sink := &recordingSink{}
	p := newTestPipeline(t, Options{Sink: sink})

	bad := minuteRows(3)
	bad[1].Values[ohlcv.ColDatetime] = "not a time"

	res := p.Run(context.Background(), []Input{
		{Instrument: "A", Rows: minuteRows(5)},
		{Instrument: "B"},
		{Instrument: "C", Rows: bad},
		{Instrument: "D", Err: errors.New("open D.csv: permission denied")},
		{Instrument: "E", Rows: minuteRows(7)},
	})

	assert.Equal(t, []string{"A", "E"}, res.Succeeded())
	require.Len(t, res.Failures, 3)
	assert.Equal(t, Failure{Instrument: "B", Stage: StageNormalize, Kind: KindEmpty, Reason: "empty input: 0 usable rows"}, res.Failures[0])
	assert.Equal(t, "C", res.Failures[1].Instrument)
	assert.Equal(t, KindMalformed, res.Failures[1].Kind)
	assert.Equal(t, StageLoad, res.Failures[2].Stage)

	for key := range res.Outputs {
		assert.Contains(t, []string{"A", "E"}, key.Instrument)
	}
	assert.Empty(t, sink.callsFor("B"))
	assert.Empty(t, sink.callsFor("C"))
	assert.Equal(t, 3.0, testutil.ToFloat64(p.metrics.instruments.WithLabelValues("failed")))
}

func TestRun_SinkFailureRecorded(t *testing.T) {
	sink := &recordingSink{failOn: "BAD"}
	p := newTestPipeline(t, Options{Sink: sink})

	res := p.Run(context.Background(), []Input{
		{Instrument: "BAD", Rows: minuteRows(5)},
		{Instrument: "GOOD", Rows: minuteRows(5)},
	})
	require.Len(t, res.Failures, 1)
	assert.Equal(t, StagePublish, res.Failures[0].Stage)
	assert.Equal(t, KindSink, res.Failures[0].Kind)
	assert.Contains(t, res.Failures[0].Reason, "disk full")
	assert.Equal(t, []string{"GOOD"}, res.Succeeded())
	_, ok := res.Outputs[Key{"BAD", "5min"}]
	assert.False(t, ok)
}

func TestRun_DeadlineSkipsUnstarted(t *testing.T) {
	p := newTestPipeline(t, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := p.Run(ctx, []Input{{Instrument: "A", Rows: minuteRows(5)}, {Instrument: "B", Rows: minuteRows(5)}})
	assert.Empty(t, res.Outputs)
	require.Len(t, res.Failures, 2)
	for _, f := range res.Failures {
		assert.Equal(t, StageDispatch, f.Stage)
		assert.Equal(t, KindDeadline, f.Kind)
	}
}

func TestRun_BoundedWorkers(t *testing.T) {
	sink := &recordingSink{delay: 5 * time.Millisecond}
	p := newTestPipeline(t, Options{Workers: 2, Sink: sink, Timeframes: []ohlcv.Timeframe{ohlcv.DefaultTimeframes()[0]}})

	inputs := make([]Input, 8)
	for i := range inputs {
		inputs[i] = Input{Instrument: fmt.Sprintf("S%d", i), Rows: minuteRows(10)}
	}
	res := p.Run(context.Background(), inputs)

	assert.Empty(t, res.Failures)
	assert.Len(t, res.Succeeded(), 8)
	assert.LessOrEqual(t, sink.peak.Load(), int32(2))
}

func TestRun_DuplicateInstrument(t *testing.T) {
	p := newTestPipeline(t, Options{})
	res := p.Run(context.Background(), []Input{
		{Instrument: "A", Rows: minuteRows(5)},
		{Instrument: "A", Rows: minuteRows(6)},
	})
	assert.Equal(t, []string{"A"}, res.Succeeded())
	require.Len(t, res.Failures, 1)
	assert.Equal(t, KindDuplicate, res.Failures[0].Kind)
	assert.Len(t, res.Outputs[Key{"A", "5min"}], 1)
}

func TestRun_EmptyCalendarIsNotAFailure(t *testing.T) {
	p := newTestPipeline(t, Options{})
	saturday := []ohlcv.RawRow{ohlcv.NewRawRow(1,
		ohlcv.ColDatetime, "2025-09-06 10:00:00",
		ohlcv.ColOpen, "1", ohlcv.ColHigh, "1", ohlcv.ColLow, "1", ohlcv.ColClose, "1",
		ohlcv.ColVolume, "1", ohlcv.ColOpenInterest, "1",
	)}
	res := p.Run(context.Background(), []Input{{Instrument: "SAT", Rows: saturday}})
	assert.Empty(t, res.Failures)
	series, ok := res.Outputs[Key{"SAT", "5min"}]
	assert.True(t, ok)
	assert.Empty(t, series)
}

func TestNew_RejectsBadTimeframes(t *testing.T) {
	tf := ohlcv.DefaultTimeframes()[0]
	_, err := New(Options{Timeframes: []ohlcv.Timeframe{tf, tf}, Registerer: prometheus.NewRegistry()})
	assert.ErrorIs(t, err, ohlcv.ErrUnknownTimeframe)

	tf.Name = "1min"
	_, err = New(Options{Timeframes: []ohlcv.Timeframe{tf}, EmitBase: true, Registerer: prometheus.NewRegistry()})
	assert.Error(t, err)

	_, err = New(Options{Session: ohlcv.Session{Step: time.Minute, Open: 2 * time.Hour, Close: time.Hour}, Registerer: prometheus.NewRegistry()})
	assert.ErrorIs(t, err, ohlcv.ErrInvalidSession)
}

func TestNew_SeveralPipelinesShareRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	var first, second *Pipeline
	require.NotPanics(t, func() {
		var err error
		first, err = New(Options{Registerer: reg})
		require.NoError(t, err)
		second, err = New(Options{Registerer: reg})
		require.NoError(t, err)
		_, err = New(Options{})
		require.NoError(t, err)
	})
	first.Run(context.Background(), []Input{{Instrument: "A", Rows: minuteRows(5)}})
	second.Run(context.Background(), []Input{{Instrument: "B", Rows: minuteRows(5)}})
	assert.Equal(t, 2.0, testutil.ToFloat64(first.metrics.instruments.WithLabelValues("ok")))
}

func TestWriteReport(t *testing.T) {
	p := newTestPipeline(t, Options{})
	res := p.Run(context.Background(), []Input{{Instrument: "A", Rows: minuteRows(5)}, {Instrument: "B"}})

	path := filepath.Join(t.TempDir(), "reports", ".lastrun.json")
	require.NoError(t, WriteReport(path, res))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var rep Report
	require.NoError(t, json.Unmarshal(raw, &rep))
	assert.Equal(t, res.RunID, rep.RunID)
	assert.Equal(t, []string{"A"}, rep.Succeeded)
	require.Len(t, rep.Failed, 1)
	assert.Equal(t, "B", rep.Failed[0].Instrument)

	assert.Equal(t, "B[normalize]: empty input: 0 usable rows", FailureSummary(rep.Failed))
}

func TestFailureSummaryTruncates(t *testing.T) {
	var fs []Failure
	for i := 0; i < 8; i++ {
		fs = append(fs, Failure{Instrument: fmt.Sprintf("I%d", i), Stage: StageLoad, Reason: "x"})
	}
	got := FailureSummary(fs)
	assert.Contains(t, got, "I4[load]: x (+3 more)")
	assert.NotContains(t, got, "I5")
}
