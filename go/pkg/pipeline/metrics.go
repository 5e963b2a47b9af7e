package pipeline

import (
	"ohlcv-pipeline/go/pkg/ohlcv"
	"ohlcv-pipeline/go/pkg/shared"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundle.
type Metrics struct {
	instruments  *prometheus.CounterVec
	rowsIn       prometheus.Counter
	dropped      *prometheus.CounterVec
	filled       *prometheus.CounterVec
	barsOut      *prometheus.CounterVec
	stageSeconds *prometheus.HistogramVec
	inflight     prometheus.Gauge
}

// NewMetrics registers the pipeline collectors on reg. Pass
// prometheus.DefaultRegisterer to export them; nil keeps them private.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		instruments: shared.NewCounterVec(reg, prometheus.CounterOpts{
			Name: "ohlcv_pipeline_instruments_total",
			Help: "Instruments processed by outcome",
		}, []string{"status"}),
		rowsIn: shared.NewCounter(reg, prometheus.CounterOpts{
			Name: "ohlcv_pipeline_rows_in_total",
			Help: "Raw rows accepted by the normalizer",
		}),
		dropped: shared.NewCounterVec(reg, prometheus.CounterOpts{
			Name: "ohlcv_pipeline_rows_dropped_total",
			Help: "Rows dropped during normalization",
		}, []string{"reason"}),
		filled: shared.NewCounterVec(reg, prometheus.CounterOpts{
			Name: "ohlcv_pipeline_bars_filled_total",
			Help: "Bars synthesized by gap filling",
		}, []string{"direction"}),
		barsOut: shared.NewCounterVec(reg, prometheus.CounterOpts{
			Name: "ohlcv_pipeline_bars_out_total",
			Help: "Bars produced per timeframe",
		}, []string{"tf"}),
		stageSeconds: shared.NewHistVec(reg, prometheus.HistogramOpts{
			Name:    "ohlcv_pipeline_stage_seconds",
			Help:    "Per-instrument stage duration",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"stage"}),
		inflight: shared.NewGauge(reg, prometheus.GaugeOpts{
			Name: "ohlcv_pipeline_inflight_instruments",
			Help: "Instruments currently being processed",
		}),
	}
}

func (m *Metrics) observeStats(s ohlcv.Stats) {
	m.rowsIn.Add(float64(s.Input))
	m.dropped.WithLabelValues("duplicate").Add(float64(s.Duplicates))
	m.dropped.WithLabelValues("off_grid").Add(float64(s.OffGrid))
	m.filled.WithLabelValues("forward").Add(float64(s.ForwardFilled))
	m.filled.WithLabelValues("backward").Add(float64(s.BackwardFilled))
}
