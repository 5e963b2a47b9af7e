package shared

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsServer exposes Prometheus metrics.
type MetricsServer struct {
	srv *http.Server
}

// NewMetricsServer serves gatherer on /metrics. A nil gatherer means the
// default registry.
func NewMetricsServer(port int, gatherer prometheus.Gatherer) *MetricsServer {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return &MetricsServer{srv: &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}}
}

func (m *MetricsServer) Start(log Logger) {
	go func() {
		if err := m.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warnf("[metrics] listener on %s stopped: %v", m.srv.Addr, err)
		}
	}()
}

func (m *MetricsServer) Shutdown(ctx context.Context) error { return m.srv.Shutdown(ctx) }

// The constructors below register on reg. A nil reg gets a private
// registry, so the collectors work but nothing exports them. Registering
// the same collector twice on one registry hands back the first one, which
// lets several pipelines or servers in a process share DefaultRegisterer.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

func NewCounter(reg prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	return register(reg, prometheus.NewCounter(opts))
}

func NewCounterVec(reg prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	return register(reg, prometheus.NewCounterVec(opts, labels))
}

func NewGauge(reg prometheus.Registerer, opts prometheus.GaugeOpts) prometheus.Gauge {
	return register(reg, prometheus.NewGauge(opts))
}

func NewHistVec(reg prometheus.Registerer, opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	return register(reg, prometheus.NewHistogramVec(opts, labels))
}
