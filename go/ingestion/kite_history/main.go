package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"ohlcv-pipeline/go/pkg/ohlcv"
	"ohlcv-pipeline/go/pkg/pipeline"
	"ohlcv-pipeline/go/pkg/shared"
	"ohlcv-pipeline/go/pkg/sink"
	"ohlcv-pipeline/go/pkg/source"

	"github.com/prometheus/client_golang/prometheus"
)

// Config for the history downloader.
type Config struct {
	Kafka   shared.KafkaConfig
	Kite    shared.KiteConfig
	Files   shared.FileConfig
	Metrics shared.MetricsConfig
	Log     shared.LogConfig
	Output  string `envconfig:"HISTORY_OUTPUT" default:"csv" validate:"oneof=csv kafka"`
}

type ingestMetrics struct {
	rows    *prometheus.CounterVec
	fetches *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) ingestMetrics {
	return ingestMetrics{
		rows:    shared.NewCounterVec(reg, prometheus.CounterOpts{Name: "kite_history_rows_total", Help: "Minute candles downloaded"}, []string{"symbol"}),
		fetches: shared.NewCounterVec(reg, prometheus.CounterOpts{Name: "kite_history_instruments_total", Help: "Instrument downloads by outcome"}, []string{"status"}),
	}
}

// historyRange defaults to the last full week ending yesterday.
func historyRange(cfg shared.KiteConfig, now time.Time) (time.Time, time.Time, error) {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	from, to := today.AddDate(0, 0, -7), today.Add(-time.Second)
	var err error
	if cfg.From != "" {
		if from, err = time.Parse("2006-01-02", cfg.From); err != nil {
			return from, to, fmt.Errorf("HISTORY_FROM: %w", err)
		}
	}
	if cfg.To != "" {
		if to, err = time.Parse("2006-01-02", cfg.To); err != nil {
			return from, to, fmt.Errorf("HISTORY_TO: %w", err)
		}
		to = to.Add(24*time.Hour - time.Second)
	}
	if to.Before(from) {
		return from, to, errors.New("history range: to is before from")
	}
	return from, to, nil
}

// writeCSV stores one instrument's candles as <dir>/<symbol>.csv, the
// layout the csv source of bar_pipeline reads.
func writeCSV(dir string, in pipeline.Input) error {
	bars, err := ohlcv.ParseRows(in.Rows)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.Create(filepath.Join(dir, in.Instrument+".csv"))
	if err != nil {
		return err
	}
	if err := (sink.CSVEncoder{}).Encode(f, bars); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func publish(ctx context.Context, p shared.Producer, topic string, in pipeline.Input) error {
	records, err := source.EncodeRawRows(in.Instrument, in.Rows)
	if err != nil {
		return err
	}
	return p.ProduceBatch(ctx, topic, records)
}

func main() {
	cfg, err := shared.Load[Config]("")
	if err != nil {
		shared.NewLogger("kitehist").Fatalf("config: %v", err)
	}
	logger := shared.NewLoggerWith("kitehist", cfg.Log)
	defer logger.Sync()
	m := newMetrics(prometheus.DefaultRegisterer)
	if cfg.Metrics.Port > 0 {
		ms := shared.NewMetricsServer(cfg.Metrics.Port, prometheus.DefaultGatherer)
		ms.Start(logger)
		defer ms.Shutdown(context.Background())
	}

	ctx, stopSig := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stopSig()

	instruments, err := source.LoadInstruments(cfg.Kite.TokensCSV)
	if err != nil {
		logger.Fatalf("load tokens: %v", err)
	}
	accessToken := cfg.Kite.AccessToken
	if accessToken == "" {
		if accessToken, err = source.LoadAccessToken(cfg.Kite.TokenJSON); err != nil {
			logger.Fatalf("load access token: %v", err)
		}
	}
	if cfg.Kite.APIKey == "" {
		logger.Fatalf("KITE_API_KEY required")
	}
	from, to, err := historyRange(cfg.Kite, time.Now())
	if err != nil {
		logger.Fatalf("%v", err)
	}

	var producer shared.Producer
	if cfg.Output == "kafka" {
		kp, err := shared.NewProducer(cfg.Kafka)
		if err != nil {
			logger.Fatalf("producer init: %v", err)
		}
		defer kp.Close()
		producer = kp
	}

	hist := source.NewKiteHistory(source.NewKiteClient(cfg.Kite.APIKey, accessToken), cfg.Kite, logger)
	logger.Printf("downloading minute history instruments=%d from=%s to=%s output=%s",
		len(instruments), from.Format("2006-01-02"), to.Format("2006-01-02"), cfg.Output)

	failed := 0
	for _, in := range hist.Load(ctx, instruments, from, to) {
		if in.Err == nil {
			switch cfg.Output {
			case "kafka":
				in.Err = publish(ctx, producer, cfg.Kafka.RawTopic, in)
			default:
				in.Err = writeCSV(cfg.Files.InputDir, in)
			}
		}
		if in.Err != nil {
			failed++
			m.fetches.WithLabelValues("failed").Inc()
			logger.Warnf("[kitehist] symbol=%s: %v", in.Instrument, in.Err)
			continue
		}
		m.fetches.WithLabelValues("ok").Inc()
		m.rows.WithLabelValues(in.Instrument).Add(float64(len(in.Rows)))
	}
	logger.Printf("history download done instruments=%d failed=%d", len(instruments), failed)
	if failed == len(instruments) && failed > 0 {
		_ = logger.Sync()
		os.Exit(1)
	}
}
