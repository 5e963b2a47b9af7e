package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ohlcv-pipeline/go/pkg/pipeline"
	"ohlcv-pipeline/go/pkg/shared"
	"ohlcv-pipeline/go/pkg/sink"
	"ohlcv-pipeline/go/pkg/source"

	"github.com/prometheus/client_golang/prometheus"
)

type Config struct {
	Kafka    shared.KafkaConfig
	PG       shared.PostgresConfig
	Batch    shared.BatchConfig
	Metrics  shared.MetricsConfig
	Log      shared.LogConfig
	Session  shared.SessionConfig
	Pipeline shared.PipelineConfig
	Files    shared.FileConfig
	Source   string `envconfig:"INPUT_SOURCE" default:"csv" validate:"oneof=csv kafka"`
	Sinks    string `envconfig:"OUTPUT_SINKS" default:"file"`
}

type closer func()

// buildSinks assembles the configured outputs. The returned closer releases
// any pools or producers opened here.
func buildSinks(ctx context.Context, cfg Config) (pipeline.Sink, closer, error) {
	var (
		out     sink.Multi
		closers []func()
	)
	release := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	for _, name := range shared.SplitList(cfg.Sinks) {
		switch name {
		case "file":
			fs, err := sink.NewFileSink(cfg.Files.OutputDir, cfg.Files.Layout, cfg.Files.FormatList())
			if err != nil {
				release()
				return nil, nil, err
			}
			out = append(out, fs)
		case "postgres":
			db, err := shared.NewPgxPool(ctx, cfg.PG)
			if err != nil {
				release()
				return nil, nil, fmt.Errorf("db init: %w", err)
			}
			closers = append(closers, db.Close)
			out = append(out, sink.NewPostgresSink(db, cfg.Batch))
		case "kafka":
			p, err := shared.NewProducer(cfg.Kafka)
			if err != nil {
				release()
				return nil, nil, fmt.Errorf("producer init: %w", err)
			}
			closers = append(closers, p.Close)
			out = append(out, sink.NewKafkaSink(p, cfg.Kafka.TopicPrefix))
		default:
			release()
			return nil, nil, fmt.Errorf("unknown sink %q (use: file, postgres, kafka)", name)
		}
	}
	if len(out) == 0 {
		return nil, nil, fmt.Errorf("no sinks configured")
	}
	if len(out) == 1 {
		return out[0], release, nil
	}
	return out, release, nil
}

func loadInputs(ctx context.Context, cfg Config, log shared.Logger) ([]pipeline.Input, error) {
	switch cfg.Source {
	case "kafka":
		consumer, err := shared.NewConsumer(cfg.Kafka, cfg.Kafka.RawTopic)
		if err != nil {
			return nil, fmt.Errorf("consumer init: %w", err)
		}
		defer consumer.Close()
		return source.NewKafkaSource(consumer, cfg.Kafka.IdleTimeout, log).Load(ctx)
	default:
		return source.NewCSVReader(cfg.Files.ExtraColumns()...).LoadDir(cfg.Files.InputDir)
	}
}

func run(ctx context.Context, cfg Config, log shared.Logger, reg prometheus.Registerer) (pipeline.Result, error) {
	session, err := cfg.Session.Session()
	if err != nil {
		return pipeline.Result{}, err
	}
	tfs, err := cfg.Pipeline.TimeframeSpecs()
	if err != nil {
		return pipeline.Result{}, err
	}
	out, release, err := buildSinks(ctx, cfg)
	if err != nil {
		return pipeline.Result{}, err
	}
	defer release()

	p, err := pipeline.New(pipeline.Options{
		Session:    session,
		Timeframes: tfs,
		Workers:    cfg.Pipeline.Workers,
		Timeout:    cfg.Pipeline.Timeout,
		BaseLabel:  cfg.Pipeline.BaseLabel,
		EmitBase:   cfg.Pipeline.EmitBase,
		Sink:       out,
		Logger:     log,
		Registerer: reg,
	})
	if err != nil {
		return pipeline.Result{}, err
	}

	inputs, err := loadInputs(ctx, cfg, log)
	if err != nil {
		return pipeline.Result{}, fmt.Errorf("load inputs: %w", err)
	}
	log.Printf("running bar pipeline source=%s sinks=%s instruments=%d timeframes=%d workers=%d bars_per_day=%d",
		cfg.Source, cfg.Sinks, len(inputs), len(tfs), cfg.Pipeline.Workers, session.BarsPerDay())

	res := p.Run(ctx, inputs)
	if cfg.Pipeline.ReportPath != "" {
		if err := pipeline.WriteReport(cfg.Pipeline.ReportPath, res); err != nil {
			log.Warnf("[pipeline] write report %s: %v", cfg.Pipeline.ReportPath, err)
		}
	}
	return res, nil
}

func main() {
	cfg, err := shared.Load[Config]("")
	if err != nil {
		shared.NewLogger("barpipe").Fatalf("config: %v", err)
	}
	logger := shared.NewLoggerWith("barpipe", cfg.Log)
	defer logger.Sync()

	var ms *shared.MetricsServer
	if cfg.Metrics.Port > 0 {
		ms = shared.NewMetricsServer(cfg.Metrics.Port, prometheus.DefaultGatherer)
		ms.Start(logger)
	}

	ctx, stopSig := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stopSig()

	res, err := run(ctx, cfg, logger, prometheus.DefaultRegisterer)
	if ms != nil {
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = ms.Shutdown(shutCtx)
		cancel()
	}
	if err != nil {
		logger.Fatalf("bar pipeline: %v", err)
	}

	succeeded := res.Succeeded()
	logger.Printf("bar pipeline done run=%s ok=%d failed=%d outputs=%d took=%s",
		res.RunID, len(succeeded), len(res.Failures), len(res.Outputs), res.Finished.Sub(res.Started).Round(time.Millisecond))
	if len(res.Failures) > 0 {
		logger.Warnf("failed instruments: %s", pipeline.FailureSummary(res.Failures))
		if len(succeeded) == 0 {
			_ = logger.Sync()
			os.Exit(1)
		}
	}
}
