package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ohlcv-pipeline/go/pkg/api"
	"ohlcv-pipeline/go/pkg/catalog"
	"ohlcv-pipeline/go/pkg/shared"

	"github.com/prometheus/client_golang/prometheus"
)

type Config struct {
	API     shared.APIConfig
	Metrics shared.MetricsConfig
	Log     shared.LogConfig
}

func main() {
	cfg, err := shared.Load[Config]("")
	if err != nil {
		shared.NewLogger("ohlcapi").Fatalf("config: %v", err)
	}
	logger := shared.NewLoggerWith("ohlcapi", cfg.Log)
	defer logger.Sync()

	idx, err := catalog.Build(cfg.API.DataDir)
	if err != nil {
		logger.Fatalf("build index: %v", err)
	}
	srv := api.NewServer(idx, shared.SplitList(cfg.API.AllowedOrigins), logger, prometheus.DefaultRegisterer)

	var ms *shared.MetricsServer
	if cfg.Metrics.Port > 0 {
		ms = shared.NewMetricsServer(cfg.Metrics.Port, prometheus.DefaultGatherer)
		ms.Start(logger)
	}

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.API.Port),
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stopSig := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stopSig()

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-hup:
				if err := srv.Reload(); err != nil {
					logger.Warnf("[api] reload failed, keeping previous index: %v", err)
				}
			}
		}
	}()

	errc := make(chan error, 1)
	go func() {
		logger.Printf("serving ohlc api addr=%s data=%s timeframes=%v scrips=%d",
			httpSrv.Addr, cfg.API.DataDir, idx.Timeframes(), len(idx.Scrips()))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		if err != nil {
			logger.Fatalf("http server: %v", err)
		}
	case <-ctx.Done():
	}

	logger.Printf("ohlc api shutdown: draining connections")
	shutCtx, cancel := context.WithTimeout(context.Background(), cfg.API.ShutdownGrace)
	defer cancel()
	if err := httpSrv.Shutdown(shutCtx); err != nil {
		logger.Warnf("http shutdown: %v", err)
	}
	if ms != nil {
		_ = ms.Shutdown(shutCtx)
	}
}
