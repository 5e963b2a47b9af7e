package main

import (
	"os"

	"ohlcv-pipeline/go/pkg/catalog"
	"ohlcv-pipeline/go/pkg/shared"
)

type Config struct {
	Log    shared.LogConfig
	Source string `envconfig:"NESTED_DIR" default:"data" validate:"required"`
	Target string `envconfig:"FLAT_DIR" default:"flat_data" validate:"required"`
}

func main() {
	cfg, err := shared.Load[Config]("")
	if err != nil {
		shared.NewLogger("restructure").Fatalf("config: %v", err)
	}
	logger := shared.NewLoggerWith("restructure", cfg.Log)
	defer logger.Sync()

	copied, failed, err := catalog.Restructure(cfg.Source, cfg.Target)
	if err != nil {
		logger.Fatalf("restructure %s -> %s: %v", cfg.Source, cfg.Target, err)
	}
	logger.Printf("restructure done src=%s dst=%s copied=%d failed=%d", cfg.Source, cfg.Target, copied, len(failed))
	if len(failed) == 0 {
		return
	}
	for _, f := range failed {
		logger.Warnf("  failed: %s: %v", f.Path, f.Err)
	}
	_ = logger.Sync()
	os.Exit(1)
}
