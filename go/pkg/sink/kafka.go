package sink

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"ohlcv-pipeline/go/pkg/ohlcv"
	"ohlcv-pipeline/go/pkg/pipeline"
	"ohlcv-pipeline/go/pkg/shared"
)

// KafkaSink publishes every bar as a BarMessage on <prefix><timeframe>,
// keyed by instrument so one instrument stays on one partition.
type KafkaSink struct {
	producer shared.Producer
	prefix   string
}

var _ pipeline.Sink = (*KafkaSink)(nil)

func NewKafkaSink(p shared.Producer, topicPrefix string) *KafkaSink {
	return &KafkaSink{producer: p, prefix: topicPrefix}
}

func (k *KafkaSink) Topic(timeframe string) string { return k.prefix + timeframe }

func (k *KafkaSink) Write(ctx context.Context, instrument, timeframe string, s ohlcv.Series) error {
	if len(s) == 0 {
		return nil
	}
	now := time.Now().UTC()
	records := make([]shared.Record, 0, len(s))
	for _, bar := range s {
		raw, err := json.Marshal(shared.NewBarMessage(instrument, timeframe, bar))
		if err != nil {
			return err
		}
		records = append(records, shared.Record{Key: []byte(instrument), Value: raw, Time: now})
	}
	return k.producer.ProduceBatch(ctx, k.Topic(timeframe), records)
}

// Multi fans one write out to several sinks. Every sink is attempted and
// the errors are joined.
type Multi []pipeline.Sink

func (m Multi) Write(ctx context.Context, instrument, timeframe string, s ohlcv.Series) error {
	var errs []error
	for _, sk := range m {
		if err := sk.Write(ctx, instrument, timeframe, s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
