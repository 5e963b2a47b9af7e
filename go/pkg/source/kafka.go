package source

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"ohlcv-pipeline/go/pkg/ohlcv"
	"ohlcv-pipeline/go/pkg/pipeline"
	"ohlcv-pipeline/go/pkg/shared"
)

// KafkaSource drains raw rows from a topic until it has been idle for the
// configured gap, then groups them per instrument in arrival order.
// Messages are committed as they are buffered.
type KafkaSource struct {
	consumer shared.Consumer
	idle     time.Duration
	log      shared.Logger
}

func NewKafkaSource(c shared.Consumer, idle time.Duration, log shared.Logger) *KafkaSource {
	if log == nil {
		log = shared.NopLogger()
	}
	return &KafkaSource{consumer: c, idle: idle, log: log}
}

func (k *KafkaSource) Load(ctx context.Context) ([]pipeline.Input, error) {
	byInst := map[string]*pipeline.Input{}
	var order []string
	get := func(sym string) *pipeline.Input {
		in, ok := byInst[sym]
		if !ok {
			in = &pipeline.Input{Instrument: sym}
			byInst[sym] = in
			order = append(order, sym)
		}
		return in
	}

	skipped := 0
	n, err := shared.Drain(ctx, k.consumer, k.idle, func(msg *shared.Message) error {
		var raw shared.RawMessage
		decodeErr := json.Unmarshal(msg.Value, &raw)
		sym := raw.Symbol
		if sym == "" {
			sym = string(msg.Key)
		}
		if sym == "" {
			skipped++
			return nil
		}
		in := get(sym)
		if decodeErr != nil {
			if in.Err == nil {
				in.Err = &ohlcv.MalformedInputError{
					Row:   len(in.Rows) + 1,
					Field: "message",
					Value: fmt.Sprintf("%s/%d@%d", msg.Topic, msg.Partition, msg.Offset),
					Err:   decodeErr,
				}
			}
			return nil
		}
		in.Rows = append(in.Rows, ohlcv.RawRow{Line: len(in.Rows) + 1, Values: raw.Values})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("drain raw topic after %d messages: %w", n, err)
	}
	if skipped > 0 {
		k.log.Warnf("[source] skipped %d raw messages without a symbol", skipped)
	}
	k.log.Printf("[source] drained messages=%d instruments=%d", n, len(order))

	out := make([]pipeline.Input, 0, len(order))
	for _, sym := range order {
		out = append(out, *byInst[sym])
	}
	return out, nil
}

// EncodeRawRows turns rows into producer records keyed by symbol, the
// inverse of KafkaSource.Load.
func EncodeRawRows(symbol string, rows []ohlcv.RawRow) ([]shared.Record, error) {
	out := make([]shared.Record, 0, len(rows))
	for _, r := range rows {
		b, err := json.Marshal(shared.RawMessage{Symbol: symbol, Values: r.Values})
		if err != nil {
			return nil, err
		}
		out = append(out, shared.Record{Key: []byte(symbol), Value: b})
	}
	return out, nil
}
