package shared

import (
	"context"
	"errors"
	"strings"
	"time"

	kafka "github.com/segmentio/kafka-go"
)

// Message is one fetched broker message. Topic, Partition and Offset are
// what Commit needs to acknowledge it.
type Message struct {
	Topic     string
	Partition int
	Offset    int64
	Key       []byte
	Value     []byte
	Time      time.Time
}

// Record is one keyed payload for ProduceBatch. A zero Time is stamped
// with the send time.
type Record struct {
	Key   []byte
	Value []byte
	Time  time.Time
}

type Producer interface {
	ProduceBatch(ctx context.Context, topic string, records []Record) error
	Close()
}

type Consumer interface {
	Poll(ctx context.Context) (*Message, error)
	Commit(msg *Message) error
	Close()
}

// KafkaProducer writes every topic through a single kafka-go writer; the
// topic travels on each message.
type KafkaProducer struct {
	w *kafka.Writer
}

func NewProducer(cfg KafkaConfig) (*KafkaProducer, error) {
	brokers := cfg.BrokerList()
	if len(brokers) == 0 {
		return nil, errors.New("no kafka brokers configured")
	}
	return &KafkaProducer{w: &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           requiredAcks(cfg.ProducerAcks),
		BatchTimeout:           time.Duration(max(cfg.LingerMS, 0)) * time.Millisecond,
		BatchBytes:             int64(max(cfg.BatchBytes, 1)),
		AllowAutoTopicCreation: true, // bars.<tf> topics appear on first write
	}}, nil
}

func (k *KafkaProducer) ProduceBatch(ctx context.Context, topic string, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	return k.w.WriteMessages(ctx, toKafka(topic, records, time.Now().UTC())...)
}

func (k *KafkaProducer) Close() { _ = k.w.Close() }

func toKafka(topic string, records []Record, now time.Time) []kafka.Message {
	msgs := make([]kafka.Message, len(records))
	for i, rec := range records {
		ts := rec.Time
		if ts.IsZero() {
			ts = now
		}
		msgs[i] = kafka.Message{Topic: topic, Key: rec.Key, Value: rec.Value, Time: ts}
	}
	return msgs
}

// KafkaConsumer reads one topic as a member of cfg.GroupID and commits
// explicitly.
type KafkaConsumer struct {
	r *kafka.Reader
}

func NewConsumer(cfg KafkaConfig, topic string) (*KafkaConsumer, error) {
	if topic == "" {
		return nil, errors.New("consumer topic required")
	}
	return &KafkaConsumer{r: kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.BrokerList(),
		GroupID:     cfg.GroupID,
		Topic:       topic,
		StartOffset: kafka.FirstOffset,
		MinBytes:    1,
		MaxBytes:    10e6,
	})}, nil
}

func (k *KafkaConsumer) Poll(ctx context.Context) (*Message, error) {
	m, err := k.r.FetchMessage(ctx)
	if err != nil {
		return nil, err
	}
	return &Message{Topic: m.Topic, Partition: m.Partition, Offset: m.Offset, Key: m.Key, Value: m.Value, Time: m.Time}, nil
}

func (k *KafkaConsumer) Commit(msg *Message) error {
	if msg == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return k.r.CommitMessages(ctx, kafka.Message{Topic: msg.Topic, Partition: msg.Partition, Offset: msg.Offset})
}

func (k *KafkaConsumer) Close() { _ = k.r.Close() }

var acks = map[string]kafka.RequiredAcks{
	"all": kafka.RequireAll, "-1": kafka.RequireAll,
	"none": kafka.RequireNone, "0": kafka.RequireNone,
}

func requiredAcks(raw string) kafka.RequiredAcks {
	if a, ok := acks[strings.ToLower(strings.TrimSpace(raw))]; ok {
		return a
	}
	return kafka.RequireOne
}

// Drain polls c until no message arrives for idle, handing each message to
// fn and committing it once fn returns nil. It returns the number of
// messages handled. Reaching the idle gap is the normal way out; a
// cancelled parent context is returned as an error.
func Drain(ctx context.Context, c Consumer, idle time.Duration, fn func(*Message) error) (int, error) {
	if idle <= 0 {
		idle = 5 * time.Second
	}
	for n := 0; ; n++ {
		pollCtx, cancel := context.WithTimeout(ctx, idle)
		msg, err := c.Poll(pollCtx)
		cancel()
		switch {
		case err == nil:
		case ctx.Err() != nil:
			return n, ctx.Err()
		case errors.Is(err, context.DeadlineExceeded):
			return n, nil
		default:
			return n, err
		}
		if err := fn(msg); err != nil {
			return n, err
		}
		if err := c.Commit(msg); err != nil {
			return n + 1, err
		}
	}
}
