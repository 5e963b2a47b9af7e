package sink

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"ohlcv-pipeline/go/pkg/ohlcv"
	"ohlcv-pipeline/go/pkg/pipeline"
	"ohlcv-pipeline/go/pkg/shared"

	"github.com/jackc/pgx/v5"
)

// PostgresSink upserts bars into one table per timeframe, bars_<tf>.
// Re-running a batch overwrites rows for the same (symbol, ts).
type PostgresSink struct {
	db        shared.DB
	batchSize int
	timeout   time.Duration

	mu      sync.Mutex
	ensured map[string]bool
}

var _ pipeline.Sink = (*PostgresSink)(nil)

func NewPostgresSink(db shared.DB, cfg shared.BatchConfig) *PostgresSink {
	return &PostgresSink{
		db:        db,
		batchSize: max(cfg.BatchSize, 1),
		timeout:   cfg.WriteTimeout,
		ensured:   map[string]bool{},
	}
}

// TableName maps a timeframe label to its table, e.g. 5min -> bars_5min.
func TableName(timeframe string) string {
	var b strings.Builder
	b.WriteString("bars_")
	for _, r := range strings.ToLower(timeframe) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

const createTableSQL = `
CREATE TABLE IF NOT EXISTS %[1]s (
    symbol      text             NOT NULL,
    ts          timestamp        NOT NULL,
    o           double precision NOT NULL,
    h           double precision NOT NULL,
    l           double precision NOT NULL,
    c           double precision NOT NULL,
    vol         double precision NOT NULL,
    oi          double precision NOT NULL,
    expiry_type text,
    expiry_date text,
    PRIMARY KEY (symbol, ts)
);
`

const upsertSQL = `
INSERT INTO %[1]s(symbol, ts, o, h, l, c, vol, oi, expiry_type, expiry_date)
VALUES($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''), NULLIF($10, ''))
ON CONFLICT(symbol, ts) DO UPDATE
SET o = EXCLUDED.o,
    h = EXCLUDED.h,
    l = EXCLUDED.l,
    c = EXCLUDED.c,
    vol = EXCLUDED.vol,
    oi = EXCLUDED.oi,
    expiry_type = EXCLUDED.expiry_type,
    expiry_date = EXCLUDED.expiry_date;
`

// EnsureTable creates the table for timeframe once per sink.
func (p *PostgresSink) EnsureTable(ctx context.Context, timeframe string) error {
	table := TableName(timeframe)
	p.mu.Lock()
	done := p.ensured[table]
	p.mu.Unlock()
	if done {
		return nil
	}
	if err := p.db.Exec(ctx, fmt.Sprintf(createTableSQL, pgx.Identifier{table}.Sanitize())); err != nil {
		return fmt.Errorf("create %s: %w", table, err)
	}
	p.mu.Lock()
	p.ensured[table] = true
	p.mu.Unlock()
	return nil
}

func (p *PostgresSink) Write(ctx context.Context, instrument, timeframe string, s ohlcv.Series) error {
	if len(s) == 0 {
		return nil
	}
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	if err := p.EnsureTable(ctx, timeframe); err != nil {
		return err
	}
	stmt := fmt.Sprintf(upsertSQL, pgx.Identifier{TableName(timeframe)}.Sanitize())
	for start := 0; start < len(s); start += p.batchSize {
		end := min(start+p.batchSize, len(s))
		batch := &pgx.Batch{}
		for _, bar := range s[start:end] {
			batch.Queue(stmt,
				instrument,
				bar.Time,
				bar.Open,
				bar.High,
				bar.Low,
				bar.Close,
				bar.Volume,
				bar.OpenInterest,
				bar.ExpiryType,
				bar.ExpiryDate,
			)
		}
		if err := p.sendBatch(ctx, batch); err != nil {
			return fmt.Errorf("upsert %s %s rows %d-%d: %w", instrument, timeframe, start, end, err)
		}
	}
	return nil
}

func (p *PostgresSink) sendBatch(ctx context.Context, batch *pgx.Batch) error {
	br := p.db.SendBatch(ctx, batch)
	for range batch.Len() {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return err
		}
	}
	return br.Close()
}
