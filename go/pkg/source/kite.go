package source

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"ohlcv-pipeline/go/pkg/ohlcv"
	"ohlcv-pipeline/go/pkg/pipeline"
	"ohlcv-pipeline/go/pkg/shared"

	kiteconnect "github.com/zerodha/gokiteconnect/v4"
	"golang.org/x/time/rate"
)

// HistoryClient is the part of the Kite REST client used here.
type HistoryClient interface {
	GetHistoricalData(instrumentToken int, interval string, fromDate time.Time, toDate time.Time, continuous bool, OI bool) ([]kiteconnect.HistoricalData, error)
}

// Instrument is one row of the tokens CSV.
type Instrument struct {
	Token      uint32
	Symbol     string
	ExpiryType string
	ExpiryDate string
}

// NewKiteClient builds an authenticated REST client.
func NewKiteClient(apiKey, accessToken string) *kiteconnect.Client {
	kc := kiteconnect.New(apiKey)
	kc.SetAccessToken(accessToken)
	return kc
}

// KiteHistory fetches minute candles with open interest.
type KiteHistory struct {
	client     HistoryClient
	chunkDays  int
	continuous bool
	limiter    *rate.Limiter
	log        shared.Logger
}

func NewKiteHistory(client HistoryClient, cfg shared.KiteConfig, log shared.Logger) *KiteHistory {
	if log == nil {
		log = shared.NopLogger()
	}
	rps := cfg.RPS
	if rps <= 0 {
		rps = 3
	}
	return &KiteHistory{
		client:     client,
		chunkDays:  max(cfg.ChunkDays, 1),
		continuous: cfg.Continuous,
		limiter:    rate.NewLimiter(rate.Limit(rps), 1),
		log:        log,
	}
}

// Fetch returns one instrument's candles in [from, to] as raw rows.
// Kite caps minute history per call, so the range is requested in chunks.
func (k *KiteHistory) Fetch(ctx context.Context, inst Instrument, from, to time.Time) ([]ohlcv.RawRow, error) {
	var rows []ohlcv.RawRow
	for _, span := range ChunkRange(from, to, k.chunkDays) {
		if err := k.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		candles, err := k.client.GetHistoricalData(int(inst.Token), "minute", span[0], span[1], k.continuous, true)
		if err != nil {
			return nil, fmt.Errorf("kite history %s %s..%s: %w", inst.Symbol,
				span[0].Format("2006-01-02"), span[1].Format("2006-01-02"), err)
		}
		for _, c := range candles {
			bar := ohlcv.Bar{
				Time:         ohlcv.Naive(c.Date.Time),
				Open:         c.Open,
				High:         c.High,
				Low:          c.Low,
				Close:        c.Close,
				Volume:       float64(c.Volume),
				OpenInterest: float64(c.OI),
				ScripCode:    inst.Symbol,
				ExpiryType:   inst.ExpiryType,
				ExpiryDate:   inst.ExpiryDate,
			}
			rows = append(rows, ohlcv.RawRow{Line: len(rows) + 1, Values: bar.Values()})
		}
	}
	return rows, nil
}

// Load fetches every instrument. Per-instrument errors are carried on the
// Input; a cancelled context stops the remaining fetches.
func (k *KiteHistory) Load(ctx context.Context, instruments []Instrument, from, to time.Time) []pipeline.Input {
	out := make([]pipeline.Input, 0, len(instruments))
	for _, inst := range instruments {
		rows, err := k.Fetch(ctx, inst, from, to)
		if err != nil {
			k.log.Warnf("[kite] symbol=%s fetch failed: %v", inst.Symbol, err)
		}
		out = append(out, pipeline.Input{Instrument: inst.Symbol, Rows: rows, Err: err})
	}
	return out
}

// ChunkRange splits [from, to] into consecutive spans of at most days.
func ChunkRange(from, to time.Time, days int) [][2]time.Time {
	if days <= 0 {
		days = 60
	}
	out := [][2]time.Time{}
	for cur := from; !cur.After(to); {
		end := cur.AddDate(0, 0, days).Add(-time.Second)
		if end.After(to) {
			end = to
		}
		out = append(out, [2]time.Time{cur, end})
		cur = end.Add(time.Second)
	}
	return out
}

// LoadInstruments reads instrument_token and tradingsymbol columns, plus
// optional expiry_type and expiry_date.
func LoadInstruments(path string) ([]Instrument, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	r := csv.NewReader(f)
	rows, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, errors.New("tokens csv empty")
	}
	colTok, colSym, colExpT, colExpD := -1, -1, -1, -1
	for i, h := range rows[0] {
		switch strings.ToLower(strings.TrimSpace(h)) {
		case "instrument_token":
			colTok = i
		case "tradingsymbol":
			colSym = i
		case ohlcv.ColExpiryType:
			colExpT = i
		case ohlcv.ColExpiryDate, "expiry":
			colExpD = i
		}
	}
	if colTok == -1 || colSym == -1 {
		return nil, errors.New("instrument_token/tradingsymbol columns required")
	}
	cell := func(row []string, i int) string {
		if i < 0 || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}
	out := make([]Instrument, 0, len(rows)-1)
	for _, row := range rows[1:] {
		tokStr := cell(row, colTok)
		sym := strings.ToUpper(cell(row, colSym))
		if tokStr == "" || sym == "" {
			continue
		}
		tok64, err := strconv.ParseUint(tokStr, 10, 32)
		if err != nil {
			continue
		}
		out = append(out, Instrument{
			Token:      uint32(tok64),
			Symbol:     sym,
			ExpiryType: cell(row, colExpT),
			ExpiryDate: cell(row, colExpD),
		})
	}
	return out, nil
}

// LoadAccessToken reads access_token from the JSON file written by the
// login flow.
func LoadAccessToken(path string) (string, error) {
	if path == "" {
		return "", errors.New("token path empty")
	}
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("read token file: %w", err)
	}
	var doc struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(b, &doc); err != nil {
		return "", fmt.Errorf("parse token file %s: %w", path, err)
	}
	if doc.AccessToken == "" {
		return "", errors.New("access_token missing in token file")
	}
	return doc.AccessToken, nil
}
