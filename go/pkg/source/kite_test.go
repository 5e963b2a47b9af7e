package source

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"ohlcv-pipeline/go/pkg/ohlcv"
	"ohlcv-pipeline/go/pkg/shared"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	kiteconnect "github.com/zerodha/gokiteconnect/v4"
	"github.com/zerodha/gokiteconnect/v4/models"
)

type histCall struct {
	token    int
	from, to time.Time
}

type fakeHistory struct {
	calls []histCall
	fail  map[int]error
}

func (f *fakeHistory) GetHistoricalData(token int, interval string, from, to time.Time, continuous, oi bool) ([]kiteconnect.HistoricalData, error) {
	f.calls = append(f.calls, histCall{token, from, to})
	if err := f.fail[token]; err != nil {
		return nil, err
	}
	ist := time.FixedZone("IST", 5*3600+1800)
	return []kiteconnect.HistoricalData{{
		Date:   models.Time{Time: time.Date(from.Year(), from.Month(), from.Day(), 9, 15, 0, 0, ist)},
		Open:   100,
		High:   101.5,
		Low:    99,
		Close:  100.25,
		Volume: 1200,
		OI:     340,
	}}, nil
}

func TestChunkRange(t *testing.T) {
	from := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2025, 1, 10, 23, 59, 59, 0, time.UTC)

	spans := ChunkRange(from, to, 4)
	require.Len(t, spans, 3)
	assert.Equal(t, from, spans[0][0])
	assert.Equal(t, time.Date(2025, 1, 4, 23, 59, 59, 0, time.UTC), spans[0][1])
	assert.Equal(t, time.Date(2025, 1, 5, 0, 0, 0, 0, time.UTC), spans[1][0])
	assert.Equal(t, to, spans[2][1])

	assert.Empty(t, ChunkRange(to, from, 4))
}

func TestKiteHistory_Fetch(t *testing.T) {
	client := &fakeHistory{}
	k := NewKiteHistory(client, shared.KiteConfig{ChunkDays: 5, RPS: 1000}, nil)

	from := time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2025, 9, 10, 23, 59, 59, 0, time.UTC)
	rows, err := k.Fetch(context.Background(), Instrument{Token: 256265, Symbol: "NIFTY", ExpiryType: "I"}, from, to)
	require.NoError(t, err)
	require.Len(t, client.calls, 2)
	assert.Equal(t, 256265, client.calls[0].token)
	require.Len(t, rows, 2)

	bars, err := ohlcv.ParseRows(rows)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 9, 1, 9, 15, 0, 0, time.UTC), bars[0].Time)
	assert.Equal(t, 101.5, bars[0].High)
	assert.Equal(t, 1200.0, bars[0].Volume)
	assert.Equal(t, 340.0, bars[0].OpenInterest)
	assert.Equal(t, "NIFTY", bars[0].ScripCode)
	assert.Equal(t, "I", bars[0].ExpiryType)
}

func TestKiteHistory_LoadIsolatesFailures(t *testing.T) {
	client := &fakeHistory{fail: map[int]error{2: errors.New("Too many requests")}}
	k := NewKiteHistory(client, shared.KiteConfig{ChunkDays: 60, RPS: 1000}, nil)

	day := time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC)
	inputs := k.Load(context.Background(), []Instrument{{Token: 1, Symbol: "A"}, {Token: 2, Symbol: "B"}}, day, day.Add(24*time.Hour-time.Second))
	require.Len(t, inputs, 2)
	assert.NoError(t, inputs[0].Err)
	assert.Len(t, inputs[0].Rows, 1)
	assert.Equal(t, "B", inputs[1].Instrument)
	assert.ErrorContains(t, inputs[1].Err, "Too many requests")
}

func TestKiteHistory_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	k := NewKiteHistory(&fakeHistory{}, shared.KiteConfig{}, nil)
	day := time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC)
	_, err := k.Fetch(ctx, Instrument{Token: 1, Symbol: "A"}, day, day)
	assert.Error(t, err)
}

func TestLoadInstruments(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.csv")
	body := "instrument_token,tradingsymbol,expiry_type,expiry_date\n" +
		"256265,nifty,I,\n" +
		"abc,BAD,,\n" +
		",EMPTY,,\n" +
		"260105,BANKNIFTY25SEPFUT,M,2025-09-30\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	got, err := LoadInstruments(path)
	require.NoError(t, err)
	assert.Equal(t, []Instrument{
		{Token: 256265, Symbol: "NIFTY", ExpiryType: "I"},
		{Token: 260105, Symbol: "BANKNIFTY25SEPFUT", ExpiryType: "M", ExpiryDate: "2025-09-30"},
	}, got)

	bad := filepath.Join(t.TempDir(), "bad.csv")
	require.NoError(t, os.WriteFile(bad, []byte("token,symbol\n1,X\n"), 0o644))
	_, err = LoadInstruments(bad)
	assert.Error(t, err)
}

func TestLoadAccessToken(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "token.json")
	require.NoError(t, os.WriteFile(good, []byte(`{"access_token":"abc123","user_id":"XY"}`), 0o600))
	tok, err := LoadAccessToken(good)
	require.NoError(t, err)
	assert.Equal(t, "abc123", tok)

	missing := filepath.Join(dir, "empty.json")
	require.NoError(t, os.WriteFile(missing, []byte(`{}`), 0o600))
	_, err = LoadAccessToken(missing)
	assert.Error(t, err)

	_, err = LoadAccessToken("")
	assert.Error(t, err)
}
