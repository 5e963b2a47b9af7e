package source

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"ohlcv-pipeline/go/pkg/ohlcv"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/unicode"
)

const header = "DateTime,Open,High,Low,Close,Volume,Open_Interest,Scrip_Code\n"

func TestCSVReader_Read(t *testing.T) {
	body := header +
		"2025-09-01 09:15:00,100,101,99,100.5,10,5,NIFTY\n" +
		"\n" +
		"2025-09-01 09:16:00,100.5,102,100,101,12,6,NIFTY\n"

	rows, err := NewCSVReader().Read(strings.NewReader(body))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "2025-09-01 09:15:00", rows[0].Values[ohlcv.ColDatetime])
	assert.Equal(t, "NIFTY", rows[1].Values[ohlcv.ColScripCode])
	assert.Equal(t, 2, rows[0].Line)
	assert.Equal(t, 4, rows[1].Line)
}

func TestCSVReader_LineNumbersSurviveBlankAndQuotedLines(t *testing.T) {
	body := header +
		"2025-09-01 09:15:00,100,101,99,100.5,10,5,NIFTY\n" +
		"\n" +
		"\n" +
		"2025-09-01 09:16:00,100,101,99,100.5,10,5,\"NIFTY\nWEEKLY\"\n" +
		"2025-09-01 09:17:00,oops,101,99,100.5,10,5,NIFTY\n"

	rows, err := NewCSVReader().Read(strings.NewReader(body))
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []int{2, 5, 7}, []int{rows[0].Line, rows[1].Line, rows[2].Line})

	_, err = ohlcv.ParseRows(rows)
	var me *ohlcv.MalformedInputError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, 7, me.Row)
	assert.Equal(t, ohlcv.ColOpen, me.Field)
}

func TestCSVReader_Encodings(t *testing.T) {
	body := header + "2025-09-01 09:15:00,1,1,1,1,1,1,X\n"

	utf16, err := unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewEncoder().String(body)
	require.NoError(t, err)

	tests := []struct {
		name string
		in   []byte
	}{
		{"utf8", []byte(body)},
		{"utf8 bom", append([]byte{0xEF, 0xBB, 0xBF}, body...)},
		{"utf16le bom", []byte(utf16)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows, err := NewCSVReader().Read(bytes.NewReader(tt.in))
			require.NoError(t, err)
			require.Len(t, rows, 1)
			assert.Equal(t, "1", rows[0].Values[ohlcv.ColOpen])
		})
	}
}

func TestCSVReader_MissingColumns(t *testing.T) {
	_, err := NewCSVReader().Read(strings.NewReader("datetime,open,high,low,close\n"))
	require.Error(t, err)
	assert.True(t, ohlcv.IsMalformed(err))

	var mc *MissingColumnsError
	require.True(t, errors.As(err, &mc))
	assert.Equal(t, []string{ohlcv.ColVolume, ohlcv.ColOpenInterest}, mc.Missing)

	_, err = NewCSVReader("Expiry_Type").Read(strings.NewReader(header))
	require.True(t, errors.As(err, &mc))
	assert.Equal(t, []string{ohlcv.ColExpiryType}, mc.Missing)
}

func TestCSVReader_EmptyFile(t *testing.T) {
	rows, err := NewCSVReader().Read(strings.NewReader(""))
	assert.NoError(t, err)
	assert.Empty(t, rows)
}

func TestCSVReader_LoadDir(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}
	write("BANKNIFTY.csv", header+"2025-09-01 09:15:00,1,1,1,1,1,1,BANKNIFTY\n")
	write("NIFTY.csv", header+"2025-09-01 09:15:00,1,1,1,1,1,1,NIFTY\n")
	write("BROKEN.csv", "datetime,open\n")
	write("notes.txt", "ignored")

	inputs, err := NewCSVReader().LoadDir(dir)
	require.NoError(t, err)
	require.Len(t, inputs, 3)

	assert.Equal(t, "BANKNIFTY", inputs[0].Instrument)
	assert.Len(t, inputs[0].Rows, 1)
	assert.Equal(t, "BROKEN", inputs[1].Instrument)
	assert.Error(t, inputs[1].Err)
	assert.Contains(t, inputs[1].Err.Error(), "BROKEN.csv")
	assert.Equal(t, "NIFTY", inputs[2].Instrument)
	assert.NoError(t, inputs[2].Err)
}
