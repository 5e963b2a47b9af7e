// Package source loads raw per-instrument rows for the pipeline from CSV
// files, a Kafka topic or the Kite historical API.
package source

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"ohlcv-pipeline/go/pkg/ohlcv"
	"ohlcv-pipeline/go/pkg/pipeline"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// MissingColumnsError reports a header without all required columns.
type MissingColumnsError struct {
	Missing []string
}

func (e *MissingColumnsError) Error() string {
	return "missing columns: " + strings.Join(e.Missing, ", ")
}

// CSVReader reads exchange dumps with a header row. Files may be UTF-8
// (with or without BOM) or UTF-16 with a BOM.
type CSVReader struct {
	required []string
}

// NewCSVReader requires the core OHLCV columns plus extra.
func NewCSVReader(extra ...string) *CSVReader {
	req := append([]string{}, ohlcv.RequiredColumns...)
	for _, c := range extra {
		c = strings.ToLower(strings.TrimSpace(c))
		if c != "" && !slices.Contains(req, c) {
			req = append(req, c)
		}
	}
	return &CSVReader{required: req}
}

func (c *CSVReader) ReadFile(path string) ([]ohlcv.RawRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return c.Read(f)
}

// Read decodes r into rows keyed by lower-cased header names. A header
// missing any required column fails with a MalformedInputError wrapping
// MissingColumnsError.
func (c *CSVReader) Read(r io.Reader) ([]ohlcv.RawRow, error) {
	dec := transform.NewReader(r, unicode.BOMOverride(unicode.UTF8.NewDecoder()))
	cr := csv.NewReader(dec)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	cols := make([]string, len(header))
	for i, h := range header {
		cols[i] = strings.ToLower(strings.TrimSpace(h))
	}
	var missing []string
	for _, want := range c.required {
		if !slices.Contains(cols, want) {
			missing = append(missing, want)
		}
	}
	if len(missing) > 0 {
		return nil, &ohlcv.MalformedInputError{Row: 1, Field: strings.Join(missing, ","), Err: &MissingColumnsError{Missing: missing}}
	}

	var rows []ohlcv.RawRow
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var pe *csv.ParseError
			row := 0
			if errors.As(err, &pe) {
				row = pe.StartLine
			}
			return nil, &ohlcv.MalformedInputError{Row: row, Field: "record", Err: err}
		}
		// csv skips blank lines and joins quoted newlines, so count from the reader
		line, _ := cr.FieldPos(0)
		if len(rec) == 1 && strings.TrimSpace(rec[0]) == "" {
			continue
		}
		vals := make(map[string]string, len(cols))
		for i, col := range cols {
			if i < len(rec) && col != "" {
				vals[col] = rec[i]
			}
		}
		rows = append(rows, ohlcv.RawRow{Line: line, Values: vals})
	}
	return rows, nil
}

// LoadDir reads every *.csv in dir. The instrument is the file name
// without extension. A file that fails to read becomes an Input with Err
// set so the batch can record it and continue.
func (c *CSVReader) LoadDir(dir string) ([]pipeline.Input, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.csv"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	inputs := make([]pipeline.Input, 0, len(paths))
	for _, p := range paths {
		name := strings.TrimSuffix(filepath.Base(p), filepath.Ext(p))
		rows, err := c.ReadFile(p)
		if err != nil {
			err = fmt.Errorf("%s: %w", filepath.Base(p), err)
		}
		inputs = append(inputs, pipeline.Input{Instrument: name, Rows: rows, Err: err})
	}
	return inputs, nil
}
