// Package sink persists resampled series to files, Postgres or Kafka.
package sink

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"ohlcv-pipeline/go/pkg/ohlcv"
	"ohlcv-pipeline/go/pkg/pipeline"
)

const (
	LayoutFlat   = "flat"
	LayoutNested = "nested"
)

// FileSink writes each (instrument, timeframe) series to one file per
// configured format. Files are written to a temp name and renamed so a
// reader never sees a partial file.
type FileSink struct {
	dir      string
	layout   string
	encoders []Encoder
}

var _ pipeline.Sink = (*FileSink)(nil)

func NewFileSink(dir, layout string, formats []string) (*FileSink, error) {
	if dir == "" {
		return nil, errors.New("sink: output dir required")
	}
	if layout == "" {
		layout = LayoutFlat
	}
	if layout != LayoutFlat && layout != LayoutNested {
		return nil, fmt.Errorf("sink: unknown layout %q", layout)
	}
	if len(formats) == 0 {
		formats = []string{"csv"}
	}
	fs := &FileSink{dir: dir, layout: layout}
	seen := map[string]bool{}
	for _, f := range formats {
		enc, err := NewEncoder(f)
		if err != nil {
			return nil, err
		}
		if seen[enc.Extension()] {
			continue
		}
		seen[enc.Extension()] = true
		fs.encoders = append(fs.encoders, enc)
	}
	return fs, nil
}

// Path is where the series for instrument and timeframe lands in format ext.
// Flat layout: <dir>/<instrument>_<timeframe>.<ext>. Nested layout:
// <dir>/<timeframe>/<instrument>.<ext>.
func (f *FileSink) Path(instrument, timeframe, ext string) string {
	inst := safeName(instrument)
	if f.layout == LayoutNested {
		return filepath.Join(f.dir, safeName(timeframe), inst+"."+ext)
	}
	return filepath.Join(f.dir, inst+"_"+safeName(timeframe)+"."+ext)
}

func (f *FileSink) Write(ctx context.Context, instrument, timeframe string, s ohlcv.Series) error {
	for _, enc := range f.encoders {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := writeAtomic(f.Path(instrument, timeframe, enc.Extension()), func(w *bufio.Writer) error {
			return enc.Encode(w, s)
		}); err != nil {
			return fmt.Errorf("write %s %s %s: %w", instrument, timeframe, enc.Extension(), err)
		}
	}
	return nil
}

func writeAtomic(path string, fill func(*bufio.Writer) error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	if err := fill(w); err != nil {
		tmp.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func safeName(s string) string {
	return strings.NewReplacer("/", "-", `\`, "-", "..", "_").Replace(strings.TrimSpace(s))
}
