// Package catalog indexes a flat output directory of <scrip>_<timeframe>.csv
// files. An Index is immutable once built; callers rebuild and swap.
package catalog

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
)

const ext = ".csv"

// Index lists the timeframes and scrips present in one directory.
type Index struct {
	dir        string
	timeframes map[string]struct{}
	scrips     map[string]struct{}
	files      map[string]struct{}
}

// SplitName splits "<scrip>_<timeframe>" on the last underscore, so scrips
// may themselves contain underscores.
func SplitName(base string) (scrip, timeframe string, ok bool) {
	i := strings.LastIndex(base, "_")
	if i <= 0 || i == len(base)-1 {
		return "", "", false
	}
	return base[:i], base[i+1:], true
}

// Build scans dir. Files whose names do not split are ignored.
func Build(dir string) (*Index, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("catalog %s: %w", dir, err)
	}
	idx := &Index{
		dir:        dir,
		timeframes: map[string]struct{}{},
		scrips:     map[string]struct{}{},
		files:      map[string]struct{}{},
	}
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ext) {
			continue
		}
		base := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		scrip, tf, ok := SplitName(base)
		if !ok {
			continue
		}
		idx.timeframes[tf] = struct{}{}
		idx.scrips[scrip] = struct{}{}
		idx.files[base] = struct{}{}
	}
	return idx, nil
}

func (x *Index) Dir() string { return x.dir }

func (x *Index) HasTimeframe(tf string) bool {
	_, ok := x.timeframes[tf]
	return ok
}

func (x *Index) HasScrip(scrip string) bool {
	_, ok := x.scrips[scrip]
	return ok
}

// Has reports whether a file for scrip and tf was present at build time.
func (x *Index) Has(scrip, tf string) bool {
	_, ok := x.files[scrip+"_"+tf]
	return ok
}

func (x *Index) Scrips() []string     { return sortedKeys(x.scrips) }
func (x *Index) Timeframes() []string { return sortedKeys(x.timeframes) }

// Path is the file holding scrip at tf.
func (x *Index) Path(scrip, tf string) string {
	return filepath.Join(x.dir, scrip+"_"+tf+ext)
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// FailedFile is one file Restructure could not copy.
type FailedFile struct {
	Path string
	Err  error
}

// Restructure copies a nested tree src/<timeframe>/<scrip>.csv into the
// flat layout dst/<scrip>_<timeframe>.csv. It keeps going past per-file
// errors and returns them with the number of files copied.
func Restructure(src, dst string) (int, []FailedFile, error) {
	tfDirs, err := os.ReadDir(src)
	if err != nil {
		return 0, nil, err
	}
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return 0, nil, err
	}
	var failed []FailedFile
	copied := 0
	for _, d := range tfDirs {
		if !d.IsDir() {
			continue
		}
		tf := d.Name()
		files, err := os.ReadDir(filepath.Join(src, tf))
		if err != nil {
			failed = append(failed, FailedFile{Path: filepath.Join(src, tf), Err: err})
			continue
		}
		for _, f := range files {
			if f.IsDir() || !strings.EqualFold(filepath.Ext(f.Name()), ext) {
				continue
			}
			scrip := strings.TrimSuffix(f.Name(), filepath.Ext(f.Name()))
			from := filepath.Join(src, tf, f.Name())
			to := filepath.Join(dst, scrip+"_"+tf+ext)
			if err := copyFile(from, to); err != nil {
				failed = append(failed, FailedFile{Path: from, Err: err})
				continue
			}
			copied++
		}
	}
	slices.SortFunc(failed, func(a, b FailedFile) int { return strings.Compare(a.Path, b.Path) })
	return copied, failed, nil
}

func copyFile(from, to string) error {
	in, err := os.Open(from)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(to)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
