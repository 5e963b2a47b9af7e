package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Report is the JSON summary written after each batch.
type Report struct {
	RunID     string    `json:"run_id"`
	Started   time.Time `json:"started"`
	Finished  time.Time `json:"finished"`
	Succeeded []string  `json:"succeeded"`
	Outputs   int       `json:"outputs"`
	Failed    []Failure `json:"failed"`
}

func (r Result) Report() Report {
	failed := r.Failures
	if failed == nil {
		failed = []Failure{}
	}
	return Report{
		RunID:     r.RunID,
		Started:   r.Started,
		Finished:  r.Finished,
		Succeeded: r.Succeeded(),
		Outputs:   len(r.Outputs),
		Failed:    failed,
	}
}

// WriteReport writes the batch summary to path as indented JSON.
func WriteReport(path string, r Result) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	data, err := json.MarshalIndent(r.Report(), "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// FailureSummary joins the first few ledger entries into one log line.
func FailureSummary(failures []Failure) string {
	if len(failures) == 0 {
		return ""
	}
	var b strings.Builder
	for i, f := range failures {
		if i > 0 {
			b.WriteString("; ")
		}
		fmt.Fprintf(&b, "%s[%s]: %s", f.Instrument, f.Stage, f.Reason)
		if i >= 4 && len(failures) > 6 {
			fmt.Fprintf(&b, " (+%d more)", len(failures)-5)
			break
		}
	}
	return b.String()
}
