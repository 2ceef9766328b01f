// Package bench aggregates per-sample inference latency and renders the
// timing report.
package bench

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DefaultReportPath is where the one-line timing report is written.
const DefaultReportPath = "./time_Result/test_perform_static.txt"

var ErrNoSamplesProcessed = errors.New("no samples processed")

// ---------------------------------------------------------------------------
// Records and stats
// ---------------------------------------------------------------------------

// Record holds the timestamps taken around one prediction call.
type Record struct {
	Index int
	Input string
	Start time.Time
	End   time.Time
}

// Duration is End - Start, using the monotonic clock reading when present.
func (r Record) Duration() time.Duration {
	return r.End.Sub(r.Start)
}

// Stats holds aggregate timing statistics across all samples.
type Stats struct {
	Count int
	Min   time.Duration
	Max   time.Duration
	Mean  time.Duration
}

// Durations extracts per-record durations in record order.
func Durations(records []Record) []time.Duration {
	out := make([]time.Duration, len(records))
	for i, r := range records {
		out[i] = r.Duration()
	}

	return out
}

// ComputeStats calculates min, max and mean over a slice of durations.
// The slice must be non-empty.
func ComputeStats(durations []time.Duration) Stats {
	if len(durations) == 0 {
		return Stats{}
	}
	mn, mx := durations[0], durations[0]
	var sum time.Duration
	for _, d := range durations {
		if d < mn {
			mn = d
		}
		if d > mx {
			mx = d
		}
		sum += d
	}
	return Stats{
		Count: len(durations),
		Min:   mn,
		Max:   mx,
		Mean:  sum / time.Duration(len(durations)),
	}
}

// MeanMillis returns the arithmetic mean latency in milliseconds.
func MeanMillis(records []Record) (float64, error) {
	if len(records) == 0 {
		return 0, ErrNoSamplesProcessed
	}

	var sum float64
	for _, r := range records {
		sum += Millis(r.Duration())
	}

	return sum / float64(len(records)), nil
}

// Millis converts d to fractional milliseconds.
func Millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// ---------------------------------------------------------------------------
// Report file
// ---------------------------------------------------------------------------

// ReportLine renders the single summary line of the timing report.
func ReportLine(records []Record) (string, error) {
	mean, err := MeanMillis(records)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("NN inference cost average time: %.6g ms of infer_count %d", mean, len(records)), nil
}

// WriteReport truncates path and writes the summary line to it.
func WriteReport(path string, records []Record) error {
	line, err := ReportLine(records)
	if err != nil {
		return err
	}

	if path == "" {
		path = DefaultReportPath
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create report dir: %w", err)
	}

	if err := os.WriteFile(path, []byte(line+"\n"), 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}

	return nil
}

// ---------------------------------------------------------------------------
// Output formatters
// ---------------------------------------------------------------------------

// FormatTable writes a human-readable ASCII table of per-sample latency to w.
func FormatTable(records []Record, stats Stats, w io.Writer) {
	sb := &strings.Builder{}

	fmt.Fprintf(sb, "%-6s  %-32s  %10s\n", "Sample", "Input", "MS")
	fmt.Fprintln(sb, strings.Repeat("-", 52))

	for _, r := range records {
		fmt.Fprintf(sb, "%-6d  %-32s  %10.3f\n",
			r.Index+1,
			truncate(filepath.Base(r.Input), 32),
			Millis(r.Duration()),
		)
	}

	fmt.Fprintln(sb, strings.Repeat("-", 52))
	fmt.Fprintf(sb, "%-6s  %-32s  %10.3f  (min)\n", "", "", Millis(stats.Min))
	fmt.Fprintf(sb, "%-6s  %-32s  %10.3f  (mean)\n", "", "", Millis(stats.Mean))
	fmt.Fprintf(sb, "%-6s  %-32s  %10.3f  (max)\n", "", "", Millis(stats.Max))

	fmt.Fprint(w, sb.String())
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}

	return s[:n-3] + "..."
}

// jsonReport is the top-level JSON structure emitted by FormatJSON.
type jsonReport struct {
	Samples []jsonSample `json:"samples"`
	Stats   jsonStats    `json:"stats"`
}

type jsonSample struct {
	Index      int     `json:"index"`
	Input      string  `json:"input"`
	DurationMS float64 `json:"duration_ms"`
}

type jsonStats struct {
	Count  int     `json:"count"`
	MinMS  float64 `json:"min_ms"`
	MeanMS float64 `json:"mean_ms"`
	MaxMS  float64 `json:"max_ms"`
}

// FormatJSON writes a JSON report of per-sample latency to w.
func FormatJSON(records []Record, stats Stats, w io.Writer) {
	jr := jsonReport{
		Samples: make([]jsonSample, len(records)),
		Stats: jsonStats{
			Count:  stats.Count,
			MinMS:  Millis(stats.Min),
			MeanMS: Millis(stats.Mean),
			MaxMS:  Millis(stats.Max),
		},
	}
	for i, r := range records {
		jr.Samples[i] = jsonSample{
			Index:      r.Index,
			Input:      r.Input,
			DurationMS: Millis(r.Duration()),
		}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(jr)
}
