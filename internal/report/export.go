package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Output formats understood by Save.
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
)

// WriteJSON writes the full report as indented JSON.
func (r *Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

var csvHeader = []string{
	"behavior", "requests", "success", "failed", "conflicts", "timeouts", "bytes", "rps",
	"failed_rate", "conflict_rate", "iterations", "iterations_failed", "iterations_conflict",
	"avg_ms", "min_ms", "med_ms", "p90_ms", "p95_ms", "p99_ms", "max_ms",
}

// WriteCSV writes one row per behavior followed by the "all" row.
func (r *Report) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	rows := append(append([]BehaviorStats{}, r.Behaviors...), r.Overall)
	for _, b := range rows {
		l := b.Latency
		record := []string{
			b.Name,
			strconv.FormatUint(b.Requests, 10),
			strconv.FormatUint(b.Success, 10),
			strconv.FormatUint(b.Failed, 10),
			strconv.FormatUint(b.Conflicts, 10),
			strconv.FormatUint(b.Timeouts, 10),
			strconv.FormatUint(b.Bytes, 10),
			f2(b.RPS),
			strconv.FormatFloat(b.FailedRate, 'f', 4, 64),
			strconv.FormatFloat(b.ConflictRate, 'f', 4, 64),
			strconv.FormatUint(b.Iterations, 10),
			strconv.FormatUint(b.IterationsFailed, 10),
			strconv.FormatUint(b.IterationsConflict, 10),
			f2(l.Avg), f2(l.Min), f2(l.Med), f2(l.P90), f2(l.P95), f2(l.P99), f2(l.Max),
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func f2(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

// Save writes <prefix>.<format> for every requested format and returns the
// paths written.
func (r *Report) Save(prefix string, formats []string) ([]string, error) {
	if prefix == "" {
		return nil, nil
	}
	if dir := filepath.Dir(prefix); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create report dir: %w", err)
		}
	}

	var written []string
	for _, format := range formats {
		format = strings.ToLower(strings.TrimSpace(format))
		var write func(io.Writer) error
		switch format {
		case FormatJSON:
			write = r.WriteJSON
		case FormatCSV:
			write = r.WriteCSV
		default:
			return written, fmt.Errorf("unknown report format %q", format)
		}
		path := prefix + "." + format
		if err := writeFile(path, write); err != nil {
			return written, err
		}
		written = append(written, path)
	}
	return written, nil
}

func writeFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := write(f); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}
