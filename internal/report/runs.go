package report

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/dyluth/exofit/pkg/chainstore"
)

// FromRun summarizes a stored run from its chains. Free parameters with no
// stored chain are skipped.
func FromRun(run *chainstore.Run, chains map[string][]float64) *Summary {
	s := &Summary{RunID: run.ID, Mode: run.Mode, Chains: make(map[string][]float64)}
	names := run.FreeParameters
	if len(names) == 0 {
		for name := range chains {
			names = append(names, name)
		}
		sort.Strings(names)
	}
	for _, name := range names {
		chain := chains[name]
		if len(chain) == 0 {
			continue
		}
		s.Chains[name] = chain
		s.Rows = append(s.Rows, summarizeChain(name, chain))
	}
	return s
}

// FormatRunsTable writes runs as a table and returns how many were written.
func FormatRunsTable(w io.Writer, runs []*chainstore.Run, instanceName string) int {
	if len(runs) == 0 {
		fmt.Fprintf(w, "No runs found for instance '%s'\n", instanceName)
		return 0
	}

	fmt.Fprintf(w, "Runs for instance '%s':\n\n", instanceName)
	fmt.Fprintf(w, "%-10s %-14s %-10s %-8s %-12s %-8s %s\n",
		"ID", "MODE", "STATUS", "WALKERS", "STEPS", "AGE", "FREE")
	fmt.Fprintf(w, "%-10s %-14s %-10s %-8s %-12s %-8s %s\n",
		"----------", "--------------", "----------", "--------", "------------", "--------", "----------------------------------------")

	for _, r := range runs {
		fmt.Fprintf(w, "%-10s %-14s %-10s %-8d %-12s %-8s %s\n",
			formatRunID(r.ID),
			r.Mode,
			r.Status,
			r.Walkers,
			fmt.Sprintf("%d+%d", r.Burnin, r.Jumps),
			formatAge(r.CreatedAtMs),
			formatFree(r.FreeParameters),
		)
	}

	noun := "run"
	if len(runs) != 1 {
		noun = "runs"
	}
	fmt.Fprintf(w, "\n%d %s found\n", len(runs), noun)
	return len(runs)
}

// FormatRunsJSONL writes one run per line.
func FormatRunsJSONL(w io.Writer, runs []*chainstore.Run) error {
	for _, r := range runs {
		data, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("failed to marshal run to JSON: %w", err)
		}
		if _, err := fmt.Fprintf(w, "%s\n", data); err != nil {
			return fmt.Errorf("failed to write JSONL output: %w", err)
		}
	}
	return nil
}

// formatFree joins parameter names, truncated to 40 characters.
func formatFree(names []string) string {
	if len(names) == 0 {
		return "-"
	}
	s := fmt.Sprint(names)
	s = s[1 : len(s)-1]
	if len(s) > 40 {
		return s[:37] + "..."
	}
	return s
}

// formatAge renders a millisecond timestamp relative to now.
func formatAge(timestampMs int64) string {
	if timestampMs == 0 {
		return "-"
	}
	diff := time.Since(time.UnixMilli(timestampMs))
	switch {
	case diff < time.Minute:
		return fmt.Sprintf("%ds ago", int(diff.Seconds()))
	case diff < time.Hour:
		return fmt.Sprintf("%dm ago", int(diff.Minutes()))
	case diff < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(diff.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(diff.Hours()/24))
	}
}
