// Package report summarizes posterior chains and renders them for the CLI
// or for export.
package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sort"

	"github.com/dyluth/exofit/internal/params"
	"gonum.org/v1/gonum/stat"
)

// Quantiles bounding the central 68% credible interval.
const (
	LowerQuantile = 0.15865525393145707
	UpperQuantile = 0.8413447460685429
)

// Row summarizes one parameter. Fixed parameters carry their value in Median
// and zero-width bounds.
type Row struct {
	Name    string  `json:"name"`
	Median  float64 `json:"median"`
	Lower   float64 `json:"lower"`
	Upper   float64 `json:"upper"`
	Samples int     `json:"samples"`
	Fixed   bool    `json:"fixed,omitempty"`
}

// ErrMinus is the distance from the median down to the lower bound.
func (r Row) ErrMinus() float64 { return r.Median - r.Lower }

// ErrPlus is the distance from the median up to the upper bound.
func (r Row) ErrPlus() float64 { return r.Upper - r.Median }

// Summary is the reportable outcome of a fit.
type Summary struct {
	RunID  string               `json:"run_id,omitempty"`
	Mode   string               `json:"mode,omitempty"`
	Rows   []Row                `json:"parameters"`
	Chains map[string][]float64 `json:"chains,omitempty"`
}

// Summarize builds a summary for names, or for every registered parameter
// when names is empty. Parameters without a posterior are reported as fixed
// at their current value.
func Summarize(reg *params.Registry, names []string) (*Summary, error) {
	if len(names) == 0 {
		names = reg.Names()
	}
	s := &Summary{Chains: make(map[string][]float64)}
	for _, name := range names {
		p, ok := reg.Get(name)
		if !ok {
			return nil, fmt.Errorf("parameter %q is not registered", name)
		}
		if !p.HasPosterior() {
			s.Rows = append(s.Rows, Row{Name: name, Median: p.Value, Lower: p.Value, Upper: p.Value, Fixed: true})
			continue
		}
		chain := p.Posterior()
		s.Chains[name] = chain
		s.Rows = append(s.Rows, summarizeChain(name, chain))
	}
	return s, nil
}

func summarizeChain(name string, chain []float64) Row {
	sorted := append([]float64(nil), chain...)
	sort.Float64s(sorted)
	return Row{
		Name:    name,
		Median:  stat.Quantile(0.5, stat.Empirical, sorted, nil),
		Lower:   stat.Quantile(LowerQuantile, stat.Empirical, sorted, nil),
		Upper:   stat.Quantile(UpperQuantile, stat.Empirical, sorted, nil),
		Samples: len(chain),
	}
}

// FormatTable writes the summary as a fixed-width table and returns the
// number of rows written.
func FormatTable(w io.Writer, s *Summary) int {
	if len(s.Rows) == 0 {
		fmt.Fprintf(w, "No parameters to report for run '%s'\n", formatRunID(s.RunID))
		return 0
	}

	fmt.Fprintf(w, "Posterior summary for run '%s':\n\n", formatRunID(s.RunID))
	fmt.Fprintf(w, "%-14s %-14s %-12s %-12s %s\n", "PARAMETER", "MEDIAN", "-1σ", "+1σ", "SAMPLES")
	fmt.Fprintf(w, "%-14s %-14s %-12s %-12s %s\n", "--------------", "--------------", "------------", "------------", "-------")

	for _, r := range s.Rows {
		fmt.Fprintf(w, "%-14s %-14s %-12s %-12s %s\n",
			formatName(r.Name),
			formatValue(r.Median),
			formatError(r, r.ErrMinus()),
			formatError(r, r.ErrPlus()),
			formatSamples(r),
		)
	}

	noun := "parameter"
	if len(s.Rows) != 1 {
		noun = "parameters"
	}
	fmt.Fprintf(w, "\n%d %s reported\n", len(s.Rows), noun)
	return len(s.Rows)
}

// FormatJSONL writes one JSON object per row.
func FormatJSONL(w io.Writer, rows []Row) error {
	for _, r := range rows {
		data, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("failed to marshal row to JSON: %w", err)
		}
		if _, err := fmt.Fprintf(w, "%s\n", data); err != nil {
			return fmt.Errorf("failed to write JSONL output: %w", err)
		}
	}
	return nil
}

// FormatJSON writes the summary, chains included, as indented JSON.
func FormatJSON(w io.Writer, s *Summary) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal summary to JSON: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write JSON output: %w", err)
	}
	_, err = fmt.Fprintln(w)
	return err
}

// Export writes the summary to path. The destination is always explicit.
func Export(path string, s *Summary) (err error) {
	if path == "" {
		return errors.New("export path is required")
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create export file: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close export file: %w", cerr)
		}
	}()
	return FormatJSON(f, s)
}

func formatRunID(id string) string {
	if id == "" {
		return "-"
	}
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatName(name string) string {
	if len(name) > 14 {
		return name[:11] + "..."
	}
	return name
}

func formatValue(v float64) string {
	if math.IsNaN(v) {
		return "-"
	}
	return fmt.Sprintf("%.6g", v)
}

func formatError(r Row, e float64) string {
	if r.Fixed {
		return "fixed"
	}
	return fmt.Sprintf("%.3g", e)
}

func formatSamples(r Row) string {
	if r.Fixed {
		return "-"
	}
	return fmt.Sprintf("%d", r.Samples)
}
