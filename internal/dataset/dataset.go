// Package dataset loads time series and partitions them by instrument.
package dataset

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/dyluth/exofit/internal/transit"
)

// DefaultInstrument labels rows that carry no instrument column.
const DefaultInstrument = "default"

// Series is one set of observations. Errors is nil when the data carry no
// external uncertainties.
type Series struct {
	Times       []float64
	Values      []float64
	Errors      []float64
	Instruments []string
}

// Len returns the number of observations.
func (s *Series) Len() int { return len(s.Times) }

// Subset returns the observations at idx, in order.
func (s *Series) Subset(idx []int) *Series {
	out := &Series{
		Times:       make([]float64, len(idx)),
		Values:      make([]float64, len(idx)),
		Instruments: make([]string, len(idx)),
	}
	if s.Errors != nil {
		out.Errors = make([]float64, len(idx))
	}
	for i, j := range idx {
		out.Times[i] = s.Times[j]
		out.Values[i] = s.Values[j]
		out.Instruments[i] = s.Instruments[j]
		if s.Errors != nil {
			out.Errors[i] = s.Errors[j]
		}
	}
	return out
}

// InstrumentIndex partitions observation indices by instrument.
type InstrumentIndex struct {
	Names   []string
	Indices map[string][]int
}

// Count returns the number of observations of inst.
func (ix *InstrumentIndex) Count(inst string) int {
	return len(ix.Indices[inst])
}

// CountInstruments lists the distinct labels in order of first appearance
// together with the indices belonging to each.
func CountInstruments(labels []string) *InstrumentIndex {
	ix := &InstrumentIndex{Indices: make(map[string][]int)}
	for i, label := range labels {
		if _, seen := ix.Indices[label]; !seen {
			ix.Names = append(ix.Names, label)
		}
		ix.Indices[label] = append(ix.Indices[label], i)
	}
	return ix
}

// Split returns one Series per instrument, keyed by name.
func (s *Series) Split() (*InstrumentIndex, map[string]*Series) {
	ix := CountInstruments(s.Instruments)
	out := make(map[string]*Series, len(ix.Names))
	for _, name := range ix.Names {
		out[name] = s.Subset(ix.Indices[name])
	}
	return ix, out
}

// Phases folds times on period about t0 into [-0.5, 0.5).
func Phases(times []float64, period, t0 float64) []float64 {
	return transit.Phases(times, period, t0)
}

// ResamplingIndices returns the indices whose phase lies strictly within
// phaseMax of mid-transit. A non-positive phaseMax selects every index.
func ResamplingIndices(times []float64, period, t0, phaseMax float64) []int {
	idx := make([]int, 0, len(times))
	if phaseMax <= 0 {
		for i := range times {
			idx = append(idx, i)
		}
		return idx
	}
	for i, ph := range Phases(times, period, t0) {
		if ph > -phaseMax && ph < phaseMax {
			idx = append(idx, i)
		}
	}
	return idx
}

// Load reads a whitespace-separated data file with columns
// "time value [error] [instrument]". Lines starting with # are ignored.
// A numeric third column is always read as the error, so instrument
// labels must not parse as numbers.
func Load(path string) (*Series, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open data file: %w", err)
	}
	defer f.Close()

	s, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return s, nil
}

// Parse reads the data format accepted by Load.
func Parse(r io.Reader) (*Series, error) {
	s := &Series{}
	hasErrors := -1 // unknown until the first row

	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Fields(text)
		if len(fields) < 2 || len(fields) > 4 {
			return nil, fmt.Errorf("line %d: expected 2 to 4 columns, got %d", line, len(fields))
		}

		t, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid time: %w", line, err)
		}
		v, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid value: %w", line, err)
		}

		rest := fields[2:]
		rowErr, rowHasErr := 0.0, false
		if len(rest) > 0 {
			if e, perr := strconv.ParseFloat(rest[0], 64); perr == nil {
				rowErr, rowHasErr = e, true
				rest = rest[1:]
			} else if len(rest) == 2 {
				return nil, fmt.Errorf("line %d: invalid error: %w", line, perr)
			}
		}
		inst := DefaultInstrument
		if len(rest) == 1 {
			inst = rest[0]
			if _, perr := strconv.ParseFloat(inst, 64); perr == nil {
				return nil, fmt.Errorf("line %d: instrument label %q must not be numeric", line, inst)
			}
		}

		switch {
		case hasErrors == -1 && rowHasErr:
			hasErrors = 1
		case hasErrors == -1:
			hasErrors = 0
		case (hasErrors == 1) != rowHasErr:
			return nil, fmt.Errorf("line %d: error column must be present on every row or on none", line)
		}

		s.Times = append(s.Times, t)
		s.Values = append(s.Values, v)
		s.Instruments = append(s.Instruments, inst)
		if rowHasErr {
			s.Errors = append(s.Errors, rowErr)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if s.Len() == 0 {
		return nil, fmt.Errorf("no observations")
	}
	return s, nil
}
