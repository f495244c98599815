// Package watch follows a fit from another process: it streams progress
// events published by the sampler and polls the stored run until it ends.
package watch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/dyluth/exofit/pkg/chainstore"
)

// OutputFormat selects how progress events are rendered.
type OutputFormat string

const (
	OutputFormatDefault OutputFormat = "default"
	OutputFormatJSON    OutputFormat = "json"
)

// ParseOutputFormat validates a --output flag value.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(s); f {
	case OutputFormatDefault, OutputFormatJSON:
		return f, nil
	default:
		return "", fmt.Errorf("unknown format: %s", s)
	}
}

// RunGetter reads a stored run.
type RunGetter interface {
	GetRun(ctx context.Context, runID string) (*chainstore.Run, error)
}

// StreamProgress writes events for runID (all runs when empty) until the
// channel closes, a matching run reports its final generation, or ctx ends.
func StreamProgress(ctx context.Context, events <-chan *chainstore.ProgressEvent, runID string, format OutputFormat, w io.Writer) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if runID != "" && ev.RunID != runID {
				continue
			}
			if err := writeEvent(w, ev, format); err != nil {
				return err
			}
			if runID != "" && ev.Generations > 0 && ev.Generation >= ev.Generations {
				return nil
			}
		}
	}
}

func writeEvent(w io.Writer, ev *chainstore.ProgressEvent, format OutputFormat) error {
	if format == OutputFormatJSON {
		data, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("failed to marshal progress event: %w", err)
		}
		_, err = fmt.Fprintf(w, "%s\n", data)
		return err
	}
	_, err := fmt.Fprintln(w, FormatEvent(ev))
	return err
}

// FormatEvent renders one event as a human-readable line.
func FormatEvent(ev *chainstore.ProgressEvent) string {
	phase := "sampling"
	if ev.Generation <= ev.Burnin {
		phase = "burn-in"
	}
	id := ev.RunID
	if len(id) > 8 {
		id = id[:8]
	}
	ts := time.UnixMilli(ev.TimestampMs).Format("15:04:05")
	return fmt.Sprintf("[%s] 🔭 run %s %s %d/%d  acceptance=%.3f  best ln p=%.6g",
		ts, id, phase, ev.Generation, ev.Generations, ev.AcceptanceFraction, ev.BestLogProb)
}

// PollForRun polls every interval until the run reaches a terminal status,
// returning it. It fails on timeout, or at once if the run does not exist.
func PollForRun(ctx context.Context, store RunGetter, runID string, interval, timeout time.Duration) (*chainstore.Run, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	timeoutCh := time.After(timeout)

	for {
		run, err := store.GetRun(ctx, runID)
		if err != nil {
			if chainstore.IsNotFound(err) {
				return nil, fmt.Errorf("run not found: %s", runID)
			}
			return nil, fmt.Errorf("failed to query run: %w", err)
		}
		if run.Status.Terminal() {
			return run, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timeoutCh:
			return nil, fmt.Errorf("timeout waiting for run after %v", timeout)
		case <-ticker.C:
		}
	}
}
