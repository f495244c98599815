// Package chainstore persists fit runs and their posterior chains in Redis
// and carries live sampler progress over Pub/Sub.
//
// A run is a hash of metadata plus one packed chain per free parameter.
// Runs are indexed by creation time so the most recent can be listed first.
package chainstore

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Run is the stored record of one fit.
type Run struct {
	ID                 string             `json:"id"`
	Mode               string             `json:"mode"`
	Status             RunStatus          `json:"status"`
	ConfigPath         string             `json:"config_path,omitempty"`
	FreeParameters     []string           `json:"free_parameters"`
	Walkers            int                `json:"walkers"`
	Jumps              int                `json:"jumps"`
	Burnin             int                `json:"burnin"`
	Seed               uint64             `json:"seed"`
	CreatedAtMs        int64              `json:"created_at_ms"`
	UpdatedAtMs        int64              `json:"updated_at_ms"`
	ThetaML            []float64          `json:"theta_ml,omitempty"`
	Medians            map[string]float64 `json:"medians,omitempty"`
	AcceptanceFraction float64            `json:"acceptance_fraction"`
	Error              string             `json:"error,omitempty"`
}

// RunStatus is a run's lifecycle state.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusCancelled RunStatus = "cancelled"
	RunStatusFailed    RunStatus = "failed"
)

// Validate checks that the status is known.
func (s RunStatus) Validate() error {
	switch s {
	case RunStatusRunning, RunStatusCompleted, RunStatusCancelled, RunStatusFailed:
		return nil
	default:
		return fmt.Errorf("unknown run status: %q", s)
	}
}

// Terminal reports whether the run will not change again.
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusCancelled || s == RunStatusFailed
}

// NewRun creates a running run with a fresh ID.
func NewRun(mode string, free []string, walkers, jumps, burnin int, seed uint64) *Run {
	now := time.Now().UnixMilli()
	return &Run{
		ID:             uuid.New().String(),
		Mode:           mode,
		Status:         RunStatusRunning,
		FreeParameters: append([]string(nil), free...),
		Walkers:        walkers,
		Jumps:          jumps,
		Burnin:         burnin,
		Seed:           seed,
		CreatedAtMs:    now,
		UpdatedAtMs:    now,
	}
}

// Validate checks the run's fields.
func (r *Run) Validate() error {
	if _, err := uuid.Parse(r.ID); err != nil {
		return fmt.Errorf("invalid run ID: not a valid UUID")
	}
	if r.Mode == "" {
		return fmt.Errorf("run mode cannot be empty")
	}
	if err := r.Status.Validate(); err != nil {
		return fmt.Errorf("invalid status: %w", err)
	}
	if r.Walkers < 1 {
		return fmt.Errorf("invalid walkers: must be >= 1, got %d", r.Walkers)
	}
	if r.ThetaML != nil && len(r.ThetaML) != len(r.FreeParameters) {
		return fmt.Errorf("theta_ml has %d values for %d free parameters", len(r.ThetaML), len(r.FreeParameters))
	}
	return nil
}

// ProgressEvent is published after sampler generations.
type ProgressEvent struct {
	RunID              string  `json:"run_id"`
	State              string  `json:"state"`
	Generation         int     `json:"generation"`
	Generations        int     `json:"generations"`
	Burnin             int     `json:"burnin"`
	AcceptanceFraction float64 `json:"acceptance_fraction"`
	BestLogProb        float64 `json:"best_log_prob"`
	TimestampMs        int64   `json:"timestamp_ms"`
}
