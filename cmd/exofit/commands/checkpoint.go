package commands

import (
	"context"
	"math"
	"time"

	"github.com/dyluth/exofit/internal/mcmc"
	"github.com/dyluth/exofit/pkg/chainstore"
	"go.uber.org/zap"
)

// runStore is the part of the chain store a fit writes to.
type runStore interface {
	SaveRun(ctx context.Context, r *chainstore.Run) error
	SaveChains(ctx context.Context, runID string, chains map[string][]float64) error
	LoadChains(ctx context.Context, runID string, names []string) (map[string][]float64, error)
	PublishProgress(ctx context.Context, ev *chainstore.ProgressEvent) error
}

// storeCheckpoint persists a run's chains and summary in the chain store.
type storeCheckpoint struct {
	store runStore
	run   *chainstore.Run
}

var _ mcmc.Checkpoint = (*storeCheckpoint)(nil)

func (c *storeCheckpoint) Load(ctx context.Context, names []string) (map[string][]float64, error) {
	return c.store.LoadChains(ctx, c.run.ID, names)
}

// Save writes the chains first so a completed run always has them.
func (c *storeCheckpoint) Save(ctx context.Context, res *mcmc.Result) error {
	if err := c.store.SaveChains(ctx, c.run.ID, res.Chains); err != nil {
		return err
	}
	done := *c.run
	done.Status = chainstore.RunStatusCompleted
	done.FreeParameters = append([]string(nil), res.Free...)
	done.ThetaML = append([]float64(nil), res.ThetaML...)
	done.Medians = res.Medians
	done.AcceptanceFraction = res.AcceptanceFraction
	done.UpdatedAtMs = time.Now().UnixMilli()
	if err := c.store.SaveRun(ctx, &done); err != nil {
		return err
	}
	*c.run = done
	return nil
}

// finishRun records a run's terminal status. Runs the checkpoint already
// saved as completed are left alone.
func finishRun(store runStore, run *chainstore.Run, status chainstore.RunStatus, cause error) {
	if run.Status.Terminal() {
		return
	}
	run.Status = status
	if cause != nil {
		run.Error = cause.Error()
	}
	run.UpdatedAtMs = time.Now().UnixMilli()

	// The fit context may already be cancelled
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := store.SaveRun(ctx, run); err != nil {
		logger.Warn("failed to record run status", zap.String("run_id", run.ID), zap.Error(err))
	}
}

// progressPublisher returns a progress hook that publishes every nth
// generation, and always the final one, to live watchers.
func progressPublisher(ctx context.Context, store runStore, every int, log *zap.Logger) func(mcmc.Progress) {
	if every < 1 {
		every = 1
	}
	return func(p mcmc.Progress) {
		if p.Generation%every != 0 && p.Generation != p.Generations {
			return
		}
		ev := &chainstore.ProgressEvent{
			RunID:              p.RunID,
			State:              string(p.State),
			Generation:         p.Generation,
			Generations:        p.Generations,
			Burnin:             p.Burnin,
			AcceptanceFraction: p.AcceptanceFraction(),
			BestLogProb:        p.BestLogProb,
		}
		// JSON has no infinities
		if math.IsInf(ev.BestLogProb, 0) || math.IsNaN(ev.BestLogProb) {
			ev.BestLogProb = -math.MaxFloat64
		}
		if err := store.PublishProgress(ctx, ev); err != nil {
			log.Debug("failed to publish progress", zap.String("run_id", p.RunID), zap.Error(err))
		}
	}
}
