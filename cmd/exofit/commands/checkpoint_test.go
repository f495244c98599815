package commands

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/dyluth/exofit/internal/mcmc"
	"github.com/dyluth/exofit/pkg/chainstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestStoreCheckpoint_SaveThenLoad(t *testing.T) {
	ctx := context.Background()
	store, _ := setupStore(t)
	run := storedRun(t, store, chainstore.RunStatusRunning)
	cp := &storeCheckpoint{store: store, run: run}

	chains, err := cp.Load(ctx, []string{"K", "mu"})
	require.NoError(t, err)
	assert.Empty(t, chains)

	res := &mcmc.Result{
		Free:               []string{"K", "mu"},
		ThetaML:            []float64{50.1, 12.2},
		Chains:             map[string][]float64{"K": {49, 50, 51}, "mu": {11.9, 12, 12.1}},
		Medians:            map[string]float64{"K": 50, "mu": 12},
		AcceptanceFraction: 0.4,
	}
	require.NoError(t, cp.Save(ctx, res))

	chains, err = cp.Load(ctx, []string{"K", "mu"})
	require.NoError(t, err)
	assert.Equal(t, res.Chains, chains)

	got, err := store.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, chainstore.RunStatusCompleted, got.Status)
	assert.Equal(t, []float64{50.1, 12.2}, got.ThetaML)
	assert.Equal(t, map[string]float64{"K": 50, "mu": 12}, got.Medians)
	assert.InDelta(t, 0.4, got.AcceptanceFraction, 1e-12)
}

func TestFinishRun(t *testing.T) {
	ctx := context.Background()
	store, _ := setupStore(t)

	run := storedRun(t, store, chainstore.RunStatusRunning)
	finishRun(store, run, chainstore.RunStatusFailed, errors.New("sampling failed: boom"))
	got, err := store.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, chainstore.RunStatusFailed, got.Status)
	assert.Equal(t, "sampling failed: boom", got.Error)

	// terminal runs are left alone
	done := storedRun(t, store, chainstore.RunStatusCompleted)
	finishRun(store, done, chainstore.RunStatusCancelled, context.Canceled)
	got, err = store.GetRun(ctx, done.ID)
	require.NoError(t, err)
	assert.Equal(t, chainstore.RunStatusCompleted, got.Status)
	assert.Empty(t, got.Error)
}

type recordingStore struct {
	runStore
	events []*chainstore.ProgressEvent
	err    error
}

func (r *recordingStore) PublishProgress(_ context.Context, ev *chainstore.ProgressEvent) error {
	r.events = append(r.events, ev)
	return r.err
}

func progress(gen int, best float64) mcmc.Progress {
	p := mcmc.Progress{RunID: "run-1", State: mcmc.StateSampling, Burnin: 5}
	p.Generation = gen
	p.Generations = 25
	p.Proposed = 8 * gen
	p.Accepted = 2 * gen
	p.BestLogProb = best
	return p
}

func TestProgressPublisher(t *testing.T) {
	rec := &recordingStore{}
	hook := progressPublisher(context.Background(), rec, 10, zap.NewNop())
	for gen := 1; gen <= 25; gen++ {
		hook(progress(gen, -12.5))
	}

	require.Len(t, rec.events, 3)
	assert.Equal(t, []int{10, 20, 25}, []int{rec.events[0].Generation, rec.events[1].Generation, rec.events[2].Generation})
	last := rec.events[2]
	assert.Equal(t, "run-1", last.RunID)
	assert.Equal(t, "sampling", last.State)
	assert.Equal(t, 5, last.Burnin)
	assert.InDelta(t, 0.25, last.AcceptanceFraction, 1e-12)
	assert.InDelta(t, -12.5, last.BestLogProb, 1e-12)
}

func TestProgressPublisher_NonFiniteAndErrors(t *testing.T) {
	rec := &recordingStore{err: errors.New("connection refused")}
	hook := progressPublisher(context.Background(), rec, 0, zap.NewNop())

	hook(progress(1, math.Inf(-1)))
	require.Len(t, rec.events, 1)
	assert.Equal(t, -math.MaxFloat64, rec.events[0].BestLogProb)
}

func TestProgressPublisher_ReachesSubscribers(t *testing.T) {
	ctx := context.Background()
	store, _ := setupStore(t)
	sub, err := store.SubscribeProgress(ctx)
	require.NoError(t, err)
	defer sub.Close()

	hook := progressPublisher(ctx, store, 1, zap.NewNop())
	hook(progress(3, -1))

	select {
	case ev := <-sub.Events():
		assert.Equal(t, 3, ev.Generation)
		assert.Equal(t, 25, ev.Generations)
	case <-time.After(2 * time.Second):
		t.Fatal("no progress event received")
	}
}

// chainsRefused is a store that accepts runs but rejects chain writes.
type chainsRefused struct {
	*chainstore.Client
}

func (chainsRefused) SaveChains(context.Context, string, map[string][]float64) error {
	return errors.New("OOM command not allowed")
}

func TestExecuteFit_ChainSaveFailureMarksRunFailed(t *testing.T) {
	client, _ := setupStore(t)
	path := writeRVFit(t)

	s, err := executeFit(context.Background(), fitRequest{ConfigPath: path}, chainsRefused{Client: client})
	require.NoError(t, err)
	require.NotEmpty(t, s.RunID)

	run, err := client.GetRun(context.Background(), s.RunID)
	require.NoError(t, err)
	assert.Equal(t, chainstore.RunStatusFailed, run.Status)
	assert.Contains(t, run.Error, "OOM command not allowed")
	assert.Contains(t, run.Error, "failed to save checkpoint")
}

func TestRecordOutcome_CompletesResumedRun(t *testing.T) {
	ctx := context.Background()
	store, _ := setupStore(t)
	run := storedRun(t, store, chainstore.RunStatusRunning)

	recordOutcome(store, run, &mcmc.Result{Resumed: true, Medians: map[string]float64{"K": 50}})

	got, err := store.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, chainstore.RunStatusCompleted, got.Status)
	assert.Equal(t, map[string]float64{"K": 50}, got.Medians)
}

func TestStoreCheckpoint_FailedRunSaveLeavesRunOpen(t *testing.T) {
	client, mr := setupStore(t)
	run := storedRun(t, client, chainstore.RunStatusRunning)
	cp := &storeCheckpoint{store: client, run: run}

	mr.SetError("READONLY")
	err := cp.Save(context.Background(), &mcmc.Result{Free: []string{"K"}, Chains: map[string][]float64{"K": {1}}})
	require.Error(t, err)
	assert.Equal(t, chainstore.RunStatusRunning, run.Status)
}
