package mcmc

import (
	"context"
	"errors"
	"testing"

	"github.com/dyluth/exofit/internal/config"
	"github.com/dyluth/exofit/internal/params"
	"github.com/dyluth/exofit/internal/prior"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type memCheckpoint struct {
	saved   *Result
	chains  map[string][]float64
	loadErr error
	saveErr error
}

func (m *memCheckpoint) Load(_ context.Context, names []string) (map[string][]float64, error) {
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	out := make(map[string][]float64, len(names))
	for _, n := range names {
		if c, ok := m.chains[n]; ok {
			out[n] = c
		}
	}
	return out, nil
}

func (m *memCheckpoint) Save(_ context.Context, res *Result) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saved = res
	m.chains = res.Chains
	return nil
}

func twoParamTarget() gaussian {
	return gaussian{names: []string{"a", "b"}, mu: []float64{0.5, 2}, sigma: []float64{0.1, 0.3}}
}

func twoParamRegistry(t *testing.T) *params.Registry {
	t.Helper()
	reg := params.NewRegistry()
	require.NoError(t, reg.Add(&params.Parameter{Name: "a", Prior: prior.Uniform(0, 1), Value: 0.4}))
	require.NoError(t, reg.Add(&params.Parameter{Name: "b", Prior: prior.Uniform(0, 5), Value: 1.5}))
	return reg
}

func states(o *Orchestrator) []State {
	var out []State
	for _, tr := range o.Transitions() {
		out = append(out, tr.State)
	}
	return out
}

func smallOptions() Options {
	return Options{Walkers: 8, Jumps: 200, Burnin: 100, Seed: 11, WarmStart: true}
}

func TestOrchestrator_Run(t *testing.T) {
	target := twoParamTarget()
	reg := twoParamRegistry(t)
	core, logs := observer.New(zap.InfoLevel)

	var calls int
	var last Progress
	o := New(target, reg, smallOptions(),
		WithLogger(zap.New(core)),
		WithRunID("run-1"),
		WithProgress(func(p Progress) { calls++; last = p }),
	)
	assert.Equal(t, StateNotStarted, o.State())

	res, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []State{StateNotStarted, StateWarmStart, StateSampling, StateDone}, states(o))
	assert.Equal(t, StateDone, o.State())
	assert.Equal(t, 300, calls)
	assert.Equal(t, "run-1", last.RunID)
	assert.Equal(t, 300, last.Generation)
	assert.Equal(t, 100, last.Burnin)

	assert.Equal(t, "run-1", res.RunID)
	assert.Equal(t, []string{"a", "b"}, res.Free)
	assert.False(t, res.Resumed)
	assert.Equal(t, 8, res.Walkers)
	assert.InDelta(t, 0.5, res.ThetaML[0], 1e-3)
	assert.InDelta(t, 2, res.ThetaML[1], 1e-3)
	assert.Greater(t, res.AcceptanceFraction, 0.0)

	for d, name := range res.Free {
		p := reg.MustGet(name)
		require.True(t, p.HasPosterior())
		require.Len(t, p.Posterior(), 8*200)
		assert.Equal(t, res.Chains[name], p.Posterior())
		assert.Equal(t, Median(p.Posterior()), p.Value)
		assert.Equal(t, res.Medians[name], p.Value)
		assert.InDelta(t, target.mu[d], p.Value, target.sigma[d])
	}

	assert.Equal(t, 3, logs.FilterMessage("state_transition").Len())
	assert.Equal(t, 1, logs.FilterMessage("warm_start_finished").Len())
	assert.Equal(t, 1, logs.FilterMessage("burnin_finished").Len())
	done := logs.FilterMessage("fit_completed").All()
	require.Len(t, done, 1)
	fields := done[0].ContextMap()
	assert.Equal(t, "mcmc", fields["component"])
	assert.Equal(t, "run-1", fields["run_id"])
	assert.EqualValues(t, 8*200, fields["samples"])
}

func TestOrchestrator_SkipsWarmStart(t *testing.T) {
	opts := smallOptions()
	opts.WarmStart = false
	opts.Jumps, opts.Burnin = 20, 0

	reg := twoParamRegistry(t)
	o := New(twoParamTarget(), reg, opts)
	res, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []State{StateNotStarted, StateSampling, StateDone}, states(o))
	assert.Equal(t, []float64{0.4, 1.5}, res.ThetaML)
	assert.Len(t, res.Chains["a"], 8*20)
}

func TestOrchestrator_ResumesFromRegistry(t *testing.T) {
	reg := twoParamRegistry(t)
	opts := smallOptions()
	opts.Jumps, opts.Burnin = 30, 10

	first, err := New(twoParamTarget(), reg, opts).Run(context.Background())
	require.NoError(t, err)

	calls := 0
	o := New(twoParamTarget(), reg, opts, WithProgress(func(Progress) { calls++ }))
	again, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.True(t, again.Resumed)
	assert.Zero(t, calls)
	assert.Equal(t, first.Chains, again.Chains)
	assert.Equal(t, first.Medians, again.Medians)
	assert.Equal(t, []State{StateNotStarted, StateDone}, states(o))
}

func TestOrchestrator_ResumesFromCheckpoint(t *testing.T) {
	store := &memCheckpoint{}
	opts := smallOptions()
	opts.Jumps, opts.Burnin = 30, 10

	first, err := New(twoParamTarget(), twoParamRegistry(t), opts, WithCheckpoint(store)).Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, store.saved)
	assert.Equal(t, first.Chains, store.saved.Chains)

	fresh := twoParamRegistry(t)
	core, logs := observer.New(zap.InfoLevel)
	res, err := New(twoParamTarget(), fresh, opts, WithCheckpoint(store), WithLogger(zap.New(core))).Run(context.Background())
	require.NoError(t, err)

	assert.True(t, res.Resumed)
	for _, name := range []string{"a", "b"} {
		p := fresh.MustGet(name)
		assert.Equal(t, first.Chains[name], p.Posterior())
		assert.Equal(t, first.Medians[name], p.Value)
	}
	resumed := logs.FilterMessage("resumed").All()
	require.Len(t, resumed, 1)
	assert.Equal(t, "checkpoint", resumed[0].ContextMap()["source"])
}

func TestOrchestrator_PartialCheckpointSamples(t *testing.T) {
	store := &memCheckpoint{chains: map[string][]float64{"a": {0.5, 0.6}}}
	opts := smallOptions()
	opts.Jumps, opts.Burnin = 10, 0

	res, err := New(twoParamTarget(), twoParamRegistry(t), opts, WithCheckpoint(store)).Run(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Resumed)
	assert.Len(t, res.Chains["a"], 8*10)
}

func TestOrchestrator_CheckpointErrors(t *testing.T) {
	opts := smallOptions()
	opts.Jumps, opts.Burnin = 10, 0

	t.Run("load failure aborts", func(t *testing.T) {
		store := &memCheckpoint{loadErr: errors.New("connection refused")}
		_, err := New(twoParamTarget(), twoParamRegistry(t), opts, WithCheckpoint(store)).Run(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to load checkpoint")
		assert.Contains(t, err.Error(), "connection refused")
	})

	t.Run("save failure is reported on the result", func(t *testing.T) {
		store := &memCheckpoint{saveErr: errors.New("read only")}
		core, logs := observer.New(zap.InfoLevel)
		reg := twoParamRegistry(t)
		res, err := New(twoParamTarget(), reg, opts, WithCheckpoint(store), WithLogger(zap.New(core))).Run(context.Background())
		require.NoError(t, err)
		require.Error(t, res.CheckpointErr)
		assert.ErrorContains(t, res.CheckpointErr, "read only")
		assert.True(t, reg.MustGet("a").HasPosterior())
		assert.Equal(t, 1, logs.FilterMessage("checkpoint_save_failed").Len())
	})
}

func TestOrchestrator_CancelLeavesRegistryUntouched(t *testing.T) {
	reg := twoParamRegistry(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	o := New(twoParamTarget(), reg, smallOptions(), WithProgress(func(p Progress) {
		if p.Generation == 5 {
			cancel()
		}
	}))
	_, err := o.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, StateSampling, o.State())
	for _, name := range []string{"a", "b"} {
		assert.False(t, reg.MustGet(name).HasPosterior())
	}
	assert.Equal(t, 0.4, reg.MustGet("a").Value)
}

func TestOrchestrator_NoFreeParameters(t *testing.T) {
	_, err := New(gaussian{}, params.NewRegistry(), smallOptions()).Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no free parameters")
}

func TestOptionsFromConfig(t *testing.T) {
	burnin := 50
	sc := &config.SamplerConfig{Walkers: 40, Jumps: 100, Burnin: &burnin, Seed: 9, Workers: 2}
	opts := OptionsFromConfig(sc)
	assert.Equal(t, Options{Walkers: 40, Jumps: 100, Burnin: 50, Workers: 2, Seed: 9, WarmStart: true}, opts)

	off := false
	sc.WarmStart = &off
	assert.False(t, OptionsFromConfig(sc).WarmStart)
}

func TestMedian(t *testing.T) {
	assert.Equal(t, 2.0, Median([]float64{3, 1, 2}))
	assert.Equal(t, 2.0, Median([]float64{4, 1, 3, 2}))

	x := []float64{5, 4}
	Median(x)
	assert.Equal(t, []float64{5, 4}, x, "input is not reordered")
}
