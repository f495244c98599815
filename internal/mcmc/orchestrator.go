// Package mcmc runs the maximum-likelihood warm start and the ensemble
// sampler, and writes the resulting posterior chains back to the registry.
package mcmc

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/dyluth/exofit/internal/config"
	"github.com/dyluth/exofit/internal/params"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"
)

// DefaultJitter is the standard deviation of the walkers' initial scatter
// around the warm-start point.
const DefaultJitter = 1e-4

// State is the orchestrator's position in a fit.
type State string

const (
	StateNotStarted State = "not_started"
	StateWarmStart  State = "warm_start"
	StateSampling   State = "sampling"
	StateDone       State = "done"
)

// Transition records when a state was entered.
type Transition struct {
	State State
	At    time.Time
}

// Target is the posterior the orchestrator samples.
type Target interface {
	LogProb(theta []float64) float64
	FreeNames() []string
}

// Checkpoint persists finished chains so a later run can resume from them.
type Checkpoint interface {
	// Load returns previously saved chains keyed by parameter name, or nil
	// when none exist.
	Load(ctx context.Context, names []string) (map[string][]float64, error)
	Save(ctx context.Context, res *Result) error
}

// Progress is reported to observers after every generation.
type Progress struct {
	RunID string
	State State
	SamplerProgress
	Burnin int
}

// Options configures a fit.
type Options struct {
	Walkers        int
	Jumps          int
	Burnin         int
	Workers        int
	Seed           uint64
	WarmStart      bool
	Jitter         float64 // 0 = DefaultJitter
	MaxEvaluations int     // warm-start budget, 0 = 2000 per dimension
}

// OptionsFromConfig maps validated sampler settings to Options.
func OptionsFromConfig(sc *config.SamplerConfig) Options {
	opts := Options{
		Walkers:   sc.Walkers,
		Jumps:     sc.Jumps,
		Burnin:    *sc.Burnin,
		Workers:   sc.Workers,
		Seed:      sc.Seed,
		WarmStart: true,
	}
	if sc.WarmStart != nil {
		opts.WarmStart = *sc.WarmStart
	}
	return opts
}

// Result is the outcome of a fit.
type Result struct {
	RunID              string
	Free               []string
	ThetaML            []float64
	Chains             map[string][]float64 // post-burn-in, walker-major
	Medians            map[string]float64
	AcceptanceFraction float64
	Walkers            int
	Resumed            bool
	CheckpointErr      error // non-nil when the chains were sampled but not saved
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the structured logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithRunID labels log events and progress with a run identifier.
func WithRunID(id string) Option {
	return func(o *Orchestrator) { o.runID = id }
}

// WithProgress registers a callback invoked after every generation.
func WithProgress(fn func(Progress)) Option {
	return func(o *Orchestrator) { o.progress = append(o.progress, fn) }
}

// WithCheckpoint sets the store used to resume and save chains.
func WithCheckpoint(c Checkpoint) Option {
	return func(o *Orchestrator) { o.checkpoint = c }
}

// Orchestrator drives one fit through NotStarted, WarmStart, Sampling and
// Done.
type Orchestrator struct {
	target     Target
	reg        *params.Registry
	opts       Options
	logger     *zap.Logger
	runID      string
	progress   []func(Progress)
	checkpoint Checkpoint

	mu          sync.RWMutex
	state       State
	transitions []Transition
}

// New creates an orchestrator for target over the parameters in reg.
func New(target Target, reg *params.Registry, opts Options, options ...Option) *Orchestrator {
	o := &Orchestrator{
		target: target,
		reg:    reg,
		opts:   opts,
		logger: zap.NewNop(),
		state:  StateNotStarted,
	}
	for _, opt := range options {
		opt(o)
	}
	if o.opts.Jitter == 0 {
		o.opts.Jitter = DefaultJitter
	}
	o.transitions = []Transition{{State: StateNotStarted, At: time.Now()}}
	return o
}

// State returns the current state. Safe for concurrent use.
func (o *Orchestrator) State() State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

// Transitions returns the states entered so far with their timestamps.
func (o *Orchestrator) Transitions() []Transition {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return append([]Transition(nil), o.transitions...)
}

func (o *Orchestrator) enter(s State) {
	o.mu.Lock()
	from := o.state
	o.state = s
	o.transitions = append(o.transitions, Transition{State: s, At: time.Now()})
	o.mu.Unlock()

	o.logEvent("state_transition", map[string]interface{}{
		"from": string(from),
		"to":   string(s),
	})
}

// Run executes the fit. If the first free parameter already carries a
// posterior, or the checkpoint holds chains for every free parameter, the
// fit resumes straight to Done. A cancelled context aborts between
// generations and leaves the registry untouched.
func (o *Orchestrator) Run(ctx context.Context) (*Result, error) {
	free := o.target.FreeNames()
	if len(free) == 0 {
		return nil, fmt.Errorf("no free parameters to sample")
	}

	if res, ok, err := o.resume(ctx, free); err != nil {
		return nil, err
	} else if ok {
		o.enter(StateDone)
		return res, nil
	}

	start, err := o.reg.Values(free)
	if err != nil {
		return nil, fmt.Errorf("failed to read starting values: %w", err)
	}

	thetaML := start
	if o.opts.WarmStart {
		o.enter(StateWarmStart)
		budget := o.opts.MaxEvaluations
		if budget == 0 {
			budget = 2000 * len(free)
		}
		ws := WarmStart(o.target.LogProb, start, budget)
		fields := map[string]interface{}{
			"status":    ws.Status,
			"converged": ws.Converged,
			"log_prob":  ws.LogProb,
		}
		if ws.Err != nil {
			fields["error"] = ws.Err.Error()
		}
		o.logEvent("warm_start_finished", fields)
		thetaML = ws.X
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	o.enter(StateSampling)
	rng := rand.New(rand.NewPCG(o.opts.Seed, o.opts.Seed+1))
	initial := make([][]float64, o.opts.Walkers)
	for w := range initial {
		initial[w] = make([]float64, len(thetaML))
		for d, x := range thetaML {
			initial[w][d] = x + o.opts.Jitter*rng.NormFloat64()
		}
	}

	chain, err := Sample(ctx, o.target.LogProb, initial, SamplerOptions{
		Generations: o.opts.Burnin + o.opts.Jumps,
		Workers:     o.opts.Workers,
		Seed:        o.opts.Seed,
		Progress:    o.report,
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			o.logEvent("sampling_cancelled", map[string]interface{}{"error": err.Error()})
			return nil, err
		}
		return nil, fmt.Errorf("sampling failed: %w", err)
	}

	res := &Result{
		RunID:              o.runID,
		Free:               append([]string(nil), free...),
		ThetaML:            append([]float64(nil), thetaML...),
		Chains:             make(map[string][]float64, len(free)),
		AcceptanceFraction: chain.MeanAcceptanceFraction(),
		Walkers:            o.opts.Walkers,
	}
	for d, name := range free {
		res.Chains[name] = chain.Flatten(d, o.opts.Burnin)
	}
	if err := o.writeBack(res); err != nil {
		return nil, err
	}

	if o.checkpoint != nil {
		if err := o.checkpoint.Save(ctx, res); err != nil {
			res.CheckpointErr = fmt.Errorf("failed to save checkpoint: %w", err)
			o.logEvent("checkpoint_save_failed", map[string]interface{}{"error": err.Error()})
		}
	}

	o.enter(StateDone)
	o.logEvent("fit_completed", map[string]interface{}{
		"acceptance_fraction": res.AcceptanceFraction,
		"samples":             len(res.Chains[free[0]]),
	})
	return res, nil
}

// resume builds the result from existing posteriors, if any.
func (o *Orchestrator) resume(ctx context.Context, free []string) (*Result, bool, error) {
	first := o.reg.MustGet(free[0])
	if first.HasPosterior() {
		res := &Result{RunID: o.runID, Free: free, Chains: make(map[string][]float64), Resumed: true}
		for _, name := range free {
			res.Chains[name] = o.reg.MustGet(name).Posterior()
		}
		res.Medians = medians(res.Chains)
		o.logEvent("resumed", map[string]interface{}{"source": "registry"})
		return res, true, nil
	}

	if o.checkpoint == nil {
		return nil, false, nil
	}
	chains, err := o.checkpoint.Load(ctx, free)
	if err != nil {
		return nil, false, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	for _, name := range free {
		if len(chains[name]) == 0 {
			return nil, false, nil
		}
	}

	res := &Result{RunID: o.runID, Free: free, Chains: chains, Resumed: true}
	if err := o.writeBack(res); err != nil {
		return nil, false, err
	}
	o.logEvent("resumed", map[string]interface{}{"source": "checkpoint"})
	return res, true, nil
}

// writeBack stores each chain as its parameter's posterior and sets the
// parameter's value to the posterior median.
func (o *Orchestrator) writeBack(res *Result) error {
	res.Medians = medians(res.Chains)
	for _, name := range res.Free {
		p := o.reg.MustGet(name)
		if err := p.SetPosterior(res.Chains[name]); err != nil {
			return err
		}
		p.SetValue(res.Medians[name])
	}
	return nil
}

func (o *Orchestrator) report(sp SamplerProgress) {
	burnin := o.opts.Burnin
	if sp.Generation == burnin && burnin > 0 {
		o.logEvent("burnin_finished", map[string]interface{}{
			"acceptance_fraction": sp.AcceptanceFraction(),
			"best_log_prob":       sp.BestLogProb,
		})
	}
	if len(o.progress) == 0 {
		return
	}
	p := Progress{RunID: o.runID, State: StateSampling, SamplerProgress: sp, Burnin: burnin}
	for _, fn := range o.progress {
		fn(p)
	}
}

func medians(chains map[string][]float64) map[string]float64 {
	out := make(map[string]float64, len(chains))
	for name, chain := range chains {
		out[name] = Median(chain)
	}
	return out
}

// Median returns the sample median.
func Median(x []float64) float64 {
	sorted := append([]float64(nil), x...)
	sort.Float64s(sorted)
	return stat.Quantile(0.5, stat.Empirical, sorted, nil)
}

// logEvent emits a structured event for a fit.
func (o *Orchestrator) logEvent(eventType string, data map[string]interface{}) {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fields := make([]zap.Field, 0, len(keys)+3)
	fields = append(fields,
		zap.String("component", "mcmc"),
		zap.String("event_type", eventType),
		zap.String("run_id", o.runID),
	)
	for _, k := range keys {
		fields = append(fields, zap.Any(k, data[k]))
	}
	o.logger.Info(eventType, fields...)
}
