// Package posterior combines the prior, transit and radial-velocity
// likelihoods into a single log-posterior over the free parameter vector.
//
// A Posterior is immutable after New returns. LogProb reads only its
// argument and the precomputed layout, so any number of goroutines may call
// it concurrently.
package posterior

import (
	"fmt"
	"math"
	"sync/atomic"

	"github.com/dyluth/exofit/internal/config"
	"github.com/dyluth/exofit/internal/dataset"
	"github.com/dyluth/exofit/internal/ld"
	"github.com/dyluth/exofit/internal/noise"
	"github.com/dyluth/exofit/internal/params"
	"github.com/dyluth/exofit/internal/rv"
	"github.com/dyluth/exofit/internal/transit"
)

// PPM converts relative flux to parts per million. Transit residuals and
// flux errors are expressed in ppm for every instrument.
const PPM = 1e6

var negInf = math.Inf(-1)

// Posterior evaluates the log-posterior of one fit.
type Posterior struct {
	layout *params.Layout
	phot   []*photTerm
	rv     []*rvTerm
	eval   func(theta []float64) float64
	calls  atomic.Uint64
}

type photTerm struct {
	instrument string
	slots      params.Slots
	law        ld.Law
	noise      noise.Model
	gamma      float64
	model      *transit.Model
	flux       []float64
	errs       []float64 // ppm, nil when the data carry no errors

	// transit_noise only: residuals against the fixed transit model
	residuals []float64
	wavelets  *noise.Decomposition
}

type rvTerm struct {
	instrument string
	slots      params.Slots
	times      []float64
	values     []float64
	errs       []float64
}

// New validates the configuration against the data and registry and builds
// the posterior for the configured mode. resampling optionally gives, per
// photometric instrument, the observation indices to integrate over the
// exposure; instruments missing from it use the configured phase window
// around the registry's ephemeris.
func New(cfg *config.FitConfig, reg *params.Registry, phot, rvData *dataset.Series, resampling map[string][]int) (*Posterior, error) {
	if err := cfg.Mode.Validate(); err != nil {
		return nil, err
	}

	var photIx, rvIx *dataset.InstrumentIndex
	var photParts, rvParts map[string]*dataset.Series
	if cfg.Mode.UsesPhotometry() {
		if phot == nil || phot.Len() == 0 {
			return nil, fmt.Errorf("mode '%s' requires photometric data", cfg.Mode)
		}
		photIx, photParts = phot.Split()
	}
	if cfg.Mode.UsesRV() {
		if rvData == nil || rvData.Len() == 0 {
			return nil, fmt.Errorf("mode '%s' requires radial-velocity data", cfg.Mode)
		}
		rvIx, rvParts = rvData.Split()
	}

	var photNames, rvNames []string
	if photIx != nil {
		photNames = photIx.Names
	}
	if rvIx != nil {
		rvNames = rvIx.Names
	}

	layout, err := params.BuildLayout(reg, cfg, photNames, rvNames)
	if err != nil {
		return nil, fmt.Errorf("failed to build parameter layout: %w", err)
	}

	post := &Posterior{layout: layout}
	for i, inst := range layout.PhotInstruments {
		term, err := newPhotTerm(reg, cfg.Photometry.Instruments[inst], inst, layout.Photometry[i], photParts[inst], resampling)
		if err != nil {
			return nil, err
		}
		post.phot = append(post.phot, term)
	}
	for i, inst := range layout.RVInstruments {
		s := rvParts[inst]
		post.rv = append(post.rv, &rvTerm{
			instrument: inst,
			slots:      layout.RV[i],
			times:      s.Times,
			values:     s.Values,
			errs:       s.Errors,
		})
	}

	switch cfg.Mode {
	case config.ModeTransit:
		post.eval = post.transitOnly
	case config.ModeRV:
		post.eval = post.rvOnly
	case config.ModeFull:
		post.eval = post.combined
	case config.ModeTransitNoise:
		if err := post.freezeTransitModels(); err != nil {
			return nil, err
		}
		post.eval = post.noiseOnly
	}
	return post, nil
}

func newPhotTerm(reg *params.Registry, ic config.Instrument, inst string, slots params.Slots, s *dataset.Series, resampling map[string][]int) (*photTerm, error) {
	term := &photTerm{
		instrument: inst,
		slots:      slots,
		law:        ic.Law(),
		noise:      ic.Noise(),
		gamma:      ic.Gamma(),
		flux:       s.Values,
	}

	if term.noise == noise.ModelFlicker {
		if _, err := noise.Decompose(make([]float64, s.Len())); err != nil {
			return nil, fmt.Errorf("instrument '%s' has %d observations: %w", inst, s.Len(), err)
		}
	}

	if s.Errors != nil {
		term.errs = make([]float64, len(s.Errors))
		for i, e := range s.Errors {
			term.errs[i] = e * PPM
		}
	}

	var rs *transit.Resampling
	if ic.Resampling {
		idx, ok := resampling[inst]
		if !ok {
			period := reg.MustGet(slots[params.RolePeriod].Name).Value
			t0 := reg.MustGet(slots[params.RoleT0].Name).Value
			idx = dataset.ResamplingIndices(s.Times, period, t0, ic.PhaseMax())
		}
		rs = &transit.Resampling{Indices: idx, N: ic.NResampling, Exposure: ic.ExposureTime}
	}

	model, err := transit.NewModel(s.Times, rs)
	if err != nil {
		return nil, fmt.Errorf("instrument '%s': failed to build transit model: %w", inst, err)
	}
	term.model = model
	return term, nil
}

// Layout returns the free-vector layout.
func (p *Posterior) Layout() *params.Layout { return p.layout }

// Dim returns the dimensionality of the free vector.
func (p *Posterior) Dim() int { return p.layout.Dim() }

// Evaluations returns how many times LogProb has been called.
func (p *Posterior) Evaluations() uint64 { return p.calls.Load() }

// LogProb returns the log-posterior of theta. Proposals outside the prior
// support or with a non-finite likelihood return -Inf.
func (p *Posterior) LogProb(theta []float64) float64 {
	p.calls.Add(1)
	if len(theta) != p.layout.Dim() {
		return negInf
	}
	lp := p.eval(theta)
	if math.IsNaN(lp) || math.IsInf(lp, 0) {
		return negInf
	}
	return lp
}

func (p *Posterior) transitOnly(theta []float64) float64 {
	lp := p.layout.JointLogPrior(theta)
	if math.IsInf(lp, 0) || math.IsNaN(lp) {
		return negInf
	}
	return lp + p.transitLike(theta)
}

func (p *Posterior) rvOnly(theta []float64) float64 {
	lp := p.layout.JointLogPrior(theta)
	if math.IsInf(lp, 0) || math.IsNaN(lp) {
		return negInf
	}
	return lp + p.rvLike(theta)
}

func (p *Posterior) combined(theta []float64) float64 {
	lp := p.layout.JointLogPrior(theta)
	if math.IsInf(lp, 0) || math.IsNaN(lp) {
		return negInf
	}
	return lp + p.rvLike(theta) + p.transitLike(theta)
}

func (p *Posterior) noiseOnly(theta []float64) float64 {
	lp := p.layout.JointLogPrior(theta)
	if math.IsInf(lp, 0) || math.IsNaN(lp) {
		return negInf
	}
	like := 0.0
	for _, term := range p.phot {
		like += term.noiseLike(term.residuals, term.wavelets, theta)
	}
	return lp + like
}

func (p *Posterior) transitLike(theta []float64) float64 {
	like := 0.0
	for _, term := range p.phot {
		residuals, ok := term.residualsAt(theta)
		if !ok {
			return negInf
		}
		like += term.noiseLike(residuals, nil, theta)
	}
	return like
}

func (p *Posterior) rvLike(theta []float64) float64 {
	like := 0.0
	for _, term := range p.rv {
		s := &term.slots
		ecc := s.Get(params.RoleEcc, theta)
		period := s.Get(params.RolePeriod, theta)
		if !(ecc >= 0 && ecc < 1) || !(period > 0) {
			return negInf
		}
		model := rv.Evaluate(term.times,
			s.Get(params.RoleMu, theta),
			s.Get(params.RoleK, theta),
			s.Get(params.RoleOmega, theta)*math.Pi/180,
			ecc,
			s.Get(params.RoleT0, theta),
			period,
		)
		residuals := make([]float64, len(model))
		for i, m := range model {
			residuals[i] = term.values[i] - m
		}
		like += noise.White(residuals, term.errs, s.Get(params.RoleSigmaWRV, theta))
	}
	return like
}

// transitParams resolves the physical transit parameters for theta.
func (t *photTerm) transitParams(theta []float64) (transit.Params, error) {
	s := &t.slots
	c1, c2, err := ld.ToNative(t.law, s.Get(params.RoleQ1, theta), s.Get(params.RoleQ2, theta))
	if err != nil {
		return transit.Params{}, err
	}
	return transit.Params{
		T0:     s.Get(params.RoleT0, theta),
		Period: s.Get(params.RolePeriod, theta),
		Rp:     s.Get(params.RoleRp, theta),
		A:      s.Get(params.RoleA, theta),
		Inc:    s.Get(params.RoleInc, theta),
		Ecc:    s.Get(params.RoleEcc, theta),
		W:      s.Get(params.RoleOmega, theta),
		Law:    t.law,
		C1:     c1,
		C2:     c2,
	}, nil
}

// residualsAt returns (flux - model) in ppm, or false when the proposal has
// no valid light curve.
func (t *photTerm) residualsAt(theta []float64) ([]float64, bool) {
	tp, err := t.transitParams(theta)
	if err != nil {
		return nil, false
	}
	residuals, err := t.residualsFor(tp)
	return residuals, err == nil
}

func (t *photTerm) residualsFor(tp transit.Params) ([]float64, error) {
	model, err := t.model.LightCurve(tp)
	if err != nil {
		return nil, err
	}
	residuals := make([]float64, len(model))
	for i, m := range model {
		residuals[i] = (t.flux[i] - m) * PPM
	}
	return residuals, nil
}

func (t *photTerm) noiseLike(residuals []float64, d *noise.Decomposition, theta []float64) float64 {
	sigmaW := t.slots.Get(params.RoleSigmaW, theta)
	if t.noise != noise.ModelFlicker {
		return noise.White(residuals, t.errs, sigmaW)
	}
	sigmaR := t.slots.Get(params.RoleSigmaR, theta)
	if d != nil {
		return noise.FlickerDecomposed(d, sigmaW, sigmaR, t.gamma)
	}
	like, err := noise.Flicker(residuals, sigmaW, sigmaR, t.gamma)
	if err != nil {
		// lengths are checked in New
		panic(err)
	}
	return like
}

// freezeTransitModels evaluates each instrument's transit model once at the
// registry's fixed values and keeps the residuals for noise-only fitting.
func (p *Posterior) freezeTransitModels() error {
	for _, term := range p.phot {
		tp, err := term.transitParams(nil)
		if err != nil {
			return fmt.Errorf("instrument '%s': fixed limb-darkening coefficients: %w", term.instrument, err)
		}
		residuals, err := term.residualsFor(tp)
		if err != nil {
			return fmt.Errorf("instrument '%s': fixed transit model: %w", term.instrument, err)
		}
		term.residuals = residuals
		if term.noise == noise.ModelFlicker {
			d, err := noise.Decompose(residuals)
			if err != nil {
				return fmt.Errorf("instrument '%s': %w", term.instrument, err)
			}
			term.wavelets = d
		}
	}
	return nil
}

// FreeNames returns the free parameter names in vector order.
func (p *Posterior) FreeNames() []string { return p.layout.Free }
