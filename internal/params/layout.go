package params

import (
	"fmt"
	"math"

	"github.com/dyluth/exofit/internal/config"
	"github.com/dyluth/exofit/internal/noise"
	"github.com/dyluth/exofit/internal/prior"
)

// Role is a logical model input resolved to a slot at setup.
type Role int

const (
	RolePeriod Role = iota
	RoleInc
	RoleT0
	RoleA
	RoleRp
	RoleSigmaW
	RoleQ1
	RoleQ2
	RoleSigmaR
	RoleEcc
	RoleOmega
	RoleK
	RoleMu
	RoleSigmaWRV
	numRoles
)

// Slot is either an index into the free vector or a constant.
type Slot struct {
	Name  string
	Index int // -1 when the value is constant
	Value float64
}

// Free reports whether the slot reads from the free vector.
func (s Slot) Free() bool { return s.Index >= 0 }

// At returns the slot's value for the candidate vector theta.
func (s Slot) At(theta []float64) float64 {
	if s.Index >= 0 {
		return theta[s.Index]
	}
	return s.Value
}

// Slots is the role table of one instrument.
type Slots [numRoles]Slot

// Get resolves role r against theta.
func (s *Slots) Get(r Role, theta []float64) float64 {
	return s[r].At(theta)
}

// Layout is the immutable mapping from the free vector to model inputs,
// computed once per run. It holds a snapshot of the free parameters' priors
// so evaluating it never touches the registry.
type Layout struct {
	Mode     config.Mode
	Free     []string
	Checked  []string
	Suffixes SuffixMap

	PhotInstruments []string
	Photometry      []Slots
	RVInstruments   []string
	RV              []Slots

	priors  []prior.Prior
	checked []bool
}

// Dim returns the dimensionality of the free vector.
func (l *Layout) Dim() int { return len(l.Free) }

// Index returns the position of name in the free vector, or -1.
func (l *Layout) Index(name string) int {
	for i, n := range l.Free {
		if n == name {
			return i
		}
	}
	return -1
}

// JointLogPrior returns the summed log prior of theta, or -Inf as soon as a
// bounded parameter falls outside its support.
func (l *Layout) JointLogPrior(theta []float64) float64 {
	total := 0.0
	for i, pr := range l.priors {
		x := theta[i]
		if l.checked[i] && !pr.InSupport(x) {
			return math.Inf(-1)
		}
		total += pr.LogDensity(x)
	}
	return total
}

// Start returns the registry's current values for the free vector.
func (l *Layout) Start(reg *Registry) ([]float64, error) {
	return reg.Values(l.Free)
}

// Classify splits candidate names into free (not FIXED) and checked
// (bounded support) names. Missing names are configuration errors.
func Classify(reg *Registry, candidates []string) (free, checked []string, err error) {
	for _, name := range candidates {
		p, ok := reg.Get(name)
		if !ok {
			return nil, nil, &ConfigError{Parameter: name, Reason: "not defined"}
		}
		if p.Kind() == prior.KindFixed {
			continue
		}
		free = append(free, name)
		if p.Kind().Bounded() {
			checked = append(checked, name)
		}
	}
	return free, checked, nil
}

// BuildLayout computes the free vector for the configured mode and the
// per-instrument slot tables. phot and rv list the instruments present in
// the data, in first-appearance order.
func BuildLayout(reg *Registry, cfg *config.FitConfig, phot, rv []string) (*Layout, error) {
	l := &Layout{Mode: cfg.Mode}

	var models map[string]noise.Model
	if cfg.Mode.UsesPhotometry() {
		if len(phot) == 0 {
			return nil, fmt.Errorf("mode '%s' requires photometric data", cfg.Mode)
		}
		models = make(map[string]noise.Model, len(phot))
		for _, inst := range phot {
			ic, ok := cfg.Photometry.Instruments[inst]
			if !ok {
				return nil, fmt.Errorf("instrument '%s' found in photometry data but not configured", inst)
			}
			models[inst] = ic.Noise()
		}
		suffixes, err := ResolveSuffixes(reg, phot, models)
		if err != nil {
			return nil, err
		}
		l.Suffixes = suffixes
		l.PhotInstruments = append([]string(nil), phot...)
	}
	if cfg.Mode.UsesRV() {
		if len(rv) == 0 {
			return nil, fmt.Errorf("mode '%s' requires radial-velocity data", cfg.Mode)
		}
		l.RVInstruments = append([]string(nil), rv...)
	}

	var candidates []string
	switch cfg.Mode {
	case config.ModeTransit:
		candidates = concat(l.transitGroup(models), commonGroup())
	case config.ModeRV:
		candidates = concat(l.rvGroup(reg), commonGroup())
	case config.ModeFull:
		candidates = concat(l.transitGroup(models), l.rvGroup(reg), commonGroup())
	case config.ModeTransitNoise:
		candidates = l.noiseGroup(models)
	default:
		return nil, cfg.Mode.Validate()
	}

	free, checked, err := Classify(reg, dedupe(candidates))
	if err != nil {
		return nil, err
	}
	l.Free = free
	l.Checked = checked

	isChecked := make(map[string]bool, len(checked))
	for _, name := range checked {
		isChecked[name] = true
	}
	index := make(map[string]int, len(free))
	for i, name := range free {
		index[name] = i
		l.priors = append(l.priors, reg.MustGet(name).Prior)
		l.checked = append(l.checked, isChecked[name])
	}

	r := resolver{reg: reg, index: index}
	if cfg.Mode.UsesPhotometry() {
		for _, inst := range l.PhotInstruments {
			var s Slots
			for _, role := range []struct {
				role Role
				name string
			}{
				{RolePeriod, "P"},
				{RoleInc, "inc"},
				{RoleT0, l.Suffixes.Name(inst, "t0")},
				{RoleA, l.Suffixes.Name(inst, "a")},
				{RoleRp, l.Suffixes.Name(inst, "p")},
				{RoleSigmaW, l.Suffixes.Name(inst, "sigma_w")},
				{RoleQ1, l.Suffixes.Name(inst, "q1")},
				{RoleQ2, l.Suffixes.Name(inst, "q2")},
				{RoleEcc, "ecc"},
				{RoleOmega, "omega"},
			} {
				if s[role.role], err = r.slot(role.name, inst); err != nil {
					return nil, err
				}
			}
			if models[inst] == noise.ModelFlicker {
				if s[RoleSigmaR], err = r.slot(l.Suffixes.Name(inst, "sigma_r"), inst); err != nil {
					return nil, err
				}
			} else {
				s[RoleSigmaR] = Slot{Name: "sigma_r", Index: -1}
			}
			l.Photometry = append(l.Photometry, s)
		}
	}

	if cfg.Mode.UsesRV() {
		t0 := "t0"
		if !reg.Has(t0) && len(l.PhotInstruments) > 0 {
			t0 = l.Suffixes.Name(l.PhotInstruments[0], "t0")
		}
		for _, inst := range l.RVInstruments {
			mu, jitter := l.rvNames(inst)
			var s Slots
			for _, role := range []struct {
				role Role
				name string
			}{
				{RolePeriod, "P"},
				{RoleT0, t0},
				{RoleK, "K"},
				{RoleMu, mu},
				{RoleEcc, "ecc"},
				{RoleOmega, "omega"},
			} {
				if s[role.role], err = r.slot(role.name, inst); err != nil {
					return nil, err
				}
			}
			if reg.Has(jitter) {
				if s[RoleSigmaWRV], err = r.slot(jitter, inst); err != nil {
					return nil, err
				}
			} else {
				s[RoleSigmaWRV] = Slot{Name: jitter, Index: -1}
			}
			l.RV = append(l.RV, s)
		}
	}

	return l, nil
}

func (l *Layout) transitGroup(models map[string]noise.Model) []string {
	if len(l.PhotInstruments) == 1 {
		out := []string{"P", "t0", "a", "p", "inc", "sigma_w", "q1", "q2"}
		if models[l.PhotInstruments[0]] == noise.ModelFlicker {
			out = append(out, "sigma_r")
		}
		return out
	}
	out := []string{"P", "inc"}
	for _, inst := range l.PhotInstruments {
		for _, base := range InstrumentBases {
			out = append(out, l.Suffixes.Name(inst, base))
		}
		if models[inst] == noise.ModelFlicker {
			out = append(out, l.Suffixes.Name(inst, "sigma_r"))
		}
	}
	return out
}

func (l *Layout) rvNames(inst string) (mu, jitter string) {
	if len(l.RVInstruments) > 1 {
		return "mu_" + inst, "sigma_w_rv_" + inst
	}
	return "mu", "sigma_w_rv"
}

func (l *Layout) rvGroup(reg *Registry) []string {
	out := []string{"K"}
	for _, inst := range l.RVInstruments {
		mu, jitter := l.rvNames(inst)
		out = append(out, mu)
		// absent jitter terms are held at zero
		if reg.Has(jitter) {
			out = append(out, jitter)
		}
	}
	return out
}

func (l *Layout) noiseGroup(models map[string]noise.Model) []string {
	var out []string
	for _, inst := range l.PhotInstruments {
		out = append(out, l.Suffixes.Name(inst, "sigma_w"))
		if models[inst] == noise.ModelFlicker {
			out = append(out, l.Suffixes.Name(inst, "sigma_r"))
		}
	}
	return out
}

func commonGroup() []string { return []string{"ecc", "omega"} }

type resolver struct {
	reg   *Registry
	index map[string]int
}

func (r resolver) slot(name, inst string) (Slot, error) {
	if i, ok := r.index[name]; ok {
		return Slot{Name: name, Index: i}, nil
	}
	p, ok := r.reg.Get(name)
	if !ok {
		return Slot{}, &ConfigError{Parameter: name, Instrument: inst, Reason: "not defined"}
	}
	return Slot{Name: name, Index: -1, Value: p.Value}, nil
}

func concat(groups ...[]string) []string {
	var out []string
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

func dedupe(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := names[:0:0]
	for _, n := range names {
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	return out
}
