// Package params holds the parameter registry and the fixed layout that maps
// a sampler's free vector onto the roles each forward model needs.
package params

import (
	"errors"
	"fmt"
	"sort"

	"github.com/dyluth/exofit/internal/config"
	"github.com/dyluth/exofit/internal/ld"
	"github.com/dyluth/exofit/internal/prior"
)

// ErrPosteriorSet is returned when a parameter's posterior is written twice.
var ErrPosteriorSet = errors.New("posterior already set")

// Parameter is a named model parameter with its prior and point estimate.
type Parameter struct {
	Name      string
	Prior     prior.Prior
	Value     float64
	posterior []float64
}

// Kind returns the prior kind.
func (p *Parameter) Kind() prior.Kind { return p.Prior.Kind() }

// CheckValue reports whether x lies within the prior's support.
func (p *Parameter) CheckValue(x float64) bool { return p.Prior.InSupport(x) }

// LnPrior returns the log prior density at x.
func (p *Parameter) LnPrior(x float64) float64 { return p.Prior.LogDensity(x) }

// SetValue overwrites the point estimate.
func (p *Parameter) SetValue(x float64) { p.Value = x }

// Posterior returns the posterior samples, nil until sampling completes.
func (p *Parameter) Posterior() []float64 { return p.posterior }

// HasPosterior reports whether posterior samples are present.
func (p *Parameter) HasPosterior() bool { return len(p.posterior) > 0 }

// SetPosterior stores the posterior samples. It may succeed only once.
func (p *Parameter) SetPosterior(chain []float64) error {
	if p.HasPosterior() {
		return fmt.Errorf("parameter '%s': %w", p.Name, ErrPosteriorSet)
	}
	p.posterior = append([]float64(nil), chain...)
	return nil
}

// Registry is an ordered, name-keyed set of parameters.
type Registry struct {
	order  []string
	byName map[string]*Parameter
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]*Parameter)}
}

// Add inserts a parameter. Names must be unique.
func (r *Registry) Add(p *Parameter) error {
	if _, exists := r.byName[p.Name]; exists {
		return fmt.Errorf("duplicate parameter '%s'", p.Name)
	}
	r.order = append(r.order, p.Name)
	r.byName[p.Name] = p
	return nil
}

// Get returns the named parameter.
func (r *Registry) Get(name string) (*Parameter, bool) {
	p, ok := r.byName[name]
	return p, ok
}

// Has reports whether the named parameter exists.
func (r *Registry) Has(name string) bool {
	_, ok := r.byName[name]
	return ok
}

// MustGet returns the named parameter and panics if it is missing.
func (r *Registry) MustGet(name string) *Parameter {
	p, ok := r.byName[name]
	if !ok {
		panic(fmt.Sprintf("params: unknown parameter %q", name))
	}
	return p
}

// Names returns the parameter names in insertion order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// Values returns the current values of the named parameters.
func (r *Registry) Values(names []string) ([]float64, error) {
	out := make([]float64, len(names))
	for i, name := range names {
		p, ok := r.byName[name]
		if !ok {
			return nil, &ConfigError{Parameter: name, Reason: "not defined"}
		}
		out[i] = p.Value
	}
	return out, nil
}

// Apply writes theta back into the named parameters' values.
func (r *Registry) Apply(names []string, theta []float64) error {
	if len(names) != len(theta) {
		return fmt.Errorf("apply: %d names for %d values", len(names), len(theta))
	}
	for i, name := range names {
		p, ok := r.byName[name]
		if !ok {
			return &ConfigError{Parameter: name, Reason: "not defined"}
		}
		p.Value = theta[i]
	}
	return nil
}

// Clone returns a deep copy of the registry.
func (r *Registry) Clone() *Registry {
	out := NewRegistry()
	for _, name := range r.order {
		p := r.byName[name]
		cp := &Parameter{Name: p.Name, Prior: p.Prior, Value: p.Value}
		if p.posterior != nil {
			cp.posterior = append([]float64(nil), p.posterior...)
		}
		out.order = append(out.order, name)
		out.byName[name] = cp
	}
	return out
}

// FromConfig builds a registry from the parameters section of a validated
// configuration, in name order. Instruments that specify native limb-darkening
// coefficients seed their q1/q2 starting values from them.
func FromConfig(cfg *config.FitConfig) (*Registry, error) {
	names := make([]string, 0, len(cfg.Parameters))
	for name := range cfg.Parameters {
		names = append(names, name)
	}
	sort.Strings(names)

	reg := NewRegistry()
	for _, name := range names {
		spec := cfg.Parameters[name]
		pr, err := prior.FromSpec(spec)
		if err != nil {
			return nil, &ConfigError{Parameter: name, Reason: err.Error()}
		}
		value := 0.0
		if spec.Value != nil {
			value = *spec.Value
		}
		if err := reg.Add(&Parameter{Name: name, Prior: pr, Value: value}); err != nil {
			return nil, err
		}
	}

	if err := seedLimbDarkening(reg, cfg); err != nil {
		return nil, err
	}
	return reg, nil
}

func seedLimbDarkening(reg *Registry, cfg *config.FitConfig) error {
	instruments := cfg.InstrumentNames()
	for _, inst := range instruments {
		ic := cfg.Photometry.Instruments[inst]
		if ic.LDCoefficients == nil {
			continue
		}
		q1, q2, err := ld.ToSampling(ic.Law(), ic.LDCoefficients.U1, ic.LDCoefficients.U2)
		if err != nil {
			return fmt.Errorf("instrument '%s': failed to convert ld_coefficients: %w", inst, err)
		}
		for base, v := range map[string]float64{"q1": q1, "q2": q2} {
			name, ok := lookup(reg, base, inst, len(instruments) > 1)
			if !ok {
				return &ConfigError{Parameter: base, Instrument: inst, Reason: "not defined"}
			}
			p := reg.MustGet(name)
			if p.Kind() != prior.KindFixed {
				p.SetValue(v)
			}
		}
	}
	return nil
}
