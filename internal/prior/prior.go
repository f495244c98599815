// Package prior provides the prior shapes a parameter can carry.
package prior

import (
	"fmt"
	"math"

	"github.com/dyluth/exofit/internal/config"
	"gonum.org/v1/gonum/stat/distuv"
)

// Kind names a prior shape.
type Kind string

const (
	KindFixed    Kind = "FIXED"
	KindUniform  Kind = "Uniform"
	KindJeffreys Kind = "Jeffreys"
	KindNormal   Kind = "Normal"
)

// Bounded reports whether the kind has a finite support that must be
// checked before its density is evaluated.
func (k Kind) Bounded() bool {
	return k == KindUniform || k == KindJeffreys
}

// Prior is a one-dimensional prior density.
type Prior interface {
	Kind() Kind
	InSupport(x float64) bool
	LogDensity(x float64) float64
}

type fixed struct{ value float64 }

// Fixed returns a prior for a parameter held at value.
func Fixed(value float64) Prior { return fixed{value: value} }

func (fixed) Kind() Kind                   { return KindFixed }
func (f fixed) InSupport(x float64) bool   { return x == f.value }
func (fixed) LogDensity(x float64) float64 { return 0 }

type uniform struct{ dist distuv.Uniform }

// Uniform returns a flat prior on [min, max].
func Uniform(min, max float64) Prior {
	return uniform{dist: distuv.Uniform{Min: min, Max: max}}
}

func (uniform) Kind() Kind { return KindUniform }

func (u uniform) InSupport(x float64) bool {
	return x >= u.dist.Min && x <= u.dist.Max
}

func (u uniform) LogDensity(x float64) float64 {
	if !u.InSupport(x) {
		return math.Inf(-1)
	}
	return u.dist.LogProb(x)
}

type jeffreys struct {
	min, max float64
	logNorm  float64
}

// Jeffreys returns the scale-invariant prior 1/(x ln(max/min)) on [min, max].
func Jeffreys(min, max float64) Prior {
	return jeffreys{min: min, max: max, logNorm: math.Log(math.Log(max / min))}
}

func (jeffreys) Kind() Kind { return KindJeffreys }

func (j jeffreys) InSupport(x float64) bool {
	return x >= j.min && x <= j.max
}

func (j jeffreys) LogDensity(x float64) float64 {
	if !j.InSupport(x) {
		return math.Inf(-1)
	}
	return -math.Log(x) - j.logNorm
}

type normal struct{ dist distuv.Normal }

// Normal returns a Gaussian prior with mean mu and standard deviation sigma.
func Normal(mu, sigma float64) Prior {
	return normal{dist: distuv.Normal{Mu: mu, Sigma: sigma}}
}

func (normal) Kind() Kind                     { return KindNormal }
func (normal) InSupport(float64) bool         { return true }
func (n normal) LogDensity(x float64) float64 { return n.dist.LogProb(x) }

// FromSpec builds the prior described by a validated parameter spec.
func FromSpec(spec config.ParameterSpec) (Prior, error) {
	switch Kind(spec.Type) {
	case KindFixed:
		if spec.Value == nil {
			return nil, fmt.Errorf("FIXED prior requires a value")
		}
		return Fixed(*spec.Value), nil
	case KindUniform:
		if spec.Min == nil || spec.Max == nil {
			return nil, fmt.Errorf("Uniform prior requires min and max")
		}
		return Uniform(*spec.Min, *spec.Max), nil
	case KindJeffreys:
		if spec.Min == nil || spec.Max == nil || *spec.Min <= 0 {
			return nil, fmt.Errorf("Jeffreys prior requires 0 < min < max")
		}
		return Jeffreys(*spec.Min, *spec.Max), nil
	case KindNormal:
		if spec.Mu == nil || spec.Sigma == nil {
			return nil, fmt.Errorf("Normal prior requires mu and sigma")
		}
		return Normal(*spec.Mu, *spec.Sigma), nil
	default:
		return nil, fmt.Errorf("unsupported prior type: %s", spec.Type)
	}
}
