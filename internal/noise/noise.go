// Package noise implements the photometric and radial-velocity noise
// likelihoods: independent Gaussian ("white") noise and 1/f-like
// ("flicker") noise modelled in the wavelet domain (Carter & Winn 2009).
//
// All functions take residuals in one fixed unit per run. Transit residuals
// are expressed in parts per million; radial-velocity residuals in the units
// of the data.
package noise

import (
	"fmt"
	"math"
)

var log2Pi = math.Log(2 * math.Pi)

// Model selects a noise likelihood.
type Model string

const (
	// ModelWhite treats residuals as independent Gaussians.
	ModelWhite Model = "white"

	// ModelFlicker adds a correlated 1/f component with amplitude sigma_r.
	ModelFlicker Model = "flicker"
)

// Validate checks that the model is supported.
func (m Model) Validate() error {
	switch m {
	case ModelWhite, ModelFlicker:
		return nil
	default:
		return fmt.Errorf("unsupported noise model: %q (must be 'white' or 'flicker')", string(m))
	}
}

// ParseModel converts a configuration string to a Model.
func ParseModel(s string) (Model, error) {
	m := Model(s)
	if err := m.Validate(); err != nil {
		return "", err
	}
	return m, nil
}

// White returns Σ −½[log(2π/τ_i) + τ_i·r_i²] with τ_i = 1/(σ_i² + σ_w²).
// errs may be nil when no external uncertainties are available.
func White(residuals, errs []float64, sigmaW float64) float64 {
	jitter := sigmaW * sigmaW
	sum := 0.0
	for i, r := range residuals {
		variance := jitter
		if errs != nil {
			variance += errs[i] * errs[i]
		}
		tau := 1 / variance
		sum += log2Pi - math.Log(tau) + tau*r*r
	}
	return -0.5 * sum
}

// NormalLogDensity is the log-density of x under N(0, 1/tau).
func NormalLogDensity(x, tau float64) float64 {
	return 0.5 * (math.Log(tau) - log2Pi - tau*x*x)
}

// GammaFactor returns g(γ) for the variance of the approximation coefficient.
func GammaFactor(gamma float64) float64 {
	if gamma == 1 {
		return 1 / (2 * math.Ln2)
	}
	return 2 - math.Pow(2, gamma)
}

// Flicker returns the log-likelihood of residuals under white noise of
// amplitude sigmaW plus a 1/f^gamma component of amplitude sigmaR.
// The residual length must be a power of two.
func Flicker(residuals []float64, sigmaW, sigmaR, gamma float64) (float64, error) {
	d, err := Decompose(residuals)
	if err != nil {
		return 0, err
	}
	return FlickerDecomposed(d, sigmaW, sigmaR, gamma), nil
}

// FlickerDecomposed evaluates the flicker likelihood on a precomputed
// decomposition. A non-positive variance on any coefficient yields -Inf.
func FlickerDecomposed(d *Decomposition, sigmaW, sigmaR, gamma float64) float64 {
	white := sigmaW * sigmaW
	red := sigmaR * sigmaR

	variance := red*GammaFactor(gamma) + white
	if !(variance > 0) {
		return math.Inf(-1)
	}
	like := NormalLogDensity(d.Approx, 1/variance)
	for m, level := range d.Details {
		variance := red*math.Pow(2, -gamma*float64(m+1)) + white
		if !(variance > 0) {
			return math.Inf(-1)
		}
		tau := 1 / variance
		for _, c := range level {
			like += NormalLogDensity(c, tau)
		}
	}
	return like
}
