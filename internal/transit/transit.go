// Package transit evaluates limb-darkened transit light curves, optionally
// integrated over a finite exposure time by sub-sampling.
package transit

import (
	"errors"
	"fmt"
	"math"

	"github.com/dyluth/exofit/internal/kepler"
	"github.com/dyluth/exofit/internal/ld"
	"gonum.org/v1/gonum/integrate/quad"
)

// quadNodes is the number of Gauss-Legendre nodes used per radial segment.
const quadNodes = 40

// ErrInvalidParams is returned by LightCurve for a physically invalid orbit.
var ErrInvalidParams = errors.New("invalid transit parameters")

// Params holds the physical parameters of one transit evaluation.
type Params struct {
	T0     float64 // time of mid-transit
	Period float64 // orbital period, same units as T0
	Rp     float64 // planet-to-star radius ratio
	A      float64 // semi-major axis in stellar radii
	Inc    float64 // inclination, degrees
	Ecc    float64 // eccentricity
	W      float64 // argument of periastron, degrees
	Law    ld.Law
	C1, C2 float64 // native limb-darkening coefficients
}

// Validate rejects parameter sets for which the light curve is undefined.
func (p Params) Validate() error {
	switch {
	case !(p.Period > 0):
		return fmt.Errorf("%w: period must be > 0, got %g", ErrInvalidParams, p.Period)
	case !(p.A > 0):
		return fmt.Errorf("%w: a must be > 0, got %g", ErrInvalidParams, p.A)
	case !(p.Rp >= 0):
		return fmt.Errorf("%w: p must be >= 0, got %g", ErrInvalidParams, p.Rp)
	case !(p.Ecc >= 0 && p.Ecc < 1):
		return fmt.Errorf("%w: ecc must be in [0, 1), got %g", ErrInvalidParams, p.Ecc)
	}
	return p.Law.Validate()
}

// Resampling describes exposure-time sub-sampling for a subset of observations.
type Resampling struct {
	Indices  []int   // observations integrated over the exposure
	N        int     // sub-samples per observation
	Exposure float64 // exposure time, same units as the observation times
}

// Model evaluates the light curve at a fixed set of observation times.
// It is immutable after construction and safe for concurrent use.
type Model struct {
	times    []float64
	direct   []int     // observations evaluated instantaneously
	sampled  []int     // observations evaluated by sub-sampling
	subTimes []float64 // len(sampled)*n sub-sample times, block per observation
	n        int
}

// NewModel prepares a model for the given observation times. A nil or empty
// resampling evaluates every observation directly.
func NewModel(times []float64, rs *Resampling) (*Model, error) {
	m := &Model{
		times: append([]float64(nil), times...),
		n:     1,
	}

	flagged := make([]bool, len(times))
	if rs != nil && len(rs.Indices) > 0 {
		if rs.N < 1 {
			return nil, fmt.Errorf("resampling count must be >= 1, got %d", rs.N)
		}
		if !(rs.Exposure > 0) {
			return nil, fmt.Errorf("exposure time must be > 0, got %g", rs.Exposure)
		}
		m.n = rs.N
		for _, idx := range rs.Indices {
			if idx < 0 || idx >= len(times) {
				return nil, fmt.Errorf("resampling index %d out of range [0, %d)", idx, len(times))
			}
			if flagged[idx] {
				continue
			}
			flagged[idx] = true
			m.sampled = append(m.sampled, idx)
			m.subTimes = append(m.subTimes, SubTimes(times[idx], rs.N, rs.Exposure)...)
		}
	}

	for i := range times {
		if !flagged[i] {
			m.direct = append(m.direct, i)
		}
	}
	return m, nil
}

// Len returns the number of observations.
func (m *Model) Len() int {
	return len(m.times)
}

// LightCurve returns the relative flux at every observation time.
func (m *Model) LightCurve(p Params) ([]float64, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	g := newGeometry(p)

	flux := make([]float64, len(m.times))
	for _, i := range m.direct {
		flux[i] = g.flux(m.times[i])
	}
	for k, i := range m.sampled {
		block := m.subTimes[k*m.n : (k+1)*m.n]
		sum := 0.0
		for _, t := range block {
			sum += g.flux(t)
		}
		flux[i] = sum / float64(m.n)
	}
	return flux, nil
}

// Evaluate is a convenience wrapper for a one-off evaluation without resampling.
func Evaluate(times []float64, p Params) ([]float64, error) {
	m, err := NewModel(times, nil)
	if err != nil {
		return nil, err
	}
	return m.LightCurve(p)
}

// SubTimes expands an observation time into n sub-times evenly spread across
// the exposure (Kipping 2010, eq. 35).
func SubTimes(t float64, n int, exposure float64) []float64 {
	out := make([]float64, n)
	for j := 1; j <= n; j++ {
		out[j-1] = t + (float64(j)-float64(n+1)/2)*exposure/float64(n)
	}
	return out
}

// Phases folds times on the ephemeris into the interval [-0.5, 0.5).
func Phases(times []float64, period, t0 float64) []float64 {
	out := make([]float64, len(times))
	for i, t := range times {
		phase := (t - t0) / period
		phase -= math.Floor(phase)
		if phase >= 0.5 {
			phase -= 1
		}
		out[i] = phase
	}
	return out
}

// geometry caches per-evaluation constants of the orbit and stellar disc.
type geometry struct {
	orbit  kepler.Orbit
	p      Params
	sinInc float64
	omega  float64
	f0     float64
}

func newGeometry(p Params) *geometry {
	omega := p.W * math.Pi / 180
	return &geometry{
		orbit:  kepler.NewOrbit(p.T0, p.Period, p.Ecc, omega),
		p:      p,
		sinInc: math.Sin(p.Inc * math.Pi / 180),
		omega:  omega,
		f0:     ld.TotalFlux(p.Law, p.C1, p.C2),
	}
}

// separation returns the projected planet-star distance in stellar radii and
// whether the planet is in front of the star.
func (g *geometry) separation(t float64) (float64, bool) {
	f := g.orbit.TrueAnomalyAt(t)
	r := g.p.A * (1 - g.p.Ecc*g.p.Ecc) / (1 + g.p.Ecc*math.Cos(f))
	s := math.Sin(g.omega + f)
	z := r * math.Sqrt(math.Max(0, 1-s*s*g.sinInc*g.sinInc))
	return z, s > 0
}

func (g *geometry) flux(t float64) float64 {
	z, front := g.separation(t)
	if !front || z >= 1+g.p.Rp || g.p.Rp == 0 {
		return 1
	}
	return 1 - occulted(g.p.Law, g.p.C1, g.p.C2, z, g.p.Rp)/g.f0
}

// occulted integrates the limb-darkened intensity over the part of a unit
// stellar disc covered by a planet of radius rp at projected distance z.
func occulted(law ld.Law, c1, c2, z, rp float64) float64 {
	intensity := func(r float64) float64 {
		return ld.Intensity(law, c1, c2, math.Sqrt(math.Max(0, 1-r*r)))
	}

	total := 0.0

	// annuli fully inside the planet disc
	if inner := math.Min(rp-z, 1); inner > 0 {
		total += integrate(0, inner, func(r float64) float64 {
			return intensity(r) * 2 * math.Pi * r
		})
	}

	// annuli crossing the planet limb
	lo := math.Abs(z - rp)
	hi := math.Min(1, z+rp)
	if hi > lo && z > 1e-12 {
		total += integrate(lo, hi, func(r float64) float64 {
			x := (r*r + z*z - rp*rp) / (2 * r * z)
			x = math.Max(-1, math.Min(1, x))
			return intensity(r) * 2 * r * math.Acos(x)
		})
	}
	return total
}

// integrate applies Gauss-Legendre quadrature after the substitution
// r = lo + (hi−lo)(1−cos θ)/2, which absorbs the square-root behaviour of the
// integrands at both ends of each segment.
func integrate(lo, hi float64, f func(float64) float64) float64 {
	half := (hi - lo) / 2
	return quad.Fixed(func(theta float64) float64 {
		r := lo + half*(1-math.Cos(theta))
		return f(r) * half * math.Sin(theta)
	}, 0, math.Pi, quadNodes, nil, 0)
}
