// Package kepler solves Kepler's equation for the orbit geometry shared by the
// transit and radial-velocity models.
package kepler

import "math"

const (
	maxIterations = 50
	tolerance     = 1e-12
)

// EccentricAnomaly solves M = E − e·sin E for E by Newton iteration.
// M is reduced to [-π, π) first; e must lie in [0, 1).
func EccentricAnomaly(meanAnomaly, ecc float64) float64 {
	m := math.Mod(meanAnomaly+math.Pi, 2*math.Pi)
	if m < 0 {
		m += 2 * math.Pi
	}
	m -= math.Pi

	if ecc == 0 {
		return m
	}

	e := m
	if ecc > 0.8 {
		e = math.Pi * sign(m)
	}
	for i := 0; i < maxIterations; i++ {
		f := e - ecc*math.Sin(e) - m
		step := f / (1 - ecc*math.Cos(e))
		e -= step
		if math.Abs(step) < tolerance {
			break
		}
	}
	return e
}

// TrueAnomaly returns the true anomaly at mean anomaly M.
func TrueAnomaly(meanAnomaly, ecc float64) float64 {
	if ecc == 0 {
		return EccentricAnomaly(meanAnomaly, 0)
	}
	e := EccentricAnomaly(meanAnomaly, ecc)
	return 2 * math.Atan2(math.Sqrt(1+ecc)*math.Sin(e/2), math.Sqrt(1-ecc)*math.Cos(e/2))
}

// MeanAnomalyFromTrue inverts TrueAnomaly.
func MeanAnomalyFromTrue(trueAnomaly, ecc float64) float64 {
	e := 2 * math.Atan2(math.Sqrt(1-ecc)*math.Sin(trueAnomaly/2), math.Sqrt(1+ecc)*math.Cos(trueAnomaly/2))
	return e - ecc*math.Sin(e)
}

// PeriastronTime returns the time of periastron passage for an orbit whose
// primary transit (true anomaly π/2 − ω) is centred on t0. omega is in radians.
func PeriastronTime(t0, period, ecc, omega float64) float64 {
	fTransit := math.Pi/2 - omega
	m := MeanAnomalyFromTrue(fTransit, ecc)
	return t0 - period*m/(2*math.Pi)
}

// Orbit precomputes the quantities needed to evaluate the true anomaly at
// arbitrary times.
type Orbit struct {
	Period     float64
	Ecc        float64
	Omega      float64 // argument of periastron, radians
	Periastron float64
}

// NewOrbit builds an orbit with its periastron time anchored to the transit epoch t0.
func NewOrbit(t0, period, ecc, omega float64) Orbit {
	return Orbit{
		Period:     period,
		Ecc:        ecc,
		Omega:      omega,
		Periastron: PeriastronTime(t0, period, ecc, omega),
	}
}

// TrueAnomalyAt returns the true anomaly at time t.
func (o Orbit) TrueAnomalyAt(t float64) float64 {
	m := 2 * math.Pi * (t - o.Periastron) / o.Period
	return TrueAnomaly(m, o.Ecc)
}

func sign(x float64) float64 {
	if x < 0 {
		return -1
	}
	return 1
}
