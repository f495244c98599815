// Package rv evaluates Keplerian radial-velocity curves.
package rv

import (
	"math"

	"github.com/dyluth/exofit/internal/kepler"
)

// Evaluate returns mu + K·(cos(ω+f) + e·cos ω) at each time, where f is the
// true anomaly. omega is in radians and t0 is the time of mid-transit, so the
// radial-velocity and transit models share one orbital phase.
func Evaluate(times []float64, mu, k, omega, ecc, t0, period float64) []float64 {
	orbit := kepler.NewOrbit(t0, period, ecc, omega)
	offset := ecc * math.Cos(omega)

	out := make([]float64, len(times))
	for i, t := range times {
		f := orbit.TrueAnomalyAt(t)
		out[i] = mu + k*(math.Cos(omega+f)+offset)
	}
	return out
}
