// Package ld converts limb-darkening coefficients between the bounded (q1, q2)
// sampling parameterisation and the native (c1, c2) coefficients of each law.
//
// Sampling in (q1, q2) ∈ [0,1]² covers exactly the physically allowed region of
// each two-parameter law (Kipping 2013; Espinoza & Jordán 2016 for the
// logarithmic law), so a uniform prior on q1 and q2 is uninformative.
package ld

import (
	"errors"
	"fmt"
	"math"
)

// ErrDomain is returned when a coefficient pair lies outside the domain of a
// transform, e.g. a negative q1 or the singular points c1+c2 = 0 and c2 = 1.
var ErrDomain = errors.New("limb-darkening transform domain error")

// Law identifies a two-parameter limb-darkening law.
type Law string

const (
	// LawQuadratic is I(μ) = 1 − c1(1−μ) − c2(1−μ)²
	LawQuadratic Law = "quadratic"

	// LawSquareRoot is I(μ) = 1 − c1(1−μ) − c2(1−√μ)
	LawSquareRoot Law = "squareroot"

	// LawLogarithmic is I(μ) = 1 − c1(1−μ) − c2·μ·ln μ
	LawLogarithmic Law = "logarithmic"
)

// Validate checks that the law is one of the supported laws.
func (l Law) Validate() error {
	switch l {
	case LawQuadratic, LawSquareRoot, LawLogarithmic:
		return nil
	default:
		return fmt.Errorf("unsupported limb-darkening law: %q (must be 'quadratic', 'squareroot' or 'logarithmic')", string(l))
	}
}

// ParseLaw converts a configuration string to a Law.
func ParseLaw(s string) (Law, error) {
	l := Law(s)
	if err := l.Validate(); err != nil {
		return "", err
	}
	return l, nil
}

// ToNative maps sampling coefficients (q1, q2) to the native coefficients of the law.
func ToNative(law Law, q1, q2 float64) (c1, c2 float64, err error) {
	if q1 < 0 || math.IsNaN(q1) || math.IsNaN(q2) {
		return 0, 0, fmt.Errorf("%w: q1=%g q2=%g", ErrDomain, q1, q2)
	}
	sq := math.Sqrt(q1)

	switch law {
	case LawQuadratic:
		return 2 * sq * q2, sq * (1 - 2*q2), nil
	case LawSquareRoot:
		return sq * (1 - 2*q2), 2 * sq * q2, nil
	case LawLogarithmic:
		return 1 - sq*q2, 1 - sq, nil
	default:
		return 0, 0, law.Validate()
	}
}

// ToSampling maps native coefficients (c1, c2) to the sampling coefficients (q1, q2).
func ToSampling(law Law, c1, c2 float64) (q1, q2 float64, err error) {
	switch law {
	case LawQuadratic, LawSquareRoot:
		sum := c1 + c2
		if sum == 0 {
			return 0, 0, fmt.Errorf("%w: c1+c2 = 0", ErrDomain)
		}
		q1 = sum * sum
		if law == LawQuadratic {
			return q1, c1 / (2 * sum), nil
		}
		return q1, c2 / (2 * sum), nil
	case LawLogarithmic:
		if c2 == 1 {
			return 0, 0, fmt.Errorf("%w: c2 = 1", ErrDomain)
		}
		return (1 - c2) * (1 - c2), (1 - c1) / (1 - c2), nil
	default:
		return 0, 0, law.Validate()
	}
}

// Intensity returns the normalised specific intensity I(μ)/I(1) of the law.
func Intensity(law Law, c1, c2, mu float64) float64 {
	switch law {
	case LawQuadratic:
		return 1 - c1*(1-mu) - c2*(1-mu)*(1-mu)
	case LawSquareRoot:
		return 1 - c1*(1-mu) - c2*(1-math.Sqrt(mu))
	case LawLogarithmic:
		if mu <= 0 {
			// μ·ln μ → 0 at the limb
			return 1 - c1
		}
		return 1 - c1*(1-mu) - c2*mu*math.Log(mu)
	default:
		return math.NaN()
	}
}

// TotalFlux returns the disc-integrated flux ∫ I(r) 2πr dr of a unit star.
func TotalFlux(law Law, c1, c2 float64) float64 {
	switch law {
	case LawQuadratic:
		return math.Pi * (1 - c1/3 - c2/6)
	case LawSquareRoot:
		return math.Pi * (1 - c1/3 - c2/5)
	case LawLogarithmic:
		return math.Pi * (1 - c1/3 + 2*c2/9)
	default:
		return math.NaN()
	}
}
