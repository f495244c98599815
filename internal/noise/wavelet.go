package noise

import (
	"errors"
	"fmt"
	"math"
	"math/bits"
)

// ErrNotPowerOfTwo is returned when a residual sequence cannot be decomposed
// because its length is not a power of two.
var ErrNotPowerOfTwo = errors.New("residual length is not a power of two")

// Daubechies-4 scaling filter.
var (
	h0 = (1 + math.Sqrt(3)) / (4 * math.Sqrt(2))
	h1 = (3 + math.Sqrt(3)) / (4 * math.Sqrt(2))
	h2 = (3 - math.Sqrt(3)) / (4 * math.Sqrt(2))
	h3 = (1 - math.Sqrt(3)) / (4 * math.Sqrt(2))
)

// Decomposition is the multiresolution representation of a sequence of
// length 2^M: one approximation coefficient and M levels of detail
// coefficients, Details[m] holding 2^m coefficients (m = 0 is the coarsest).
type Decomposition struct {
	Approx  float64
	Details [][]float64
}

// Levels returns M, the number of detail levels.
func (d *Decomposition) Levels() int {
	return len(d.Details)
}

// Decompose applies the periodic, orthonormal Daubechies-4 pyramid transform
// down to a single approximation coefficient.
func Decompose(x []float64) (*Decomposition, error) {
	n := len(x)
	if n == 0 || n&(n-1) != 0 {
		return nil, fmt.Errorf("%w: got %d", ErrNotPowerOfTwo, n)
	}
	levels := bits.TrailingZeros(uint(n))

	smooth := append([]float64(nil), x...)
	details := make([][]float64, levels)
	for m := levels - 1; m >= 0; m-- {
		var detail []float64
		smooth, detail = step(smooth)
		details[m] = detail
	}

	return &Decomposition{Approx: smooth[0], Details: details}, nil
}

// step performs one level of the forward transform with periodic wrap-around,
// returning the smooth and detail halves.
func step(a []float64) (smooth, detail []float64) {
	n := len(a)
	half := n / 2
	smooth = make([]float64, half)
	detail = make([]float64, half)
	for i := 0; i < half; i++ {
		j := 2 * i
		a0, a1, a2, a3 := a[j], a[(j+1)%n], a[(j+2)%n], a[(j+3)%n]
		smooth[i] = h0*a0 + h1*a1 + h2*a2 + h3*a3
		detail[i] = h3*a0 - h2*a1 + h1*a2 - h0*a3
	}
	return smooth, detail
}
