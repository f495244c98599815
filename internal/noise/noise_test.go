package noise

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWhite_ZeroResiduals(t *testing.T) {
	const n = 16
	residuals := make([]float64, n)
	errs := make([]float64, n)
	for i := range errs {
		errs[i] = 0
	}

	t.Run("unit jitter and no external errors", func(t *testing.T) {
		got := White(residuals, nil, 1)
		assert.InDelta(t, -0.5*n*math.Log(2*math.Pi), got, 1e-12)
	})

	t.Run("unit jitter and zero external errors", func(t *testing.T) {
		got := White(residuals, errs, 1)
		assert.InDelta(t, -0.5*n*math.Log(2*math.Pi), got, 1e-12)
	})
}

func TestWhite_CombinesExternalErrorsAndJitter(t *testing.T) {
	residuals := []float64{1, -2}
	errs := []float64{3, 4}
	sigmaW := 4.0

	want := 0.0
	for i, r := range residuals {
		variance := errs[i]*errs[i] + sigmaW*sigmaW
		want += -0.5 * (math.Log(2*math.Pi*variance) + r*r/variance)
	}
	assert.InDelta(t, want, White(residuals, errs, sigmaW), 1e-12)
}

func TestDecompose_RejectsNonPowerOfTwo(t *testing.T) {
	for _, n := range []int{0, 3, 6, 100} {
		_, err := Decompose(make([]float64, n))
		assert.ErrorIs(t, err, ErrNotPowerOfTwo, "n=%d", n)
	}

	_, err := Flicker(make([]float64, 12), 1, 1, 1)
	assert.ErrorIs(t, err, ErrNotPowerOfTwo)
}

func TestDecompose_Structure(t *testing.T) {
	d, err := Decompose(make([]float64, 64))
	require.NoError(t, err)
	assert.Equal(t, 6, d.Levels())
	for m, level := range d.Details {
		assert.Len(t, level, 1<<m)
	}

	single, err := Decompose([]float64{2.5})
	require.NoError(t, err)
	assert.Equal(t, 0, single.Levels())
	assert.Equal(t, 2.5, single.Approx)
}

func TestDecompose_PreservesEnergy(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	x := make([]float64, 128)
	energy := 0.0
	for i := range x {
		x[i] = rng.NormFloat64()
		energy += x[i] * x[i]
	}

	d, err := Decompose(x)
	require.NoError(t, err)

	got := d.Approx * d.Approx
	for _, level := range d.Details {
		for _, c := range level {
			got += c * c
		}
	}
	assert.InDelta(t, energy, got, 1e-9)
}

func TestDecompose_ConstantSignalHasNoDetail(t *testing.T) {
	x := make([]float64, 32)
	for i := range x {
		x[i] = 3
	}
	d, err := Decompose(x)
	require.NoError(t, err)
	assert.InDelta(t, 3*math.Sqrt(32), d.Approx, 1e-9)
	for _, level := range d.Details {
		for _, c := range level {
			assert.InDelta(t, 0, c, 1e-12)
		}
	}
}

func TestDecompose_TwoPointsIsHaar(t *testing.T) {
	d, err := Decompose([]float64{1, 3})
	require.NoError(t, err)
	assert.InDelta(t, 4/math.Sqrt2, d.Approx, 1e-12)
	require.Len(t, d.Details, 1)
	assert.InDelta(t, -2/math.Sqrt2, d.Details[0][0], 1e-12)
}

func TestFlicker_ZeroResiduals(t *testing.T) {
	const levels = 5
	residuals := make([]float64, 1<<levels)
	sigmaW, sigmaR := 2.0, 3.0

	for _, gamma := range []float64{1, 0.5, 0.25} {
		want := 0.5 * (math.Log(1/(sigmaR*sigmaR*GammaFactor(gamma)+sigmaW*sigmaW)) - math.Log(2*math.Pi))
		for m := 0; m < levels; m++ {
			tau := 1 / (sigmaR*sigmaR*math.Pow(2, -gamma*float64(m+1)) + sigmaW*sigmaW)
			want += float64(int(1)<<m) * 0.5 * (math.Log(tau) - math.Log(2*math.Pi))
		}

		got, err := Flicker(residuals, sigmaW, sigmaR, gamma)
		require.NoError(t, err)
		assert.False(t, math.IsInf(got, 0) || math.IsNaN(got))
		assert.InDelta(t, want, got, 1e-10, "gamma=%g", gamma)
	}
}

func TestFlicker_NonPositiveVarianceRejects(t *testing.T) {
	residuals := make([]float64, 32)

	// g(1.5) = 2-2^1.5 < 0 and sigma_r^2 outweighs sigma_w^2
	got, err := Flicker(residuals, 2, 3, 1.5)
	require.NoError(t, err)
	assert.True(t, math.IsInf(got, -1))

	got, err = Flicker(residuals, 0, 0, 1)
	require.NoError(t, err)
	assert.True(t, math.IsInf(got, -1))
}

func TestFlicker_ReducesToWhiteWithoutCorrelatedComponent(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 8))
	residuals := make([]float64, 256)
	for i := range residuals {
		residuals[i] = 150 * rng.NormFloat64()
	}

	// orthonormal transform: same Gaussian likelihood in either basis
	flicker, err := Flicker(residuals, 150, 0, 1)
	require.NoError(t, err)
	assert.InDelta(t, White(residuals, nil, 150), flicker, 1e-8)

	flickerGamma, err := Flicker(residuals, 150, 0, 0.7)
	require.NoError(t, err)
	assert.InDelta(t, flicker, flickerGamma, 1e-10)
}

func TestGammaFactor(t *testing.T) {
	assert.InDelta(t, 1/(2*math.Ln2), GammaFactor(1), 1e-15)
	assert.InDelta(t, 2-math.Pow(2, 0.5), GammaFactor(0.5), 1e-15)
}

func TestParseModel(t *testing.T) {
	m, err := ParseModel("flicker")
	require.NoError(t, err)
	assert.Equal(t, ModelFlicker, m)

	_, err = ParseModel("red")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported noise model")
}
