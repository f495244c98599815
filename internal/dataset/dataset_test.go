package dataset

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	t.Run("with errors and instruments", func(t *testing.T) {
		s, err := Parse(strings.NewReader(`# time flux err inst
0.0 1.0001 0.0002 kepler
0.1 0.9990 0.0002 tess

0.2 1.0000 0.0003 kepler
`))
		require.NoError(t, err)
		assert.Equal(t, 3, s.Len())
		assert.Equal(t, []float64{0, 0.1, 0.2}, s.Times)
		assert.Equal(t, []float64{0.0002, 0.0002, 0.0003}, s.Errors)
		assert.Equal(t, []string{"kepler", "tess", "kepler"}, s.Instruments)
	})

	t.Run("instrument without errors", func(t *testing.T) {
		s, err := Parse(strings.NewReader("1 10.5 harps\n2 11.0 hires\n"))
		require.NoError(t, err)
		assert.Nil(t, s.Errors)
		assert.Equal(t, []string{"harps", "hires"}, s.Instruments)
	})

	t.Run("two columns use the default instrument", func(t *testing.T) {
		s, err := Parse(strings.NewReader("1 1\n2 1\n"))
		require.NoError(t, err)
		assert.Nil(t, s.Errors)
		assert.Equal(t, []string{DefaultInstrument, DefaultInstrument}, s.Instruments)
	})

	t.Run("numeric third column is an error", func(t *testing.T) {
		s, err := Parse(strings.NewReader("0 1 2\n1 1 3\n"))
		require.NoError(t, err)
		assert.Equal(t, []float64{2, 3}, s.Errors)
		assert.Equal(t, []string{DefaultInstrument, DefaultInstrument}, s.Instruments)
	})
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name, input, errorContains string
	}{
		{"too few columns", "1\n", "expected 2 to 4 columns"},
		{"bad time", "x 1\n", "invalid time"},
		{"bad value", "1 y\n", "invalid value"},
		{"bad error column", "1 1 e kepler\n", "invalid error"},
		{"mixed error columns", "1 1 0.1\n2 1\n", "every row or on none"},
		{"numeric instrument label", "1 1 0.1 2\n", "must not be numeric"},
		{"empty", "# nothing\n", "no observations"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.input))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errorContains)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lc.dat")
	require.NoError(t, os.WriteFile(path, []byte("0 1 0.001\n1 1 0.001\n"), 0644))

	s, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2, s.Len())

	_, err = Load(filepath.Join(t.TempDir(), "missing.dat"))
	assert.ErrorContains(t, err, "failed to open data file")
}

func TestCountInstruments_FirstAppearanceOrder(t *testing.T) {
	ix := CountInstruments([]string{"tess", "kepler", "tess", "k2", "kepler"})
	assert.Equal(t, []string{"tess", "kepler", "k2"}, ix.Names)
	assert.Equal(t, []int{0, 2}, ix.Indices["tess"])
	assert.Equal(t, []int{1, 4}, ix.Indices["kepler"])
	assert.Equal(t, 1, ix.Count("k2"))
	assert.Equal(t, 0, ix.Count("spitzer"))
}

func TestSplitAndSubset(t *testing.T) {
	s := &Series{
		Times:       []float64{0, 1, 2, 3},
		Values:      []float64{10, 11, 12, 13},
		Errors:      []float64{0.1, 0.2, 0.3, 0.4},
		Instruments: []string{"a", "b", "a", "b"},
	}

	ix, parts := s.Split()
	assert.Equal(t, []string{"a", "b"}, ix.Names)
	assert.Equal(t, []float64{1, 3}, parts["b"].Times)
	assert.Equal(t, []float64{11, 13}, parts["b"].Values)
	assert.Equal(t, []float64{0.2, 0.4}, parts["b"].Errors)

	noErr := &Series{Times: []float64{0}, Values: []float64{1}, Instruments: []string{"a"}}
	assert.Nil(t, noErr.Subset([]int{0}).Errors)
}

func TestPhases(t *testing.T) {
	got := Phases([]float64{0, 0.25, 0.5, 0.75}, 1, 0)
	want := []float64{0, 0.25, -0.5, -0.25}
	if diff := cmp.Diff(want, got, cmpopts.EquateApprox(0, 1e-12)); diff != "" {
		t.Errorf("phases mismatch (-want +got):\n%s", diff)
	}
}

func TestResamplingIndices(t *testing.T) {
	times := []float64{-0.05, -0.01, 0, 0.02, 0.5, 1.0, 1.03}
	assert.Equal(t, []int{1, 2, 3, 5}, ResamplingIndices(times, 1, 0, 0.025))
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6}, ResamplingIndices(times, 1, 0, 0))
}
