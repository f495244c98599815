package chainstore

import (
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunStatus(t *testing.T) {
	for _, s := range []RunStatus{RunStatusRunning, RunStatusCompleted, RunStatusCancelled, RunStatusFailed} {
		assert.NoError(t, s.Validate(), s)
	}
	assert.Error(t, RunStatus("paused").Validate())

	assert.False(t, RunStatusRunning.Terminal())
	assert.True(t, RunStatusCompleted.Terminal())
	assert.True(t, RunStatusFailed.Terminal())
}

func TestRunValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Run)
		err    string
	}{
		{"valid", func(*Run) {}, ""},
		{"bad id", func(r *Run) { r.ID = "run-1" }, "invalid run ID"},
		{"empty mode", func(r *Run) { r.Mode = "" }, "run mode cannot be empty"},
		{"bad status", func(r *Run) { r.Status = "" }, "invalid status"},
		{"no walkers", func(r *Run) { r.Walkers = 0 }, "invalid walkers"},
		{"theta length", func(r *Run) { r.ThetaML = []float64{1} }, "theta_ml has 1 values for 2 free parameters"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRun("transit", []string{"p", "t0"}, 8, 10, 10, 1)
			tt.modify(r)
			err := r.Validate()
			if tt.err == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.err)
		})
	}
}

func TestNewRun(t *testing.T) {
	free := []string{"p"}
	r := NewRun("rv", free, 4, 5, 6, 7)
	free[0] = "changed"

	assert.Equal(t, []string{"p"}, r.FreeParameters)
	assert.Equal(t, RunStatusRunning, r.Status)
	assert.Equal(t, r.CreatedAtMs, r.UpdatedAtMs)
	assert.NotEqual(t, NewRun("rv", nil, 4, 5, 6, 7).ID, r.ID)
}

func TestHashToRun_Errors(t *testing.T) {
	r := NewRun("transit", []string{"p"}, 8, 10, 10, 1)
	good, err := RunToHash(r)
	require.NoError(t, err)

	toStrings := func(h map[string]interface{}) map[string]string {
		out := make(map[string]string, len(h))
		for k, v := range h {
			out[k] = fmt.Sprint(v)
		}
		return out
	}

	base := toStrings(good)
	back, err := HashToRun(base)
	require.NoError(t, err)
	assert.Equal(t, r, back)

	for field, value := range map[string]string{
		"walkers":         "many",
		"seed":            "-1",
		"free_parameters": "[",
	} {
		h := toStrings(good)
		h[field] = value
		_, err := HashToRun(h)
		assert.Error(t, err, field)
	}
}

func TestPackChain(t *testing.T) {
	samples := []float64{0, -1.5, math.Pi, math.Inf(1), math.SmallestNonzeroFloat64}
	data := PackChain(samples)
	assert.Len(t, data, 40)

	got, err := UnpackChain(data)
	require.NoError(t, err)
	assert.Equal(t, samples, got)

	_, err = UnpackChain(data[:7])
	assert.Error(t, err)

	empty, err := UnpackChain(nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}
