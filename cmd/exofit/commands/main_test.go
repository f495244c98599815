package commands

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/dyluth/exofit/internal/printer"
	"github.com/dyluth/exofit/internal/rv"
	"github.com/dyluth/exofit/pkg/chainstore"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	printer.Stdout = io.Discard
	printer.Stderr = io.Discard
	os.Exit(m.Run())
}

func setupStore(t *testing.T) (*chainstore.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.Start())
	t.Cleanup(mr.Close)

	client, err := chainstore.NewClient(&redis.Options{Addr: mr.Addr()}, "test-instance")
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client, mr
}

const rvConfig = `version: "1.0"
mode: rv
rv:
  data: rv.dat
sampler:
  walkers: 8
  burnin: 100
  jumps: 100
  seed: 3
parameters:
  P: {type: FIXED, value: 3.5}
  t0: {type: FIXED, value: 0}
  ecc: {type: FIXED, value: 0}
  omega: {type: FIXED, value: 90}
  K: {type: Uniform, min: 0, max: 100, value: 45}
  mu: {type: Uniform, min: 0, max: 30, value: 11}
`

// writeRVFit writes a noiseless radial-velocity curve with K=50 and mu=12
// plus its configuration, returning the configuration path.
func writeRVFit(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	times := make([]float64, 30)
	for i := range times {
		times[i] = 7 * float64(i) / 29
	}
	values := rv.Evaluate(times, 12, 50, math.Pi/2, 0, 0, 3.5)

	var b strings.Builder
	b.WriteString("# time rv error\n")
	for i := range times {
		fmt.Fprintf(&b, "%.6f %.6f 2.0\n", times[i], values[i])
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "rv.dat"), []byte(b.String()), 0o644))

	path := filepath.Join(dir, "fit.yaml")
	require.NoError(t, os.WriteFile(path, []byte(rvConfig), 0o644))
	return path
}

func storedRun(t *testing.T, store *chainstore.Client, status chainstore.RunStatus) *chainstore.Run {
	t.Helper()
	run := chainstore.NewRun("rv", []string{"K", "mu"}, 8, 100, 100, 3)
	run.Status = status
	require.NoError(t, store.SaveRun(context.Background(), run))
	return run
}
