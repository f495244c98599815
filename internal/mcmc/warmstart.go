package mcmc

import (
	"math"

	"gonum.org/v1/gonum/optimize"
)

// penalty stands in for -log p where the posterior vanishes, keeping the
// simplex arithmetic finite.
const penalty = 1e300

// WarmStartResult is the outcome of the maximum-likelihood search.
type WarmStartResult struct {
	X         []float64
	LogProb   float64
	Status    string
	Converged bool
	Err       error // optimizer error, if any; never fatal
}

// WarmStart maximizes logProb from x0 with Nelder-Mead. It always returns a
// usable point: the optimizer's best if it improved on x0, otherwise x0.
func WarmStart(logProb LogProbFunc, x0 []float64, maxEvaluations int) WarmStartResult {
	objective := func(x []float64) float64 {
		lp := logProb(x)
		if math.IsNaN(lp) || math.IsInf(lp, 0) {
			return penalty
		}
		return -lp
	}

	start := WarmStartResult{X: append([]float64(nil), x0...), LogProb: logProb(x0)}

	settings := &optimize.Settings{
		FuncEvaluations: maxEvaluations,
		Converger: &optimize.FunctionConverge{
			Absolute:   1e-10,
			Relative:   1e-10,
			Iterations: 200,
		},
	}
	result, err := optimize.Minimize(optimize.Problem{Func: objective}, start.X, settings, &optimize.NelderMead{})
	if result == nil {
		start.Err = err
		start.Status = "failed"
		return start
	}

	out := WarmStartResult{
		X:         result.X,
		LogProb:   -result.F,
		Status:    result.Status.String(),
		Converged: err == nil && result.Status == optimize.FunctionConvergence,
		Err:       err,
	}
	if result.F >= penalty || out.LogProb < start.LogProb {
		start.Status = out.Status
		start.Err = err
		return start
	}
	return out
}
