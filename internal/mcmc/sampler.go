package mcmc

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"runtime"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
)

// DefaultStretch is the scale parameter a of the stretch move.
const DefaultStretch = 2.0

// LogProbFunc returns the log-probability of a position. It must be safe for
// concurrent use.
type LogProbFunc func(theta []float64) float64

// SamplerOptions configures an ensemble run.
type SamplerOptions struct {
	Generations int
	Workers     int     // 0 = GOMAXPROCS
	Stretch     float64 // 0 = DefaultStretch
	Seed        uint64
	Progress    func(SamplerProgress)
}

// SamplerProgress is reported after every generation.
type SamplerProgress struct {
	Generation  int // 1-based
	Generations int
	Accepted    int // cumulative accepted proposals
	Proposed    int // cumulative proposals
	BestLogProb float64
}

// AcceptanceFraction returns the running acceptance fraction.
func (p SamplerProgress) AcceptanceFraction() float64 {
	if p.Proposed == 0 {
		return 0
	}
	return float64(p.Accepted) / float64(p.Proposed)
}

// Chain holds every walker's position and log-probability at every
// generation.
type Chain struct {
	Walkers     int
	Generations int
	Dim         int
	positions   []float64 // [walker][generation][dim]
	logProbs    []float64 // [walker][generation]
	accepted    []int     // per walker
}

// At returns dimension d of walker w at generation g.
func (c *Chain) At(w, g, d int) float64 {
	return c.positions[(w*c.Generations+g)*c.Dim+d]
}

// LogProb returns the log-probability of walker w at generation g.
func (c *Chain) LogProb(w, g int) float64 {
	return c.logProbs[w*c.Generations+g]
}

// Flatten returns, for dimension d, the samples from generation burnin on,
// walker after walker.
func (c *Chain) Flatten(d, burnin int) []float64 {
	if burnin >= c.Generations {
		return nil
	}
	out := make([]float64, 0, c.Walkers*(c.Generations-burnin))
	for w := 0; w < c.Walkers; w++ {
		for g := burnin; g < c.Generations; g++ {
			out = append(out, c.At(w, g, d))
		}
	}
	return out
}

// AcceptanceFraction returns the fraction of accepted proposals per walker.
func (c *Chain) AcceptanceFraction() []float64 {
	out := make([]float64, c.Walkers)
	for w, a := range c.accepted {
		out[w] = float64(a) / float64(c.Generations)
	}
	return out
}

// MeanAcceptanceFraction averages AcceptanceFraction over walkers.
func (c *Chain) MeanAcceptanceFraction() float64 {
	total := 0
	for _, a := range c.accepted {
		total += a
	}
	return float64(total) / float64(c.Walkers*c.Generations)
}

// Best returns the highest-probability position visited.
func (c *Chain) Best() ([]float64, float64) {
	bw, bg, best := 0, 0, math.Inf(-1)
	for w := 0; w < c.Walkers; w++ {
		for g := 0; g < c.Generations; g++ {
			if lp := c.LogProb(w, g); lp > best {
				bw, bg, best = w, g, lp
			}
		}
	}
	pos := make([]float64, c.Dim)
	for d := range pos {
		pos[d] = c.At(bw, bg, d)
	}
	return pos, best
}

type proposal struct {
	walker  int
	pos     []float64
	logZ    float64 // (dim-1)·ln z
	logU    float64
	logProb float64
}

// Sample runs the affine-invariant stretch-move ensemble sampler
// (Goodman & Weare 2010) from the given initial walker positions.
//
// Each generation updates the two halves of the ensemble in turn; walkers of
// one half propose moves against the current positions of the other half, so
// their log-probabilities are evaluated in parallel. All random numbers are
// drawn serially, so results depend only on Seed and not on Workers.
// Cancellation is checked between generations.
func Sample(ctx context.Context, logProb LogProbFunc, initial [][]float64, opts SamplerOptions) (*Chain, error) {
	walkers := len(initial)
	if walkers < 4 || walkers%2 != 0 {
		return nil, fmt.Errorf("walker count must be even and >= 4, got %d", walkers)
	}
	dim := len(initial[0])
	if dim == 0 {
		return nil, fmt.Errorf("walkers have no dimensions")
	}
	if walkers < 2*dim {
		return nil, fmt.Errorf("walker count %d must be at least twice the dimension %d", walkers, dim)
	}
	for w, pos := range initial {
		if len(pos) != dim {
			return nil, fmt.Errorf("walker %d has dimension %d, expected %d", w, len(pos), dim)
		}
	}
	if opts.Generations < 1 {
		return nil, fmt.Errorf("generations must be >= 1, got %d", opts.Generations)
	}
	a := opts.Stretch
	if a == 0 {
		a = DefaultStretch
	}
	if a <= 1 {
		return nil, fmt.Errorf("stretch scale must be > 1, got %g", a)
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15))

	current := make([][]float64, walkers)
	lps := make([]float64, walkers)
	for w := range current {
		current[w] = append([]float64(nil), initial[w]...)
	}
	if err := evaluate(workers, logProb, current, lps); err != nil {
		return nil, err
	}
	for w, lp := range lps {
		if math.IsNaN(lp) {
			return nil, fmt.Errorf("initial log-probability of walker %d is NaN", w)
		}
	}

	chain := &Chain{
		Walkers:     walkers,
		Generations: opts.Generations,
		Dim:         dim,
		positions:   make([]float64, walkers*opts.Generations*dim),
		logProbs:    make([]float64, walkers*opts.Generations),
		accepted:    make([]int, walkers),
	}

	half := walkers / 2
	props := make([]proposal, half)
	for i := range props {
		props[i].pos = make([]float64, dim)
	}
	diff := make([]float64, dim)
	positions := make([][]float64, half)
	results := make([]float64, half)

	accepted, proposed := 0, 0
	best := floats.Max(lps)

	for g := 0; g < opts.Generations; g++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		for _, first := range []int{0, half} {
			other := half - first

			for i := range props {
				k := first + i
				j := other + rng.IntN(half)
				z := math.Pow((a-1)*rng.Float64()+1, 2) / a
				floats.SubTo(diff, current[k], current[j])
				floats.AddScaledTo(props[i].pos, current[j], z, diff)
				props[i].walker = k
				props[i].logZ = float64(dim-1) * math.Log(z)
				props[i].logU = math.Log(rng.Float64())
				positions[i] = props[i].pos
			}

			if err := evaluate(workers, logProb, positions, results); err != nil {
				return nil, err
			}

			for i := range props {
				p := &props[i]
				p.logProb = results[i]
				proposed++
				if math.IsNaN(p.logProb) {
					continue
				}
				if p.logU < p.logZ+p.logProb-lps[p.walker] {
					copy(current[p.walker], p.pos)
					lps[p.walker] = p.logProb
					chain.accepted[p.walker]++
					accepted++
					best = math.Max(best, p.logProb)
				}
			}
		}

		for w := 0; w < walkers; w++ {
			copy(chain.positions[(w*opts.Generations+g)*dim:], current[w])
			chain.logProbs[w*opts.Generations+g] = lps[w]
		}

		if opts.Progress != nil {
			opts.Progress(SamplerProgress{
				Generation:  g + 1,
				Generations: opts.Generations,
				Accepted:    accepted,
				Proposed:    proposed,
				BestLogProb: best,
			})
		}
	}
	return chain, nil
}

// evaluate fills out[i] = logProb(positions[i]) using up to workers goroutines.
func evaluate(workers int, logProb LogProbFunc, positions [][]float64, out []float64) error {
	var g errgroup.Group
	g.SetLimit(workers)
	for i, pos := range positions {
		g.Go(func() error {
			out[i] = logProb(pos)
			return nil
		})
	}
	return g.Wait()
}
