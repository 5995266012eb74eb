/*
Copyright 2020 GramLabs, Inc.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package sampler

import (
	"math"

	"github.com/thestormforge/optimize-engine/internal/seed"
	"github.com/thestormforge/optimize-engine/internal/space"
)

// GP is a Gaussian-Process sampler with an RBF kernel and a selectable
// acquisition function (Expected Improvement, Upper Confidence Bound, or
// Probability of Improvement). It is not re-derived from a specific
// reference implementation (spec.md §4.5 leaves the concrete algorithm
// unspecified) but preserves the shared contract: no global state,
// explicit RNG threading, and numerically floored denominators.
type GP struct {
	MinObs      int
	NCandidates int
	Acquisition string // "ei", "ucb", "pi"
	Lengthscale float64
	NoiseVar    float64
	Kappa       float64 // UCB exploration weight
	Maximize    bool
}

// NewGP constructs the GP sampler from options: "min_obs" (default 5),
// "n_candidates" (default 64), "acquisition" (default "ei"),
// "lengthscale" (default 0.2), "noise_var" (default 1e-6), "kappa"
// (default 2.0, UCB only).
func NewGP(opts map[string]interface{}) *GP {
	g := &GP{
		MinObs:      optInt(opts, "min_obs", 5),
		NCandidates: optInt(opts, "n_candidates", 64),
		Acquisition: "ei",
		Lengthscale: optFloat(opts, "lengthscale", 0.2),
		NoiseVar:    optFloat(opts, "noise_var", 1e-6),
		Kappa:       optFloat(opts, "kappa", 2.0),
	}
	if a, ok := opts["acquisition"].(string); ok && a != "" {
		g.Acquisition = a
	}
	if goal, _ := opts["goal"].(string); goal == "maximize" {
		g.Maximize = true
	}
	return g
}

func rbfKernel(x, y []float64, lengthscale float64) float64 {
	sumSq := 0.0
	for i := range x {
		d := x[i] - y[i]
		sumSq += d * d
	}
	return math.Exp(-sumSq / (2 * lengthscale * lengthscale))
}

// solveLinear solves A x = b via Gauss-Jordan elimination with partial
// pivoting, adequate for the small (n <= a few hundred) systems a
// hyperparameter study's history produces.
func solveLinear(a [][]float64, b []float64) []float64 {
	n := len(b)
	aug := make([][]float64, n)
	for i := range aug {
		aug[i] = make([]float64, n+1)
		copy(aug[i], a[i])
		aug[i][n] = b[i]
	}
	for col := 0; col < n; col++ {
		pivot := col
		for r := col + 1; r < n; r++ {
			if math.Abs(aug[r][col]) > math.Abs(aug[pivot][col]) {
				pivot = r
			}
		}
		aug[col], aug[pivot] = aug[pivot], aug[col]
		d := aug[col][col]
		if math.Abs(d) < 1e-12 {
			d = 1e-12
		}
		for k := col; k <= n; k++ {
			aug[col][k] /= d
		}
		for r := 0; r < n; r++ {
			if r == col {
				continue
			}
			factor := aug[r][col]
			for k := col; k <= n; k++ {
				aug[r][k] -= factor * aug[col][k]
			}
		}
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = aug[i][n]
	}
	return out
}

// posterior computes the GP posterior mean and variance at x given
// training points X (already encoded into [0,1]^d), their covariance
// matrix K (with noise already added to the diagonal), and alpha =
// K^-1 y.
func (g *GP) posterior(x []float64, X [][]float64, K [][]float64, alpha []float64) (mean, variance float64) {
	n := len(X)
	kStar := make([]float64, n)
	for i := range X {
		kStar[i] = rbfKernel(x, X[i], g.Lengthscale)
	}
	for i := range kStar {
		mean += kStar[i] * alpha[i]
	}

	variance = rbfKernel(x, x, g.Lengthscale) + g.NoiseVar
	if n > 0 {
		v := solveLinear(K, kStar)
		reduction := 0.0
		for i := range kStar {
			reduction += kStar[i] * v[i]
		}
		variance -= reduction
	}
	return mean, math.Max(variance, 1e-9)
}

func (g *GP) acquire(mean, variance, best float64) float64 {
	std := math.Sqrt(variance)
	switch g.Acquisition {
	case "ucb":
		if g.Maximize {
			return mean + g.Kappa*std
		}
		return -mean + g.Kappa*std
	case "pi":
		z := (best - mean) / math.Max(std, 1e-9)
		if g.Maximize {
			z = -z
		}
		return seed.StdNormalCDF(z)
	default: // "ei"
		improve := best - mean
		if g.Maximize {
			improve = mean - best
		}
		z := improve / math.Max(std, 1e-9)
		return improve*seed.StdNormalCDF(z) + std*gaussianPDFAt(z)
	}
}

func gaussianPDFAt(z float64) float64 {
	return math.Exp(-0.5*z*z) / math.Sqrt(2*math.Pi)
}

func (g *GP) Next(rng seed.State, spaceFn space.SpaceFunc, trialIndex int, history []HistoryItem) (space.Values, seed.State, error) {
	sp := spaceFn(trialIndex)
	if err := sp.Validate(); err != nil {
		return nil, rng, err
	}

	finite, any := sanitize(history)
	if !any || len(finite) < g.MinObs {
		return NewRandom().Next(rng, spaceFn, trialIndex, history)
	}

	names := sp.Names()
	X := make([][]float64, len(finite))
	y := make([]float64, len(finite))
	best := finite[0].Score
	for i, h := range finite {
		row := make([]float64, len(names))
		for j, name := range names {
			row[j] = sp[name].Encode(h.Params[name])
		}
		X[i] = row
		y[i] = h.Score
		if (g.Maximize && h.Score > best) || (!g.Maximize && h.Score < best) {
			best = h.Score
		}
	}

	K := make([][]float64, len(X))
	for i := range K {
		K[i] = make([]float64, len(X))
		for j := range X {
			k := rbfKernel(X[i], X[j], g.Lengthscale)
			if i == j {
				k += g.NoiseVar
			}
			K[i][j] = k
		}
	}
	alpha := solveLinear(K, y)

	var bestValues space.Values
	bestAcq := math.Inf(-1)
	for c := 0; c < g.NCandidates; c++ {
		cand := make(space.Values, len(names))
		enc := make([]float64, len(names))
		for j, name := range names {
			var v float64
			v, rng = seed.UniformUnit(rng)
			enc[j] = v
			cand[name] = sp[name].Clamp(sp[name].Decode(v))
		}
		mean, variance := g.posterior(enc, X, K, alpha)
		acq := g.acquire(mean, variance, best)
		if acq > bestAcq {
			bestAcq = acq
			bestValues = cand
		}
	}
	return bestValues, rng, nil
}
