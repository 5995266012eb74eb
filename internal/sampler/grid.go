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

	"github.com/thestormforge/optimize-engine/internal/apperror"
	"github.com/thestormforge/optimize-engine/internal/seed"
	"github.com/thestormforge/optimize-engine/internal/space"
)

// Grid builds a Cartesian product of discretised parameter domains and
// cycles through it in a stable order, repeating the product when
// n_trials exceeds its size. Because the grid depends on the space
// returned for trial index 0, it assumes a non-conditional search space;
// conditional spaces should use a different sampler.
type Grid struct {
	nPoints int
	shuffle bool

	built bool
	rows  []space.Values
	order []int // permutation applied when shuffle is set, fixed at first call
}

// NewGrid constructs the Grid sampler. opts: "n_points" (default 10),
// "shuffle" (default false).
func NewGrid(opts map[string]interface{}) (*Grid, error) {
	n := optInt(opts, "n_points", 10)
	if n < 1 {
		return nil, apperror.Newf(apperror.InvalidConfig, "n_points must be >= 1, got %d", n).WithField("n_points")
	}
	return &Grid{nPoints: n, shuffle: optBool(opts, "shuffle", false)}, nil
}

func (g *Grid) build(sp space.Space) {
	names := sp.Names()
	axes := make([][]float64, len(names))
	for i, name := range names {
		axes[i] = discretize(sp[name], g.nPoints)
	}

	var rows []space.Values
	var rec func(i int, acc space.Values)
	rec = func(i int, acc space.Values) {
		if i == len(names) {
			cp := make(space.Values, len(acc))
			for k, v := range acc {
				cp[k] = v
			}
			rows = append(rows, cp)
			return
		}
		for _, v := range axes[i] {
			acc[names[i]] = v
			rec(i+1, acc)
		}
	}
	rec(0, space.Values{})

	g.rows = rows
	g.built = true
}

func discretize(sp space.Spec, n int) []float64 {
	switch sp.Kind {
	case space.Categorical:
		out := make([]float64, len(sp.Choices))
		for i := range sp.Choices {
			out[i] = float64(i)
		}
		return out
	case space.Int:
		span := int(sp.High-sp.Low) + 1
		if span < n {
			n = span
		}
		out := make([]float64, 0, n)
		for i := 0; i < n; i++ {
			u := 0.5
			if n > 1 {
				u = float64(i) / float64(n-1)
			}
			out = append(out, math.Round(sp.Low+u*(sp.High-sp.Low)))
		}
		return out
	case space.LogUniform:
		lo, hi := math.Log(sp.Low), math.Log(sp.High)
		out := make([]float64, n)
		for i := 0; i < n; i++ {
			u := 0.5
			if n > 1 {
				u = float64(i) / float64(n-1)
			}
			out[i] = math.Exp(lo + u*(hi-lo))
		}
		return out
	default: // Uniform, DiscreteUniform
		out := make([]float64, n)
		for i := 0; i < n; i++ {
			u := 0.5
			if n > 1 {
				u = float64(i) / float64(n-1)
			}
			out[i] = sp.Low + u*(sp.High-sp.Low)
		}
		return out
	}
}

func (g *Grid) Next(rng seed.State, spaceFn space.SpaceFunc, trialIndex int, _ []HistoryItem) (space.Values, seed.State, error) {
	sp := spaceFn(trialIndex)
	if err := sp.Validate(); err != nil {
		return nil, rng, err
	}
	if !g.built {
		g.build(sp)
	}
	if len(g.rows) == 0 {
		return space.Values{}, rng, nil
	}

	if g.shuffle && g.order == nil {
		g.order = make([]int, len(g.rows))
		for i := range g.order {
			g.order[i] = i
		}
		// Fisher-Yates, fixed once at first call so the cycle order is
		// stable across subsequent Next calls.
		for i := len(g.order) - 1; i > 0; i-- {
			var j int
			j, rng = seed.Choice(rng, i+1)
			g.order[i], g.order[j] = g.order[j], g.order[i]
		}
	}

	idx := trialIndex % len(g.rows)
	if g.shuffle {
		idx = g.order[idx]
	}
	return g.rows[idx], rng, nil
}
