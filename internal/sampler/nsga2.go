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
	"sort"

	"github.com/thestormforge/optimize-engine/internal/seed"
	"github.com/thestormforge/optimize-engine/internal/space"
)

// NSGA2 is a multi-objective sampler: non-dominated sorting plus crowding
// distance pick the parents, and simulated binary crossover (SBX) with
// polynomial mutation produce the offspring. The primary objective is
// each trial's Score; any numeric entries in Metrics are treated as
// additional objectives, all minimized unless Maximize is set (in which
// case every objective, including the secondary metrics, is negated for
// dominance purposes -- a single shared direction, as spec.md §4.5 does
// not define per-objective directions).
type NSGA2 struct {
	PopulationSize int
	Eta            float64 // distribution index for both SBX and mutation
	CrossoverProb  float64
	MutationProb   float64
	Maximize       bool
	secondary      []string // resolved lazily from the first history item with Metrics
}

// NewNSGA2 constructs the sampler from options: "population_size"
// (default 20), "eta" (default 15), "crossover_prob" (default 0.9),
// "mutation_prob" (default -1, meaning 1/d resolved per-space), "goal".
func NewNSGA2(opts map[string]interface{}) *NSGA2 {
	n := &NSGA2{
		PopulationSize: optInt(opts, "population_size", 20),
		Eta:            optFloat(opts, "eta", 15),
		CrossoverProb:  optFloat(opts, "crossover_prob", 0.9),
		MutationProb:   optFloat(opts, "mutation_prob", -1),
	}
	if goal, _ := opts["goal"].(string); goal == "maximize" {
		n.Maximize = true
	}
	return n
}

// objectives returns an item's objective vector: Score first, then any
// Metrics values in sorted-key order for a stable ordering across calls.
func (n *NSGA2) objectives(h HistoryItem) []float64 {
	out := make([]float64, 0, 1+len(n.secondary))
	out = append(out, h.Score)
	for _, k := range n.secondary {
		out = append(out, h.Metrics[k])
	}
	if n.Maximize {
		for i := range out {
			out[i] = -out[i]
		}
	}
	return out
}

func dominates(a, b []float64) bool {
	betterOrEqual := true
	strictlyBetter := false
	for i := range a {
		if a[i] > b[i] {
			betterOrEqual = false
			break
		}
		if a[i] < b[i] {
			strictlyBetter = true
		}
	}
	return betterOrEqual && strictlyBetter
}

// nonDominatedSort partitions indices 0..n-1 into fronts by Pareto
// dominance (the classic O(n^2) fast-non-dominated-sort).
func nonDominatedSort(objs [][]float64) [][]int {
	n := len(objs)
	dominatedBy := make([][]int, n)
	dominationCount := make([]int, n)
	var fronts [][]int
	front0 := []int{}

	for p := 0; p < n; p++ {
		for q := 0; q < n; q++ {
			if p == q {
				continue
			}
			if dominates(objs[p], objs[q]) {
				dominatedBy[p] = append(dominatedBy[p], q)
			} else if dominates(objs[q], objs[p]) {
				dominationCount[p]++
			}
		}
		if dominationCount[p] == 0 {
			front0 = append(front0, p)
		}
	}
	fronts = append(fronts, front0)

	current := front0
	for len(current) > 0 {
		var next []int
		for _, p := range current {
			for _, q := range dominatedBy[p] {
				dominationCount[q]--
				if dominationCount[q] == 0 {
					next = append(next, q)
				}
			}
		}
		if len(next) > 0 {
			fronts = append(fronts, next)
		}
		current = next
	}
	return fronts
}

// crowdingDistance scores each index in front by its crowding distance
// across all objectives (boundary points get +Inf so they are always
// preferred for diversity).
func crowdingDistance(front []int, objs [][]float64) map[int]float64 {
	dist := make(map[int]float64, len(front))
	for _, i := range front {
		dist[i] = 0
	}
	if len(front) == 0 {
		return dist
	}
	m := len(objs[front[0]])
	for obj := 0; obj < m; obj++ {
		sorted := append([]int(nil), front...)
		sort.Slice(sorted, func(a, b int) bool { return objs[sorted[a]][obj] < objs[sorted[b]][obj] })
		dist[sorted[0]] = math.Inf(1)
		dist[sorted[len(sorted)-1]] = math.Inf(1)
		span := objs[sorted[len(sorted)-1]][obj] - objs[sorted[0]][obj]
		if span <= 0 {
			continue
		}
		for k := 1; k < len(sorted)-1; k++ {
			dist[sorted[k]] += (objs[sorted[k+1]][obj] - objs[sorted[k-1]][obj]) / span
		}
	}
	return dist
}

// tournament picks the better of two indices by (front rank, crowding
// distance), the standard NSGA-II binary tournament.
func tournament(i, j int, rank map[int]int, dist map[int]float64) int {
	if rank[i] != rank[j] {
		if rank[i] < rank[j] {
			return i
		}
		return j
	}
	if dist[i] > dist[j] {
		return i
	}
	return j
}

func (n *NSGA2) Next(rng seed.State, spaceFn space.SpaceFunc, trialIndex int, history []HistoryItem) (space.Values, seed.State, error) {
	sp := spaceFn(trialIndex)
	if err := sp.Validate(); err != nil {
		return nil, rng, err
	}

	finite, any := sanitize(history)
	if !any || len(finite) < 2 {
		return NewRandom().Next(rng, spaceFn, trialIndex, history)
	}

	n.secondary = nil
	for _, h := range finite {
		if len(h.Metrics) == 0 {
			continue
		}
		keys := make([]string, 0, len(h.Metrics))
		for k := range h.Metrics {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		n.secondary = keys
		break
	}

	pop := finite
	if len(pop) > n.PopulationSize {
		pop = pop[len(pop)-n.PopulationSize:]
	}
	names := sp.Names()
	enc := make([][]float64, len(pop))
	objs := make([][]float64, len(pop))
	for i, h := range pop {
		row := make([]float64, len(names))
		for j, name := range names {
			row[j] = sp[name].Encode(h.Params[name])
		}
		enc[i] = row
		objs[i] = n.objectives(h)
	}

	fronts := nonDominatedSort(objs)
	rank := make(map[int]int, len(pop))
	dist := make(map[int]float64, len(pop))
	for r, f := range fronts {
		fd := crowdingDistance(f, objs)
		for _, i := range f {
			rank[i] = r
			dist[i] = fd[i]
		}
	}

	pick := func() int {
		var a, b int
		a, rng = seed.Choice(rng, len(pop))
		b, rng = seed.Choice(rng, len(pop))
		return tournament(a, b, rank, dist)
	}
	p1 := pick()
	p2 := pick()

	mutationProb := n.MutationProb
	if mutationProb < 0 {
		mutationProb = 1.0 / math.Max(float64(len(names)), 1)
	}

	child := make([]float64, len(names))
	var crossover float64
	crossover, rng = seed.UniformUnit(rng)
	for j := range names {
		x1, x2 := enc[p1][j], enc[p2][j]
		if crossover <= n.CrossoverProb {
			var u float64
			u, rng = seed.UniformUnit(rng)
			beta := sbxBeta(u, n.Eta)
			child[j] = clamp01(0.5 * ((1+beta)*x1 + (1-beta)*x2))
		} else {
			child[j] = x1
		}

		var mu float64
		mu, rng = seed.UniformUnit(rng)
		if mu <= mutationProb {
			var u float64
			u, rng = seed.UniformUnit(rng)
			child[j] = clamp01(child[j] + polynomialMutationDelta(u, n.Eta))
		}
	}

	values := make(space.Values, len(names))
	for j, name := range names {
		values[name] = sp[name].Clamp(sp[name].Decode(child[j]))
	}
	return values, rng, nil
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

// sbxBeta computes the SBX spread factor for a draw u in [0, 1).
func sbxBeta(u, eta float64) float64 {
	if u <= 0.5 {
		return math.Pow(2*u, 1/(eta+1))
	}
	return math.Pow(1/(2*(1-u)), 1/(eta+1))
}

// polynomialMutationDelta computes the polynomial-mutation perturbation
// for a draw u in [0, 1), in [-1, 1].
func polynomialMutationDelta(u, eta float64) float64 {
	if u < 0.5 {
		return math.Pow(2*u, 1/(eta+1)) - 1
	}
	return 1 - math.Pow(2*(1-u), 1/(eta+1))
}
