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

	"github.com/thestormforge/optimize-engine/internal/kde"
	"github.com/thestormforge/optimize-engine/internal/seed"
	"github.com/thestormforge/optimize-engine/internal/space"
)

// TPEMultivariate is the copula variant of TPE: the good/bad distributions
// are multivariate KDE/copula models over the encoded [0,1]^d space
// instead of independent per-parameter models, capturing correlations
// between parameters.
type TPEMultivariate struct {
	MinObs      int
	Gamma       float64
	NCandidates int
	Maximize    bool
}

// NewTPEMultivariate constructs the sampler from the same option set as
// TPE: "min_obs" (default 10), "gamma" (default 0.25), "n_candidates"
// (default 24), "goal".
func NewTPEMultivariate(opts map[string]interface{}) *TPEMultivariate {
	t := &TPEMultivariate{
		MinObs:      optInt(opts, "min_obs", 10),
		Gamma:       optFloat(opts, "gamma", 0.25),
		NCandidates: optInt(opts, "n_candidates", 24),
	}
	if goal, _ := opts["goal"].(string); goal == "maximize" {
		t.Maximize = true
	}
	return t
}

func encodeColumn(items []HistoryItem, name string, sp space.Spec) []float64 {
	out := make([]float64, 0, len(items))
	for _, it := range items {
		v, ok := it.Params[name]
		if !ok {
			continue
		}
		out = append(out, sp.Encode(v))
	}
	return out
}

// candidateSource identifies which distribution produced a multivariate
// TPE candidate, for the 70/20/10 mixture of spec.md §4.5.
type candidateSource int

const (
	sourceGood candidateSource = iota
	sourceBad
	sourceUniform
)

func pickSource(rng seed.State) (candidateSource, seed.State) {
	u, rng2 := seed.UniformUnit(rng)
	switch {
	case u < 0.70:
		return sourceGood, rng2
	case u < 0.90:
		return sourceBad, rng2
	default:
		return sourceUniform, rng2
	}
}

func (t *TPEMultivariate) Next(rng seed.State, spaceFn space.SpaceFunc, trialIndex int, history []HistoryItem) (space.Values, seed.State, error) {
	sp := spaceFn(trialIndex)
	if err := sp.Validate(); err != nil {
		return nil, rng, err
	}

	finite, any := sanitize(history)
	if !any || len(finite) < t.MinObs {
		return NewRandom().Next(rng, spaceFn, trialIndex, history)
	}

	sorted := sortedHistory(finite, t.Maximize)
	nGood := int(math.Ceil(t.Gamma * float64(len(sorted))))
	if nGood < 1 {
		nGood = 1
	}
	if nGood > len(sorted)-1 {
		nGood = len(sorted) - 1
	}
	if nGood < 1 {
		nGood = 1
	}
	good := sorted[:nGood]
	bad := sorted[nGood:]
	if len(bad) == 0 {
		bad = sorted
	}

	names := sp.Names()
	goodCols := make([][]float64, len(names))
	badCols := make([][]float64, len(names))
	for i, name := range names {
		goodCols[i] = encodeColumn(good, name, sp[name])
		badCols[i] = encodeColumn(bad, name, sp[name])
	}
	goodModel := kde.NewMultivariate(goodCols)
	badModel := kde.NewMultivariate(badCols)

	var bestValues space.Values
	bestScore := math.Inf(-1)
	for c := 0; c < t.NCandidates; c++ {
		var source candidateSource
		source, rng = pickSource(rng)

		var u []float64
		switch source {
		case sourceGood:
			u, rng = goodModel.Sample(rng)
		case sourceBad:
			u, rng = badModel.Sample(rng)
		default:
			u = make([]float64, len(names))
			for i := range u {
				u[i], rng = seed.UniformUnit(rng)
			}
		}

		cand := make(space.Values, len(names))
		encPoint := make([]float64, len(names))
		for i, name := range names {
			v := sp[name].Decode(u[i])
			v = sp[name].Clamp(v)
			cand[name] = v
			encPoint[i] = sp[name].Encode(v)
		}

		gl := goodModel.Likelihood(encPoint)
		bl := badModel.Likelihood(encPoint)
		score := math.Log(gl) - math.Log(bl)
		if score > bestScore {
			bestScore = score
			bestValues = cand
		}
	}
	return bestValues, rng, nil
}
