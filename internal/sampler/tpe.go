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

// TPE is the univariate Tree-structured Parzen Estimator sampler. Below
// MinObs finished trials it falls back to Random; above threshold it
// splits history into "good" and "bad" sets and proposes the candidate
// that maximizes the good/bad density log-ratio.
type TPE struct {
	MinObs      int
	Gamma       float64
	NCandidates int
	Maximize    bool
	MasterSeed  *int64
}

// NewTPE constructs the TPE sampler from options: "min_obs" (default 10),
// "gamma" (default 0.25), "n_candidates" (default 24), "goal"
// ("minimize"/"maximize"), "seed" (master seed, for tie-break jitter).
func NewTPE(opts map[string]interface{}) *TPE {
	t := &TPE{
		MinObs:      optInt(opts, "min_obs", 10),
		Gamma:       optFloat(opts, "gamma", 0.25),
		NCandidates: optInt(opts, "n_candidates", 24),
	}
	if goal, _ := opts["goal"].(string); goal == "maximize" {
		t.Maximize = true
	}
	if opts != nil {
		switch v := opts["seed"].(type) {
		case int64:
			t.MasterSeed = &v
		case int:
			x := int64(v)
			t.MasterSeed = &x
		}
	}
	return t
}

// paramModel is a single parameter's fitted good/bad model: either a pair
// of univariate KDEs (numeric) or Laplace-smoothed frequency tables
// (categorical).
type paramModel struct {
	spec     space.Spec
	logSpace bool

	goodKDE, badKDE *kde.Univariate
	goodCat, badCat []float64
}

func toDomain(sp space.Spec, v float64, logSpace bool) float64 {
	if logSpace {
		return math.Log(v)
	}
	return v
}

func fromDomain(sp space.Spec, v float64, logSpace bool) float64 {
	if logSpace {
		return math.Exp(v)
	}
	return v
}

func fitParam(sp space.Spec, good, bad []HistoryItem, name string) paramModel {
	pm := paramModel{spec: sp}
	if sp.Kind == space.Categorical {
		pm.goodCat = categoricalCounts(good, name, sp)
		pm.badCat = categoricalCounts(bad, name, sp)
		return pm
	}

	logSpace := sp.Kind == space.LogUniform
	pm.logSpace = logSpace

	domainLow, domainHigh := sp.Low, sp.High
	if logSpace {
		domainLow, domainHigh = math.Log(sp.Low), math.Log(sp.High)
	}

	goodVals := domainValues(good, name, sp, logSpace)
	badVals := domainValues(bad, name, sp, logSpace)
	pm.goodKDE = kde.NewUnivariate(goodVals, domainLow, domainHigh)
	pm.badKDE = kde.NewUnivariate(badVals, domainLow, domainHigh)
	return pm
}

func domainValues(items []HistoryItem, name string, sp space.Spec, logSpace bool) []float64 {
	out := make([]float64, 0, len(items))
	for _, it := range items {
		v, ok := it.Params[name]
		if !ok {
			continue
		}
		out = append(out, toDomain(sp, v, logSpace))
	}
	return out
}

func categoricalCounts(items []HistoryItem, name string, sp space.Spec) []float64 {
	counts := make([]int, len(sp.Choices))
	for _, it := range items {
		v, ok := it.Params[name]
		if !ok {
			continue
		}
		idx := int(math.Round(v))
		if idx >= 0 && idx < len(counts) {
			counts[idx]++
		}
	}
	return kde.LaplaceSmoothed(counts, len(sp.Choices))
}

// sample draws one value for this parameter from its good model.
func (pm paramModel) sample(rng seed.State) (float64, seed.State) {
	if pm.spec.Kind == space.Categorical {
		idx, rng2 := weightedChoice(rng, pm.goodCat)
		return float64(idx), rng2
	}
	v, rng2 := pm.goodKDE.Sample(rng)
	return fromDomain(pm.spec, v, pm.logSpace), rng2
}

// logLikelihoodRatio returns log(p_good(x)/p_bad(x)) for this parameter at
// value v, computed safely (both densities are already floored above
// zero by the kde package).
func (pm paramModel) logLikelihoodRatio(v float64) float64 {
	if pm.spec.Kind == space.Categorical {
		idx := int(math.Round(v))
		if idx < 0 || idx >= len(pm.goodCat) {
			return 0
		}
		return math.Log(pm.goodCat[idx]) - math.Log(pm.badCat[idx])
	}
	d := toDomain(pm.spec, v, pm.logSpace)
	return math.Log(pm.goodKDE.PDF(d)) - math.Log(pm.badKDE.PDF(d))
}

func weightedChoice(rng seed.State, weights []float64) (int, seed.State) {
	total := 0.0
	for _, w := range weights {
		total += w
	}
	u, rng2 := seed.Uniform(rng, 0, total)
	acc := 0.0
	for i, w := range weights {
		acc += w
		if u <= acc {
			return i, rng2
		}
	}
	return len(weights) - 1, rng2
}

// jitter derives a deterministic, tiny tie-breaking perturbation from the
// master seed and candidate index so repeated ties don't bias toward
// whichever candidate happens to be generated first, per spec.md §4.5.
func jitter(masterSeed *int64, trialIndex, candidateIndex int) float64 {
	if masterSeed == nil {
		return 0
	}
	s := seed.Derive(*masterSeed, trialIndex*10007+candidateIndex)
	u, _ := seed.UniformUnit(s)
	return (u - 0.5) * 1e-9
}

func (t *TPE) Next(rng seed.State, spaceFn space.SpaceFunc, trialIndex int, history []HistoryItem) (space.Values, seed.State, error) {
	sp := spaceFn(trialIndex)
	if err := sp.Validate(); err != nil {
		return nil, rng, err
	}

	finite, any := sanitize(history)
	if !any || len(finite) < t.MinObs {
		return NewRandom().Next(rng, spaceFn, trialIndex, history)
	}

	sorted := sortedHistory(finite, t.Maximize) // best first
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
	models := make(map[string]paramModel, len(names))
	for _, name := range names {
		models[name] = fitParam(sp[name], good, bad, name)
	}

	var bestValues space.Values
	bestScore := math.Inf(-1)
	for c := 0; c < t.NCandidates; c++ {
		cand := make(space.Values, len(names))
		score := 0.0
		for _, name := range names {
			pm := models[name]
			var v float64
			v, rng = pm.sample(rng)
			v = sp[name].Clamp(v)
			cand[name] = v
			score += pm.logLikelihoodRatio(v)
		}
		score += jitter(t.MasterSeed, trialIndex, c)
		if score > bestScore {
			bestScore = score
			bestValues = cand
		}
	}
	return bestValues, rng, nil
}
