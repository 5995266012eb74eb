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

// Bandit treats each parameter independently as a discrete multi-armed
// bandit: every axis is bucketised into Buckets arms (or one arm per
// choice for categorical parameters), and each arm's bucket is chosen by
// epsilon-greedy/UCB1 over the observed scores of trials that landed in
// it. This is a coarser model than jointly optimizing the parameter
// vector, but keeps the update rule the textbook UCB1 form and keeps
// each axis's regret bound independent of the others, which is the
// tradeoff spec.md §4.5 describes as "bucketised".
type Bandit struct {
	Buckets  int
	Epsilon  float64
	Maximize bool
}

// NewBandit constructs the sampler from options: "buckets" (default 10),
// "epsilon" (default 0.1), "goal".
func NewBandit(opts map[string]interface{}) *Bandit {
	b := &Bandit{
		Buckets: optInt(opts, "buckets", 10),
		Epsilon: optFloat(opts, "epsilon", 0.1),
	}
	if b.Buckets < 1 {
		b.Buckets = 1
	}
	if goal, _ := opts["goal"].(string); goal == "maximize" {
		b.Maximize = true
	}
	return b
}

type armStats struct {
	count int
	sum   float64
}

// armsForParam buckets a parameter's history into arm statistics: for
// categorical parameters, one arm per choice; otherwise Buckets
// equal-width arms over the encoded [0, 1] range.
func (b *Bandit) armsForParam(history []HistoryItem, name string, sp space.Spec) []armStats {
	nArms := b.Buckets
	if sp.Kind == space.Categorical {
		nArms = len(sp.Choices)
	}
	arms := make([]armStats, nArms)
	for _, h := range history {
		v, ok := h.Params[name]
		if !ok {
			continue
		}
		idx := b.armIndex(sp, v, nArms)
		arms[idx].count++
		arms[idx].sum += h.Score
	}
	return arms
}

func (b *Bandit) armIndex(sp space.Spec, v float64, nArms int) int {
	if sp.Kind == space.Categorical {
		idx := int(math.Round(v))
		if idx < 0 {
			idx = 0
		}
		if idx >= nArms {
			idx = nArms - 1
		}
		return idx
	}
	u := sp.Encode(v)
	idx := int(u * float64(nArms))
	if idx >= nArms {
		idx = nArms - 1
	}
	if idx < 0 {
		idx = 0
	}
	return idx
}

// armCenter returns the representative encoded-[0,1] value for an arm
// index, used to decode a chosen arm back into a parameter value.
func armCenter(idx, nArms int) float64 {
	return (float64(idx) + 0.5) / float64(nArms)
}

// pickArm selects an arm index via epsilon-greedy exploration and UCB1
// exploitation otherwise.
func (b *Bandit) pickArm(rng seed.State, arms []armStats) (int, seed.State) {
	var explore float64
	explore, rng = seed.UniformUnit(rng)
	if explore < b.Epsilon {
		idx, rng2 := seed.Choice(rng, len(arms))
		return idx, rng2
	}

	totalPulls := 0
	for _, a := range arms {
		totalPulls += a.count
	}

	best := 0
	bestScore := math.Inf(-1)
	for i, a := range arms {
		if a.count == 0 {
			// Unpulled arms always win ties for UCB1's cold-start phase.
			return i, rng
		}
		mean := a.sum / float64(a.count)
		if !b.Maximize {
			mean = -mean
		}
		bonus := math.Sqrt(2 * math.Log(math.Max(float64(totalPulls), 1)) / float64(a.count))
		score := mean + bonus
		if score > bestScore {
			bestScore = score
			best = i
		}
	}
	return best, rng
}

func (b *Bandit) Next(rng seed.State, spaceFn space.SpaceFunc, trialIndex int, history []HistoryItem) (space.Values, seed.State, error) {
	sp := spaceFn(trialIndex)
	if err := sp.Validate(); err != nil {
		return nil, rng, err
	}

	finite, _ := sanitize(history)

	names := sp.Names()
	values := make(space.Values, len(names))
	for _, name := range names {
		s := sp[name]
		arms := b.armsForParam(finite, name, s)
		var idx int
		idx, rng = b.pickArm(rng, arms)

		if s.Kind == space.Categorical {
			values[name] = s.Clamp(float64(idx))
			continue
		}

		u := armCenter(idx, len(arms))
		// Jitter within the chosen bucket so repeated picks of the same
		// arm don't collapse onto one exact value.
		var jitter float64
		jitter, rng = seed.Uniform(rng, -0.5/float64(len(arms)), 0.5/float64(len(arms)))
		values[name] = s.Clamp(s.Decode(clamp01(u + jitter)))
	}
	return values, rng, nil
}
