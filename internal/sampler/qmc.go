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
	"github.com/thestormforge/optimize-engine/internal/seed"
	"github.com/thestormforge/optimize-engine/internal/space"
)

// firstPrimes supplies the Halton sequence's per-dimension bases; a
// search space with more parameters than this table is rare enough that
// bases are simply reused (the sequence stays low-discrepancy, just with
// shared structure across the wrapped dimensions).
var firstPrimes = []int{2, 3, 5, 7, 11, 13, 17, 19, 23, 29, 31, 37, 41, 43, 47}

// QMC is a quasi-random sampler: it walks a deterministic Halton
// low-discrepancy sequence, one base per search-space dimension, instead
// of pseudo-random draws. It fills space more evenly than Random for a
// fixed trial budget, at the cost of losing the "each trial is an
// independent draw" property. A "scramble" option adds to each coordinate
// a uniform shift drawn from the RNG passed to Next, modulo 1, which
// restores some of that independence (Owen-style scrambling is not
// implemented; this is the cheaper random-shift variant).
type QMC struct {
	Scramble bool
}

// NewQMC constructs the sampler from options: "scramble" (default false).
func NewQMC(opts map[string]interface{}) *QMC {
	return &QMC{Scramble: optBool(opts, "scramble", false)}
}

// vanDerCorput computes the base-b radical-inverse of index i (1-indexed
// so that index 0 doesn't degenerate to 0 for every base).
func vanDerCorput(i, base int) float64 {
	f := 1.0
	r := 0.0
	for i > 0 {
		f /= float64(base)
		r += f * float64(i%base)
		i /= base
	}
	return r
}

func (q *QMC) Next(rng seed.State, spaceFn space.SpaceFunc, trialIndex int, history []HistoryItem) (space.Values, seed.State, error) {
	sp := spaceFn(trialIndex)
	if err := sp.Validate(); err != nil {
		return nil, rng, err
	}

	names := sp.Names()
	values := make(space.Values, len(names))
	index := trialIndex + 1 // 1-indexed radical inverse
	for j, name := range names {
		base := firstPrimes[j%len(firstPrimes)]
		u := vanDerCorput(index, base)
		if q.Scramble {
			var shift float64
			shift, rng = seed.UniformUnit(rng)
			u += shift
			if u >= 1 {
				u -= 1
			}
		}
		values[name] = sp[name].Clamp(sp[name].Decode(u))
	}
	return values, rng, nil
}
