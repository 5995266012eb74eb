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

// Random draws every parameter independently from its distribution. It is
// used directly, as the warm-up phase for TPE, and as the universal
// fallback when a sampler's history is entirely non-finite.
type Random struct{}

// NewRandom constructs the Random sampler; it takes no options.
func NewRandom() *Random { return &Random{} }

func (r *Random) Next(rng seed.State, spaceFn space.SpaceFunc, trialIndex int, _ []HistoryItem) (space.Values, seed.State, error) {
	sp := spaceFn(trialIndex)
	if err := sp.Validate(); err != nil {
		return nil, rng, err
	}
	values, rng2 := space.Sample(rng, sp)
	return values, rng2, nil
}
