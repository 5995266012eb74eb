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

package pruner

// Median prunes a trial if its current intermediate value is worse than
// the median of peer intermediate values reported at the same step.
type Median struct {
	gate gate
}

// NewMedian constructs the pruner from options: "n_warmup_steps"
// (default 0), "n_startup_trials" (default 0), "interval_steps"
// (default 1), "goal".
func NewMedian(opts map[string]interface{}) *Median {
	return &Median{gate: newGate(opts)}
}

func (m *Median) ShouldPrune(trialID string, step int, value float64, peers []Report) bool {
	atStep := valuesAtStep(peers, step)
	if !m.gate.allow(step, len(atStep)) {
		return false
	}
	cutoff := median(sortedCopy(atStep))
	return m.gate.worseThan(value, cutoff)
}
