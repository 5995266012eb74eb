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

import (
	"math"
)

// SuccessiveHalving keeps only the top fraction eta^(-r) of peers
// reporting at rung r (the step value doubles as the rung index),
// requiring at least MinPeers reporters before making a decision, and
// always keeping at least one survivor.
type SuccessiveHalving struct {
	gate     gate
	Eta      float64
	MinPeers int
}

// NewSuccessiveHalving constructs the pruner from options: "eta"
// (default 3), "min_peers" (default 1), plus the shared gate options.
func NewSuccessiveHalving(opts map[string]interface{}) *SuccessiveHalving {
	return &SuccessiveHalving{
		gate:     newGate(opts),
		Eta:      optFloat(opts, "eta", 3),
		MinPeers: optInt(opts, "min_peers", 1),
	}
}

// survivors returns how many of m peers survive rung r: ceil(m *
// eta^(-r)), at least 1.
func survivors(m int, eta float64, r int) int {
	n := int(math.Ceil(float64(m) * math.Pow(eta, -float64(r))))
	if n < 1 {
		n = 1
	}
	if n > m {
		n = m
	}
	return n
}

func (s *SuccessiveHalving) ShouldPrune(trialID string, step int, value float64, peers []Report) bool {
	atStep := valuesAtStep(peers, step)
	if len(atStep) < s.MinPeers {
		return false
	}
	if !s.gate.allow(step, len(atStep)) {
		return false
	}

	sorted := sortedCopy(atStep)
	// "Better" sorts first: ascending when minimizing, descending when
	// maximizing.
	if s.gate.Maximize {
		reverse(sorted)
	}
	keep := survivors(len(sorted), s.Eta, step)
	cutoffValue := sorted[keep-1]

	if s.gate.Maximize {
		return value < cutoffValue
	}
	return value > cutoffValue
}

func reverse(xs []float64) {
	for i, j := 0, len(xs)-1; i < j; i, j = i+1, j-1 {
		xs[i], xs[j] = xs[j], xs[i]
	}
}
