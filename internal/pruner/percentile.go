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

	"github.com/thestormforge/optimize-engine/internal/apperror"
)

// Percentile prunes a trial if its current intermediate value is worse
// than the p-th percentile of peer values at the same step, using linear
// interpolation between the two bracketing order statistics.
type Percentile struct {
	gate       gate
	Percentile float64
}

// NewPercentile constructs the pruner from options: "percentile"
// (required, must be in [0, 100]), plus the shared gate options.
func NewPercentile(opts map[string]interface{}) (*Percentile, error) {
	p := optFloat(opts, "percentile", -1)
	if p < 0 || p > 100 {
		return nil, apperror.Newf(apperror.InvalidConfig, "percentile %v outside [0, 100]", p).
			WithField("percentile").
			WithHint("supply a percentile option between 0 and 100")
	}
	return &Percentile{gate: newGate(opts), Percentile: p}, nil
}

// cutoff computes sorted[floor(k)] + (k-floor(k)) * (sorted[ceil(k)] -
// sorted[floor(k)]) where k = p*(m-1)/100.
func percentileCutoff(sorted []float64, p float64) float64 {
	m := len(sorted)
	if m == 0 {
		return 0
	}
	if m == 1 {
		return sorted[0]
	}
	k := p * float64(m-1) / 100
	lo := int(math.Floor(k))
	hi := int(math.Ceil(k))
	if lo < 0 {
		lo = 0
	}
	if hi >= m {
		hi = m - 1
	}
	frac := k - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}

func (p *Percentile) ShouldPrune(trialID string, step int, value float64, peers []Report) bool {
	atStep := valuesAtStep(peers, step)
	if !p.gate.allow(step, len(atStep)) {
		return false
	}
	cutoff := percentileCutoff(sortedCopy(atStep), p.Percentile)
	return p.gate.worseThan(value, cutoff)
}
