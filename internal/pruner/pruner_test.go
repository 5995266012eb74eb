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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thestormforge/optimize-engine/internal/apperror"
)

func peersAt(step int, values ...float64) []Report {
	out := make([]Report, len(values))
	for i, v := range values {
		out[i] = Report{TrialID: "peer", Step: step, Value: v}
	}
	return out
}

func TestMedianPrunerCutoff(t *testing.T) {
	m := NewMedian(map[string]interface{}{
		"n_startup_trials": 3,
		"n_warmup_steps":   0,
	})
	peers := peersAt(5, 1, 2, 3, 4, 5)

	assert.True(t, m.ShouldPrune("probe", 5, 4.5, peers))
	assert.False(t, m.ShouldPrune("probe", 5, 2.5, peers))
}

func TestPercentileFiftyEqualsMedianForOddPeerCount(t *testing.T) {
	p, err := NewPercentile(map[string]interface{}{"percentile": 50.0})
	require.NoError(t, err)

	peers := peersAt(5, 1, 2, 3, 4, 5)
	sorted := sortedCopy(valuesAtStep(peers, 5))
	assert.InDelta(t, median(sorted), percentileCutoff(sorted, 50), 1e-9)
	_ = p
}

func TestPercentileRejectsOutOfRange(t *testing.T) {
	_, err := NewPercentile(map[string]interface{}{"percentile": 150.0})
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.InvalidConfig))
}

func TestSuccessiveHalvingSurvivorsFormula(t *testing.T) {
	assert.Equal(t, 1, survivors(1, 3, 0))
	assert.Equal(t, 27, survivors(27, 3, 0))
	assert.Equal(t, 9, survivors(27, 3, 1))
	assert.Equal(t, 3, survivors(27, 3, 2))
	// Always at least one survivor even at very deep rungs.
	assert.Equal(t, 1, survivors(5, 3, 10))
}

func TestSuccessiveHalvingPrunesBelowCutoff(t *testing.T) {
	sh := NewSuccessiveHalving(map[string]interface{}{"eta": 3.0, "min_peers": 1})
	// Rung 1: keep = ceil(9 * 3^-1) = 3 survivors out of 9 peers.
	peers := peersAt(1, 1, 2, 3, 4, 5, 6, 7, 8, 9)

	assert.True(t, sh.ShouldPrune("probe", 1, 9.5, peers))
	assert.False(t, sh.ShouldPrune("probe", 1, 1.5, peers))
}

func TestHyperbandBracketCountForEta3MaxResource81(t *testing.T) {
	h := NewHyperband(map[string]interface{}{"eta": 3.0, "max_resource": 81.0})
	assert.Equal(t, 5, h.BracketCount())
}

func TestHyperbandRoundRobinAssignment(t *testing.T) {
	h := NewHyperband(map[string]interface{}{"eta": 3.0, "max_resource": 27.0})
	require.Equal(t, 4, h.BracketCount())

	want := []int{0, 1, 2, 3, 0}
	for i, w := range want {
		got := h.AssignBracketForIndex(trialName(i), i)
		assert.Equal(t, w, got)
	}
}

func TestHyperbandScopesPeersToOwnBracket(t *testing.T) {
	h := NewHyperband(map[string]interface{}{"eta": 3.0, "max_resource": 9.0})
	require.Equal(t, 3, h.BracketCount())

	h.AssignBracketForIndex("t0", 0)
	h.AssignBracketForIndex("t1", 1)

	peers := []Report{
		{TrialID: "t1", Bracket: 1, Step: 0, Value: 100},
	}
	// t0 is in bracket 0; the only peer reported is in bracket 1, so t0
	// sees zero peers at its own bracket and must not be pruned.
	assert.False(t, h.ShouldPrune("t0", 0, 0.001, peers))
}

func trialName(i int) string {
	return "trial-" + string(rune('a'+i))
}
