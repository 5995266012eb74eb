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

package sampler_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thestormforge/optimize-engine/internal/apperror"
	"github.com/thestormforge/optimize-engine/internal/sampler"
	"github.com/thestormforge/optimize-engine/internal/seed"
	"github.com/thestormforge/optimize-engine/internal/space"
)

func mixedSpace(int) space.Space {
	return space.Space{
		"x":   {Name: "x", Kind: space.Uniform, Low: -5, High: 5},
		"lr":  {Name: "lr", Kind: space.LogUniform, Low: 1e-4, High: 1},
		"cat": {Name: "cat", Kind: space.Categorical, Choices: []string{"a", "b", "c"}},
	}
}

func fakeHistory(n int) []sampler.HistoryItem {
	out := make([]sampler.HistoryItem, n)
	rng := seed.FromUint64(1)
	for i := 0; i < n; i++ {
		var x, lr float64
		var c int
		x, rng = seed.Uniform(rng, -5, 5)
		lr, rng = seed.Uniform(rng, 1e-4, 1)
		c, rng = seed.Choice(rng, 3)
		out[i] = sampler.HistoryItem{
			Params: space.Values{"x": x, "lr": lr, "cat": float64(c)},
			Score:  x * x,
		}
	}
	return out
}

// TestAllBuiltinSamplersProposeWithinBounds exercises every registered
// sampler name through the shared factory, asserting only the universal
// contract: a valid, in-bounds proposal for every parameter.
func TestAllBuiltinSamplersProposeWithinBounds(t *testing.T) {
	names := []sampler.Name{
		sampler.NameRandom, sampler.NameGrid, sampler.NameTPE, sampler.NameTPEMulti,
		sampler.NameGP, sampler.NameNSGA2, sampler.NameQMC, sampler.NameBandit,
	}
	history := fakeHistory(12)

	for _, name := range names {
		name := name
		t.Run(string(name), func(t *testing.T) {
			samp, err := sampler.New(name, map[string]interface{}{"min_obs": 3})
			require.NoError(t, err)

			rng := seed.FromUint64(99)
			values, _, err := samp.Next(rng, mixedSpace, 5, history)
			require.NoError(t, err)

			sp := mixedSpace(5)
			assert.GreaterOrEqual(t, values["x"], sp["x"].Low)
			assert.LessOrEqual(t, values["x"], sp["x"].High)
			assert.GreaterOrEqual(t, values["lr"], sp["lr"].Low)
			assert.LessOrEqual(t, values["lr"], sp["lr"].High)
			idx := int(values["cat"])
			assert.GreaterOrEqual(t, idx, 0)
			assert.Less(t, idx, 3)
		})
	}
}

func TestUnknownSamplerNameIsInvalidConfig(t *testing.T) {
	_, err := sampler.New("not-a-real-sampler", nil)
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.InvalidConfig))
}

func TestRandomSamplerIgnoresHistory(t *testing.T) {
	r := sampler.NewRandom()
	rng := seed.FromUint64(5)
	v1, _, err := r.Next(rng, mixedSpace, 0, nil)
	require.NoError(t, err)
	v2, _, err := r.Next(rng, mixedSpace, 0, fakeHistory(50))
	require.NoError(t, err)
	assert.Equal(t, v1, v2)
}

func TestGridSamplerCyclesDeterministically(t *testing.T) {
	g, err := sampler.NewGrid(map[string]interface{}{"n_points": 4})
	require.NoError(t, err)

	rng := seed.FromUint64(1)
	v1, _, err := g.Next(rng, mixedSpace, 0, nil)
	require.NoError(t, err)
	v2, _, err := g.Next(rng, mixedSpace, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, v1, v2)
}
