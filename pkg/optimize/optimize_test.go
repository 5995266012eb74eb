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

package optimize_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thestormforge/optimize-engine/internal/executor"
	"github.com/thestormforge/optimize-engine/internal/space"
	"github.com/thestormforge/optimize-engine/internal/store"
	"github.com/thestormforge/optimize-engine/pkg/optimize"
)

func quadraticSpace(int) space.Space {
	return space.Space{
		"x": {Name: "x", Kind: space.Uniform, Low: -5, High: 5},
	}
}

func quadraticObjective(_ context.Context, params space.Values, _ executor.ReportFunc) (float64, map[string]float64, error) {
	x := params["x"]
	return x * x, nil, nil
}

func TestOptimizeRunsAStudyWithDefaults(t *testing.T) {
	result, err := optimize.Optimize(context.Background(), quadraticObjective, quadraticSpace, optimize.Options{
		NTrials: 10,
	})
	require.NoError(t, err)
	assert.Len(t, result.Trials, 10)
	require.NotNil(t, result.Best)
}

func TestOptimizeHonorsSamplerAndSeedOptions(t *testing.T) {
	seed := int64(3)
	result, err := optimize.Optimize(context.Background(), quadraticObjective, quadraticSpace, optimize.Options{
		StudyName:   "facade-tpe",
		Direction:   store.Minimize,
		NTrials:     8,
		Sampler:     "tpe",
		SamplerOpts: map[string]interface{}{"min_obs": 3},
		Seed:        &seed,
	})
	require.NoError(t, err)
	assert.Len(t, result.Trials, 8)
}
