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

package executor_test

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thestormforge/optimize-engine/internal/executor"
	"github.com/thestormforge/optimize-engine/internal/sampler"
	"github.com/thestormforge/optimize-engine/internal/space"
	"github.com/thestormforge/optimize-engine/internal/store"
	"github.com/thestormforge/optimize-engine/internal/store/memory"
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

func TestSequentialRunCompletesAllTrialsAndPicksBest(t *testing.T) {
	st := memory.New()
	exec := executor.New(st, nil)
	seed := int64(42)

	result, err := exec.Run(context.Background(), quadraticSpace, quadraticObjective, executor.Options{
		StudyID:     "study-1",
		Goal:        store.Minimize,
		NTrials:     20,
		Parallelism: 1,
		MasterSeed:  &seed,
		SamplerName: sampler.NameRandom,
	})
	require.NoError(t, err)
	assert.Len(t, result.Trials, 20)
	require.NotNil(t, result.Best)
	assert.GreaterOrEqual(t, *result.Best.Score, 0.0)

	for _, tr := range result.Trials {
		assert.Equal(t, store.TrialCompleted, tr.Status)
	}
}

func TestSequentialRunIsReproducibleForFixedSeed(t *testing.T) {
	run := func() []float64 {
		st := memory.New()
		exec := executor.New(st, nil)
		seed := int64(7)
		result, err := exec.Run(context.Background(), quadraticSpace, quadraticObjective, executor.Options{
			StudyID:     "study-repro",
			Goal:        store.Minimize,
			NTrials:     10,
			Parallelism: 1,
			MasterSeed:  &seed,
			SamplerName: sampler.NameTPE,
			SamplerOpts: map[string]interface{}{"min_obs": 3},
		})
		require.NoError(t, err)
		xs := make([]float64, len(result.Trials))
		for i, tr := range result.Trials {
			xs[i] = tr.Params["x"]
		}
		return xs
	}

	first := run()
	second := run()
	assert.Equal(t, first, second)
}

func TestRunWithMedianPrunerRecordsEveryTrial(t *testing.T) {
	st := memory.New()
	exec := executor.New(st, nil)

	objective := func(ctx context.Context, params space.Values, report executor.ReportFunc) (float64, map[string]float64, error) {
		if !report(1000, 0) {
			return 1000, nil, nil
		}
		return 0, nil, nil
	}

	result, err := exec.Run(context.Background(), quadraticSpace, objective, executor.Options{
		StudyID:     "study-prune",
		Goal:        store.Minimize,
		NTrials:     5,
		Parallelism: 1,
		SamplerName: sampler.NameRandom,
		PrunerName:  "median",
		PrunerOpts: map[string]interface{}{
			"n_startup_trials": 1,
		},
	})
	require.NoError(t, err)
	assert.Len(t, result.Trials, 5)
}

func linearSpace(int) space.Space {
	return space.Space{"x": {Name: "x", Kind: space.Uniform, Low: 0, High: 10}}
}

func meanScore(trials []*store.Trial) float64 {
	sum := 0.0
	for _, tr := range trials {
		sum += *tr.Score
	}
	return sum / float64(len(trials))
}

// TestMaximizeGoalConvergesUpwardWithTPE guards against the direction
// (store.Goal) never reaching the sampler's own "goal" option: a TPE
// sampler that still thinks it is minimizing would chase x toward 0
// instead of 10.
func TestMaximizeGoalConvergesUpwardWithTPE(t *testing.T) {
	st := memory.New()
	exec := executor.New(st, nil)
	seed := int64(11)

	objective := func(_ context.Context, params space.Values, _ executor.ReportFunc) (float64, map[string]float64, error) {
		return params["x"], nil, nil
	}

	result, err := exec.Run(context.Background(), linearSpace, objective, executor.Options{
		StudyID:     "study-maximize-tpe",
		Goal:        store.Maximize,
		NTrials:     60,
		Parallelism: 1,
		MasterSeed:  &seed,
		SamplerName: sampler.NameTPE,
		SamplerOpts: map[string]interface{}{"min_obs": 5},
	})
	require.NoError(t, err)
	require.NotNil(t, result.Best)

	early := meanScore(result.Trials[:15])
	late := meanScore(result.Trials[len(result.Trials)-15:])
	assert.Greater(t, late, early, "TPE should learn to propose larger x when maximizing")
	assert.Greater(t, *result.Best.Score, 7.0)
}

// TestMedianPrunerMaximizeKeepsHighValueTrials guards against the same
// propagation gap on the pruner side: gate.Maximize false when the study
// is actually maximizing inverts worseThan, so high-value trials get
// pruned as if they were the bad ones.
func TestMedianPrunerMaximizeKeepsHighValueTrials(t *testing.T) {
	st := memory.New()
	exec := executor.New(st, nil)

	var counter int32
	objective := func(_ context.Context, _ space.Values, report executor.ReportFunc) (float64, map[string]float64, error) {
		idx := atomic.AddInt32(&counter, 1) - 1
		values := []float64{1, 1, 1}
		if idx%2 == 0 {
			values = []float64{10, 20, 30}
		}
		var last float64
		for step, v := range values {
			last = v
			if !report(v, step) {
				break
			}
		}
		return last, nil, nil
	}

	result, err := exec.Run(context.Background(), quadraticSpace, objective, executor.Options{
		StudyID:     "study-maximize-median",
		Goal:        store.Maximize,
		NTrials:     6,
		Parallelism: 1,
		SamplerName: sampler.NameRandom,
		PrunerName:  "median",
		PrunerOpts: map[string]interface{}{
			"n_startup_trials": 1,
		},
	})
	require.NoError(t, err)
	require.Len(t, result.Trials, 6)

	for _, tr := range result.Trials {
		if (tr.Number-1)%2 == 0 {
			assert.Equal(t, store.TrialCompleted, tr.Status, "high-value trial %d should survive pruning when maximizing", tr.Number)
		} else {
			assert.Equal(t, store.TrialPruned, tr.Status, "low-value trial %d should be pruned when maximizing", tr.Number)
		}
	}
}

func TestParallelRunRespectsConcurrencyAndCompletesAllTrials(t *testing.T) {
	st := memory.New()
	exec := executor.New(st, nil)

	result, err := exec.Run(context.Background(), quadraticSpace, quadraticObjective, executor.Options{
		StudyID:     "study-parallel",
		Goal:        store.Minimize,
		NTrials:     15,
		Parallelism: 4,
		SamplerName: sampler.NameRandom,
	})
	require.NoError(t, err)
	assert.Len(t, result.Trials, 15)
	completed := 0
	for _, tr := range result.Trials {
		if tr.Status == store.TrialCompleted {
			completed++
		}
	}
	assert.Equal(t, 15, completed)
}
