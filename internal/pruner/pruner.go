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

// Package pruner implements the intermediate-value pruning strategies
// (Median, Percentile, Successive Halving, Hyperband) that the executor
// consults while a trial is running, plus the shared warm-up/startup/
// interval gating rules common to all of them.
package pruner

import (
	"sort"

	"github.com/thestormforge/optimize-engine/internal/apperror"
)

// Report is one intermediate value reported by a peer trial at a given
// step, as seen by a pruner consulting the store's observation rows.
type Report struct {
	TrialID string
	Bracket int
	Step    int
	Value   float64
}

// Pruner is the shared should_prune? contract: given the current trial's
// step and intermediate value plus the peer reports observed so far at
// that step, decide whether the trial should be pruned.
type Pruner interface {
	ShouldPrune(trialID string, step int, value float64, peers []Report) bool
}

// Name is the closed whitelist of built-in pruner identifiers.
type Name string

const (
	NameNone              Name = "none"
	NameMedian            Name = "median"
	NamePercentile        Name = "percentile"
	NameSuccessiveHalving Name = "successive_halving"
	NameHyperband         Name = "hyperband"
)

// New constructs a built-in pruner by name. NameNone and the empty string
// both yield a no-op pruner. Unknown names return InvalidConfig.
func New(name Name, opts map[string]interface{}) (Pruner, error) {
	switch name {
	case NameNone, "":
		return NoOp{}, nil
	case NameMedian:
		return NewMedian(opts), nil
	case NamePercentile:
		return NewPercentile(opts)
	case NameSuccessiveHalving:
		return NewSuccessiveHalving(opts), nil
	case NameHyperband:
		return NewHyperband(opts), nil
	default:
		return nil, apperror.Newf(apperror.InvalidConfig, "unknown pruner %q", name).
			WithField("pruner").
			WithHint("use one of none, median, percentile, successive_halving, hyperband")
	}
}

// NoOp never prunes; used when a study configures no pruner.
type NoOp struct{}

func (NoOp) ShouldPrune(string, int, float64, []Report) bool { return false }

// gate holds the shared warm-up/startup/interval rules every built-in
// pruner applies before consulting its own cutoff logic.
type gate struct {
	WarmupSteps   int
	StartupTrials int
	IntervalSteps int
	Maximize      bool
}

func newGate(opts map[string]interface{}) gate {
	return gate{
		WarmupSteps:   optInt(opts, "n_warmup_steps", 0),
		StartupTrials: optInt(opts, "n_startup_trials", 0),
		IntervalSteps: optInt(opts, "interval_steps", 1),
		Maximize:      optString(opts, "goal", "") == "maximize",
	}
}

// allow applies the three shared gating rules, returning false when the
// pruner must not evaluate at all (too early, too few peers, or an
// off-interval step) regardless of the chosen peers at this step.
func (g gate) allow(step int, peersAtStep int) bool {
	if step < g.WarmupSteps {
		return false
	}
	if g.IntervalSteps > 0 && step%g.IntervalSteps != 0 {
		return false
	}
	if peersAtStep < g.StartupTrials {
		return false
	}
	return true
}

// worseThan reports whether value is worse than cutoff given the
// configured direction: larger is worse when minimizing, smaller is
// worse when maximizing.
func (g gate) worseThan(value, cutoff float64) bool {
	if g.Maximize {
		return value < cutoff
	}
	return value > cutoff
}

func valuesAtStep(peers []Report, step int) []float64 {
	out := make([]float64, 0, len(peers))
	for _, p := range peers {
		if p.Step == step {
			out = append(out, p.Value)
		}
	}
	return out
}

func sortedCopy(xs []float64) []float64 {
	out := make([]float64, len(xs))
	copy(out, xs)
	sort.Float64s(out)
	return out
}

func median(sorted []float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

func optInt(opts map[string]interface{}, key string, def int) int {
	if opts == nil {
		return def
	}
	switch v := opts[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return def
}

func optFloat(opts map[string]interface{}, key string, def float64) float64 {
	if opts == nil {
		return def
	}
	switch v := opts[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return def
}

func optString(opts map[string]interface{}, key, def string) string {
	if opts == nil {
		return def
	}
	if v, ok := opts[key].(string); ok {
		return v
	}
	return def
}
