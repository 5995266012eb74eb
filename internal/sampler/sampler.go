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

// Package sampler implements the proposal algorithms that suggest the next
// trial's parameters from accumulated study history: Random, Grid, TPE
// (univariate and multivariate/copula), GP, NSGA-II, QMC, and Bandit. Every
// sampler shares the init/next contract of spec.md §4.5; the engine's
// single coordinator (internal/executor) is the only caller of Next, so
// samplers may keep ordinary mutable fields for their own bookkeeping
// (e.g. Grid's fixed permutation) without synchronization, while still
// threading RNG state explicitly per spec.md §4.2 -- no sampler ever
// mutates a process-global RNG.
package sampler

import (
	"math"
	"sort"

	"github.com/thestormforge/optimize-engine/internal/apperror"
	"github.com/thestormforge/optimize-engine/internal/seed"
	"github.com/thestormforge/optimize-engine/internal/space"
)

// HistoryItem is one finished trial as seen by a sampler: its decoded
// parameters and final score. Only trials with finite scores ever reach a
// sampler (spec.md §4.5's failure-behaviour rule is enforced by the
// caller; sanitize below additionally re-checks it defensively).
type HistoryItem struct {
	Params  space.Values
	Score   float64
	Metrics map[string]float64
}

// Sampler is the shared proposal contract. Next consumes the space
// function for the current trial index plus finished-trial history and
// returns decoded parameter values and the advanced RNG state.
type Sampler interface {
	Next(rng seed.State, spaceFn space.SpaceFunc, trialIndex int, history []HistoryItem) (space.Values, seed.State, error)
}

// Name is the closed whitelist of built-in sampler identifiers accepted
// from external configuration (spec.md §9's "closed whitelist per field"
// requirement).
type Name string

const (
	NameRandom      Name = "random"
	NameGrid        Name = "grid"
	NameTPE         Name = "tpe"
	NameTPEMulti    Name = "tpe_multivariate"
	NameGP          Name = "gp"
	NameNSGA2       Name = "nsga2"
	NameQMC         Name = "qmc"
	NameBandit      Name = "bandit"
)

// New constructs a built-in sampler by name. Unknown names return
// InvalidConfig, never a zero-value sampler, per spec.md §7.
func New(name Name, opts map[string]interface{}) (Sampler, error) {
	switch name {
	case NameRandom, "":
		return NewRandom(), nil
	case NameGrid:
		return NewGrid(opts)
	case NameTPE:
		return NewTPE(opts), nil
	case NameTPEMulti:
		return NewTPEMultivariate(opts), nil
	case NameGP:
		return NewGP(opts), nil
	case NameNSGA2:
		return NewNSGA2(opts), nil
	case NameQMC:
		return NewQMC(opts), nil
	case NameBandit:
		return NewBandit(opts), nil
	default:
		return nil, apperror.Newf(apperror.InvalidConfig, "unknown sampler %q", name).
			WithField("sampler").
			WithHint("use one of random, grid, tpe, tpe_multivariate, gp, nsga2, qmc, bandit")
	}
}

// sanitize drops history entries with non-finite scores and reports
// whether any finite entries remain, implementing the shared failure
// behaviour of spec.md §4.5: "any sampler that encounters NaN/non-finite
// scores in history must skip those observations and continue; an
// all-non-finite history reverts to Random."
func sanitize(history []HistoryItem) ([]HistoryItem, bool) {
	out := make([]HistoryItem, 0, len(history))
	for _, h := range history {
		if math.IsNaN(h.Score) || math.IsInf(h.Score, 0) {
			continue
		}
		out = append(out, h)
	}
	return out, len(out) > 0
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

func optBool(opts map[string]interface{}, key string, def bool) bool {
	if opts == nil {
		return def
	}
	if v, ok := opts[key].(bool); ok {
		return v
	}
	return def
}

// sortedHistory returns a copy of history sorted best first: by score
// ascending when minimizing, descending when maximize is set.
func sortedHistory(history []HistoryItem, maximize bool) []HistoryItem {
	out := make([]HistoryItem, len(history))
	copy(out, history)
	sort.Slice(out, func(i, j int) bool {
		if maximize {
			return out[i].Score > out[j].Score
		}
		return out[i].Score < out[j].Score
	})
	return out
}
