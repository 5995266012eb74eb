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
	"sync"
)

// Hyperband pre-computes a set of Successive Halving brackets from eta
// and max_resource, assigns each trial to a bracket round-robin, and
// runs an independent Successive Halving instance per bracket. Peer sets
// are scoped to (bracket, rung) -- bracket isolation is maintained by
// filtering Reports to the querying trial's own bracket before
// delegating.
type Hyperband struct {
	Eta         float64
	MaxResource int
	SMax        int

	mu           sync.Mutex
	nextBracket  int
	trialBracket map[string]int
	brackets     []*SuccessiveHalving
}

// NewHyperband constructs the pruner from options: "eta" (default 3),
// "max_resource" (default 81), plus the shared gate options applied to
// every bracket's internal Successive Halving instance.
func NewHyperband(opts map[string]interface{}) *Hyperband {
	eta := optFloat(opts, "eta", 3)
	maxResource := optInt(opts, "max_resource", 81)
	// The epsilon guards against floating-point error landing just under
	// an exact integer result (e.g. eta=3, max_resource=81 must give
	// exactly s_max=4, not 3.999...996 floored to 3).
	sMax := int(math.Floor(math.Log(float64(maxResource))/math.Log(eta) + 1e-9))
	if sMax < 0 {
		sMax = 0
	}

	brackets := make([]*SuccessiveHalving, sMax+1)
	for i := range brackets {
		brackets[i] = NewSuccessiveHalving(opts)
	}

	return &Hyperband{
		Eta:          eta,
		MaxResource:  maxResource,
		SMax:         sMax,
		trialBracket: make(map[string]int),
		brackets:     brackets,
	}
}

// BracketCount returns the number of pre-computed brackets (s_max + 1).
func (h *Hyperband) BracketCount() int { return h.SMax + 1 }

// BracketForIndex is the deterministic round-robin bracket assignment:
// bracket = trialIndex % bracketCount. It is a pure function of the
// trial's index, computable before the trial (and its store-assigned
// id) exists.
func (h *Hyperband) BracketForIndex(trialIndex int) int {
	return trialIndex % len(h.brackets)
}

// RegisterTrial records the bracket a trial (identified by its
// store-assigned id) was placed in, so later ShouldPrune calls --
// which only see the trial id -- can recover it.
func (h *Hyperband) RegisterTrial(trialID string, bracket int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.trialBracket[trialID] = bracket
}

// AssignBracketForIndex is a convenience that combines BracketForIndex
// and RegisterTrial for callers (the executor) that have both the index
// and the id available at the same time.
func (h *Hyperband) AssignBracketForIndex(trialID string, trialIndex int) int {
	b := h.BracketForIndex(trialIndex)
	h.RegisterTrial(trialID, b)
	return b
}

func (h *Hyperband) ShouldPrune(trialID string, step int, value float64, peers []Report) bool {
	h.mu.Lock()
	bracket, ok := h.trialBracket[trialID]
	h.mu.Unlock()
	if !ok {
		bracket = 0
	}

	scoped := make([]Report, 0, len(peers))
	for _, p := range peers {
		if p.Bracket == bracket {
			scoped = append(scoped, p)
		}
	}
	return h.brackets[bracket].ShouldPrune(trialID, step, value, scoped)
}
