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

// Package space implements the declarative search-space model: parameter
// specs, sampling, and the uniform-interval encode/decode used by
// multivariate samplers to operate in a common [0, 1]^d space.
//
// The spec generalizes the LowerBound/UpperBound/CheckParameterValue shape
// of the teacher's redskyapi Parameter type (see original_source/redskyapi
// /experiments/v1alpha1/parameter.go) from a wire-format parameter into a
// sampling-capable one.
package space

import (
	"math"
	"sort"

	"github.com/thestormforge/optimize-engine/internal/apperror"
	"github.com/thestormforge/optimize-engine/internal/seed"
)

// Kind enumerates the supported distribution families for a single
// parameter.
type Kind string

const (
	Uniform         Kind = "uniform"
	LogUniform      Kind = "log_uniform"
	Int             Kind = "int"
	Categorical     Kind = "categorical"
	DiscreteUniform Kind = "discrete_uniform"
)

// Spec describes exactly one of the supported distributions for a single
// parameter. Only the fields relevant to Kind are consulted.
type Spec struct {
	Name string
	Kind Kind

	// Uniform, LogUniform, DiscreteUniform, Int
	Low  float64
	High float64
	Step float64 // DiscreteUniform only; 0 means "no step"

	// Categorical
	Choices []string
}

// Space is the declarative description of a study's parameters for one
// trial index. Conditional spaces are modelled by letting the caller's
// SpaceFunc inspect prior choices per spec.md §9; Space itself is just a
// map of independent specs for one call.
type Space map[string]Spec

// SpaceFunc returns the parameter spec map for a given trial index,
// allowing conditional search spaces (e.g. parameter B only existing when
// parameter A takes a given value).
type SpaceFunc func(trialIndex int) Space

// Values is a decoded parameter assignment: name -> value. Numeric values
// are float64 (including integers, which callers round); categorical
// values are stored as their index into Spec.Choices, recovered as a
// string with Spec.ChoiceAt.
type Values map[string]float64

// Validate rejects empty choice lists, empty search spaces, inverted
// ranges, and non-positive log-uniform bounds, returning an
// InvalidSearchSpace error naming the offending field.
func (s Space) Validate() error {
	if len(s) == 0 {
		return apperror.New(apperror.InvalidSearchSpace, "search space has no parameters").
			WithHint("add at least one parameter spec")
	}
	for name, spec := range s {
		if err := spec.validate(); err != nil {
			return err.WithField(name)
		}
	}
	return nil
}

func (sp Spec) validate() *apperror.Error {
	switch sp.Kind {
	case Uniform, DiscreteUniform:
		if !(sp.Low < sp.High) {
			return apperror.Newf(apperror.InvalidSearchSpace, "inverted or empty range [%g, %g]", sp.Low, sp.High).
				WithHint("low must be strictly less than high")
		}
	case LogUniform:
		if sp.Low <= 0 {
			return apperror.Newf(apperror.InvalidSearchSpace, "log-uniform lower bound %g must be positive", sp.Low).
				WithHint("use a positive lower bound, e.g. 1e-6")
		}
		if !(sp.Low < sp.High) {
			return apperror.Newf(apperror.InvalidSearchSpace, "inverted or empty range (%g, %g]", sp.Low, sp.High).
				WithHint("low must be strictly less than high")
		}
	case Int:
		if sp.Low > sp.High {
			return apperror.Newf(apperror.InvalidSearchSpace, "inverted integer range [%g, %g]", sp.Low, sp.High).
				WithHint("low must be <= high")
		}
	case Categorical:
		if len(sp.Choices) == 0 {
			return apperror.New(apperror.InvalidSearchSpace, "categorical parameter has no choices").
				WithHint("list at least one choice")
		}
	default:
		return apperror.Newf(apperror.InvalidSearchSpace, "unknown parameter kind %q", sp.Kind)
	}
	return nil
}

// Sample draws a value for every parameter in the space independently,
// threading the RNG state through each draw.
func Sample(s State_, space Space) (Values, State_) {
	return sampleInto(s, space)
}

// State_ is a thin alias kept local to this package to avoid importing
// seed.State under a different name at every call site; it is exactly
// seed.State.
type State_ = seed.State

func sampleInto(s State_, space Space) (Values, State_) {
	out := make(Values, len(space))
	// Iterate names in sorted order so sampling is deterministic given a
	// fixed RNG state, independent of Go's randomized map iteration.
	names := sortedNames(space)
	for _, name := range names {
		spec := space[name]
		var v float64
		v, s = spec.sample(s)
		out[name] = v
	}
	return out, s
}

func sortedNames(space Space) []string {
	names := make([]string, 0, len(space))
	for n := range space {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (sp Spec) sample(s State_) (float64, State_) {
	switch sp.Kind {
	case Uniform:
		return seed.Uniform(s, sp.Low, sp.High)
	case LogUniform:
		lo, hi := math.Log(sp.Low), math.Log(sp.High)
		v, s2 := seed.Uniform(s, lo, hi)
		return math.Exp(v), s2
	case Int:
		u, s2 := seed.UniformUnit(s)
		return math.Floor(sp.Low + u*(sp.High-sp.Low+1)), s2
	case DiscreteUniform:
		step := sp.Step
		if step <= 0 {
			step = 1
		}
		n := math.Floor((sp.High-sp.Low)/step) + 1
		u, s2 := seed.UniformUnit(s)
		k := math.Floor(u * n)
		if k >= n {
			k = n - 1
		}
		return sp.Low + k*step, s2
	case Categorical:
		idx, s2 := seed.Choice(s, len(sp.Choices))
		return float64(idx), s2
	}
	return 0, s
}

// ChoiceAt returns the categorical choice string for a decoded index.
func (sp Spec) ChoiceAt(v float64) string {
	idx := int(math.Round(v))
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sp.Choices) {
		idx = len(sp.Choices) - 1
	}
	return sp.Choices[idx]
}

// clampUnit clamps u into [0.001, 0.999] to guard the inverse-CDF mapping
// against open-interval singularities at 0 and 1.
func clampUnit(u float64) float64 {
	const lo, hi = 0.001, 0.999
	if u < lo {
		return lo
	}
	if u > hi {
		return hi
	}
	return u
}

// Encode maps a concrete value to [0, 1] using the inverse CDF of the
// spec's distribution: log-uniform is linear in log-space, categorical is
// index/(n-1) with n=1 mapping to 0.5, integer is (v-min)/(max-min+1).
func (sp Spec) Encode(v float64) float64 {
	switch sp.Kind {
	case Uniform, DiscreteUniform:
		if sp.High == sp.Low {
			return 0.5
		}
		return (v - sp.Low) / (sp.High - sp.Low)
	case LogUniform:
		lo, hi := math.Log(sp.Low), math.Log(sp.High)
		if hi == lo {
			return 0.5
		}
		return (math.Log(v) - lo) / (hi - lo)
	case Int:
		span := sp.High - sp.Low + 1
		if span <= 0 {
			return 0.5
		}
		return (v - sp.Low) / span
	case Categorical:
		n := len(sp.Choices)
		if n <= 1 {
			return 0.5
		}
		idx := int(math.Round(v))
		return float64(idx) / float64(n-1)
	}
	return 0.5
}

// Decode is the inverse of Encode: u is clamped into [0.001, 0.999] first
// to avoid singularities at the open ends of the interval, then mapped
// back into the parameter's native domain with integer rounding and
// categorical index flooring.
func (sp Spec) Decode(u float64) float64 {
	u = clampUnit(u)
	switch sp.Kind {
	case Uniform:
		return sp.Low + u*(sp.High-sp.Low)
	case DiscreteUniform:
		step := sp.Step
		if step <= 0 {
			step = 1
		}
		raw := sp.Low + u*(sp.High-sp.Low)
		steps := math.Round((raw - sp.Low) / step)
		v := sp.Low + steps*step
		return math.Min(math.Max(v, sp.Low), sp.High)
	case LogUniform:
		lo, hi := math.Log(sp.Low), math.Log(sp.High)
		return math.Exp(lo + u*(hi-lo))
	case Int:
		span := sp.High - sp.Low + 1
		v := math.Floor(sp.Low + u*span)
		if v > sp.High {
			v = sp.High
		}
		if v < sp.Low {
			v = sp.Low
		}
		return v
	case Categorical:
		n := len(sp.Choices)
		idx := int(math.Floor(u * float64(n)))
		if idx >= n {
			idx = n - 1
		}
		if idx < 0 {
			idx = 0
		}
		return float64(idx)
	}
	return u
}

// Clamp clips v into the spec's valid domain; used after candidate
// generation in samplers that may overshoot spec bounds (e.g. TPE KDE
// sampling).
func (sp Spec) Clamp(v float64) float64 {
	switch sp.Kind {
	case Uniform, LogUniform, DiscreteUniform:
		if v < sp.Low {
			return sp.Low
		}
		if v > sp.High {
			return sp.High
		}
		return v
	case Int:
		r := math.Round(v)
		if r < sp.Low {
			return sp.Low
		}
		if r > sp.High {
			return sp.High
		}
		return r
	case Categorical:
		idx := int(math.Round(v))
		if idx < 0 {
			idx = 0
		}
		if idx >= len(sp.Choices) {
			idx = len(sp.Choices) - 1
		}
		return float64(idx)
	}
	return v
}

// Names returns the space's parameter names in stable sorted order.
func (s Space) Names() []string { return sortedNames(s) }
