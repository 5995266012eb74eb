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

package space

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/thestormforge/optimize-engine/internal/apperror"
)

func TestValidateRejectsMalformedSpecs(t *testing.T) {
	cases := map[string]Space{
		"empty space":       {},
		"inverted uniform":  {"x": {Kind: Uniform, Low: 5, High: 1}},
		"non-positive log":  {"x": {Kind: LogUniform, Low: 0, High: 1}},
		"empty categorical": {"x": {Kind: Categorical, Choices: nil}},
		"inverted int":      {"x": {Kind: Int, Low: 10, High: 1}},
	}
	for name, s := range cases {
		t.Run(name, func(t *testing.T) {
			err := s.Validate()
			assert.Error(t, err)
			assert.True(t, apperror.Is(err, apperror.InvalidSearchSpace))
		})
	}
}

func TestValidateAcceptsWellFormedSpecs(t *testing.T) {
	s := Space{
		"x": {Kind: Uniform, Low: -5, High: 5},
		"y": {Kind: LogUniform, Low: 1e-6, High: 1},
		"z": {Kind: Int, Low: 1, High: 10},
		"c": {Kind: Categorical, Choices: []string{"a", "b"}},
	}
	assert.NoError(t, s.Validate())
}

func TestEncodeDecodeRoundTripContinuous(t *testing.T) {
	specs := []Spec{
		{Kind: Uniform, Low: -5, High: 5},
		{Kind: LogUniform, Low: 1e-4, High: 10},
		{Kind: DiscreteUniform, Low: 0, High: 10, Step: 0.5},
	}
	for _, sp := range specs {
		for u := 0.05; u < 1.0; u += 0.05 {
			v := sp.Decode(u)
			u2 := sp.Encode(v)
			v2 := sp.Decode(u2)
			assert.InDelta(t, v, v2, 1e-6, "kind=%s u=%v", sp.Kind, u)
		}
	}
}

func TestEncodeCategoricalMapsIndexOverNMinusOne(t *testing.T) {
	sp := Spec{Kind: Categorical, Choices: []string{"a", "b", "c", "d"}}
	n := len(sp.Choices)
	for idx := 0; idx < n; idx++ {
		want := float64(idx) / float64(n-1)
		got := sp.Encode(float64(idx))
		assert.InDelta(t, want, got, 1e-9)
	}
}

func TestSingleCategoricalEncodesToHalf(t *testing.T) {
	sp := Spec{Kind: Categorical, Choices: []string{"only"}}
	assert.Equal(t, 0.5, sp.Encode(0))
}

func TestClampIntegerRounds(t *testing.T) {
	sp := Spec{Kind: Int, Low: 0, High: 10}
	assert.Equal(t, 7.0, sp.Clamp(6.6))
	assert.Equal(t, 10.0, sp.Clamp(15))
	assert.Equal(t, 0.0, sp.Clamp(-3))
}
