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

package kde

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// integrate performs a fine-grained trapezoidal integration of k.PDF over
// [a, b], used to check the "integrates to 1" invariant from spec.md §8.
func integrate(k *Univariate, a, b float64, steps int) float64 {
	h := (b - a) / float64(steps)
	sum := 0.5 * (k.PDF(a) + k.PDF(b))
	for i := 1; i < steps; i++ {
		sum += k.PDF(a + float64(i)*h)
	}
	return sum * h
}

func TestUnivariatePDFIntegratesToOne(t *testing.T) {
	cases := [][]float64{
		{},
		{5},
		{1, 2, 3, 4, 5},
		{-3, -1, 0, 0.5, 2, 2.1, 4.9},
	}
	for _, samples := range cases {
		k := NewUnivariate(samples, -5, 5)
		area := integrate(k, -5, 5, 20000)
		assert.InDelta(t, 1.0, area, 1e-3)
	}
}

func TestEmptySamplesReducesToPriorAlone(t *testing.T) {
	k := NewUnivariate(nil, 0, 10)
	assert.Len(t, k.kernels, 1)
	assert.InDelta(t, 5.0, k.kernels[0].mu, 1e-9)
}

func TestCorrelationIdentityBelowThreeSamples(t *testing.T) {
	rows := [][]float64{{0.1, 0.9}, {0.5, 0.5}}
	corr := Correlation(rows, 2)
	assert.True(t, IsIdentity(corr))
}

func TestCorrelationClampedAndSymmetric(t *testing.T) {
	rows := [][]float64{
		{0.1, 0.1}, {0.2, 0.2}, {0.3, 0.3}, {0.4, 0.4}, {0.9, 0.9},
	}
	corr := Correlation(rows, 2)
	assert.InDelta(t, corr[0][1], corr[1][0], 1e-12)
	assert.True(t, corr[0][1] > 0.9, "expected strong positive correlation, got %v", corr[0][1])
}

func TestLaplaceSmoothedSumsToOne(t *testing.T) {
	probs := LaplaceSmoothed([]int{3, 0, 1}, 3)
	sum := 0.0
	for _, p := range probs {
		sum += p
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
	for _, p := range probs {
		assert.True(t, p > 0, "laplace smoothing must keep every probability strictly positive")
	}
}
