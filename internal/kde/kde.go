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

// Package kde implements the univariate and multivariate (copula) kernel
// density estimators that back the TPE samplers, along with the shared
// numeric-safety floors used throughout the engine's math.
package kde

import (
	"math"

	"github.com/thestormforge/optimize-engine/internal/seed"
)

const (
	// logFloor bounds log() arguments away from zero.
	logFloor = 1e-12
	// denomFloor bounds denominators away from zero.
	denomFloor = 1e-10
	// probFloor is the minimum density/probability value returned anywhere.
	probFloor = 1e-10

	// scottFactor is Scott's-rule bandwidth multiplier, f in sigma = f *
	// std(x) * n^(-1/5).
	scottFactor = 1.06
	// bwFloorFraction floors the bandwidth at this fraction of the range.
	bwFloorFraction = 1e-3
	// priorSigmaFraction sets sigma_prior = fraction * (b - a).
	priorSigmaFraction = 0.15
	// mixtureWeight blends the Gaussian mixture with a uniform prior to
	// keep density strictly positive everywhere on [a, b].
	mixtureWeight = 0.99
)

func safeLog(x float64) float64 {
	if x < logFloor {
		x = logFloor
	}
	return math.Log(x)
}

func safeDenom(x float64) float64 {
	if x >= 0 && x < denomFloor {
		return denomFloor
	}
	if x < 0 && x > -denomFloor {
		return -denomFloor
	}
	return x
}

func clampProb(p float64) float64 {
	if p < probFloor {
		return probFloor
	}
	return p
}

func clampCorrelation(r float64) float64 {
	if r > 1 {
		return 1
	}
	if r < -1 {
		return -1
	}
	return r
}

// Univariate is a kernel density estimate over samples drawn from [a, b],
// always including a weak prior kernel centred at the midpoint to prevent
// mode collapse when n is small (an empty sample set reduces to the prior
// alone).
type Univariate struct {
	a, b     float64
	kernels  []gaussian1D
}

type gaussian1D struct {
	mu, sigma float64
}

func stddev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	mean := 0.0
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	var ss float64
	for _, x := range xs {
		d := x - mean
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(xs)-1))
}

// NewUnivariate builds a KDE over samples on the closed range [a, b] using
// Scott's rule with the standard n^(-1/5) exponent.
func NewUnivariate(samples []float64, a, b float64) *Univariate {
	return NewUnivariateScaled(samples, a, b, -0.2)
}

// NewUnivariateScaled is NewUnivariate with a caller-supplied bandwidth
// exponent, used by the multivariate TPE sampler to apply the
// n^(-1/(d+4)) adjustment from spec.md §4.5 instead of the univariate
// sampler's n^(-1/5).
func NewUnivariateScaled(samples []float64, a, b, exponent float64) *Univariate {
	rangeWidth := b - a
	bwFloor := rangeWidth * bwFloorFraction

	sigma := scottFactor * stddev(samples) * math.Pow(math.Max(float64(len(samples)), 1), exponent)
	if sigma < bwFloor {
		sigma = bwFloor
	}

	kernels := make([]gaussian1D, 0, len(samples)+1)
	for _, x := range samples {
		kernels = append(kernels, gaussian1D{mu: x, sigma: sigma})
	}
	// Prior augmentation: always mix in a weak prior kernel, even for n=0.
	kernels = append(kernels, gaussian1D{
		mu:    (a + b) / 2,
		sigma: priorSigmaFraction * rangeWidth,
	})

	return &Univariate{a: a, b: b, kernels: kernels}
}

func gaussianPDF(x, mu, sigma float64) float64 {
	sigma = math.Max(sigma, 1e-12)
	z := (x - mu) / sigma
	return math.Exp(-0.5*z*z) / (sigma * math.Sqrt(2*math.Pi))
}

// PDF evaluates the density at x: a 0.99/0.01 blend of the equal-weight
// Gaussian mixture with the uniform 1/(b-a) prior, guaranteeing strictly
// positive density everywhere on [a, b]. Each kernel is renormalized by
// its mass inside [a, b], so the density integrates to 1 over [a, b].
func (k *Univariate) PDF(x float64) float64 {
	mixture := 0.0
	for _, g := range k.kernels {
		mass := seed.StdNormalCDF((k.b-g.mu)/g.sigma) - seed.StdNormalCDF((k.a-g.mu)/g.sigma)
		mixture += gaussianPDF(x, g.mu, g.sigma) / math.Max(mass, denomFloor)
	}
	mixture /= float64(len(k.kernels))

	uniform := 1.0 / safeDenom(k.b-k.a)
	p := mixtureWeight*mixture + (1-mixtureWeight)*uniform
	return clampProb(p)
}

// Sample draws a point from the mixture: pick a kernel uniformly, then
// draw a normal centred on it, clamping back into [a, b].
func (k *Univariate) Sample(s seed.State) (float64, seed.State) {
	idx, s2 := seed.Choice(s, len(k.kernels))
	g := k.kernels[idx]
	v, s3 := seed.Normal(s2, g.mu, g.sigma)
	if v < k.a {
		v = k.a
	}
	if v > k.b {
		v = k.b
	}
	return v, s3
}

// LaplaceSmoothed returns Laplace-smoothed frequency ratios for categorical
// parameters: counts[i] observations out of total, over k categories.
func LaplaceSmoothed(counts []int, k int) []float64 {
	total := 0
	for _, c := range counts {
		total += c
	}
	out := make([]float64, k)
	denom := float64(total + k)
	for i := range out {
		c := 0
		if i < len(counts) {
			c = counts[i]
		}
		out[i] = clampProb(float64(c+1) / denom)
	}
	return out
}
