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

// Package seed implements the engine's RNG facility: explicit,
// purely-functional state threading with deterministic per-trial seed
// derivation. No sampler or executor may mutate process-global RNG state;
// every function here takes a State and returns the next one.
package seed

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"math"
	"math/big"
)

// State is an explicit PRNG state. It wraps a splitmix64 generator, chosen
// for its simplicity and good avalanche behavior when seeded from a SHA-256
// digest. Callers never read or write the field directly; they thread State
// values through Next/Uniform/Normal/etc.
type State struct {
	s uint64
}

// FromUint64 builds a State directly from a 64-bit seed.
func FromUint64(v uint64) State { return State{s: v} }

// Raw exposes the internal 64-bit state, for callers (the executor) that
// need to persist a trial's derived seed alongside its record for later
// reproducibility rather than to drive further draws.
func (s State) Raw() uint64 { return s.s }

// Derive computes the per-trial seed from a master seed and a trial index,
// per the specification: derive(m, i) = SHA256(m || i) truncated to the
// RNG's 64-bit state width.
func Derive(master int64, trialIndex int) State {
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[0:8], uint64(master))
	binary.BigEndian.PutUint64(buf[8:16], uint64(trialIndex))
	digest := sha256.Sum256(buf[:])
	return State{s: binary.BigEndian.Uint64(digest[:8])}
}

// Bootstrap returns a cryptographically strong seed for use when the study
// has no fixed master seed. The returned value should be recorded on the
// trial so the trial remains individually reproducible.
func Bootstrap() int64 {
	n, err := rand.Int(rand.Reader, big.NewInt(math.MaxInt64))
	if err != nil {
		// crypto/rand failure is effectively unrecoverable entropy
		// starvation; fall back to a timestamp-independent constant
		// rather than touching a process-global RNG.
		return 0x9E3779B97F4A7C15 & math.MaxInt64
	}
	return n.Int64()
}

// next advances the splitmix64 state and returns the new state together
// with the raw 64-bit output.
func next(s State) (State, uint64) {
	s.s += 0x9E3779B97F4A7C15
	z := s.s
	z = (z ^ (z >> 30)) * 0xBF58476D1CE4E5B9
	z = (z ^ (z >> 27)) * 0x94D049BB133111EB
	z = z ^ (z >> 31)
	return s, z
}

// UniformUnit draws a value in [0, 1) and returns the advanced state.
func UniformUnit(s State) (float64, State) {
	s2, z := next(s)
	// Use the top 53 bits for a uniform double in [0, 1), matching the
	// precision of float64 mantissas.
	return float64(z>>11) / float64(1<<53), s2
}

// Uniform draws a value in [a, b) and returns the advanced state.
func Uniform(s State, a, b float64) (float64, State) {
	u, s2 := UniformUnit(s)
	return a + u*(b-a), s2
}

// erf approximates the error function with the Abramowitz-Stegun rational
// approximation (formula 7.1.26), accurate to ~1.5e-7 across the real line.
func erf(x float64) float64 {
	const (
		a1 = 0.254829592
		a2 = -0.284496736
		a3 = 1.421413741
		a4 = -1.453152027
		a5 = 1.061405429
		p  = 0.3275911
	)
	sign := 1.0
	if x < 0 {
		sign = -1.0
		x = -x
	}
	t := 1.0 / (1.0 + p*x)
	y := 1.0 - (((((a5*t+a4)*t)+a3)*t+a2)*t+a1)*t*math.Exp(-x*x)
	return sign * y
}

// Erf exposes the Abramowitz-Stegun approximation for use by the math
// kernels package (standard normal CDF, etc).
func Erf(x float64) float64 { return erf(x) }

// Normal draws from N(mu, sigma^2) using the Box-Muller transform and
// returns the advanced state.
func Normal(s State, mu, sigma float64) (float64, State) {
	var u1, u2 float64
	// Box-Muller requires u1 in (0, 1]; guard against the zero edge case
	// which would send log(u1) to -Inf.
	for u1 == 0 {
		u1, s = UniformUnit(s)
	}
	u2, s = UniformUnit(s)
	z0 := math.Sqrt(-2*math.Log(u1)) * math.Cos(2*math.Pi*u2)
	return mu + sigma*z0, s
}

// ExpRate draws from an exponential distribution with rate lambda.
func ExpRate(s State, lambda float64) (float64, State) {
	u, s2 := UniformUnit(s)
	for u == 0 {
		u, s2 = UniformUnit(s2)
	}
	return -math.Log(u) / lambda, s2
}

// Choice draws a uniformly-random index in [0, n) and returns the advanced
// state. It is the building block for categorical sampling.
func Choice(s State, n int) (int, State) {
	if n <= 0 {
		return 0, s
	}
	s2, z := next(s)
	return int(z % uint64(n)), s2
}

// StdNormalCDF is the standard normal cumulative distribution function,
// used by the copula sampler to map correlated normals back to [0, 1].
func StdNormalCDF(x float64) float64 {
	return 0.5 * (1 + erf(x/math.Sqrt2))
}
