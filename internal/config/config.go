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

// Package config holds the engine-wide defaults applied when a caller of
// pkg/optimize.Optimize leaves an option unset: which sampler and pruner
// to fall back to, and where the durable store lives. It is struct-based
// and environment-aware rather than built on a configuration library --
// the engine has exactly one flat layer of settings, not the nested
// profile/context model a library like viper is built for.
package config

import (
	"os"
	"strconv"
)

// Defaults is the resolved set of engine-wide fallback settings.
type Defaults struct {
	// SamplerName is used when an Options value leaves Sampler empty.
	SamplerName string
	// SamplerOpts is used alongside SamplerName when SamplerOpts is nil.
	SamplerOpts map[string]interface{}
	// PrunerName is used when an Options value leaves Pruner empty.
	PrunerName string
	// PrunerOpts is used alongside PrunerName when PrunerOpts is nil.
	PrunerOpts map[string]interface{}
	// StorageDSN is the PostgreSQL connection string used when an
	// Options value leaves Storage empty. Empty means "use the
	// in-memory store".
	StorageDSN string
	// Parallelism is used when an Options value leaves Parallelism unset
	// (zero).
	Parallelism int
}

const (
	envSampler     = "OPTIMIZE_DEFAULT_SAMPLER"
	envPruner      = "OPTIMIZE_DEFAULT_PRUNER"
	envStorageDSN  = "OPTIMIZE_STORAGE_DSN"
	envParallelism = "OPTIMIZE_DEFAULT_PARALLELISM"
)

// Default returns the engine's built-in fallback settings: a random
// sampler, no pruner, the in-memory store, and sequential execution.
// These are deliberately conservative -- a caller who configures nothing
// still gets a correct, if unoptimized, study.
func Default() Defaults {
	return Defaults{
		SamplerName: "random",
		PrunerName:  "none",
		Parallelism: 1,
	}
}

// Load returns Default(), overridden by any of OPTIMIZE_DEFAULT_SAMPLER,
// OPTIMIZE_DEFAULT_PRUNER, OPTIMIZE_STORAGE_DSN, and
// OPTIMIZE_DEFAULT_PARALLELISM present in the process environment.
// Per-call Options always take precedence over these, which take
// precedence over Default().
func Load() Defaults {
	d := Default()
	if v := os.Getenv(envSampler); v != "" {
		d.SamplerName = v
	}
	if v := os.Getenv(envPruner); v != "" {
		d.PrunerName = v
	}
	if v := os.Getenv(envStorageDSN); v != "" {
		d.StorageDSN = v
	}
	if v := os.Getenv(envParallelism); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			d.Parallelism = n
		}
	}
	return d
}
