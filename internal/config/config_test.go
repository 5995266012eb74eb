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

package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/thestormforge/optimize-engine/internal/config"
)

func TestDefaultIsConservative(t *testing.T) {
	d := config.Default()
	assert.Equal(t, "random", d.SamplerName)
	assert.Equal(t, "none", d.PrunerName)
	assert.Equal(t, 1, d.Parallelism)
	assert.Empty(t, d.StorageDSN)
}

func TestLoadAppliesEnvironmentOverrides(t *testing.T) {
	t.Setenv("OPTIMIZE_DEFAULT_SAMPLER", "tpe")
	t.Setenv("OPTIMIZE_DEFAULT_PRUNER", "median")
	t.Setenv("OPTIMIZE_STORAGE_DSN", "postgres://localhost/optimize")
	t.Setenv("OPTIMIZE_DEFAULT_PARALLELISM", "4")

	d := config.Load()
	assert.Equal(t, "tpe", d.SamplerName)
	assert.Equal(t, "median", d.PrunerName)
	assert.Equal(t, "postgres://localhost/optimize", d.StorageDSN)
	assert.Equal(t, 4, d.Parallelism)
}

func TestLoadIgnoresInvalidParallelism(t *testing.T) {
	t.Setenv("OPTIMIZE_DEFAULT_PARALLELISM", "not-a-number")
	d := config.Load()
	assert.Equal(t, 1, d.Parallelism)
}
