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

package cmd_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/thestormforge/optimize-engine/cmd/optimize-bench/cmd"
)

func TestBenchOptionsRunCompletesAStudy(t *testing.T) {
	o := &cmd.BenchOptions{Dims: 2, NTrials: 5, Parallelism: 1, Sampler: "random"}
	require.NoError(t, o.Run(context.Background()))
}
