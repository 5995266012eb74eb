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

package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/thestormforge/optimize-engine/internal/executor"
	"github.com/thestormforge/optimize-engine/internal/space"
	"github.com/thestormforge/optimize-engine/internal/store"
	"github.com/thestormforge/optimize-engine/pkg/optimize"
)

// BenchOptions holds the flag values for the sphere-function smoke test.
type BenchOptions struct {
	Dims        int
	NTrials     int
	Parallelism int
	Sampler     string
	Pruner      string
	Seed        int64
	Maximize    bool
}

// NewBenchCommand builds the optimize-bench root command: a single run
// of a sphere-function study against pkg/optimize.Optimize, printed as
// JSON to stdout.
func NewBenchCommand() *cobra.Command {
	o := &BenchOptions{Dims: 2, NTrials: 30, Parallelism: 1, Sampler: "tpe"}

	cmd := &cobra.Command{
		Use:   "optimize-bench",
		Short: "Run a sphere-function study against the optimize-engine facade",
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.Run(cmd.Context())
		},
	}

	cmd.Flags().IntVar(&o.Dims, "dims", o.Dims, "Number of continuous dimensions in the sphere function.")
	cmd.Flags().IntVar(&o.NTrials, "trials", o.NTrials, "Number of trials to run.")
	cmd.Flags().IntVar(&o.Parallelism, "parallelism", o.Parallelism, "Number of trials evaluated concurrently.")
	cmd.Flags().StringVar(&o.Sampler, "sampler", o.Sampler, "Sampler name (random, grid, tpe, tpe_multivariate, gp, nsga2, qmc, bandit).")
	cmd.Flags().StringVar(&o.Pruner, "pruner", o.Pruner, "Pruner name (none, median, percentile, successive_halving, hyperband).")
	cmd.Flags().Int64Var(&o.Seed, "seed", o.Seed, "Master RNG seed; 0 draws one from the OS entropy source.")
	cmd.Flags().BoolVar(&o.Maximize, "maximize", o.Maximize, "Maximize instead of minimize (negated sphere function).")

	return cmd
}

// sphere is the canonical smoke-test objective: sum(x_i^2), minimized at
// the origin. Its negation is used when Maximize is set.
func (o *BenchOptions) sphere(_ context.Context, params space.Values, _ executor.ReportFunc) (float64, map[string]float64, error) {
	sum := 0.0
	for _, v := range params {
		sum += v * v
	}
	if o.Maximize {
		return -sum, nil, nil
	}
	return sum, nil, nil
}

func (o *BenchOptions) searchSpace(int) space.Space {
	sp := make(space.Space, o.Dims)
	for i := 0; i < o.Dims; i++ {
		name := fmt.Sprintf("x%d", i)
		sp[name] = space.Spec{Name: name, Kind: space.Uniform, Low: -10, High: 10}
	}
	return sp
}

// Run executes the study and writes the result to stdout as JSON.
func (o *BenchOptions) Run(ctx context.Context) error {
	direction := store.Minimize
	if o.Maximize {
		direction = store.Maximize
	}

	opts := optimize.Options{
		StudyName:   "optimize-bench",
		Direction:   direction,
		NTrials:     o.NTrials,
		Sampler:     o.Sampler,
		Pruner:      o.Pruner,
		Parallelism: o.Parallelism,
	}
	if o.Seed != 0 {
		opts.Seed = &o.Seed
	}

	result, err := optimize.Optimize(ctx, o.sphere, o.searchSpace, opts)
	if err != nil {
		return err
	}

	b, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}
