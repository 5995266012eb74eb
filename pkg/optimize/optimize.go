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

// Package optimize is the engine's library facade: one function,
// Optimize, that wires a search space and objective function through a
// sampler, an optional pruner, a store backend, and telemetry, and runs
// the study to completion. It deliberately stays this thin -- a richer
// "easy wrapper" API (experiment templates, a hosted dashboard, CLI
// scaffolding) is out of scope; see cmd/optimize-bench for a development
// smoke-test harness built directly on this facade.
package optimize

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/thestormforge/optimize-engine/internal/config"
	"github.com/thestormforge/optimize-engine/internal/executor"
	"github.com/thestormforge/optimize-engine/internal/pruner"
	"github.com/thestormforge/optimize-engine/internal/sampler"
	"github.com/thestormforge/optimize-engine/internal/space"
	"github.com/thestormforge/optimize-engine/internal/store"
	"github.com/thestormforge/optimize-engine/internal/store/memory"
	storesql "github.com/thestormforge/optimize-engine/internal/store/sql"
	"github.com/thestormforge/optimize-engine/internal/telemetry"
)

// Options configures one call to Optimize. Sampler, SamplerOpts, Pruner,
// PrunerOpts, Parallelism and Storage left at their zero value are filled
// in from config.Load()'s engine-wide defaults; the other fields use the
// defaults documented on each of them.
type Options struct {
	// StudyName identifies the study in the store; a random one is
	// generated when empty.
	StudyName string
	// Direction is "minimize" or "maximize"; defaults to "minimize".
	Direction store.Goal
	// NTrials is the number of trials to run.
	NTrials int
	// Sampler names the sampling strategy (see internal/sampler.Name);
	// defaults to config.Load().SamplerName.
	Sampler     string
	SamplerOpts map[string]interface{}
	// Pruner names the pruning strategy (see internal/pruner.Name);
	// defaults to config.Load().PrunerName.
	Pruner     string
	PrunerOpts map[string]interface{}
	// Parallelism is the number of trials evaluated concurrently;
	// defaults to config.Load().Parallelism.
	Parallelism int
	// TimeoutMS bounds the whole study's wall-clock budget; zero means
	// no timeout.
	TimeoutMS int
	// Seed fixes the master RNG seed for reproducibility; nil draws a
	// fresh one from the OS entropy source.
	Seed *int64
	// Storage is a PostgreSQL DSN; empty selects the in-memory store
	// (or config.Load().StorageDSN if that is set).
	Storage string
	// Logger receives structured telemetry events; nil discards them.
	Logger *zap.Logger
	// Metrics mirrors telemetry events as Prometheus collectors; nil
	// disables metrics.
	Metrics *telemetry.Metrics
}

// Result is the outcome of a study: the best trial found (by Direction)
// and every trial run.
type Result struct {
	Best   *store.Trial
	Trials []*store.Trial
}

func (o Options) resolve() (Options, error) {
	d := config.Load()
	if o.Direction == "" {
		o.Direction = store.Minimize
	}
	if o.Sampler == "" {
		o.Sampler = d.SamplerName
	}
	if o.SamplerOpts == nil {
		o.SamplerOpts = d.SamplerOpts
	}
	if o.Pruner == "" {
		o.Pruner = d.PrunerName
	}
	if o.PrunerOpts == nil {
		o.PrunerOpts = d.PrunerOpts
	}
	if o.Parallelism == 0 {
		o.Parallelism = d.Parallelism
	}
	if o.Storage == "" {
		o.Storage = d.StorageDSN
	}
	if o.StudyName == "" {
		o.StudyName = uuid.NewString()
	}
	return o, nil
}

func (o Options) openStore() (store.Store, func() error, error) {
	if o.Storage == "" {
		return memory.New(), func() error { return nil }, nil
	}
	s, err := storesql.Open(o.Storage)
	if err != nil {
		return nil, nil, err
	}
	return s, s.Close, nil
}

// Optimize runs a study of up to options.NTrials trials, proposing
// parameters from searchSpace and evaluating them with objective, and
// returns the best trial found together with the full trial history.
//
// objective and searchSpace have the same shapes as
// internal/executor.Objective and internal/space.SpaceFunc -- Optimize is
// a thin assembly of internal/executor, internal/sampler,
// internal/pruner, internal/store, and internal/telemetry, not a
// reimplementation of any of them.
func Optimize(ctx context.Context, objective executor.Objective, searchSpace space.SpaceFunc, options Options) (Result, error) {
	opts, err := options.resolve()
	if err != nil {
		return Result{}, err
	}

	st, closeStore, err := opts.openStore()
	if err != nil {
		return Result{}, err
	}
	defer closeStore()

	if err := store.CheckImplements(ctx, st); err != nil {
		return Result{}, err
	}

	rec := telemetry.New(opts.Logger, opts.Metrics)
	exec := executor.New(st, rec)

	res, err := exec.Run(ctx, searchSpace, objective, executor.Options{
		StudyID:     opts.StudyName,
		Goal:        opts.Direction,
		NTrials:     opts.NTrials,
		Parallelism: opts.Parallelism,
		TimeoutMS:   opts.TimeoutMS,
		MasterSeed:  opts.Seed,
		SamplerName: sampler.Name(opts.Sampler),
		SamplerOpts: opts.SamplerOpts,
		PrunerName:  pruner.Name(opts.Pruner),
		PrunerOpts:  opts.PrunerOpts,
	})
	if err != nil {
		return Result{}, err
	}
	return Result{Best: res.Best, Trials: res.Trials}, nil
}
