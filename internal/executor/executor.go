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

// Package executor implements the study runner: the sequential and
// parallel trial loops that drive a sampler and an optional pruner
// against an objective function, writing every state transition through
// the store interface and emitting telemetry at each step.
package executor

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/thestormforge/optimize-engine/internal/apperror"
	"github.com/thestormforge/optimize-engine/internal/pruner"
	"github.com/thestormforge/optimize-engine/internal/sampler"
	"github.com/thestormforge/optimize-engine/internal/seed"
	"github.com/thestormforge/optimize-engine/internal/space"
	"github.com/thestormforge/optimize-engine/internal/store"
	"github.com/thestormforge/optimize-engine/internal/telemetry"
)

// ReportFunc is passed to the objective so it can report intermediate
// (value, step) pairs. It returns true to continue and false when the
// pruner has decided to prune -- the objective should return promptly.
type ReportFunc func(value float64, step int) bool

// Objective evaluates one trial's parameters, optionally reporting
// intermediate values through report, and returns the final score plus
// any secondary metrics.
type Objective func(ctx context.Context, params space.Values, report ReportFunc) (score float64, metrics map[string]float64, err error)

// Options configures one study run.
type Options struct {
	StudyID     string
	Goal        store.Goal
	NTrials     int
	Parallelism int
	TimeoutMS   int
	MasterSeed  *int64

	SamplerName sampler.Name
	SamplerOpts map[string]interface{}
	PrunerName  pruner.Name
	PrunerOpts  map[string]interface{}

	// ConstantLiar selects whether the parallel loop imputes pending
	// (in-flight) trials into the history seen by the coordinator's
	// sampler. Nil takes the default: true whenever Parallelism > 1,
	// false for the sequential loop where there is never a pending
	// trial to lie about. See DESIGN.md for the resolved open question.
	ConstantLiar *bool
}

func (o Options) validate() error {
	if o.NTrials < 0 {
		return apperror.New(apperror.InvalidConfig, "n_trials must be >= 0").WithField("n_trials")
	}
	if o.Parallelism < 1 {
		return apperror.New(apperror.InvalidConfig, "parallelism must be >= 1").WithField("parallelism")
	}
	return nil
}

func (o Options) constantLiar() bool {
	if o.ConstantLiar != nil {
		return *o.ConstantLiar
	}
	return o.Parallelism > 1
}

// withGoal copies opts and sets "goal" from the study's direction, so the
// sampler and pruner -- which each read their own "goal" key rather than
// consulting the study -- agree with store.Study.Goal and with bestTrial.
// The caller's map is never mutated.
func withGoal(opts map[string]interface{}, goal store.Goal) map[string]interface{} {
	out := make(map[string]interface{}, len(opts)+1)
	for k, v := range opts {
		out[k] = v
	}
	if goal == store.Maximize {
		out["goal"] = "maximize"
	} else {
		out["goal"] = "minimize"
	}
	return out
}

// Result is the outcome of one study run.
type Result struct {
	Best   *store.Trial
	Trials []*store.Trial
}

// Executor drives studies to completion against a store backend,
// emitting telemetry at every transition.
type Executor struct {
	store store.Store
	rec   *telemetry.Recorder
}

// New constructs an Executor. A nil recorder discards all telemetry.
func New(st store.Store, rec *telemetry.Recorder) *Executor {
	if rec == nil {
		rec = telemetry.New(nil, nil)
	}
	return &Executor{store: st, rec: rec}
}

// Run executes a study: configures sampler/pruner state, then chooses
// the sequential or parallel loop based on opts.Parallelism.
func (e *Executor) Run(ctx context.Context, spaceFn space.SpaceFunc, objective Objective, opts Options) (*Result, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}

	samp, err := sampler.New(opts.SamplerName, withGoal(opts.SamplerOpts, opts.Goal))
	if err != nil {
		return nil, err
	}
	prn, err := pruner.New(opts.PrunerName, withGoal(opts.PrunerOpts, opts.Goal))
	if err != nil {
		return nil, err
	}

	masterSeed := int64(0)
	if opts.MasterSeed != nil {
		masterSeed = *opts.MasterSeed
	} else {
		masterSeed = seed.Bootstrap()
	}

	now := time.Now()
	study := &store.Study{
		ID:            opts.StudyID,
		Goal:          opts.Goal,
		MaxTrials:     opts.NTrials,
		Parallelism:   opts.Parallelism,
		Seed:          &masterSeed,
		SamplerModule: string(opts.SamplerName),
		SamplerOpts:   opts.SamplerOpts,
		PrunerModule:  string(opts.PrunerName),
		PrunerOpts:    opts.PrunerOpts,
		Status:        store.StudyPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := e.store.PutStudy(ctx, study); err != nil {
		return nil, err
	}
	if err := e.store.SetStudyStatus(ctx, study.ID, store.StudyRunning); err != nil {
		return nil, err
	}
	e.rec.Emit(telemetry.EventStudyStart, telemetry.Fields{StudyID: study.ID})

	runCtx := ctx
	var cancel context.CancelFunc
	if opts.TimeoutMS > 0 {
		runCtx, cancel = context.WithTimeout(ctx, time.Duration(opts.TimeoutMS)*time.Millisecond)
		defer cancel()
	}

	maximize := opts.Goal == store.Maximize
	run := &run{
		exec:       e,
		samp:       samp,
		prn:        prn,
		spaceFn:    spaceFn,
		objective:  objective,
		opts:       opts,
		masterSeed: masterSeed,
	}

	var runErr error
	if opts.Parallelism <= 1 {
		runErr = run.sequential(runCtx)
	} else {
		runErr = run.parallel(runCtx)
	}

	finalStatus := store.StudyCompleted
	if runErr != nil {
		finalStatus = store.StudyFailed
	} else if ctx.Err() != nil {
		finalStatus = store.StudyCancelled
	}
	_ = e.store.SetStudyStatus(ctx, study.ID, finalStatus)
	e.rec.Emit(telemetry.EventStudyStop, telemetry.Fields{StudyID: study.ID, Message: string(finalStatus)})

	trials, listErr := e.store.ListTrials(ctx, study.ID, store.TrialFilter{})
	if listErr != nil {
		if runErr != nil {
			return nil, runErr
		}
		return nil, listErr
	}
	result := &Result{Trials: trials, Best: bestTrial(trials, maximize)}
	return result, runErr
}

func bestTrial(trials []*store.Trial, maximize bool) *store.Trial {
	var best *store.Trial
	for _, t := range trials {
		if t.Status != store.TrialCompleted || t.Score == nil {
			continue
		}
		if best == nil || best.Score == nil {
			best = t
			continue
		}
		if maximize && *t.Score > *best.Score {
			best = t
		} else if !maximize && *t.Score < *best.Score {
			best = t
		}
	}
	return best
}

// run holds everything a single study execution needs threaded through
// the sequential or parallel loop.
type run struct {
	exec       *Executor
	samp       sampler.Sampler
	prn        pruner.Pruner
	spaceFn    space.SpaceFunc
	objective  Objective
	opts       Options
	masterSeed int64

	// mu guards everything below: the coordinator's view of history and
	// pending (in-flight) liar entries. The sampler itself is only ever
	// called while mu is held, so its own mutable bookkeeping (e.g.
	// Grid's fixed permutation) needs no separate lock.
	mu      sync.Mutex
	history []sampler.HistoryItem
	pending map[int]float64 // trialIndex -> imputed liar score
}

// nextParams is the single coordinator: it holds mu for the sampler call
// and the history snapshot, so concurrent workers never race on sampler
// state or see a torn history.
func (r *run) nextParams(trialIndex int) (space.Values, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	history := r.history
	if r.opts.constantLiar() && len(r.pending) > 0 {
		liarValue := r.liarValue()
		history = append(append([]sampler.HistoryItem(nil), r.history...), pendingAsHistory(r.pending, liarValue)...)
	}

	rng := seed.Derive(r.masterSeed, trialIndex)
	values, _, err := r.samp.Next(rng, r.spaceFn, trialIndex, history)
	if err != nil {
		return nil, err
	}
	if r.pending == nil {
		r.pending = make(map[int]float64)
	}
	r.pending[trialIndex] = 0 // placeholder; liarValue recomputed lazily from r.history
	return values, nil
}

// liarValue imputes the mean of currently-completed scores as the
// constant-liar value for pending proposals, so the coordinator doesn't
// repeatedly propose near trials whose outcome isn't known yet. Falling
// back to 0 with no history is harmless: the very first batch of
// concurrent proposals has no history to diversify against anyway.
func (r *run) liarValue() float64 {
	if len(r.history) == 0 {
		return 0
	}
	sum := 0.0
	for _, h := range r.history {
		sum += h.Score
	}
	return sum / float64(len(r.history))
}

func pendingAsHistory(pending map[int]float64, liarValue float64) []sampler.HistoryItem {
	out := make([]sampler.HistoryItem, 0, len(pending))
	for range pending {
		out = append(out, sampler.HistoryItem{Score: liarValue})
	}
	return out
}

func (r *run) recordCompletion(trialIndex int, item sampler.HistoryItem) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.history = append(r.history, item)
	delete(r.pending, trialIndex)
}

func (r *run) dropPending(trialIndex int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pending, trialIndex)
}

// bracketForIndex resolves the trial's Hyperband bracket deterministically
// from its index when the configured pruner is one, else 0.
func (r *run) bracketForIndex(trialIndex int) int {
	if hb, ok := r.prn.(*pruner.Hyperband); ok {
		return hb.BracketForIndex(trialIndex)
	}
	return 0
}

// registerBracket records the (trialID, bracket) pairing so later
// ShouldPrune calls -- which only see the trial id -- can recover it.
func (r *run) registerBracket(trialID string, bracket int) {
	if hb, ok := r.prn.(*pruner.Hyperband); ok {
		hb.RegisterTrial(trialID, bracket)
	}
}

// buildReporter wraps the pruner consultation for one trial: it records
// the observation, gathers peer reports at that (bracket, step), and
// returns the pruner's decision.
func (r *run) buildReporter(ctx context.Context, studyID, trialID string, bracket int) ReportFunc {
	return func(value float64, step int) bool {
		if err := retryOnce(func() error {
			return r.exec.store.RecordObservation(ctx, studyID, trialID, bracket, step, value)
		}); err != nil {
			r.exec.rec.Emit(telemetry.EventStoreError, telemetry.Fields{StudyID: studyID, TrialID: trialID, Message: err.Error()})
			return true
		}

		peers, err := r.exec.store.ObservationsAtRung(ctx, studyID, bracket, step)
		if err != nil {
			r.exec.rec.Emit(telemetry.EventStoreError, telemetry.Fields{StudyID: studyID, TrialID: trialID, Message: err.Error()})
			return true
		}
		reports := make([]pruner.Report, 0, len(peers))
		for _, p := range peers {
			if p.TrialID == trialID {
				continue
			}
			reports = append(reports, pruner.Report{TrialID: p.TrialID, Bracket: p.Bracket, Step: p.Rung, Value: p.Score})
		}

		prune := r.prn.ShouldPrune(trialID, step, value, reports)
		r.exec.rec.Emit(telemetry.EventPrunerDecision, telemetry.Fields{
			StudyID: studyID, TrialID: trialID, Bracket: &bracket,
			Message: decisionLabel(prune),
		})
		return !prune
	}
}

func decisionLabel(pruned bool) string {
	if pruned {
		return "prune"
	}
	return "continue"
}

// retryOnce applies the shared "retry a store write once, then propagate
// the failure" policy of spec.md §4.7.
func retryOnce(fn func() error) error {
	if err := fn(); err != nil {
		return fn()
	}
	return nil
}

func (r *run) runOneTrial(ctx context.Context, trialIndex int) (*store.Trial, bool) {
	params, err := r.nextParams(trialIndex)
	if err != nil {
		// Sampler exceptions are fatal to the study.
		return nil, true
	}

	rng := seed.Derive(r.masterSeed, trialIndex)
	trialSeed := int64(rng.Raw())
	bracket := r.bracketForIndex(trialIndex)

	trial := &store.Trial{
		StudyID:   r.opts.StudyID,
		Params:    params,
		Status:    store.TrialRunning,
		Bracket:   bracket,
		Seed:      trialSeed,
		StartedAt: time.Now(),
	}
	trialID, err := r.exec.store.AddTrial(ctx, r.opts.StudyID, trial)
	if err != nil {
		r.dropPending(trialIndex)
		return nil, false
	}
	trial.ID = trialID
	r.registerBracket(trialID, bracket)

	r.exec.rec.Emit(telemetry.EventTrialStart, telemetry.Fields{StudyID: r.opts.StudyID, TrialID: trialID})
	r.exec.rec.Emit(telemetry.EventSamplerSuggest, telemetry.Fields{StudyID: r.opts.StudyID, TrialID: trialID})

	start := time.Now()
	reporter := r.buildReporter(ctx, r.opts.StudyID, trialID, bracket)
	pruned := false
	wrappedReporter := func(value float64, step int) bool {
		ok := reporter(value, step)
		if !ok {
			pruned = true
		}
		return ok
	}

	score, metrics, objErr := r.objective(ctx, params, wrappedReporter)
	duration := time.Since(start)

	switch {
	case ctx.Err() != nil:
		_ = retryOnce(func() error {
			return r.exec.store.FailTrial(ctx, r.opts.StudyID, trialID, "cancelled")
		})
		r.dropPending(trialIndex)
		r.exec.rec.Emit(telemetry.EventTrialFail, telemetry.Fields{StudyID: r.opts.StudyID, TrialID: trialID, Duration: duration, Message: "cancelled"})
	case pruned:
		var scorePtr *float64
		if objErr == nil {
			scorePtr = &score
		}
		_ = retryOnce(func() error {
			return r.exec.store.PruneTrial(ctx, r.opts.StudyID, trialID, scorePtr)
		})
		r.dropPending(trialIndex)
		r.exec.rec.Emit(telemetry.EventTrialPrune, telemetry.Fields{StudyID: r.opts.StudyID, TrialID: trialID, Duration: duration})
	case objErr != nil:
		_ = retryOnce(func() error {
			return r.exec.store.FailTrial(ctx, r.opts.StudyID, trialID, objErr.Error())
		})
		r.dropPending(trialIndex)
		r.exec.rec.Emit(telemetry.EventTrialFail, telemetry.Fields{StudyID: r.opts.StudyID, TrialID: trialID, Duration: duration, Message: objErr.Error()})
	default:
		if math.IsNaN(score) || math.IsInf(score, 0) {
			_ = retryOnce(func() error {
				return r.exec.store.FailTrial(ctx, r.opts.StudyID, trialID, "objective returned a non-finite score")
			})
			r.dropPending(trialIndex)
			r.exec.rec.Emit(telemetry.EventTrialFail, telemetry.Fields{StudyID: r.opts.StudyID, TrialID: trialID, Duration: duration, Message: "non-finite score"})
			break
		}
		if err := retryOnce(func() error {
			return r.exec.store.FinishTrial(ctx, r.opts.StudyID, trialID, score, metrics)
		}); err != nil {
			r.dropPending(trialIndex)
			r.exec.rec.Emit(telemetry.EventStoreError, telemetry.Fields{StudyID: r.opts.StudyID, TrialID: trialID, Message: err.Error()})
			return trial, false
		}
		r.recordCompletion(trialIndex, sampler.HistoryItem{Params: params, Score: score, Metrics: metrics})
		r.exec.rec.Emit(telemetry.EventTrialComplete, telemetry.Fields{StudyID: r.opts.StudyID, TrialID: trialID, Duration: duration, Score: &score})
	}

	final, _, _ := r.exec.store.FetchTrial(ctx, r.opts.StudyID, trialID)
	if final == nil {
		final = trial
	}
	return final, false
}

func (r *run) sequential(ctx context.Context) error {
	for i := 0; i < r.opts.NTrials; i++ {
		if ctx.Err() != nil {
			return nil
		}
		_, fatal := r.runOneTrial(ctx, i)
		if fatal {
			return apperror.New(apperror.ObjectiveFailed, "sampler failed to propose a trial")
		}
	}
	return nil
}

func (r *run) parallel(ctx context.Context) error {
	var wg sync.WaitGroup
	sem := make(chan struct{}, r.opts.Parallelism)
	var fatalOnce sync.Once
	var fatalErr error

loop:
	for i := 0; i < r.opts.NTrials; i++ {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			break loop
		}
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			defer func() { <-sem }()
			_, fatal := r.runOneTrial(ctx, idx)
			if fatal {
				fatalOnce.Do(func() {
					fatalErr = apperror.New(apperror.ObjectiveFailed, "sampler failed to propose a trial")
				})
			}
		}(i)
	}
	wg.Wait()
	return fatalErr
}
