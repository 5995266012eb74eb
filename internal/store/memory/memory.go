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

// Package memory implements the in-memory store backend. All mutations
// are serialized through a single owner (the Store's sync.RWMutex); read
// paths may run concurrently with each other but never with a writer.
// This mirrors the "protected table, one owner" requirement of spec.md §5
// and specifically closes the regression the source had where deleting one
// study's trials leaked into other studies' tables.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/thestormforge/optimize-engine/internal/apperror"
	"github.com/thestormforge/optimize-engine/internal/store"
)

// Store is the in-memory backend. The zero value is not usable; use New.
type Store struct {
	mu sync.RWMutex

	studies map[string]*store.Study
	// trials is keyed by studyID, then trialID -- studyID is always the
	// outer key so a delete can drop exactly one inner map and never
	// touch any other study's trials (the defect called out in spec.md
	// §4.3/§9 that this implementation must not reproduce).
	trials       map[string]map[string]*store.Trial
	trialCounter map[string]int
	observations map[string]map[observationKey]store.Observation
}

type observationKey struct {
	trialID string
	bracket int
	rung    int
}

// New constructs an empty in-memory store.
func New() *Store {
	return &Store{
		studies:      make(map[string]*store.Study),
		trials:       make(map[string]map[string]*store.Trial),
		trialCounter: make(map[string]int),
		observations: make(map[string]map[observationKey]store.Observation),
	}
}

var _ store.Store = (*Store)(nil)

func cloneStudy(s *store.Study) *store.Study {
	if s == nil {
		return nil
	}
	cp := *s
	cp.Metadata = cloneStrMap(s.Metadata)
	return &cp
}

func cloneStrMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneFloatMap(m map[string]float64) map[string]float64 {
	if m == nil {
		return nil
	}
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneTrial(t *store.Trial) *store.Trial {
	if t == nil {
		return nil
	}
	cp := *t
	cp.Params = cloneFloatMap(t.Params)
	cp.Metrics = cloneFloatMap(t.Metrics)
	cp.Metadata = cloneStrMap(t.Metadata)
	if t.Score != nil {
		v := *t.Score
		cp.Score = &v
	}
	if t.CompletedAt != nil {
		v := *t.CompletedAt
		cp.CompletedAt = &v
	}
	return &cp
}

// PutStudy idempotently upserts by study id, preserving CreatedAt on
// re-put and bumping UpdatedAt.
func (s *Store) PutStudy(_ context.Context, study *store.Study) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	existing, ok := s.studies[study.ID]
	cp := cloneStudy(study)
	if ok {
		cp.CreatedAt = existing.CreatedAt
	} else if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	s.studies[study.ID] = cp

	if _, ok := s.trials[study.ID]; !ok {
		s.trials[study.ID] = make(map[string]*store.Trial)
	}
	return nil
}

func (s *Store) GetStudy(_ context.Context, id string) (*store.Study, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.studies[id]
	return cloneStudy(st), ok, nil
}

func (s *Store) SetStudyStatus(_ context.Context, id string, status store.StudyStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.studies[id]
	if !ok {
		return store.NotFoundf("study %q not found", id)
	}
	if !store.ValidStudyTransition(st.Status, status) {
		return store.InvalidTransitionf("study %q cannot transition from %s to %s", id, st.Status, status)
	}
	st.Status = status
	st.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) ListStudies(_ context.Context) ([]*store.Study, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*store.Study, 0, len(s.studies))
	for _, st := range s.studies {
		out = append(out, cloneStudy(st))
	}
	return out, nil
}

// DeleteStudy cascades to exactly this study's trials and observations; it
// is idempotent and must never touch any other study.
func (s *Store) DeleteStudy(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.studies, id)
	delete(s.trials, id)
	delete(s.trialCounter, id)
	delete(s.observations, id)
	return nil
}

func (s *Store) AddTrial(_ context.Context, studyID string, trial *store.Trial) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.studies[studyID]; !ok {
		return "", apperror.Newf(apperror.NotFound, "study %q not found", studyID)
	}

	cp := cloneTrial(trial)
	cp.StudyID = studyID
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	if cp.Status == "" {
		cp.Status = store.TrialRunning
	}
	if cp.StartedAt.IsZero() {
		cp.StartedAt = time.Now().UTC()
	}

	s.trialCounter[studyID]++
	cp.Number = s.trialCounter[studyID]

	if _, ok := s.trials[studyID]; !ok {
		s.trials[studyID] = make(map[string]*store.Trial)
	}
	s.trials[studyID][cp.ID] = cp
	return cp.ID, nil
}

func (s *Store) FetchTrial(_ context.Context, studyID, trialID string) (*store.Trial, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byID, ok := s.trials[studyID]
	if !ok {
		return nil, false, nil
	}
	t, ok := byID[trialID]
	return cloneTrial(t), ok, nil
}

func (s *Store) ListTrials(_ context.Context, studyID string, filter store.TrialFilter) ([]*store.Trial, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byID := s.trials[studyID]
	out := make([]*store.Trial, 0, len(byID))
	for _, t := range byID {
		if filter.Match(t) {
			out = append(out, cloneTrial(t))
		}
	}
	sortByStartedAt(out)
	return out, nil
}

func sortByStartedAt(ts []*store.Trial) {
	for i := 1; i < len(ts); i++ {
		j := i
		for j > 0 && ts[j-1].StartedAt.After(ts[j].StartedAt) {
			ts[j-1], ts[j] = ts[j], ts[j-1]
			j--
		}
	}
}

func (s *Store) mutateTrial(studyID, trialID string, mutate func(*store.Trial) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byID, ok := s.trials[studyID]
	if !ok {
		return store.NotFoundf("study %q not found", studyID)
	}
	t, ok := byID[trialID]
	if !ok {
		return store.NotFoundf("trial %q not found in study %q", trialID, studyID)
	}
	if err := mutate(t); err != nil {
		return err
	}
	return nil
}

func (s *Store) UpdateTrial(_ context.Context, studyID, trialID string, patch store.TrialPatch) error {
	return s.mutateTrial(studyID, trialID, func(t *store.Trial) error {
		if patch.Status != nil {
			if !store.ValidTrialTransition(t.Status, *patch.Status) {
				return store.InvalidTransitionf("trial %q cannot transition from %s to %s", trialID, t.Status, *patch.Status)
			}
			t.Status = *patch.Status
		}
		if patch.Score != nil {
			v := *patch.Score
			t.Score = &v
		}
		if patch.ErrorMessage != nil {
			t.ErrorMessage = *patch.ErrorMessage
		}
		if patch.Metrics != nil {
			t.Metrics = cloneFloatMap(patch.Metrics)
		}
		if patch.CompletedAt != nil {
			v := *patch.CompletedAt
			t.CompletedAt = &v
		}
		if patch.Metadata != nil {
			t.Metadata = cloneStrMap(patch.Metadata)
		}
		return nil
	})
}

func (s *Store) FinishTrial(_ context.Context, studyID, trialID string, score float64, metrics map[string]float64) error {
	return s.mutateTrial(studyID, trialID, func(t *store.Trial) error {
		if !store.ValidTrialTransition(t.Status, store.TrialCompleted) {
			return store.InvalidTransitionf("trial %q cannot transition from %s to completed", trialID, t.Status)
		}
		t.Status = store.TrialCompleted
		v := score
		t.Score = &v
		t.Metrics = cloneFloatMap(metrics)
		now := time.Now().UTC()
		t.CompletedAt = &now
		return nil
	})
}

func (s *Store) FailTrial(_ context.Context, studyID, trialID string, message string) error {
	return s.mutateTrial(studyID, trialID, func(t *store.Trial) error {
		if !store.ValidTrialTransition(t.Status, store.TrialFailed) {
			return store.InvalidTransitionf("trial %q cannot transition from %s to failed", trialID, t.Status)
		}
		t.Status = store.TrialFailed
		t.ErrorMessage = message
		now := time.Now().UTC()
		t.CompletedAt = &now
		return nil
	})
}

func (s *Store) PruneTrial(_ context.Context, studyID, trialID string, score *float64) error {
	return s.mutateTrial(studyID, trialID, func(t *store.Trial) error {
		if !store.ValidTrialTransition(t.Status, store.TrialPruned) {
			return store.InvalidTransitionf("trial %q cannot transition from %s to pruned", trialID, t.Status)
		}
		t.Status = store.TrialPruned
		if score != nil {
			v := *score
			t.Score = &v
		}
		now := time.Now().UTC()
		t.CompletedAt = &now
		return nil
	})
}

// RecordObservation is an acknowledged write: once it returns nil, the
// immediately following ObservationsAtRung call on the same key is
// guaranteed to see it, because both operations hold the same mutex.
func (s *Store) RecordObservation(_ context.Context, studyID, trialID string, bracket, rung int, score float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.studies[studyID]; !ok {
		return store.NotFoundf("study %q not found", studyID)
	}
	if byID, ok := s.trials[studyID]; !ok || byID[trialID] == nil {
		return store.NotFoundf("trial %q not found in study %q", trialID, studyID)
	}

	if _, ok := s.observations[studyID]; !ok {
		s.observations[studyID] = make(map[observationKey]store.Observation)
	}
	s.observations[studyID][observationKey{trialID: trialID, bracket: bracket, rung: rung}] = store.Observation{
		StudyID:   studyID,
		TrialID:   trialID,
		Bracket:   bracket,
		Rung:      rung,
		Score:     score,
		CreatedAt: time.Now().UTC(),
	}
	return nil
}

func (s *Store) ObservationsAtRung(_ context.Context, studyID string, bracket, rung int) ([]store.Observation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]store.Observation, 0)
	for k, obs := range s.observations[studyID] {
		if k.bracket == bracket && k.rung == rung {
			out = append(out, obs)
		}
	}
	return out, nil
}

func (s *Store) HealthCheck(_ context.Context) error {
	return nil
}

// String implements fmt.Stringer for debugging/telemetry.
func (s *Store) String() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fmt.Sprintf("memory.Store{studies=%d}", len(s.studies))
}
