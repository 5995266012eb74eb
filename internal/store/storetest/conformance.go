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

// Package storetest is a backend-agnostic conformance suite: every
// store.Store implementation (memory, sql) must pass RunConformance,
// which exercises the invariants enumerated in spec.md §8.
package storetest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thestormforge/optimize-engine/internal/apperror"
	"github.com/thestormforge/optimize-engine/internal/store"
)

// RunConformance exercises store.Store's documented contract against a
// freshly constructed backend. newStore is called once per subtest; callers
// that need per-test isolation should pass a constructor that returns a fresh
// instance (the in-memory backend) or a fresh schema (the SQL backend,
// against a throwaway test database).
func RunConformance(t *testing.T, newStore func(t *testing.T) store.Store) {
	t.Run("put and get study preserves created_at across re-put", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.PutStudy(ctx, &store.Study{ID: "s1", Goal: store.Minimize, Status: store.StudyPending}))
		first, ok, err := s.GetStudy(ctx, "s1")
		require.NoError(t, err)
		require.True(t, ok)

		require.NoError(t, s.PutStudy(ctx, &store.Study{ID: "s1", Goal: store.Minimize, Status: store.StudyPending, MaxTrials: 10}))
		second, ok, err := s.GetStudy(ctx, "s1")
		require.NoError(t, err)
		require.True(t, ok)

		assert.Equal(t, first.CreatedAt, second.CreatedAt)
		assert.Equal(t, 10, second.MaxTrials)
	})

	t.Run("study status transitions follow the state table", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.PutStudy(ctx, &store.Study{ID: "s2", Goal: store.Minimize, Status: store.StudyPending}))

		require.NoError(t, s.SetStudyStatus(ctx, "s2", store.StudyRunning))
		err := s.SetStudyStatus(ctx, "s2", store.StudyPending)
		assert.True(t, apperror.Is(err, apperror.InvalidTransition))

		require.NoError(t, s.SetStudyStatus(ctx, "s2", store.StudyCancelled))
	})

	t.Run("trial identity is scoped to its study", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.PutStudy(ctx, &store.Study{ID: "a", Goal: store.Minimize, Status: store.StudyPending}))
		require.NoError(t, s.PutStudy(ctx, &store.Study{ID: "b", Goal: store.Minimize, Status: store.StudyPending}))

		tid, err := s.AddTrial(ctx, "a", &store.Trial{Params: map[string]float64{"x": 1}})
		require.NoError(t, err)

		trials, err := s.ListTrials(ctx, "a", store.TrialFilter{})
		require.NoError(t, err)
		assert.Len(t, trials, 1)

		other, err := s.ListTrials(ctx, "b", store.TrialFilter{})
		require.NoError(t, err)
		assert.Empty(t, other)

		_, found, err := s.FetchTrial(ctx, "b", tid)
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("delete study leaves other studies untouched", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.PutStudy(ctx, &store.Study{ID: "del-a", Goal: store.Minimize, Status: store.StudyPending}))
		require.NoError(t, s.PutStudy(ctx, &store.Study{ID: "del-b", Goal: store.Minimize, Status: store.StudyPending}))

		tidA, err := s.AddTrial(ctx, "del-a", &store.Trial{})
		require.NoError(t, err)
		tidB, err := s.AddTrial(ctx, "del-b", &store.Trial{})
		require.NoError(t, err)
		require.NoError(t, s.RecordObservation(ctx, "del-b", tidB, 0, 0, 1.0))

		require.NoError(t, s.DeleteStudy(ctx, "del-a"))

		_, found, err := s.FetchTrial(ctx, "del-a", tidA)
		require.NoError(t, err)
		assert.False(t, found)

		bTrial, found, err := s.FetchTrial(ctx, "del-b", tidB)
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, tidB, bTrial.ID)

		obs, err := s.ObservationsAtRung(ctx, "del-b", 0, 0)
		require.NoError(t, err)
		assert.Len(t, obs, 1)

		// Idempotent: deleting an already-deleted (or never-existing) study
		// must not error.
		assert.NoError(t, s.DeleteStudy(ctx, "del-a"))
	})

	t.Run("trial status is monotone: running to exactly one terminal state", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.PutStudy(ctx, &store.Study{ID: "mono", Goal: store.Minimize, Status: store.StudyPending}))
		tid, err := s.AddTrial(ctx, "mono", &store.Trial{})
		require.NoError(t, err)

		require.NoError(t, s.FinishTrial(ctx, "mono", tid, 1.0, nil))

		err = s.FailTrial(ctx, "mono", tid, "too late")
		assert.True(t, apperror.Is(err, apperror.InvalidTransition))
	})

	t.Run("record observation is acknowledged before the next read", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.PutStudy(ctx, &store.Study{ID: "obs", Goal: store.Minimize, Status: store.StudyPending}))
		tid, err := s.AddTrial(ctx, "obs", &store.Trial{})
		require.NoError(t, err)

		require.NoError(t, s.RecordObservation(ctx, "obs", tid, 2, 5, 3.14))
		rows, err := s.ObservationsAtRung(ctx, "obs", 2, 5)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, tid, rows[0].TrialID)
		assert.InDelta(t, 3.14, rows[0].Score, 1e-9)
	})

	t.Run("list trials is ordered by started_at ascending", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.PutStudy(ctx, &store.Study{ID: "order", Goal: store.Minimize, Status: store.StudyPending}))
		var ids []string
		for i := 0; i < 3; i++ {
			tid, err := s.AddTrial(ctx, "order", &store.Trial{})
			require.NoError(t, err)
			ids = append(ids, tid)
		}
		trials, err := s.ListTrials(ctx, "order", store.TrialFilter{})
		require.NoError(t, err)
		require.Len(t, trials, 3)
		for i := 1; i < len(trials); i++ {
			assert.False(t, trials[i].StartedAt.Before(trials[i-1].StartedAt))
		}
	})

	t.Run("health check succeeds against a fresh backend", func(t *testing.T) {
		s := newStore(t)
		assert.NoError(t, s.HealthCheck(context.Background()))
	})
}
