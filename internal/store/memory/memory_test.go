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

package memory

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thestormforge/optimize-engine/internal/store"
	"github.com/thestormforge/optimize-engine/internal/store/storetest"
)

func TestConformance(t *testing.T) {
	storetest.RunConformance(t, func(t *testing.T) store.Store {
		return New()
	})
}

func TestConcurrentTrialAddsAreSerializedPerStudy(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.PutStudy(ctx, &store.Study{ID: "race", Goal: store.Minimize, Status: store.StudyPending}))

	const n = 200
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_, err := s.AddTrial(ctx, "race", &store.Trial{})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	trials, err := s.ListTrials(ctx, "race", store.TrialFilter{})
	require.NoError(t, err)
	assert.Len(t, trials, n)

	seen := make(map[int]bool, n)
	for _, tr := range trials {
		assert.False(t, seen[tr.Number], "duplicate trial number %d", tr.Number)
		seen[tr.Number] = true
	}
}
