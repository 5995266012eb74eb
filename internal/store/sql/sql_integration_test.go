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

package sql_test

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/thestormforge/optimize-engine/internal/store"
	sqlstore "github.com/thestormforge/optimize-engine/internal/store/sql"
	"github.com/thestormforge/optimize-engine/internal/store/storetest"
)

// TestSQLConformance runs the shared conformance suite against a real
// PostgreSQL instance. It is skipped unless OPTIMIZE_ENGINE_TEST_DSN is
// set, matching the teacher pack's pattern of gating database-backed
// integration tests behind an environment variable (see
// correlator-io/correlator's migrations/integration_test.go).
func TestSQLConformance(t *testing.T) {
	dsn := os.Getenv("OPTIMIZE_ENGINE_TEST_DSN")
	if dsn == "" {
		t.Skip("OPTIMIZE_ENGINE_TEST_DSN not set; skipping PostgreSQL-backed conformance suite")
	}

	storetest.RunConformance(t, func(t *testing.T) store.Store {
		s, err := sqlstore.Open(dsn)
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}
