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

package store

import "context"

// Store is the single persistence contract implemented by every backend
// (in-memory, PostgreSQL). A successful write return means the record is
// durable (SQL backend) or atomically visible to subsequent reads
// (in-memory backend) -- spec.md §3's "acknowledged writes" invariant.
type Store interface {
	PutStudy(ctx context.Context, study *Study) error
	GetStudy(ctx context.Context, id string) (*Study, bool, error)
	SetStudyStatus(ctx context.Context, id string, status StudyStatus) error
	ListStudies(ctx context.Context) ([]*Study, error)
	DeleteStudy(ctx context.Context, id string) error

	AddTrial(ctx context.Context, studyID string, trial *Trial) (string, error)
	FetchTrial(ctx context.Context, studyID, trialID string) (*Trial, bool, error)
	ListTrials(ctx context.Context, studyID string, filter TrialFilter) ([]*Trial, error)
	UpdateTrial(ctx context.Context, studyID, trialID string, patch TrialPatch) error
	FinishTrial(ctx context.Context, studyID, trialID string, score float64, metrics map[string]float64) error
	FailTrial(ctx context.Context, studyID, trialID string, message string) error
	PruneTrial(ctx context.Context, studyID, trialID string, score *float64) error

	RecordObservation(ctx context.Context, studyID, trialID string, bracket, rung int, score float64) error
	ObservationsAtRung(ctx context.Context, studyID string, bracket, rung int) ([]Observation, error)

	HealthCheck(ctx context.Context) error
}

// CheckImplements performs a trivial runtime capability check -- calling
// HealthCheck -- so callers that assemble a backend via a plugin/module
// name (rather than a compile-time type) can fail fast with a clear error
// instead of a nil-pointer panic deep in the executor, per spec.md §9's
// "runtime validation that a configured backend implements every required
// operation" requirement. The Go interface itself is the compile-time half
// of that requirement.
func CheckImplements(ctx context.Context, s Store) error {
	if s == nil {
		return ErrNilStore
	}
	return s.HealthCheck(ctx)
}
