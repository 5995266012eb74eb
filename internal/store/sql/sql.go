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

// Package sql implements the durable PostgreSQL store backend described in
// spec.md §6: studies/trials/observations tables with foreign-key
// cascades, enumerated-column upserts (never "replace all columns", which
// is the clobbering defect spec.md §9 calls out in the source), and a
// uniqueness constraint on (study_id, trial_id, bracket, rung).
package sql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/lib/pq"
	"golang.org/x/time/rate"

	"github.com/thestormforge/optimize-engine/internal/apperror"
	"github.com/thestormforge/optimize-engine/internal/store"
)

// Store is the PostgreSQL-backed implementation of store.Store.
type Store struct {
	db *sql.DB

	// retryLimiter paces reconnect/retry attempts after a StoreUnavailable
	// error, so a flaky database doesn't get hammered by every trial in a
	// parallel study at once.
	retryLimiter *rate.Limiter
}

var _ store.Store = (*Store)(nil)

// Open connects to dsn, verifies connectivity, and applies pending schema
// migrations from the embedded migrations directory.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, apperror.Wrap(apperror.StoreUnavailable, "opening database connection", err)
	}
	if err := db.Ping(); err != nil {
		return nil, apperror.Wrap(apperror.StoreUnavailable, "pinging database", err)
	}
	s := &Store{db: db, retryLimiter: rate.NewLimiter(rate.Every(100*time.Millisecond), 1)}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

// OpenDB wraps an already-open *sql.DB without running migrations; used by
// tests against a pre-migrated fixture database.
func OpenDB(db *sql.DB) *Store {
	return &Store{db: db, retryLimiter: rate.NewLimiter(rate.Every(100*time.Millisecond), 1)}
}

// withRetry runs fn once, and if it returns an error other than
// sql.ErrNoRows (a legitimate "no such row", never worth retrying), waits
// on retryLimiter -- bounding how often this store retries against a
// struggling backend, rather than retrying instantly in a tight loop --
// and runs fn a second time. Mirrors the executor's retry-once-then-fail
// policy for trial writes, applied here to the transport itself.
func (s *Store) withRetry(ctx context.Context, fn func() error) error {
	err := fn()
	if err == nil || err == sql.ErrNoRows {
		return err
	}
	if waitErr := s.retryLimiter.Wait(ctx); waitErr != nil {
		return err
	}
	return fn()
}

func (s *Store) migrate() error {
	driver, err := postgres.WithInstance(s.db, &postgres.Config{})
	if err != nil {
		return apperror.Wrap(apperror.StoreUnavailable, "preparing migration driver", err)
	}
	src, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return apperror.Wrap(apperror.StoreUnavailable, "loading embedded migrations", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return apperror.Wrap(apperror.StoreUnavailable, "constructing migrator", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return apperror.Wrap(apperror.StoreUnavailable, "applying migrations", err)
	}
	return nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return apperror.Wrap(apperror.StoreUnavailable, "health check", err)
	}
	return nil
}

func marshalJSON(v interface{}) ([]byte, error) {
	if v == nil {
		return []byte("null"), nil
	}
	return json.Marshal(v)
}

func (s *Store) PutStudy(ctx context.Context, study *store.Study) error {
	searchSpace, err := marshalJSON(map[string]interface{}{
		"sampler_module": study.SamplerModule,
		"sampler_opts":   study.SamplerOpts,
		"pruner_module":  study.PrunerModule,
		"pruner_opts":    study.PrunerOpts,
	})
	if err != nil {
		return apperror.Wrap(apperror.StoreUnavailable, "marshalling search space", err)
	}
	metadata, err := marshalJSON(study.Metadata)
	if err != nil {
		return apperror.Wrap(apperror.StoreUnavailable, "marshalling metadata", err)
	}

	// Enumerated-column upsert: never "INSERT ... ON CONFLICT DO UPDATE SET *",
	// which would clobber concurrently-updated fields (spec.md §9). created_at
	// is only set on insert; updated_at is bumped on every upsert.
	const q = `
INSERT INTO studies (id, goal, status, search_space, metadata, max_trials, parallelism, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())
ON CONFLICT (id) DO UPDATE SET
	goal = EXCLUDED.goal,
	status = EXCLUDED.status,
	search_space = EXCLUDED.search_space,
	metadata = EXCLUDED.metadata,
	max_trials = EXCLUDED.max_trials,
	parallelism = EXCLUDED.parallelism,
	updated_at = now()
`
	if _, err := s.db.ExecContext(ctx, q, study.ID, study.Goal, study.Status, searchSpace, metadata, study.MaxTrials, study.Parallelism); err != nil {
		return apperror.Wrap(apperror.StoreUnavailable, "upserting study", err)
	}
	return nil
}

func (s *Store) GetStudy(ctx context.Context, id string) (*store.Study, bool, error) {
	const q = `SELECT id, goal, status, metadata, max_trials, parallelism, created_at, updated_at FROM studies WHERE id = $1`
	row := s.db.QueryRowContext(ctx, q, id)

	var st store.Study
	var metadataRaw []byte
	if err := row.Scan(&st.ID, &st.Goal, &st.Status, &metadataRaw, &st.MaxTrials, &st.Parallelism, &st.CreatedAt, &st.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, apperror.Wrap(apperror.StoreUnavailable, "fetching study", err)
	}
	if len(metadataRaw) > 0 {
		_ = json.Unmarshal(metadataRaw, &st.Metadata)
	}
	return &st, true, nil
}

func (s *Store) SetStudyStatus(ctx context.Context, id string, status store.StudyStatus) error {
	existing, ok, err := s.GetStudy(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return store.NotFoundf("study %q not found", id)
	}
	if !store.ValidStudyTransition(existing.Status, status) {
		return store.InvalidTransitionf("study %q cannot transition from %s to %s", id, existing.Status, status)
	}
	const q = `UPDATE studies SET status = $2, updated_at = now() WHERE id = $1`
	if _, err := s.db.ExecContext(ctx, q, id, status); err != nil {
		return apperror.Wrap(apperror.StoreUnavailable, "updating study status", err)
	}
	return nil
}

func (s *Store) ListStudies(ctx context.Context) ([]*store.Study, error) {
	const q = `SELECT id, goal, status, metadata, max_trials, parallelism, created_at, updated_at FROM studies`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, apperror.Wrap(apperror.StoreUnavailable, "listing studies", err)
	}
	defer rows.Close()

	var out []*store.Study
	for rows.Next() {
		var st store.Study
		var metadataRaw []byte
		if err := rows.Scan(&st.ID, &st.Goal, &st.Status, &metadataRaw, &st.MaxTrials, &st.Parallelism, &st.CreatedAt, &st.UpdatedAt); err != nil {
			return nil, apperror.Wrap(apperror.StoreUnavailable, "scanning study row", err)
		}
		if len(metadataRaw) > 0 {
			_ = json.Unmarshal(metadataRaw, &st.Metadata)
		}
		out = append(out, &st)
	}
	return out, rows.Err()
}

// DeleteStudy relies on the schema's ON DELETE CASCADE from trials and
// observations to studies(id); it is scoped by WHERE id = $1 and therefore
// cannot touch any other study's rows.
func (s *Store) DeleteStudy(ctx context.Context, id string) error {
	const q = `DELETE FROM studies WHERE id = $1`
	if _, err := s.db.ExecContext(ctx, q, id); err != nil {
		return apperror.Wrap(apperror.StoreUnavailable, "deleting study", err)
	}
	return nil
}

func (s *Store) AddTrial(ctx context.Context, studyID string, trial *store.Trial) (string, error) {
	params, err := marshalJSON(trial.Params)
	if err != nil {
		return "", apperror.Wrap(apperror.StoreUnavailable, "marshalling params", err)
	}
	metadata, err := marshalJSON(trial.Metadata)
	if err != nil {
		return "", apperror.Wrap(apperror.StoreUnavailable, "marshalling metadata", err)
	}

	status := trial.Status
	if status == "" {
		status = store.TrialRunning
	}
	startedAt := trial.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now().UTC()
	}

	const q = `
INSERT INTO trials (study_id, number, params, status, bracket, seed, metadata, started_at)
SELECT $1, COALESCE(MAX(number), 0) + 1, $2, $3, $4, $5, $6, $7 FROM trials WHERE study_id = $1
RETURNING id, number
`
	var id string
	var number int
	err = s.withRetry(ctx, func() error {
		row := s.db.QueryRowContext(ctx, q, studyID, params, status, trial.Bracket, trial.Seed, metadata, startedAt)
		return row.Scan(&id, &number)
	})
	if err != nil {
		if err == sql.ErrNoRows || isForeignKeyViolation(err) {
			return "", apperror.Newf(apperror.NotFound, "study %q not found", studyID)
		}
		return "", apperror.Wrap(apperror.StoreUnavailable, "inserting trial", err)
	}
	return id, nil
}

// isForeignKeyViolation reports whether err is a PostgreSQL foreign-key
// violation (SQLSTATE 23503) -- the error trials.study_id's FK constraint
// raises when AddTrial targets a study that doesn't exist, since the
// INSERT ... SELECT ... RETURNING above never hits sql.ErrNoRows itself.
func isForeignKeyViolation(err error) bool {
	pqErr, ok := err.(*pq.Error)
	return ok && pqErr.Code == "23503"
}

func scanTrial(row rowScanner) (*store.Trial, error) {
	var t store.Trial
	var paramsRaw, metricsRaw, metadataRaw []byte
	var score sql.NullFloat64
	var errMsg sql.NullString
	var completedAt sql.NullTime

	if err := row.Scan(&t.ID, &t.StudyID, &t.Number, &paramsRaw, &t.Status, &t.Bracket, &score,
		&errMsg, &metricsRaw, &t.Seed, &metadataRaw, &t.StartedAt, &completedAt); err != nil {
		return nil, err
	}
	if len(paramsRaw) > 0 {
		_ = json.Unmarshal(paramsRaw, &t.Params)
	}
	if len(metricsRaw) > 0 {
		_ = json.Unmarshal(metricsRaw, &t.Metrics)
	}
	if len(metadataRaw) > 0 {
		_ = json.Unmarshal(metadataRaw, &t.Metadata)
	}
	if score.Valid {
		v := score.Float64
		t.Score = &v
	}
	if errMsg.Valid {
		t.ErrorMessage = errMsg.String
	}
	if completedAt.Valid {
		v := completedAt.Time
		t.CompletedAt = &v
	}
	return &t, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

const trialColumns = `id, study_id, number, params, status, bracket, value, error_message, metrics, seed, metadata, started_at, completed_at`

func (s *Store) FetchTrial(ctx context.Context, studyID, trialID string) (*store.Trial, bool, error) {
	q := fmt.Sprintf(`SELECT %s FROM trials WHERE study_id = $1 AND id = $2`, trialColumns)
	row := s.db.QueryRowContext(ctx, q, studyID, trialID)
	t, err := scanTrial(row)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, apperror.Wrap(apperror.StoreUnavailable, "fetching trial", err)
	}
	return t, true, nil
}

func (s *Store) ListTrials(ctx context.Context, studyID string, filter store.TrialFilter) ([]*store.Trial, error) {
	q := fmt.Sprintf(`SELECT %s FROM trials WHERE study_id = $1`, trialColumns)
	args := []interface{}{studyID}
	if filter.Status != nil {
		args = append(args, *filter.Status)
		q += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if filter.Bracket != nil {
		args = append(args, *filter.Bracket)
		q += fmt.Sprintf(" AND bracket = $%d", len(args))
	}
	q += " ORDER BY started_at ASC"

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, apperror.Wrap(apperror.StoreUnavailable, "listing trials", err)
	}
	defer rows.Close()

	var out []*store.Trial
	for rows.Next() {
		t, err := scanTrial(rows)
		if err != nil {
			return nil, apperror.Wrap(apperror.StoreUnavailable, "scanning trial row", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) UpdateTrial(ctx context.Context, studyID, trialID string, patch store.TrialPatch) error {
	existing, ok, err := s.FetchTrial(ctx, studyID, trialID)
	if err != nil {
		return err
	}
	if !ok {
		return store.NotFoundf("trial %q not found in study %q", trialID, studyID)
	}

	sets := []string{}
	args := []interface{}{}
	addArg := func(clause string, v interface{}) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", clause, len(args)))
	}

	if patch.Status != nil {
		if !store.ValidTrialTransition(existing.Status, *patch.Status) {
			return store.InvalidTransitionf("trial %q cannot transition from %s to %s", trialID, existing.Status, *patch.Status)
		}
		addArg("status", *patch.Status)
	}
	if patch.Score != nil {
		addArg("value", *patch.Score)
	}
	if patch.ErrorMessage != nil {
		addArg("error_message", *patch.ErrorMessage)
	}
	if patch.Metrics != nil {
		b, _ := marshalJSON(patch.Metrics)
		addArg("metrics", b)
	}
	if patch.CompletedAt != nil {
		addArg("completed_at", *patch.CompletedAt)
	}
	if patch.Metadata != nil {
		b, _ := marshalJSON(patch.Metadata)
		addArg("metadata", b)
	}
	if len(sets) == 0 {
		return nil
	}

	args = append(args, studyID, trialID)
	q := fmt.Sprintf(`UPDATE trials SET %s WHERE study_id = $%d AND id = $%d`, joinSets(sets), len(args)-1, len(args))
	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		return apperror.Wrap(apperror.StoreUnavailable, "updating trial", err)
	}
	return nil
}

func joinSets(sets []string) string {
	out := sets[0]
	for _, s := range sets[1:] {
		out += ", " + s
	}
	return out
}

func (s *Store) FinishTrial(ctx context.Context, studyID, trialID string, score float64, metrics map[string]float64) error {
	completed := store.TrialCompleted
	now := time.Now().UTC()
	return s.UpdateTrial(ctx, studyID, trialID, store.TrialPatch{
		Status: &completed, Score: &score, Metrics: metrics, CompletedAt: &now,
	})
}

func (s *Store) FailTrial(ctx context.Context, studyID, trialID string, message string) error {
	failed := store.TrialFailed
	now := time.Now().UTC()
	return s.UpdateTrial(ctx, studyID, trialID, store.TrialPatch{
		Status: &failed, ErrorMessage: &message, CompletedAt: &now,
	})
}

func (s *Store) PruneTrial(ctx context.Context, studyID, trialID string, score *float64) error {
	pruned := store.TrialPruned
	now := time.Now().UTC()
	return s.UpdateTrial(ctx, studyID, trialID, store.TrialPatch{
		Status: &pruned, Score: score, CompletedAt: &now,
	})
}

// RecordObservation relies on the schema's UNIQUE(study_id, trial_id,
// bracket, rung) constraint; a duplicate report for the same rung
// overwrites the prior value rather than creating a second row.
func (s *Store) RecordObservation(ctx context.Context, studyID, trialID string, bracket, rung int, score float64) error {
	const q = `
INSERT INTO observations (study_id, trial_id, bracket, rung, value, created_at)
VALUES ($1, $2, $3, $4, $5, now())
ON CONFLICT (study_id, trial_id, bracket, rung) DO UPDATE SET value = EXCLUDED.value, created_at = now()
`
	err := s.withRetry(ctx, func() error {
		_, execErr := s.db.ExecContext(ctx, q, studyID, trialID, bracket, rung, score)
		return execErr
	})
	if err != nil {
		return apperror.Wrap(apperror.StoreUnavailable, "recording observation", err)
	}
	return nil
}

func (s *Store) ObservationsAtRung(ctx context.Context, studyID string, bracket, rung int) ([]store.Observation, error) {
	const q = `SELECT study_id, trial_id, bracket, rung, value, created_at FROM observations WHERE study_id = $1 AND bracket = $2 AND rung = $3`
	rows, err := s.db.QueryContext(ctx, q, studyID, bracket, rung)
	if err != nil {
		return nil, apperror.Wrap(apperror.StoreUnavailable, "querying observations", err)
	}
	defer rows.Close()

	var out []store.Observation
	for rows.Next() {
		var o store.Observation
		if err := rows.Scan(&o.StudyID, &o.TrialID, &o.Bracket, &o.Rung, &o.Score, &o.CreatedAt); err != nil {
			return nil, apperror.Wrap(apperror.StoreUnavailable, "scanning observation row", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
