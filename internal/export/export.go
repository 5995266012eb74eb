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

// Package export implements the engine's read-only serialisation of a
// finished or in-progress study: JSON, CSV, and summary statistics. It
// reads only -- nothing here ever writes through the store interface.
package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/thestormforge/optimize-engine/internal/store"
)

// StudyStats summarises a study's completed trials.
type StudyStats struct {
	NTrials     int     `json:"n_trials"`
	NCompleted  int     `json:"n_completed"`
	NPruned     int     `json:"n_pruned"`
	NFailed     int     `json:"n_failed"`
	BestValue   *float64 `json:"best_value,omitempty"`
	MeanValue   *float64 `json:"mean_value,omitempty"`
	StdValue    *float64 `json:"std_value,omitempty"`
	MinValue    *float64 `json:"min_value,omitempty"`
	MaxValue    *float64 `json:"max_value,omitempty"`
}

// Snapshot is the shape serialised by ToJSON: the study, every trial,
// and summary statistics, read in one pass.
type Snapshot struct {
	Study  *store.Study   `json:"study"`
	Trials []*store.Trial `json:"trials"`
	Stats  StudyStats     `json:"stats"`
}

// ptr is a small helper for building *float64 literals inline.
func ptr(v float64) *float64 { return &v }

// Stats computes n_trials, n_completed, n_pruned, best_value (direction-
// aware), mean_value, std_value, min_value, max_value over a study's
// completed trials. Studies with zero completed trials report nil value
// statistics rather than NaN/Inf placeholders.
func Stats(study *store.Study, trials []*store.Trial) StudyStats {
	stats := StudyStats{NTrials: len(trials)}
	var scores []float64
	for _, t := range trials {
		switch t.Status {
		case store.TrialCompleted:
			stats.NCompleted++
			if t.Score != nil {
				scores = append(scores, *t.Score)
			}
		case store.TrialPruned:
			stats.NPruned++
		case store.TrialFailed:
			stats.NFailed++
		}
	}
	if len(scores) == 0 {
		return stats
	}

	sorted := append([]float64(nil), scores...)
	sort.Float64s(sorted)
	stats.MinValue = ptr(sorted[0])
	stats.MaxValue = ptr(sorted[len(sorted)-1])

	sum := 0.0
	for _, s := range scores {
		sum += s
	}
	mean := sum / float64(len(scores))
	stats.MeanValue = ptr(mean)

	var variance float64
	for _, s := range scores {
		d := s - mean
		variance += d * d
	}
	variance /= float64(len(scores))
	stats.StdValue = ptr(math.Sqrt(variance))

	if study != nil && study.Goal == store.Maximize {
		stats.BestValue = ptr(sorted[len(sorted)-1])
	} else {
		stats.BestValue = ptr(sorted[0])
	}
	return stats
}

// ToJSON reads a study's full trial history from the store and renders
// it as a Snapshot JSON document.
func ToJSON(ctx context.Context, s store.Store, studyID string) (string, error) {
	study, ok, err := s.GetStudy(ctx, studyID)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", store.NotFoundf("study %q not found", studyID)
	}
	trials, err := s.ListTrials(ctx, studyID, store.TrialFilter{})
	if err != nil {
		return "", err
	}

	snapshot := Snapshot{Study: study, Trials: trials, Stats: Stats(study, trials)}
	b, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// paramColumns returns the union of every parameter name seen across
// trials, sorted, for a stable CSV column order.
func paramColumns(trials []*store.Trial) []string {
	seen := make(map[string]bool)
	for _, t := range trials {
		for name := range t.Params {
			seen[name] = true
		}
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

func formatScore(s *float64) string {
	if s == nil {
		return ""
	}
	return strconv.FormatFloat(*s, 'g', -1, 64)
}

// ToCSV reads a study's trials and renders them one row per trial, with
// fixed leading columns trial_id,status,value,started_at,completed_at
// followed by one column per distinct parameter name (sorted, so column
// order is stable across calls for the same trial set).
func ToCSV(ctx context.Context, s store.Store, studyID string) (string, error) {
	trials, err := s.ListTrials(ctx, studyID, store.TrialFilter{})
	if err != nil {
		return "", err
	}
	params := paramColumns(trials)

	var buf strings.Builder
	w := csv.NewWriter(&buf)

	header := append([]string{"trial_id", "status", "value", "started_at", "completed_at"}, params...)
	if err := w.Write(header); err != nil {
		return "", err
	}

	for _, t := range trials {
		row := []string{
			t.ID,
			string(t.Status),
			formatScore(t.Score),
			formatTime(t.StartedAt),
			formatTimePtr(t.CompletedAt),
		}
		for _, name := range params {
			v, ok := t.Params[name]
			if !ok {
				row = append(row, "")
				continue
			}
			row = append(row, strconv.FormatFloat(v, 'g', -1, 64))
		}
		if err := w.Write(row); err != nil {
			return "", err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// StudyStatsJSON renders just the summary statistics block, for callers
// that don't need the full trial dump.
func StudyStatsJSON(ctx context.Context, s store.Store, studyID string) (string, error) {
	study, ok, err := s.GetStudy(ctx, studyID)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", store.NotFoundf("study %q not found", studyID)
	}
	trials, err := s.ListTrials(ctx, studyID, store.TrialFilter{})
	if err != nil {
		return "", err
	}
	b, err := json.MarshalIndent(Stats(study, trials), "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}
