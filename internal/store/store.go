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

// Package store defines the study/trial/observation persistence contract
// shared by the in-memory and durable (PostgreSQL) backends, collapsing
// the several ad-hoc "store" shapes of the source implementation into one
// adapter interface, per spec.md §9.
package store

import "time"

// Goal is the closed whitelist of study optimization directions. Only
// these two string values are ever accepted from external input.
type Goal string

const (
	Minimize Goal = "minimize"
	Maximize Goal = "maximize"
)

// StudyStatus is the closed whitelist of study lifecycle states.
type StudyStatus string

const (
	StudyPending   StudyStatus = "pending"
	StudyRunning   StudyStatus = "running"
	StudyPaused    StudyStatus = "paused"
	StudyCompleted StudyStatus = "completed"
	StudyFailed    StudyStatus = "failed"
	StudyCancelled StudyStatus = "cancelled"
)

// studyTransitions enumerates the legal study status transition table from
// spec.md §3: pending -> running -> {completed, failed, cancelled}, plus
// running <-> paused and paused -> cancelled; any -> cancelled is always
// permitted.
var studyTransitions = map[StudyStatus]map[StudyStatus]bool{
	StudyPending: {StudyRunning: true, StudyCancelled: true},
	StudyRunning: {StudyCompleted: true, StudyFailed: true, StudyCancelled: true, StudyPaused: true},
	StudyPaused:  {StudyRunning: true, StudyCancelled: true},
}

// ValidStudyTransition reports whether a study may move from "from" to
// "to". Cancellation is always permitted, from any state.
func ValidStudyTransition(from, to StudyStatus) bool {
	if to == StudyCancelled {
		return true
	}
	if from == to {
		return true
	}
	return studyTransitions[from][to]
}

// TrialStatus is the closed whitelist of trial lifecycle states.
type TrialStatus string

const (
	TrialRunning   TrialStatus = "running"
	TrialCompleted TrialStatus = "completed"
	TrialPruned    TrialStatus = "pruned"
	TrialFailed    TrialStatus = "failed"
)

// ValidTrialTransition enforces the monotone trial state machine: running
// -> exactly one of {completed, pruned, failed}; never back.
func ValidTrialTransition(from, to TrialStatus) bool {
	if from == to {
		return true
	}
	if from != TrialRunning {
		return false
	}
	switch to {
	case TrialCompleted, TrialPruned, TrialFailed:
		return true
	}
	return false
}

// IsTerminal reports whether a trial status is one of the three terminal
// states.
func (s TrialStatus) IsTerminal() bool {
	return s == TrialCompleted || s == TrialPruned || s == TrialFailed
}

// Study is the persisted description of one optimization run.
type Study struct {
	ID            string
	Goal          Goal
	MaxTrials     int
	Parallelism   int
	Seed          *int64
	SamplerModule string
	SamplerOpts   map[string]interface{}
	PrunerModule  string
	PrunerOpts    map[string]interface{}
	Status        StudyStatus
	Metadata      map[string]string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Trial is one evaluation of the objective at a specific parameter
// configuration.
type Trial struct {
	ID           string
	StudyID      string
	Number       int
	Params       map[string]float64
	Status       TrialStatus
	Bracket      int
	Score        *float64
	ErrorMessage string
	Metrics      map[string]float64
	Seed         int64
	StartedAt    time.Time
	CompletedAt  *time.Time
	Metadata     map[string]string
}

// Observation is an intermediate score reported for a (study, trial,
// bracket, rung) tuple.
type Observation struct {
	StudyID   string
	TrialID   string
	Bracket   int
	Rung      int
	Score     float64
	CreatedAt time.Time
}

// TrialFilter narrows ListTrials to trials matching the given status
// and/or bracket; nil fields are not filtered on.
type TrialFilter struct {
	Status  *TrialStatus
	Bracket *int
}

// Match reports whether t satisfies the filter.
func (f TrialFilter) Match(t *Trial) bool {
	if f.Status != nil && t.Status != *f.Status {
		return false
	}
	if f.Bracket != nil && t.Bracket != *f.Bracket {
		return false
	}
	return true
}

// TrialPatch is the merge-semantics update applied by UpdateTrial.
// Unset (nil) fields are left untouched.
type TrialPatch struct {
	Status       *TrialStatus
	Score        *float64
	ErrorMessage *string
	Metrics      map[string]float64
	CompletedAt  *time.Time
	Metadata     map[string]string
}
