package model

import (
	"time"
)

// RunStatus represents the current state of a strategy run.
type RunStatus string

const (
	RunStatusQueued      RunStatus = "queued"
	RunStatusUnifying    RunStatus = "unifying"
	RunStatusNormalizing RunStatus = "normalizing"
	RunStatusRanking     RunStatus = "ranking"
	RunStatusComplete    RunStatus = "complete"
	RunStatusFailed      RunStatus = "failed"
)

// Run is one orchestrated pass over a single strategy, as recorded in the ledger.
type Run struct {
	ID        string     `json:"id"`
	Strategy  Strategy   `json:"strategy"`
	Status    RunStatus  `json:"status"`
	Result    *RunResult `json:"result,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Stage names a pipeline stage.
type Stage string

const (
	StageUnify     Stage = "unify"
	StageNormalize Stage = "normalize"
	StageRank      Stage = "rank"
	StageValidate  Stage = "validate"
	StageRepair    Stage = "repair"
)

// StageStatus is the outcome class of a stage.
type StageStatus string

const (
	StageStatusOK      StageStatus = "ok"
	StageStatusWarning StageStatus = "warning"
	StageStatusFatal   StageStatus = "fatal"
	StageStatusSkipped StageStatus = "skipped"
)

// StageResult holds the outcome of one pipeline stage.
type StageResult struct {
	Stage    Stage          `json:"stage"`
	Status   StageStatus    `json:"status"`
	Duration int64          `json:"duration_ms"`
	Counts   map[string]int `json:"counts,omitempty"`
	Warnings []string       `json:"warnings,omitempty"`
	Error    string         `json:"error,omitempty"`
}

// RunResult aggregates the stage results of one strategy run.
type RunResult struct {
	Strategy    Strategy      `json:"strategy"`
	Stages      []StageResult `json:"stages"`
	Suggestions int           `json:"suggestions"`
	Freshness   Freshness     `json:"source_freshness,omitempty"`
	OutputPath  string        `json:"output_path,omitempty"`
	Error       string        `json:"error,omitempty"`
}

// Fatal reports whether any stage ended fatally.
func (r *RunResult) Fatal() bool {
	for _, s := range r.Stages {
		if s.Status == StageStatusFatal {
			return true
		}
	}
	return false
}

// Add appends a stage result.
func (r *RunResult) Add(s StageResult) {
	r.Stages = append(r.Stages, s)
}

// Stage returns the result for the named stage, if it ran.
func (r *RunResult) Stage(name Stage) (StageResult, bool) {
	for _, s := range r.Stages {
		if s.Stage == name {
			return s, true
		}
	}
	return StageResult{}, false
}
