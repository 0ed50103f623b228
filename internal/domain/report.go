package domain

import "time"

// TagNeed is the tile inventory of one dataset tag.
type TagNeed struct {
	Required []TileID `json:"required"`
	Present  []TileID `json:"present"`
	Missing  []TileID `json:"missing"`
}

// TileNeedReport is the ephemeral result of inventory resolution, keyed by tag.
type TileNeedReport struct {
	Extent Extent             `json:"extent"`
	ByTag  map[string]TagNeed `json:"by_tag"`
}

// MissingCount returns the number of missing tiles across all tags.
func (r TileNeedReport) MissingCount() int {
	n := 0
	for _, need := range r.ByTag {
		n += len(need.Missing)
	}
	return n
}

// Status is the outcome class of a pipeline stage.
type Status string

const (
	StatusSuccess Status = "success"
	StatusPartial Status = "partial"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// StageOutcome is the structured report every stage returns.
type StageOutcome struct {
	Stage    string        `json:"stage"`
	Status   Status        `json:"status"`
	Skipped  []string      `json:"skipped,omitempty"`
	Cause    string        `json:"cause,omitempty"`
	Duration time.Duration `json:"duration"`
}

// RunReport collects the stage outcomes of one pipeline invocation.
type RunReport struct {
	RunID      string         `json:"run_id"`
	Dataset    string         `json:"dataset"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Stages     []StageOutcome `json:"stages"`
}

// Failed reports whether any stage failed.
func (r RunReport) Failed() bool {
	for _, s := range r.Stages {
		if s.Status == StatusFailed {
			return true
		}
	}
	return false
}

// FailedStage returns the first failed stage, if any.
func (r RunReport) FailedStage() (StageOutcome, bool) {
	for _, s := range r.Stages {
		if s.Status == StatusFailed {
			return s, true
		}
	}
	return StageOutcome{}, false
}
