package model

import (
	"encoding/json"
	"time"
)

type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// IsTerminal reports whether the status is absorbing.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusProcessing, JobStatusCompleted, JobStatusFailed:
		return true
	}
	return false
}

// rank orders the non-terminal states so late "processing" deliveries after a
// newer state are ignored.
func (s JobStatus) rank() int {
	switch s {
	case JobStatusPending:
		return 0
	case JobStatusProcessing:
		return 1
	default:
		return 2
	}
}

// CanTransitionTo reports whether moving from s to next advances the lifecycle.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	if s.IsTerminal() || !next.Valid() {
		return false
	}
	return next.rank() > s.rank()
}

type TaskType string

const (
	TaskTypeAnalysis   TaskType = "analysis"
	TaskTypeGeneration TaskType = "generation"
)

func (t TaskType) Valid() bool {
	return t == TaskTypeAnalysis || t == TaskTypeGeneration
}

// PredictionJob is one unit of dispatched work. It is created pending together
// with its prehold and is immutable once terminal.
type PredictionJob struct {
	ID                  string
	PredictionID        string
	UserID              string
	TaskType            TaskType
	ModelID             string
	Status              JobStatus
	Input               json.RawMessage
	Output              json.RawMessage
	ErrorMessage        string
	CreditTransactionID string
	CreatedAt           time.Time
	UpdatedAt           time.Time
	CompletedAt         *time.Time
}

func (j *PredictionJob) IsTerminal() bool { return j.Status.IsTerminal() }

// Progress is a coarse completion hint for status readers.
func (j *PredictionJob) Progress() int {
	switch j.Status {
	case JobStatusProcessing:
		return 50
	case JobStatusCompleted, JobStatusFailed:
		return 100
	default:
		return 0
	}
}
