package model

import "time"

// JobStatus is the persisted status of a stage job.
type JobStatus string

const (
	JobRunning  JobStatus = "running"
	JobPaused   JobStatus = "paused"
	JobComplete JobStatus = "complete"
	JobError    JobStatus = "error"
)

// DefaultErrorLogSize bounds Job.ErrorLog when no size is configured.
const DefaultErrorLogSize = 50

// Job is the per-stage progress record. Exactly one exists per stage and it
// is never deleted.
type Job struct {
	Stage          Stage      `json:"stage"`
	Worker         Worker     `json:"worker"`
	Status         JobStatus  `json:"status"`
	Cursor         string     `json:"cursor"`
	BatchSize      int        `json:"batch_size"`
	TotalProcessed int        `json:"total_processed"`
	TotalErrors    int        `json:"total_errors"`
	ErrorLog       []string   `json:"error_log"`
	StartedAt      time.Time  `json:"started_at"`
	LastRunAt      *time.Time `json:"last_run_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	Version        int64      `json:"version"`
}

// NewJob returns the initial state for a stage: empty cursor, running.
func NewJob(stage Stage, now time.Time) Job {
	return Job{
		Stage:     stage,
		Worker:    WorkerOf(stage),
		Status:    JobRunning,
		StartedAt: now,
		ErrorLog:  []string{},
	}
}

// AppendErrors adds messages to the error log, keeping only the newest max entries.
func (j *Job) AppendErrors(max int, msgs ...string) {
	if max <= 0 {
		max = DefaultErrorLogSize
	}
	j.ErrorLog = append(j.ErrorLog, msgs...)
	if over := len(j.ErrorLog) - max; over > 0 {
		j.ErrorLog = append([]string(nil), j.ErrorLog[over:]...)
	}
}

// IsComplete reports whether the job has reached the end of its entity set.
func (j Job) IsComplete() bool {
	return j.Status == JobComplete
}
