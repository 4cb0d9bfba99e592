package models

import (
	"time"
)

// JobStatus is the persisted lifecycle state of an acquisition run
type JobStatus string

const (
	JobStatusPending   JobStatus = "PENDING"
	JobStatusRunning   JobStatus = "RUNNING"
	JobStatusCompleted JobStatus = "COMPLETED"
	JobStatusFailed    JobStatus = "FAILED"
)

// TriggerType records what caused a job to be submitted
type TriggerType string

const (
	TriggerManual    TriggerType = "MANUAL"
	TriggerScheduled TriggerType = "SCHEDULED"
)

// CancelledBeforeStart is the error message recorded on a job cancelled while queued
const CancelledBeforeStart = "cancelled before start"

// Job is one tracked acquisition attempt. Its ID doubles as the queue idempotency key.
type Job struct {
	ID           string      `json:"id"`
	SourceID     string      `json:"sourceId"`
	Status       JobStatus   `json:"status"`
	Trigger      TriggerType `json:"trigger"`
	CreatedAt    time.Time   `json:"createdAt"`
	StartedAt    *time.Time  `json:"startedAt,omitempty"`
	CompletedAt  *time.Time  `json:"completedAt,omitempty"`
	RecordsFound int         `json:"recordsFound"`
	RecordsAdded int         `json:"recordsAdded"`
	ErrorCount   int         `json:"errorCount"`
	ErrorMessage string      `json:"errorMessage,omitempty"`
	Attempt      int         `json:"attempt"`
}

// NewJob creates a job in PENDING state
func NewJob(id, sourceID string, trigger TriggerType) *Job {
	return &Job{
		ID:        id,
		SourceID:  sourceID,
		Status:    JobStatusPending,
		Trigger:   trigger,
		CreatedAt: time.Now(),
	}
}

// MarkStarted moves the job to RUNNING for a new attempt
func (j *Job) MarkStarted() {
	now := time.Now()
	j.Status = JobStatusRunning
	j.StartedAt = &now
	j.CompletedAt = nil
	j.ErrorMessage = ""
	j.Attempt++
}

// MarkCompleted records a successful run with its counts
func (j *Job) MarkCompleted(found, added, errorCount int) {
	now := time.Now()
	j.Status = JobStatusCompleted
	j.CompletedAt = &now
	j.RecordsFound = found
	j.RecordsAdded = added
	j.ErrorCount = errorCount
}

// MarkFailed records a run-level failure
func (j *Job) MarkFailed(errorMsg string, errorCount int) {
	now := time.Now()
	j.Status = JobStatusFailed
	j.CompletedAt = &now
	j.ErrorMessage = errorMsg
	j.ErrorCount = errorCount
}

// IsCancelled reports whether the job was withdrawn before any worker ran it
func (j *Job) IsCancelled() bool {
	return j.Status == JobStatusFailed && j.ErrorMessage == CancelledBeforeStart
}

// IsTerminal returns true if the job is in a terminal state
func (j *Job) IsTerminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}
