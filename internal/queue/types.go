package queue

import (
	"errors"
	"time"

	"github.com/ternarybob/bidharvest/internal/models"
)

var (
	// ErrNoMessage is returned when no message is visible
	ErrNoMessage = errors.New("no message")
	// ErrDuplicate is returned when a job id is already live in the queue
	ErrDuplicate = errors.New("job already queued")
	// ErrUnknownJob is returned when the queue holds no record of a job id
	ErrUnknownJob = errors.New("job unknown to queue")
	// ErrNotRemovable is returned when cancelling a job a worker has already claimed
	ErrNotRemovable = errors.New("job already started")
)

// State is the queue-native view of a unit of work
type State string

const (
	StateQueued    State = "queued"
	StateActive    State = "active"
	StateRetrying  State = "retrying"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// IsLive reports whether the queue still owns the work
func (s State) IsLive() bool {
	return s == StateQueued || s == StateActive || s == StateRetrying
}

// Message is the unit of work: one job to run
type Message struct {
	JobID    string             `json:"job_id"`
	SourceID string             `json:"source_id"`
	Trigger  models.TriggerType `json:"trigger"`
}

// Delivery is a claimed message and the attempt number it is on (1-based)
type Delivery struct {
	Message
	Attempt int
}

// entry is the stored form of a live message
type entry struct {
	Message
	EnqueuedAt time.Time `json:"enqueued_at"`
	VisibleAt  time.Time `json:"visible_at"`
	Attempts   int       `json:"attempts"`
	State      State     `json:"state"`
	LastError  string    `json:"last_error,omitempty"`
}

// HistoryEntry is a retained terminal outcome
type HistoryEntry struct {
	Message
	State      State     `json:"state"`
	Attempts   int       `json:"attempts"`
	FinishedAt time.Time `json:"finished_at"`
	LastError  string    `json:"last_error,omitempty"`
}

// Stats counts messages per state
type Stats struct {
	Queued    int
	Active    int
	Retrying  int
	Completed int
	Failed    int
}
