package models

import "time"

// LogLevel of a job log entry
type LogLevel string

const (
	LogLevelDebug LogLevel = "DEBUG"
	LogLevelInfo  LogLevel = "INFO"
	LogLevelWarn  LogLevel = "WARN"
	LogLevelError LogLevel = "ERROR"
)

// LogEntry is an append-only, job-scoped log line
type LogEntry struct {
	JobID     string                 `json:"jobId"`
	Timestamp time.Time              `json:"timestamp"`
	Level     LogLevel               `json:"level"`
	Message   string                 `json:"message"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Sequence  string                 `json:"-"` // timestamp+counter, orders entries written in the same instant
}
