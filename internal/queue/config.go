package queue

import (
	"time"

	"github.com/ternarybob/bidharvest/internal/common"
)

// Config holds configuration for the queue and its worker pool
type Config struct {
	// QueueName prefixes every key the queue writes
	QueueName string

	// Concurrency is the number of workers, each running one job at a time
	Concurrency int

	// MaxAttempts is the number of deliveries before a job is recorded failed
	MaxAttempts int

	// Backoff is the base delay; attempt n waits Backoff * 2^(n-1)
	Backoff time.Duration

	// PollInterval is how often idle workers poll for messages
	PollInterval time.Duration

	// VisibilityTimeout is how long a claimed message stays hidden without a heartbeat
	VisibilityTimeout time.Duration

	// KeepCompleted and KeepFailed bound the retained history
	KeepCompleted int
	KeepFailed    int
}

// NewDefaultConfig creates a queue configuration with the stock policy
func NewDefaultConfig() Config {
	return Config{
		QueueName:         "bidharvest_jobs",
		Concurrency:       2,
		MaxAttempts:       3,
		Backoff:           time.Second,
		PollInterval:      500 * time.Millisecond,
		VisibilityTimeout: 10 * time.Minute,
		KeepCompleted:     100,
		KeepFailed:        50,
	}
}

// ConfigFromSettings converts the [queue] section, keeping defaults for unparseable values
func ConfigFromSettings(settings common.QueueConfig) Config {
	def := NewDefaultConfig()
	cfg := Config{
		QueueName:         settings.QueueName,
		Concurrency:       settings.Concurrency,
		MaxAttempts:       settings.MaxAttempts,
		Backoff:           common.Duration(settings.Backoff, def.Backoff),
		PollInterval:      common.Duration(settings.PollInterval, def.PollInterval),
		VisibilityTimeout: common.Duration(settings.VisibilityTimeout, def.VisibilityTimeout),
		KeepCompleted:     settings.KeepCompleted,
		KeepFailed:        settings.KeepFailed,
	}
	if cfg.QueueName == "" {
		cfg.QueueName = def.QueueName
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	return cfg
}
