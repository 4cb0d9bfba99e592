package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment string            `toml:"environment"`
	Queue       QueueConfig       `toml:"queue"`
	Storage     StorageConfig     `toml:"storage"`
	Logging     LoggingConfig     `toml:"logging"`
	Scraper     ScraperConfig     `toml:"scraper"`
	Credentials CredentialsConfig `toml:"credentials"`
	Scheduler   SchedulerConfig   `toml:"scheduler"`
	Sources     SourcesConfig     `toml:"sources"`
}

type QueueConfig struct {
	QueueName         string `toml:"queue_name" validate:"required"`
	Concurrency       int    `toml:"concurrency" validate:"min=1,max=64"`  // Number of concurrent workers
	MaxAttempts       int    `toml:"max_attempts" validate:"min=1,max=10"` // Deliveries per job before it is recorded failed
	Backoff           string `toml:"backoff" validate:"duration"`          // Base of the exponential retry delay
	PollInterval      string `toml:"poll_interval" validate:"duration"`    // How often idle workers poll
	VisibilityTimeout string `toml:"visibility_timeout" validate:"duration"`
	KeepCompleted     int    `toml:"keep_completed" validate:"min=0"` // Completed history retained for observability
	KeepFailed        int    `toml:"keep_failed" validate:"min=0"`
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path" validate:"required"` // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"`         // Delete database on startup for clean test runs
}

type LoggingConfig struct {
	Level  string   `toml:"level" validate:"oneof=debug info warn error"`
	Output []string `toml:"output" validate:"dive,oneof=stdout console file"`
}

// ScraperConfig holds the run defaults a source's strategy settings override
type ScraperConfig struct {
	RateLimitMs    int    `toml:"rate_limit_ms" validate:"min=0"`
	TimeoutMs      int    `toml:"timeout_ms" validate:"min=1000"`
	MaxRetries     int    `toml:"max_retries" validate:"min=1,max=10"`
	UserAgent      string `toml:"user_agent"`
	Headless       bool   `toml:"headless"`
	NoSandbox      bool   `toml:"no_sandbox"`
	ChromePath     string `toml:"chrome_path"`
	StartupTimeout string `toml:"startup_timeout" validate:"duration"`
	HostInterval   string `toml:"host_interval" validate:"omitempty,duration"` // Minimum spacing between navigations to one host across jobs
}

type CredentialsConfig struct {
	EncryptionKey string `toml:"encryption_key" validate:"omitempty,hexadecimal,len=64"` // AES-256 key, hex
}

type SchedulerConfig struct {
	Enabled bool `toml:"enabled"`
}

// SourcesConfig lists directories of source definition files imported at startup
type SourcesConfig struct {
	Dirs []string `toml:"dirs"`
}

// NewDefaultConfig returns the built-in defaults
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Queue: QueueConfig{
			QueueName:         "bidharvest_jobs",
			Concurrency:       2,
			MaxAttempts:       3,
			Backoff:           "1s",
			PollInterval:      "500ms",
			VisibilityTimeout: "10m",
			KeepCompleted:     100,
			KeepFailed:        50,
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data",
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout"},
		},
		Scraper: ScraperConfig{
			RateLimitMs:    2000,
			TimeoutMs:      30000,
			MaxRetries:     3,
			Headless:       true,
			NoSandbox:      false,
			StartupTimeout: "30s",
			HostInterval:   "1s",
		},
		Scheduler: SchedulerConfig{
			Enabled: true,
		},
		Sources: SourcesConfig{
			Dirs: []string{"./sources"},
		},
	}
}

// LoadFromFiles loads configuration with priority: defaults -> file1 -> file2 -> ... -> env.
// Later files override earlier files. The result is validated.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

var configValidator = newConfigValidator()

func newConfigValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("duration", func(fl validator.FieldLevel) bool {
		_, err := time.ParseDuration(fl.Field().String())
		return err == nil
	})
	return v
}

// Validate checks field ranges and duration strings
func (c *Config) Validate() error {
	if err := configValidator.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// applyEnvOverrides applies BIDHARVEST_* environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("BIDHARVEST_ENV"); env != "" {
		config.Environment = env
	}

	// Queue configuration
	if name := os.Getenv("BIDHARVEST_QUEUE_NAME"); name != "" {
		config.Queue.QueueName = name
	}
	setInt("BIDHARVEST_QUEUE_CONCURRENCY", &config.Queue.Concurrency)
	setInt("BIDHARVEST_QUEUE_MAX_ATTEMPTS", &config.Queue.MaxAttempts)
	if poll := os.Getenv("BIDHARVEST_QUEUE_POLL_INTERVAL"); poll != "" {
		config.Queue.PollInterval = poll
	}
	if backoff := os.Getenv("BIDHARVEST_QUEUE_BACKOFF"); backoff != "" {
		config.Queue.Backoff = backoff
	}

	// Storage configuration
	if path := os.Getenv("BIDHARVEST_BADGER_PATH"); path != "" {
		config.Storage.Badger.Path = path
	}
	setBool("BIDHARVEST_BADGER_RESET", &config.Storage.Badger.ResetOnStartup)

	// Logging configuration
	if level := os.Getenv("BIDHARVEST_LOG_LEVEL"); level != "" {
		config.Logging.Level = strings.ToLower(level)
	}
	if output := os.Getenv("BIDHARVEST_LOG_OUTPUT"); output != "" {
		if outputs := splitList(output); len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}

	// Scraper configuration
	setInt("BIDHARVEST_SCRAPER_RATE_LIMIT_MS", &config.Scraper.RateLimitMs)
	setInt("BIDHARVEST_SCRAPER_TIMEOUT_MS", &config.Scraper.TimeoutMs)
	setInt("BIDHARVEST_SCRAPER_MAX_RETRIES", &config.Scraper.MaxRetries)
	if ua := os.Getenv("BIDHARVEST_SCRAPER_USER_AGENT"); ua != "" {
		config.Scraper.UserAgent = ua
	}
	setBool("BIDHARVEST_SCRAPER_HEADLESS", &config.Scraper.Headless)
	setBool("BIDHARVEST_SCRAPER_NO_SANDBOX", &config.Scraper.NoSandbox)
	if path := os.Getenv("BIDHARVEST_CHROME_PATH"); path != "" {
		config.Scraper.ChromePath = path
	}

	// Credentials
	if key := os.Getenv("BIDHARVEST_ENCRYPTION_KEY"); key != "" {
		config.Credentials.EncryptionKey = key
	}

	setBool("BIDHARVEST_SCHEDULER_ENABLED", &config.Scheduler.Enabled)

	if dirs := os.Getenv("BIDHARVEST_SOURCES_DIRS"); dirs != "" {
		config.Sources.Dirs = splitList(dirs)
	}
}

func setInt(name string, target *int) {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*target = n
		}
	}
}

func setBool(name string, target *bool) {
	if v := os.Getenv(name); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*target = b
		}
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// Duration parses a validated duration string, returning fallback when empty or invalid
func Duration(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

// IsProduction returns true if the environment is set to production
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}
