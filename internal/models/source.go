package models

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
)

// AuthMode controls whether a source requires a login before listing traversal
type AuthMode string

const (
	AuthModeOpen          AuthMode = "OPEN"
	AuthModeLoginRequired AuthMode = "LOGIN_REQUIRED"
)

// FieldMapping maps canonical field names to dot-separated paths in a raw payload.
// An empty path means the canonical field name itself is used as the key.
type FieldMapping struct {
	RequisitionNumber  string `json:"requisitionNumber,omitempty" toml:"requisition_number" yaml:"requisitionNumber"`
	BidNumber          string `json:"bidNumber,omitempty" toml:"bid_number" yaml:"bidNumber"`
	SolicitationNumber string `json:"solicitationNumber,omitempty" toml:"solicitation_number" yaml:"solicitationNumber"`
	Title              string `json:"title,omitempty" toml:"title" yaml:"title"`
	Description        string `json:"description,omitempty" toml:"description" yaml:"description"`
	Summary            string `json:"summary,omitempty" toml:"summary" yaml:"summary"`
	OpenDate           string `json:"openDate,omitempty" toml:"open_date" yaml:"openDate"`
	CloseDate          string `json:"closeDate,omitempty" toml:"close_date" yaml:"closeDate"`
	Quantity           string `json:"quantity,omitempty" toml:"quantity" yaml:"quantity"`
	UnitOfMeasure      string `json:"unitOfMeasure,omitempty" toml:"unit_of_measure" yaml:"unitOfMeasure"`
	DetailPageURL      string `json:"detailPageUrl,omitempty" toml:"detail_page_url" yaml:"detailPageUrl"`
}

// StrategyConfig holds per-source overrides for the acquisition engine.
// Zero values fall back to the [scraper] defaults in the application config.
type StrategyConfig struct {
	RateLimitMs int    `json:"rateLimitMs,omitempty" toml:"rate_limit_ms" yaml:"rateLimitMs" validate:"gte=0"`
	TimeoutMs   int    `json:"timeoutMs,omitempty" toml:"timeout_ms" yaml:"timeoutMs" validate:"gte=0"`
	MaxRetries  int    `json:"maxRetries,omitempty" toml:"max_retries" yaml:"maxRetries" validate:"gte=0,lte=10"`
	UserAgent   string `json:"userAgent,omitempty" toml:"user_agent" yaml:"userAgent"`

	// Options is the strategy-specific blob, decoded by the strategy that owns it
	Options map[string]interface{} `json:"options,omitempty" toml:"options" yaml:"options"`
}

// Source is an acquisition target. The engine only ever reads it.
type Source struct {
	ID           string         `json:"id" toml:"id" yaml:"id" validate:"required"`
	Name         string         `json:"name" toml:"name" yaml:"name" validate:"required"`
	Description  string         `json:"description,omitempty" toml:"description" yaml:"description"`
	Active       bool           `json:"active" toml:"active" yaml:"active"`
	LoginURL     string         `json:"loginUrl,omitempty" toml:"login_url" yaml:"loginUrl" validate:"omitempty,url"`
	ListingURL   string         `json:"listingUrl" toml:"listing_url" yaml:"listingUrl" validate:"required,url"`
	AuthMode     AuthMode       `json:"authMode" toml:"auth_mode" yaml:"authMode" validate:"required,oneof=OPEN LOGIN_REQUIRED"`
	FieldMapping FieldMapping   `json:"fieldMapping" toml:"field_mapping" yaml:"fieldMapping"`
	Strategy     StrategyConfig `json:"strategy" toml:"strategy" yaml:"strategy"`
	CredentialID string         `json:"credentialId,omitempty" toml:"credential_id" yaml:"credentialId"`
	Schedule     string         `json:"schedule,omitempty" toml:"schedule" yaml:"schedule"`
	CreatedAt    time.Time      `json:"createdAt" toml:"-" yaml:"-"`
	UpdatedAt    time.Time      `json:"updatedAt" toml:"-" yaml:"-"`
}

var sourceValidator = validator.New()

// Validate checks the source configuration at load time
func (s *Source) Validate() error {
	if err := sourceValidator.Struct(s); err != nil {
		return fmt.Errorf("invalid source %q: %w", s.ID, err)
	}
	if s.AuthMode == AuthModeLoginRequired {
		if s.LoginURL == "" {
			return fmt.Errorf("invalid source %q: login_url is required when auth_mode is %s", s.ID, AuthModeLoginRequired)
		}
		if s.CredentialID == "" {
			return fmt.Errorf("invalid source %q: credential_id is required when auth_mode is %s", s.ID, AuthModeLoginRequired)
		}
	}
	if s.Schedule != "" {
		if _, err := cron.ParseStandard(s.Schedule); err != nil {
			return fmt.Errorf("invalid source %q: schedule %q: %w", s.ID, s.Schedule, err)
		}
	}
	return nil
}

// RequiresLogin reports whether the AUTH stage must succeed for a run to proceed
func (s *Source) RequiresLogin() bool {
	return s.AuthMode == AuthModeLoginRequired
}

// SealedSecret is an AES-GCM ciphertext with its nonce and tag, all hex encoded
type SealedSecret struct {
	Ciphertext string `json:"ciphertext" toml:"ciphertext" yaml:"ciphertext" validate:"required,hexadecimal"`
	IV         string `json:"iv" toml:"iv" yaml:"iv" validate:"required,hexadecimal"`
	AuthTag    string `json:"authTag" toml:"auth_tag" yaml:"authTag" validate:"required,hexadecimal"`
}

// Credential holds the encrypted login for a source. Plaintext never leaves the AUTH stage.
type Credential struct {
	ID        string       `json:"id" toml:"id" yaml:"id" validate:"required"`
	Username  SealedSecret `json:"username" toml:"username" yaml:"username"`
	Password  SealedSecret `json:"password" toml:"password" yaml:"password"`
	CreatedAt time.Time    `json:"createdAt" toml:"-" yaml:"-"`
}

// Validate checks the credential envelope shape
func (c *Credential) Validate() error {
	if err := sourceValidator.Struct(c); err != nil {
		return fmt.Errorf("invalid credential %q: %w", c.ID, err)
	}
	return nil
}
