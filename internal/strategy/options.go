package strategy

import (
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"
)

// Default locator chains, evaluated in order with first-success semantics.
// Selectors starting with "/" or "(" are XPath, everything else is CSS.
var (
	DefaultUsernameSelectors = []string{
		`input[name="username"]`,
		`input[name="email"]`,
		`input[name="user"]`,
		`input[type="email"]`,
		`#username`,
		`#email`,
	}
	DefaultPasswordSelectors = []string{
		`input[name="password"]`,
		`input[type="password"]`,
		`#password`,
	}
	DefaultSubmitSelectors = []string{
		`button[type="submit"]`,
		`input[type="submit"]`,
		`//button[contains(normalize-space(.), 'Login')]`,
		`//button[contains(normalize-space(.), 'Sign In')]`,
	}
	DefaultRowSelectors = []string{
		`table tbody tr`,
		`table tr`,
		`div[role="row"]`,
		`ul li`,
		`.bid-item`,
		`.listing-item`,
	}
	DefaultNextSelectors = []string{
		`//a[contains(normalize-space(.), 'Next')]`,
		`//button[contains(normalize-space(.), 'Next')]`,
		`a[aria-label="Next"]`,
		`button[aria-label="Next"]`,
		`.pagination .next`,
		`.pager .next`,
	}
)

const (
	defaultCandidateTimeout = 5 * time.Second
	defaultDetailSelector   = "body"
)

// GenericOptions is the decoded form of a source's strategy options blob
type GenericOptions struct {
	UsernameSelectors  []string `mapstructure:"username_selectors"`
	PasswordSelectors  []string `mapstructure:"password_selectors"`
	SubmitSelectors    []string `mapstructure:"submit_selectors"`
	RowSelectors       []string `mapstructure:"row_selectors"`
	NextSelectors      []string `mapstructure:"next_selectors"`
	DetailSelector     string   `mapstructure:"detail_selector"`
	CandidateTimeoutMs int      `mapstructure:"candidate_timeout_ms"`
}

// DecodeGenericOptions decodes the blob and fills defaults. Unknown keys are an error so
// typos surface when the source is loaded rather than mid-run.
func DecodeGenericOptions(blob map[string]interface{}) (GenericOptions, error) {
	var opts GenericOptions
	if len(blob) > 0 {
		decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			Result:           &opts,
			WeaklyTypedInput: true,
			ErrorUnused:      true,
		})
		if err != nil {
			return opts, err
		}
		if err := decoder.Decode(blob); err != nil {
			return opts, err
		}
	}

	if opts.CandidateTimeoutMs < 0 {
		return opts, fmt.Errorf("candidate_timeout_ms must be non-negative, got %d", opts.CandidateTimeoutMs)
	}
	if len(opts.UsernameSelectors) == 0 {
		opts.UsernameSelectors = DefaultUsernameSelectors
	}
	if len(opts.PasswordSelectors) == 0 {
		opts.PasswordSelectors = DefaultPasswordSelectors
	}
	if len(opts.SubmitSelectors) == 0 {
		opts.SubmitSelectors = DefaultSubmitSelectors
	}
	if len(opts.RowSelectors) == 0 {
		opts.RowSelectors = DefaultRowSelectors
	}
	if len(opts.NextSelectors) == 0 {
		opts.NextSelectors = DefaultNextSelectors
	}
	if opts.DetailSelector == "" {
		opts.DetailSelector = defaultDetailSelector
	}
	return opts, nil
}

// ValidateGenericOptions is the load-time check for the generic strategy
func ValidateGenericOptions(blob map[string]interface{}) error {
	_, err := DecodeGenericOptions(blob)
	return err
}

func (o GenericOptions) candidateTimeout() time.Duration {
	if o.CandidateTimeoutMs > 0 {
		return time.Duration(o.CandidateTimeoutMs) * time.Millisecond
	}
	return defaultCandidateTimeout
}
