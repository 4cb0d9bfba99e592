// Package engine drives an extraction strategy through one acquisition run: session
// setup, optional login, paginated listing traversal and per-record detail enrichment.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/bidharvest/internal/browser"
	"github.com/ternarybob/bidharvest/internal/common"
	"github.com/ternarybob/bidharvest/internal/interfaces"
	"github.com/ternarybob/bidharvest/internal/models"
	"github.com/ternarybob/bidharvest/internal/normalizer"
	"github.com/ternarybob/bidharvest/internal/retry"
	"github.com/ternarybob/bidharvest/internal/strategy"
)

// MaxDescriptionLength bounds the description captured from a detail page, in characters
const MaxDescriptionLength = 5000

// DefaultUserAgent is used when neither the source nor the config names one
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

// Config holds run defaults. Non-zero source strategy values take precedence.
type Config struct {
	RateLimit  time.Duration
	Timeout    time.Duration
	MaxRetries int
	UserAgent  string
	RetryBase  time.Duration
}

// DefaultConfig returns the stock run settings
func DefaultConfig() Config {
	return Config{
		RateLimit:  2 * time.Second,
		Timeout:    30 * time.Second,
		MaxRetries: 3,
		UserAgent:  DefaultUserAgent,
		RetryBase:  retry.DefaultBase,
	}
}

// Result is the outcome of a run that was not aborted
type Result struct {
	Records    []*models.RawRecord
	ErrorCount int
	Pages      int
}

// Engine runs acquisitions. It is safe for concurrent use; each Run owns its own session.
type Engine struct {
	launcher    browser.Launcher
	strategies  *strategy.Registry
	credentials interfaces.CredentialStorage
	decrypter   interfaces.CredentialDecrypter
	jobLog      interfaces.JobLogger
	pacer       *browser.HostPacer
	defaults    Config
	logger      arbor.ILogger
	now         func() time.Time
}

// Option customises an Engine
type Option func(*Engine)

// WithClock overrides the clock used for the opened-today filter
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithPacer shares a per-host pacer across runs
func WithPacer(pacer *browser.HostPacer) Option {
	return func(e *Engine) { e.pacer = pacer }
}

// NewEngine creates an engine
func NewEngine(
	launcher browser.Launcher,
	strategies *strategy.Registry,
	credentials interfaces.CredentialStorage,
	decrypter interfaces.CredentialDecrypter,
	jobLog interfaces.JobLogger,
	defaults Config,
	logger arbor.ILogger,
	opts ...Option,
) *Engine {
	e := &Engine{
		launcher:    launcher,
		strategies:  strategies,
		credentials: credentials,
		decrypter:   decrypter,
		jobLog:      jobLog,
		defaults:    defaults,
		logger:      logger,
		now:         time.Now,
	}
	if e.logger == nil {
		e.logger = common.GetLogger()
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// effective merges source overrides onto the defaults
func (e *Engine) effective(source *models.Source) Config {
	cfg := e.defaults
	sc := source.Strategy
	if sc.RateLimitMs > 0 {
		cfg.RateLimit = time.Duration(sc.RateLimitMs) * time.Millisecond
	}
	if sc.TimeoutMs > 0 {
		cfg.Timeout = time.Duration(sc.TimeoutMs) * time.Millisecond
	}
	if sc.MaxRetries > 0 {
		cfg.MaxRetries = sc.MaxRetries
	}
	if sc.UserAgent != "" {
		cfg.UserAgent = sc.UserAgent
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	return cfg
}

// run holds the state of one acquisition
type run struct {
	*Engine
	source   *models.Source
	jobID    string
	cfg      Config
	session  browser.Session
	strategy strategy.Strategy
	result   *Result
}

func (r *run) log(ctx context.Context, level models.LogLevel, msg string, meta map[string]interface{}) {
	if r.jobLog != nil {
		r.jobLog.Log(ctx, r.jobID, level, msg, meta)
	}
}

func (r *run) pause(ctx context.Context) error {
	return retry.Sleep(ctx, r.cfg.RateLimit)
}

// Run acquires today's records from source. Partial failures are counted in
// Result.ErrorCount; only run-level failures are returned as errors.
func (e *Engine) Run(ctx context.Context, source *models.Source, jobID string) (*Result, error) {
	if source == nil {
		return nil, errors.New("engine: source is required")
	}
	r := &run{
		Engine: e,
		source: source,
		jobID:  jobID,
		cfg:    e.effective(source),
		result: &Result{Records: []*models.RawRecord{}},
	}

	r.log(ctx, models.LogLevelInfo, "Initialising browser session", map[string]interface{}{
		"sourceId":  source.ID,
		"timeoutMs": r.cfg.Timeout.Milliseconds(),
	})
	session, err := e.launcher.Launch(ctx, browser.Options{
		UserAgent: r.cfg.UserAgent,
		Timeout:   r.cfg.Timeout,
	})
	if err != nil {
		r.log(ctx, models.LogLevelError, fmt.Sprintf("Browser initialisation failed: %v", err), nil)
		return nil, &FatalInitError{Err: err}
	}
	r.session = browser.Throttle(session, e.pacer)
	defer r.close()

	r.strategy, err = e.strategies.Build(strategy.Deps{
		Source:  source,
		Session: r.session,
		JobID:   jobID,
		JobLog:  e.jobLog,
		Logger:  e.logger,
		Retry:   retry.Policy{MaxAttempts: r.cfg.MaxRetries, Base: r.cfg.RetryBase},
	})
	if err != nil {
		r.log(ctx, models.LogLevelError, fmt.Sprintf("Strategy setup failed: %v", err), nil)
		return nil, &FatalInitError{Err: err}
	}

	if source.RequiresLogin() {
		if err := r.authenticate(ctx); err != nil {
			r.log(ctx, models.LogLevelError, err.Error(), nil)
			return nil, err
		}
	}

	if err := r.traverse(ctx); err != nil {
		r.log(ctx, models.LogLevelError, fmt.Sprintf("Acquisition aborted: %v", err), nil)
		return nil, err
	}

	r.log(ctx, models.LogLevelInfo, fmt.Sprintf("Acquisition finished: %d records, %d errors", len(r.result.Records), r.result.ErrorCount), map[string]interface{}{
		"records": len(r.result.Records),
		"errors":  r.result.ErrorCount,
		"pages":   r.result.Pages,
	})
	return r.result, nil
}

func (r *run) close() {
	if err := r.session.Close(); err != nil {
		r.logger.Warn().Err(err).Str("job_id", r.jobID).Msg("Failed to close browser session")
	}
	r.log(context.Background(), models.LogLevelDebug, "Browser session closed", nil)
}

// authenticate decrypts the credential and performs the strategy login. Plaintext
// lives only inside this call.
func (r *run) authenticate(ctx context.Context) error {
	fail := func(err error) error {
		return &AuthenticationError{SourceID: r.source.ID, Err: err}
	}
	r.log(ctx, models.LogLevelInfo, "Starting authentication", nil)

	if r.credentials == nil || r.decrypter == nil {
		return fail(errors.New("no credential store configured"))
	}
	credential, err := r.credentials.GetCredential(ctx, r.source.CredentialID)
	if err != nil {
		return fail(fmt.Errorf("load credential %s: %w", r.source.CredentialID, err))
	}
	username, err := r.decrypter.Decrypt(credential.Username.Ciphertext, credential.Username.IV, credential.Username.AuthTag)
	if err != nil {
		return fail(fmt.Errorf("decrypt username: %w", err))
	}
	password, err := r.decrypter.Decrypt(credential.Password.Ciphertext, credential.Password.IV, credential.Password.AuthTag)
	if err != nil {
		return fail(fmt.Errorf("decrypt password: %w", err))
	}

	if err := r.session.Navigate(ctx, r.source.LoginURL); err != nil {
		return fail(&TransientNetworkError{Op: "navigate to login page", Err: err})
	}
	if err := r.strategy.PerformLogin(ctx, username, password); err != nil {
		return fail(err)
	}

	r.log(ctx, models.LogLevelInfo, "Authentication successful", nil)
	return nil
}

// traverse walks the listing pages. Only context cancellation is returned; every
// other failure is counted and ends or skips the affected step.
func (r *run) traverse(ctx context.Context) error {
	r.log(ctx, models.LogLevelInfo, fmt.Sprintf("Navigating to listing: %s", r.source.ListingURL), nil)

	policy := retry.Policy{MaxAttempts: r.cfg.MaxRetries, Base: r.cfg.RetryBase}
	err := policy.Do(ctx, r.logger, func(ctx context.Context) error {
		return r.session.Navigate(ctx, r.source.ListingURL)
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.pageFailed(ctx, &PageTransitionError{Page: 1, Err: &TransientNetworkError{Op: "navigate to listing", Err: err}})
		return nil
	}
	if err := r.pause(ctx); err != nil {
		return err
	}

	for page := 1; ; page++ {
		r.result.Pages = page
		r.log(ctx, models.LogLevelInfo, fmt.Sprintf("Scraping page %d", page), nil)

		raws, err := r.strategy.ExtractListing(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.pageFailed(ctx, &PageTransitionError{Page: page, Err: err})
			return nil
		}

		retained := r.openedToday(raws)
		r.log(ctx, models.LogLevelInfo, fmt.Sprintf("Found %d bids from today on page %d", len(retained), page), map[string]interface{}{
			"page":     page,
			"listed":   len(raws),
			"retained": len(retained),
		})

		for _, raw := range retained {
			if err := r.enrich(ctx, raw); err != nil {
				return err
			}
		}

		more, err := r.strategy.HasNextPage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.pageFailed(ctx, &PageTransitionError{Page: page + 1, Err: err})
			return nil
		}
		if !more {
			return nil
		}
		if err := r.strategy.AdvancePage(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.pageFailed(ctx, &PageTransitionError{Page: page + 1, Err: err})
			return nil
		}
		if err := r.pause(ctx); err != nil {
			return err
		}
	}
}

func (r *run) pageFailed(ctx context.Context, err *PageTransitionError) {
	r.result.ErrorCount++
	r.log(ctx, models.LogLevelError, fmt.Sprintf("Failed to scrape page %d: %v", err.Page, err.Err), map[string]interface{}{
		"page": err.Page,
	})
}

// enrich fetches one record's detail page. Failures are isolated to the record;
// only context cancellation is returned.
func (r *run) enrich(ctx context.Context, raw *models.RawRecord) error {
	full, err := r.strategy.ExtractDetail(ctx, raw)
	if err == nil && full == nil {
		err = errNoDetail
	}
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		failure := &ExtractionError{Title: raw.Title, DetailURL: raw.DetailURL, Err: err}
		r.result.ErrorCount++
		r.log(ctx, models.LogLevelError, failure.Error(), map[string]interface{}{
			"detailUrl": raw.DetailURL,
		})
	} else {
		full.Description = truncate(full.Description, MaxDescriptionLength)
		r.result.Records = append(r.result.Records, full)
	}
	if raw.DetailURL == "" {
		return nil
	}
	return r.pause(ctx)
}

// openedToday keeps records whose open date falls on the current local calendar day
func (r *run) openedToday(raws []*models.RawRecord) []*models.RawRecord {
	path := r.source.FieldMapping.OpenDate
	if path == "" {
		path = "openDate"
	}
	today := r.now()
	kept := make([]*models.RawRecord, 0, len(raws))
	for _, raw := range raws {
		if raw == nil {
			continue
		}
		value, ok := normalizer.ExtractField(raw.Document(), path)
		if !ok {
			continue
		}
		opened, ok := normalizer.ParseDate(value)
		if ok && normalizer.SameDay(opened, today) {
			kept = append(kept, raw)
		}
	}
	return kept
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max])
}
