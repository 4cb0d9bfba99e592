package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"
)

// ChromeConfig holds process-level flags for launched browsers
type ChromeConfig struct {
	Headless       bool
	NoSandbox      bool
	DisableGPU     bool
	ExecPath       string
	StartupTimeout time.Duration
}

// ChromeLauncher starts one headless Chrome process per session so runs never share
// cookies, storage or navigation history.
type ChromeLauncher struct {
	config ChromeConfig
	logger arbor.ILogger
}

// NewChromeLauncher creates a launcher
func NewChromeLauncher(config ChromeConfig, logger arbor.ILogger) *ChromeLauncher {
	if config.StartupTimeout <= 0 {
		config.StartupTimeout = 30 * time.Second
	}
	return &ChromeLauncher{config: config, logger: logger}
}

// Launch allocates a browser, opens a tab and checks it responds
func (l *ChromeLauncher) Launch(ctx context.Context, opts Options) (Session, error) {
	startTime := time.Now()

	allocatorOpts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", l.config.Headless),
		chromedp.Flag("disable-gpu", l.config.DisableGPU),
		chromedp.Flag("no-sandbox", l.config.NoSandbox),
		chromedp.Flag("disable-setuid-sandbox", l.config.NoSandbox),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	if opts.UserAgent != "" {
		allocatorOpts = append(allocatorOpts, chromedp.UserAgent(opts.UserAgent))
	}
	if l.config.ExecPath != "" {
		allocatorOpts = append(allocatorOpts, chromedp.ExecPath(l.config.ExecPath))
	}

	allocatorCtx, allocatorCancel := chromedp.NewExecAllocator(context.Background(), allocatorOpts...)
	browserCtx, browserCancel := chromedp.NewContext(allocatorCtx)

	// The first Run allocates the browser and must use the long-lived context,
	// otherwise the process dies with the startup deadline.
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocatorCancel()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}

	testCtx, testCancel := context.WithTimeout(browserCtx, l.config.StartupTimeout)
	defer testCancel()
	stop := context.AfterFunc(ctx, testCancel)
	defer stop()

	if err := chromedp.Run(testCtx, chromedp.Navigate("about:blank")); err != nil {
		browserCancel()
		allocatorCancel()
		return nil, fmt.Errorf("browser failed startup test: %w", err)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	l.logger.Debug().
		Dur("startup_time", time.Since(startTime)).
		Dur("operation_timeout", timeout).
		Bool("headless", l.config.Headless).
		Msg("Browser session started")

	return &chromeSession{
		ctx:             browserCtx,
		browserCancel:   browserCancel,
		allocatorCancel: allocatorCancel,
		timeout:         timeout,
		logger:          l.logger,
	}, nil
}

type chromeSession struct {
	ctx             context.Context
	browserCancel   context.CancelFunc
	allocatorCancel context.CancelFunc
	timeout         time.Duration
	logger          arbor.ILogger
	closeOnce       sync.Once
}

// run executes actions under the per-operation timeout while still honouring the
// caller's context.
func (s *chromeSession) run(ctx context.Context, actions ...chromedp.Action) error {
	opCtx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(opCtx, actions...)
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(opCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s: %v", ErrOperationTimeout, s.timeout, err)
	}
	return err
}

func by(selector string) chromedp.QueryOption {
	if IsXPath(selector) {
		return chromedp.BySearch
	}
	return chromedp.ByQuery
}

func (s *chromeSession) Navigate(ctx context.Context, url string) error {
	return s.run(ctx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
}

func (s *chromeSession) Back(ctx context.Context) error {
	return s.run(ctx,
		chromedp.NavigateBack(),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
}

func (s *chromeSession) Fill(ctx context.Context, selector, value string) error {
	if err := s.requireNode(ctx, selector); err != nil {
		return err
	}
	return s.run(ctx,
		chromedp.SetValue(selector, "", by(selector)),
		chromedp.SendKeys(selector, value, by(selector)),
	)
}

func (s *chromeSession) Click(ctx context.Context, selector string) error {
	if err := s.requireNode(ctx, selector); err != nil {
		return err
	}
	return s.run(ctx,
		chromedp.Click(selector, by(selector), chromedp.NodeVisible),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
}

func (s *chromeSession) Exists(ctx context.Context, selector string) (bool, error) {
	var nodes []*cdp.Node
	opt := by(selector)
	if !IsXPath(selector) {
		opt = chromedp.ByQueryAll
	}
	if err := s.run(ctx, chromedp.Nodes(selector, &nodes, opt, chromedp.AtLeast(0))); err != nil {
		return false, err
	}
	return len(nodes) > 0, nil
}

func (s *chromeSession) Attribute(ctx context.Context, selector, name string) (string, bool, error) {
	if err := s.requireNode(ctx, selector); err != nil {
		return "", false, err
	}
	var value string
	var ok bool
	if err := s.run(ctx, chromedp.AttributeValue(selector, name, &value, &ok, by(selector))); err != nil {
		return "", false, err
	}
	return value, ok, nil
}

func (s *chromeSession) Text(ctx context.Context, selector string) (string, error) {
	if err := s.requireNode(ctx, selector); err != nil {
		return "", err
	}
	var text string
	if err := s.run(ctx, chromedp.Text(selector, &text, by(selector))); err != nil {
		return "", err
	}
	return text, nil
}

func (s *chromeSession) HTML(ctx context.Context) (string, error) {
	var html string
	if err := s.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", err
	}
	return html, nil
}

func (s *chromeSession) URL(ctx context.Context) (string, error) {
	var location string
	if err := s.run(ctx, chromedp.Location(&location)); err != nil {
		return "", err
	}
	return location, nil
}

// Close tears down the tab and the browser process. Safe to call more than once.
func (s *chromeSession) Close() error {
	s.closeOnce.Do(func() {
		s.browserCancel()
		s.allocatorCancel()
		s.logger.Debug().Msg("Browser session closed")
	})
	return nil
}

// requireNode fails fast instead of letting chromedp wait out the full timeout for a
// selector that is not on the page.
func (s *chromeSession) requireNode(ctx context.Context, selector string) error {
	ok, err := s.Exists(ctx, selector)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrElementNotFound, selector)
	}
	return nil
}
