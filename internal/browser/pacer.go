package browser

import (
	"context"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// HostPacer spaces out requests to the same host across every session in the process,
// so two workers scraping one portal cannot double its load.
type HostPacer struct {
	interval time.Duration
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewHostPacer creates a pacer allowing one request per interval per host.
// A non-positive interval disables pacing.
func NewHostPacer(interval time.Duration) *HostPacer {
	return &HostPacer{
		interval: interval,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Wait blocks until a request to rawURL's host is allowed
func (p *HostPacer) Wait(ctx context.Context, rawURL string) error {
	if p == nil || p.interval <= 0 {
		return nil
	}
	host := hostOf(rawURL)
	if host == "" {
		return nil
	}

	p.mu.Lock()
	limiter, ok := p.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(p.interval), 1)
		p.limiters[host] = limiter
	}
	p.mu.Unlock()

	return limiter.Wait(ctx)
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Host
}

// Throttle wraps a session so every navigation-causing call waits on the pacer first
func Throttle(session Session, pacer *HostPacer) Session {
	if pacer == nil {
		return session
	}
	return &throttledSession{Session: session, pacer: pacer}
}

type throttledSession struct {
	Session
	pacer   *HostPacer
	lastURL string
}

func (t *throttledSession) Navigate(ctx context.Context, rawURL string) error {
	if err := t.pacer.Wait(ctx, rawURL); err != nil {
		return err
	}
	t.lastURL = rawURL
	return t.Session.Navigate(ctx, rawURL)
}

func (t *throttledSession) Back(ctx context.Context) error {
	if err := t.pacer.Wait(ctx, t.lastURL); err != nil {
		return err
	}
	return t.Session.Back(ctx)
}

func (t *throttledSession) Click(ctx context.Context, selector string) error {
	if err := t.pacer.Wait(ctx, t.lastURL); err != nil {
		return err
	}
	return t.Session.Click(ctx, selector)
}
