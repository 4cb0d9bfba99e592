// Package browser owns the navigable browser session a single acquisition run drives.
package browser

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrOperationTimeout marks a single navigation or interaction that ran past the
// per-operation timeout. It is recoverable at the call site.
var ErrOperationTimeout = errors.New("browser operation timed out")

// ErrElementNotFound is returned when a locator matches nothing
var ErrElementNotFound = errors.New("element not found")

// Options configure one isolated session
type Options struct {
	UserAgent string
	Timeout   time.Duration
}

// Session is an exclusively owned browser tab. It is not safe for concurrent use;
// a run drives it strictly sequentially.
type Session interface {
	Navigate(ctx context.Context, url string) error
	Back(ctx context.Context) error
	Fill(ctx context.Context, selector, value string) error
	Click(ctx context.Context, selector string) error
	Exists(ctx context.Context, selector string) (bool, error)
	Attribute(ctx context.Context, selector, name string) (string, bool, error)
	Text(ctx context.Context, selector string) (string, error)
	HTML(ctx context.Context) (string, error)
	URL(ctx context.Context) (string, error)
	Close() error
}

// Launcher acquires fresh sessions
type Launcher interface {
	Launch(ctx context.Context, opts Options) (Session, error)
}

// IsXPath reports whether a locator should be evaluated as XPath rather than CSS
func IsXPath(selector string) bool {
	s := strings.TrimSpace(selector)
	return strings.HasPrefix(s, "/") || strings.HasPrefix(s, "(")
}
