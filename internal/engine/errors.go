package engine

import (
	"errors"
	"fmt"
)

// errNoDetail is recorded when a strategy reports success without a detail record
var errNoDetail = errors.New("strategy returned no detail record")

// FatalInitError aborts a run when the browser session or strategy cannot be set up
type FatalInitError struct {
	Err error
}

func (e *FatalInitError) Error() string {
	return fmt.Sprintf("browser initialisation failed: %v", e.Err)
}

func (e *FatalInitError) Unwrap() error { return e.Err }

// AuthenticationError aborts a run whose source requires a login that could not be performed
type AuthenticationError struct {
	SourceID string
	Err      error
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("authentication failed for source %s: %v", e.SourceID, e.Err)
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

// PageTransitionError covers one listing page that could not be reached or read.
// It stops pagination; records gathered so far are kept.
type PageTransitionError struct {
	Page int
	Err  error
}

func (e *PageTransitionError) Error() string {
	return fmt.Sprintf("page %d: %v", e.Page, e.Err)
}

func (e *PageTransitionError) Unwrap() error { return e.Err }

// ExtractionError covers one record's detail fetch. The run continues.
type ExtractionError struct {
	Title     string
	DetailURL string
	Err       error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("detail extraction failed for %q: %v", e.Title, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// TransientNetworkError marks a single operation failure that may succeed on retry
type TransientNetworkError struct {
	Op  string
	Err error
}

func (e *TransientNetworkError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransientNetworkError) Unwrap() error { return e.Err }
