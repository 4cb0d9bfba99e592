// Package strategy defines the capability set the acquisition engine drives against a
// source, plus the generic fallback implementation.
package strategy

import (
	"context"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/bidharvest/internal/browser"
	"github.com/ternarybob/bidharvest/internal/interfaces"
	"github.com/ternarybob/bidharvest/internal/models"
	"github.com/ternarybob/bidharvest/internal/retry"
)

// Strategy knows how to interact with one source's pages. All methods operate on the
// session the strategy was built with and are called strictly sequentially.
type Strategy interface {
	PerformLogin(ctx context.Context, username, password string) error
	ExtractListing(ctx context.Context) ([]*models.RawRecord, error)
	ExtractDetail(ctx context.Context, record *models.RawRecord) (*models.RawRecord, error)
	HasNextPage(ctx context.Context) (bool, error)
	AdvancePage(ctx context.Context) error
}

// Deps is everything a strategy needs for one run
type Deps struct {
	Source  *models.Source
	Session browser.Session
	JobID   string
	JobLog  interfaces.JobLogger
	Logger  arbor.ILogger
	Retry   retry.Policy
}

func (d Deps) log(ctx context.Context, level models.LogLevel, msg string, meta map[string]interface{}) {
	if d.JobLog != nil {
		d.JobLog.Log(ctx, d.JobID, level, msg, meta)
	}
}

// Builder constructs a strategy for a run
type Builder func(deps Deps) (Strategy, error)

// OptionsValidator checks a source's strategy options blob at load time
type OptionsValidator func(options map[string]interface{}) error
