package strategy

import (
	"fmt"
	"sync"

	"github.com/ternarybob/bidharvest/internal/models"
)

type entry struct {
	build    Builder
	validate OptionsValidator
}

// Registry selects a strategy by source id. Sources without a specialised entry get
// the generic strategy.
type Registry struct {
	mu       sync.RWMutex
	entries  map[string]entry
	fallback entry
}

// NewRegistry creates a registry whose default is the generic strategy
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]entry),
		fallback: entry{
			build:    NewGeneric,
			validate: ValidateGenericOptions,
		},
	}
}

// Register installs a specialised strategy for one source id. validate may be nil.
func (r *Registry) Register(sourceID string, build Builder, validate OptionsValidator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[sourceID] = entry{build: build, validate: validate}
}

// Has reports whether sourceID has a specialised strategy
func (r *Registry) Has(sourceID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[sourceID]
	return ok
}

func (r *Registry) lookup(sourceID string) entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.entries[sourceID]; ok {
		return e
	}
	return r.fallback
}

// Build constructs the strategy for deps.Source
func (r *Registry) Build(deps Deps) (Strategy, error) {
	if deps.Source == nil {
		return nil, fmt.Errorf("strategy: source is required")
	}
	if deps.Session == nil {
		return nil, fmt.Errorf("strategy: session is required")
	}
	return r.lookup(deps.Source.ID).build(deps)
}

// ValidateSource checks the options blob against whichever strategy the source maps to
func (r *Registry) ValidateSource(source *models.Source) error {
	e := r.lookup(source.ID)
	if e.validate == nil {
		return nil
	}
	if err := e.validate(source.Strategy.Options); err != nil {
		return fmt.Errorf("invalid strategy options for source %q: %w", source.ID, err)
	}
	return nil
}
