// File: internal/registry/registry.go
// Description: Owns every instantiated provider and the single active-provider
// pointer. Switching is synchronous and takes effect for the next schema
// generation; it never retroactively alters the turn that dispatched it.
package registry

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/pilot-cli/api/schemas"
)

// Registry holds all registered providers behind the schemas.Provider
// interface, never the concrete type.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]schemas.Provider
	activeID  string
	log       *zap.Logger
}

// New creates an empty registry.
func New(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		providers: make(map[string]schemas.Provider),
		log:       logger.Named("registry"),
	}
}

// Register adds a provider. The first registered provider becomes active
// unless SetActive has already been called.
func (r *Registry) Register(p schemas.Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.providers[p.ID()] = p
	if r.activeID == "" {
		r.activeID = p.ID()
	}
	r.log.Info("Provider registered", zap.String("provider", p.ID()))
}

// Active returns the currently active provider. At most one provider is
// active at any time.
func (r *Registry) Active() schemas.Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.providers[r.activeID]
}

// ActiveID returns the active provider's identifier.
func (r *Registry) ActiveID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.activeID
}

// Switch makes the named provider active. An unregistered identifier fails
// with *schemas.UnknownProviderError and leaves the active pointer unchanged.
func (r *Registry) Switch(id string) (schemas.Provider, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.providers[id]
	if !ok {
		return nil, &schemas.UnknownProviderError{ID: id, Registered: r.idsLocked()}
	}

	r.log.Info("Active provider switched",
		zap.String("from", r.activeID),
		zap.String("to", id))
	r.activeID = id
	return p, nil
}

// IDs returns the sorted identifiers of every registered provider. Used to
// build the switch variant's enumerated parameter.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.idsLocked()
}

func (r *Registry) idsLocked() []string {
	ids := make([]string, 0, len(r.providers))
	for id := range r.providers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Get returns a registered provider by identifier.
func (r *Registry) Get(id string) (schemas.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[id]
	if !ok {
		return nil, &schemas.UnknownProviderError{ID: id, Registered: r.idsLocked()}
	}
	return p, nil
}

// CloseAll releases every provider's external resources. In-flight provider
// operations are awaited or cancelled through ctx so the process never leaks
// open sessions or dangling remote connections.
func (r *Registry) CloseAll(ctx context.Context) error {
	r.mu.RLock()
	providers := make([]schemas.Provider, 0, len(r.providers))
	for _, p := range r.providers {
		providers = append(providers, p)
	}
	r.mu.RUnlock()

	g, ctx := errgroup.WithContext(ctx)
	for _, p := range providers {
		g.Go(func() error {
			if err := p.Close(ctx); err != nil {
				r.log.Warn("Provider close failed",
					zap.String("provider", p.ID()), zap.Error(err))
				return err
			}
			return nil
		})
	}
	return g.Wait()
}
