package agent

import (
	"context"
	"fmt"

	"github.com/sweetpotato0/chatforge/provider"
	"github.com/sweetpotato0/chatforge/store"
)

// Provider routes completion requests to resident runtimes. It implements
// provider.CompletionProvider; the personality hash in the request metadata
// selects the runtime, bootstrapping it on first sight.
type Provider struct {
	store    store.Store
	registry *Registry
	config   *RuntimeConfig
}

// NewProvider creates the runtime-backed provider.
func NewProvider(st store.Store, cfg *RuntimeConfig) *Provider {
	if cfg == nil {
		cfg = DefaultRuntimeConfig()
	}
	return &Provider{
		store:    st,
		registry: NewRegistry(),
		config:   cfg,
	}
}

// Complete implements provider.CompletionProvider.
func (p *Provider) Complete(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	if req == nil {
		return nil, fmt.Errorf("completion request cannot be nil")
	}
	hash := req.Meta.AgentID
	if hash == "" {
		return nil, fmt.Errorf("request carries no personality hash")
	}

	runtime, err := p.registry.GetOrCreate(hash, func() (*Runtime, error) {
		rec, err := p.store.FindPersonalityByHash(ctx, hash)
		if err != nil {
			return nil, fmt.Errorf("load personality for runtime: %w", err)
		}
		return NewRuntime(ctx, rec, p.config)
	})
	if err != nil {
		return nil, err
	}
	return runtime.HandleMessage(ctx, req)
}
