package processor

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/ecomkit/saferpay-gateway/internal/config"
	"github.com/ecomkit/saferpay-gateway/internal/ports"
	"github.com/ecomkit/saferpay-gateway/internal/saferpay"
)

// Deps are the collaborators a processor factory may wire in.
type Deps struct {
	Repo     ports.TransactionRepository
	Gateway  ports.GatewayClient
	Codec    *saferpay.Codec
	Checkout config.CheckoutConfig
	Logger   *slog.Logger
}

// Factory builds a processor instance from its dependencies.
type Factory func(deps Deps) Processor

// Registry maps processor names to factories. Registration happens at
// construction time; no dynamic discovery.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

func (r *Registry) Register(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// New builds the named processor or fails when the name is unknown.
func (r *Registry) New(name string, deps Deps) (Processor, error) {
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown payment processor: %q", name)
	}
	return factory(deps), nil
}

// Names lists the registered processors.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	return names
}

// DefaultRegistry returns a registry with the built-in processors.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(Name, func(deps Deps) Processor {
		return NewSaferpay(deps.Repo, deps.Gateway, deps.Codec, deps.Checkout, deps.Logger)
	})
	return r
}
