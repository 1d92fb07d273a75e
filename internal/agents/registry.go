package agents

import (
	"fmt"
	"sort"
	"sync"

	smmerrors "smmswarm/internal/errors"
)

// Registry maps agent types to agents.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]Agent
}

// NewRegistry returns a registry holding the given agents.
func NewRegistry(agents ...Agent) *Registry {
	r := &Registry{agents: make(map[string]Agent, len(agents))}
	for _, a := range agents {
		r.Register(a)
	}
	return r
}

// DefaultRegistry wires the five domain agents to gateway, each defaulting to
// model.
func DefaultRegistry(gateway Invoker, model string) *Registry {
	return NewRegistry(
		NewStrategyAgent(gateway, model),
		NewContentAgent(gateway, model),
		NewAnalyticsAgent(gateway, model),
		NewPromoAgent(gateway, model),
		NewTrendsAgent(gateway, model),
	)
}

// Register adds or replaces the agent for its type.
func (r *Registry) Register(a Agent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[a.Type()] = a
}

// Get returns the agent for agentType or an error wrapping ErrUnknownAgent.
func (r *Registry) Get(agentType string) (Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[agentType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", smmerrors.ErrUnknownAgent, agentType)
	}
	return a, nil
}

// Has reports whether agentType is registered.
func (r *Registry) Has(agentType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.agents[agentType]
	return ok
}

// Types lists the registered agent types in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.agents))
	for t := range r.agents {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
