// Package enrich binds runtime-provided values to test classes that declare
// they need them.
package enrich

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Capability names a value a test class may ask for.
type Capability string

const (
	CapabilityContainer         Capability = "container"
	CapabilityBundle            Capability = "bundle"
	CapabilityExecutionContext  Capability = "execution-context"
	CapabilityResourceRequester Capability = "resource-requester"
)

// Binder produces the value for a capability in the current invocation.
type Binder func(ctx context.Context) (any, error)

// Values holds the resolved capabilities of one invocation.
type Values map[Capability]any

// MissingCapabilityError is returned when nothing binds a needed capability
type MissingCapabilityError struct {
	Capability Capability
}

func (e *MissingCapabilityError) Error() string {
	return fmt.Sprintf("no binder registered for capability %q", e.Capability)
}

// Registry maps capabilities to their binders
type Registry struct {
	mu      sync.RWMutex
	binders map[Capability]Binder
}

// NewRegistry creates an empty Registry
func NewRegistry() *Registry {
	return &Registry{binders: make(map[Capability]Binder)}
}

// Register adds or replaces the binder for c.
func (r *Registry) Register(c Capability, b Binder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.binders[c] = b
}

// RegisterValue binds c to a fixed value.
func (r *Registry) RegisterValue(c Capability, v any) {
	r.Register(c, func(context.Context) (any, error) { return v, nil })
}

// Capabilities returns the registered capabilities, sorted
func (r *Registry) Capabilities() []Capability {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Capability, 0, len(r.binders))
	for c := range r.binders {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Resolve runs the binder of every needed capability once.
func (r *Registry) Resolve(ctx context.Context, needs []Capability) (Values, error) {
	values := make(Values, len(needs))
	if len(needs) == 0 {
		return values, nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range needs {
		if _, done := values[c]; done {
			continue
		}
		b, ok := r.binders[c]
		if !ok {
			return nil, &MissingCapabilityError{Capability: c}
		}
		v, err := b(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", c, err)
		}
		values[c] = v
	}
	return values, nil
}
