package spi

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Loader finds test classes by name.
type Loader interface {
	LoadTestClass(name string) (*TestClass, error)
}

// RunnerProvider is implemented by loaders that supply their own method runner.
type RunnerProvider interface {
	MethodRunner() MethodRunner
}

type loaderKey struct{}

// WithLoader scopes l as the active loader for everything run under ctx.
func WithLoader(ctx context.Context, l Loader) context.Context {
	return context.WithValue(ctx, loaderKey{}, l)
}

// LoaderFrom returns the loader of the current invocation, if any
func LoaderFrom(ctx context.Context) (Loader, bool) {
	l, ok := ctx.Value(loaderKey{}).(Loader)
	return l, ok && l != nil
}

// DiscoverRunner returns the runner supplied by the loader, or fallback.
func DiscoverRunner(l Loader, fallback MethodRunner) MethodRunner {
	if p, ok := l.(RunnerProvider); ok {
		if r := p.MethodRunner(); r != nil {
			return r
		}
	}
	return fallback
}

// Catalog is an in-memory set of test classes.
type Catalog struct {
	mu      sync.RWMutex
	classes map[string]*TestClass
}

var _ Loader = (*Catalog)(nil)

// NewCatalog creates an empty Catalog
func NewCatalog() *Catalog {
	return &Catalog{classes: make(map[string]*TestClass)}
}

// Register adds tc, rejecting invalid and duplicate classes
func (c *Catalog) Register(tc *TestClass) error {
	if err := tc.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.classes[tc.Name]; exists {
		return fmt.Errorf("test class %s already registered", tc.Name)
	}
	c.classes[tc.Name] = tc
	return nil
}

// MustRegister panics if any class is invalid or already registered.
func (c *Catalog) MustRegister(classes ...*TestClass) *Catalog {
	for _, tc := range classes {
		if err := c.Register(tc); err != nil {
			panic(err)
		}
	}
	return c
}

// LoadTestClass returns the class registered under name
func (c *Catalog) LoadTestClass(name string) (*TestClass, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	tc, ok := c.classes[name]
	if !ok {
		return nil, &ClassNotFoundError{Name: name}
	}
	return tc, nil
}

// Names returns the registered class names, sorted
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.classes))
	for n := range c.classes {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
