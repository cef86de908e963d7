// Package spi defines how test classes are described, found and executed
// inside the target.
package spi

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/ethereum-optimism/infra/op-harness/archive"
	"github.com/ethereum-optimism/infra/op-harness/enrich"
)

// TestFunc is the body of a test method. Returning an error fails the method.
type TestFunc func(t *T) error

// ArchiveProvider builds a named archive on the client when a running test
// asks for it.
type ArchiveProvider func(ctx context.Context, name string) (*archive.Archive, error)

// TestClass groups test methods under a class name.
type TestClass struct {
	Name    string
	Methods map[string]TestFunc

	// ArchiveProvider is optional. Classes that set it can request extra
	// archives from the client while a method runs.
	ArchiveProvider ArchiveProvider

	// Deployment is optional. It builds the archive that is deployed into the
	// container before the class's methods run.
	Deployment func() (*archive.Archive, error)

	// Needs lists the capabilities bound before every method.
	Needs []enrich.Capability
}

func (c *TestClass) HasArchiveProvider() bool {
	return c != nil && c.ArchiveProvider != nil
}

// MethodNames returns the method names in sorted order.
func (c *TestClass) MethodNames() []string {
	names := make([]string, 0, len(c.Methods))
	for n := range c.Methods {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (c *TestClass) Validate() error {
	if c == nil {
		return errors.New("test class is nil")
	}
	if c.Name == "" {
		return errors.New("test class has no name")
	}
	if len(c.Methods) == 0 {
		return fmt.Errorf("test class %s has no methods", c.Name)
	}
	for name, fn := range c.Methods {
		if name == "" {
			return fmt.Errorf("test class %s has a method without a name", c.Name)
		}
		if fn == nil {
			return fmt.Errorf("test method %s.%s has no body", c.Name, name)
		}
	}
	return nil
}
