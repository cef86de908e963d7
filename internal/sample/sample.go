// Package sample holds the test classes shipped with op-harness. They are
// served by `op-harness serve` and driven by `op-harness run`.
package sample

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-harness/archive"
	"github.com/ethereum-optimism/infra/op-harness/container"
	"github.com/ethereum-optimism/infra/op-harness/enrich"
	"github.com/ethereum-optimism/infra/op-harness/spi"
	"github.com/ethereum-optimism/infra/op-harness/types"
)

const (
	SimpleServiceTest = "sample.SimpleServiceTestCase"
	FailingTest       = "sample.FailingTestCase"
	ArchiveTest       = "sample.ArchiveTestCase"
	EnrichedTest      = "sample.EnrichedTestCase"

	// ExtraArchive is the archive ArchiveTest asks the client for.
	ExtraArchive = "extra.jar"
	// ExtraResource is the entry ExtraArchive carries.
	ExtraResource = "config/extra.properties"
	ExtraContent  = "greeting=hello"
)

// Greeter is the "service" deployed with the sample bundles.
func Greeter(name string) string {
	return "Hello, " + name
}

// Catalog returns a catalog with every sample class registered.
func Catalog() *spi.Catalog {
	return spi.NewCatalog().MustRegister(Classes()...)
}

// Classes returns every sample test class
func Classes() []*spi.TestClass {
	return []*spi.TestClass{
		simpleService(),
		failing(),
		archiveClass(),
		enriched(),
	}
}

func deployment(name, class string) func() (*archive.Archive, error) {
	return func() (*archive.Archive, error) {
		return archive.New(name+".jar").
			SetHeader(archive.HeaderSymbolicName, name).
			SetHeader(archive.HeaderVersion, "1.0.0").
			AddTestClasses(class).
			AddString("sample/"+name+".txt", class), nil
	}
}

func simpleService() *spi.TestClass {
	return &spi.TestClass{
		Name: SimpleServiceTest,
		Methods: map[string]spi.TestFunc{
			"testDeployedService": func(t *spi.T) error {
				require.Equal(t, "Hello, harness", Greeter("harness"))
				return nil
			},
			"testExecutionContext": func(t *spi.T) error {
				ec := t.ExecutionContext()
				require.NotNil(t, ec)
				require.Equal(t, SimpleServiceTest, ec.TestClass)
				t.Logf("running in %s mode on %s", ec.Mode, ec.ServerID)
				return nil
			},
		},
		Deployment: deployment("sample-simple", SimpleServiceTest),
	}
}

func failing() *spi.TestClass {
	return &spi.TestClass{
		Name: FailingTest,
		Methods: map[string]spi.TestFunc{
			"testAssertionFails": func(t *spi.T) error {
				require.Equal(t, "Hello, world", Greeter("harness"))
				return nil
			},
			"testReturnsError": func(t *spi.T) error {
				return errors.New("service unavailable")
			},
			"testPanics": func(t *spi.T) error {
				var m map[string]int
				m["boom"]++
				return nil
			},
		},
		Deployment: deployment("sample-failing", FailingTest),
	}
}

func archiveClass() *spi.TestClass {
	return &spi.TestClass{
		Name: ArchiveTest,
		Methods: map[string]spi.TestFunc{
			"testExtraArchive": func(t *spi.T) error {
				data, err := t.RequestResource(ExtraArchive)
				if err != nil {
					return err
				}
				if data == nil {
					return fmt.Errorf("no answer for %s", ExtraArchive)
				}
				extra, err := archive.ImportZip(ExtraArchive, data)
				if err != nil {
					return err
				}
				content, ok := extra.Get(ExtraResource)
				require.True(t, ok, "missing %s", ExtraResource)
				require.Equal(t, ExtraContent, strings.TrimSpace(string(content)))
				return nil
			},
		},
		ArchiveProvider: func(_ context.Context, name string) (*archive.Archive, error) {
			if name != ExtraArchive {
				return nil, fmt.Errorf("unknown archive %s", name)
			}
			return archive.New(ExtraArchive).AddString(ExtraResource, ExtraContent), nil
		},
		Deployment: deployment("sample-archive", ArchiveTest),
	}
}

func enriched() *spi.TestClass {
	return &spi.TestClass{
		Name: EnrichedTest,
		Methods: map[string]spi.TestFunc{
			"testBundleActive": func(t *spi.T) error {
				v, ok := t.Value(enrich.CapabilityContainer)
				require.True(t, ok)
				c := v.(container.Container)

				v, ok = t.Value(enrich.CapabilityBundle)
				require.True(t, ok)
				h := v.(container.Handle)

				state, err := c.State(t.Context(), h)
				if err != nil {
					return err
				}
				require.Equal(t, container.StateActive, state)
				require.Equal(t, "sample-enriched", h.Name)
				return nil
			},
			"testExecutionContextBound": func(t *spi.T) error {
				v, ok := t.Value(enrich.CapabilityExecutionContext)
				require.True(t, ok)
				ec := v.(*types.ExecutionContext)
				require.Equal(t, "testExecutionContextBound", ec.TestMethod)
				return nil
			},
		},
		Deployment: deployment("sample-enriched", EnrichedTest),
		Needs: []enrich.Capability{
			enrich.CapabilityContainer,
			enrich.CapabilityBundle,
			enrich.CapabilityExecutionContext,
		},
	}
}
