package harness

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum-optimism/optimism/op-service/testlog"
	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-harness/archive"
	"github.com/ethereum-optimism/infra/op-harness/container"
	"github.com/ethereum-optimism/infra/op-harness/internal/sample"
	"github.com/ethereum-optimism/infra/op-harness/spi"
	"github.com/ethereum-optimism/infra/op-harness/transport"
	"github.com/ethereum-optimism/infra/op-harness/types"
)

func testConfig(t *testing.T, mode types.ExecutionMode) *Config {
	cfg := DefaultConfig()
	cfg.Log = testlog.Logger(t, log.LevelInfo)
	cfg.Mode = mode
	cfg.Concurrency = 4
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0
	cfg.Server.ResourceTimeout = TOMLDuration(5 * time.Second)
	cfg.Client.ListenerCloseTimeout = TOMLDuration(time.Second)
	return cfg
}

// passingCatalog holds every sample class except the one that fails on purpose.
func passingCatalog() *spi.Catalog {
	c := spi.NewCatalog()
	for _, class := range sample.Classes() {
		if class.Name != sample.FailingTest {
			c.MustRegister(class)
		}
	}
	return c
}

func startTarget(t *testing.T) *Target {
	t.Helper()
	target, err := NewTarget(testConfig(t, types.ExecutionRemote), sample.Catalog())
	require.NoError(t, err)
	require.NoError(t, target.Start(context.Background()))
	t.Cleanup(func() { _ = target.Stop(context.Background()) })
	return target
}

func newHarness(t *testing.T, cfg *Config, catalog *spi.Catalog) (*Harness, *bytes.Buffer) {
	t.Helper()
	h, err := NewHarness(cfg, catalog, nil)
	require.NoError(t, err)
	var out bytes.Buffer
	h.SetOutput(&out)
	return h, &out
}

func TestHarnessPasses(t *testing.T) {
	for _, mode := range []types.ExecutionMode{types.ExecutionEmbedded, types.ExecutionRemote} {
		t.Run(string(mode), func(t *testing.T) {
			cfg := testConfig(t, mode)
			var target *Target
			if mode == types.ExecutionRemote {
				target = startTarget(t)
				cfg.Remote = transport.Address{URL: target.URL()}
			}

			h, out := newHarness(t, cfg, passingCatalog())
			require.NoError(t, h.Start(context.Background()))
			require.NoError(t, h.Stop(context.Background()))

			result := h.Result()
			require.NotNil(t, result)
			assert.Equal(t, types.StatusPassed, result.Status())
			assert.Equal(t, 5, result.Passed())
			for _, m := range result.Methods {
				assert.True(t, m.Result.IsPassed(), "%s: %v", m.Entry, m.Result.Failure)
				assert.False(t, m.Result.End.Before(m.Result.Start))
			}
			assert.Contains(t, out.String(), "✓ pass")
			assert.Contains(t, out.String(), "testExtraArchive")

			if target != nil {
				assert.Empty(t, target.Framework().Bundles(), "bundles are undeployed after the run")
				require.Eventually(t, func() bool {
					return target.Runner().ListenerCount() == 0
				}, 5*time.Second, 10*time.Millisecond)
			}
		})
	}
}

func TestHarnessReportsFailures(t *testing.T) {
	h, out := newHarness(t, testConfig(t, types.ExecutionEmbedded), sample.Catalog())

	err := h.Start(context.Background())
	require.Error(t, err)
	require.True(t, IsTestFailureError(err))
	assert.False(t, IsRuntimeError(err))

	result := h.Result()
	require.NotNil(t, result)
	assert.Equal(t, 3, result.Failed())
	assert.Equal(t, 8, len(result.Methods))

	failures := make(map[string]*types.Failure)
	for _, m := range result.Methods {
		if m.ClassName == sample.FailingTest {
			require.NotNil(t, m.Result.Failure, m.MethodName)
			failures[m.MethodName] = m.Result.Failure
		}
	}
	assert.Equal(t, "AssertionError", failures["testAssertionFails"].Type)
	assert.Equal(t, "service unavailable", failures["testReturnsError"].Message)
	assert.Equal(t, "panic", failures["testPanics"].Type)
	assert.Contains(t, out.String(), "✗ fail")
}

func TestHarnessSuiteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "suites.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
suites:
  - id: smoke
    classes:
      - name: sample.SimpleServiceTestCase
        methods: [testDeployedService]
  - id: enrichment
    classes:
      - name: sample.EnrichedTestCase
`), 0644))

	cfg := testConfig(t, types.ExecutionEmbedded)
	cfg.SuiteFile = path
	cfg.SuiteID = "smoke"
	h, _ := newHarness(t, cfg, sample.Catalog())

	result, err := h.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, result.Methods, 1)
	assert.Equal(t, "smoke", result.Methods[0].Suite)
	assert.Equal(t, "sample.SimpleServiceTestCase.testDeployedService", result.Methods[0].String())
	assert.True(t, result.Methods[0].Result.IsPassed())
}

func TestHarnessUndeployedClassIsNotFound(t *testing.T) {
	// A class without a deployment archive is never visible inside the target.
	catalog := spi.NewCatalog().MustRegister(&spi.TestClass{
		Name:    "sample.NotDeployed",
		Methods: map[string]spi.TestFunc{"test": func(*spi.T) error { return nil }},
	})
	h, _ := newHarness(t, testConfig(t, types.ExecutionEmbedded), catalog)

	result, err := h.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, result.Methods, 1)
	failure := result.Methods[0].Result.Failure
	require.NotNil(t, failure)
	assert.Equal(t, "ClassNotFoundError", failure.Type)
}

func TestHarnessRuntimeErrors(t *testing.T) {
	t.Run("unreachable target", func(t *testing.T) {
		cfg := testConfig(t, types.ExecutionRemote)
		cfg.Remote = transport.Address{URL: "ws://127.0.0.1:1/ws"}
		h, _ := newHarness(t, cfg, passingCatalog())

		err := h.Start(context.Background())
		require.Error(t, err)
		assert.True(t, IsRuntimeError(err))
	})

	t.Run("failed deployment", func(t *testing.T) {
		catalog := spi.NewCatalog().MustRegister(&spi.TestClass{
			Name:    "sample.Unresolvable",
			Methods: map[string]spi.TestFunc{"test": func(*spi.T) error { return nil }},
			Deployment: func() (*archive.Archive, error) {
				return archive.New("unresolvable").Require("missing-bundle"), nil
			},
		})
		h, _ := newHarness(t, testConfig(t, types.ExecutionEmbedded), catalog)

		err := h.Start(context.Background())
		require.Error(t, err)
		assert.True(t, IsRuntimeError(err))
		assert.Contains(t, err.Error(), "missing required bundle missing-bundle")
	})
}

func TestTargetReady(t *testing.T) {
	target := startTarget(t)
	require.NoError(t, target.ready())
	assert.False(t, target.Stopped())

	client, err := transport.NewRemoteBinding(transport.Address{URL: target.URL()}).Dial(context.Background())
	require.NoError(t, err)
	defer client.Close()
	require.NoError(t, transport.RequireNamespaces(client, "testrunner", container.Namespace))

	require.NoError(t, target.Stop(context.Background()))
	assert.True(t, target.Stopped())
}
