package container

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum-optimism/optimism/op-service/testlog"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-harness/archive"
	"github.com/ethereum-optimism/infra/op-harness/spi"
	"github.com/ethereum-optimism/infra/op-harness/types"
)

func bundleArchive(name string, classes ...string) *archive.Archive {
	return archive.New(name+".jar").
		SetHeader(archive.HeaderSymbolicName, name).
		AddTestClasses(classes...)
}

// backends returns the embedded framework and a remote client of a second
// framework served in-process.
func backends(t *testing.T) map[string]Container {
	t.Helper()
	lgr := testlog.Logger(t, log.LevelInfo)

	served := NewFramework(lgr)
	srv := rpc.NewServer()
	api := served.API()
	require.NoError(t, srv.RegisterName(api.Namespace, api.Service))
	t.Cleanup(srv.Stop)
	client := rpc.DialInProc(srv)
	t.Cleanup(client.Close)

	return map[string]Container{
		"embedded": NewFramework(lgr),
		"remote":   NewRemote(client),
	}
}

func TestLifecycle(t *testing.T) {
	for name, c := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			h, err := c.Install(ctx, bundleArchive("simple", "sample.SimpleTest"))
			require.NoError(t, err)
			assert.Equal(t, "simple", h.Name)
			assertState(t, c, h, StateInstalled)

			installed, err := c.IsInstalled(ctx, "simple")
			require.NoError(t, err)
			assert.True(t, installed)

			require.NoError(t, c.Resolve(ctx, h))
			assertState(t, c, h, StateResolved)

			require.NoError(t, c.Start(ctx, h))
			assertState(t, c, h, StateActive)
			require.NoError(t, c.Start(ctx, h))
			assertState(t, c, h, StateActive)

			require.NoError(t, c.Stop(ctx, h))
			assertState(t, c, h, StateResolved)

			require.NoError(t, c.Uninstall(ctx, h))
			assertState(t, c, h, StateUninstalled)

			installed, err = c.IsInstalled(ctx, "simple")
			require.NoError(t, err)
			assert.False(t, installed)

			require.Error(t, c.Start(ctx, h))
		})
	}
}

func TestResolveRequiresDependencies(t *testing.T) {
	for name, c := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			h, err := c.Install(ctx, bundleArchive("client").Require("api"))
			require.NoError(t, err)

			err = c.Start(ctx, h)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "missing required bundle api")
			assertState(t, c, h, StateInstalled)

			_, err = c.Install(ctx, bundleArchive("api"))
			require.NoError(t, err)
			require.NoError(t, c.Start(ctx, h))
			assertState(t, c, h, StateActive)
		})
	}
}

func TestInstallDuplicate(t *testing.T) {
	for name, c := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, err := c.Install(ctx, bundleArchive("dup"))
			require.NoError(t, err)
			_, err = c.Install(ctx, bundleArchive("dup"))
			require.Error(t, err)
		})
	}
}

func TestUnknownHandleIsUninstalled(t *testing.T) {
	for name, c := range backends(t) {
		t.Run(name, func(t *testing.T) {
			assertState(t, c, Handle{ID: 999, Name: "ghost"}, StateUninstalled)
		})
	}
}

func TestFrameworkLoaderVisibility(t *testing.T) {
	ctx := context.Background()
	fw := NewFramework(testlog.Logger(t, log.LevelInfo))
	catalog := spi.NewCatalog().MustRegister(&spi.TestClass{
		Name:    "sample.SimpleTest",
		Methods: map[string]spi.TestFunc{"test": func(*spi.T) error { return nil }},
	})
	loader := fw.Loader(catalog)

	_, err := loader.LoadTestClass("sample.SimpleTest")
	var notFound *spi.ClassNotFoundError
	require.ErrorAs(t, err, &notFound)

	h, err := fw.Install(ctx, bundleArchive("simple", "sample.SimpleTest"))
	require.NoError(t, err)
	_, err = loader.LoadTestClass("sample.SimpleTest")
	require.ErrorAs(t, err, &notFound, "installed but unresolved bundles expose nothing")

	require.NoError(t, fw.Start(ctx, h))
	tc, err := loader.LoadTestClass("sample.SimpleTest")
	require.NoError(t, err)
	assert.Equal(t, "sample.SimpleTest", tc.Name)

	owner, ok := fw.BundleOf("sample.SimpleTest")
	require.True(t, ok)
	assert.Equal(t, h, owner)
	assert.Equal(t, []Handle{h}, fw.Bundles())

	require.NoError(t, fw.Uninstall(ctx, h))
	_, err = loader.LoadTestClass("sample.SimpleTest")
	require.ErrorAs(t, err, &notFound)
}

func TestDeployer(t *testing.T) {
	for name, c := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			d := NewDeployer(c, testlog.Logger(t, log.LevelInfo))

			h, err := d.Deploy(ctx, bundleArchive("deployed", "sample.SimpleTest"))
			require.NoError(t, err)
			assertState(t, c, h, StateActive)

			require.NoError(t, d.Undeploy(ctx, h))
			assertState(t, c, h, StateUninstalled)

			_, err = d.Deploy(ctx, bundleArchive("broken").Require("absent"))
			require.Error(t, err)
			installed, err := c.IsInstalled(ctx, "broken")
			require.NoError(t, err)
			assert.False(t, installed, "failed deployments are rolled back")
		})
	}
}

type mockContainer struct {
	mock.Mock
}

func (m *mockContainer) Install(ctx context.Context, a *archive.Archive) (Handle, error) {
	args := m.Called(ctx, a)
	return args.Get(0).(Handle), args.Error(1)
}

func (m *mockContainer) Resolve(ctx context.Context, h Handle) error {
	return m.Called(ctx, h).Error(0)
}

func (m *mockContainer) Start(ctx context.Context, h Handle) error {
	return m.Called(ctx, h).Error(0)
}

func (m *mockContainer) Stop(ctx context.Context, h Handle) error {
	return m.Called(ctx, h).Error(0)
}

func (m *mockContainer) Uninstall(ctx context.Context, h Handle) error {
	return m.Called(ctx, h).Error(0)
}

func (m *mockContainer) State(ctx context.Context, h Handle) (State, error) {
	args := m.Called(ctx, h)
	return args.Get(0).(State), args.Error(1)
}

func (m *mockContainer) IsInstalled(ctx context.Context, name string) (bool, error) {
	args := m.Called(ctx, name)
	return args.Bool(0), args.Error(1)
}

func TestDeployerJoinsCleanupErrors(t *testing.T) {
	ctx := context.Background()
	h := Handle{ID: 7, Name: "flaky"}
	a := bundleArchive("flaky")

	m := new(mockContainer)
	m.On("Install", ctx, a).Return(h, nil)
	m.On("Resolve", ctx, h).Return(nil)
	m.On("Start", ctx, h).Return(errors.New("activator failed"))
	m.On("Uninstall", ctx, h).Return(errors.New("bundle busy"))

	d := NewDeployer(m, testlog.Logger(t, log.LevelInfo))
	_, err := d.Deploy(ctx, a)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "activator failed")
	assert.Contains(t, err.Error(), "bundle busy")
	m.AssertExpectations(t)

	m = new(mockContainer)
	m.On("Stop", ctx, h).Return(errors.New("stop timed out"))
	m.On("Uninstall", ctx, h).Return(nil)
	d = NewDeployer(m, testlog.Logger(t, log.LevelInfo))
	err = d.Undeploy(ctx, h)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stop timed out")
	m.AssertCalled(t, "Uninstall", ctx, h)
}

func TestNew(t *testing.T) {
	fw := NewFramework(testlog.Logger(t, log.LevelInfo))
	c, err := New(types.ExecutionEmbedded, fw, nil)
	require.NoError(t, err)
	assert.Same(t, fw, c)

	_, err = New(types.ExecutionEmbedded, nil, nil)
	require.Error(t, err)
	_, err = New(types.ExecutionRemote, nil, nil)
	require.Error(t, err)
	_, err = New("LOCAL", fw, nil)
	require.Error(t, err)

	srv := rpc.NewServer()
	defer srv.Stop()
	client := rpc.DialInProc(srv)
	defer client.Close()
	c, err = New(types.ExecutionRemote, nil, client)
	require.NoError(t, err)
	assert.IsType(t, &Remote{}, c)
}

func assertState(t *testing.T, c Container, h Handle, want State) {
	t.Helper()
	got, err := c.State(context.Background(), h)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}
