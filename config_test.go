package harness

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum-optimism/optimism/op-service/testlog"
	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	"github.com/ethereum-optimism/infra/op-harness/flags"
	"github.com/ethereum-optimism/infra/op-harness/types"
)

const testTOML = `
[server]
host = "127.0.0.1"
port = 2090
cors_origins = ["https://example.com"]
max_concurrent_runs = 4
resource_timeout = "30s"

[client]
export_cache_size = 8
listener_close_timeout = "2s"
`

func writeTOML(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "harness.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadFileConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, LoadFileConfig(writeTOML(t, testTOML), cfg))

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 2090, cfg.Server.Port)
	assert.Equal(t, []string{"https://example.com"}, cfg.Server.CORSOrigins)
	assert.Equal(t, int64(4), cfg.Server.MaxConcurrentRuns)
	assert.Equal(t, 30*time.Second, time.Duration(cfg.Server.ResourceTimeout))
	assert.Equal(t, 8, cfg.Client.ExportCacheSize)
	assert.Equal(t, 2*time.Second, time.Duration(cfg.Client.ListenerCloseTimeout))
	require.NoError(t, cfg.Check())

	t.Run("partial file keeps defaults", func(t *testing.T) {
		cfg := DefaultConfig()
		require.NoError(t, LoadFileConfig(writeTOML(t, "[client]\nexport_cache_size = 2\n"), cfg))
		assert.Equal(t, 2, cfg.Client.ExportCacheSize)
		assert.Equal(t, DefaultConfig().Server, cfg.Server)
	})

	t.Run("unknown key", func(t *testing.T) {
		err := LoadFileConfig(writeTOML(t, "[server]\nprot = 1\n"), DefaultConfig())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown keys")
	})

	t.Run("bad duration", func(t *testing.T) {
		err := LoadFileConfig(writeTOML(t, "[server]\nresource_timeout = \"soon\"\n"), DefaultConfig())
		require.Error(t, err)
	})
}

func TestConfigCheck(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "bad mode", mutate: func(c *Config) { c.Mode = "LOCAL" }, wantErr: "invalid execution mode"},
		{name: "zero concurrency", mutate: func(c *Config) { c.Concurrency = 0 }, wantErr: "concurrency"},
		{name: "bad port", mutate: func(c *Config) { c.Server.Port = 70000 }, wantErr: "invalid server port"},
		{name: "negative runs", mutate: func(c *Config) { c.Server.MaxConcurrentRuns = -1 }, wantErr: "max_concurrent_runs"},
		{name: "zero resource timeout", mutate: func(c *Config) { c.Server.ResourceTimeout = 0 }, wantErr: "resource_timeout"},
		{name: "negative cache", mutate: func(c *Config) { c.Client.ExportCacheSize = -1 }, wantErr: "export_cache_size"},
		{name: "zero close timeout", mutate: func(c *Config) { c.Client.ListenerCloseTimeout = 0 }, wantErr: "listener_close_timeout"},
		{name: "suite id without file", mutate: func(c *Config) { c.SuiteID = "smoke" }, wantErr: "suite.id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Check()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNewConfig(t *testing.T) {
	path := writeTOML(t, testTOML)

	var cfg *Config
	app := &cli.App{
		Flags: flags.Flags,
		Action: func(ctx *cli.Context) error {
			var err error
			cfg, err = NewConfig(ctx, testlog.Logger(t, log.LevelInfo))
			return err
		},
	}
	err := app.Run([]string{"app",
		"--mode", "remote",
		"--config", path,
		"--remote.url", "ws://target:1090/ws",
		"--rpc.port", "3090",
		"--resource-timeout", "5s",
		"--concurrency", "4",
	})
	require.NoError(t, err)

	assert.Equal(t, types.ExecutionRemote, cfg.Mode)
	assert.Equal(t, "ws://target:1090/ws", cfg.Remote.String())
	assert.Equal(t, 4, cfg.Concurrency)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host, "taken from the file")
	assert.Equal(t, 3090, cfg.Server.Port, "flag overrides the file")
	assert.Equal(t, 5*time.Second, time.Duration(cfg.Server.ResourceTimeout))
	assert.Equal(t, 8, cfg.Client.ExportCacheSize)
}
