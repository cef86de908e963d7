package harness

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"

	opmetrics "github.com/ethereum-optimism/optimism/op-service/metrics"
	oprpc "github.com/ethereum-optimism/optimism/op-service/rpc"

	"github.com/ethereum-optimism/infra/op-harness/flags"
	"github.com/ethereum-optimism/infra/op-harness/protocol"
	"github.com/ethereum-optimism/infra/op-harness/service"
	"github.com/ethereum-optimism/infra/op-harness/transport"
	"github.com/ethereum-optimism/infra/op-harness/types"
)

// TOMLDuration is a time.Duration read from a string such as "30s"
type TOMLDuration time.Duration

func (t *TOMLDuration) UnmarshalText(b []byte) error {
	d, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}

	*t = TOMLDuration(d)
	return nil
}

// ServerConfig configures the target side: endpoint and test runner.
type ServerConfig struct {
	Host              string       `toml:"host"`
	Port              int          `toml:"port"`
	CORSOrigins       []string     `toml:"cors_origins"`
	MaxConcurrentRuns int64        `toml:"max_concurrent_runs"`
	ResourceTimeout   TOMLDuration `toml:"resource_timeout"`
}

// ClientConfig configures the invoking side.
type ClientConfig struct {
	ExportCacheSize      int          `toml:"export_cache_size"`
	ListenerCloseTimeout TOMLDuration `toml:"listener_close_timeout"`
}

// FileConfig is the layout of the optional TOML config file.
type FileConfig struct {
	Server ServerConfig `toml:"server"`
	Client ClientConfig `toml:"client"`
}

// Config holds the application configuration
type Config struct {
	Mode        types.ExecutionMode
	SuiteFile   string
	SuiteID     string
	Remote      transport.Address
	Concurrency int

	Server  ServerConfig
	Client  ClientConfig
	Service service.Config

	Log log.Logger
}

// DefaultConfig returns the values used when neither flags nor the config
// file say otherwise.
func DefaultConfig() *Config {
	return &Config{
		Mode:        types.ExecutionEmbedded,
		Remote:      transport.Address{Host: transport.DefaultRemoteHost, Port: transport.DefaultRemotePort},
		Concurrency: 1,
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            transport.DefaultRemotePort,
			CORSOrigins:     []string{"*"},
			ResourceTimeout: TOMLDuration(protocol.DefaultResourceTimeout),
		},
		Client: ClientConfig{
			ExportCacheSize:      16,
			ListenerCloseTimeout: TOMLDuration(protocol.DefaultListenerCloseTimeout),
		},
		Service: service.Config{
			HealthzHost: service.HealthzHost,
			HealthzPort: service.HealthzPort,
			MetricsHost: service.MetricsHost,
			MetricsPort: service.MetricsPort,
		},
	}
}

// LoadFileConfig overlays the TOML file at path onto cfg. Keys missing from
// the file keep their current values.
func LoadFileConfig(path string, cfg *Config) error {
	file := FileConfig{Server: cfg.Server, Client: cfg.Client}
	md, err := toml.DecodeFile(path, &file)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("unknown keys in config file %s: %v", path, undecoded)
	}
	cfg.Server = file.Server
	cfg.Client = file.Client
	return nil
}

// NewConfig creates a new Config from cli context
func NewConfig(ctx *cli.Context, log log.Logger) (*Config, error) {
	if err := flags.CheckRequired(ctx); err != nil {
		return nil, fmt.Errorf("missing required flags: %w", err)
	}

	cfg := DefaultConfig()
	cfg.Log = log

	if path := ctx.String(flags.ConfigFile.Name); path != "" {
		if err := LoadFileConfig(path, cfg); err != nil {
			return nil, err
		}
	}

	mode, err := types.ParseExecutionMode(ctx.String(flags.Mode.Name))
	if err != nil {
		return nil, err
	}
	cfg.Mode = mode

	if suite := ctx.String(flags.Suite.Name); suite != "" {
		abs, err := filepath.Abs(suite)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve absolute path for suite file '%s': %w", suite, err)
		}
		cfg.SuiteFile = abs
	}
	cfg.SuiteID = ctx.String(flags.SuiteID.Name)
	cfg.Concurrency = ctx.Int(flags.Concurrency.Name)

	if url := ctx.String(flags.RemoteURL.Name); url != "" {
		cfg.Remote = transport.Address{URL: url}
	} else {
		addr, err := transport.AddressFromEnv()
		if err != nil {
			return nil, err
		}
		cfg.Remote = addr
	}

	rpcCfg := oprpc.ReadCLIConfig(ctx)
	if ctx.IsSet(oprpc.ListenAddrFlagName) {
		cfg.Server.Host = rpcCfg.ListenAddr
	}
	if ctx.IsSet(oprpc.PortFlagName) {
		cfg.Server.Port = rpcCfg.ListenPort
	}
	if ctx.IsSet(flags.ResourceTimeout.Name) {
		cfg.Server.ResourceTimeout = TOMLDuration(ctx.Duration(flags.ResourceTimeout.Name))
	}

	metricsCfg := opmetrics.ReadCLIConfig(ctx)
	cfg.Service = service.Config{
		HealthzEnabled: ctx.Bool(flags.HealthzEnabled.Name),
		HealthzHost:    ctx.String(flags.HealthzAddr.Name),
		HealthzPort:    ctx.Int(flags.HealthzPort.Name),
		MetricsEnabled: metricsCfg.Enabled,
		MetricsHost:    metricsCfg.ListenAddr,
		MetricsPort:    metricsCfg.ListenPort,
	}

	if err := cfg.Check(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Check validates the configuration
func (c *Config) Check() error {
	if _, err := types.ParseExecutionMode(string(c.Mode)); err != nil {
		return err
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1, got %d", c.Concurrency)
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.Server.MaxConcurrentRuns < 0 {
		return fmt.Errorf("max_concurrent_runs must not be negative, got %d", c.Server.MaxConcurrentRuns)
	}
	if time.Duration(c.Server.ResourceTimeout) <= 0 {
		return errors.New("resource_timeout must be positive")
	}
	if c.Client.ExportCacheSize < 0 {
		return fmt.Errorf("export_cache_size must not be negative, got %d", c.Client.ExportCacheSize)
	}
	if time.Duration(c.Client.ListenerCloseTimeout) <= 0 {
		return errors.New("listener_close_timeout must be positive")
	}
	if c.SuiteID != "" && c.SuiteFile == "" {
		return errors.New("suite.id needs a suite file")
	}
	return nil
}
