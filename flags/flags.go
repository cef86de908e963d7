package flags

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	opservice "github.com/ethereum-optimism/optimism/op-service"
	opflags "github.com/ethereum-optimism/optimism/op-service/flags"
	oplog "github.com/ethereum-optimism/optimism/op-service/log"
	opmetrics "github.com/ethereum-optimism/optimism/op-service/metrics"
	oprpc "github.com/ethereum-optimism/optimism/op-service/rpc"

	"github.com/ethereum-optimism/infra/op-harness/types"
)

const EnvVarPrefix = "OP_HARNESS"

var (
	Mode = &cli.StringFlag{
		Name:    "mode",
		Value:   string(types.ExecutionEmbedded),
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "MODE"),
		Usage:   fmt.Sprintf("How the client reaches the target: %s or %s", types.ExecutionEmbedded, types.ExecutionRemote),
		Action: func(_ *cli.Context, v string) error {
			_, err := types.ParseExecutionMode(v)
			return err
		},
	}
	Suite = &cli.StringFlag{
		Name:    "suite",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "SUITE"),
		Usage:   "Path to a suite descriptor (eg. 'suites.yaml'). Runs every known class when empty.",
	}
	SuiteID = &cli.StringFlag{
		Name:    "suite.id",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "SUITE_ID"),
		Usage:   "Only run this suite from the descriptor",
	}
	RemoteURL = &cli.StringFlag{
		Name:    "remote.url",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "REMOTE_URL"),
		Usage:   "Websocket URL of the target endpoint in REMOTE mode. Defaults to ws://<host>:<port>/ws from OP_HARNESS_REMOTE_HOST and OP_HARNESS_REMOTE_PORT.",
	}
	Concurrency = &cli.IntFlag{
		Name:    "concurrency",
		Value:   1,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "CONCURRENCY"),
		Usage:   "Number of test methods invoked at the same time",
	}
	ResourceTimeout = &cli.DurationFlag{
		Name:    "resource-timeout",
		Value:   time.Minute,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "RESOURCE_TIMEOUT"),
		Usage:   "How long a running test waits for a resource from the client",
	}
	ConfigFile = &cli.StringFlag{
		Name:    "config",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "CONFIG"),
		Usage:   "Path to a TOML config file. Flags set explicitly take precedence.",
	}
	HealthzEnabled = &cli.BoolFlag{
		Name:    "healthz.enabled",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "HEALTHZ_ENABLED"),
		Usage:   "Serve /healthz on a separate port",
	}
	HealthzAddr = &cli.StringFlag{
		Name:    "healthz.addr",
		Value:   "0.0.0.0",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "HEALTHZ_ADDR"),
		Usage:   "Healthz listening address",
	}
	HealthzPort = &cli.IntFlag{
		Name:    "healthz.port",
		Value:   8080,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "HEALTHZ_PORT"),
		Usage:   "Healthz listening port",
	}
)

var requiredFlags = []cli.Flag{}

var optionalFlags = []cli.Flag{
	Mode,
	Suite,
	SuiteID,
	RemoteURL,
	Concurrency,
	ResourceTimeout,
	ConfigFile,
	HealthzEnabled,
	HealthzAddr,
	HealthzPort,
}

// Flags contains the list of configuration options available to the binary.
var Flags []cli.Flag

func init() {
	optionalFlags = append(optionalFlags, oprpc.CLIFlags(EnvVarPrefix)...)
	optionalFlags = append(optionalFlags, oplog.CLIFlags(EnvVarPrefix)...)
	optionalFlags = append(optionalFlags, opmetrics.CLIFlags(EnvVarPrefix)...)

	Flags = append(requiredFlags, optionalFlags...)
}

// CheckRequired checks that every required flag is set
func CheckRequired(ctx *cli.Context) error {
	for _, f := range requiredFlags {
		if !ctx.IsSet(f.Names()[0]) {
			return fmt.Errorf("flag %s is required", f.Names()[0])
		}
	}
	return opflags.CheckRequiredXor(ctx)
}
