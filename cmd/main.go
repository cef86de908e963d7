package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"

	harness "github.com/ethereum-optimism/infra/op-harness"
	"github.com/ethereum-optimism/infra/op-harness/exitcodes"
	"github.com/ethereum-optimism/infra/op-harness/flags"
	"github.com/ethereum-optimism/infra/op-harness/internal/sample"
	"github.com/ethereum-optimism/optimism/op-service/cliapp"
	"github.com/ethereum-optimism/optimism/op-service/ctxinterrupt"
	oplog "github.com/ethereum-optimism/optimism/op-service/log"
)

var (
	Version   = "v0.1.0"
	GitCommit = ""
	GitDate   = ""
)

func main() {
	app := cli.NewApp()
	app.Version = fmt.Sprintf("%s-%s-%s", Version, GitCommit, GitDate)
	app.Name = "op-harness"
	app.Usage = "Remote test execution harness"
	app.Description = "op-harness deploys test classes into a target and runs their methods there"
	app.Flags = cliapp.ProtectFlags(flags.Flags)
	app.Commands = []*cli.Command{
		{
			Name:   "serve",
			Usage:  "Host a target that runs test methods for remote clients",
			Action: cliapp.LifecycleCmd(serve),
		},
		{
			Name:   "run",
			Usage:  "Deploy test classes and run their methods once",
			Action: cliapp.LifecycleCmd(run),
		},
	}
	app.ExitErrHandler = func(c *cli.Context, err error) {
		if err == nil {
			return
		}
		var exitErr cli.ExitCoder
		if errors.As(err, &exitErr) {
			cli.HandleExitCoder(exitErr)
			return
		}
		cli.HandleExitCoder(cli.Exit(err.Error(), exitCode(err)))
	}

	ctx := ctxinterrupt.WithSignalWaiterMain(context.Background())
	if err := app.RunContext(ctx, os.Args); err != nil {
		log.Crit("Application failed", "message", err)
	}
}

// exitCode maps run errors to the documented exit codes. Unclassified errors
// count as test failures.
func exitCode(err error) int {
	switch {
	case err == nil:
		return exitcodes.Success
	case harness.IsRuntimeError(err):
		return exitcodes.RuntimeErr
	default:
		return exitcodes.TestFailure
	}
}

func setupLogging(ctx *cli.Context) log.Logger {
	logCfg := oplog.ReadCLIConfig(ctx)
	l := oplog.NewLogger(oplog.AppOut(ctx), logCfg)
	oplog.SetGlobalLogHandler(l.Handler())
	oplog.SetupDefaults()
	return l
}

func serve(ctx *cli.Context, _ context.CancelCauseFunc) (cliapp.Lifecycle, error) {
	l := setupLogging(ctx)
	cfg, err := harness.NewConfig(ctx, l)
	if err != nil {
		return nil, harness.NewRuntimeError(fmt.Errorf("failed to create config: %w", err))
	}
	cfg.Log.Debug("Config", "config", cfg)

	target, err := harness.NewTarget(cfg, sample.Catalog())
	if err != nil {
		return nil, harness.NewRuntimeError(fmt.Errorf("failed to create target: %w", err))
	}
	return target, nil
}

func run(ctx *cli.Context, closeApp context.CancelCauseFunc) (cliapp.Lifecycle, error) {
	l := setupLogging(ctx)
	cfg, err := harness.NewConfig(ctx, l)
	if err != nil {
		return nil, harness.NewRuntimeError(fmt.Errorf("failed to create config: %w", err))
	}
	cfg.Log.Debug("Config", "config", cfg)

	h, err := harness.NewHarness(cfg, sample.Catalog(), closeApp)
	if err != nil {
		return nil, harness.NewRuntimeError(fmt.Errorf("failed to create harness: %w", err))
	}
	return h, nil
}
