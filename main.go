package main

import (
	"context"
	"os"

	"github.com/experiment-hub/experiment-hub/server/cli"
	"github.com/experiment-hub/experiment-hub/server/logger"
	"github.com/experiment-hub/experiment-hub/server/multierr"
	"github.com/juju/errors"
	"github.com/spf13/pflag"
)

const gitDescribe string = "v0.0.0"

func start(ctx context.Context, log logger.Logger, args []string) error {
	err := cli.Exec(ctx, cli.Props{
		Log:     log,
		Version: gitDescribe,
		Args:    args,
	})

	return errors.Trace(err)
}

func main() {
	log := logger.New().
		WithConfig(
			logger.NewConfig(logger.ConfigMap{
				"**:ws":      logger.LevelError,
				"**:pion:**": logger.LevelWarn,
				"":           logger.LevelInfo,
			}),
		).
		WithConfig(logger.NewConfigMapFromString(os.Getenv("HUB_LOG"))).
		WithFormatter(logger.NewStringFormatter(logger.StringFormatterParams{})).
		WithNamespaceAppended("main")

	err := start(context.Background(), log, os.Args[1:])

	if multierr.Is(err, pflag.ErrHelp) {
		os.Exit(1)
	} else if err != nil {
		log.Error("Command error", errors.Trace(err), nil)
		os.Exit(1)
	}
}
