// Package cli wires the command line entry points.
package cli

import (
	"context"

	"github.com/experiment-hub/experiment-hub/server/logger"
	"github.com/juju/errors"
)

type Props struct {
	Log     logger.Logger
	Version string
	Args    []string
}

func Exec(ctx context.Context, props Props) error {
	cmd := NewRootCommand(props)

	return errors.Trace(cmd.Exec(ctx, props.Args))
}
