package cli

import (
	"context"
	"fmt"

	"github.com/experiment-hub/experiment-hub/server/command"
)

type versionHandler struct {
	props Props
}

func (v *versionHandler) Handle(context.Context, []string) error {
	fmt.Println("experiment-hub", v.props.Version)

	return nil
}

func newVersionCmd(props Props) *command.Command {
	return command.New(command.Params{
		Name:    "version",
		Desc:    "Show version information",
		Handler: &versionHandler{props},
	})
}
