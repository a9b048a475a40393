package cli

import (
	"github.com/experiment-hub/experiment-hub/server/command"
)

func NewRootCommand(props Props) *command.Command {
	return command.New(command.Params{
		Name: "experiment-hub",
		Desc: "Experiment Hub is a media session server for remote experiments.",
		ArgsProc: command.ArgsProcessorFunc(func(c *command.Command, args []string) []string {
			for _, arg := range args {
				if len(arg) > 0 && arg[0] != '-' {
					break
				}

				if arg == "-h" || arg == "--help" {
					return args
				}
			}

			// No subcommand defaults to serve.
			if len(args) == 0 {
				return []string{"serve"}
			}

			if first := args[0]; len(first) > 0 && first[0] == '-' {
				return append([]string{"serve"}, args...)
			}

			return args
		}),
		SubCommands: []*command.Command{
			newServeCmd(props),
			newVersionCmd(props),
		},
	})
}
