package main

import (
	"github.com/spf13/cobra"
)

type rootFlags struct {
	verbose  bool
	envFile  string
	jsonLogs bool
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:           "kettle",
		Short:         "kettle runs notebook-style projects of Starlark and Lua steps",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "Enable debug logging")
	cmd.PersistentFlags().StringVar(&flags.envFile, "env-file", ".env", "Load KETTLE_* settings from this file when it exists")
	cmd.PersistentFlags().BoolVar(&flags.jsonLogs, "json-logs", false, "Write logs as JSON lines")

	cmd.AddCommand(newRunCmd(flags))
	cmd.AddCommand(newStatusCmd(flags))
	cmd.AddCommand(newVersionCmd())

	return cmd
}
