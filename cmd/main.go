package cmd

import (
	"github.com/spf13/cobra"

	"github.com/openrover/baglog/cmd/info"
	"github.com/openrover/baglog/cmd/rewrite"
)

// Execute builds the command tree and executes commands.
func Execute() error {
	// c is the root command.
	c := &cobra.Command{
		Use:   "baglog",
		Short: "Inspect and rewrite chunked binary message logs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Usage()
		},
	}

	c.AddCommand(info.Cmd)
	c.AddCommand(rewrite.Cmd)

	return c.Execute()
}
