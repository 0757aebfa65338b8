package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "eip-operator",
		Short:        "Binds AWS Elastic IP addresses to pods and nodes",
		SilenceUsage: true,
	}
	cmd.AddCommand(newRunCommand())
	return cmd
}
