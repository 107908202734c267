package main

import (
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "efictl",
		Short:         "Decode UEFI status codes and GUIDs",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.AddCommand(
		newStatusCmd(),
		newGUIDCmd(),
		newProtocolsCmd(),
	)
	return cmd
}
