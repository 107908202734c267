package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/costinm/goefi/pkg/proto"
)

func newProtocolsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "protocols",
		Short: "List the protocols goefi knows by name",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 8, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tGUID")
			for _, p := range proto.Known {
				fmt.Fprintf(w, "%s\t%s\n", p.Name, p.GUID)
			}
			return w.Flush()
		},
	}
}
