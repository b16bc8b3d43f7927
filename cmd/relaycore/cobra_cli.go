package main

import (
	"github.com/spf13/cobra"
)

var flagDebug bool

// newRootCmd builds the relaycore command tree, grounded on the teacher's
// devopsclaw root command: a persistent --debug flag, silenced usage/error
// printing (errors are reported by the caller in main), and one subcommand
// per concern.
func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "relaycore",
		Short: "relaycore — secure message-relay fabric for Portals, Agents, and Gateways",
		Long: `relaycore brokers authenticated, end-to-end encrypted traffic between
operator Portals and remote Agents through one or more Service nodes,
optionally cross-stitched by Gateway nodes for multi-region fleets.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().BoolVarP(&flagDebug, "debug", "d", false, "Enable debug logging")

	root.AddCommand(
		newServeCmd(),
		newKeygenCmd(),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the relaycore version",
		RunE: func(cmd *cobra.Command, args []string) error {
			printVersion()
			return nil
		},
	}
}
