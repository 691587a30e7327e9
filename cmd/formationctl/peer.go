package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var peerCmd = &cobra.Command{
	Use:   "peer",
	Short: "Inspect overlay mesh peers",
}

var peerListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every peer on the mesh",
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := call("GET", "/peer/list", nil, false)
		if err != nil {
			return fmt.Errorf("listing peers: %w", err)
		}
		return printJSON(res)
	},
}

var peerGetCmd = &cobra.Command{
	Use:   "get <name>",
	Short: "Show one peer's record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := call("GET", "/peer/"+args[0]+"/get", nil, false)
		if err != nil {
			return fmt.Errorf("getting peer %s: %w", args[0], err)
		}
		return printJSON(res)
	},
}

func init() {
	peerCmd.AddCommand(peerListCmd, peerGetCmd)
}
