package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var nodeCmd = &cobra.Command{
	Use:   "node",
	Short: "Inspect node inventory",
}

var nodeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every node the fabric knows about",
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := call("GET", "/api/nodes", nil, false)
		if err != nil {
			return fmt.Errorf("listing nodes: %w", err)
		}
		return printJSON(res)
	},
}

var nodeGetCmd = &cobra.Command{
	Use:   "get <node-id>",
	Short: "Show one node's record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := call("GET", "/node/"+args[0]+"/get", nil, false)
		if err != nil {
			return fmt.Errorf("getting node %s: %w", args[0], err)
		}
		return printJSON(res)
	},
}

func init() {
	nodeCmd.AddCommand(nodeListCmd, nodeGetCmd)
}
