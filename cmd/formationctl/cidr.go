package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var cidrCmd = &cobra.Command{
	Use:   "cidr",
	Short: "Inspect overlay address allocations",
}

var cidrListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every allocated CIDR",
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := call("GET", "/cidr/list", nil, false)
		if err != nil {
			return fmt.Errorf("listing cidrs: %w", err)
		}
		return printJSON(res)
	},
}

var cidrGetCmd = &cobra.Command{
	Use:   "get <name>",
	Short: "Show one CIDR's record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := call("GET", "/cidr/"+args[0]+"/get", nil, false)
		if err != nil {
			return fmt.Errorf("getting cidr %s: %w", args[0], err)
		}
		return printJSON(res)
	},
}

func init() {
	cidrCmd.AddCommand(cidrListCmd, cidrGetCmd)
}
