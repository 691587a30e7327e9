package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var accountCmd = &cobra.Command{
	Use:   "account",
	Short: "Manage accounts",
}

var accountListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every account",
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := call("GET", "/account/list", nil, false)
		if err != nil {
			return fmt.Errorf("listing accounts: %w", err)
		}
		return printJSON(res)
	},
}

var accountGetCmd = &cobra.Command{
	Use:   "get <address>",
	Short: "Show one account's record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := call("GET", "/account/"+args[0]+"/get", nil, false)
		if err != nil {
			return fmt.Errorf("getting account %s: %w", args[0], err)
		}
		return printJSON(res)
	},
}

// accountCreateCmd registers --secret-key's own address as a new account;
// the server derives the address from the signature, so no body is sent.
var accountCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Register --secret-key's address as a new account",
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := call("POST", "/account/create", struct{}{}, true)
		if err != nil {
			return fmt.Errorf("creating account: %w", err)
		}
		fmt.Println("account created")
		return printJSON(res)
	},
}

var accountTransferCmd = &cobra.Command{
	Use:   "transfer-ownership <instance-id> <new-owner>",
	Short: "Transfer an owned instance to a new owner address",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		body := struct {
			InstanceID string `json:"instance_id"`
			NewOwner   string `json:"new_owner"`
		}{InstanceID: args[0], NewOwner: args[1]}
		res, err := call("POST", "/account/transfer-ownership", body, true)
		if err != nil {
			return fmt.Errorf("transferring ownership: %w", err)
		}
		return printJSON(res)
	},
}

func init() {
	accountCmd.AddCommand(accountListCmd, accountGetCmd, accountCreateCmd, accountTransferCmd)
}
