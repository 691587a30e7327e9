package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cuemby/formation/pkg/overlay"
)

var (
	joinPubkey    string
	joinEndpoints []string
)

var joinCmd = &cobra.Command{
	Use:   "join",
	Short: "Request a mesh admin add this peer to the overlay",
	Long: `join issues the same signed JoinRequest cmd/formationd's own bootstrap
client sends on first start, for operators who want to pre-register a peer
or re-join after a wipe without restarting the daemon.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		priv, err := loadSecretKey()
		if err != nil {
			return err
		}
		req := overlay.JoinRequest{
			PeerID:            string(addressFromKey(priv)),
			PublicKey:         joinPubkey,
			ReportedEndpoints: joinEndpoints,
		}
		res, err := call("POST", "/peer/join", req, true)
		if err != nil {
			return fmt.Errorf("join request rejected: %w", err)
		}
		fmt.Println("join accepted")
		return printJSON(res)
	},
}

var (
	leavePeerName string
	leaveForced   bool
)

var leaveCmd = &cobra.Command{
	Use:   "leave",
	Short: "Remove a peer from the overlay",
	RunE: func(cmd *cobra.Command, args []string) error {
		req := overlay.LeaveRequest{PeerName: leavePeerName, Forced: leaveForced}
		res, err := call("POST", "/peer/leave", req, true)
		if err != nil {
			return fmt.Errorf("leave request rejected: %w", err)
		}
		fmt.Println("peer removed")
		return printJSON(res)
	},
}

func init() {
	joinCmd.Flags().StringVar(&joinPubkey, "pubkey", "", "this peer's WireGuard public key (required)")
	joinCmd.Flags().StringSliceVar(&joinEndpoints, "endpoint", nil, "reachable endpoint(s) to report, host:port (repeatable)")
	_ = joinCmd.MarkFlagRequired("pubkey")

	leaveCmd.Flags().StringVar(&leavePeerName, "peer", "", "peer name to remove (required)")
	leaveCmd.Flags().BoolVar(&leaveForced, "forced", false, "admin-forced eviction rather than self-initiated leave")
	_ = leaveCmd.MarkFlagRequired("peer")
}
