package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var (
	stateAddr  string
	secretHex  string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "formationctl",
	Short: "formationctl - operator CLI for a Formation node",
	Long: `formationctl talks to a running formationd's state API over plain
signed HTTP: every subcommand issues one request and prints the decoded
result.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"formationctl version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))
	rootCmd.PersistentFlags().StringVar(&stateAddr, "addr", "127.0.0.1:3004", "formationd state API address")
	rootCmd.PersistentFlags().StringVar(&secretHex, "secret-key", os.Getenv("FORMATION_SECRET_KEY"), "hex-encoded secp256k1 key used to sign write requests")

	rootCmd.AddCommand(nodeCmd)
	rootCmd.AddCommand(peerCmd)
	rootCmd.AddCommand(cidrCmd)
	rootCmd.AddCommand(accountCmd)
	rootCmd.AddCommand(joinCmd)
	rootCmd.AddCommand(leaveCmd)
}
