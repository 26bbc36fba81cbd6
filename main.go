package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/pokt-network/pocket-faucet/cmd"
)

func main() {
	rootCmd := &cobra.Command{
		Use:     binaryName,
		Short:   "Pocket Faucet",
		Version: ShortVersion(),
		Long: `Faucet service paying out small amounts of a cryptocurrency.

Clients start a session through the HTTP API, pass the configured anti-abuse
checks and claim a capped payout. Claims are queued in Redis and submitted
one at a time, so every session is paid at most once and in order, and a
restarted faucet resumes where it stopped.`,
	}

	rootCmd.AddCommand(cmd.FaucetCmd())
	rootCmd.AddCommand(cmd.QueueCmd())
	rootCmd.AddCommand(cmd.VersionCmd(VersionInfo))

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
