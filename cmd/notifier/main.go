package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	dryRun bool
	limit  int
)

var rootCmd = &cobra.Command{
	Use:   "notifier",
	Short: "Email every spreadsheet subscriber about a new post",
	Long: `notifier loads subscriber addresses from a Google Sheets spreadsheet and
sends each one a notification email through an authenticated mail relay.

It is a one-shot job; run it from a scheduler or a "new post" hook.`,
	SilenceUsage: true,
	RunE:         runSend,
}

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Load subscribers and send the notification (default)",
	RunE:  runSend,
}

var subscribersCmd = &cobra.Command{
	Use:   "subscribers",
	Short: "Print the loaded subscriber list without sending anything",
	RunE:  runSubscribers,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "load and log recipients without contacting the mail relay")
	rootCmd.PersistentFlags().IntVar(&limit, "limit", 0, "send to at most this many recipients (0 = all)")

	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(subscribersCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
