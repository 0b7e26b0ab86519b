package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "sessionsync",
	Short: "sessionsync coordinates session state across sibling contexts",
	Long: `sessionsync keeps authentication state consistent across multiple
execution contexts of the same application, warns before session expiry,
derives navigation actions from session events, and triages failures in
that machinery.`,
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
