package cmd

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmcleod/sessionsync/channel/filechan"
)

var (
	statusDataDir string
	statusClear   bool
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Inspect the shared channel record",
	Long:  `Prints the last session transition published to the shared channel.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ch, err := filechan.New(filepath.Join(statusDataDir, "channel.json"))
		if err != nil {
			return fmt.Errorf("failed to open shared channel: %w", err)
		}
		defer ch.Close()

		if statusClear {
			if err := ch.Clear(); err != nil {
				return fmt.Errorf("failed to clear shared channel: %w", err)
			}
			fmt.Println("Channel cleared.")
			return nil
		}

		rec, ok, err := ch.Load()
		if err != nil {
			return fmt.Errorf("failed to read shared channel: %w", err)
		}
		if !ok {
			fmt.Println("Channel is empty: no context has published a transition.")
			return nil
		}
		fmt.Printf("Sequence:  %d\n", rec.Sequence)
		fmt.Printf("Type:      %s\n", rec.Type)
		fmt.Printf("Timestamp: %s\n", rec.Timestamp.Format(time.RFC3339))
		if rec.PrincipalID != "" {
			fmt.Printf("Principal: %s\n", rec.PrincipalID)
		} else {
			fmt.Println("Principal: (none)")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().StringVar(&statusDataDir, "data-dir", "./data", "Directory for the shared channel")
	statusCmd.Flags().BoolVar(&statusClear, "clear", false, "Clear the channel record")
}
