package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show shares and tracked documents",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	status := apiClient.Sync.Status()

	if jsonOutput {
		printJSON(status)
		return nil
	}

	printInfo("Shares (%d):", len(status.Shares))
	for _, s := range status.Shares {
		fmt.Printf("  %-30s %s\n", s.Folder, s.Root)
	}

	printInfo("Tracked documents (%d):", len(status.Tracked))
	for _, p := range status.Tracked {
		fmt.Printf("  %s\n", p)
	}

	return nil
}
