package main

import (
	"context"

	"github.com/spf13/cobra"
)

var shareCmd = &cobra.Command{
	Use:   "share <folder>",
	Short: "Register a folder as a new shared namespace",
	Long: `Share asks the remote for a new root and maps the folder to it. Add the
printed entry to sync.shares in the config file to keep it.`,
	Example: `  diffsync share Shared/Team`,
	Args:    cobra.ExactArgs(1),
	RunE:    runShare,
}

func init() {
	rootCmd.AddCommand(shareCmd)
}

func runShare(cmd *cobra.Command, args []string) error {
	share, err := apiClient.Sync.CreateShare(context.Background(), args[0])
	if err != nil {
		return err
	}

	if jsonOutput {
		printJSON(map[string]interface{}{
			"success": true,
			"share":   share,
			"shares":  apiClient.Shares(),
		})
		return nil
	}

	printSuccess("Shared %s as root %s", share.Folder, share.Root)
	printInfo("Config entry: {\"folder\": %q, \"root\": %q}", share.Folder, share.Root)
	return nil
}
