package main

import (
	"context"

	"github.com/spf13/cobra"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Apply every share's remote manifest once",
	Long: `Reconcile creates documents listed remotely but missing locally and
deletes local documents the remote has tombstoned. Existing content is never
overwritten.`,
	Args: cobra.NoArgs,
	RunE: runReconcile,
}

func init() {
	rootCmd.AddCommand(reconcileCmd)
}

func runReconcile(cmd *cobra.Command, args []string) error {
	reports, err := apiClient.Sync.ReconcileAll(context.Background())

	if jsonOutput {
		result := map[string]interface{}{
			"success": err == nil,
			"reports": reports,
		}
		if err != nil {
			result["error"] = err.Error()
		}
		printJSON(result)
		return err
	}

	for _, r := range reports {
		if r.Dropped {
			printWarning("%s (%s): root no longer exists, share removed, %d shadow(s) forgotten", r.Folder, r.Root, r.Purged)
			continue
		}
		printInfo("%s (%s): %d entries, %d created, %d deleted",
			r.Folder, r.Root, r.Entries, len(r.Created), len(r.Deleted))
		for _, p := range r.Created {
			printSuccess("  + %s", p)
		}
		for _, p := range r.Deleted {
			printWarning("  - %s", p)
		}
	}

	return err
}
