package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/TheMichaelB/diffsync/internal/models"
)

var syncCmd = &cobra.Command{
	Use:   "sync <path>...",
	Short: "Run one synchronization attempt per document",
	Long: `Sync registers untracked documents and runs one patch round for tracked
ones. Paths are relative to the vault directory.`,
	Example: `  diffsync sync Shared/notes.md
  diffsync sync Shared/a.md Shared/b.md --json`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSync,
}

func init() {
	rootCmd.AddCommand(syncCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	var (
		results []map[string]interface{}
		failed  int
	)

	for _, path := range args {
		result, err := apiClient.Sync.SyncPath(ctx, path)

		entry := map[string]interface{}{
			"path":    result.Path,
			"root":    result.Root,
			"outcome": result.Outcome.String(),
			"written": result.Written,
			"deleted": result.Deleted,
		}
		if err != nil {
			failed++
			entry["error"] = err.Error()
		}
		results = append(results, entry)

		if jsonOutput {
			continue
		}
		switch {
		case err != nil:
			printError("%s: %v", path, err)
		case result.Outcome == models.OutcomeSkipped:
			printWarning("%s: skipped", path)
		default:
			printSuccess("%s: %s", path, result.Outcome)
		}
	}

	if jsonOutput {
		printJSON(map[string]interface{}{
			"success": failed == 0,
			"results": results,
		})
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d documents failed", failed, len(args))
	}
	return nil
}
