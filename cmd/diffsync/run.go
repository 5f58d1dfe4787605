package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/TheMichaelB/diffsync/internal/models"
	"github.com/TheMichaelB/diffsync/internal/services/sync"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the sync engine until interrupted",
	Long: `Run starts the scheduler: periodic enqueue, drain and reconcile passes,
the document watcher and, when configured, the broker subscription.`,
	Example: `  diffsync run
  diffsync run --config ./diffsync.yaml --log-level debug`,
	Args: cobra.NoArgs,
	RunE: runEngine,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runEngine(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for event := range apiClient.Sync.Events() {
			if jsonOutput {
				printJSON(eventJSON(event))
				continue
			}
			printEvent(event)
		}
	}()

	if !jsonOutput {
		status := apiClient.Sync.Status()
		printInfo("Syncing %d share(s), %d tracked document(s). Press Ctrl+C to stop.",
			len(status.Shares), len(status.Tracked))
	}

	err := apiClient.Sync.Run(ctx)
	<-done

	if err != nil {
		return err
	}
	if !jsonOutput {
		printSuccess("Stopped.")
	}
	return nil
}

func printEvent(event sync.Event) {
	switch event.Type {
	case sync.EventSynced:
		if event.Outcome == models.OutcomeConverged {
			logger.WithField("path", event.Path).Debug("Document converged")
			return
		}
		printInfo("%-9s %s", event.Outcome, event.Path)
	case sync.EventDeleted:
		printWarning("%-9s %s", "deleted", event.Path)
	case sync.EventFailed:
		printError("%-9s %s: %v", "failed", event.Path, event.Error)
	case sync.EventReconciled:
		logger.WithField("root", event.Root).Debug("Share reconciled")
	}
}

func eventJSON(event sync.Event) map[string]interface{} {
	data := map[string]interface{}{
		"type":      event.Type,
		"timestamp": event.Timestamp,
	}
	if event.Path != "" {
		data["path"] = event.Path
		data["outcome"] = event.Outcome.String()
	}
	if event.Root != "" {
		data["root"] = event.Root
	}
	if event.Error != nil {
		data["error"] = event.Error.Error()
	}
	return data
}
