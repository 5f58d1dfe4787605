package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/TheMichaelB/diffsync/internal/client"
	"github.com/TheMichaelB/diffsync/internal/config"
	"github.com/TheMichaelB/diffsync/internal/events"
)

var (
	cfgFile    string
	jsonOutput bool
	logLevel   string

	cfg       *config.Config
	logger    *events.Logger
	apiClient *client.Client
)

var rootCmd = &cobra.Command{
	Use:   "diffsync",
	Short: "Differential synchronization of shared document folders",
	Long: `diffsync keeps shared folders of a local document tree converged with a
remote sync service by exchanging patches against a per-document shadow.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"Config file (default: ./diffsync.json or ~/.config/diffsync/diffsync.json)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false,
		"Output in JSON format")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"Log level (debug, info, warn, error)")
}

func main() {
	err := rootCmd.Execute()
	if cerr := cleanup(); err == nil {
		err = cerr
	}

	if err != nil {
		if jsonOutput {
			printJSON(map[string]interface{}{
				"success": false,
				"error":   err.Error(),
			})
		} else {
			printError("Error: %v", err)
		}
		os.Exit(1)
	}
}

// setup loads configuration and builds the client for every command that
// talks to the engine.
func setup(cmd *cobra.Command, args []string) error {
	if cmd.Annotations["skipClient"] == "true" {
		return nil
	}

	var err error
	cfg, err = config.NewLoader(cfgFile).Load()
	if err != nil {
		return err
	}

	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if jsonOutput && cfg.Log.File == "" {
		// Keep stdout clean for the JSON result.
		cfg.Log.Level = "error"
	}

	logger, err = events.NewLogger(&cfg.Log)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	events.SetDefault(logger)

	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	if err := ensureSecret(cfg); err != nil {
		return err
	}

	apiClient, err = client.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}

	return nil
}

// cleanup releases the client and the log file.
func cleanup() error {
	var err error
	if apiClient != nil {
		err = apiClient.Close()
	}
	if logger != nil {
		err = errors.Join(err, logger.Close())
	}
	return err
}

func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "encode output: %v\n", err)
	}
}

func printSuccess(format string, args ...interface{}) {
	color.New(color.FgGreen).Printf(format+"\n", args...)
}

func printInfo(format string, args ...interface{}) {
	color.New(color.FgCyan).Printf(format+"\n", args...)
}

func printWarning(format string, args ...interface{}) {
	color.New(color.FgYellow).Fprintf(os.Stderr, format+"\n", args...)
}

func printError(format string, args ...interface{}) {
	color.New(color.FgRed).Fprintf(os.Stderr, format+"\n", args...)
}
