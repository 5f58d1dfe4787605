package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/TheMichaelB/diffsync/internal/config"
)

var initCmd = &cobra.Command{
	Use:         "init [path]",
	Short:       "Write an example config file",
	Args:        cobra.MaximumNArgs(1),
	Annotations: map[string]string{"skipClient": "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "diffsync.json"
		if len(args) == 1 {
			path = args[0]
		}

		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists", path)
		}

		if err := config.SaveExample(path); err != nil {
			return err
		}
		printSuccess("Wrote %s", path)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
