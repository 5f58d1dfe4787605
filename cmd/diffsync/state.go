package main

import (
	"github.com/spf13/cobra"
)

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Manage persisted shadows",
}

var stateResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Forget every shadow; documents re-register on their next sync",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := apiClient.State.Reset(); err != nil {
			return err
		}
		if jsonOutput {
			printJSON(map[string]interface{}{"success": true})
			return nil
		}
		printSuccess("Shadow state cleared")
		return nil
	},
}

var stateMigrateCmd = &cobra.Command{
	Use:   "migrate <backend>",
	Short: "Copy shadows into another backend (memory, json, sqlite, bolt)",
	Example: `  diffsync state migrate sqlite
  diffsync state migrate bolt --config ./diffsync.yaml`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"json", "sqlite", "bolt"},
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := apiClient.State.Migrate(args[0])
		if err != nil {
			return err
		}
		if jsonOutput {
			printJSON(map[string]interface{}{
				"success":  true,
				"backend":  args[0],
				"migrated": n,
			})
			return nil
		}
		printSuccess("Migrated %d shadow(s) to %s; set storage.shadow_backend to use it", n, args[0])
		return nil
	},
}

func init() {
	stateCmd.AddCommand(stateResetCmd, stateMigrateCmd)
	rootCmd.AddCommand(stateCmd)
}
