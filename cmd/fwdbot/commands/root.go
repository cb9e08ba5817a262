package commands

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
)

var (
	// cfgPath is the config file (.json, .yaml or .yml).
	cfgPath string

	// outputFormat controls output format (text, json).
	outputFormat string
)

var rootCmd = &cobra.Command{
	Use:   "fwdbot",
	Short: "Multi-tenant Telegram ad forwarder",
	Long: `fwdbot forwards each tenant's source message to its destination groups
on a paced loop, managed through a Telegram bot front end.

Run the daemon with "fwdbot run". The tenant, reconcile and config commands
work on the record store directly and do not need a running daemon.`,
	SilenceUsage: true,
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(
		&cfgPath, "config", "c", "./config.yaml",
		"Path to the config file",
	)
	rootCmd.PersistentFlags().StringVar(
		&outputFormat, "format", "text",
		"Output format: text, json",
	)

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(tenantCmd)
	rootCmd.AddCommand(reconcileCmd)
	rootCmd.AddCommand(configCmd)
}

func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
