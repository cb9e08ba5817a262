package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"fwdbot/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Config file helpers",
}

var configCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the config file",
	Args:  cobra.NoArgs,
	RunE:  runConfigCheck,
}

func init() {
	configCmd.AddCommand(configCheckCmd)
}

func runConfigCheck(cmd *cobra.Command, args []string) error {
	cfg, err := config.NewManager(cfgPath).Parse()
	if err != nil {
		return err
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}
	fw, err := cfg.Forwarding.Resolve()
	if err != nil {
		return err
	}
	n, err := cfg.ResolveNotifier()
	if err != nil {
		return err
	}

	driver := cfg.Storage.Driver
	if driver == "" {
		driver = "file"
	}
	fmt.Printf("%s: ok\n", cfgPath)
	fmt.Printf("  owners:     %d\n", len(cfg.Telegram.OwnerUserIDs))
	fmt.Printf("  storage:    %s\n", driver)
	fmt.Printf("  notifier:   enabled=%t workers=%d rate=%d/s\n", n.Enabled, n.Workers, n.RatePerSec)
	fmt.Printf("  delays:     %v (premium %v, default %ds)\n", fw.AllowedDelays, fw.PremiumDelays, fw.DefaultDelaySeconds)
	fmt.Printf("  cycle:      pause=%s empty_source_retry=%s error_backoff=%s\n", fw.CyclePause, fw.EmptySourceRetry, fw.ErrorBackoff)
	fmt.Printf("  reconcile:  every %s\n", fw.ReconcileEvery)
	return nil
}
