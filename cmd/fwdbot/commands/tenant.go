package commands

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/spf13/cobra"

	"fwdbot/internal/app"
	"fwdbot/internal/control"
	"fwdbot/internal/tenant"
	logx "fwdbot/pkg/logx"
)

var tenantCmd = &cobra.Command{
	Use:   "tenant",
	Short: "Inspect and administer tenant records",
	Long: `Read and change tenant records in the configured store.

With the file driver the store is owned by one process: stop the daemon
before changing records from the CLI.`,
}

var tenantListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all tenants",
	Args:  cobra.NoArgs,
	RunE:  runTenantList,
}

var tenantShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one tenant and its recent activity",
	Args:  cobra.ExactArgs(1),
	RunE:  runTenantShow,
}

var tenantPremiumCmd = &cobra.Command{
	Use:       "premium <id> on|off",
	Short:     "Grant or revoke premium",
	Args:      cobra.ExactArgs(2),
	ValidArgs: []string{"on", "off"},
	RunE:      runTenantPremium,
}

var tenantBanCmd = &cobra.Command{
	Use:   "ban <id>",
	Short: "Ban a tenant",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withTenant(cmd, args[0], func(ctx context.Context, off *app.Offline, id int64) error {
			return off.Control.Ban(ctx, id)
		})
	},
}

var tenantUnbanCmd = &cobra.Command{
	Use:   "unban <id>",
	Short: "Lift a ban",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withTenant(cmd, args[0], func(ctx context.Context, off *app.Offline, id int64) error {
			return off.Control.Unban(ctx, id)
		})
	},
}

var logLines int

func init() {
	tenantShowCmd.Flags().IntVar(&logLines, "logs", 10, "Number of activity log lines to show")

	tenantCmd.AddCommand(tenantListCmd)
	tenantCmd.AddCommand(tenantShowCmd)
	tenantCmd.AddCommand(tenantPremiumCmd)
	tenantCmd.AddCommand(tenantBanCmd)
	tenantCmd.AddCommand(tenantUnbanCmd)
}

func openOffline(ctx context.Context) (*app.Offline, error) {
	return app.OpenOffline(ctx, cfgPath, logx.NewConsole("WARN"))
}

func parseTenantID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid tenant id %q", raw)
	}
	return id, nil
}

func withTenant(cmd *cobra.Command, raw string, fn func(ctx context.Context, off *app.Offline, id int64) error) error {
	id, err := parseTenantID(raw)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	off, err := openOffline(ctx)
	if err != nil {
		return err
	}
	defer off.Close()

	if err := fn(ctx, off, id); err != nil {
		return err
	}
	t, err := off.Store.Get(ctx, id)
	if err != nil {
		return err
	}
	fmt.Println(control.Summary(t, false))
	return nil
}

// tenantView is the JSON shape of a tenant. Account credentials are never
// printed.
type tenantView struct {
	ID          int64     `json:"id"`
	Username    string    `json:"username,omitempty"`
	Enabled     bool      `json:"enabled"`
	Premium     bool      `json:"premium"`
	Banned      bool      `json:"banned"`
	Delay       int       `json:"delay_seconds"`
	WindowStart string    `json:"window_start,omitempty"`
	WindowStop  string    `json:"window_stop,omitempty"`
	Source      string    `json:"source,omitempty"`
	Accounts    []string  `json:"accounts"`
	Groups      []int64   `json:"groups"`
	Admitted    bool      `json:"admitted"`
	CreatedAt   time.Time `json:"created_at"`
}

func viewOf(t tenant.Tenant) tenantView {
	v := tenantView{
		ID:        t.ID,
		Username:  t.Username,
		Enabled:   t.Enabled,
		Premium:   t.Premium,
		Banned:    t.Banned,
		Delay:     t.DelaySeconds,
		Source:    sourceString(t.Source),
		Accounts:  t.AccountNames(),
		Groups:    t.Groups,
		Admitted:  tenant.CanStart(t),
		CreatedAt: t.CreatedAt,
	}
	if start, stop, ok := t.Window.Bounds(); ok {
		v.WindowStart, v.WindowStop = start.String(), stop.String()
	}
	return v
}

func sourceString(src fn.Option[tenant.SourceRef]) string {
	s := ""
	src.WhenSome(func(r tenant.SourceRef) { s = fmt.Sprintf("%d/%d", r.ChatID, r.MessageID) })
	return s
}

func runTenantList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	off, err := openOffline(ctx)
	if err != nil {
		return err
	}
	defer off.Close()

	all, err := off.Store.List(ctx)
	if err != nil {
		return err
	}

	switch outputFormat {
	case "json":
		views := make([]tenantView, 0, len(all))
		for _, t := range all {
			views = append(views, viewOf(t))
		}
		return outputJSON(views)
	default:
		if len(all) == 0 {
			fmt.Println("No tenants.")
			return nil
		}
		for _, t := range all {
			fmt.Println(control.Summary(t, false))
		}
	}
	return nil
}

func runTenantShow(cmd *cobra.Command, args []string) error {
	id, err := parseTenantID(args[0])
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	off, err := openOffline(ctx)
	if err != nil {
		return err
	}
	defer off.Close()

	t, err := off.Store.Get(ctx, id)
	if err != nil {
		return err
	}
	logs, err := off.Store.Logs(ctx, id, logLines)
	if err != nil {
		return err
	}

	v := viewOf(t)
	if outputFormat == "json" {
		return outputJSON(map[string]any{"tenant": v, "logs": logs})
	}

	fmt.Println(control.Summary(t, false))
	fmt.Printf("  Delay:    %ds\n", v.Delay)
	fmt.Printf("  Window:   %s\n", t.Window)
	if v.Source == "" {
		fmt.Println("  Source:   not set")
	} else {
		fmt.Printf("  Source:   %s\n", v.Source)
	}
	fmt.Printf("  Accounts: %v\n", v.Accounts)
	fmt.Printf("  Groups:   %v\n", v.Groups)
	if err := tenant.Admit(t); err != nil {
		fmt.Printf("  Admitted: no (%v)\n", err)
	} else {
		fmt.Println("  Admitted: yes")
	}
	if len(logs) > 0 {
		fmt.Println("  Activity:")
		for _, e := range logs {
			fmt.Printf("    %s  %s\n", e.At.UTC().Format(time.DateTime), e.Line)
		}
	}
	return nil
}

func runTenantPremium(cmd *cobra.Command, args []string) error {
	var on bool
	switch args[1] {
	case "on":
		on = true
	case "off":
	default:
		return fmt.Errorf("expected on or off, got %q", args[1])
	}
	return withTenant(cmd, args[0], func(ctx context.Context, off *app.Offline, id int64) error {
		return off.Control.SetPremium(ctx, id, on)
	})
}
