package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Show what the reconciler would do",
	Long: `Evaluate every window-managed tenant against the current UTC time and
print the planned start, stop and hold decisions. Nothing is applied; the
daemon does that on every tick. The CLI never runs loops, so the plan assumes
no loop is running.`,
	Args: cobra.NoArgs,
	RunE: runReconcile,
}

var planAt string

func init() {
	reconcileCmd.Flags().StringVar(&planAt, "at", "", "Evaluate at this RFC 3339 time instead of now")
}

// planTime resolves --at, defaulting to now. The result is always UTC.
func planTime(at string, now time.Time) (time.Time, error) {
	if at == "" {
		return now.UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, at)
	if err != nil {
		return time.Time{}, fmt.Errorf("--at: %w", err)
	}
	return t.UTC(), nil
}

func runReconcile(cmd *cobra.Command, args []string) error {
	now, err := planTime(planAt, time.Now())
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	off, err := openOffline(ctx)
	if err != nil {
		return err
	}
	defer off.Close()

	plan, err := off.Reconciler.Plan(ctx, now)
	if err != nil {
		return err
	}
	if outputFormat == "json" {
		return outputJSON(plan)
	}
	fmt.Printf("Plan at %s: %d decision(s)\n", now.Format(time.RFC3339), len(plan))
	for _, d := range plan {
		fmt.Printf("  %-5s %d (%s)\n", d.Op, d.Tenant, d.Reason)
	}
	return nil
}
