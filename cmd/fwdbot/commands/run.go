package commands

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"fwdbot/internal/app"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the bot daemon",
	Long: `Start the front-end bot, dial every stored account, resume enabled
tenants and keep window-managed tenants reconciled until SIGINT or SIGTERM.`,
	Args: cobra.NoArgs,
	RunE: runDaemon,
}

var stopTimeout time.Duration

func init() {
	runCmd.Flags().DurationVar(
		&stopTimeout, "stop-timeout", 30*time.Second,
		"Upper bound for graceful shutdown",
	)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	a, err := app.New(ctx, cfgPath)
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		stopCtx, stop := context.WithTimeout(context.Background(), stopTimeout)
		defer stop()
		return errors.Join(err, a.Stop(stopCtx, app.StopFatalError))
	}

	reason := app.StopUnknown
	select {
	case sig := <-sigs:
		reason = app.StopSIGINT
		if sig == syscall.SIGTERM {
			reason = app.StopSIGTERM
		}
	case <-a.Done():
		reason = app.StopFatalError
	}

	stopCtx, stop := context.WithTimeout(context.Background(), stopTimeout)
	defer stop()
	fatal := a.Err()
	if err := a.Stop(stopCtx, reason); err != nil && fatal == nil {
		return err
	}
	return fatal
}
