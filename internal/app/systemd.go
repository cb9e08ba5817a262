package app

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "fwdbot/pkg/logx"
)

// sdNotify reports lifecycle state to systemd. Outside a Type=notify unit
// every call is a no-op.
type sdNotify struct {
	log logx.Logger
}

func (n sdNotify) send(state string) {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		n.log.Warn("systemd notify failed", logx.String("state", state), logx.Err(err))
		return
	}
	if sent {
		n.log.Debug("systemd notified", logx.String("state", state))
	}
}

func (n sdNotify) ready()    { n.send(daemon.SdNotifyReady) }
func (n sdNotify) stopping() { n.send(daemon.SdNotifyStopping) }

// watchdog pings systemd at half the configured WatchdogSec until ctx is done.
// It returns at once when the unit has no watchdog.
func (n sdNotify) watchdog(ctx context.Context) {
	every, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		n.log.Warn("systemd watchdog check failed", logx.Err(err))
		return
	}
	if every <= 0 {
		return
	}
	t := time.NewTicker(every / 2)
	defer t.Stop()
	n.log.Info("systemd watchdog enabled", logx.Duration("interval", every))
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n.send(daemon.SdNotifyWatchdog)
		}
	}
}
