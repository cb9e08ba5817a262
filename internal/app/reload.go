package app

import (
	"context"
	"slices"
	"strings"
	"time"

	"fwdbot/internal/config"
	logx "fwdbot/pkg/logx"
)

// reloadLoop applies hot-reloaded config to the live components.
func (a *App) reloadLoop(c context.Context) {
	sub := a.cfgm.Subscribe(8)
	defer a.cfgm.Unsubscribe(sub)
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-c.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config in the channel.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					break drain
				}
			}
			a.apply(c, lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

func (a *App) apply(c context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if restart := config.RequiresRestart(sections); len(restart) > 0 {
		a.log.Warn("some changes apply after restart", logx.String("sections", strings.Join(restart, ",")))
	}

	a.logs.Apply(newCfg.LogConfig())
	a.router.SetOwners(newCfg.Telegram.OwnerUserIDs)
	a.bcast.Apply(mapBroadcastConfig(newCfg))

	if ncfg, err := mapNotifierConfig(newCfg); err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
	} else {
		wasEnabled := a.notif.Enabled()
		a.notif.Apply(ncfg)
		switch {
		case wasEnabled && !ncfg.Enabled:
			a.log.Info("notifier disabled via config")
			stopCtx, cancel := context.WithTimeout(c, 3*time.Second)
			a.notif.Stop(stopCtx)
			cancel()
		case !wasEnabled && ncfg.Enabled:
			a.log.Info("notifier enabled via config")
			a.notif.Start(a.outbound)
		}
	}

	if slices.Contains(sections, "forwarding") {
		if fw, err := newCfg.Forwarding.Resolve(); err != nil {
			a.log.Warn("invalid forwarding config; keeping previous", logx.Err(err))
		} else {
			a.loops.SetTiming(forwarderTiming(fw))
			a.log.Info("forwarding timings apply to loops started from now on; delay options and reconcile period apply after restart")
		}
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}
