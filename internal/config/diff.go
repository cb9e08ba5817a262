package config

import (
	"slices"
	"strings"

	logx "fwdbot/pkg/logx"
)

// SummarizeChange returns the changed top-level sections and safe structured
// attrs for logging. Secrets (tokens, redis URLs) are never included.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 12)

	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if strings.TrimSpace(ot.PollTimeout) != strings.TrimSpace(nt.PollTimeout) ||
		!slices.Equal(ot.OwnerUserIDs, nt.OwnerUserIDs) ||
		strings.TrimSpace(ot.GroupLog) != strings.TrimSpace(nt.GroupLog) ||
		ot.Token != nt.Token {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Int("telegram.owner_count", len(nt.OwnerUserIDs)),
			logx.Bool("telegram.group_log_set", strings.TrimSpace(nt.GroupLog) != ""),
			logx.Bool("telegram.token_changed", ot.Token != nt.Token),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.file", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram", newCfg.Logging.Telegram.Enabled),
		)
	}

	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs, logx.String("storage.driver", newCfg.Storage.Driver))
	}

	on, _ := oldCfg.ResolveNotifier()
	nn, _ := newCfg.ResolveNotifier()
	if on != nn {
		changed = append(changed, "notifier")
		attrs = append(attrs,
			logx.Bool("notifier.enabled", nn.Enabled),
			logx.Int("notifier.workers", nn.Workers),
			logx.Int("notifier.rate_per_sec", nn.RatePerSec),
		)
	}

	if oldCfg.Broadcast != newCfg.Broadcast {
		changed = append(changed, "broadcast")
	}

	of, nf := oldCfg.Forwarding, newCfg.Forwarding
	if of.DefaultDelaySeconds != nf.DefaultDelaySeconds ||
		!slices.Equal(of.AllowedDelays, nf.AllowedDelays) ||
		!slices.Equal(of.PremiumDelays, nf.PremiumDelays) ||
		of.CyclePause != nf.CyclePause ||
		of.EmptySourceRetry != nf.EmptySourceRetry ||
		of.ErrorBackoff != nf.ErrorBackoff ||
		of.ReconcileEvery != nf.ReconcileEvery ||
		of.StopTimeout != nf.StopTimeout ||
		of.FreeAccountLimit != nf.FreeAccountLimit {
		changed = append(changed, "forwarding")
		attrs = append(attrs, logx.String("forwarding.reconcile_every", nf.ReconcileEvery))
	}

	return changed, attrs
}

// RequiresRestart reports sections that only take effect on process restart.
func RequiresRestart(changed []string) []string {
	var out []string
	for _, s := range changed {
		switch s {
		case "telegram", "storage":
			out = append(out, s)
		}
	}
	return out
}
