package app

import (
	"slices"
	"strings"

	"fwdbot/internal/config"
	"fwdbot/internal/forwarder"
	"fwdbot/internal/notifier"
	"fwdbot/internal/notifier/broadcast"
	"fwdbot/internal/storage"
	"fwdbot/internal/tenant"
)

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	busy, err := config.ParseDurationField("storage.busy_timeout", sc.BusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      strings.ToLower(strings.TrimSpace(sc.Driver)),
		Path:        strings.TrimSpace(sc.Path),
		BusyTimeout: busy,
		RedisURL:    strings.TrimSpace(sc.RedisURL),
		KeyPrefix:   strings.TrimSpace(sc.KeyPrefix),
	}, nil
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	n, err := cfg.ResolveNotifier()
	if err != nil {
		return notifier.Config{}, err
	}
	return notifier.Config{
		Enabled:         n.Enabled,
		Workers:         n.Workers,
		QueueSize:       n.QueueSize,
		RatePerSec:      n.RatePerSec,
		RetryMax:        n.RetryMax,
		RetryBase:       n.RetryBase,
		RetryMaxDelay:   n.RetryMaxDelay,
		DedupWindow:     n.DedupWindow,
		DedupMaxEntries: n.DedupMaxEntries,
	}, nil
}

func mapBroadcastConfig(cfg *config.Config) broadcast.Config {
	return broadcast.Config{
		Workers:    cfg.Broadcast.Workers,
		RatePerSec: cfg.Broadcast.RatePerSec,
		RetryMax:   cfg.Broadcast.RetryMax,
	}
}

func forwarderTiming(f config.Forwarding) forwarder.Timing {
	return forwarder.Timing{
		CyclePause:       f.CyclePause,
		EmptySourceRetry: f.EmptySourceRetry,
		ErrorBackoff:     f.ErrorBackoff,
	}
}

func delayPolicy(f config.Forwarding) tenant.DelayPolicy {
	return tenant.DelayPolicy{
		Standard: slices.Clone(f.AllowedDelays),
		Premium:  slices.Clone(f.PremiumDelays),
	}
}
