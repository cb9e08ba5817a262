package config

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	logx "fwdbot/pkg/logx"
)

// Forwarding is ForwardingConfig with defaults applied and durations parsed.
type Forwarding struct {
	DefaultDelaySeconds int
	AllowedDelays       []int
	PremiumDelays       []int
	CyclePause          time.Duration
	EmptySourceRetry    time.Duration
	ErrorBackoff        time.Duration
	ReconcileEvery      time.Duration
	StopTimeout         time.Duration
	FreeAccountLimit    int
}

func (f ForwardingConfig) Resolve() (Forwarding, error) {
	out := Forwarding{
		DefaultDelaySeconds: f.DefaultDelaySeconds,
		AllowedDelays:       slices.Clone(f.AllowedDelays),
		PremiumDelays:       slices.Clone(f.PremiumDelays),
		FreeAccountLimit:    f.FreeAccountLimit,
	}
	if out.DefaultDelaySeconds <= 0 {
		out.DefaultDelaySeconds = 5
	}
	if len(out.AllowedDelays) == 0 {
		out.AllowedDelays = []int{5, 10, 30}
	}
	if len(out.PremiumDelays) == 0 {
		out.PremiumDelays = []int{2}
	}
	if out.FreeAccountLimit <= 0 {
		out.FreeAccountLimit = 1
	}
	for _, d := range append(slices.Clone(out.AllowedDelays), out.PremiumDelays...) {
		if d <= 0 {
			return Forwarding{}, fmt.Errorf("forwarding: delays must be positive, got %d", d)
		}
	}
	if !slices.Contains(out.AllowedDelays, out.DefaultDelaySeconds) {
		return Forwarding{}, fmt.Errorf("forwarding.default_delay_seconds: %d is not in allowed_delays %v", out.DefaultDelaySeconds, out.AllowedDelays)
	}

	var err error
	durs := []struct {
		path string
		raw  string
		def  time.Duration
		dst  *time.Duration
	}{
		{"forwarding.cycle_pause", f.CyclePause, 30 * time.Second, &out.CyclePause},
		{"forwarding.empty_source_retry", f.EmptySourceRetry, 60 * time.Second, &out.EmptySourceRetry},
		{"forwarding.error_backoff", f.ErrorBackoff, 60 * time.Second, &out.ErrorBackoff},
		{"forwarding.reconcile_every", f.ReconcileEvery, 60 * time.Second, &out.ReconcileEvery},
		{"forwarding.stop_timeout", f.StopTimeout, 15 * time.Second, &out.StopTimeout},
	}
	for _, d := range durs {
		if *d.dst, err = ParseDurationOrDefault(d.path, d.raw, d.def); err != nil {
			return Forwarding{}, err
		}
	}
	if out.ReconcileEvery < time.Second {
		return Forwarding{}, errors.New("forwarding.reconcile_every: must be at least 1s")
	}
	return out, nil
}

// Notifier is NotifierConfig with defaults applied and durations parsed.
type Notifier struct {
	Enabled         bool
	Workers         int
	QueueSize       int
	RatePerSec      int
	RetryMax        int
	RetryBase       time.Duration
	RetryMaxDelay   time.Duration
	DedupWindow     time.Duration
	DedupMaxEntries int
}

func (c *Config) ResolveNotifier() (Notifier, error) {
	n := NotifierConfig{Enabled: true}
	if c.Notifier != nil {
		n = *c.Notifier
	}
	out := Notifier{
		Enabled:         n.Enabled,
		Workers:         n.Workers,
		QueueSize:       n.QueueSize,
		RatePerSec:      n.RatePerSec,
		RetryMax:        n.RetryMax,
		DedupMaxEntries: n.DedupMaxEntries,
	}
	if out.Workers <= 0 {
		out.Workers = 2
	}
	if out.QueueSize <= 0 {
		out.QueueSize = 512
	}
	if out.RatePerSec <= 0 {
		out.RatePerSec = 20
	}
	if out.RetryMax < 0 {
		return Notifier{}, errors.New("notifier.retry_max: must be >= 0")
	}
	if out.DedupMaxEntries <= 0 {
		out.DedupMaxEntries = 1024
	}
	var err error
	if out.RetryBase, err = ParseDurationOrDefault("notifier.retry_base", n.RetryBase, 500*time.Millisecond); err != nil {
		return Notifier{}, err
	}
	if out.RetryMaxDelay, err = ParseDurationOrDefault("notifier.retry_max_delay", n.RetryMaxDelay, 10*time.Second); err != nil {
		return Notifier{}, err
	}
	// A zero dedup window disables dedup.
	if out.DedupWindow, err = ParseDurationField("notifier.dedup_window", n.DedupWindow); err != nil {
		return Notifier{}, err
	}
	return out, nil
}

// GroupLogTarget parses telegram.group_log ("<chat_id>" or "<chat_id>:<thread_id>").
// ok is false when the field is empty.
func (t TelegramConfig) GroupLogTarget() (chatID int64, threadID int, ok bool, err error) {
	s := strings.TrimSpace(t.GroupLog)
	if s == "" {
		return 0, 0, false, nil
	}
	chat, thread, hasThread := strings.Cut(s, ":")
	chatID, err = strconv.ParseInt(strings.TrimSpace(chat), 10, 64)
	if err != nil {
		return 0, 0, false, fmt.Errorf("telegram.group_log: invalid chat id %q", chat)
	}
	if hasThread {
		threadID, err = strconv.Atoi(strings.TrimSpace(thread))
		if err != nil {
			return 0, 0, false, fmt.Errorf("telegram.group_log: invalid thread id %q", thread)
		}
	}
	return chatID, threadID, true, nil
}

// IsOwner reports whether userID is listed in telegram.owner_user_ids.
func (t TelegramConfig) IsOwner(userID int64) bool {
	return slices.Contains(t.OwnerUserIDs, userID)
}

// LogConfig maps the logging section onto the logx service config.
func (c *Config) LogConfig() logx.Config {
	chatID, _, _, _ := c.Telegram.GroupLogTarget()
	return logx.Config{
		Level:   c.Logging.Level,
		Console: c.Logging.Console,
		File:    logx.FileConfig{Enabled: c.Logging.File.Enabled, Path: c.Logging.File.Path},
		Telegram: logx.TelegramConfig{
			Enabled:    c.Logging.Telegram.Enabled,
			ChatID:     chatID,
			ThreadID:   c.Logging.Telegram.ThreadID,
			MinLevel:   c.Logging.Telegram.MinLevel,
			RatePerSec: c.Logging.Telegram.RatePerSec,
		},
	}
}

// Validate checks everything that can be checked without touching the network.
func Validate(c *Config) error {
	if c == nil {
		return errors.New("config is nil")
	}
	var errs []error
	if strings.TrimSpace(c.Telegram.Token) == "" {
		errs = append(errs, errors.New("telegram.token: required"))
	}
	if _, err := ParseDurationField("telegram.poll_timeout", c.Telegram.PollTimeout); err != nil {
		errs = append(errs, err)
	}
	if _, _, _, err := c.Telegram.GroupLogTarget(); err != nil {
		errs = append(errs, err)
	}
	if _, ok := logx.ParseLevel(c.Logging.Level); !ok {
		errs = append(errs, fmt.Errorf("logging.level: unknown level %q", c.Logging.Level))
	}
	if _, ok := logx.ParseLevel(c.Logging.Telegram.MinLevel); !ok {
		errs = append(errs, fmt.Errorf("logging.telegram.min_level: unknown level %q", c.Logging.Telegram.MinLevel))
	}
	if err := validateStorage(c.Storage); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.ResolveNotifier(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Forwarding.Resolve(); err != nil {
		errs = append(errs, err)
	}
	if c.Broadcast.Workers < 0 || c.Broadcast.RatePerSec < 0 || c.Broadcast.RetryMax < 0 {
		errs = append(errs, errors.New("broadcast: values must be >= 0"))
	}
	return errors.Join(errs...)
}

func validateStorage(s StorageConfig) error {
	switch strings.ToLower(strings.TrimSpace(s.Driver)) {
	case "", "file", "sqlite":
		if _, err := ParseDurationField("storage.busy_timeout", s.BusyTimeout); err != nil {
			return err
		}
	case "redis":
		if strings.TrimSpace(s.RedisURL) == "" {
			return errors.New("storage.redis_url: required for the redis driver")
		}
		u, err := url.Parse(s.RedisURL)
		if err != nil || (u.Scheme != "redis" && u.Scheme != "rediss") {
			return errors.New("storage.redis_url: expected redis:// or rediss:// URL")
		}
	default:
		return fmt.Errorf("storage.driver: unknown driver %q (file|sqlite|redis)", s.Driver)
	}
	return nil
}
