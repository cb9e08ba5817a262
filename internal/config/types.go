package config

// Config is the on-disk configuration (JSON or YAML).
type Config struct {
	Telegram   TelegramConfig   `json:"telegram"`
	Logging    LoggingConfig    `json:"logging"`
	Storage    StorageConfig    `json:"storage"`
	Notifier   *NotifierConfig  `json:"notifier,omitempty"`
	Broadcast  BroadcastConfig  `json:"broadcast"`
	Forwarding ForwardingConfig `json:"forwarding"`
}

type TelegramConfig struct {
	// Token is the front-end bot token (do not log).
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	// GroupLog is "<chat_id>" or "<chat_id>:<thread_id>" for the ops-log sink.
	GroupLog string `json:"group_log"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig selects the tenant record store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./fwdbot.db", "busy_timeout": "5s" }
//	"storage": { "driver": "redis", "redis_url": "redis://localhost:6379/0", "key_prefix": "fwdbot" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
	RedisURL    string `json:"redis_url,omitempty"`    // do not log, may carry a password
	KeyPrefix   string `json:"key_prefix,omitempty"`
}

// NotifierConfig controls the async tenant notification pipeline.
//
// All durations are Go duration strings. If the whole section is omitted the
// notifier runs with defaults.
type NotifierConfig struct {
	Enabled         bool   `json:"enabled"`
	Workers         int    `json:"workers"`
	QueueSize       int    `json:"queue_size"`
	RatePerSec      int    `json:"rate_per_sec"`
	RetryMax        int    `json:"retry_max"`
	RetryBase       string `json:"retry_base"`
	RetryMaxDelay   string `json:"retry_max_delay"`
	DedupWindow     string `json:"dedup_window"`
	DedupMaxEntries int    `json:"dedup_max_entries"`
}

type BroadcastConfig struct {
	Workers    int `json:"workers"`
	RatePerSec int `json:"rate_per_sec"`
	RetryMax   int `json:"retry_max"`
}

// ForwardingConfig tunes the per-tenant forwarding loops and the reconciler.
//
// Defaults (when fields are omitted/zero):
//   - default_delay_seconds: 5
//   - allowed_delays: [5, 10, 30]
//   - premium_delays: [2]
//   - cycle_pause: "30s"
//   - empty_source_retry: "60s"
//   - error_backoff: "60s"
//   - reconcile_every: "60s"
//   - stop_timeout: "15s"
//   - free_account_limit: 1
type ForwardingConfig struct {
	DefaultDelaySeconds int    `json:"default_delay_seconds"`
	AllowedDelays       []int  `json:"allowed_delays,omitempty"`
	PremiumDelays       []int  `json:"premium_delays,omitempty"`
	CyclePause          string `json:"cycle_pause,omitempty"`
	EmptySourceRetry    string `json:"empty_source_retry,omitempty"`
	ErrorBackoff        string `json:"error_backoff,omitempty"`
	ReconcileEvery      string `json:"reconcile_every,omitempty"`
	StopTimeout         string `json:"stop_timeout,omitempty"`
	FreeAccountLimit    int    `json:"free_account_limit,omitempty"`
}
