package notifier

import (
	"context"
	"time"

	"fwdbot/internal/transport"
)

// Config controls the notification pipeline.
type Config struct {
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

// Sender is the transport slice the notifier needs.
type Sender interface {
	SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error)
}

type HistoryItem struct {
	At     time.Time
	Tenant int64
	Text   string
}

// Event is published on the bus for sent, failed and dropped notifications.
type Event struct {
	Tenant int64     `json:"tenant"`
	Key    string    `json:"key"`
	At     time.Time `json:"at"`
	Error  string    `json:"error,omitempty"`
}
