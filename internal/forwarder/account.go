package forwarder

import (
	"context"

	"github.com/lightningnetwork/lnd/fn/v2"
)

// Destination is one chat the source message is forwarded to.
type Destination struct {
	ChatID int64
	Title  string
}

func (d Destination) Name() string {
	if d.Title != "" {
		return d.Title
	}
	return "chat " + itoa(d.ChatID)
}

// Message identifies the message to forward.
type Message struct {
	ChatID    int64
	MessageID int
}

// Account is a connected, capability-checked handle owned by one tenant.
type Account interface {
	// ID names the account in logs.
	ID() string
	// Destinations enumerates the current destinations. It returns
	// ErrUnauthorized when the account needs re-authentication; an empty
	// result is not an error.
	Destinations(ctx context.Context) ([]Destination, error)
	// Source returns the message to forward, or None when unset.
	Source(ctx context.Context) (fn.Option[Message], error)
	// Deliver forwards msg to dst. Errors should wrap ErrRejected,
	// ErrTransient or be a *RateLimitError; anything else is unexpected.
	Deliver(ctx context.Context, dst Destination, msg Message) error
}

// Notifier sends a best-effort message to a tenant. Implementations must not
// block for long and must drop work whose ctx is already done.
type Notifier interface {
	Notify(ctx context.Context, tenantID int64, text string) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, tenantID int64, text string) error

func (f NotifierFunc) Notify(ctx context.Context, tenantID int64, text string) error {
	return f(ctx, tenantID, text)
}
