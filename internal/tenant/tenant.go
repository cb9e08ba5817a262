package tenant

import (
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
)

// DefaultDelaySeconds is the pacing delay a new tenant starts with.
const DefaultDelaySeconds = 5

// SourceRef points at the message a tenant's loop forwards.
type SourceRef struct {
	ChatID    int64 `json:"chat_id"`
	MessageID int   `json:"message_id"`
}

// Tenant is the persisted per-user forwarding configuration.
type Tenant struct {
	ID           int64
	Username     string
	Enabled      bool
	Premium      bool
	Banned       bool
	DelaySeconds int
	Window       Window
	Source       fn.Option[SourceRef]

	// Accounts maps an account name to its credential (bot token).
	Accounts map[string]string
	// Groups are the destination chat ids registered for the tenant.
	Groups []int64

	CreatedAt time.Time
}

// New returns the default record for a tenant seen for the first time.
func New(id int64, now time.Time) Tenant {
	return Tenant{
		ID:           id,
		DelaySeconds: DefaultDelaySeconds,
		Accounts:     map[string]string{},
		CreatedAt:    now.UTC(),
	}
}

func (t Tenant) SourceConfigured() bool { return t.Source.IsSome() }

func (t Tenant) HasAccounts() bool { return len(t.Accounts) > 0 }

// Delay is the pacing delay between destinations.
func (t Tenant) Delay() time.Duration {
	if t.DelaySeconds <= 0 {
		return DefaultDelaySeconds * time.Second
	}
	return time.Duration(t.DelaySeconds) * time.Second
}

// WindowManaged reports whether the reconciler owns this tenant's run state:
// premium with both window bounds set.
func (t Tenant) WindowManaged() bool {
	_, _, ok := t.Window.Bounds()
	return t.Premium && ok
}

// Desired is the reconciler's target run state. managed is false for
// tenants the reconciler must leave alone.
func (t Tenant) Desired(now time.Time) (desired, managed bool) {
	if !t.WindowManaged() {
		return false, false
	}
	return t.Enabled && t.Window.Active(now), true
}

// AccountNames returns account names in a stable order.
func (t Tenant) AccountNames() []string {
	return sortedKeys(t.Accounts)
}

// HasGroup reports whether chatID is a registered destination.
func (t Tenant) HasGroup(chatID int64) bool {
	for _, g := range t.Groups {
		if g == chatID {
			return true
		}
	}
	return false
}
