// Package telegram implements account handles on top of the Bot API.
//
// A handle is a bot token registered by the tenant. The bot must be a member
// of every destination group and able to read the source chat.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
	tele "gopkg.in/telebot.v4"

	"fwdbot/internal/account"
	"fwdbot/internal/forwarder"
	"fwdbot/internal/tenant"
	logx "fwdbot/pkg/logx"
)

// Records reads the tenant record the handle forwards for.
type Records interface {
	Get(ctx context.Context, id int64) (tenant.Tenant, error)
}

// API is the slice of *tele.Bot a handle uses.
type API interface {
	ChatByID(id int64) (*tele.Chat, error)
	Forward(to tele.Recipient, msg tele.Editable, opts ...any) (*tele.Message, error)
}

type Dialer struct {
	records Records
	log     logx.Logger
	url     string
	timeout time.Duration
}

type DialerOption func(*Dialer)

// WithAPIURL points handles at a Bot API server other than the public one.
func WithAPIURL(u string) DialerOption { return func(d *Dialer) { d.url = u } }

func WithTimeout(t time.Duration) DialerOption { return func(d *Dialer) { d.timeout = t } }

func NewDialer(records Records, log logx.Logger, opts ...DialerOption) *Dialer {
	if log.IsZero() {
		log = logx.Nop()
	}
	d := &Dialer{records: records, log: log, timeout: 30 * time.Second}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Dial validates token with getMe and returns a connected handle.
func (d *Dialer) Dial(ctx context.Context, tenantID int64, name, token string) (account.Handle, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, errors.New("empty bot token")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  token,
		URL:    d.url,
		Client: &http.Client{Timeout: d.timeout},
	})
	if err != nil {
		return nil, classify(err)
	}
	log := d.log.With(logx.Tenant(tenantID), logx.String("account", name))
	if b.Me != nil {
		log = log.With(logx.String("bot", b.Me.Username))
	}
	return NewHandle(tenantID, name, b, d.records, log), nil
}

// Handle is one connected bot account.
type Handle struct {
	tenantID int64
	name     string
	api      API
	records  Records
	log      logx.Logger
}

func NewHandle(tenantID int64, name string, api API, records Records, log logx.Logger) *Handle {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Handle{tenantID: tenantID, name: name, api: api, records: records, log: log}
}

func (h *Handle) ID() string { return h.name }

func (h *Handle) Close() error { return nil }

// Destinations resolves the tenant's registered groups. Groups the bot can
// no longer see are skipped; a revoked token ends the run.
func (h *Handle) Destinations(ctx context.Context) ([]forwarder.Destination, error) {
	t, err := h.records.Get(ctx, h.tenantID)
	if err != nil {
		return nil, fmt.Errorf("load tenant: %w", err)
	}
	out := make([]forwarder.Destination, 0, len(t.Groups))
	for _, id := range t.Groups {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		chat, err := h.api.ChatByID(id)
		if err != nil {
			cerr := classify(err)
			switch {
			case errors.Is(cerr, forwarder.ErrUnauthorized):
				return nil, cerr
			case errors.Is(cerr, forwarder.ErrRejected):
				h.log.Debug("group not reachable", logx.Int64("chat_id", id), logx.Err(err))
				continue
			}
			// Deliver reports the real outcome.
			out = append(out, forwarder.Destination{ChatID: id})
			continue
		}
		if !isGroup(chat.Type) {
			continue
		}
		out = append(out, forwarder.Destination{ChatID: id, Title: chat.Title})
	}
	return out, nil
}

func isGroup(t tele.ChatType) bool {
	switch t {
	case tele.ChatGroup, tele.ChatSuperGroup, tele.ChatChannel:
		return true
	}
	return false
}

func (h *Handle) Source(ctx context.Context) (fn.Option[forwarder.Message], error) {
	t, err := h.records.Get(ctx, h.tenantID)
	if err != nil {
		return fn.None[forwarder.Message](), fmt.Errorf("load tenant: %w", err)
	}
	out := fn.None[forwarder.Message]()
	t.Source.WhenSome(func(s tenant.SourceRef) {
		out = fn.Some(forwarder.Message{ChatID: s.ChatID, MessageID: s.MessageID})
	})
	return out, nil
}

func (h *Handle) Deliver(ctx context.Context, dst forwarder.Destination, msg forwarder.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	src := &tele.StoredMessage{MessageID: strconv.Itoa(msg.MessageID), ChatID: msg.ChatID}
	_, err := h.api.Forward(&tele.Chat{ID: dst.ChatID}, src)
	return classify(err)
}
