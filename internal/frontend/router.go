// Package frontend routes bot commands from the transport update stream to
// the control service.
package frontend

import (
	"context"
	"fmt"
	"runtime/debug"
	"slices"
	"strings"
	"sync"
	"time"

	"fwdbot/internal/runtime/supervisor"
	"fwdbot/internal/transport"
	logx "fwdbot/pkg/logx"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessOwnerOnly
)

type HandlerFunc func(ctx context.Context, req *Request) error

type Command struct {
	Name        string
	Aliases     []string
	Description string
	Usage       string
	Access      Access
	// Timeout overrides the router default.
	Timeout time.Duration
	Handle  HandlerFunc
}

// Request is one routed command.
type Request struct {
	Message  *transport.Message
	Chat     transport.ChatTarget
	FromID   int64
	Username string
	Command  string
	Args     []string
	// Rest is the text after the command word, unsplit.
	Rest    string
	ReqID   string
	IsOwner bool

	Adapter transport.Adapter
	Logger  logx.Logger
}

func (r *Request) Reply(ctx context.Context, text string) error {
	_, err := r.Adapter.SendText(ctx, r.Chat, text, &transport.SendOptions{DisablePreview: true})
	return err
}

func (r *Request) ReplyHTML(ctx context.Context, text string) error {
	_, err := r.Adapter.SendText(ctx, r.Chat, text, &transport.SendOptions{DisablePreview: true, ParseMode: "HTML"})
	return err
}

// Router dispatches commands to a bounded worker pool.
type Router struct {
	mu       sync.RWMutex
	commands map[string]*Command
	alias    map[string]*Command
	ordered  []Command
	owners   []int64

	log     logx.Logger
	adapter transport.Adapter
	timeout time.Duration
	workers int

	jobs chan func()
}

type RouterOption func(*Router)

func WithWorkers(n int) RouterOption              { return func(r *Router) { r.workers = n } }
func WithTimeout(d time.Duration) RouterOption    { return func(r *Router) { r.timeout = d } }
func WithOwners(ids []int64) RouterOption         { return func(r *Router) { r.owners = slices.Clone(ids) } }
func WithRouterLogger(l logx.Logger) RouterOption { return func(r *Router) { r.log = l } }

func NewRouter(adapter transport.Adapter, opts ...RouterOption) *Router {
	r := &Router{
		commands: map[string]*Command{},
		alias:    map[string]*Command{},
		adapter:  adapter,
		timeout:  30 * time.Second,
		workers:  4,
		jobs:     make(chan func(), 256),
	}
	for _, o := range opts {
		o(r)
	}
	if r.log.IsZero() {
		r.log = logx.Nop()
	}
	r.log = r.log.With(logx.String("comp", "frontend"))
	return r
}

// SetOwners replaces the owner list. Safe during hot reload.
func (r *Router) SetOwners(owners []int64) {
	r.mu.Lock()
	r.owners = slices.Clone(owners)
	r.mu.Unlock()
}

func (r *Router) isOwner(id int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Contains(r.owners, id)
}

// SetCommands replaces the command table and republishes the bot menu.
func (r *Router) SetCommands(ctx context.Context, cmds []Command) {
	commands := map[string]*Command{}
	alias := map[string]*Command{}
	ordered := make([]Command, 0, len(cmds))
	for _, c := range cmds {
		name := strings.ToLower(strings.TrimSpace(c.Name))
		if name == "" || c.Handle == nil {
			continue
		}
		cc := c
		cc.Name = name
		commands[name] = &cc
		ordered = append(ordered, cc)
		for _, a := range c.Aliases {
			if a = strings.ToLower(strings.TrimSpace(a)); a != "" {
				alias[a] = &cc
			}
		}
	}
	r.mu.Lock()
	r.commands, r.alias, r.ordered = commands, alias, ordered
	r.mu.Unlock()

	up, ok := r.adapter.(transport.CommandMenuUpdater)
	if !ok {
		return
	}
	menu := make([]transport.BotCommand, 0, len(ordered))
	for _, c := range ordered {
		if c.Access == AccessEveryone {
			menu = append(menu, transport.BotCommand{Command: c.Name, Description: c.Description})
		}
	}
	go func() {
		mctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := up.UpdateMenuCommands(mctx, menu); err != nil {
			r.log.Debug("menu update failed", logx.Err(err))
		}
	}()
}

func (r *Router) lookup(word string) (*Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if c, ok := r.commands[word]; ok {
		return c, true
	}
	c, ok := r.alias[word]
	return c, ok
}

// Commands returns the registered commands in registration order.
func (r *Router) Commands() []Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.ordered)
}

// DispatchLoop consumes updates until ctx is done or the channel closes.
func (r *Router) DispatchLoop(ctx context.Context, updates <-chan transport.Update) error {
	sup := supervisor.New(ctx, supervisor.WithLogger(r.log), supervisor.WithCancelOnError(false))
	for i := range max(r.workers, 1) {
		idx := i
		sup.GoRestart(fmt.Sprintf("frontend.worker.%d", idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return context.Canceled
				case job := <-r.jobs:
					r.runJob(idx, job)
				}
			}
		}, supervisor.WithRestartBackoff(200*time.Millisecond, 5*time.Second))
	}
	r.log.Info("command dispatcher started", logx.Int("workers", r.workers))

	defer func() {
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Stop(wctx)
		cancel()
		r.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			r.route(ctx, up)
		}
	}
}

func (r *Router) runJob(worker int, job func()) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("panic in command job", logx.Int("worker", worker), logx.Any("panic", p), logx.String("stack", string(debug.Stack())))
		}
	}()
	job()
}

func (r *Router) route(ctx context.Context, up transport.Update) {
	msg := up.Message
	if msg == nil || !msg.IsPrivate {
		return
	}
	text := strings.TrimSpace(msg.Text)
	if !strings.HasPrefix(text, "/") {
		return
	}
	word, rest, _ := strings.Cut(text[1:], " ")
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}
	word = strings.ToLower(word)
	chat := transport.ChatTarget{ChatID: msg.ChatID}

	cmd, ok := r.lookup(word)
	if !ok {
		_, _ = r.adapter.SendText(ctx, chat, "Unknown command. Try /help", nil)
		return
	}
	owner := r.isOwner(msg.FromID)
	if cmd.Access == AccessOwnerOnly && !owner {
		_, _ = r.adapter.SendText(ctx, chat, "❌ This command is for admins only.", nil)
		return
	}

	rid := newReqID()
	reqLog := r.log.With(
		logx.String("rid", rid),
		logx.Tenant(msg.FromID),
		logx.String("cmd", cmd.Name),
	)
	req := &Request{
		Message:  msg,
		Chat:     chat,
		FromID:   msg.FromID,
		Username: msg.FromUsername,
		Command:  cmd.Name,
		Args:     tokenizeCommandLine(rest),
		Rest:     strings.TrimSpace(rest),
		ReqID:    rid,
		IsOwner:  owner,
		Adapter:  r.adapter,
		Logger:   reqLog,
	}
	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = r.timeout
	}
	final := Chain(cmd.Handle,
		MWPanicRecover(r.log),
		MWRequestLog(r.log),
		MWTimeout(timeout),
		MWErrorReply(),
	)
	select {
	case r.jobs <- func() { _ = final(ctx, req) }:
	default:
		_, _ = r.adapter.SendText(ctx, chat, "Busy, try again in a moment.", nil)
	}
}
