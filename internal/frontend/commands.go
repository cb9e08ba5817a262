package frontend

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strconv"
	"strings"

	"fwdbot/internal/account"
	"fwdbot/internal/control"
	"fwdbot/internal/forwarder"
	"fwdbot/internal/storage"
	"fwdbot/internal/tenant"
)

// Handlers binds bot commands to the control service.
type Handlers struct {
	svc    *control.Service
	router *Router
}

func NewHandlers(svc *control.Service, router *Router) *Handlers {
	return &Handlers{svc: svc, router: router}
}

// Commands returns the full command table.
func (h *Handlers) Commands() []Command {
	return append(h.userCommands(), h.adminCommands()...)
}

func (h *Handlers) userCommands() []Command {
	return []Command{
		{Name: "start", Description: "Welcome and overview", Handle: h.open(h.start)},
		{Name: "help", Aliases: []string{"h"}, Description: "List commands", Handle: h.help},
		{Name: "on", Description: "Start forwarding", Handle: h.member(h.on)},
		{Name: "off", Description: "Stop forwarding", Handle: h.member(h.off)},
		{Name: "status", Description: "Show forwarding status", Handle: h.open(h.status)},
		{Name: "delay", Description: "Show or set the delay between groups", Usage: "/delay [seconds]", Handle: h.member(h.delay)},
		{Name: "window", Description: "Set the daily schedule (premium)", Usage: "/window HH:MM HH:MM", Handle: h.member(h.window)},
		{Name: "clearwindow", Description: "Remove the daily schedule", Handle: h.member(h.clearWindow)},
		{Name: "addaccount", Description: "Register a bot account", Usage: "/addaccount [name] <token>", Handle: h.member(h.addAccount)},
		{Name: "delaccount", Description: "Remove an account", Usage: "/delaccount <name>", Handle: h.member(h.delAccount)},
		{Name: "source", Description: "Set the ad message", Usage: "/source <chat_id> <message_id> | /source clear", Handle: h.member(h.source)},
		{Name: "addgroup", Description: "Add a destination group", Usage: "/addgroup <chat_id>", Handle: h.member(h.addGroup)},
		{Name: "delgroup", Description: "Remove a destination group", Usage: "/delgroup <chat_id>", Handle: h.member(h.delGroup)},
		{Name: "groups", Description: "Detect reachable groups", Handle: h.member(h.groups)},
		{Name: "logs", Description: "Your recent activity", Handle: h.open(h.logs)},
	}
}

// open touches the tenant record and runs fn.
func (h *Handlers) open(fn func(ctx context.Context, req *Request, t tenant.Tenant) error) HandlerFunc {
	return func(ctx context.Context, req *Request) error {
		t, err := h.svc.Touch(ctx, req.FromID, req.Username)
		if err != nil {
			return err
		}
		return fn(ctx, req, t)
	}
}

// member is open, but refuses banned tenants.
func (h *Handlers) member(fn func(ctx context.Context, req *Request, t tenant.Tenant) error) HandlerFunc {
	return h.open(func(ctx context.Context, req *Request, t tenant.Tenant) error {
		if t.Banned {
			return &tenant.AdmissionError{Reason: tenant.ReasonBanned}
		}
		return fn(ctx, req, t)
	})
}

func (h *Handlers) start(ctx context.Context, req *Request, t tenant.Tenant) error {
	name := req.Username
	if name == "" {
		name = "there"
	}
	lines := []string{
		fmt.Sprintf("👋 Hi %s! I forward your ad message to your groups on a loop.", html.EscapeString(name)),
		"",
		"1. /addaccount to register the bot account that posts",
		"2. /source to pick the message to forward",
		"3. /addgroup for each destination group",
		"4. /on to start",
		"",
		"Use /status at any time, or /help for every command.",
	}
	if t.Premium {
		lines = append(lines, "", "🌟 Premium is active: /window schedules daily runs.")
	}
	return req.ReplyHTML(ctx, strings.Join(lines, "\n"))
}

func (h *Handlers) help(ctx context.Context, req *Request) error {
	return req.ReplyHTML(ctx, helpText(h.router.Commands(), req.IsOwner))
}

func (h *Handlers) on(ctx context.Context, req *Request, _ tenant.Tenant) error {
	res, err := h.svc.ToggleOn(ctx, req.FromID)
	if err != nil {
		return err
	}
	switch {
	case res.AlreadyRunning:
		return req.Reply(ctx, "AdBot is already running.")
	case res.Scheduled:
		st, err := h.svc.Status(ctx, req.FromID)
		if err != nil {
			return err
		}
		return req.Reply(ctx, "🕒 AdBot is on. It will run inside your schedule ("+st.Tenant.Window.String()+").")
	default:
		return req.Reply(ctx, "✅ AdBot started.")
	}
}

func (h *Handlers) off(ctx context.Context, req *Request, _ tenant.Tenant) error {
	if err := h.svc.ToggleOff(ctx, req.FromID); err != nil {
		return err
	}
	return req.Reply(ctx, "🛑 AdBot stopped.")
}

func (h *Handlers) status(ctx context.Context, req *Request, _ tenant.Tenant) error {
	st, err := h.svc.Status(ctx, req.FromID)
	if err != nil {
		return err
	}
	return req.ReplyHTML(ctx, statusText(st))
}

func statusText(st control.Status) string {
	t := st.Tenant
	state := "🔴 stopped"
	if st.Running {
		state = fmt.Sprintf("🟢 running since %s UTC", st.Run.StartedAt.UTC().Format("2006-01-02 15:04"))
	}
	onOff := "off"
	if t.Enabled {
		onOff = "on"
	}
	plan := "free"
	if t.Premium {
		plan = "premium"
	}
	source := "not set"
	t.Source.WhenSome(func(s tenant.SourceRef) {
		source = fmt.Sprintf("message %d in chat %d", s.MessageID, s.ChatID)
	})
	accounts := "none"
	if names := t.AccountNames(); len(names) > 0 {
		accounts = html.EscapeString(strings.Join(names, ", "))
	}
	window := t.Window.String()
	if t.WindowManaged() {
		if st.WindowActive {
			window += " (inside)"
		} else {
			window += " (outside)"
		}
	}

	lines := []string{
		"📊 <b>AdBot status</b>",
		"State: " + state,
		"Switch: " + onOff,
		"Plan: " + plan,
		fmt.Sprintf("Delay: %ds", t.DelaySeconds),
		"Schedule: " + window,
		"Source: " + source,
		"Accounts: " + accounts,
		fmt.Sprintf("Groups: %d", len(t.Groups)),
	}
	var ae *tenant.AdmissionError
	if t.Enabled && errors.As(st.Admission, &ae) {
		lines = append(lines, "", "⚠️ "+html.EscapeString(ae.Message()))
	}
	return strings.Join(lines, "\n")
}

func (h *Handlers) delay(ctx context.Context, req *Request, t tenant.Tenant) error {
	opts := h.svc.Delays(t)
	if len(req.Args) == 0 {
		strs := make([]string, len(opts))
		for i, o := range opts {
			strs[i] = strconv.Itoa(o) + "s"
		}
		return req.Reply(ctx, fmt.Sprintf("Current delay: %ds\nOptions: %s\nUse /delay <seconds>.", t.DelaySeconds, strings.Join(strs, ", ")))
	}
	n, err := strconv.Atoi(strings.TrimSuffix(req.Args[0], "s"))
	if err != nil {
		return usage("/delay [seconds]")
	}
	if err := h.svc.SetDelay(ctx, req.FromID, n); err != nil {
		return err
	}
	return req.Reply(ctx, fmt.Sprintf("✅ Delay set to %ds.", n))
}

func (h *Handlers) window(ctx context.Context, req *Request, _ tenant.Tenant) error {
	if len(req.Args) != 2 {
		return usage("/window HH:MM HH:MM (24-hour, UTC)")
	}
	start, err := tenant.ParseClock(req.Args[0])
	if err != nil {
		return err
	}
	stop, err := tenant.ParseClock(req.Args[1])
	if err != nil {
		return err
	}
	if err := h.svc.SetWindow(ctx, req.FromID, start, stop); err != nil {
		return err
	}
	return req.Reply(ctx, fmt.Sprintf("✅ Schedule set: %s to %s UTC. It applies within a minute.", start, stop))
}

func (h *Handlers) clearWindow(ctx context.Context, req *Request, _ tenant.Tenant) error {
	if err := h.svc.ClearWindow(ctx, req.FromID); err != nil {
		return err
	}
	return req.Reply(ctx, "✅ Schedule cleared.")
}

func (h *Handlers) addAccount(ctx context.Context, req *Request, t tenant.Tenant) error {
	var name, token string
	switch len(req.Args) {
	case 1:
		name, token = fmt.Sprintf("account%d", len(t.Accounts)+1), req.Args[0]
	case 2:
		name, token = req.Args[0], req.Args[1]
	default:
		return usage("/addaccount [name] <token>")
	}
	if err := h.svc.AddAccount(ctx, req.FromID, name, token); err != nil {
		return err
	}
	return req.Reply(ctx, fmt.Sprintf("✅ Account %q added.", name))
}

func (h *Handlers) delAccount(ctx context.Context, req *Request, _ tenant.Tenant) error {
	if len(req.Args) != 1 {
		return usage("/delaccount <name>")
	}
	if err := h.svc.RemoveAccount(ctx, req.FromID, req.Args[0]); err != nil {
		return err
	}
	return req.Reply(ctx, fmt.Sprintf("✅ Account %q removed.", req.Args[0]))
}

func (h *Handlers) source(ctx context.Context, req *Request, _ tenant.Tenant) error {
	if len(req.Args) == 1 && strings.EqualFold(req.Args[0], "clear") {
		stopped, err := h.svc.ClearSource(ctx, req.FromID)
		if err != nil {
			return err
		}
		if stopped {
			return req.Reply(ctx, "✅ Ad message cleared. Forwarding has stopped; set a new one with /source and turn it back on with /on.")
		}
		return req.Reply(ctx, "✅ Ad message cleared.")
	}
	if len(req.Args) != 2 {
		return usage("/source <chat_id> <message_id> | /source clear")
	}
	chatID, err1 := strconv.ParseInt(req.Args[0], 10, 64)
	msgID, err2 := strconv.Atoi(req.Args[1])
	if err1 != nil || err2 != nil || msgID <= 0 {
		return usage("/source <chat_id> <message_id> | /source clear")
	}
	if err := h.svc.SetSource(ctx, req.FromID, tenant.SourceRef{ChatID: chatID, MessageID: msgID}); err != nil {
		return err
	}
	return req.Reply(ctx, "✅ Ad message set.")
}

func parseChatID(req *Request, u string) (int64, error) {
	if len(req.Args) != 1 {
		return 0, usage(u)
	}
	id, err := strconv.ParseInt(req.Args[0], 10, 64)
	if err != nil {
		return 0, usage(u)
	}
	return id, nil
}

func (h *Handlers) addGroup(ctx context.Context, req *Request, _ tenant.Tenant) error {
	id, err := parseChatID(req, "/addgroup <chat_id>")
	if err != nil {
		return err
	}
	if err := h.svc.AddGroup(ctx, req.FromID, id); err != nil {
		return err
	}
	return req.Reply(ctx, fmt.Sprintf("✅ Group %d added.", id))
}

func (h *Handlers) delGroup(ctx context.Context, req *Request, _ tenant.Tenant) error {
	id, err := parseChatID(req, "/delgroup <chat_id>")
	if err != nil {
		return err
	}
	if err := h.svc.RemoveGroup(ctx, req.FromID, id); err != nil {
		return err
	}
	return req.Reply(ctx, fmt.Sprintf("✅ Group %d removed.", id))
}

func (h *Handlers) groups(ctx context.Context, req *Request, _ tenant.Tenant) error {
	names, err := h.svc.DetectGroups(ctx, req.FromID)
	if err != nil {
		return err
	}
	if len(names) == 0 {
		return req.Reply(ctx, "⚠️ No groups were detected. Add the bot to your groups and register them with /addgroup.")
	}
	lines := []string{fmt.Sprintf("✅ %d groups detected:", len(names))}
	for _, n := range names {
		lines = append(lines, "• "+n)
	}
	return req.Reply(ctx, strings.Join(lines, "\n"))
}

func (h *Handlers) logs(ctx context.Context, req *Request, _ tenant.Tenant) error {
	return h.replyLogs(ctx, req, req.FromID, 10)
}

func (h *Handlers) replyLogs(ctx context.Context, req *Request, id int64, n int) error {
	entries, err := h.svc.Logs(ctx, id, n)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return req.Reply(ctx, "No activity yet.")
	}
	lines := make([]string, 0, len(entries)+1)
	lines = append(lines, fmt.Sprintf("📝 Activity of %d:", id))
	for _, e := range entries {
		lines = append(lines, e.At.UTC().Format("01-02 15:04")+" "+e.Line)
	}
	return req.Reply(ctx, strings.Join(lines, "\n"))
}

func knownMessage(err error) (string, bool) {
	switch {
	case errors.Is(err, tenant.ErrPremiumOnly):
		return "🌟 This is a premium feature.", true
	case errors.Is(err, tenant.ErrDelayNotAllowed):
		return "❌ That delay is not available. Use /delay to see the options.", true
	case errors.Is(err, tenant.ErrInvalidClock):
		return "❌ Times must be HH:MM in 24-hour UTC, for example 09:30.", true
	case errors.Is(err, control.ErrAccountLimit):
		return "❌ Free plans can register one account. Upgrade to premium for more.", true
	case errors.Is(err, control.ErrAccountExists):
		return "❌ An account with that name already exists.", true
	case errors.Is(err, control.ErrAccountNotFound):
		return "❌ No account with that name.", true
	case errors.Is(err, control.ErrGroupExists):
		return "That group is already registered.", true
	case errors.Is(err, control.ErrGroupNotFound):
		return "That group is not registered.", true
	case errors.Is(err, forwarder.ErrUnauthorized):
		return "❌ Telegram rejected that account token.", true
	case errors.Is(err, account.ErrNoAccount):
		return "❌ None of your accounts could be connected. Check the token with /addaccount.", true
	case errors.Is(err, storage.ErrNotFound):
		return "❌ Unknown user.", true
	case errors.Is(err, control.ErrNoBroadcaster):
		return "Broadcast is not available.", true
	}
	return "", false
}
