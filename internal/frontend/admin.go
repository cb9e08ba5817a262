package frontend

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"fwdbot/internal/control"
)

func (h *Handlers) adminCommands() []Command {
	return []Command{
		{Name: "premium", Description: "Grant or revoke premium", Usage: "/premium <user_id> on|off", Access: AccessOwnerOnly, Handle: h.premium},
		{Name: "ban", Description: "Ban a user", Usage: "/ban <user_id>", Access: AccessOwnerOnly, Handle: h.ban},
		{Name: "unban", Description: "Lift a ban", Usage: "/unban <user_id>", Access: AccessOwnerOnly, Handle: h.unban},
		{Name: "admin", Description: "Admin overview", Usage: "/admin stats | users | logs <user_id>", Access: AccessOwnerOnly, Handle: h.admin},
		{Name: "broadcast", Description: "Message every user", Usage: "/broadcast <text>", Access: AccessOwnerOnly, Handle: h.broadcast},
	}
}

func userArg(req *Request, u string) (int64, error) {
	if len(req.Args) < 1 {
		return 0, usage(u)
	}
	id, err := strconv.ParseInt(req.Args[0], 10, 64)
	if err != nil || id <= 0 {
		return 0, usage(u)
	}
	return id, nil
}

func (h *Handlers) premium(ctx context.Context, req *Request) error {
	const u = "/premium <user_id> on|off"
	id, err := userArg(req, u)
	if err != nil {
		return err
	}
	if len(req.Args) != 2 {
		return usage(u)
	}
	var on bool
	switch strings.ToLower(req.Args[1]) {
	case "on", "true", "yes":
		on = true
	case "off", "false", "no":
	default:
		return usage(u)
	}
	if err := h.svc.SetPremium(ctx, id, on); err != nil {
		return err
	}
	return req.Reply(ctx, fmt.Sprintf("✅ Premium for %d: %t.", id, on))
}

func (h *Handlers) ban(ctx context.Context, req *Request) error {
	id, err := userArg(req, "/ban <user_id>")
	if err != nil {
		return err
	}
	if err := h.svc.Ban(ctx, id); err != nil {
		return err
	}
	return req.Reply(ctx, fmt.Sprintf("✅ User %d banned.", id))
}

func (h *Handlers) unban(ctx context.Context, req *Request) error {
	id, err := userArg(req, "/unban <user_id>")
	if err != nil {
		return err
	}
	if err := h.svc.Unban(ctx, id); err != nil {
		return err
	}
	return req.Reply(ctx, fmt.Sprintf("✅ User %d unbanned.", id))
}

func (h *Handlers) admin(ctx context.Context, req *Request) error {
	const u = "/admin stats | users | logs <user_id>"
	if len(req.Args) == 0 {
		return usage(u)
	}
	switch strings.ToLower(req.Args[0]) {
	case "stats":
		st, err := h.svc.Stats(ctx)
		if err != nil {
			return err
		}
		return req.Reply(ctx, fmt.Sprintf("📈 Users: %d\nPremium: %d\nBanned: %d\nSwitched on: %d\nRunning loops: %d",
			st.Users, st.Premium, st.Banned, st.Enabled, st.Running))
	case "users":
		all, err := h.svc.Users(ctx)
		if err != nil {
			return err
		}
		if len(all) == 0 {
			return req.Reply(ctx, "No users yet.")
		}
		lines := make([]string, 0, len(all)+1)
		lines = append(lines, fmt.Sprintf("👥 %d users:", len(all)))
		for _, t := range all {
			st, err := h.svc.Status(ctx, t.ID)
			if err != nil {
				return err
			}
			lines = append(lines, control.Summary(t, st.Running))
		}
		return req.Reply(ctx, strings.Join(lines, "\n"))
	case "logs":
		req.Args = req.Args[1:]
		id, err := userArg(req, "/admin logs <user_id>")
		if err != nil {
			return err
		}
		return h.replyLogs(ctx, req, id, 0)
	default:
		return usage(u)
	}
}

func (h *Handlers) broadcast(ctx context.Context, req *Request) error {
	if req.Rest == "" {
		return usage("/broadcast <text>")
	}
	id, n, err := h.svc.Broadcast(ctx, req.Rest)
	if err != nil {
		return err
	}
	return req.Reply(ctx, fmt.Sprintf("📣 Broadcast %s queued for %d users.", id, n))
}
