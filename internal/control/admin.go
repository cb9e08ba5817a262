package control

import (
	"context"
	"fmt"
	"slices"

	"fwdbot/internal/tenant"
	logx "fwdbot/pkg/logx"
)

// SetPremium grants or revokes premium. On revoke a premium-only delay
// falls back to the default.
func (s *Service) SetPremium(ctx context.Context, id int64, on bool) error {
	unlock := s.locks.Lock(id)
	defer unlock()
	t, err := s.store.Ensure(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.Set(ctx, id, tenant.FieldPremium, on); err != nil {
		return err
	}
	if !on && s.delays.Check(false, t.DelaySeconds) != nil {
		if err := s.store.Set(ctx, id, tenant.FieldDelay, s.defaultDelay); err != nil {
			return err
		}
		if s.loops.IsRunning(id) {
			t.Premium, t.DelaySeconds = false, s.defaultDelay
			if acct, err := s.accounts.Pick(ctx, t); err == nil {
				rctx, cancel := context.WithTimeout(ctx, s.stopTimeout)
				err = s.loops.Restart(rctx, id, acct, t.Delay())
				cancel()
				if err != nil {
					return err
				}
			}
		}
	}
	if on {
		s.record(ctx, id, "Premium granted")
		s.tell(ctx, id, "🌟 Premium has been activated for your account.")
	} else {
		s.record(ctx, id, "Premium revoked")
		s.tell(ctx, id, "Your premium access has ended.")
	}
	return nil
}

// Ban blocks the tenant and stops its loop.
func (s *Service) Ban(ctx context.Context, id int64) error {
	unlock := s.locks.Lock(id)
	defer unlock()
	if _, err := s.store.Ensure(ctx, id); err != nil {
		return err
	}
	if err := s.store.Set(ctx, id, tenant.FieldBanned, true); err != nil {
		return err
	}
	if err := s.stop(ctx, id); err != nil {
		return err
	}
	s.record(ctx, id, "Banned")
	s.tell(ctx, id, "❌ You have been banned from using this bot.")
	return nil
}

func (s *Service) Unban(ctx context.Context, id int64) error {
	unlock := s.locks.Lock(id)
	defer unlock()
	if _, err := s.store.Ensure(ctx, id); err != nil {
		return err
	}
	if err := s.store.Set(ctx, id, tenant.FieldBanned, false); err != nil {
		return err
	}
	s.record(ctx, id, "Unbanned")
	s.tell(ctx, id, "✅ Your ban has been lifted.")
	return nil
}

func (s *Service) tell(ctx context.Context, id int64, text string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, id, text); err != nil {
		s.log.Debug("notify failed", logx.Tenant(id), logx.Err(err))
	}
}

// Stats is the admin overview.
type Stats struct {
	Users   int
	Premium int
	Banned  int
	Enabled int
	Running int
}

func (s *Service) Stats(ctx context.Context) (Stats, error) {
	all, err := s.store.List(ctx)
	if err != nil {
		return Stats{}, err
	}
	st := Stats{Users: len(all), Running: s.loops.Count()}
	for _, t := range all {
		if t.Premium {
			st.Premium++
		}
		if t.Banned {
			st.Banned++
		}
		if t.Enabled {
			st.Enabled++
		}
	}
	return st, nil
}

func (s *Service) Users(ctx context.Context) ([]tenant.Tenant, error) {
	return s.store.List(ctx)
}

// Broadcast sends text to every tenant that is not banned.
func (s *Service) Broadcast(ctx context.Context, text string) (string, int, error) {
	if s.bcast == nil {
		return "", 0, ErrNoBroadcaster
	}
	all, err := s.store.List(ctx)
	if err != nil {
		return "", 0, err
	}
	targets := make([]int64, 0, len(all))
	for _, t := range all {
		if !t.Banned {
			targets = append(targets, t.ID)
		}
	}
	id, err := s.bcast.Submit("admin", targets, text)
	if err != nil {
		return "", 0, err
	}
	return id, len(targets), nil
}

// Recover starts every tenant that should be running and is not governed
// by a schedule window. Window-managed tenants are left to the reconciler.
func (s *Service) Recover(ctx context.Context) (int, error) {
	all, err := s.store.List(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, t := range all {
		if ctx.Err() != nil {
			break
		}
		started, err := s.recoverOne(ctx, t.ID)
		if err != nil {
			s.log.Warn("recover: start failed", logx.Tenant(t.ID), logx.Err(err))
			continue
		}
		if started {
			n++
		}
	}
	s.log.Info("loops recovered", logx.Int("started", n), logx.Int("tenants", len(all)))
	return n, nil
}

// recoverOne re-reads the record under the tenant lock; the listing may be
// stale by the time each tenant's turn comes.
func (s *Service) recoverOne(ctx context.Context, id int64) (bool, error) {
	unlock := s.locks.Lock(id)
	defer unlock()
	t, err := s.store.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if t.WindowManaged() || !tenant.CanStart(t) || s.loops.IsRunning(id) {
		return false, nil
	}
	acct, err := s.accounts.Pick(ctx, t)
	if err != nil {
		return false, err
	}
	return s.loops.Start(id, acct, t.Delay())
}

// Summary renders a one-line admin description of a tenant.
func Summary(t tenant.Tenant, running bool) string {
	flags := []string{}
	if t.Premium {
		flags = append(flags, "premium")
	}
	if t.Banned {
		flags = append(flags, "banned")
	}
	if t.Enabled {
		flags = append(flags, "on")
	}
	if running {
		flags = append(flags, "running")
	}
	slices.Sort(flags)
	name := t.Username
	if name == "" {
		name = "-"
	}
	return fmt.Sprintf("%d @%s %v", t.ID, name, flags)
}
