package control

import (
	"context"

	"fwdbot/internal/tenant"
	logx "fwdbot/pkg/logx"
)

// Runner adapts the service to the reconciler. Launch and Stop take the same
// tenant lock as the control operations, and Launch re-reads the record, so
// a ban or toggle that lands after the reconciler listed tenants wins.
type Runner struct {
	svc *Service
}

func (s *Service) Runner() *Runner { return &Runner{svc: s} }

func (r *Runner) IsRunning(tenantID int64) bool { return r.svc.loops.IsRunning(tenantID) }

// Launch starts the tenant's loop with its first connectable account. It is
// a no-op when the stored record is no longer admitted.
func (r *Runner) Launch(ctx context.Context, t tenant.Tenant) (bool, error) {
	s := r.svc
	unlock := s.locks.Lock(t.ID)
	defer unlock()
	cur, err := s.store.Get(ctx, t.ID)
	if err != nil {
		return false, err
	}
	if err := tenant.Admit(cur); err != nil {
		reason, _ := tenant.ReasonOf(err)
		s.log.Debug("launch skipped", logx.Tenant(t.ID), logx.String("reason", string(reason)))
		return false, nil
	}
	acct, err := s.accounts.Pick(ctx, cur)
	if err != nil {
		return false, err
	}
	return s.loops.Start(cur.ID, acct, cur.Delay())
}

func (r *Runner) Stop(ctx context.Context, tenantID int64) error {
	unlock := r.svc.locks.Lock(tenantID)
	defer unlock()
	return r.svc.loops.Stop(ctx, tenantID)
}
