package control

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"

	"fwdbot/internal/account"
	"fwdbot/internal/forwarder"
	"fwdbot/internal/runtime/keyed"
	"fwdbot/internal/storage"
	"fwdbot/internal/tenant"
	logx "fwdbot/pkg/logx"
)

var (
	ErrAccountLimit    = errors.New("account limit reached")
	ErrAccountExists   = errors.New("account already registered")
	ErrAccountNotFound = errors.New("account not found")
	ErrGroupExists     = errors.New("group already registered")
	ErrGroupNotFound   = errors.New("group not registered")
	ErrInvalidWindow   = errors.New("window needs both start and stop")
	ErrNoBroadcaster   = errors.New("broadcast unavailable")
)

// Loops is the loop registry as seen by the control surface.
type Loops interface {
	Start(tenantID int64, acct forwarder.Account, delay time.Duration) (bool, error)
	Stop(ctx context.Context, tenantID int64) error
	Restart(ctx context.Context, tenantID int64, acct forwarder.Account, delay time.Duration) error
	IsRunning(tenantID int64) bool
	Info(tenantID int64) (forwarder.RunInfo, bool)
	Count() int
}

// Accounts is the connected-account pool.
type Accounts interface {
	Pick(ctx context.Context, t tenant.Tenant) (forwarder.Account, error)
	Connect(ctx context.Context, tenantID int64, name, credential string) (account.Handle, error)
	Disconnect(tenantID int64, name string) bool
}

// Broadcaster queues one text for many chats.
type Broadcaster interface {
	Submit(name string, targets []int64, text string) (string, error)
}

// Service runs every tenant-facing operation. Operations that touch a
// tenant's record or loop hold that tenant's lock for their whole duration.
type Service struct {
	store    storage.Store
	loops    Loops
	accounts Accounts
	notifier forwarder.Notifier
	bcast    Broadcaster
	log      logx.Logger

	delays       tenant.DelayPolicy
	defaultDelay int
	freeLimit    int
	stopTimeout  time.Duration
	now          func() time.Time

	locks keyed.Mutex
}

type Option func(*Service)

func WithLogger(l logx.Logger) Option             { return func(s *Service) { s.log = l } }
func WithNotifier(n forwarder.Notifier) Option    { return func(s *Service) { s.notifier = n } }
func WithBroadcaster(b Broadcaster) Option        { return func(s *Service) { s.bcast = b } }
func WithDelayPolicy(p tenant.DelayPolicy) Option { return func(s *Service) { s.delays = p } }
func WithDefaultDelay(seconds int) Option         { return func(s *Service) { s.defaultDelay = seconds } }
func WithFreeAccountLimit(n int) Option           { return func(s *Service) { s.freeLimit = n } }
func WithStopTimeout(d time.Duration) Option      { return func(s *Service) { s.stopTimeout = d } }
func WithClock(now func() time.Time) Option       { return func(s *Service) { s.now = now } }

func New(store storage.Store, loops Loops, accounts Accounts, opts ...Option) *Service {
	s := &Service{
		store:        store,
		loops:        loops,
		accounts:     accounts,
		delays:       tenant.DefaultDelayPolicy(),
		defaultDelay: tenant.DefaultDelaySeconds,
		freeLimit:    1,
		stopTimeout:  15 * time.Second,
		now:          time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	s.log = s.log.With(logx.String("comp", "control"))
	return s
}

// Delays returns the delay options the tenant may pick.
func (s *Service) Delays(t tenant.Tenant) []int { return s.delays.Options(t.Premium) }

// Touch loads the tenant, creating it on first contact, and keeps the
// stored username current.
func (s *Service) Touch(ctx context.Context, id int64, username string) (tenant.Tenant, error) {
	t, err := s.store.Ensure(ctx, id)
	if err != nil {
		return tenant.Tenant{}, err
	}
	if username != "" && username != t.Username {
		if err := s.store.Set(ctx, id, tenant.FieldUsername, username); err != nil {
			return tenant.Tenant{}, err
		}
		t.Username = username
	}
	return t, nil
}

// ToggleResult tells the front end what ToggleOn did.
type ToggleResult struct {
	Started bool
	// Scheduled means the tenant is window-managed and outside its window;
	// the reconciler will start it.
	Scheduled bool
	// AlreadyRunning means a loop was running before the call.
	AlreadyRunning bool
}

// ToggleOn enables forwarding. Admission is checked as if enabled were
// already set; refusals are returned as *tenant.AdmissionError.
func (s *Service) ToggleOn(ctx context.Context, id int64) (ToggleResult, error) {
	unlock := s.locks.Lock(id)
	defer unlock()
	t, err := s.store.Ensure(ctx, id)
	if err != nil {
		return ToggleResult{}, err
	}
	if err := tenant.AdmitToggle(t); err != nil {
		return ToggleResult{}, err
	}
	if s.loops.IsRunning(id) {
		if err := s.setEnabled(ctx, id, true); err != nil {
			return ToggleResult{}, err
		}
		return ToggleResult{AlreadyRunning: true}, nil
	}
	t.Enabled = true
	if desired, managed := t.Desired(s.now()); managed && !desired {
		if err := s.setEnabled(ctx, id, true); err != nil {
			return ToggleResult{}, err
		}
		s.record(ctx, id, "Forwarding switched on (waiting for schedule window)")
		return ToggleResult{Scheduled: true}, nil
	}

	acct, err := s.accounts.Pick(ctx, t)
	if err != nil {
		return ToggleResult{}, err
	}
	if err := s.setEnabled(ctx, id, true); err != nil {
		return ToggleResult{}, err
	}
	started, err := s.loops.Start(id, acct, t.Delay())
	if err != nil {
		return ToggleResult{}, err
	}
	s.record(ctx, id, "Forwarding switched on")
	return ToggleResult{Started: started, AlreadyRunning: !started}, nil
}

// ToggleOff disables forwarding and stops the loop. It is idempotent.
func (s *Service) ToggleOff(ctx context.Context, id int64) error {
	unlock := s.locks.Lock(id)
	defer unlock()
	if _, err := s.store.Ensure(ctx, id); err != nil {
		return err
	}
	if err := s.setEnabled(ctx, id, false); err != nil {
		return err
	}
	if err := s.stop(ctx, id); err != nil {
		return err
	}
	s.record(ctx, id, "Forwarding switched off")
	return nil
}

func (s *Service) setEnabled(ctx context.Context, id int64, on bool) error {
	return s.store.Set(ctx, id, tenant.FieldEnabled, on)
}

func (s *Service) stop(ctx context.Context, id int64) error {
	if !s.loops.IsRunning(id) {
		return nil
	}
	sctx, cancel := context.WithTimeout(ctx, s.stopTimeout)
	defer cancel()
	return s.loops.Stop(sctx, id)
}

// SetDelay stores a new pacing delay and restarts a running loop with it.
func (s *Service) SetDelay(ctx context.Context, id int64, seconds int) error {
	unlock := s.locks.Lock(id)
	defer unlock()
	t, err := s.store.Ensure(ctx, id)
	if err != nil {
		return err
	}
	if err := s.delays.Check(t.Premium, seconds); err != nil {
		return err
	}
	if err := s.store.Set(ctx, id, tenant.FieldDelay, seconds); err != nil {
		return err
	}
	s.record(ctx, id, fmt.Sprintf("Delay set to %ds", seconds))
	if !s.loops.IsRunning(id) {
		return nil
	}
	t.DelaySeconds = seconds
	acct, err := s.accounts.Pick(ctx, t)
	if err != nil {
		return err
	}
	rctx, cancel := context.WithTimeout(ctx, s.stopTimeout)
	defer cancel()
	return s.loops.Restart(rctx, id, acct, t.Delay())
}

// SetWindow stores the daily UTC schedule. Premium only. The reconciler
// applies it on its next tick.
func (s *Service) SetWindow(ctx context.Context, id int64, start, stop tenant.Clock) error {
	t, err := s.store.Ensure(ctx, id)
	if err != nil {
		return err
	}
	if !t.Premium {
		return tenant.ErrPremiumOnly
	}
	if err := s.store.Set(ctx, id, tenant.FieldWindowStart, fn.Some(start)); err != nil {
		return err
	}
	if err := s.store.Set(ctx, id, tenant.FieldWindowStop, fn.Some(stop)); err != nil {
		return err
	}
	s.record(ctx, id, fmt.Sprintf("Schedule set to %s-%s UTC", start, stop))
	return nil
}

// ClearWindow removes the schedule. A running loop keeps running.
func (s *Service) ClearWindow(ctx context.Context, id int64) error {
	if _, err := s.store.Ensure(ctx, id); err != nil {
		return err
	}
	none := fn.None[tenant.Clock]()
	if err := s.store.Set(ctx, id, tenant.FieldWindowStart, none); err != nil {
		return err
	}
	if err := s.store.Set(ctx, id, tenant.FieldWindowStop, none); err != nil {
		return err
	}
	s.record(ctx, id, "Schedule cleared")
	return nil
}

// Status is the tenant's record plus its live loop state.
type Status struct {
	Tenant       tenant.Tenant
	Running      bool
	Run          forwarder.RunInfo
	WindowActive bool
	Admission    error
}

func (s *Service) Status(ctx context.Context, id int64) (Status, error) {
	t, err := s.store.Ensure(ctx, id)
	if err != nil {
		return Status{}, err
	}
	st := Status{
		Tenant:       t,
		WindowActive: t.Window.Active(s.now()),
		Admission:    tenant.Admit(t),
	}
	st.Run, st.Running = s.loops.Info(id)
	return st, nil
}

func (s *Service) Logs(ctx context.Context, id int64, n int) ([]storage.LogEntry, error) {
	if _, err := s.store.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.store.Logs(ctx, id, n)
}

// record appends to the tenant's activity log. Failures are only logged.
func (s *Service) record(ctx context.Context, id int64, line string) {
	if err := s.store.AppendLog(ctx, id, line); err != nil {
		s.log.Warn("activity log append failed", logx.Tenant(id), logx.Err(err))
		return
	}
	s.log.Info(line, logx.Tenant(id))
}
