package forwarder

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"fwdbot/internal/eventbus"
	"fwdbot/internal/runtime/keyed"
	"fwdbot/internal/runtime/supervisor"
	logx "fwdbot/pkg/logx"
)

// Registry is the process-wide set of running loops, at most one per tenant.
// Start and Stop for the same tenant are serialized; different tenants never
// contend beyond a short map lock.
type Registry struct {
	sup      *supervisor.Supervisor
	log      logx.Logger
	bus      eventbus.Bus
	notifier Notifier
	timing   Timing

	locks keyed.Mutex

	mu   sync.Mutex
	runs map[int64]*run
}

type run struct {
	id        string
	tenant    int64
	account   string
	delay     time.Duration
	startedAt time.Time
	cancel    context.CancelFunc
	hush      context.CancelFunc
	done      chan struct{}
	alive     atomic.Bool
	retiring  atomic.Bool
	exit      ExitReason
}

// RunInfo describes a running loop.
type RunInfo struct {
	Tenant    int64
	RunID     string
	Account   string
	Delay     time.Duration
	StartedAt time.Time
}

// ExitEvent is published when a loop ends for any reason.
type ExitEvent struct {
	Tenant int64
	RunID  string
	Reason ExitReason
}

type RegistryOption func(*Registry)

func WithLogger(log logx.Logger) RegistryOption {
	return func(r *Registry) { r.log = log }
}

func WithBus(b eventbus.Bus) RegistryOption {
	return func(r *Registry) { r.bus = b }
}

func WithNotifier(n Notifier) RegistryOption {
	return func(r *Registry) { r.notifier = n }
}

func WithTiming(t Timing) RegistryOption {
	return func(r *Registry) { r.timing = t }
}

// NewRegistry creates a registry whose loops run under sup. Canceling the
// supervisor stops every loop.
func NewRegistry(sup *supervisor.Supervisor, opts ...RegistryOption) *Registry {
	r := &Registry{
		sup:    sup,
		timing: DefaultTiming(),
		runs:   map[int64]*run{},
	}
	for _, o := range opts {
		o(r)
	}
	if r.sup == nil {
		r.sup = supervisor.New(context.Background())
	}
	if r.log.IsZero() {
		r.log = logx.Nop()
	}
	r.log = r.log.With(logx.String("comp", "forwarder"))
	return r
}

// SetTiming changes the waits used by loops started afterwards.
func (r *Registry) SetTiming(t Timing) {
	r.mu.Lock()
	r.timing = t
	r.mu.Unlock()
}

// Start launches a loop for tenantID unless one is already running.
// started is false when the call was a no-op.
func (r *Registry) Start(tenantID int64, acct Account, delay time.Duration) (started bool, err error) {
	if acct == nil {
		return false, errors.New("start: nil account")
	}
	unlock := r.locks.Lock(tenantID)
	defer unlock()
	return r.startLocked(tenantID, acct, delay)
}

// Stop cancels the tenant's loop and waits for it to exit, bounded by ctx.
// If ctx ends first the loop stays registered as retiring and the error is
// returned; Start fails with ErrStillStopping until it is gone.
func (r *Registry) Stop(ctx context.Context, tenantID int64) error {
	unlock := r.locks.Lock(tenantID)
	defer unlock()
	return r.stopLocked(ctx, tenantID)
}

// Restart replaces a running loop with a new one using acct and delay. The
// tenant is locked across both steps.
func (r *Registry) Restart(ctx context.Context, tenantID int64, acct Account, delay time.Duration) error {
	if acct == nil {
		return errors.New("restart: nil account")
	}
	unlock := r.locks.Lock(tenantID)
	defer unlock()
	if err := r.stopLocked(ctx, tenantID); err != nil {
		return err
	}
	_, err := r.startLocked(tenantID, acct, delay)
	return err
}

func (r *Registry) startLocked(tenantID int64, acct Account, delay time.Duration) (bool, error) {
	if err := r.sup.Context().Err(); err != nil {
		return false, fmt.Errorf("start tenant %d: %w", tenantID, err)
	}

	r.mu.Lock()
	if cur := r.runs[tenantID]; cur != nil {
		if cur.retiring.Load() && cur.alive.Load() {
			r.mu.Unlock()
			return false, fmt.Errorf("start tenant %d: %w", tenantID, ErrStillStopping)
		}
		if cur.alive.Load() {
			r.mu.Unlock()
			return false, nil
		}
		// Exited on its own but not yet cleaned up.
		delete(r.runs, tenantID)
	}
	ctx, cancel := context.WithCancel(r.sup.Context())
	final, hush := context.WithCancel(context.WithoutCancel(ctx))
	rn := &run{
		id:        uuid.NewString(),
		tenant:    tenantID,
		account:   acct.ID(),
		delay:     delay,
		startedAt: time.Now(),
		cancel:    cancel,
		hush:      hush,
		done:      make(chan struct{}),
	}
	rn.alive.Store(true)
	r.runs[tenantID] = rn
	timing := r.timing
	r.mu.Unlock()

	loop := &Loop{
		Tenant:   tenantID,
		RunID:    rn.id,
		Account:  acct,
		Delay:    delay,
		Final:    final,
		Notifier: r.notifier,
		Timing:   timing,
		Bus:      r.bus,
		Log:      r.log.With(logx.Tenant(tenantID), logx.String("run", rn.id[:8])),
	}
	r.sup.Go(fmt.Sprintf("forwarder.%d", tenantID), func(context.Context) error {
		defer r.finish(rn)
		rn.exit = loop.Run(ctx)
		return nil
	})

	r.log.Info("forwarding loop started", logx.Tenant(tenantID), logx.String("run", rn.id), logx.String("account", rn.account), logx.Duration("delay", delay))
	eventbus.Publish(r.bus, eventbus.LoopStarted, RunInfo{Tenant: tenantID, RunID: rn.id, Account: rn.account, Delay: delay, StartedAt: rn.startedAt})
	return true, nil
}

// finish runs on the loop goroutine after Run returns.
func (r *Registry) finish(rn *run) {
	rn.alive.Store(false)
	rn.cancel()
	r.mu.Lock()
	if r.runs[rn.tenant] == rn {
		delete(r.runs, rn.tenant)
	}
	r.mu.Unlock()
	close(rn.done)

	reason := rn.exit
	if reason == "" {
		reason = ExitCanceled
	}
	r.log.Info("forwarding loop exited", logx.Tenant(rn.tenant), logx.String("run", rn.id), logx.String("reason", string(reason)))
	eventbus.Publish(r.bus, eventbus.LoopExited, ExitEvent{Tenant: rn.tenant, RunID: rn.id, Reason: reason})
}

func (r *Registry) stopLocked(ctx context.Context, tenantID int64) error {
	r.mu.Lock()
	rn := r.runs[tenantID]
	r.mu.Unlock()
	if rn == nil {
		return nil
	}

	rn.hush()
	rn.cancel()
	select {
	case <-rn.done:
	case <-ctx.Done():
		rn.retiring.Store(true)
		r.log.Warn("forwarding loop did not stop in time", logx.Tenant(tenantID), logx.String("run", rn.id), logx.Err(ctx.Err()))
		return fmt.Errorf("stop tenant %d: %w", tenantID, ctx.Err())
	}

	r.mu.Lock()
	if r.runs[tenantID] == rn {
		delete(r.runs, tenantID)
	}
	r.mu.Unlock()
	eventbus.Publish(r.bus, eventbus.LoopStopped, ExitEvent{Tenant: tenantID, RunID: rn.id, Reason: ExitCanceled})
	return nil
}

// StopAll stops every loop concurrently.
func (r *Registry) StopAll(ctx context.Context) error {
	ids := r.Running()
	errs := make([]error, len(ids))
	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = r.Stop(ctx, id)
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}

func (r *Registry) IsRunning(tenantID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	rn := r.runs[tenantID]
	return rn != nil && rn.alive.Load()
}

func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, rn := range r.runs {
		if rn.alive.Load() {
			n++
		}
	}
	return n
}

// Running returns the ids of tenants with a live loop, sorted.
func (r *Registry) Running() []int64 {
	r.mu.Lock()
	out := make([]int64, 0, len(r.runs))
	for id, rn := range r.runs {
		if rn.alive.Load() {
			out = append(out, id)
		}
	}
	r.mu.Unlock()
	slices.Sort(out)
	return out
}

// Info returns details of the tenant's live loop.
func (r *Registry) Info(tenantID int64) (RunInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rn := r.runs[tenantID]
	if rn == nil || !rn.alive.Load() {
		return RunInfo{}, false
	}
	return RunInfo{Tenant: rn.tenant, RunID: rn.id, Account: rn.account, Delay: rn.delay, StartedAt: rn.startedAt}, true
}
