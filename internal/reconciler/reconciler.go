// Package reconciler drives window-managed tenants toward their desired run
// state on a fixed period.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"fwdbot/internal/eventbus"
	"fwdbot/internal/tenant"
	logx "fwdbot/pkg/logx"
)

// Records lists persisted tenants.
type Records interface {
	List(ctx context.Context) ([]tenant.Tenant, error)
}

// Loops is the slice of loop control the controller needs.
type Loops interface {
	IsRunning(tenantID int64) bool
	// Launch starts the tenant's loop with one of its accounts.
	Launch(ctx context.Context, t tenant.Tenant) (bool, error)
	Stop(ctx context.Context, tenantID int64) error
}

type Op string

const (
	OpStart Op = "start"
	OpStop  Op = "stop"
	// OpHold means the tenant should run but fails admission.
	OpHold Op = "hold"
)

// Decision is the planned change for one managed tenant.
type Decision struct {
	Tenant int64
	Op     Op
	Reason string
}

// Report summarizes one tick.
type Report struct {
	At        time.Time
	Managed   int
	Started   int
	Stopped   int
	Held      int
	Failed    int
	Decisions []Decision
	Took      time.Duration
}

type Controller struct {
	records     Records
	loops       Loops
	log         logx.Logger
	bus         eventbus.Bus
	every       time.Duration
	stopTimeout time.Duration
	now         func() time.Time

	mu sync.Mutex
	c  *cron.Cron
}

type Option func(*Controller)

func WithLogger(l logx.Logger) Option       { return func(c *Controller) { c.log = l } }
func WithBus(b eventbus.Bus) Option         { return func(c *Controller) { c.bus = b } }
func WithEvery(d time.Duration) Option      { return func(c *Controller) { c.every = d } }
func WithClock(now func() time.Time) Option { return func(c *Controller) { c.now = now } }

// WithStopTimeout bounds each Stop issued by a tick.
func WithStopTimeout(d time.Duration) Option { return func(c *Controller) { c.stopTimeout = d } }

func New(records Records, loops Loops, opts ...Option) *Controller {
	c := &Controller{
		records:     records,
		loops:       loops,
		every:       60 * time.Second,
		stopTimeout: 15 * time.Second,
		now:         time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	if c.log.IsZero() {
		c.log = logx.Nop()
	}
	c.log = c.log.With(logx.String("comp", "reconciler"))
	return c
}

// Plan computes the decisions for now without acting on them.
func (c *Controller) Plan(ctx context.Context, now time.Time) ([]Decision, error) {
	ts, err := c.records.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	var out []Decision
	for _, t := range ts {
		if d, ok := c.decide(t, now); ok {
			out = append(out, d)
		}
	}
	return out, nil
}

// decide stops any running tenant that is no longer admitted, window or
// not. Beyond that only window-managed tenants are touched.
func (c *Controller) decide(t tenant.Tenant, now time.Time) (Decision, bool) {
	running := c.loops.IsRunning(t.ID)
	if running {
		if err := tenant.Admit(t); err != nil {
			reason, _ := tenant.ReasonOf(err)
			return Decision{Tenant: t.ID, Op: OpStop, Reason: string(reason)}, true
		}
	}
	desired, managed := t.Desired(now)
	if !managed {
		return Decision{}, false
	}
	switch {
	case desired && !running:
		if err := tenant.Admit(t); err != nil {
			reason, _ := tenant.ReasonOf(err)
			return Decision{Tenant: t.ID, Op: OpHold, Reason: string(reason)}, true
		}
		return Decision{Tenant: t.ID, Op: OpStart, Reason: "inside window"}, true
	case !desired && running:
		return Decision{Tenant: t.ID, Op: OpStop, Reason: stopReason(t)}, true
	}
	return Decision{}, false
}

func stopReason(t tenant.Tenant) string {
	if !t.Enabled {
		return "disabled"
	}
	return "outside window"
}

// Tick reconciles every tenant once. Failures are isolated per tenant and
// counted in the report; only a failure to list tenants is returned.
func (c *Controller) Tick(ctx context.Context, now time.Time) (Report, error) {
	began := time.Now()
	rep := Report{At: now}
	ts, err := c.records.List(ctx)
	if err != nil {
		return rep, fmt.Errorf("list tenants: %w", err)
	}
	for _, t := range ts {
		if ctx.Err() != nil {
			return rep, ctx.Err()
		}
		if _, managed := t.Desired(now); managed {
			rep.Managed++
		}
		d, ok := c.decide(t, now)
		if !ok {
			continue
		}
		rep.Decisions = append(rep.Decisions, d)
		if err := c.apply(ctx, t, d); err != nil {
			rep.Failed++
			c.log.Warn("reconcile failed", logx.Tenant(t.ID), logx.String("op", string(d.Op)), logx.Err(err))
			continue
		}
		switch d.Op {
		case OpStart:
			rep.Started++
		case OpStop:
			rep.Stopped++
		case OpHold:
			rep.Held++
		}
	}
	rep.Took = time.Since(began)
	eventbus.Publish(c.bus, eventbus.ReconcileTick, rep)
	if rep.Started+rep.Stopped+rep.Failed > 0 {
		c.log.Info("reconcile tick",
			logx.Int("managed", rep.Managed),
			logx.Int("started", rep.Started),
			logx.Int("stopped", rep.Stopped),
			logx.Int("held", rep.Held),
			logx.Int("failed", rep.Failed),
			logx.Duration("took", rep.Took),
		)
	}
	return rep, nil
}

func (c *Controller) apply(ctx context.Context, t tenant.Tenant, d Decision) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	switch d.Op {
	case OpStart:
		_, err = c.loops.Launch(ctx, t)
		return err
	case OpStop:
		sctx, cancel := context.WithTimeout(ctx, c.stopTimeout)
		defer cancel()
		return c.loops.Stop(sctx, t.ID)
	case OpHold:
		c.log.Debug("tenant inside window but not admitted", logx.Tenant(t.ID), logx.String("reason", d.Reason))
	}
	return nil
}

// Start schedules Tick every period until Stop or ctx is done. Overlapping
// ticks are skipped.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.c != nil {
		return errors.New("reconciler already started")
	}
	cl := cronLogger{log: c.log}
	cr := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	run := func() {
		if ctx.Err() != nil {
			return
		}
		if _, err := c.Tick(ctx, c.now().UTC()); err != nil && ctx.Err() == nil {
			c.log.Warn("reconcile tick failed", logx.Err(err))
		}
	}
	if _, err := cr.AddFunc(fmt.Sprintf("@every %s", c.every), run); err != nil {
		return err
	}
	cr.Start()
	c.c = cr
	c.log.Info("reconciler started", logx.Duration("every", c.every))
	return nil
}

func (c *Controller) Stop(ctx context.Context) {
	c.mu.Lock()
	cr := c.c
	c.c = nil
	c.mu.Unlock()
	if cr == nil {
		return
	}
	select {
	case <-cr.Stop().Done():
	case <-ctx.Done():
	}
	c.log.Info("reconciler stopped")
}

// cronLogger routes cron's internal logging into logx.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug("cron: "+msg, kvFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error("cron: "+msg, append(kvFields(keysAndValues), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, logx.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}
