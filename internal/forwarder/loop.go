package forwarder

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strconv"
	"time"

	"fwdbot/internal/eventbus"
	logx "fwdbot/pkg/logx"
)

// Timing holds the loop's fixed waits.
type Timing struct {
	CyclePause       time.Duration
	EmptySourceRetry time.Duration
	ErrorBackoff     time.Duration
}

func DefaultTiming() Timing {
	return Timing{
		CyclePause:       30 * time.Second,
		EmptySourceRetry: 60 * time.Second,
		ErrorBackoff:     60 * time.Second,
	}
}

// ExitReason tells why Run returned.
type ExitReason string

const (
	ExitCanceled       ExitReason = "canceled"
	ExitUnauthorized   ExitReason = "unauthorized"
	ExitNoDestinations ExitReason = "no-destinations"
)

// Loop is one tenant's forwarding task.
type Loop struct {
	Tenant   int64
	RunID    string
	Account  Account
	Delay    time.Duration
	// Final carries notices sent as the loop ends on its own. It outlives
	// the run context and is canceled by Registry.Stop, which drops a notice
	// still queued.
	Final    context.Context
	Notifier Notifier
	Timing   Timing
	Log      logx.Logger
	Bus      eventbus.Bus
}

// CycleStats summarizes one pass over the destinations.
type CycleStats struct {
	Tenant      int64
	RunID       string
	Total       int
	Delivered   int
	Rejected    int
	RateLimited int
	Failed      int
	Took        time.Duration
}

// DeliveryEvent is published on the bus for every attempt.
type DeliveryEvent struct {
	Tenant  int64
	RunID   string
	ChatID  int64
	Outcome OutcomeKind
}

// Run executes cycles until ctx is canceled or the run ends permanently.
// It never panics and never returns an error: unexpected failures back off
// and retry.
func (l *Loop) Run(ctx context.Context) ExitReason {
	if l.Log.IsZero() {
		l.Log = logx.Nop()
	}
	for {
		if ctx.Err() != nil {
			return ExitCanceled
		}
		exit, err := l.protectedCycle(ctx)
		if exit != "" {
			return exit
		}
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			return ExitCanceled
		}
		l.Log.Error("forwarding cycle failed", logx.Err(err), logx.Duration("backoff", l.Timing.ErrorBackoff))
		l.notify(ctx, fmt.Sprintf("⚠️ An unexpected error occurred: %v\nRetrying in %s.", err, l.Timing.ErrorBackoff))
		if !sleep(ctx, l.Timing.ErrorBackoff) {
			return ExitCanceled
		}
	}
}

func (l *Loop) protectedCycle(ctx context.Context) (exit ExitReason, err error) {
	defer func() {
		if r := recover(); r != nil {
			l.Log.Error("forwarding cycle panicked", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			exit, err = "", fmt.Errorf("panic: %v", r)
		}
	}()
	return l.cycle(ctx)
}

// cycle performs one full pass. A non-empty exit ends the run; a non-nil err
// is an unexpected failure.
func (l *Loop) cycle(ctx context.Context) (ExitReason, error) {
	started := time.Now()

	dests, err := l.Account.Destinations(ctx)
	if ctx.Err() != nil {
		return ExitCanceled, nil
	}
	if errors.Is(err, ErrUnauthorized) {
		l.Log.Warn("account not authorized; stopping", logx.String("account", l.Account.ID()))
		l.notifyFinal(ctx, "❌ Account session has expired or is invalid.\n\nPlease remove the account and add it again.")
		return ExitUnauthorized, nil
	}
	if err != nil {
		return "", fmt.Errorf("list destinations: %w", err)
	}
	if len(dests) == 0 {
		l.Log.Warn("no destinations; stopping", logx.String("account", l.Account.ID()))
		l.notifyFinal(ctx, "⚠️ No groups were detected, so the bot has stopped. Please check your account.")
		return ExitNoDestinations, nil
	}

	var msg Message
	for {
		src, err := l.Account.Source(ctx)
		if ctx.Err() != nil {
			return ExitCanceled, nil
		}
		if err != nil {
			return "", fmt.Errorf("fetch source: %w", err)
		}
		if src.IsSome() {
			msg = src.UnwrapOr(Message{})
			break
		}
		l.Log.Info("source message not set; waiting", logx.Duration("retry", l.Timing.EmptySourceRetry))
		l.notify(ctx, "⚠️ Your ad message is not set or no longer exists. Please set one with /source.")
		if !sleep(ctx, l.Timing.EmptySourceRetry) {
			return ExitCanceled, nil
		}
	}

	stats := CycleStats{Tenant: l.Tenant, RunID: l.RunID, Total: len(dests)}
	for _, d := range dests {
		if ctx.Err() != nil {
			return ExitCanceled, nil
		}
		derr := l.Account.Deliver(ctx, d, msg)
		if ctx.Err() != nil {
			return ExitCanceled, nil
		}
		out, ok := Classify(derr)
		if !ok {
			return "", fmt.Errorf("deliver to %s: %w", d.Name(), derr)
		}
		eventbus.Publish(l.Bus, eventbus.Delivery, DeliveryEvent{Tenant: l.Tenant, RunID: l.RunID, ChatID: d.ChatID, Outcome: out.Kind})

		act := Decide(out)
		l.report(ctx, d, out, act, &stats)
		if act.Kind == WaitThenProceed && !sleep(ctx, act.Wait) {
			return ExitCanceled, nil
		}
		if !sleep(ctx, l.Delay) {
			return ExitCanceled, nil
		}
	}

	stats.Took = time.Since(started)
	eventbus.Publish(l.Bus, eventbus.CycleDone, stats)
	l.Log.Info("forwarding cycle complete",
		logx.Int("total", stats.Total),
		logx.Int("delivered", stats.Delivered),
		logx.Int("rejected", stats.Rejected),
		logx.Int("rate_limited", stats.RateLimited),
		logx.Int("failed", stats.Failed),
		logx.Duration("took", stats.Took),
	)
	l.notify(ctx, fmt.Sprintf("🔁 Cycle complete: %d/%d delivered. Next round in %s.", stats.Delivered, stats.Total, l.Timing.CyclePause))
	if !sleep(ctx, l.Timing.CyclePause) {
		return ExitCanceled, nil
	}
	return "", nil
}

func (l *Loop) report(ctx context.Context, d Destination, out Outcome, act Action, stats *CycleStats) {
	log := l.Log.With(logx.Int64("chat", d.ChatID))
	switch out.Kind {
	case Delivered:
		stats.Delivered++
		log.Debug("message forwarded")
		l.notify(ctx, "✅ Message sent to: "+d.Name())
	case RejectedPermanent:
		stats.Rejected++
		log.Warn("destination rejected message", logx.Err(out.Err))
		l.notify(ctx, fmt.Sprintf("❌ Failed to send to: %s\nReason: %v", d.Name(), out.Err))
	case RateLimited:
		stats.RateLimited++
		log.Warn("rate limited", logx.Duration("wait", act.Wait))
		l.notify(ctx, fmt.Sprintf("⏳ Waiting for %s in %s (slow mode/flood wait).", act.Wait, d.Name()))
	case TransientError:
		stats.Failed++
		log.Warn("delivery failed", logx.Err(out.Err))
		l.notify(ctx, fmt.Sprintf("❌ An error occurred with %s. It will be retried next round.", d.Name()))
	}
}

func (l *Loop) notify(ctx context.Context, text string) {
	if l.Notifier == nil || ctx.Err() != nil {
		return
	}
	if err := l.Notifier.Notify(ctx, l.Tenant, text); err != nil {
		l.Log.Debug("notify failed", logx.Err(err))
	}
}

// notifyFinal is used right before the loop ends on its own. It is skipped
// if a stop already arrived.
func (l *Loop) notifyFinal(ctx context.Context, text string) {
	if ctx.Err() != nil {
		return
	}
	final := l.Final
	if final == nil {
		final = context.WithoutCancel(ctx)
	}
	l.notify(final, text)
}

// sleep waits for d or until ctx is done. It reports whether the full
// duration elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func itoa(n int64) string { return strconv.FormatInt(n, 10) }
