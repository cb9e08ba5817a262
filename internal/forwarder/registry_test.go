package forwarder

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"fwdbot/internal/eventbus"
	"fwdbot/internal/runtime/supervisor"
)

func newTestRegistry(t *testing.T, n Notifier, opts ...RegistryOption) *Registry {
	t.Helper()
	sup := supervisor.New(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = sup.Stop(ctx)
	})
	opts = append([]RegistryOption{WithNotifier(n), WithTiming(fastTiming())}, opts...)
	return NewRegistry(sup, opts...)
}

func stopNow(t *testing.T, r *Registry, id int64) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, r.Stop(ctx, id))
}

func TestStartIsIdempotent(t *testing.T) {
	r := newTestRegistry(t, &recNotifier{})
	acct := &fakeAccount{dests: dests(-1)}

	var started atomic.Int32
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := r.Start(1, acct, time.Millisecond)
			if err != nil {
				t.Error(err)
			}
			if ok {
				started.Add(1)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int32(1), started.Load())
	require.True(t, r.IsRunning(1))
	require.Equal(t, 1, r.Count())

	ok, err := r.Start(1, acct, time.Millisecond)
	require.NoError(t, err)
	require.False(t, ok)

	stopNow(t, r, 1)
	require.False(t, r.IsRunning(1))
	require.Zero(t, r.Count())

	ok, err = r.Start(1, acct, time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok, "start after stop must launch a new loop")
	stopNow(t, r, 1)
}

func TestStopIsNoopWhenNotRunning(t *testing.T) {
	r := newTestRegistry(t, nil)
	stopNow(t, r, 99)
}

func TestStopInterruptsRateLimitWait(t *testing.T) {
	hit := make(chan struct{}, 1)
	acct := &fakeAccount{dests: dests(-1, -2)}
	acct.deliver = func(context.Context, Destination) error {
		select {
		case hit <- struct{}{}:
		default:
		}
		return RetryAfter(10)
	}
	n := &recNotifier{}
	r := newTestRegistry(t, n)
	_, err := r.Start(1, acct, time.Millisecond)
	require.NoError(t, err)

	select {
	case <-hit:
	case <-time.After(time.Second):
		t.Fatal("delivery never attempted")
	}
	require.Eventually(t, func() bool { return n.count("Waiting for 12s") == 1 }, time.Second, time.Millisecond)

	began := time.Now()
	stopNow(t, r, 1)
	require.Less(t, time.Since(began), 500*time.Millisecond)
	require.False(t, r.IsRunning(1))
}

func TestUnauthorizedEndsRunWithOneNotification(t *testing.T) {
	n := &recNotifier{}
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()

	r := newTestRegistry(t, n, WithBus(bus))
	_, err := r.Start(5, &fakeAccount{destErr: ErrUnauthorized}, time.Millisecond)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return !r.IsRunning(5) }, time.Second, time.Millisecond)
	require.Len(t, n.all(), 1)
	require.Contains(t, n.all()[0], "session has expired")

	for {
		select {
		case ev := <-events:
			if ev.Type != eventbus.LoopExited {
				continue
			}
			require.Equal(t, ExitUnauthorized, ev.Data.(ExitEvent).Reason)
			return
		case <-time.After(time.Second):
			t.Fatal("no exit event")
		}
	}
}

func TestNoDestinationsEndsRun(t *testing.T) {
	n := &recNotifier{}
	r := newTestRegistry(t, n)
	acct := &fakeAccount{}
	_, err := r.Start(5, acct, time.Millisecond)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return !r.IsRunning(5) }, time.Second, time.Millisecond)
	require.Equal(t, 1, n.count("No groups"))
	require.Len(t, acct.destCallTimes(), 1, "the loop must not poll for destinations")
}

func TestEmptySourceIsRetried(t *testing.T) {
	n := &recNotifier{}
	acct := &fakeAccount{dests: dests(-1), emptyFirst: 2}
	r := newTestRegistry(t, n)
	_, err := r.Start(1, acct, time.Millisecond)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return acct.deliveredCount() >= 1 }, time.Second, time.Millisecond)
	require.Equal(t, 2, n.count("ad message is not set"))
	require.True(t, r.IsRunning(1))
	stopNow(t, r, 1)
}

func TestUnexpectedErrorBacksOffAndContinues(t *testing.T) {
	var calls atomic.Int32
	acct := &fakeAccount{dests: dests(-1)}
	acct.deliver = func(context.Context, Destination) error {
		if calls.Add(1) == 1 {
			return errors.New("socket closed")
		}
		return nil
	}
	n := &recNotifier{}
	r := newTestRegistry(t, n)
	_, err := r.Start(1, acct, time.Millisecond)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return acct.deliveredCount() >= 1 }, time.Second, time.Millisecond)
	require.Equal(t, 1, n.count("unexpected error"))
	require.True(t, r.IsRunning(1))
	stopNow(t, r, 1)
}

func TestPanicInCycleIsRecovered(t *testing.T) {
	acct := &fakeAccount{dests: dests(-1), destPanic: true}
	n := &recNotifier{}
	r := newTestRegistry(t, n)
	_, err := r.Start(1, acct, time.Millisecond)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return acct.deliveredCount() >= 1 }, time.Second, time.Millisecond)
	require.Equal(t, 1, n.count("panic: boom"))
	stopNow(t, r, 1)
}

func TestRejectedAndTransientDoNotStopTheCycle(t *testing.T) {
	acct := &fakeAccount{dests: dests(-1, -2, -3)}
	acct.deliver = func(_ context.Context, d Destination) error {
		switch d.ChatID {
		case -1:
			return ErrRejected
		case -2:
			return ErrTransient
		}
		return nil
	}
	n := &recNotifier{}
	r := newTestRegistry(t, n)
	_, err := r.Start(1, acct, time.Millisecond)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return n.count("Cycle complete: 1/3") >= 1 }, time.Second, time.Millisecond)
	require.GreaterOrEqual(t, n.count("Failed to send to: chat -1"), 1)
	require.GreaterOrEqual(t, n.count("error occurred with chat -2"), 1)
	stopNow(t, r, 1)
}

func TestStopBoundedByContext(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	var once sync.Once
	acct := &fakeAccount{dests: dests(-1)}
	acct.deliver = func(context.Context, Destination) error {
		once.Do(func() { close(entered) })
		<-release // ignores cancellation
		return nil
	}
	r := newTestRegistry(t, nil)
	_, err := r.Start(1, acct, time.Millisecond)
	require.NoError(t, err)
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, r.Stop(ctx, 1), context.DeadlineExceeded)
	require.True(t, r.IsRunning(1), "a loop that has not exited stays registered")

	started, err := r.Start(1, acct, time.Millisecond)
	require.ErrorIs(t, err, ErrStillStopping)
	require.False(t, started)

	close(release)
	stopNow(t, r, 1)
	require.False(t, r.IsRunning(1))

	started, err = r.Start(1, acct, time.Millisecond)
	require.NoError(t, err)
	require.True(t, started)
	stopNow(t, r, 1)
}

// holdNotifier blocks in Notify until released and keeps the context it got.
type holdNotifier struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
	mu      sync.Mutex
	ctx     context.Context
}

func (n *holdNotifier) Notify(ctx context.Context, _ int64, _ string) error {
	n.mu.Lock()
	n.ctx = ctx
	n.mu.Unlock()
	n.once.Do(func() { close(n.entered) })
	<-n.release
	return nil
}

func (n *holdNotifier) got() context.Context {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.ctx
}

func TestFinalNoticeOutlivesNaturalExit(t *testing.T) {
	n := &holdNotifier{entered: make(chan struct{}), release: make(chan struct{})}
	close(n.release)
	r := newTestRegistry(t, n)
	_, err := r.Start(5, &fakeAccount{destErr: ErrUnauthorized}, time.Millisecond)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return !r.IsRunning(5) }, time.Second, time.Millisecond)
	require.NotNil(t, n.got())
	require.NoError(t, n.got().Err(), "a queued final notice must still be deliverable")
}

func TestStopCancelsPendingFinalNotice(t *testing.T) {
	n := &holdNotifier{entered: make(chan struct{}), release: make(chan struct{})}
	r := newTestRegistry(t, n)
	_, err := r.Start(5, &fakeAccount{destErr: ErrUnauthorized}, time.Millisecond)
	require.NoError(t, err)
	<-n.entered

	stopped := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		stopped <- r.Stop(ctx, 5)
	}()
	require.Eventually(t, func() bool { return n.got().Err() != nil }, time.Second, time.Millisecond)

	close(n.release)
	require.NoError(t, <-stopped)
	require.False(t, r.IsRunning(5))
}

func TestNoNotificationsAfterStop(t *testing.T) {
	n := &recNotifier{}
	acct := &fakeAccount{dests: dests(-1, -2)}
	r := newTestRegistry(t, n)
	_, err := r.Start(1, acct, time.Millisecond)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return acct.deliveredCount() >= 2 }, time.Second, time.Millisecond)

	stopNow(t, r, 1)
	sent, delivered := len(n.all()), acct.deliveredCount()
	time.Sleep(50 * time.Millisecond)
	require.Len(t, n.all(), sent)
	require.Equal(t, delivered, acct.deliveredCount())
}

func TestRestartSwapsRun(t *testing.T) {
	r := newTestRegistry(t, nil)
	acct := &fakeAccount{dests: dests(-1)}
	_, err := r.Start(1, acct, time.Millisecond)
	require.NoError(t, err)
	before, ok := r.Info(1)
	require.True(t, ok)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, r.Restart(ctx, 1, acct, 2*time.Millisecond))
	after, ok := r.Info(1)
	require.True(t, ok)
	require.NotEqual(t, before.RunID, after.RunID)
	require.Equal(t, 2*time.Millisecond, after.Delay)
	require.NoError(t, r.StopAll(ctx))
	require.Zero(t, r.Count())
}

func TestCyclePacing(t *testing.T) {
	const delay = 40 * time.Millisecond
	timing := Timing{CyclePause: 150 * time.Millisecond, EmptySourceRetry: time.Second, ErrorBackoff: time.Second}
	acct := &fakeAccount{dests: dests(-1, -2, -3)}
	r := newTestRegistry(t, nil, WithTiming(timing))
	_, err := r.Start(1, acct, delay)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(acct.destCallTimes()) >= 2 }, 2*time.Second, 5*time.Millisecond)
	calls := acct.destCallTimes()
	require.GreaterOrEqual(t, calls[1].Sub(calls[0]), 3*delay+timing.CyclePause)
	stopNow(t, r, 1)
}

func TestCyclePacingRealScale(t *testing.T) {
	if testing.Short() {
		t.Skip("runs for about 45s")
	}
	acct := &fakeAccount{dests: dests(-1, -2, -3)}
	r := newTestRegistry(t, nil, WithTiming(DefaultTiming()))
	_, err := r.Start(1, acct, 5*time.Second)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(acct.destCallTimes()) >= 2 }, 60*time.Second, 100*time.Millisecond)
	calls := acct.destCallTimes()
	require.GreaterOrEqual(t, calls[1].Sub(calls[0]), 15*time.Second+30*time.Second)
	stopNow(t, r, 1)
}
