package notifier

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"fwdbot/internal/eventbus"
	"fwdbot/internal/transport"
	logx "fwdbot/pkg/logx"
)

type fakeSender struct {
	mu    sync.Mutex
	sent  []string
	to    []int64
	fails int
	block chan struct{}
}

func (f *fakeSender) SendText(ctx context.Context, to transport.ChatTarget, text string, _ *transport.SendOptions) (transport.MessageRef, error) {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return transport.MessageRef{}, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fails > 0 {
		f.fails--
		return transport.MessageRef{}, errors.New("boom")
	}
	f.sent = append(f.sent, text)
	f.to = append(f.to, to.ChatID)
	return transport.MessageRef{ChatID: to.ChatID, MessageID: len(f.sent)}, nil
}

func (f *fakeSender) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func testConfig() Config {
	return Config{
		Enabled:    true,
		Workers:    1,
		QueueSize:  16,
		RatePerSec: 1000,
		RetryMax:   2,
		RetryBase:  time.Millisecond,
	}
}

func TestNotifyDelivers(t *testing.T) {
	snd := &fakeSender{}
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()

	s := New(testConfig(), snd, logx.Nop(), bus)
	s.Start(context.Background())
	defer s.Stop(context.Background())

	require.NoError(t, s.Notify(context.Background(), 42, "✅ Message sent to: Group"))
	require.Eventually(t, func() bool { return len(snd.texts()) == 1 }, time.Second, 5*time.Millisecond)
	require.Equal(t, int64(42), snd.to[0])

	select {
	case ev := <-events:
		require.Equal(t, eventbus.NotifySent, ev.Type)
		require.Equal(t, int64(42), ev.Data.(Event).Tenant)
	case <-time.After(time.Second):
		t.Fatal("no event")
	}
	require.Len(t, s.History(), 1)
}

func TestNotifyRetries(t *testing.T) {
	snd := &fakeSender{fails: 2}
	s := New(testConfig(), snd, logx.Nop(), nil)
	s.Start(context.Background())
	defer s.Stop(context.Background())

	require.NoError(t, s.Notify(context.Background(), 1, "hello"))
	require.Eventually(t, func() bool { return len(snd.texts()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestNotifyGivesUpAfterRetries(t *testing.T) {
	snd := &fakeSender{fails: 10}
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()

	s := New(testConfig(), snd, logx.Nop(), bus)
	s.Start(context.Background())
	defer s.Stop(context.Background())

	require.NoError(t, s.Notify(context.Background(), 1, "hello"))
	select {
	case ev := <-events:
		require.Equal(t, eventbus.NotifyFailed, ev.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("no failure event")
	}
	snd.mu.Lock()
	require.Equal(t, 7, snd.fails)
	snd.mu.Unlock()
}

func TestNotifyDropsCanceledJobs(t *testing.T) {
	snd := &fakeSender{block: make(chan struct{})}
	s := New(testConfig(), snd, logx.Nop(), nil)
	s.Start(context.Background())

	// First job occupies the single worker.
	require.NoError(t, s.Notify(context.Background(), 1, "first"))

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Notify(ctx, 1, "stale"))
	cancel()
	close(snd.block)

	s.Stop(context.Background())
	require.Equal(t, []string{"first"}, snd.texts())
}

func TestNotifyRejectsCanceledCaller(t *testing.T) {
	s := New(testConfig(), &fakeSender{}, logx.Nop(), nil)
	s.Start(context.Background())
	defer s.Stop(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, s.Notify(ctx, 1, "x"), context.Canceled)
}

func TestNotifyDisabledAndStopped(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false
	s := New(cfg, &fakeSender{}, logx.Nop(), nil)
	s.Start(context.Background())
	require.ErrorIs(t, s.Notify(context.Background(), 1, "x"), ErrDisabled)

	s = New(testConfig(), &fakeSender{}, logx.Nop(), nil)
	require.ErrorIs(t, s.Notify(context.Background(), 1, "x"), ErrStopped)
}

func TestNotifyQueueFull(t *testing.T) {
	snd := &fakeSender{block: make(chan struct{})}
	cfg := testConfig()
	cfg.QueueSize = 1
	s := New(cfg, snd, logx.Nop(), nil)
	s.Start(context.Background())

	require.NoError(t, s.Notify(context.Background(), 1, "a"))
	require.Eventually(t, func() bool { return len(s.queue) == 0 }, time.Second, time.Millisecond)
	require.NoError(t, s.Notify(context.Background(), 1, "b"))
	require.ErrorIs(t, s.Notify(context.Background(), 1, "c"), ErrQueueFull)

	close(snd.block)
	s.Stop(context.Background())
}

func TestNotifyDedup(t *testing.T) {
	snd := &fakeSender{}
	cfg := testConfig()
	cfg.DedupWindow = time.Minute
	s := New(cfg, snd, logx.Nop(), nil)
	s.Start(context.Background())

	require.NoError(t, s.Notify(context.Background(), 1, "same"))
	require.NoError(t, s.Notify(context.Background(), 1, "same"))
	require.NoError(t, s.Notify(context.Background(), 2, "same"))
	s.Stop(context.Background())

	require.Len(t, snd.texts(), 2)
}

func TestStartAfterStop(t *testing.T) {
	snd := &fakeSender{}
	s := New(testConfig(), snd, logx.Nop(), nil)
	s.Start(context.Background())
	s.Stop(context.Background())
	s.Start(context.Background())
	defer s.Stop(context.Background())

	require.NoError(t, s.Notify(context.Background(), 1, "again"))
	require.Eventually(t, func() bool { return len(snd.texts()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestRetryDelayBounded(t *testing.T) {
	cfg := Config{RetryBase: 100 * time.Millisecond, RetryMaxDelay: time.Second}
	for attempt := 1; attempt < 10; attempt++ {
		d := retryDelay(cfg, attempt)
		require.Positive(t, d)
		require.LessOrEqual(t, d, time.Second)
	}
}
