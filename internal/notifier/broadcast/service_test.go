package broadcast

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"fwdbot/internal/transport"
	logx "fwdbot/pkg/logx"
)

type fakeSender struct {
	mu   sync.Mutex
	sent map[int64]int
	bad  map[int64]bool
}

func (f *fakeSender) SendText(_ context.Context, to transport.ChatTarget, _ string, _ *transport.SendOptions) (transport.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.bad[to.ChatID] {
		return transport.MessageRef{}, errors.New("blocked")
	}
	f.sent[to.ChatID]++
	return transport.MessageRef{ChatID: to.ChatID}, nil
}

func TestBroadcastDeliversAndTracksFailures(t *testing.T) {
	snd := &fakeSender{sent: map[int64]int{}, bad: map[int64]bool{3: true}}
	s := New(Config{Workers: 1, RatePerSec: 1000, RetryMax: 1}, snd, logx.Nop())
	s.Start(context.Background())
	defer s.Stop(context.Background())

	id, err := s.Submit("maintenance", []int64{1, 2, 3}, "hello")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	require.Eventually(t, func() bool {
		st, ok := s.Status(id)
		return ok && st.Finished()
	}, 3*time.Second, 10*time.Millisecond)

	st, _ := s.Status(id)
	require.Equal(t, 3, st.Total)
	require.Equal(t, 3, st.Done)
	require.Equal(t, 1, st.Failed)
	require.Equal(t, []int64{3}, st.Failures)

	snd.mu.Lock()
	require.Equal(t, 1, snd.sent[1])
	require.Equal(t, 1, snd.sent[2])
	snd.mu.Unlock()
}

func TestBroadcastRequiresRunningAndTargets(t *testing.T) {
	s := New(Config{}, &fakeSender{sent: map[int64]int{}}, logx.Nop())
	_, err := s.Submit("x", []int64{1}, "hi")
	require.ErrorIs(t, err, ErrNotRunning)

	s.Start(context.Background())
	defer s.Stop(context.Background())
	_, err = s.Submit("x", nil, "hi")
	require.ErrorIs(t, err, ErrNoTargets)
}

func TestPruneStatusKeepsRunningJobs(t *testing.T) {
	s := New(Config{}, &fakeSender{sent: map[int64]int{}}, logx.Nop())
	s.statusMax = 1
	now := time.Now()
	s.status["old"] = &JobStatus{ID: "old", CreatedAt: now.Add(-time.Hour), DoneAt: now.Add(-time.Hour)}
	s.status["live"] = &JobStatus{ID: "live", CreatedAt: now.Add(-2 * time.Hour), Running: true}
	s.pruneStatus(now)

	_, ok := s.Status("old")
	require.False(t, ok)
	_, ok = s.Status("live")
	require.True(t, ok)
}
