package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGoRecoversPanic(t *testing.T) {
	t.Parallel()

	s := New(context.Background())
	s.Go("boom", func(ctx context.Context) error {
		panic("kaboom")
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := s.Wait(ctx)
	require.Error(t, err)
	require.Contains(t, err.Error(), "boom")
	require.Equal(t, []string{"boom"}, s.PanicNames())
	require.Equal(t, uint64(1), s.Counters().Panics)
}

func TestCancelOnError(t *testing.T) {
	t.Parallel()

	s := New(context.Background(), WithCancelOnError(true))
	s.Go("fails", func(ctx context.Context) error {
		return errors.New("bad")
	})
	s.Go0("waits", func(ctx context.Context) {
		<-ctx.Done()
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.ErrorContains(t, s.Wait(ctx), "fails: bad")
	require.Zero(t, s.Counters().Active)
}

func TestCanceledErrorIsClean(t *testing.T) {
	t.Parallel()

	s := New(context.Background())
	s.Go("clean", func(ctx context.Context) error {
		return context.Canceled
	})
	require.NoError(t, s.Wait(context.Background()))
}

func TestGoRestartRestartsUntilSuccess(t *testing.T) {
	t.Parallel()

	s := New(context.Background())
	var runs atomic.Int32
	s.GoRestart("flaky", func(ctx context.Context) error {
		if runs.Add(1) < 3 {
			return errors.New("transient")
		}
		return nil
	}, WithRestartBackoff(time.Millisecond, 5*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Wait(ctx))
	require.Equal(t, int32(3), runs.Load())
}

func TestStopCancelsAndWaits(t *testing.T) {
	t.Parallel()

	s := New(context.Background())
	exited := make(chan struct{})
	s.Go0("loop", func(ctx context.Context) {
		<-ctx.Done()
		close(exited)
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	select {
	case <-exited:
	default:
		t.Fatal("goroutine did not exit before Stop returned")
	}
}
