package account

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/stretchr/testify/require"

	"fwdbot/internal/forwarder"
	"fwdbot/internal/tenant"
	logx "fwdbot/pkg/logx"
)

type stubHandle struct {
	name   string
	closed atomic.Bool
}

func (h *stubHandle) ID() string { return h.name }
func (h *stubHandle) Destinations(context.Context) ([]forwarder.Destination, error) {
	return nil, nil
}
func (h *stubHandle) Source(context.Context) (fn.Option[forwarder.Message], error) {
	return fn.None[forwarder.Message](), nil
}
func (h *stubHandle) Deliver(context.Context, forwarder.Destination, forwarder.Message) error {
	return nil
}
func (h *stubHandle) Close() error { h.closed.Store(true); return nil }

func stubDialer(bad map[string]bool, dialed *[]string) Dialer {
	return DialerFunc(func(_ context.Context, _ int64, name, cred string) (Handle, error) {
		*dialed = append(*dialed, name)
		if bad[cred] {
			return nil, errors.New("invalid token")
		}
		return &stubHandle{name: name}, nil
	})
}

func TestPickDialsFirstWorkingAccount(t *testing.T) {
	var dialed []string
	p := NewPool(stubDialer(map[string]bool{"bad": true}, &dialed), logx.Nop())

	tn := tenant.New(7, fixedNow)
	tn.Accounts = map[string]string{"a": "bad", "b": "good"}

	acct, err := p.Pick(context.Background(), tn)
	require.NoError(t, err)
	require.Equal(t, "b", acct.ID())
	require.Equal(t, []string{"a", "b"}, dialed)
	require.Equal(t, []string{"b"}, p.Connected(7))

	// Second pick reuses the connected handle.
	_, err = p.Pick(context.Background(), tn)
	require.NoError(t, err)
	require.Len(t, dialed, 2)
}

func TestPickWithoutAccounts(t *testing.T) {
	var dialed []string
	p := NewPool(stubDialer(nil, &dialed), logx.Nop())
	_, err := p.Pick(context.Background(), tenant.New(1, fixedNow))
	require.ErrorIs(t, err, ErrNoAccount)
}

func TestConnectReplacesAndDisconnectCloses(t *testing.T) {
	var dialed []string
	p := NewPool(stubDialer(nil, &dialed), logx.Nop())

	h1, err := p.Connect(context.Background(), 1, "main", "t1")
	require.NoError(t, err)
	h2, err := p.Connect(context.Background(), 1, "main", "t2")
	require.NoError(t, err)
	require.True(t, h1.(*stubHandle).closed.Load())
	require.False(t, h2.(*stubHandle).closed.Load())

	require.True(t, p.Disconnect(1, "main"))
	require.False(t, p.Disconnect(1, "main"))
	require.True(t, h2.(*stubHandle).closed.Load())
	require.Empty(t, p.Connected(1))
}

func TestLoadAllSkipsBannedAndFailures(t *testing.T) {
	var dialed []string
	p := NewPool(stubDialer(map[string]bool{"bad": true}, &dialed), logx.Nop())

	a := tenant.New(1, fixedNow)
	a.Accounts = map[string]string{"x": "ok", "y": "bad"}
	b := tenant.New(2, fixedNow)
	b.Banned = true
	b.Accounts = map[string]string{"z": "ok"}

	n := p.LoadAll(context.Background(), []tenant.Tenant{a, b})
	require.Equal(t, 1, n)
	require.Equal(t, []string{"x"}, p.Connected(1))
	require.Empty(t, p.Connected(2))

	require.NoError(t, p.Close())
	_, err := p.Connect(context.Background(), 1, "x", "ok")
	require.ErrorIs(t, err, ErrClosed)
}

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
