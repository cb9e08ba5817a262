package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"fwdbot/internal/config"
	"fwdbot/internal/reconciler"
	"fwdbot/internal/tenant"
	logx "fwdbot/pkg/logx"
)

func TestMapStorageConfig(t *testing.T) {
	sc, err := mapStorageConfig(&config.Config{Storage: config.StorageConfig{
		Driver:      " SQLite ",
		Path:        "./data/fwdbot.db",
		BusyTimeout: "3s",
	}})
	require.NoError(t, err)
	require.Equal(t, "sqlite", sc.Driver)
	require.Equal(t, 3*time.Second, sc.BusyTimeout)

	_, err = mapStorageConfig(&config.Config{Storage: config.StorageConfig{BusyTimeout: "soon"}})
	require.Error(t, err)
}

func TestMapNotifierDefaults(t *testing.T) {
	nc, err := mapNotifierConfig(&config.Config{})
	require.NoError(t, err)
	require.True(t, nc.Enabled)
	require.Equal(t, 2, nc.Workers)
	require.Equal(t, 500*time.Millisecond, nc.RetryBase)
}

func TestForwardingMapping(t *testing.T) {
	fw, err := config.ForwardingConfig{CyclePause: "45s", AllowedDelays: []int{5, 15}}.Resolve()
	require.NoError(t, err)

	tm := forwarderTiming(fw)
	require.Equal(t, 45*time.Second, tm.CyclePause)
	require.Equal(t, 60*time.Second, tm.ErrorBackoff)

	p := delayPolicy(fw)
	require.NoError(t, p.Check(false, 15))
	require.ErrorIs(t, p.Check(false, 2), tenant.ErrPremiumOnly)
	require.ErrorIs(t, p.Check(false, 10), tenant.ErrDelayNotAllowed)
}

func TestOfflinePlan(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "fwdbot.yaml")
	body := "telegram:\n  token: \"1:x\"\nstorage:\n  driver: file\n  path: " + filepath.Join(dir, "state") + "\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(body), 0o644))

	ctx := context.Background()
	off, err := OpenOffline(ctx, cfgPath, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = off.Close() })

	const id = 77
	require.NoError(t, off.Control.SetPremium(ctx, id, true))
	start, err := tenant.ParseClock("10:00")
	require.NoError(t, err)
	stop, err := tenant.ParseClock("14:00")
	require.NoError(t, err)
	require.NoError(t, off.Control.SetWindow(ctx, id, start, stop))
	require.NoError(t, off.Store.Set(ctx, id, tenant.FieldEnabled, true))

	noon := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	plan, err := off.Reconciler.Plan(ctx, noon)
	require.NoError(t, err)
	require.Len(t, plan, 1)
	require.Equal(t, reconciler.OpHold, plan[0].Op)
	require.Equal(t, string(tenant.ReasonNoSource), plan[0].Reason)

	evening := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)
	plan, err = off.Reconciler.Plan(ctx, evening)
	require.NoError(t, err)
	require.Empty(t, plan)
}
