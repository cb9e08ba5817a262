package commands

import (
	"testing"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/stretchr/testify/require"

	"fwdbot/internal/tenant"
)

func TestParseTenantID(t *testing.T) {
	id, err := parseTenantID("12345")
	require.NoError(t, err)
	require.EqualValues(t, 12345, id)

	for _, bad := range []string{"", "0", "abc", "1.5"} {
		_, err := parseTenantID(bad)
		require.Error(t, err, bad)
	}
}

func TestViewOfHidesCredentials(t *testing.T) {
	tn := tenant.New(9, time.Unix(0, 0))
	tn.Accounts = map[string]string{"main": "123:secret"}
	tn.Source = fn.Some(tenant.SourceRef{ChatID: -100, MessageID: 7})
	tn.Enabled = true

	v := viewOf(tn)
	require.Equal(t, []string{"main"}, v.Accounts)
	require.Equal(t, "-100/7", v.Source)
	require.True(t, v.Admitted)
	require.Empty(t, v.WindowStart)
}

func TestPlanTime(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 30, 0, 0, time.FixedZone("X", 3600))
	got, err := planTime("", now)
	require.NoError(t, err)
	require.Equal(t, time.UTC, got.Location())
	require.True(t, got.Equal(now))

	got, err = planTime("2026-03-01T23:00:00+02:00", now)
	require.NoError(t, err)
	require.Equal(t, time.Date(2026, 3, 1, 21, 0, 0, 0, time.UTC), got)

	_, err = planTime("tonight", now)
	require.ErrorContains(t, err, "--at")
}

func TestReconcileIsPlanOnly(t *testing.T) {
	require.Nil(t, reconcileCmd.Flags().Lookup("dry-run"))
	require.NotNil(t, reconcileCmd.Flags().Lookup("at"))
}
