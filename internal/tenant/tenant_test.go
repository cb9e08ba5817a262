package tenant

import (
	"testing"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/stretchr/testify/require"
)

func ready() Tenant {
	t := New(7, time.Now())
	t.Enabled = true
	t.Source = fn.Some(SourceRef{ChatID: -100, MessageID: 3})
	t.Accounts["main"] = "token"
	return t
}

func TestAdmitReasons(t *testing.T) {
	require.NoError(t, Admit(ready()))
	require.True(t, CanStart(ready()))

	cases := map[Reason]func(*Tenant){
		ReasonBanned:    func(t *Tenant) { t.Banned = true },
		ReasonDisabled:  func(t *Tenant) { t.Enabled = false },
		ReasonNoSource:  func(t *Tenant) { t.Source = fn.None[SourceRef]() },
		ReasonNoAccount: func(t *Tenant) { t.Accounts = nil },
	}
	for want, mut := range cases {
		tn := ready()
		mut(&tn)
		err := Admit(tn)
		require.ErrorIs(t, err, ErrNotAdmitted)
		got, ok := ReasonOf(err)
		require.True(t, ok)
		require.Equal(t, want, got)
		require.False(t, CanStart(tn))
	}
}

func TestAdmitBanWinsOverEverything(t *testing.T) {
	tn := New(1, time.Now())
	tn.Banned = true
	r, _ := ReasonOf(Admit(tn))
	require.Equal(t, ReasonBanned, r)
}

func TestAdmitToggleIgnoresEnabled(t *testing.T) {
	tn := ready()
	tn.Enabled = false
	require.NoError(t, AdmitToggle(tn))
	require.False(t, tn.Enabled)
}

func TestDesired(t *testing.T) {
	tn := ready()
	tn.Window = Window{Start: fn.Some(mustClock(t, "22:00")), Stop: fn.Some(mustClock(t, "06:00"))}

	_, managed := tn.Desired(at(23, 0))
	require.False(t, managed, "non-premium tenants are not window-managed")

	tn.Premium = true
	desired, managed := tn.Desired(at(23, 0))
	require.True(t, managed)
	require.True(t, desired)

	desired, _ = tn.Desired(at(12, 0))
	require.False(t, desired)

	tn.Enabled = false
	desired, _ = tn.Desired(at(23, 0))
	require.False(t, desired)
}

func TestDelayPolicy(t *testing.T) {
	p := DefaultDelayPolicy()
	require.NoError(t, p.Check(false, 10))
	require.ErrorIs(t, p.Check(false, 2), ErrPremiumOnly)
	require.NoError(t, p.Check(true, 2))
	require.ErrorIs(t, p.Check(true, 7), ErrDelayNotAllowed)
	require.Equal(t, []int{2, 5, 10, 30}, p.Options(true))
	require.Equal(t, []int{5, 10, 30}, p.Options(false))
}

func TestApply(t *testing.T) {
	tn := New(1, time.Now())
	require.NoError(t, tn.Apply(FieldUsername, "alice"))
	require.NoError(t, tn.Apply(FieldPremium, true))
	require.NoError(t, tn.Apply(FieldDelay, 10))
	require.NoError(t, tn.Apply(FieldWindowStart, fn.Some(mustClock(t, "01:00"))))
	require.NoError(t, tn.Apply(FieldGroups, []int64{-1, -2}))
	require.NoError(t, tn.Apply(FieldAccounts, map[string]string{"a": "x"}))

	require.Equal(t, "alice", tn.Username)
	require.True(t, tn.Premium)
	require.Equal(t, 10*time.Second, tn.Delay())
	require.True(t, tn.Window.Start.IsSome())
	require.Equal(t, []string{"a"}, tn.AccountNames())
	require.True(t, tn.HasGroup(-2))

	require.Error(t, tn.Apply(FieldDelay, "10"))
	require.Error(t, tn.Apply(Field("nope"), 1))
}

func TestCloneIsDeep(t *testing.T) {
	tn := ready()
	tn.Groups = []int64{1}
	cp := tn.Clone()
	cp.Accounts["other"] = "y"
	cp.Groups[0] = 2
	require.Len(t, tn.Accounts, 1)
	require.Equal(t, int64(1), tn.Groups[0])
}
