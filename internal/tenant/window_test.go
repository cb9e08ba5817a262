package tenant

import (
	"testing"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func mustClock(t testing.TB, s string) Clock {
	t.Helper()
	c, err := ParseClock(s)
	require.NoError(t, err)
	return c
}

func at(h, m int) time.Time {
	return time.Date(2026, 3, 14, h, m, 0, 0, time.UTC)
}

func TestParseClock(t *testing.T) {
	c, err := ParseClock("09:05")
	require.NoError(t, err)
	require.Equal(t, 9, c.Hour())
	require.Equal(t, 5, c.Minute())
	require.Equal(t, "09:05", c.String())

	for _, bad := range []string{"", "9:05", "24:00", "12:60", "ab:cd", "12-30"} {
		_, err := ParseClock(bad)
		require.ErrorIs(t, err, ErrInvalidClock, bad)
	}
}

func TestWithin(t *testing.T) {
	day := [2]Clock{mustClock(t, "09:00"), mustClock(t, "17:00")}
	require.True(t, Within(day[0], day[1], at(9, 0)))
	require.True(t, Within(day[0], day[1], at(16, 59)))
	require.False(t, Within(day[0], day[1], at(17, 0)))
	require.False(t, Within(day[0], day[1], at(8, 59)))

	night := [2]Clock{mustClock(t, "22:00"), mustClock(t, "06:00")}
	require.True(t, Within(night[0], night[1], at(23, 0)))
	require.True(t, Within(night[0], night[1], at(2, 30)))
	require.False(t, Within(night[0], night[1], at(12, 0)))
	require.False(t, Within(night[0], night[1], at(6, 0)))

	same := mustClock(t, "10:00")
	require.False(t, Within(same, same, at(10, 0)))
}

func TestWithinUsesUTC(t *testing.T) {
	loc := time.FixedZone("UTC+3", 3*3600)
	now := time.Date(2026, 3, 14, 2, 0, 0, 0, loc) // 23:00 UTC previous day
	require.True(t, Within(mustClock(t, "22:00"), mustClock(t, "06:00"), now))
}

func TestWithinMatchesMinuteScan(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		s := Clock{minutes: rapid.IntRange(0, 1439).Draw(t, "start")}
		e := Clock{minutes: rapid.IntRange(0, 1439).Draw(t, "stop")}
		n := rapid.IntRange(0, 1439).Draw(t, "now")

		// Walk forward from start until stop; now is inside iff it is visited.
		inside := false
		if s != e {
			for m := s.minutes; m != e.minutes; m = (m + 1) % 1440 {
				if m == n {
					inside = true
					break
				}
			}
		}
		got := Within(s, e, time.Date(2026, 1, 1, n/60, n%60, 0, 0, time.UTC))
		if got != inside {
			t.Fatalf("Within(%s, %s, %02d:%02d) = %v, want %v", s, e, n/60, n%60, got, inside)
		}
	})
}

func TestWindowBounds(t *testing.T) {
	var w Window
	_, _, ok := w.Bounds()
	require.False(t, ok)
	require.False(t, w.Active(at(12, 0)))

	w.Start = fn.Some(mustClock(t, "10:00"))
	_, _, ok = w.Bounds()
	require.False(t, ok)

	w.Stop = fn.Some(mustClock(t, "14:00"))
	require.True(t, w.Active(at(12, 0)))
	require.Equal(t, "start 10:00 UTC, stop 14:00 UTC", w.String())
}
