package tenant

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
)

var ErrInvalidClock = errors.New("invalid time of day, use 24-hour HH:MM")

// Clock is a UTC wall-clock time of day with minute granularity.
type Clock struct {
	minutes int
}

// NewClock builds a Clock from an hour and minute.
func NewClock(hour, minute int) (Clock, error) {
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return Clock{}, fmt.Errorf("%w: %02d:%02d", ErrInvalidClock, hour, minute)
	}
	return Clock{minutes: hour*60 + minute}, nil
}

// ParseClock parses "HH:MM" (24-hour).
func ParseClock(s string) (Clock, error) {
	s = strings.TrimSpace(s)
	hh, mm, ok := strings.Cut(s, ":")
	if !ok || len(hh) != 2 || len(mm) != 2 {
		return Clock{}, fmt.Errorf("%w: %q", ErrInvalidClock, s)
	}
	h, err1 := strconv.Atoi(hh)
	m, err2 := strconv.Atoi(mm)
	if err1 != nil || err2 != nil {
		return Clock{}, fmt.Errorf("%w: %q", ErrInvalidClock, s)
	}
	return NewClock(h, m)
}

func (c Clock) Hour() int   { return c.minutes / 60 }
func (c Clock) Minute() int { return c.minutes % 60 }

func (c Clock) String() string { return fmt.Sprintf("%02d:%02d", c.Hour(), c.Minute()) }

func (c Clock) secondOfDay() int { return c.minutes * 60 }

func secondOfDay(t time.Time) int {
	t = t.UTC()
	return t.Hour()*3600 + t.Minute()*60 + t.Second()
}

// Within reports whether now (taken in UTC) falls inside [start, stop).
// When start > stop the window wraps midnight. start == stop is never active.
func Within(start, stop Clock, now time.Time) bool {
	n := secondOfDay(now)
	s, e := start.secondOfDay(), stop.secondOfDay()
	if s <= e {
		return s <= n && n < e
	}
	return n >= s || n < e
}

// Window is the optional daily active window. Either bound may be unset.
type Window struct {
	Start fn.Option[Clock]
	Stop  fn.Option[Clock]
}

// Bounds returns both bounds when the window is fully configured.
func (w Window) Bounds() (Clock, Clock, bool) {
	if w.Start.IsNone() || w.Stop.IsNone() {
		return Clock{}, Clock{}, false
	}
	return w.Start.UnwrapOr(Clock{}), w.Stop.UnwrapOr(Clock{}), true
}

// Active reports whether a fully configured window contains now.
func (w Window) Active(now time.Time) bool {
	start, stop, ok := w.Bounds()
	return ok && Within(start, stop, now)
}

func (w Window) String() string {
	show := func(o fn.Option[Clock]) string {
		s := "not set"
		o.WhenSome(func(c Clock) { s = c.String() + " UTC" })
		return s
	}
	return "start " + show(w.Start) + ", stop " + show(w.Stop)
}
