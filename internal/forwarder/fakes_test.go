package forwarder

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
)

type fakeAccount struct {
	mu sync.Mutex

	dests      []Destination
	destErr    error
	destPanic  bool
	destCalls  []time.Time
	emptyFirst int // Source returns None this many times
	srcCalls   int
	deliver    func(ctx context.Context, d Destination) error
	delivered  []int64
}

func (a *fakeAccount) ID() string { return "fake" }

func (a *fakeAccount) Destinations(context.Context) ([]Destination, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.destCalls = append(a.destCalls, time.Now())
	if a.destPanic {
		a.destPanic = false
		panic("boom")
	}
	return append([]Destination(nil), a.dests...), a.destErr
}

func (a *fakeAccount) Source(context.Context) (fn.Option[Message], error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.srcCalls++
	if a.srcCalls <= a.emptyFirst {
		return fn.None[Message](), nil
	}
	return fn.Some(Message{ChatID: 1, MessageID: 2}), nil
}

func (a *fakeAccount) Deliver(ctx context.Context, d Destination, _ Message) error {
	a.mu.Lock()
	deliver := a.deliver
	a.mu.Unlock()
	var err error
	if deliver != nil {
		err = deliver(ctx, d)
	}
	if err == nil {
		a.mu.Lock()
		a.delivered = append(a.delivered, d.ChatID)
		a.mu.Unlock()
	}
	return err
}

func (a *fakeAccount) deliveredCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.delivered)
}

func (a *fakeAccount) destCallTimes() []time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]time.Time(nil), a.destCalls...)
}

type recNotifier struct {
	mu   sync.Mutex
	msgs []string
}

func (n *recNotifier) Notify(ctx context.Context, _ int64, text string) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	n.mu.Lock()
	n.msgs = append(n.msgs, text)
	n.mu.Unlock()
	return nil
}

func (n *recNotifier) all() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.msgs...)
}

func (n *recNotifier) count(substr string) int {
	c := 0
	for _, m := range n.all() {
		if strings.Contains(m, substr) {
			c++
		}
	}
	return c
}

func dests(ids ...int64) []Destination {
	out := make([]Destination, len(ids))
	for i, id := range ids {
		out[i] = Destination{ChatID: id}
	}
	return out
}

func fastTiming() Timing {
	return Timing{CyclePause: 20 * time.Millisecond, EmptySourceRetry: 10 * time.Millisecond, ErrorBackoff: 10 * time.Millisecond}
}
