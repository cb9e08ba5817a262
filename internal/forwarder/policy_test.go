package forwarder

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestDecide(t *testing.T) {
	require.Equal(t, Action{Kind: Proceed}, Decide(Outcome{Kind: Delivered}))
	require.Equal(t, Action{Kind: Skip}, Decide(Outcome{Kind: RejectedPermanent}))
	require.Equal(t, Action{Kind: Skip}, Decide(Outcome{Kind: TransientError}))
	require.Equal(t, Action{Kind: WaitThenProceed, Wait: 12 * time.Second}, Decide(Outcome{Kind: RateLimited, Wait: 10 * time.Second}))
}

func TestDecideProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		kind := OutcomeKind(rapid.IntRange(0, 3).Draw(t, "kind"))
		wait := time.Duration(rapid.IntRange(0, 3600).Draw(t, "wait")) * time.Second
		act := Decide(Outcome{Kind: kind, Wait: wait})
		switch kind {
		case Delivered:
			if act.Kind != Proceed || act.Wait != 0 {
				t.Fatalf("delivered: got %+v", act)
			}
		case RateLimited:
			if act.Kind != WaitThenProceed || act.Wait != wait+RateLimitMargin {
				t.Fatalf("rate limited %s: got %+v", wait, act)
			}
		default:
			if act.Kind != Skip || act.Wait != 0 {
				t.Fatalf("%s: got %+v", kind, act)
			}
		}
	})
}

func TestClassify(t *testing.T) {
	o, ok := Classify(nil)
	require.True(t, ok)
	require.Equal(t, Delivered, o.Kind)

	o, ok = Classify(fmt.Errorf("forward: %w", RetryAfter(10)))
	require.True(t, ok)
	require.Equal(t, RateLimited, o.Kind)
	require.Equal(t, 10*time.Second, o.Wait)

	o, ok = Classify(fmt.Errorf("chat -1: %w", ErrRejected))
	require.True(t, ok)
	require.Equal(t, RejectedPermanent, o.Kind)

	o, ok = Classify(ErrTransient)
	require.True(t, ok)
	require.Equal(t, TransientError, o.Kind)

	o, ok = Classify(context.DeadlineExceeded)
	require.True(t, ok)
	require.Equal(t, TransientError, o.Kind)

	_, ok = Classify(errors.New("something else"))
	require.False(t, ok)
}
