package forwarder

import (
	"context"
	"errors"
	"time"
)

// RateLimitMargin is added to every externally reported wait.
const RateLimitMargin = 2 * time.Second

type OutcomeKind int

const (
	Delivered OutcomeKind = iota
	RejectedPermanent
	RateLimited
	TransientError
)

func (k OutcomeKind) String() string {
	switch k {
	case Delivered:
		return "delivered"
	case RejectedPermanent:
		return "rejected"
	case RateLimited:
		return "rate-limited"
	case TransientError:
		return "transient"
	default:
		return "unknown"
	}
}

// Outcome is the result of one delivery attempt.
type Outcome struct {
	Kind OutcomeKind
	Wait time.Duration // RateLimited only
	Err  error
}

type ActionKind int

const (
	Proceed ActionKind = iota
	Skip
	WaitThenProceed
)

func (k ActionKind) String() string {
	switch k {
	case Proceed:
		return "proceed"
	case Skip:
		return "skip"
	case WaitThenProceed:
		return "wait"
	default:
		return "unknown"
	}
}

type Action struct {
	Kind ActionKind
	Wait time.Duration
}

// Decide maps an outcome to the loop's next action. The normal pacing delay
// applies after every action.
func Decide(o Outcome) Action {
	switch o.Kind {
	case Delivered:
		return Action{Kind: Proceed}
	case RateLimited:
		w := max(o.Wait, 0)
		return Action{Kind: WaitThenProceed, Wait: w + RateLimitMargin}
	default:
		return Action{Kind: Skip}
	}
}

// Classify turns a Deliver error into an Outcome. ok is false for errors
// outside the delivery taxonomy; the loop handles those at the cycle level.
func Classify(err error) (o Outcome, ok bool) {
	if err == nil {
		return Outcome{Kind: Delivered}, true
	}
	var rl *RateLimitError
	switch {
	case errors.As(err, &rl):
		return Outcome{Kind: RateLimited, Wait: rl.Wait, Err: err}, true
	case errors.Is(err, ErrRejected):
		return Outcome{Kind: RejectedPermanent, Err: err}, true
	case errors.Is(err, ErrTransient), errors.Is(err, context.DeadlineExceeded):
		return Outcome{Kind: TransientError, Err: err}, true
	}
	return Outcome{Err: err}, false
}
