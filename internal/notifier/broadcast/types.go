package broadcast

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"fwdbot/internal/runtime/supervisor"
	"fwdbot/internal/transport"
	logx "fwdbot/pkg/logx"
)

var (
	ErrNotRunning = errors.New("broadcast not running")
	ErrQueueFull  = errors.New("broadcast queue full")
	ErrNoTargets  = errors.New("broadcast has no targets")
)

type Config struct {
	Workers    int
	RatePerSec int
	RetryMax   int
}

// Sender is the transport slice broadcasts need.
type Sender interface {
	SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error)
}

type job struct {
	id      string
	name    string
	targets []int64
	text    string
}

// JobStatus is a point-in-time copy of a job's progress.
type JobStatus struct {
	ID        string
	Name      string
	Total     int
	Done      int
	Failed    int
	Failures  []int64
	CreatedAt time.Time
	StartedAt time.Time
	DoneAt    time.Time
	Running   bool
}

func (s JobStatus) Finished() bool { return !s.DoneAt.IsZero() }

type Service struct {
	mu sync.Mutex

	cfg    Config
	sender Sender
	log    logx.Logger

	limiter *rate.Limiter
	queue   chan job
	sup     *supervisor.Supervisor

	statusMu  sync.RWMutex
	status    map[string]*JobStatus
	statusMax int
	statusTTL time.Duration
}
