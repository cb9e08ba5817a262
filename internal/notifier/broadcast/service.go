package broadcast

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"fwdbot/internal/runtime/supervisor"
	logx "fwdbot/pkg/logx"
)

func New(cfg Config, sender Sender, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		sender:    sender,
		log:       log.With(logx.String("comp", "broadcast")),
		queue:     make(chan job, 64),
		status:    map[string]*JobStatus{},
		statusMax: 200,
		statusTTL: 24 * time.Hour,
	}
	s.Apply(cfg)
	return s
}

// Apply swaps rate and retry settings. Worker count applies on next Start.
func (s *Service) Apply(cfg Config) {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 10
	}
	cfg.RetryMax = max(cfg.RetryMax, 0)
	s.mu.Lock()
	s.cfg = cfg
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	s.mu.Unlock()
}

// Start launches the worker pool. Pending jobs survive a Stop/Start cycle.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup != nil {
		return
	}
	s.sup = supervisor.New(ctx, supervisor.WithLogger(s.log))
	for i := range s.cfg.Workers {
		s.sup.GoRestart(fmt.Sprintf("broadcast.worker.%d", i), func(c context.Context) error {
			s.worker(c)
			return context.Canceled
		})
	}
	s.log.Info("service started", logx.Int("workers", s.cfg.Workers), logx.Int("rps", s.cfg.RatePerSec))
}

func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.mu.Lock()
	sup := s.sup
	s.sup = nil
	s.mu.Unlock()
	if sup == nil {
		return
	}
	if err := sup.Stop(ctx); err != nil && !errors.Is(err, context.Canceled) {
		s.log.Warn("broadcast stop incomplete", logx.Err(err))
		return
	}
	s.log.Info("service stopped", logx.Duration("took", time.Since(start)))
}
