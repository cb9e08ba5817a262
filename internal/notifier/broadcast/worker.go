package broadcast

import (
	"context"
	"time"

	"github.com/google/uuid"

	"fwdbot/internal/transport"
	logx "fwdbot/pkg/logx"
)

// Submit queues text for every target chat and returns the job id.
func (s *Service) Submit(name string, targets []int64, text string) (string, error) {
	if len(targets) == 0 {
		return "", ErrNoTargets
	}
	s.mu.Lock()
	running := s.sup != nil
	s.mu.Unlock()
	if !running {
		return "", ErrNotRunning
	}

	now := time.Now()
	id := uuid.NewString()
	s.pruneStatus(now)
	s.statusMu.Lock()
	s.status[id] = &JobStatus{ID: id, Name: name, Total: len(targets), CreatedAt: now}
	s.statusMu.Unlock()

	select {
	case s.queue <- job{id: id, name: name, targets: append([]int64(nil), targets...), text: text}:
		s.log.Debug("broadcast job enqueued", logx.String("job", id), logx.String("name", name), logx.Int("total", len(targets)))
		return id, nil
	default:
		s.statusMu.Lock()
		delete(s.status, id)
		s.statusMu.Unlock()
		s.log.Warn("broadcast queue full; dropping job", logx.String("job", id), logx.Int("queue_cap", cap(s.queue)))
		return "", ErrQueueFull
	}
}

func (s *Service) Status(jobID string) (JobStatus, bool) {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	st, ok := s.status[jobID]
	if !ok {
		return JobStatus{}, false
	}
	cp := *st
	cp.Failures = append([]int64(nil), st.Failures...)
	return cp, true
}

func (s *Service) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-s.queue:
			s.execJob(ctx, j)
		}
	}
}

func (s *Service) execJob(ctx context.Context, j job) {
	start := time.Now()
	s.update(j.id, func(st *JobStatus) {
		st.StartedAt = start
		st.Running = true
	})
	s.log.Info("broadcast job started", logx.String("job", j.id), logx.String("name", j.name), logx.Int("total", len(j.targets)))

	for _, chatID := range j.targets {
		if ctx.Err() != nil {
			break
		}
		err := s.sendOne(ctx, j, chatID)
		s.update(j.id, func(st *JobStatus) {
			st.Done++
			if err != nil {
				st.Failed++
				if len(st.Failures) < 200 {
					st.Failures = append(st.Failures, chatID)
				}
			}
		})
	}
	var st JobStatus
	s.update(j.id, func(cur *JobStatus) {
		cur.DoneAt = time.Now()
		cur.Running = false
		st = *cur
	})
	fields := []logx.Field{
		logx.String("job", j.id),
		logx.Int("total", st.Total),
		logx.Int("failed", st.Failed),
		logx.Duration("dur", time.Since(start)),
	}
	if st.Failed > 0 {
		s.log.Warn("broadcast job finished with failures", fields...)
	} else {
		s.log.Info("broadcast job finished", fields...)
	}
	s.pruneStatus(time.Now())
}

func (s *Service) sendOne(ctx context.Context, j job, chatID int64) error {
	s.mu.Lock()
	lim, retry, sender := s.limiter, s.cfg.RetryMax, s.sender
	s.mu.Unlock()

	if err := lim.Wait(ctx); err != nil {
		return err
	}
	var last error
	for i := 0; i <= retry; i++ {
		_, err := sender.SendText(ctx, transport.ChatTarget{ChatID: chatID}, j.text, nil)
		if err == nil {
			return nil
		}
		last = err
		if i == retry {
			break
		}
		delay := time.Duration(200+100*i) * time.Millisecond
		s.log.Debug("broadcast send retry scheduled", logx.String("job", j.id), logx.Tenant(chatID), logx.Int("attempt", i+2), logx.Duration("delay", delay), logx.Err(err))
		tmr := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			tmr.Stop()
			return ctx.Err()
		case <-tmr.C:
		}
	}
	s.log.Warn("broadcast send failed", logx.String("job", j.id), logx.Tenant(chatID), logx.Err(last))
	return last
}

func (s *Service) update(id string, fn func(*JobStatus)) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	if st := s.status[id]; st != nil {
		fn(st)
	}
}

// pruneStatus drops finished jobs past the TTL, then the oldest finished
// jobs beyond the cap.
func (s *Service) pruneStatus(now time.Time) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	for id, st := range s.status {
		if st.Finished() && now.Sub(st.DoneAt) > s.statusTTL {
			delete(s.status, id)
		}
	}
	for len(s.status) > s.statusMax {
		var (
			oldest string
			at     time.Time
		)
		for id, st := range s.status {
			if !st.Finished() {
				continue
			}
			if oldest == "" || st.CreatedAt.Before(at) {
				oldest, at = id, st.CreatedAt
			}
		}
		if oldest == "" {
			return
		}
		delete(s.status, oldest)
	}
}
