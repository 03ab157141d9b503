// Package scheduler runs one cancellable deadline timer per active
// workflow, with optional countdown ticks.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/yhlam/guildcore/pkg/logger"
	"github.com/yhlam/guildcore/pkg/metrics"
)

// Job is one scheduled deadline.
type Job struct {
	// ID identifies the workflow; scheduling the same ID again replaces
	// the previous timer.
	ID string
	// Kind labels the workflow for logs and metrics, e.g. "event_signup"
	// or "giveaway".
	Kind string
	// Deadline is when OnExpire fires. A past deadline fires immediately.
	Deadline time.Time
	// Tick, when positive, calls OnTick roughly every Tick with the time
	// remaining. Ticks are best effort and coalesce under load.
	Tick time.Duration
	// OnTick may be nil.
	OnTick func(remaining time.Duration)
	// OnExpire runs exactly once, unless the job is cancelled first.
	OnExpire func()
}

type entry struct {
	cancel    chan struct{}
	cancelled bool
}

// Scheduler owns the timer goroutines.
type Scheduler struct {
	now func() time.Time
	log logger.Logger

	mu      sync.Mutex
	entries map[string]*entry
	wg      sync.WaitGroup
	stopped bool
}

// Option applies a configuration option to the Scheduler.
type Option func(*Scheduler)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates a scheduler.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		now:     func() time.Time { return time.Now().UTC() },
		log:     logger.Named("scheduler"),
		entries: make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Schedule starts (or replaces) the timer for job.ID. The timer stops
// when the job expires, is cancelled, or ctx is done; ctx cancellation
// does not fire OnExpire.
func (s *Scheduler) Schedule(ctx context.Context, job Job) {
	if job.OnExpire == nil {
		return
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	if old, ok := s.entries[job.ID]; ok && !old.cancelled {
		old.cancelled = true
		close(old.cancel)
	}
	e := &entry{cancel: make(chan struct{})}
	s.entries[job.ID] = e
	s.wg.Add(1)
	s.mu.Unlock()

	go s.run(ctx, job, e)
}

func (s *Scheduler) run(ctx context.Context, job Job, e *entry) {
	defer s.wg.Done()

	timer := time.NewTimer(job.Deadline.Sub(s.now()))
	defer timer.Stop()

	var tick <-chan time.Time
	if job.Tick > 0 && job.OnTick != nil {
		ticker := time.NewTicker(job.Tick)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			s.remove(job.ID, e)
			return
		case <-e.cancel:
			s.remove(job.ID, e)
			return
		case <-tick:
			job.OnTick(job.Deadline.Sub(s.now()))
		case <-timer.C:
			// Cancel may have raced the timer; it wins.
			if !s.claimExpiry(job.ID, e) {
				return
			}
			metrics.RecordTimerFire(job.Kind)
			s.log.Debug(ctx, "timer expired",
				logger.String("job_id", job.ID),
				logger.String("kind", job.Kind))
			job.OnExpire()
			return
		}
	}
}

// claimExpiry atomically checks the entry is still live and detaches it,
// so a concurrent Cancel can never observe a cancellable timer that
// still fires.
func (s *Scheduler) claimExpiry(id string, e *entry) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.cancelled {
		return false
	}
	if cur, ok := s.entries[id]; ok && cur == e {
		delete(s.entries, id)
	}
	return true
}

func (s *Scheduler) remove(id string, e *entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.entries[id]; ok && cur == e {
		delete(s.entries, id)
	}
}

// Cancel stops the timer for id. A cancelled timer never fires OnExpire.
// Cancelling an unknown or already-expired id is a no-op.
func (s *Scheduler) Cancel(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[id]; ok && !e.cancelled {
		e.cancelled = true
		close(e.cancel)
		delete(s.entries, id)
	}
}

// Len returns the number of live timers.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Stop cancels every timer and waits for the goroutines to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	for id, e := range s.entries {
		if !e.cancelled {
			e.cancelled = true
			close(e.cancel)
		}
		delete(s.entries, id)
	}
	s.mu.Unlock()
	s.wg.Wait()
}
