// Package sched triggers optimization evaluations on a time-of-day schedule.
package sched

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/markus-lassfolk/lteopt/pkg"
	"github.com/markus-lassfolk/lteopt/pkg/logx"
)

// checkInterval is how often the scheduler polls the clock. Polling rather
// than sleeping until the next boundary keeps the scheduler correct across
// suspend/resume and clock jumps.
const checkInterval = 30 * time.Second

// Evaluator is the scheduled action. Satisfied by the decision controller.
type Evaluator interface {
	Evaluate(ctx context.Context, trigger string) *pkg.Decision
}

// Scheduler fires one evaluation per window per calendar day. A window that
// has already fired today is skipped even if the process re-enters it, so a
// long pause inside a window cannot double-trigger.
type Scheduler struct {
	evaluator Evaluator
	logger    *logx.Logger
	windows   []pkg.TimeWindow

	mu        sync.Mutex
	firedOn   map[int]string // window index -> date (2006-01-02) last fired
	lastFired time.Time
	running   bool

	now func() time.Time
}

// New creates a scheduler over the given windows.
func New(evaluator Evaluator, windows []pkg.TimeWindow, logger *logx.Logger) *Scheduler {
	return &Scheduler{
		evaluator: evaluator,
		logger:    logger,
		windows:   windows,
		firedOn:   make(map[int]string),
		now:       time.Now,
	}
}

// Run polls the clock until ctx is cancelled. An immediate check runs on
// entry so a restart inside a window does not wait for the next tick.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already running")
	}
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	if len(s.windows) == 0 {
		s.logger.Warn("No schedule windows configured, scheduler idle")
		<-ctx.Done()
		return ctx.Err()
	}

	s.logger.Info("Scheduler started", "windows", len(s.windows), "check_interval", checkInterval)

	ticker := time.NewTicker(checkInterval)
	defer ticker.Stop()

	s.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			s.Check(ctx)
		}
	}
}

// Check fires evaluations for every window the current time falls in that
// has not yet fired today.
func (s *Scheduler) Check(ctx context.Context) {
	now := s.now()
	date := now.Format("2006-01-02")

	for i, w := range s.windows {
		if !w.Contains(now) {
			continue
		}

		s.mu.Lock()
		if s.firedOn[i] == date {
			s.mu.Unlock()
			continue
		}
		s.firedOn[i] = date
		s.lastFired = now
		s.mu.Unlock()

		trigger := fmt.Sprintf("scheduled:%s", w)
		s.logger.Info("Schedule window reached", "window", w.String(), "date", date)
		if d := s.evaluator.Evaluate(ctx, trigger); d != nil {
			s.logger.Debug("Scheduled evaluation complete", "action", d.Action, "reason", d.Reason)
		}
	}
}

// Force runs an evaluation immediately, outside the schedule. It does not
// consume today's slot for any window.
func (s *Scheduler) Force(ctx context.Context) *pkg.Decision {
	s.logger.Info("Forced evaluation requested")
	return s.evaluator.Evaluate(ctx, "manual")
}

// GetStatus returns scheduler status for diagnostics.
func (s *Scheduler) GetStatus() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	windows := make([]string, len(s.windows))
	for i, w := range s.windows {
		windows[i] = w.String()
	}
	status := map[string]interface{}{
		"running": s.running,
		"windows": windows,
	}
	if !s.lastFired.IsZero() {
		status["last_fired"] = s.lastFired
	}
	return status
}
