// Package supervisor keeps the long-running loops alive. A loop that
// returns or panics while the process is still running is restarted after
// a backoff, up to a per-task budget.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"intraday_trader/internal/logger"
	"intraday_trader/internal/metrics"

	"golang.org/x/sync/errgroup"
)

var errExited = errors.New("exited without error")

type Notifier interface {
	Notify(text string)
}

// Task is one named loop. Run should block until ctx is done.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

type Supervisor struct {
	maxRestarts int
	backoff     time.Duration
	notifier    Notifier
	metrics     *metrics.Metrics
	tasks       []Task
}

// New returns a Supervisor. notifier and m may be nil.
func New(maxRestarts int, backoff time.Duration, notifier Notifier, m *metrics.Metrics) *Supervisor {
	return &Supervisor{
		maxRestarts: maxRestarts,
		backoff:     backoff,
		notifier:    notifier,
		metrics:     m,
	}
}

func (s *Supervisor) Add(name string, run func(ctx context.Context) error) {
	s.tasks = append(s.tasks, Task{Name: name, Run: run})
}

// Run starts every task and blocks until ctx is cancelled and all of them
// have returned. A task that exhausts its restart budget stays down; the
// others keep running.
func (s *Supervisor) Run(ctx context.Context) error {
	group, ctx := errgroup.WithContext(ctx)
	for _, t := range s.tasks {
		group.Go(func() error {
			s.supervise(ctx, t)
			return nil
		})
	}
	return group.Wait()
}

func (s *Supervisor) supervise(ctx context.Context, t Task) {
	restarts := 0
	for {
		err := runOnce(ctx, t)
		if ctx.Err() != nil {
			logger.Debugf("task %s stopped", t.Name)
			return
		}
		if restarts >= s.maxRestarts {
			logger.Errorf("task %s gave up after %d restarts: %v", t.Name, restarts, err)
			s.notify(fmt.Sprintf("🚨 %s loop is DOWN after %d restarts: %v", t.Name, restarts, summary(err)))
			return
		}
		restarts++
		logger.Errorf("task %s failed (%d/%d): %v", t.Name, restarts, s.maxRestarts, err)
		s.notify(fmt.Sprintf("♻️ %s loop stopped (%v), restarting in %s (%d/%d)",
			t.Name, summary(err), s.backoff, restarts, s.maxRestarts))
		s.metrics.RecordRestart(t.Name)

		timer := time.NewTimer(s.backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// runOnce converts a panic into an error carrying the stack.
func runOnce(ctx context.Context, t Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	if err = t.Run(ctx); err == nil {
		err = errExited
	}
	return err
}

// summary keeps notifications to the first line of an error.
func summary(err error) string {
	msg := err.Error()
	for i, r := range msg {
		if r == '\n' {
			return msg[:i]
		}
	}
	return msg
}

func (s *Supervisor) notify(text string) {
	if s.notifier != nil {
		s.notifier.Notify(text)
	}
}
