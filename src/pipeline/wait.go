package pipeline

import (
	"context"
	"fmt"
	"time"

	"buildreport-agent/src/faults"
	"buildreport-agent/src/logger"
	"buildreport-agent/src/sonar"
)

// TaskSource reports the latest analysis task of a project.
type TaskSource interface {
	LatestTask(ctx context.Context, componentKey string) (*sonar.Task, error)
}

// Waiter blocks until analysis results are expected to be queryable. It returns
// the start time of the analysis task when known, or nil.
type Waiter interface {
	Wait(ctx context.Context, projectKey string) (*time.Time, error)
}

// SleepFunc pauses for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// FixedWait sleeps once, then looks up the analysis task for its start time.
type FixedWait struct {
	Delay  time.Duration
	Tasks  TaskSource // optional
	Sleep  SleepFunc
	Logger logger.Logger
}

// Wait implements Waiter.
func (w *FixedWait) Wait(ctx context.Context, projectKey string) (*time.Time, error) {
	sleep := w.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	if err := sleep(ctx, w.Delay); err != nil {
		return nil, err
	}
	if w.Tasks == nil {
		return nil, nil
	}

	task, err := w.Tasks.LatestTask(ctx, projectKey)
	if err != nil {
		logOrSilent(w.Logger).Warn("[Wait] Analysis activity unavailable, using build start: %v", err)
		return nil, nil
	}
	if task == nil {
		return nil, nil
	}
	return task.StartedAt, nil
}

// PollWait polls the analysis task until it finishes or Timeout elapses.
// A timeout is not fatal: the run proceeds as if a fixed delay had passed.
type PollWait struct {
	Tasks    TaskSource
	Interval time.Duration
	Timeout  time.Duration
	Sleep    SleepFunc
	Now      func() time.Time
	Logger   logger.Logger
}

// Wait implements Waiter.
func (w *PollWait) Wait(ctx context.Context, projectKey string) (*time.Time, error) {
	sleep := w.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	now := w.Now
	if now == nil {
		now = time.Now
	}
	log := logOrSilent(w.Logger)

	deadline := now().Add(w.Timeout)
	var last *sonar.Task
	for {
		task, err := w.Tasks.LatestTask(ctx, projectKey)
		switch {
		case err != nil:
			log.Warn("[Wait] Polling analysis activity: %v", err)
		case task == nil:
			log.Debug("[Wait] No analysis task for %s yet", projectKey)
		default:
			last = task
			switch task.Status {
			case sonar.TaskSuccess:
				return task.StartedAt, nil
			case sonar.TaskFailed, sonar.TaskCanceled:
				return nil, fmt.Errorf("analysis task %s ended %s: %w", task.ID, task.Status, faults.ErrUpstreamUnavailable)
			}
			log.Debug("[Wait] Analysis task %s is %s", task.ID, task.Status)
		}

		if !now().Add(w.Interval).Before(deadline) {
			log.Warn("[Wait] Analysis not finished after %s, proceeding", w.Timeout)
			if last != nil {
				return last.StartedAt, nil
			}
			return nil, nil
		}
		if err := sleep(ctx, w.Interval); err != nil {
			return nil, err
		}
	}
}

func logOrSilent(log logger.Logger) logger.Logger {
	if log == nil {
		return logger.NewSilentLogger()
	}
	return log
}
