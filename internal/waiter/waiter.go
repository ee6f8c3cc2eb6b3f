// Package waiter polls an asynchronous seed job until it completes, fails
// or runs out of time.
package waiter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"seedharness/internal/apperrors"
	"seedharness/internal/observability"
	"seedharness/internal/seed"
)

const (
	DefaultInterval = 20 * time.Second
	DefaultTimeout  = 600 * time.Second
)

// QueryFunc takes one snapshot of a job. An error means the polling
// mechanism itself is broken and ends the wait immediately.
type QueryFunc func(ctx context.Context, jobID string) (seed.Snapshot, error)

// Clock is the time source of a Waiter.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Kind is the terminal state a wait ended in.
type Kind int

const (
	Completed Kind = iota
	Failed
	TimedOut
)

func (k Kind) String() string {
	switch k {
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	case TimedOut:
		return "timed_out"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Outcome is the result of one wait. History is the stage history at the
// last poll; for Failed it is the snapshot taken when Failed was first seen.
type Outcome struct {
	Kind      Kind
	JobID     string
	Status    seed.Status
	RawStatus string
	Stage     string
	History   []seed.StageState
	Elapsed   time.Duration
	Polls     int
}

// Err converts a non-Completed outcome into the matching error.
func (o Outcome) Err() error {
	switch o.Kind {
	case Failed:
		return apperrors.JobFailed(o.JobID, o.RawStatus)
	case TimedOut:
		return apperrors.WaitTimedOut(o.JobID, o.Elapsed)
	default:
		return nil
	}
}

// Waiter polls a job at a fixed interval up to a timeout.
type Waiter struct {
	Interval time.Duration
	Timeout  time.Duration
	Clock    Clock
	Metrics  *observability.Metrics
}

// New returns a Waiter with the given interval and timeout; zero values
// take the defaults.
func New(interval, timeout time.Duration) *Waiter {
	return &Waiter{Interval: interval, Timeout: timeout}
}

// Wait polls jobID with query until a terminal state or the timeout.
//
// Every iteration queries exactly once. Failed and Completed end the wait
// on the poll that observed them. Otherwise, if another interval would pass
// the timeout, no further poll is made: the wait sleeps until the deadline
// (or not at all when the timeout is shorter than one interval) and ends as
// TimedOut. Else it sleeps and polls again. A query error is returned as
// is, never retried, and is distinct from a Failed outcome.
func (w *Waiter) Wait(ctx context.Context, jobID string, query QueryFunc) (Outcome, error) {
	interval := w.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	timeout := w.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	clock := w.Clock
	if clock == nil {
		clock = realClock{}
	}

	logger := slog.With("component", "waiter", "jobId", jobID)
	start := clock.Now()
	outcome := Outcome{JobID: jobID}

	finish := func(kind Kind) (Outcome, error) {
		outcome.Kind = kind
		outcome.Elapsed = clock.Now().Sub(start)
		if w.Metrics != nil {
			w.Metrics.RecordWait(ctx, kind.String(), outcome.Elapsed.Seconds())
		}
		logger.Info("Wait finished", "outcome", kind.String(), "status", outcome.RawStatus, "stage", outcome.Stage,
			"polls", outcome.Polls, "elapsed", outcome.Elapsed)
		return outcome, nil
	}

	for {
		snap, err := query(ctx, jobID)
		outcome.Polls++
		if err != nil {
			logger.Error("Seed query failed", "poll", outcome.Polls, "error", err)
			var appErr *apperrors.Error
			if !errors.As(err, &appErr) {
				err = apperrors.Transport("waiter.query", err)
			}
			return outcome, err
		}

		outcome.Status = snap.Status
		outcome.RawStatus = snap.RawStatus
		outcome.Stage = snap.Stage
		outcome.History = snap.History
		if w.Metrics != nil {
			w.Metrics.RecordPoll(ctx, snap.RawStatus)
		}

		logger.Info("Seed status", "poll", outcome.Polls, "status", snap.RawStatus, "stage", snap.Stage)
		for _, state := range snap.CurrentStageHistory() {
			logger.Info("Seed stage", "stage", state.Stage, "host", state.Hostname,
				"status", state.Status, "details", state.Details, "timestamp", state.Timestamp)
		}

		switch snap.Status {
		case seed.Failed:
			return finish(Failed)
		case seed.Completed:
			return finish(Completed)
		}

		elapsed := clock.Now().Sub(start)
		if elapsed+interval > timeout {
			// No poll fits before the deadline. Run out the remaining budget
			// unless the timeout is shorter than a single interval.
			if remaining := timeout - elapsed; timeout >= interval && remaining > 0 {
				if err := clock.Sleep(ctx, remaining); err != nil {
					return outcome, apperrors.Transport("waiter.sleep", err)
				}
			}
			return finish(TimedOut)
		}

		logger.Debug("Sleeping before next poll", "interval", interval)
		if err := clock.Sleep(ctx, interval); err != nil {
			return outcome, apperrors.Transport("waiter.sleep", err)
		}
		if clock.Now().Sub(start) >= timeout {
			return finish(TimedOut)
		}
	}
}
