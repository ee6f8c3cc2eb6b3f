package scenario

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"seedharness/internal/host"
	"seedharness/internal/observability"
	"seedharness/internal/pool"
	"seedharness/internal/reset"
	"seedharness/internal/seed"
	"seedharness/internal/waiter"
)

// Verdict is how a scenario ended.
type Verdict int

const (
	Passed  Verdict = iota
	Failed          // The seed failed or timed out
	Skipped         // Unsupported on this environment
	Errored         // Fixture setup or the harness itself broke
)

func (v Verdict) String() string {
	switch v {
	case Passed:
		return "passed"
	case Failed:
		return "failed"
	case Skipped:
		return "skipped"
	case Errored:
		return "errored"
	default:
		return fmt.Sprintf("verdict(%d)", int(v))
	}
}

// Result is the outcome of one scenario.
type Result struct {
	Scenario string
	Method   seed.Method
	Verdict  Verdict
	JobID    string
	Outcome  *waiter.Outcome
	Reason   string
	Err      error
	Duration time.Duration
}

// versionQuery asks MySQL for its version on the controller host.
const versionQuery = "mysql -BNe 'select @@version'"

// Runner runs scenarios against one provisioned pool.
type Runner struct {
	pool    *pool.Pool
	api     seed.API
	waiter  *waiter.Waiter
	resets  *reset.Runner
	metrics *observability.Metrics
}

// NewRunner returns a Runner. metrics may be nil.
func NewRunner(p *pool.Pool, api seed.API, w *waiter.Waiter, metrics *observability.Metrics) *Runner {
	return &Runner{
		pool:    p,
		api:     api,
		waiter:  w,
		resets:  reset.NewRunner(p, metrics),
		metrics: metrics,
	}
}

// Run runs one scenario: fixtures, target reset, seed start and wait.
func (r *Runner) Run(ctx context.Context, sc Scenario) Result {
	logger := slog.With("component", "scenario", "scenario", sc.Name)
	logger.Info("Starting scenario", "method", sc.Method, "fixtures", reset.Names(sc.Fixtures))

	start := time.Now()
	result := r.run(ctx, sc, logger)
	result.Duration = time.Since(start)

	if r.metrics != nil {
		r.metrics.RecordScenario(ctx, sc.Name, string(sc.Method), result.Verdict.String(), result.Duration.Seconds())
	}

	attrs := []any{"verdict", result.Verdict.String(), "jobId", result.JobID, "duration", result.Duration}
	switch result.Verdict {
	case Passed:
		logger.Info("Scenario passed", attrs...)
	case Skipped:
		logger.Info("Scenario skipped", append(attrs, "reason", result.Reason)...)
	default:
		logger.Error("Scenario did not pass", append(attrs, "error", result.Err)...)
	}
	return result
}

func (r *Runner) run(ctx context.Context, sc Scenario, logger *slog.Logger) Result {
	result := Result{Scenario: sc.Name, Method: sc.Method}

	if sc.RequiresMySQL8 {
		skip, err := r.runsMySQL5(ctx)
		if err != nil {
			result.Verdict, result.Err = Errored, err
			return result
		}
		if skip {
			result.Verdict = Skipped
			result.Reason = fmt.Sprintf("%s is supported only on MySQL 8", sc.Method)
			return result
		}
	}

	procedures := append(slices.Clone(sc.Fixtures), reset.ResetTargetAgent())
	if err := r.resets.Run(ctx, procedures...); err != nil {
		result.Verdict, result.Err = Errored, err
		return result
	}

	source, target, err := r.endpoints()
	if err != nil {
		result.Verdict, result.Err = Errored, err
		return result
	}

	id, err := r.api.Start(ctx, sc.Method, target.Name(), source.Name())
	if err != nil {
		result.Verdict, result.Err = Errored, err
		return result
	}
	result.JobID = id
	logger.Info("Seed started", "jobId", id, "source", source.Name(), "target", target.Name())

	outcome, err := r.waiter.Wait(ctx, id, func(ctx context.Context, jobID string) (seed.Snapshot, error) {
		return seed.Fetch(ctx, r.api, jobID)
	})
	result.Outcome = &outcome
	if err != nil {
		result.Verdict, result.Err = Errored, err
		return result
	}
	if err := outcome.Err(); err != nil {
		result.Verdict, result.Err = Failed, err
		return result
	}
	result.Verdict = Passed
	return result
}

// runsMySQL5 reports whether the environment runs a 5.x server.
func (r *Runner) runsMySQL5(ctx context.Context) (bool, error) {
	controllers, err := r.pool.Select(host.ByRole(host.Controller))
	if err != nil {
		return false, err
	}
	version, err := controllers[0].Run(ctx, versionQuery)
	if err != nil {
		return false, err
	}
	return strings.HasPrefix(strings.TrimSpace(version), "5"), nil
}

// endpoints returns the first source and first target host.
func (r *Runner) endpoints() (source, target *host.Host, err error) {
	sources, err := r.pool.Select(host.ByTag(host.TagSource))
	if err != nil {
		return nil, nil, err
	}
	targets, err := r.pool.Select(host.ByTag(host.TagTarget))
	if err != nil {
		return nil, nil, err
	}
	return sources[0], targets[0], nil
}
