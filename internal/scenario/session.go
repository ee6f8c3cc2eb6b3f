package scenario

import (
	"context"
	"errors"
	"log/slog"

	"seedharness/internal/health"
	"seedharness/internal/host"
	"seedharness/internal/observability"
	"seedharness/internal/pool"
	"seedharness/internal/provision"
	"seedharness/internal/seed"
	"seedharness/internal/waiter"
)

// APIFactory builds the controller client once the pool exists.
type APIFactory func(p *pool.Pool) (seed.API, error)

// SessionOptions describes one test session.
type SessionOptions struct {
	Backend   host.Backend
	Topology  []pool.Entry
	Pool      pool.Options
	Plan      provision.Plan
	Provision provision.Options
	Scenarios []Scenario
	API       APIFactory
	Waiter    *waiter.Waiter

	// Health, when set, gates pool creation on its readiness checks and
	// gets the controller API registered once it is known.
	Health *health.Checker

	// KeepEnvironment leaves every host running after the session.
	KeepEnvironment bool

	// OnResult, when set, is called after each scenario.
	OnResult func(Result)

	Metrics *observability.Metrics
}

// Report collects the results of a session.
type Report struct {
	Results  []Result
	Teardown error // Joined per-host teardown failures
}

// Count returns how many results ended with v.
func (r *Report) Count(v Verdict) int {
	n := 0
	for _, res := range r.Results {
		if res.Verdict == v {
			n++
		}
	}
	return n
}

// OK reports whether every scenario passed or was skipped and teardown
// succeeded.
func (r *Report) OK() bool {
	return r.Count(Failed) == 0 && r.Count(Errored) == 0 && r.Teardown == nil
}

// Err summarises every scenario failure and teardown failure.
func (r *Report) Err() error {
	var errs []error
	for _, res := range r.Results {
		if res.Err != nil {
			errs = append(errs, res.Err)
		}
	}
	if r.Teardown != nil {
		errs = append(errs, r.Teardown)
	}
	return errors.Join(errs...)
}

// RunSession creates the pool, provisions it, runs every scenario and tears
// the pool down unless KeepEnvironment is set. A setup failure aborts the
// session and is returned; scenario failures are reported in the Report.
func RunSession(ctx context.Context, opts SessionOptions) (report *Report, err error) {
	logger := slog.With("component", "session")
	report = &Report{}

	if opts.Health != nil {
		if err := opts.Health.Preflight(ctx); err != nil {
			return report, err
		}
	}

	poolOpts := opts.Pool
	if poolOpts.Metrics == nil {
		poolOpts.Metrics = opts.Metrics
	}
	p, err := pool.Create(ctx, opts.Backend, opts.Topology, poolOpts)
	if err != nil {
		return report, err
	}
	logger.Info("Pool created", "hosts", p.Len())

	defer func() {
		if opts.Health != nil {
			opts.Health.SetShuttingDown()
		}
		if opts.KeepEnvironment {
			for _, h := range p.Hosts() {
				logger.Info("Keeping host", "host", h.Name(), "address", h.Address())
			}
			return
		}
		// Tear down even when the session context was cancelled.
		report.Teardown = p.Destroy(context.WithoutCancel(ctx))
	}()

	provisionOpts := opts.Provision
	if provisionOpts.Metrics == nil {
		provisionOpts.Metrics = opts.Metrics
	}
	if err := provision.Apply(ctx, p, opts.Plan, provisionOpts); err != nil {
		return report, err
	}
	logger.Info("Pool provisioned", "plan", opts.Plan.Name)

	api, err := opts.API(p)
	if err != nil {
		return report, err
	}
	if checker, ok := api.(health.ReadinessChecker); ok && opts.Health != nil {
		opts.Health.Register("controller", checker)
	}

	var w waiter.Waiter
	if opts.Waiter != nil {
		w = *opts.Waiter
	}
	if w.Metrics == nil {
		w.Metrics = opts.Metrics
	}

	runner := NewRunner(p, api, &w, opts.Metrics)
	for _, sc := range opts.Scenarios {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		result := runner.Run(ctx, sc)
		report.Results = append(report.Results, result)
		if opts.OnResult != nil {
			opts.OnResult(result)
		}
	}

	logger.Info("Session finished",
		"passed", report.Count(Passed),
		"failed", report.Count(Failed),
		"skipped", report.Count(Skipped),
		"errored", report.Count(Errored),
	)
	return report, nil
}
