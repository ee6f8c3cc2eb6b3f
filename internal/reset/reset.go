// Package reset restores hosts to a clean baseline between scenarios
// without re-provisioning them.
package reset

import (
	"context"
	"log/slog"

	"seedharness/internal/apperrors"
	"seedharness/internal/host"
	"seedharness/internal/observability"
	"seedharness/internal/pool"
)

// Action is one command run on every host its selector matches.
type Action struct {
	AppliesTo host.Selector `yaml:"appliesTo"`
	Command   string        `yaml:"command"`
}

// Procedure is a named, idempotent sequence of actions. Running it twice
// leaves hosts in the same state as running it once.
type Procedure struct {
	Name    string   `yaml:"name"`
	Actions []Action `yaml:"actions"`
}

// Runner applies procedures to the hosts of a pool.
type Runner struct {
	pool    *pool.Pool
	metrics *observability.Metrics
}

// NewRunner returns a Runner over p. metrics may be nil.
func NewRunner(p *pool.Pool, metrics *observability.Metrics) *Runner {
	return &Runner{pool: p, metrics: metrics}
}

// Run applies procedures in order. The first failure stops the run and is
// returned as an apperrors.ErrFixture error.
func (r *Runner) Run(ctx context.Context, procedures ...Procedure) error {
	for _, proc := range procedures {
		err := r.run(ctx, proc)
		if r.metrics != nil {
			r.metrics.RecordReset(ctx, proc.Name, err == nil)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) run(ctx context.Context, proc Procedure) error {
	logger := slog.With("component", "reset", "procedure", proc.Name)
	logger.Info("Running reset procedure")

	for _, action := range proc.Actions {
		hosts, err := r.pool.Select(action.AppliesTo)
		if err != nil {
			return apperrors.Fixture(proc.Name, "", err)
		}
		for _, h := range hosts {
			if _, err := h.Run(ctx, action.Command); err != nil {
				logger.Error("Reset action failed", "host", h.Name(), "error", err)
				return apperrors.Fixture(proc.Name, h.Name(), err)
			}
		}
	}
	return nil
}

// Names returns the names of procedures, for logging.
func Names(procedures []Procedure) []string {
	names := make([]string, len(procedures))
	for i, p := range procedures {
		names[i] = p.Name
	}
	return names
}
