package provision

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"seedharness/internal/apperrors"
	"seedharness/internal/host"
	"seedharness/internal/observability"
	"seedharness/internal/pool"
)

// Options tunes plan application.
type Options struct {
	// Concurrency is the number of hosts provisioned at once. Steps of a
	// single host always run in order. Default 1: hosts one after another
	// in pool order.
	Concurrency int

	// Vars override the plan's variables.
	Vars map[string]string

	Metrics *observability.Metrics
}

// Apply runs the plan on every host of p. The first failing step stops the
// run and is returned as an apperrors.ErrProvisioning error naming host,
// ordinal, command and output. Applied steps are not rolled back; a host
// that failed part way must be treated as unusable.
func Apply(ctx context.Context, p *pool.Pool, plan Plan, opts Options) error {
	if err := plan.Validate(); err != nil {
		return err
	}

	vars := make(map[string]string, len(plan.Vars)+len(opts.Vars))
	for k, v := range plan.Vars {
		vars[k] = v
	}
	for k, v := range opts.Vars {
		vars[k] = v
	}

	hosts := p.Hosts()
	data := templateData(hosts, vars)

	logger := slog.With("component", "provision", "plan", plan.Name)
	logger.Info("Applying plan", "hosts", len(hosts), "steps", len(plan.Steps))

	if opts.Concurrency <= 1 {
		for i, h := range hosts {
			if err := applyHost(ctx, h, plan.StepsFor(h), data[i], opts.Metrics); err != nil {
				return err
			}
		}
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)
	for i, h := range hosts {
		g.Go(func() error {
			return applyHost(gctx, h, plan.StepsFor(h), data[i], opts.Metrics)
		})
	}
	return g.Wait()
}

// templateData builds the per-host template input in pool order.
func templateData(hosts []*host.Host, vars map[string]string) []TemplateData {
	roleCount := make(map[host.Role]int)
	data := make([]TemplateData, len(hosts))
	for i, h := range hosts {
		data[i] = TemplateData{
			Name:      h.Name(),
			Role:      h.Role().String(),
			Address:   h.Address(),
			Tags:      h.Tags(),
			Index:     i,
			RoleIndex: roleCount[h.Role()],
			Vars:      vars,
		}
		roleCount[h.Role()]++
	}
	return data
}

func applyHost(ctx context.Context, h *host.Host, steps []Step, data TemplateData, metrics *observability.Metrics) error {
	logger := slog.With("component", "provision", "host", h.Name())

	for _, step := range steps {
		cmd, err := step.Render(data)
		if err != nil {
			return apperrors.Provisioning(h.Name(), step.Ordinal, step.Command, "", err)
		}

		logger.Info("Running step", "step", step.label(), "ordinal", step.Ordinal)
		start := time.Now()
		out, err := h.Run(ctx, cmd)
		if metrics != nil {
			metrics.RecordStep(ctx, h.Role().String(), err == nil, time.Since(start).Seconds())
		}
		if err != nil {
			logger.Error("Step failed", "step", step.label(), "ordinal", step.Ordinal, "error", err)
			return apperrors.Provisioning(h.Name(), step.Ordinal, cmd, out, err)
		}
	}
	return nil
}
