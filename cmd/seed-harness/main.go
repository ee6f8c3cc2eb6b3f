// seed-harness provisions a controller and two MySQL agents, runs every seed
// scenario between them and tears the environment down.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"seedharness/internal/api"
	"seedharness/internal/apperrors"
	"seedharness/internal/config"
	"seedharness/internal/environment"
	"seedharness/internal/health"
	"seedharness/internal/host"
	"seedharness/internal/host/docker"
	"seedharness/internal/host/ssh"
	"seedharness/internal/observability"
	"seedharness/internal/pool"
	"seedharness/internal/provision"
	"seedharness/internal/scenario"
	"seedharness/internal/seed"
	"seedharness/internal/waiter"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	err := run()
	if err != nil {
		slog.Error("Harness failed", "error", err)
	}
	os.Exit(apperrors.ExitCode(err))
}

func run() error {
	cfg, err := config.LoadHarnessConfig()
	if err != nil {
		return err
	}
	fs := flag.NewFlagSet("seed-harness", flag.ContinueOnError)
	cfg.RegisterFlags(fs)
	if err := fs.Parse(os.Args[1:]); err != nil {
		return apperrors.Validation("flags", err.Error())
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	scenarios, err := scenario.Select(scenario.Catalog(), cfg.Scenarios)
	if err != nil {
		return err
	}

	plan := environment.Plan(environment.Options{
		MySQLVersion:     cfg.MySQLVersion,
		ControllerRepo:   cfg.ControllerRepo,
		ControllerBranch: cfg.ControllerBranch,
		OnlyUpdateAgents: cfg.OnlyUpdateAgents,
	})
	if cfg.PlanFile != "" {
		if plan, err = provision.LoadPlan(cfg.PlanFile); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics, metricsHandler, err := observability.NewMetrics(ctx)
	if err != nil {
		return err
	}

	backend, closeBackend, err := newBackend(cfg)
	if err != nil {
		return err
	}
	defer closeBackend()

	healthChecker := health.NewChecker()
	healthChecker.Register("backend", backend)
	progress := api.NewProgress(len(scenarios))

	if cfg.MetricsPort != "" {
		statusServer := &http.Server{
			Addr: ":" + cfg.MetricsPort,
			Handler: api.NewRouter(api.RouterConfig{
				HealthChecker:  healthChecker,
				Progress:       progress,
				MetricsHandler: metricsHandler,
			}),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		}
		go func() {
			slog.Info("Starting status server", "port", cfg.MetricsPort)
			if err := statusServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("Status server failed", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := statusServer.Shutdown(shutdownCtx); err != nil {
				slog.Error("Status server shutdown error", "error", err)
			}
		}()
	}

	slog.Info("Starting session",
		"backend", cfg.Backend,
		"mysqlVersion", cfg.MySQLVersion,
		"plan", plan.Name,
		"scenarios", len(scenarios),
	)

	report, err := scenario.RunSession(ctx, scenario.SessionOptions{
		Backend:  backend,
		Topology: environment.Topology(),
		Pool: pool.Options{
			Allocate:    environment.AddressRule(),
			Concurrency: cfg.Concurrency,
		},
		Plan:      plan,
		Provision: provision.Options{Concurrency: cfg.Concurrency},
		Scenarios: scenarios,
		API:       controllerAPI(cfg),
		Waiter:    waiter.New(cfg.PollInterval, cfg.PollTimeout),
		Health:    healthChecker,
		Metrics:   metrics,
		OnResult:  progress.Record,

		KeepEnvironment: cfg.KeepEnvironment,
	})
	for _, res := range report.Results {
		slog.Info("Scenario result", "scenario", res.Scenario, "verdict", res.Verdict.String(), "duration", res.Duration)
	}
	for _, terr := range pool.TeardownErrors(report.Teardown) {
		slog.Error("Host teardown failed", "error", terr)
	}
	if err != nil {
		return errors.Join(err, report.Teardown)
	}

	slog.Info("Session complete",
		"passed", report.Count(scenario.Passed),
		"failed", report.Count(scenario.Failed),
		"skipped", report.Count(scenario.Skipped),
		"errored", report.Count(scenario.Errored),
	)
	return report.Err()
}

// newBackend builds the configured provisioning backend and its cleanup.
func newBackend(cfg *config.HarnessConfig) (host.Backend, func(), error) {
	switch cfg.Backend {
	case config.BackendSSH:
		b, err := ssh.NewBackend(ssh.Config{
			User:           cfg.SSH.User,
			Port:           cfg.SSH.Port,
			PrivateKey:     []byte(cfg.SSH.PrivateKey),
			DialTimeout:    cfg.SSH.DialTimeout,
			DestroyCommand: cfg.SSH.DestroyCommand,
		})
		if err != nil {
			return nil, nil, err
		}
		return b, func() {}, nil
	default:
		b, err := docker.NewBackend(docker.Config{
			Image:   cfg.Docker.Image,
			Subnet:  cfg.Docker.Subnet,
			Gateway: cfg.Docker.Gateway,
			Shared:  cfg.Docker.Shared,
		})
		if err != nil {
			return nil, nil, err
		}
		slog.Info("Connected to Docker daemon", "session", b.SessionID())
		return b, func() {
			if !cfg.KeepEnvironment {
				ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
				defer cancel()
				if err := b.Cleanup(ctx); err != nil {
					slog.Warn("Docker cleanup failed", "error", err)
				}
			}
			b.Close()
		}, nil
	}
}

// controllerAPI reaches the controller directly when a URL is configured and
// through curl on the controller host otherwise.
func controllerAPI(cfg *config.HarnessConfig) scenario.APIFactory {
	return func(p *pool.Pool) (seed.API, error) {
		if cfg.ControllerURL != "" {
			return seed.NewHTTPClient(cfg.ControllerURL, 30*time.Second), nil
		}
		controller, err := p.Get(environment.Controller)
		if err != nil {
			return nil, err
		}
		return seed.NewHostClient(controller, environment.ControllerAPI), nil
	}
}
