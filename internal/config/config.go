// Package config provides harness configuration from .env files,
// environment variables and command line flags.
package config

import (
	"flag"
	"fmt"
	"slices"
	"time"

	"seedharness/internal/apperrors"
)

// Backend names accepted by HarnessConfig.Backend.
const (
	BackendDocker = "docker"
	BackendSSH    = "ssh"
)

var supportedMySQLVersions = []string{"57", "80"}

// HarnessConfig holds configuration for one test session.
type HarnessConfig struct {
	MySQLVersion     string // Target MySQL variant ("57" or "80")
	ControllerRepo   string // Controller source repository
	ControllerBranch string // Controller source branch
	OnlyUpdateAgents bool   // Skip controller provisioning and reinstall agents only
	KeepEnvironment  bool   // Do not tear down hosts at session end

	Backend     string // "docker" or "ssh"
	PlanFile    string // Optional YAML provisioning plan overriding the built-in one
	Scenarios   []string
	Concurrency int // Hosts provisioned/torn down in parallel (1 = strictly sequential)

	PollInterval  time.Duration
	PollTimeout   time.Duration
	ControllerURL string // Direct controller API URL; empty queries through curl on the controller host

	MetricsPort string

	Docker DockerConfig
	SSH    SSHConfig
}

// DockerConfig holds settings for the Docker provisioning backend.
type DockerConfig struct {
	Image   string
	Subnet  string
	Gateway string
	Shared  string // Host directory mounted at /vagrant in every host
}

// SSHConfig holds settings for the SSH provisioning backend.
type SSHConfig struct {
	User           string
	Port           int
	PrivateKey     string
	DialTimeout    time.Duration
	DestroyCommand string // Optional command run on a host before the connection is closed
}

// LoadHarnessConfig loads configuration from .env files and environment variables.
func LoadHarnessConfig() (*HarnessConfig, error) {
	if err := LoadDotEnv(".env", ".env.local"); err != nil {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	return &HarnessConfig{
		MySQLVersion:     GetEnv("MYSQL_VERSION", "57"),
		ControllerRepo:   GetEnv("ORCH_REPO", "https://github.com/openark/orchestrator.git"),
		ControllerBranch: GetEnv("ORCH_BRANCH", "master"),
		OnlyUpdateAgents: GetBoolEnv("ONLY_UPDATE_AGENTS", false),
		KeepEnvironment:  GetBoolEnv("NO_DESTROY", false),
		Backend:          GetEnv("BACKEND", BackendDocker),
		PlanFile:         GetEnv("PLAN_FILE", ""),
		Scenarios:        GetListEnv("SCENARIOS", nil),
		Concurrency:      GetIntEnv("CONCURRENCY", 1),
		PollInterval:     GetDurationEnv("POLL_INTERVAL", 20*time.Second),
		PollTimeout:      GetDurationEnv("POLL_TIMEOUT", 600*time.Second),
		ControllerURL:    GetEnv("CONTROLLER_URL", ""),
		MetricsPort:      GetEnv("METRICS_PORT", ""),
		Docker: DockerConfig{
			Image:   GetEnv("DOCKER_IMAGE", "seed-harness/mysql-agent:latest"),
			Subnet:  GetEnv("DOCKER_SUBNET", "192.168.58.0/24"),
			Gateway: GetEnv("DOCKER_GATEWAY", "192.168.58.1"),
			Shared:  GetEnv("DOCKER_SHARED_DIR", ""),
		},
		SSH: SSHConfig{
			User:           GetEnv("SSH_USER", "vagrant"),
			Port:           GetIntEnv("SSH_PORT", 22),
			PrivateKey:     GetSecretFile(GetEnv("SSH_KEY_FILE", "")),
			DialTimeout:    GetDurationEnv("SSH_DIAL_TIMEOUT", 30*time.Second),
			DestroyCommand: GetEnv("SSH_DESTROY_COMMAND", ""),
		},
	}, nil
}

// RegisterFlags binds command line flags to c. Values already loaded from the
// environment become the flag defaults, so flags win over the environment.
func (c *HarnessConfig) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.MySQLVersion, "mysql-version", c.MySQLVersion, "MySQL variant to test against (57 or 80)")
	fs.StringVar(&c.ControllerRepo, "orch-repo", c.ControllerRepo, "controller source repository")
	fs.StringVar(&c.ControllerBranch, "orch-branch", c.ControllerBranch, "controller source branch")
	fs.BoolVar(&c.OnlyUpdateAgents, "only-update-agents", c.OnlyUpdateAgents, "skip controller provisioning and reinstall agents only")
	fs.BoolVar(&c.KeepEnvironment, "no-destroy", c.KeepEnvironment, "do not tear down hosts at the end of the session")
	fs.StringVar(&c.Backend, "backend", c.Backend, "provisioning backend (docker or ssh)")
	fs.StringVar(&c.PlanFile, "plan", c.PlanFile, "YAML provisioning plan overriding the built-in plan")
	fs.IntVar(&c.Concurrency, "concurrency", c.Concurrency, "hosts provisioned in parallel")
	fs.DurationVar(&c.PollInterval, "poll-interval", c.PollInterval, "seed status polling interval")
	fs.DurationVar(&c.PollTimeout, "poll-timeout", c.PollTimeout, "seed completion timeout")
	fs.StringVar(&c.ControllerURL, "controller-url", c.ControllerURL, "controller API URL (default: query through the controller host)")
	fs.StringVar(&c.MetricsPort, "metrics-port", c.MetricsPort, "serve Prometheus metrics on this port")
	fs.Func("scenario", "run only the named scenario (repeatable)", func(name string) error {
		c.Scenarios = append(c.Scenarios, name)
		return nil
	})
}

// Validate checks that the configuration is usable.
func (c *HarnessConfig) Validate() error {
	if !slices.Contains(supportedMySQLVersions, c.MySQLVersion) {
		return apperrors.Validation("mysql-version", fmt.Sprintf("unsupported MySQL version %q (want one of %v)", c.MySQLVersion, supportedMySQLVersions))
	}
	if c.Backend != BackendDocker && c.Backend != BackendSSH {
		return apperrors.Validation("backend", fmt.Sprintf("unknown backend %q", c.Backend))
	}
	if c.PollInterval <= 0 {
		return apperrors.Validation("poll-interval", "poll interval must be positive")
	}
	if c.PollTimeout <= 0 {
		return apperrors.Validation("poll-timeout", "poll timeout must be positive")
	}
	if c.Concurrency < 1 {
		return apperrors.Validation("concurrency", "concurrency must be at least 1")
	}
	if c.OnlyUpdateAgents && c.Backend == BackendDocker {
		// Docker hosts are created fresh for every session, so there is no
		// provisioned controller to reuse.
		return apperrors.Validation("only-update-agents", "only-update-agents needs an existing environment; use the ssh backend")
	}
	if c.Backend == BackendSSH && c.SSH.PrivateKey == "" {
		return apperrors.Validation("ssh-key", "SSH backend requires SSH_KEY_FILE")
	}
	return nil
}
