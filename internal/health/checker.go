// Package health provides readiness checks for the harness dependencies:
// the provisioning backend and, once provisioned, the controller API.
package health

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"seedharness/internal/apperrors"
)

// ReadinessChecker is the interface for readiness checks.
// Implemented by provisioning backends and the controller API client.
type ReadinessChecker interface {
	Ready(ctx context.Context) error
}

// Status represents the health status of a component.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
)

// CheckResult contains the result of a health check.
type CheckResult struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
}

// Response is the health check response.
type Response struct {
	Status Status                 `json:"status"`
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

// Checker runs named readiness checks.
type Checker struct {
	timeout time.Duration

	mu           sync.RWMutex
	checks       map[string]ReadinessChecker
	lastCheck    time.Time
	cachedReady  *Response
	shuttingDown bool
}

// NewChecker creates a health checker with no checks registered.
func NewChecker() *Checker {
	return &Checker{
		timeout: 5 * time.Second,
		checks:  make(map[string]ReadinessChecker),
	}
}

// Register adds or replaces the check called name.
func (c *Checker) Register(name string, checker ReadinessChecker) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = checker
	c.cachedReady = nil
}

// Liveness returns healthy while the process runs.
func (c *Checker) Liveness(ctx context.Context) *Response {
	return &Response{
		Status: StatusHealthy,
	}
}

// Readiness runs every registered check. Results are cached for a second.
func (c *Checker) Readiness(ctx context.Context) *Response {
	c.mu.RLock()
	if c.shuttingDown {
		c.mu.RUnlock()
		return &Response{
			Status: StatusUnhealthy,
			Checks: map[string]CheckResult{
				"shutdown": {Status: StatusUnhealthy, Message: "session is finishing"},
			},
		}
	}

	if c.cachedReady != nil && time.Since(c.lastCheck) < time.Second {
		cached := c.cachedReady
		c.mu.RUnlock()
		return cached
	}
	checks := make(map[string]ReadinessChecker, len(c.checks))
	for name, checker := range c.checks {
		checks[name] = checker
	}
	c.mu.RUnlock()

	response := &Response{Status: StatusHealthy, Checks: make(map[string]CheckResult, len(checks))}
	if len(checks) == 0 {
		response.Status = StatusUnhealthy
	}
	for name, checker := range checks {
		result := c.check(ctx, checker)
		response.Checks[name] = result
		if result.Status != StatusHealthy {
			response.Status = StatusUnhealthy
		}
	}

	c.mu.Lock()
	c.cachedReady = response
	c.lastCheck = time.Now()
	c.mu.Unlock()

	return response
}

// Preflight runs the readiness checks and returns an error naming every
// failing dependency.
func (c *Checker) Preflight(ctx context.Context) error {
	response := c.Readiness(ctx)
	if response.IsHealthy() {
		return nil
	}
	names := make([]string, 0, len(response.Checks))
	for name := range response.Checks {
		names = append(names, name)
	}
	slices.Sort(names)

	var errs []error
	for _, name := range names {
		if result := response.Checks[name]; result.Status != StatusHealthy {
			errs = append(errs, apperrors.Transport("preflight."+name, errors.New(result.Message)))
		}
	}
	if len(errs) == 0 {
		return apperrors.Validation("preflight", "no readiness checks registered")
	}
	return errors.Join(errs...)
}

func (c *Checker) check(ctx context.Context, checker ReadinessChecker) CheckResult {
	if checker == nil {
		return CheckResult{
			Status:  StatusUnhealthy,
			Message: "not configured",
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := checker.Ready(ctx); err != nil {
		return CheckResult{
			Status:  StatusUnhealthy,
			Message: err.Error(),
		}
	}

	return CheckResult{
		Status: StatusHealthy,
	}
}

// IsHealthy returns true if the overall status is healthy.
func (r *Response) IsHealthy() bool {
	return r.Status == StatusHealthy
}

// SetShuttingDown makes readiness report unhealthy from now on.
func (c *Checker) SetShuttingDown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shuttingDown = true
	c.cachedReady = nil
}
