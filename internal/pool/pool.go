// Package pool manages the set of hosts taking part in one test session.
//
// A Pool is built once, passed explicitly to every fixture and scenario,
// and destroyed at the end of the session. Hosts are created in entry
// order and torn down in reverse order; teardown is best-effort and
// reports every failure.
package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"seedharness/internal/apperrors"
	"seedharness/internal/host"
	"seedharness/internal/observability"
)

// Entry declares one host of the environment.
type Entry struct {
	Name    string            `yaml:"name"`
	Role    host.Role         `yaml:"role"`
	Tags    []string          `yaml:"tags,omitempty"`
	Address string            `yaml:"address,omitempty"` // Empty means "allocate by rule"
	Env     map[string]string `yaml:"env,omitempty"`
}

// AddressRule allocates an address for the entry at index.
type AddressRule func(index int) string

// Sequential allocates addresses by formatting the entry index into format,
// e.g. "192.168.58.2%d" yields 192.168.58.20, .21, .22.
func Sequential(format string) AddressRule {
	return func(index int) string {
		return fmt.Sprintf(format, index)
	}
}

// Options tunes pool construction and teardown.
type Options struct {
	Allocate AddressRule // Used for entries without an address

	// RegisterCommand builds the command that makes every host resolvable
	// by name on each host. Defaults to appending to /etc/hosts.
	RegisterCommand func(records []string) string

	// SkipRegistration disables host name registration.
	SkipRegistration bool

	// Concurrency bounds parallel teardown (default 1: strictly sequential).
	Concurrency int

	Metrics *observability.Metrics
}

// Pool is the named, ordered collection of hosts of a test session.
type Pool struct {
	hosts       []*host.Host
	byName      map[string]*host.Host
	concurrency int
	metrics     *observability.Metrics
}

// HostsFileRecordCommand appends records to /etc/hosts.
func HostsFileRecordCommand(records []string) string {
	return fmt.Sprintf("sudo bash -c \"echo '%s' >> /etc/hosts\"", strings.Join(records, "\n"))
}

// Create provisions one host per entry, in entry order. Any failure tears
// down the hosts created so far and returns the error; no partial pool is
// left behind.
func Create(ctx context.Context, backend host.Backend, entries []Entry, opts Options) (*Pool, error) {
	specs, err := resolve(entries, opts.Allocate)
	if err != nil {
		return nil, err
	}

	concurrency := opts.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	p := &Pool{
		byName:      make(map[string]*host.Host, len(specs)),
		concurrency: concurrency,
		metrics:     opts.Metrics,
	}

	logger := slog.With("component", "pool")

	for _, spec := range specs {
		logger.Info("Creating host", "host", spec.Name, "role", spec.Role, "address", spec.Address)
		session, err := backend.Create(ctx, spec)
		if err != nil {
			logger.Error("Host creation failed, tearing down pool", "host", spec.Name, "error", err)
			return nil, p.rollback(ctx, fmt.Errorf("create host %s: %w", spec.Name, err))
		}
		h := host.New(spec, session)
		p.hosts = append(p.hosts, h)
		p.byName[spec.Name] = h
		if p.metrics != nil {
			p.metrics.RecordHostCreated(ctx, spec.Role.String())
		}
	}

	if !opts.SkipRegistration {
		register := opts.RegisterCommand
		if register == nil {
			register = HostsFileRecordCommand
		}
		if err := p.register(ctx, register); err != nil {
			return nil, p.rollback(ctx, err)
		}
	}

	return p, nil
}

// resolve validates entries and fills in allocated addresses.
func resolve(entries []Entry, allocate AddressRule) ([]host.Spec, error) {
	if len(entries) == 0 {
		return nil, apperrors.Validation("hosts", "pool needs at least one host")
	}

	names := make(map[string]struct{}, len(entries))
	addresses := make(map[string]string, len(entries))
	specs := make([]host.Spec, 0, len(entries))

	for i, e := range entries {
		if e.Name == "" {
			return nil, apperrors.Validation("name", fmt.Sprintf("host %d has no name", i))
		}
		if _, dup := names[e.Name]; dup {
			return nil, apperrors.Validation("name", fmt.Sprintf("duplicate host name %s", e.Name))
		}
		names[e.Name] = struct{}{}

		address := e.Address
		if address == "" && allocate != nil {
			address = allocate(i)
		}
		if address == "" {
			return nil, apperrors.Validation("address", fmt.Sprintf("host %s has no address and no allocation rule", e.Name))
		}
		if other, dup := addresses[address]; dup {
			return nil, apperrors.Validation("address", fmt.Sprintf("hosts %s and %s share address %s", other, e.Name, address))
		}
		addresses[address] = e.Name

		specs = append(specs, host.Spec{
			Name:    e.Name,
			Role:    e.Role,
			Tags:    append([]string(nil), e.Tags...),
			Address: address,
			Env:     e.Env,
		})
	}
	return specs, nil
}

// register makes every host resolvable by name on every other host.
func (p *Pool) register(ctx context.Context, command func([]string) string) error {
	records := make([]string, len(p.hosts))
	for i, h := range p.hosts {
		records[i] = fmt.Sprintf("%s %s", h.Address(), h.Name())
	}
	cmd := command(records)

	for _, h := range p.hosts {
		if out, err := h.Run(ctx, cmd); err != nil {
			return apperrors.Provisioning(h.Name(), 0, cmd, out, err)
		}
	}
	return nil
}

// rollback destroys whatever was created and combines cause with any teardown errors.
func (p *Pool) rollback(ctx context.Context, cause error) error {
	if err := p.Destroy(ctx); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}

// Get returns the host with the given logical name.
func (p *Pool) Get(name string) (*host.Host, error) {
	h, ok := p.byName[name]
	if !ok {
		return nil, apperrors.NotFound("host", name)
	}
	return h, nil
}

// Select returns the hosts matching sel, in creation order.
func (p *Pool) Select(sel host.Selector) ([]*host.Host, error) {
	var matched []*host.Host
	for _, h := range p.hosts {
		if sel.Matches(h) {
			matched = append(matched, h)
		}
	}
	if len(matched) == 0 {
		return nil, apperrors.NotFound("host matching", sel.String())
	}
	return matched, nil
}

// Hosts returns every host in creation order.
func (p *Pool) Hosts() []*host.Host {
	return append([]*host.Host(nil), p.hosts...)
}

// Len returns the number of hosts.
func (p *Pool) Len() int {
	return len(p.hosts)
}

// Destroy tears down every host in reverse creation order, continuing past
// failures. The returned error joins one apperrors.Teardown per failed host
// and is nil when all succeeded. Already destroyed hosts are skipped, so
// calling Destroy twice is safe.
func (p *Pool) Destroy(ctx context.Context) error {
	logger := slog.With("component", "pool")
	errs := make([]error, len(p.hosts))

	teardown := func(i int) {
		h := p.hosts[i]
		if h.Destroyed() {
			return
		}
		start := time.Now()
		logger.Info("Destroying host", "host", h.Name())
		if err := h.Destroy(ctx); err != nil {
			logger.Error("Host teardown failed", "host", h.Name(), "error", err)
			errs[i] = apperrors.Teardown(h.Name(), err)
		}
		if p.metrics != nil {
			p.metrics.RecordHostDestroyed(ctx, h.Role().String(), errs[i] == nil, time.Since(start).Seconds())
		}
	}

	if p.concurrency <= 1 {
		for i := len(p.hosts) - 1; i >= 0; i-- {
			teardown(i)
		}
	} else {
		// Each goroutine records its own failure; none aborts its siblings.
		var g errgroup.Group
		g.SetLimit(p.concurrency)
		for i := len(p.hosts) - 1; i >= 0; i-- {
			g.Go(func() error {
				teardown(i)
				return nil
			})
		}
		_ = g.Wait()
	}

	// Report in teardown order.
	var failures []error
	for i := len(errs) - 1; i >= 0; i-- {
		if errs[i] != nil {
			failures = append(failures, errs[i])
		}
	}
	return errors.Join(failures...)
}

// TeardownErrors splits an error returned by Destroy into its per-host failures.
func TeardownErrors(err error) []error {
	if err == nil {
		return nil
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		return joined.Unwrap()
	}
	return []error{err}
}
