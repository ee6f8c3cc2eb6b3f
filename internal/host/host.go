// Package host defines a provisioned machine taking part in a test session
// and the contract a provisioning backend has to fulfil.
package host

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"seedharness/internal/apperrors"
)

// Role is the part a host plays in the environment.
type Role int

const (
	Controller Role = iota
	DataNode
)

func (r Role) String() string {
	switch r {
	case Controller:
		return "controller"
	case DataNode:
		return "datanode"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

// ParseRole parses a role name as written in plan and topology files.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "controller":
		return Controller, nil
	case "datanode", "data-node", "agent":
		return DataNode, nil
	default:
		return 0, apperrors.Validation("role", fmt.Sprintf("unknown role %q", s))
	}
}

// MarshalText encodes the role by name.
func (r Role) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText decodes a role name.
func (r *Role) UnmarshalText(text []byte) error {
	role, err := ParseRole(string(text))
	if err != nil {
		return err
	}
	*r = role
	return nil
}

// UnmarshalYAML decodes a role name from YAML.
func (r *Role) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	return r.UnmarshalText([]byte(s))
}

// Well-known tags for data nodes taking part in a seed.
const (
	TagSource = "source"
	TagTarget = "target"
)

// Spec describes a host to be created by a Backend.
type Spec struct {
	Name    string
	Role    Role
	Tags    []string
	Address string
	Env     map[string]string
}

// Session is the backend's handle to one created machine.
type Session interface {
	// Run executes command on the machine and returns its combined output.
	// A non-zero exit status is returned as an error carrying the output.
	Run(ctx context.Context, command string) (string, error)

	// Destroy releases the machine.
	Destroy(ctx context.Context) error
}

// Backend creates isolated machines.
type Backend interface {
	Create(ctx context.Context, spec Spec) (Session, error)

	// Ready checks if the backend is reachable.
	Ready(ctx context.Context) error
}

// Host is one provisioned machine. Role, tags and address are fixed at
// creation time.
type Host struct {
	name    string
	role    Role
	tags    map[string]struct{}
	address string
	session Session

	mu        sync.Mutex
	destroyed bool
}

// New wraps a created session.
func New(spec Spec, session Session) *Host {
	tags := make(map[string]struct{}, len(spec.Tags))
	for _, tag := range spec.Tags {
		tags[tag] = struct{}{}
	}
	return &Host{
		name:    spec.Name,
		role:    spec.Role,
		tags:    tags,
		address: spec.Address,
		session: session,
	}
}

func (h *Host) Name() string    { return h.name }
func (h *Host) Role() Role      { return h.role }
func (h *Host) Address() string { return h.address }

// HasTag reports whether the host carries tag.
func (h *Host) HasTag(tag string) bool {
	_, ok := h.tags[tag]
	return ok
}

// Tags returns the host's tags in sorted order.
func (h *Host) Tags() []string {
	tags := make([]string, 0, len(h.tags))
	for tag := range h.tags {
		tags = append(tags, tag)
	}
	slices.Sort(tags)
	return tags
}

// Run executes command on the host, failing on non-zero exit.
func (h *Host) Run(ctx context.Context, command string) (string, error) {
	h.mu.Lock()
	destroyed := h.destroyed
	h.mu.Unlock()
	if destroyed {
		return "", apperrors.Transport("host.run", fmt.Errorf("host %s is destroyed", h.name))
	}

	logger := slog.With("host", h.name)
	logger.Debug("Running command", "command", command)

	out, err := h.session.Run(ctx, command)
	if err != nil {
		logger.Warn("Command failed", "command", command, "error", err)
		return out, err
	}
	return out, nil
}

// Destroy releases the host. Calling it again is a no-op.
func (h *Host) Destroy(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.destroyed {
		return nil
	}
	if err := h.session.Destroy(ctx); err != nil {
		return err
	}
	h.destroyed = true
	return nil
}

// Destroyed reports whether Destroy completed.
func (h *Host) Destroyed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.destroyed
}

func (h *Host) String() string {
	return fmt.Sprintf("%s(%s %s)", h.name, h.role, h.address)
}
