package testutil

import (
	"context"
	"fmt"
	"sync"

	"seedharness/internal/apperrors"
	"seedharness/internal/host"
)

// Responder produces the output of a command run on a fake host. Returning
// a non-nil error simulates a failing remote command.
type Responder func(hostName, command string) (string, error)

// CommandRecord is one command executed on a fake host.
type CommandRecord struct {
	Host    string
	Command string
}

// FakeBackend is an in-memory host.Backend that records every call.
type FakeBackend struct {
	mu sync.Mutex

	Respond      Responder
	FailCreate   map[string]error // host name -> creation error
	FailDestroy  map[string]error // host name -> teardown error
	NotReady     error
	created      []host.Spec
	destroyed    []string
	commands     []CommandRecord
	destroyCalls map[string]int
}

// NewFakeBackend returns a backend whose commands all succeed with empty output.
func NewFakeBackend() *FakeBackend {
	return &FakeBackend{
		FailCreate:   make(map[string]error),
		FailDestroy:  make(map[string]error),
		destroyCalls: make(map[string]int),
	}
}

// FailCommand returns a Responder failing every command that equals cmd.
func FailCommand(cmd, output string) Responder {
	return func(hostName, command string) (string, error) {
		if command == cmd {
			return output, apperrors.CommandFailed(hostName, command, output, 1)
		}
		return "", nil
	}
}

// Create implements host.Backend.
func (b *FakeBackend) Create(ctx context.Context, spec host.Spec) (host.Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.FailCreate[spec.Name]; err != nil {
		return nil, err
	}
	b.created = append(b.created, spec)
	return &fakeSession{backend: b, name: spec.Name}, nil
}

// Ready implements host.Backend.
func (b *FakeBackend) Ready(ctx context.Context) error {
	return b.NotReady
}

// Created returns the names of created hosts in creation order.
func (b *FakeBackend) Created() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	names := make([]string, len(b.created))
	for i, spec := range b.created {
		names[i] = spec.Name
	}
	return names
}

// Specs returns the specs passed to Create in order.
func (b *FakeBackend) Specs() []host.Spec {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]host.Spec(nil), b.created...)
}

// Destroyed returns the names of successfully destroyed hosts in order.
func (b *FakeBackend) Destroyed() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.destroyed...)
}

// DestroyCalls returns how many times teardown was attempted for name.
func (b *FakeBackend) DestroyCalls(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.destroyCalls[name]
}

// Commands returns every command run on any host, in execution order.
func (b *FakeBackend) Commands() []CommandRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]CommandRecord(nil), b.commands...)
}

// CommandsOn returns the commands run on one host, in execution order.
func (b *FakeBackend) CommandsOn(name string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var cmds []string
	for _, rec := range b.commands {
		if rec.Host == name {
			cmds = append(cmds, rec.Command)
		}
	}
	return cmds
}

type fakeSession struct {
	backend *FakeBackend
	name    string
}

func (s *fakeSession) Run(ctx context.Context, command string) (string, error) {
	b := s.backend
	b.mu.Lock()
	b.commands = append(b.commands, CommandRecord{Host: s.name, Command: command})
	respond := b.Respond
	b.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", apperrors.Transport("fake.run", err)
	}
	if respond == nil {
		return "", nil
	}
	return respond(s.name, command)
}

func (s *fakeSession) Destroy(ctx context.Context) error {
	b := s.backend
	b.mu.Lock()
	defer b.mu.Unlock()

	b.destroyCalls[s.name]++
	if err := b.FailDestroy[s.name]; err != nil {
		return fmt.Errorf("destroy %s: %w", s.name, err)
	}
	b.destroyed = append(b.destroyed, s.name)
	return nil
}

var _ host.Backend = (*FakeBackend)(nil)
