// Package ssh implements host.Backend for machines that already exist,
// such as Vagrant boxes or cloud VMs, reached over SSH. Creating a host
// opens a connection to its address; destroying it optionally runs a
// teardown command and closes the connection.
package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"seedharness/internal/apperrors"
	"seedharness/internal/host"
)

// Config holds configuration for the SSH backend.
type Config struct {
	User           string
	Port           int           // default 22
	PrivateKey     []byte        // PEM encoded private key
	DialTimeout    time.Duration // default 30s
	DestroyCommand string        // Run on the machine before disconnecting (optional)

	// HostKeyCallback verifies server keys. Defaults to accepting any key,
	// which is what throwaway test machines need.
	HostKeyCallback ssh.HostKeyCallback
}

// Backend implements host.Backend over SSH.
type Backend struct {
	clientConfig   *ssh.ClientConfig
	port           int
	dialTimeout    time.Duration
	destroyCommand string
}

// NewBackend parses the private key and returns a backend.
func NewBackend(cfg Config) (*Backend, error) {
	if cfg.User == "" {
		return nil, apperrors.Validation("ssh-user", "SSH user is required")
	}
	signer, err := ssh.ParsePrivateKey(cfg.PrivateKey)
	if err != nil {
		return nil, apperrors.Validation("ssh-key", fmt.Sprintf("invalid SSH private key: %v", err))
	}

	port := cfg.Port
	if port <= 0 {
		port = 22
	}
	dialTimeout := cfg.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 30 * time.Second
	}
	hostKeyCallback := cfg.HostKeyCallback
	if hostKeyCallback == nil {
		hostKeyCallback = ssh.InsecureIgnoreHostKey() // #nosec G106 -- disposable test machines
	}

	return &Backend{
		clientConfig: &ssh.ClientConfig{
			User:            cfg.User,
			Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
			HostKeyCallback: hostKeyCallback,
			Timeout:         dialTimeout,
		},
		port:           port,
		dialTimeout:    dialTimeout,
		destroyCommand: cfg.DestroyCommand,
	}, nil
}

// Create connects to the machine at spec.Address.
func (b *Backend) Create(ctx context.Context, spec host.Spec) (host.Session, error) {
	if spec.Address == "" {
		return nil, apperrors.Validation("address", fmt.Sprintf("host %s has no address", spec.Name))
	}

	client, err := b.dial(ctx, spec.Address)
	if err != nil {
		return nil, apperrors.Transport("ssh.dial", err)
	}

	slog.Info("Connected to host", "component", "ssh", "host", spec.Name, "address", spec.Address)
	return &session{name: spec.Name, client: client, destroyCommand: b.destroyCommand}, nil
}

// Ready reports whether the backend is usable. There is no central daemon
// to ping, so a parsed key is all it needs.
func (b *Backend) Ready(ctx context.Context) error {
	return nil
}

func (b *Backend) dial(ctx context.Context, address string) (*ssh.Client, error) {
	addr := net.JoinHostPort(address, strconv.Itoa(b.port))

	dialer := net.Dialer{Timeout: b.dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}

	c, chans, reqs, err := ssh.NewClientConn(conn, addr, b.clientConfig)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return ssh.NewClient(c, chans, reqs), nil
}

// session is one SSH connection.
type session struct {
	name           string
	client         *ssh.Client
	destroyCommand string
}

func (s *session) Run(ctx context.Context, command string) (string, error) {
	sess, err := s.client.NewSession()
	if err != nil {
		return "", apperrors.Transport("ssh.newSession", err)
	}
	defer sess.Close()

	out := &syncBuffer{}
	sess.Stdout = out
	sess.Stderr = out

	done := make(chan error, 1)
	go func() {
		done <- sess.Run(command)
	}()

	select {
	case <-ctx.Done():
		_ = sess.Signal(ssh.SIGKILL)
		return "", apperrors.Transport("ssh.run", ctx.Err())
	case err := <-done:
		if err == nil {
			return out.String(), nil
		}
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			return out.String(), apperrors.CommandFailed(s.name, command, out.String(), exitErr.ExitStatus())
		}
		return out.String(), apperrors.Transport("ssh.run", err)
	}
}

func (s *session) Destroy(ctx context.Context) error {
	if s.destroyCommand != "" {
		if _, err := s.Run(ctx, s.destroyCommand); err != nil {
			return err
		}
	}
	if err := s.client.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return apperrors.Transport("ssh.close", err)
	}
	return nil
}

// syncBuffer collects stdout and stderr, which the SSH library copies
// from separate goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// Verify Backend implements host.Backend
var _ host.Backend = (*Backend)(nil)
