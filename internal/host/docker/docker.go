// Package docker implements host.Backend using the Docker API.
// Every host is a privileged container attached to a dedicated bridge
// network with a static address.
package docker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/google/uuid"

	"seedharness/internal/apperrors"
	"seedharness/internal/host"
)

const (
	labelManagedBy = "managed-by"
	labelSession   = "harness.session"
	labelHost      = "harness.host"
	labelRole      = "harness.role"
	managedBy      = "seed-harness"
)

// Backend implements host.Backend using Docker.
type Backend struct {
	client    *client.Client
	image     string
	command   []string
	subnet    string
	gateway   string
	shared    string
	sessionID string
	network   string
	state     *stateRepo

	networkID string
}

// Config holds configuration for the Docker backend.
type Config struct {
	Image   string   // Image every host is created from
	Command []string // Container command (default: the image's own, usually an init)
	Subnet  string   // Bridge network subnet, e.g. 192.168.58.0/24
	Gateway string   // Bridge network gateway
	Shared  string   // Host directory mounted at /vagrant (optional)
}

// NewBackend creates a Docker backend. The bridge network is created lazily
// with the first host.
func NewBackend(cfg Config) (*Backend, error) {
	if cfg.Image == "" {
		return nil, apperrors.Validation("image", "docker image is required")
	}

	dockerClient, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}

	sessionID := uuid.NewString()
	return &Backend{
		client:    dockerClient,
		image:     cfg.Image,
		command:   cfg.Command,
		subnet:    cfg.Subnet,
		gateway:   cfg.Gateway,
		shared:    cfg.Shared,
		sessionID: sessionID,
		network:   "seed-harness-" + sessionID[:8],
		state:     newStateRepo(),
	}, nil
}

// SessionID identifies the containers created by this backend.
func (b *Backend) SessionID() string {
	return b.sessionID
}

// Create creates and starts a container for spec.
func (b *Backend) Create(ctx context.Context, spec host.Spec) (host.Session, error) {
	if err := b.state.reserve(spec.Name); err != nil {
		return nil, err
	}

	logger := slog.With("component", "docker", "host", spec.Name)

	success := false
	var containerID string
	defer func() {
		if !success {
			if containerID != "" {
				b.removeContainer(ctx, containerID)
			}
			b.state.release(spec.Name)
		}
	}()

	if err := b.ensureNetwork(ctx); err != nil {
		return nil, apperrors.Transport("docker.createNetwork", err)
	}

	// Pull with a detached context so a caller deadline doesn't abort a large pull.
	if err := b.pullImageIfNeeded(context.WithoutCancel(ctx)); err != nil {
		return nil, apperrors.Transport("docker.pullImage", err)
	}

	var err error
	if containerID, err = b.createContainer(ctx, spec); err != nil {
		return nil, apperrors.Transport("docker.createContainer", err)
	}

	if err := b.client.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		return nil, apperrors.Transport("docker.startContainer", err)
	}

	b.state.commit(spec.Name, containerID)
	success = true
	logger.Info("Host container started", "containerId", containerID, "address", spec.Address)

	return &session{backend: b, name: spec.Name, containerID: containerID}, nil
}

// Ready checks if the Docker daemon is reachable and responsive.
func (b *Backend) Ready(ctx context.Context) error {
	_, err := b.client.Ping(ctx)
	return err
}

// Cleanup removes every container left behind by this session and the
// session network.
func (b *Backend) Cleanup(ctx context.Context) error {
	logger := slog.With("component", "docker")

	containers, err := b.client.ContainerList(ctx, container.ListOptions{
		All: true,
		Filters: filters.NewArgs(
			filters.Arg("label", labelManagedBy+"="+managedBy),
			filters.Arg("label", labelSession+"="+b.sessionID),
		),
	})
	if err != nil {
		return apperrors.Transport("docker.listContainers", err)
	}

	for _, c := range containers {
		logger.Warn("Removing leftover host container", "host", c.Labels[labelHost], "containerId", c.ID)
		b.removeContainer(ctx, c.ID)
		b.state.release(c.Labels[labelHost])
	}

	if b.networkID != "" {
		if err := b.client.NetworkRemove(ctx, b.networkID); err != nil {
			return apperrors.Transport("docker.removeNetwork", err)
		}
		b.networkID = ""
	}
	return nil
}

// Close releases the Docker client. Containers are left untouched.
func (b *Backend) Close() error {
	return b.client.Close()
}

func (b *Backend) ensureNetwork(ctx context.Context) error {
	if b.networkID != "" {
		return nil
	}

	opts := network.CreateOptions{
		Driver: "bridge",
		Labels: map[string]string{
			labelManagedBy: managedBy,
			labelSession:   b.sessionID,
		},
	}
	if b.subnet != "" {
		opts.IPAM = &network.IPAM{
			Config: []network.IPAMConfig{{Subnet: b.subnet, Gateway: b.gateway}},
		}
	}

	resp, err := b.client.NetworkCreate(ctx, b.network, opts)
	if err != nil {
		return err
	}
	b.networkID = resp.ID
	return nil
}

func (b *Backend) createContainer(ctx context.Context, spec host.Spec) (string, error) {
	env := []string{
		fmt.Sprintf("hostname=%s", spec.Name),
		fmt.Sprintf("ip=%s", spec.Address),
	}
	keys := make([]string, 0, len(spec.Env))
	for k := range spec.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, fmt.Sprintf("%s=%s", k, spec.Env[k]))
	}

	containerConfig := &container.Config{
		Image:    b.image,
		Cmd:      b.command,
		Hostname: spec.Name,
		Env:      env,
		Labels: map[string]string{
			labelManagedBy: managedBy,
			labelSession:   b.sessionID,
			labelHost:      spec.Name,
			labelRole:      spec.Role.String(),
		},
	}

	hostConfig := &container.HostConfig{
		// Services, mounts and LVM need a full init inside the container.
		Privileged: true,
	}
	if b.shared != "" {
		hostConfig.Binds = []string{b.shared + ":/vagrant"}
	}

	endpoint := &network.EndpointSettings{Aliases: []string{spec.Name}}
	if spec.Address != "" {
		endpoint.IPAMConfig = &network.EndpointIPAMConfig{IPv4Address: spec.Address}
	}
	networkingConfig := &network.NetworkingConfig{
		EndpointsConfig: map[string]*network.EndpointSettings{b.network: endpoint},
	}

	containerName := fmt.Sprintf("%s-%s", b.network, spec.Name)
	resp, err := b.client.ContainerCreate(ctx, containerConfig, hostConfig, networkingConfig, nil, containerName)
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}

func (b *Backend) pullImageIfNeeded(ctx context.Context) error {
	_, err := b.client.ImageInspect(ctx, b.image)
	if err == nil {
		return nil
	}

	reader, err := b.client.ImagePull(ctx, b.image, image.PullOptions{})
	if err != nil {
		return err
	}
	defer reader.Close()

	_, err = io.Copy(io.Discard, reader)
	return err
}

func (b *Backend) removeContainer(ctx context.Context, containerID string) error {
	stopTimeout := 10
	_ = b.client.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &stopTimeout})
	return b.client.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true, RemoveVolumes: true})
}

// exec runs command inside containerID and returns its combined output and exit code.
func (b *Backend) exec(ctx context.Context, containerID, command string) (string, int, error) {
	created, err := b.client.ContainerExecCreate(ctx, containerID, container.ExecOptions{
		Cmd:          []string{"/bin/sh", "-c", command},
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return "", -1, err
	}

	attached, err := b.client.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{})
	if err != nil {
		return "", -1, err
	}
	defer attached.Close()

	var out bytes.Buffer
	if _, err := stdcopy.StdCopy(&out, &out, attached.Reader); err != nil {
		return out.String(), -1, err
	}

	inspect, err := b.client.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return out.String(), -1, err
	}
	return out.String(), inspect.ExitCode, nil
}

// session is one host container.
type session struct {
	backend     *Backend
	name        string
	containerID string
}

func (s *session) Run(ctx context.Context, command string) (string, error) {
	out, exitCode, err := s.backend.exec(ctx, s.containerID, command)
	if err != nil {
		return out, apperrors.Transport("docker.exec", err)
	}
	if exitCode != 0 {
		return out, apperrors.CommandFailed(s.name, command, out, exitCode)
	}
	return out, nil
}

func (s *session) Destroy(ctx context.Context) error {
	if err := s.backend.removeContainer(ctx, s.containerID); err != nil {
		return apperrors.Transport("docker.removeContainer", err)
	}
	s.backend.state.release(s.name)
	return nil
}

// Verify Backend implements host.Backend
var _ host.Backend = (*Backend)(nil)
