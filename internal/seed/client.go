package seed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"seedharness/internal/apperrors"
)

// ErrEmptyJobID is returned when the controller accepts a seed request but
// answers without an id.
var ErrEmptyJobID = errors.New("controller returned an empty seed id")

// API is the controller's seed job surface.
type API interface {
	Start(ctx context.Context, method Method, target, source string) (string, error)
	Details(ctx context.Context, id string) (Details, error)
	States(ctx context.Context, id string) ([]StageState, error)
}

// Runner runs a shell command on a remote machine. *host.Host satisfies it.
type Runner interface {
	Run(ctx context.Context, command string) (string, error)
}

// getter performs a GET against the controller and returns the body.
type getter interface {
	get(ctx context.Context, path string) ([]byte, error)
}

// Client implements API over either HTTP or curl on the controller host.
type Client struct {
	transport getter
}

// NewHTTPClient queries the controller directly at baseURL.
func NewHTTPClient(baseURL string, timeout time.Duration) *Client {
	return &Client{transport: &httpGetter{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}}
}

// NewHostClient queries the controller by running curl on runner, for
// controllers only reachable from inside the environment. baseURL is as
// seen from that host, e.g. http://localhost:3000.
func NewHostClient(runner Runner, baseURL string) *Client {
	return &Client{transport: &hostGetter{
		runner:  runner,
		baseURL: strings.TrimRight(baseURL, "/"),
	}}
}

// Start asks the controller to seed target from source and returns the
// seed id.
func (c *Client) Start(ctx context.Context, method Method, target, source string) (string, error) {
	path := fmt.Sprintf("/api/agent-seed/%s/%s/%s",
		url.PathEscape(string(method)), url.PathEscape(target), url.PathEscape(source))

	body, err := c.transport.get(ctx, path)
	if err != nil {
		return "", apperrors.Transport("seed.start", err)
	}

	id := strings.Trim(strings.TrimSpace(string(body)), `"`)
	if id == "" {
		return "", apperrors.Transport("seed.start", ErrEmptyJobID)
	}
	return id, nil
}

// Details returns the seed summary.
func (c *Client) Details(ctx context.Context, id string) (Details, error) {
	body, err := c.transport.get(ctx, "/api/agent-seed-details/"+url.PathEscape(id))
	if err != nil {
		return Details{}, apperrors.Transport("seed.details", err)
	}

	var details Details
	if err := json.Unmarshal(body, &details); err != nil {
		return Details{}, apperrors.Transport("seed.details", fmt.Errorf("malformed response: %w", err))
	}
	return details, nil
}

// States returns the seed stage history, newest first.
func (c *Client) States(ctx context.Context, id string) ([]StageState, error) {
	body, err := c.transport.get(ctx, "/api/agent-seed-states/"+url.PathEscape(id))
	if err != nil {
		return nil, apperrors.Transport("seed.states", err)
	}

	var states []StageState
	if err := json.Unmarshal(body, &states); err != nil {
		return nil, apperrors.Transport("seed.states", fmt.Errorf("malformed response: %w", err))
	}
	return states, nil
}

// Ready checks that the controller API answers.
func (c *Client) Ready(ctx context.Context) error {
	if _, err := c.transport.get(ctx, "/api/health"); err != nil {
		return apperrors.Transport("seed.health", err)
	}
	return nil
}

// Fetch takes one snapshot of a seed: its details followed by its stage
// history. A status the harness cannot interpret is a transport error.
func Fetch(ctx context.Context, api API, id string) (Snapshot, error) {
	details, err := api.Details(ctx, id)
	if err != nil {
		return Snapshot{}, err
	}
	status, err := ParseStatus(details.Status)
	if err != nil {
		return Snapshot{}, apperrors.Transport("seed.details", err)
	}

	history, err := api.States(ctx, id)
	if err != nil {
		return Snapshot{}, err
	}

	return Snapshot{
		Status:    status,
		RawStatus: details.Status,
		Stage:     details.Stage,
		History:   history,
	}, nil
}

// HTTPError represents a non-2xx controller response.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

type httpGetter struct {
	baseURL string
	client  *http.Client
}

func (g *httpGetter) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return body, nil
}

type hostGetter struct {
	runner  Runner
	baseURL string
}

func (g *hostGetter) get(ctx context.Context, path string) ([]byte, error) {
	// -f turns HTTP errors into a non-zero exit.
	cmd := fmt.Sprintf("curl -sS -f -X GET '%s%s'", g.baseURL, path)
	out, err := g.runner.Run(ctx, cmd)
	if err != nil {
		return nil, err
	}
	return []byte(out), nil
}

// Verify Client implements API
var _ API = (*Client)(nil)
