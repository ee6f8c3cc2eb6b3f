package scenario

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"seedharness/internal/apperrors"
	"seedharness/internal/environment"
	"seedharness/internal/health"
	"seedharness/internal/pool"
	"seedharness/internal/seed"
	"seedharness/internal/testutil"
	"seedharness/internal/waiter"
)

type fakeAPI struct {
	mu       sync.Mutex
	startID  string
	startErr error
	statuses []string
	polls    int
	started  []string
}

func (a *fakeAPI) Start(ctx context.Context, method seed.Method, target, source string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.started = append(a.started, strings.Join([]string{string(method), target, source}, "/"))
	return a.startID, a.startErr
}

func (a *fakeAPI) Details(ctx context.Context, id string) (seed.Details, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	status := a.statuses[min(a.polls, len(a.statuses)-1)]
	a.polls++
	return seed.Details{Status: status, Stage: seed.StageRestore}, nil
}

func (a *fakeAPI) States(ctx context.Context, id string) ([]seed.StageState, error) {
	return []seed.StageState{{Stage: seed.StageRestore, Hostname: environment.TargetAgent, Status: "Running"}}, nil
}

func (a *fakeAPI) Started() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Clone(a.started)
}

func newPool(t *testing.T, backend *testutil.FakeBackend) *pool.Pool {
	t.Helper()
	p, err := pool.Create(context.Background(), backend, environment.Topology(), pool.Options{
		Allocate:         environment.AddressRule(),
		SkipRegistration: true,
	})
	if err != nil {
		t.Fatalf("pool.Create() error = %v", err)
	}
	return p
}

func fastWaiter() *waiter.Waiter {
	return &waiter.Waiter{Interval: time.Second, Timeout: 10 * time.Second, Clock: testutil.NewFakeClock()}
}

func TestCatalog(t *testing.T) {
	t.Parallel()
	catalog := Catalog()
	if len(catalog) != 8 {
		t.Fatalf("catalog has %d scenarios, want 8", len(catalog))
	}

	byName := make(map[string]Scenario)
	for _, sc := range catalog {
		byName[sc.Name] = sc
	}

	lvm, ok := byName["lvm-gtid"]
	if !ok {
		t.Fatal("missing lvm-gtid")
	}
	if names := fixtureNames(lvm); !slices.Equal(names, []string{"enable-gtid", "reset-lvm"}) {
		t.Errorf("lvm-gtid fixtures = %v", names)
	}
	if names := fixtureNames(byName["mysqldump-positional"]); !slices.Equal(names, []string{"disable-gtid"}) {
		t.Errorf("mysqldump-positional fixtures = %v", names)
	}
	if !byName["cloneplugin-gtid"].RequiresMySQL8 || byName["xtrabackup-gtid"].RequiresMySQL8 {
		t.Error("only clone plugin scenarios require MySQL 8")
	}
}

func fixtureNames(sc Scenario) []string {
	var names []string
	for _, f := range sc.Fixtures {
		names = append(names, f.Name)
	}
	return names
}

func TestSelect(t *testing.T) {
	t.Parallel()
	catalog := Catalog()

	all, err := Select(catalog, nil)
	if err != nil || len(all) != len(catalog) {
		t.Fatalf("Select(nil) = %d scenarios, %v", len(all), err)
	}

	some, err := Select(catalog, []string{"LVM-gtid", "mysqldump-gtid"})
	if err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	if len(some) != 2 || some[0].Name != "mysqldump-gtid" || some[1].Name != "lvm-gtid" {
		t.Errorf("Select() should keep catalog order, got %v", some)
	}

	if _, err := Select(catalog, []string{"rsync-gtid"}); !errors.Is(err, apperrors.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestRunner_Passes(t *testing.T) {
	t.Parallel()
	backend := testutil.NewFakeBackend()
	api := &fakeAPI{startID: "12", statuses: []string{"Running", "Running", "Completed"}}
	runner := NewRunner(newPool(t, backend), api, fastWaiter(), nil)

	result := runner.Run(context.Background(), New(seed.Mysqldump, ModeGTID))
	if result.Verdict != Passed {
		t.Fatalf("Verdict = %s (%v), want passed", result.Verdict, result.Err)
	}
	if result.JobID != "12" || result.Outcome == nil || result.Outcome.Polls != 3 {
		t.Errorf("unexpected result: %+v", result)
	}
	if got := api.Started(); !slices.Equal(got, []string{"Mysqldump/targetagent/sourceagent"}) {
		t.Errorf("started = %v", got)
	}

	target := backend.CommandsOn(environment.TargetAgent)
	if len(target) == 0 || !strings.Contains(target[0], "gtid_mode ON") {
		t.Errorf("fixtures should run before the target reset, got %v", target)
	}
	if target[len(target)-1] != "mysql -e 'RESET MASTER;'" {
		t.Errorf("target reset should run last, got %q", target[len(target)-1])
	}
}

func TestRunner_SkipsClonePluginOnMySQL5(t *testing.T) {
	t.Parallel()
	backend := testutil.NewFakeBackend()
	backend.Respond = func(hostName, command string) (string, error) {
		if command == versionQuery {
			return "5.7.33-log\n", nil
		}
		return "", nil
	}
	api := &fakeAPI{startID: "1", statuses: []string{"Completed"}}
	runner := NewRunner(newPool(t, backend), api, fastWaiter(), nil)

	result := runner.Run(context.Background(), New(seed.ClonePlugin, ModeGTID))
	if result.Verdict != Skipped || result.Reason == "" {
		t.Fatalf("expected skip with reason, got %+v", result)
	}
	if len(api.Started()) != 0 {
		t.Error("skipped scenario must not start a seed")
	}
	if got := backend.CommandsOn(environment.Controller); !slices.Equal(got, []string{versionQuery}) {
		t.Errorf("version should be read on the controller, got %v", got)
	}
}

func TestRunner_RunsClonePluginOnMySQL8(t *testing.T) {
	t.Parallel()
	backend := testutil.NewFakeBackend()
	backend.Respond = func(hostName, command string) (string, error) {
		if command == versionQuery {
			return "8.0.22\n", nil
		}
		return "", nil
	}
	api := &fakeAPI{startID: "1", statuses: []string{"Completed"}}
	runner := NewRunner(newPool(t, backend), api, fastWaiter(), nil)

	if result := runner.Run(context.Background(), New(seed.ClonePlugin, ModePositional)); result.Verdict != Passed {
		t.Errorf("Verdict = %s (%v), want passed", result.Verdict, result.Err)
	}
}

func TestRunner_SeedFailures(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		statuses []string
		sentinel error
	}{
		{"failed", []string{"Running", "Error"}, apperrors.ErrJobFailed},
		{"timed out", []string{"Running"}, apperrors.ErrWaitTimedOut},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			api := &fakeAPI{startID: "3", statuses: tt.statuses}
			runner := NewRunner(newPool(t, testutil.NewFakeBackend()), api, fastWaiter(), nil)

			result := runner.Run(context.Background(), New(seed.Xtrabackup, ModeGTID))
			if result.Verdict != Failed {
				t.Fatalf("Verdict = %s, want failed", result.Verdict)
			}
			if !errors.Is(result.Err, tt.sentinel) {
				t.Errorf("expected %v, got %v", tt.sentinel, result.Err)
			}
		})
	}
}

func TestRunner_FixtureFailureErrors(t *testing.T) {
	t.Parallel()
	backend := testutil.NewFakeBackend()
	backend.Respond = func(hostName, command string) (string, error) {
		if strings.Contains(command, "lvremove") {
			return "Volume group not found", apperrors.CommandFailed(hostName, command, "Volume group not found", 5)
		}
		return "", nil
	}
	api := &fakeAPI{startID: "1", statuses: []string{"Completed"}}
	runner := NewRunner(newPool(t, backend), api, fastWaiter(), nil)

	result := runner.Run(context.Background(), New(seed.LVM, ModeGTID))
	if result.Verdict != Errored {
		t.Fatalf("Verdict = %s, want errored", result.Verdict)
	}
	if !errors.Is(result.Err, apperrors.ErrFixture) {
		t.Errorf("expected fixture error, got %v", result.Err)
	}
	if len(api.Started()) != 0 {
		t.Error("no seed should start after a fixture failure")
	}
}

func TestRunner_EmptySeedID(t *testing.T) {
	t.Parallel()
	api := &fakeAPI{startErr: apperrors.Transport("seed.start", seed.ErrEmptyJobID)}
	runner := NewRunner(newPool(t, testutil.NewFakeBackend()), api, fastWaiter(), nil)

	result := runner.Run(context.Background(), New(seed.Mysqldump, ModePositional))
	if result.Verdict != Errored || !errors.Is(result.Err, seed.ErrEmptyJobID) {
		t.Errorf("expected errored with empty id, got %s %v", result.Verdict, result.Err)
	}
}

func sessionOptions(backend *testutil.FakeBackend, api seed.API) SessionOptions {
	return SessionOptions{
		Backend:   backend,
		Topology:  environment.Topology(),
		Pool:      pool.Options{Allocate: environment.AddressRule()},
		Plan:      environment.Plan(environment.Options{MySQLVersion: "57", ControllerRepo: "repo", ControllerBranch: "master"}),
		Scenarios: []Scenario{New(seed.Mysqldump, ModeGTID), New(seed.Xtrabackup, ModePositional)},
		API:       func(p *pool.Pool) (seed.API, error) { return api, nil },
		Waiter:    fastWaiter(),
	}
}

func TestRunSession(t *testing.T) {
	t.Parallel()
	backend := testutil.NewFakeBackend()
	api := &fakeAPI{startID: "5", statuses: []string{"Completed"}}
	opts := sessionOptions(backend, api)
	var seen []string
	opts.OnResult = func(r Result) { seen = append(seen, r.Scenario) }

	report, err := RunSession(context.Background(), opts)
	if err != nil {
		t.Fatalf("RunSession() error = %v", err)
	}
	if !slices.Equal(seen, []string{"mysqldump-gtid", "xtrabackup-positional"}) {
		t.Errorf("OnResult saw %v", seen)
	}
	if !report.OK() || report.Count(Passed) != 2 {
		t.Errorf("expected two passing scenarios, got %+v", report.Results)
	}
	if got := backend.Destroyed(); !slices.Equal(got, []string{environment.TargetAgent, environment.SourceAgent, environment.Controller}) {
		t.Errorf("destroyed = %v", got)
	}
}

func TestRunSession_KeepEnvironment(t *testing.T) {
	t.Parallel()
	backend := testutil.NewFakeBackend()
	opts := sessionOptions(backend, &fakeAPI{startID: "5", statuses: []string{"Completed"}})
	opts.KeepEnvironment = true

	if _, err := RunSession(context.Background(), opts); err != nil {
		t.Fatalf("RunSession() error = %v", err)
	}
	if got := backend.Destroyed(); len(got) != 0 {
		t.Errorf("hosts should be kept, destroyed %v", got)
	}
}

func TestRunSession_ProvisioningFailureAborts(t *testing.T) {
	t.Parallel()
	backend := testutil.NewFakeBackend()
	backend.Respond = func(hostName, command string) (string, error) {
		if strings.Contains(command, "build.sh") {
			return "go: not found", apperrors.CommandFailed(hostName, command, "go: not found", 127)
		}
		return "", nil
	}
	api := &fakeAPI{startID: "5", statuses: []string{"Completed"}}

	report, err := RunSession(context.Background(), sessionOptions(backend, api))
	if !errors.Is(err, apperrors.ErrProvisioning) {
		t.Fatalf("expected provisioning error, got %v", err)
	}
	if len(report.Results) != 0 || len(api.Started()) != 0 {
		t.Error("no scenario should run after a setup failure")
	}
	if len(backend.Destroyed()) != 3 {
		t.Errorf("hosts should be torn down after a setup failure, destroyed %v", backend.Destroyed())
	}
}

func TestRunSession_PreflightFailure(t *testing.T) {
	t.Parallel()
	backend := testutil.NewFakeBackend()
	backend.NotReady = errors.New("cannot connect to the Docker daemon")
	checker := health.NewChecker()
	checker.Register("backend", backend)

	opts := sessionOptions(backend, &fakeAPI{})
	opts.Health = checker

	_, err := RunSession(context.Background(), opts)
	if !errors.Is(err, apperrors.ErrTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if len(backend.Created()) != 0 {
		t.Error("no host should be created when preflight fails")
	}
}

func TestRunSession_TeardownFailureReported(t *testing.T) {
	t.Parallel()
	backend := testutil.NewFakeBackend()
	backend.FailDestroy[environment.SourceAgent] = errors.New("container in use")
	backend.FailDestroy[environment.Controller] = errors.New("daemon gone")

	report, err := RunSession(context.Background(), sessionOptions(backend, &fakeAPI{startID: "5", statuses: []string{"Completed"}}))
	if err != nil {
		t.Fatalf("RunSession() error = %v", err)
	}
	if report.OK() {
		t.Error("teardown failures must fail the report")
	}
	if got := len(pool.TeardownErrors(report.Teardown)); got != 2 {
		t.Errorf("got %d teardown errors, want 2", got)
	}
	if !errors.Is(report.Err(), apperrors.ErrTeardown) {
		t.Errorf("Err() should include teardown errors, got %v", report.Err())
	}
}

func TestVerdict_String(t *testing.T) {
	t.Parallel()
	for v, want := range map[Verdict]string{Passed: "passed", Failed: "failed", Skipped: "skipped", Errored: "errored"} {
		if v.String() != want {
			t.Errorf("%d.String() = %q, want %q", int(v), v.String(), want)
		}
	}
}

var _ seed.API = (*fakeAPI)(nil)
