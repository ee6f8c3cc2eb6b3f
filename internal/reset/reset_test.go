package reset

import (
	"context"
	"errors"
	"maps"
	"regexp"
	"slices"
	"strings"
	"sync"
	"testing"

	"seedharness/internal/apperrors"
	"seedharness/internal/host"
	"seedharness/internal/pool"
	"seedharness/internal/testutil"
)

func newPool(t *testing.T, backend *testutil.FakeBackend) *pool.Pool {
	t.Helper()
	entries := []pool.Entry{
		{Name: "orchestrator", Role: host.Controller},
		{Name: "sourceagent", Role: host.DataNode, Tags: []string{host.TagSource}},
		{Name: "targetagent", Role: host.DataNode, Tags: []string{host.TagTarget}},
	}
	p, err := pool.Create(context.Background(), backend, entries, pool.Options{
		Allocate:         pool.Sequential("192.168.58.2%d"),
		SkipRegistration: true,
	})
	if err != nil {
		t.Fatalf("pool.Create() error = %v", err)
	}
	return p
}

// machine models the bits of host state the procedures touch: databases,
// directories and replication configuration.
type machine struct {
	mu        sync.Mutex
	databases map[string]map[string]bool
	dirs      map[string]map[string]bool
	replica   map[string]bool
}

var (
	dropIfExists = regexp.MustCompile(`DROP DATABASE IF EXISTS (\w+)`)
	rmDir        = regexp.MustCompile(`rm -rf (\S+)`)
	mkdirP       = regexp.MustCompile(`mkdir -p (\S+)`)
	mkdirStrict  = regexp.MustCompile(`mkdir (/\S+)`)
)

func newMachine() *machine {
	m := &machine{
		databases: make(map[string]map[string]bool),
		dirs:      make(map[string]map[string]bool),
		replica:   make(map[string]bool),
	}
	for _, name := range []string{"sourceagent", "targetagent"} {
		m.databases[name] = map[string]bool{"employees": true, "sakila": true, "world": true, "mysql": true}
		m.dirs[name] = map[string]bool{"/var/lib/mysql": true}
		m.replica[name] = true
	}
	return m
}

func (m *machine) respond(hostName, command string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, match := range dropIfExists.FindAllStringSubmatch(command, -1) {
		delete(m.databases[hostName], match[1])
	}
	if strings.Contains(command, "RESET SLAVE ALL") {
		m.replica[hostName] = false
	}
	for _, match := range rmDir.FindAllStringSubmatch(command, -1) {
		delete(m.dirs[hostName], match[1])
	}
	for _, match := range mkdirP.FindAllStringSubmatch(command, -1) {
		m.dirs[hostName][match[1]] = true
	}
	for _, match := range mkdirStrict.FindAllStringSubmatch(command, -1) {
		if m.dirs[hostName][match[1]] {
			return "mkdir: cannot create directory: File exists", apperrors.CommandFailed(hostName, command, "File exists", 1)
		}
		m.dirs[hostName][match[1]] = true
	}
	return "", nil
}

type state struct {
	databases map[string][]string
	dirs      map[string][]string
	replica   map[string]bool
}

func (m *machine) snapshot() state {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := state{databases: map[string][]string{}, dirs: map[string][]string{}, replica: maps.Clone(m.replica)}
	for h, dbs := range m.databases {
		s.databases[h] = slices.Sorted(maps.Keys(dbs))
	}
	for h, dirs := range m.dirs {
		s.dirs[h] = slices.Sorted(maps.Keys(dirs))
	}
	return s
}

func (s state) equal(o state) bool {
	return maps.EqualFunc(s.databases, o.databases, slices.Equal[[]string]) &&
		maps.EqualFunc(s.dirs, o.dirs, slices.Equal[[]string]) &&
		maps.Equal(s.replica, o.replica)
}

func TestBuiltins_Idempotent(t *testing.T) {
	t.Parallel()
	procedures := []Procedure{ResetTargetAgent(), EnableGTID(), DisableGTID(), ResetLVM(DefaultLVMVolume)}

	for _, proc := range procedures {
		t.Run(proc.Name, func(t *testing.T) {
			t.Parallel()

			once := newMachine()
			backend := testutil.NewFakeBackend()
			backend.Respond = once.respond
			if err := NewRunner(newPool(t, backend), nil).Run(context.Background(), proc); err != nil {
				t.Fatalf("first run error = %v", err)
			}

			twice := newMachine()
			backend = testutil.NewFakeBackend()
			backend.Respond = twice.respond
			runner := NewRunner(newPool(t, backend), nil)
			for i := 0; i < 2; i++ {
				if err := runner.Run(context.Background(), proc); err != nil {
					t.Fatalf("run %d error = %v", i+1, err)
				}
			}

			if !once.snapshot().equal(twice.snapshot()) {
				t.Errorf("state after two runs %+v differs from one run %+v", twice.snapshot(), once.snapshot())
			}
		})
	}
}

func TestResetTargetAgent_OnlyTouchesTargets(t *testing.T) {
	t.Parallel()
	m := newMachine()
	backend := testutil.NewFakeBackend()
	backend.Respond = m.respond
	p := newPool(t, backend)

	if err := NewRunner(p, nil).Run(context.Background(), ResetTargetAgent()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(backend.CommandsOn("sourceagent")) != 0 || len(backend.CommandsOn("orchestrator")) != 0 {
		t.Error("reset-target-agent should only run on target hosts")
	}
	s := m.snapshot()
	if !slices.Equal(s.databases["targetagent"], []string{"mysql"}) {
		t.Errorf("target databases = %v, want [mysql]", s.databases["targetagent"])
	}
	if len(s.databases["sourceagent"]) != 4 {
		t.Errorf("source databases should be untouched, got %v", s.databases["sourceagent"])
	}
	if s.replica["targetagent"] {
		t.Error("target replication should be reset")
	}

	cmds := backend.CommandsOn("targetagent")
	if cmds[0] != "mysql -e 'STOP SLAVE;'" || cmds[len(cmds)-1] != "mysql -e 'RESET MASTER;'" {
		t.Errorf("unexpected command order %v", cmds)
	}
}

func TestEnableGTID_SourceGetsBinlogReset(t *testing.T) {
	t.Parallel()
	backend := testutil.NewFakeBackend()
	p := newPool(t, backend)

	if err := NewRunner(p, nil).Run(context.Background(), EnableGTID()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	source := backend.CommandsOn("sourceagent")
	target := backend.CommandsOn("targetagent")
	if len(source) != 3 || len(target) != 1 {
		t.Fatalf("source ran %d commands, target %d; want 3 and 1", len(source), len(target))
	}
	if !strings.Contains(target[0], "gtid_mode ON") {
		t.Errorf("target command = %q", target[0])
	}
	if !strings.Contains(source[1], "RESET MASTER") {
		t.Errorf("source should reset binlogs, got %q", source[1])
	}
}

func TestRun_FailureIsFixtureError(t *testing.T) {
	t.Parallel()
	backend := testutil.NewFakeBackend()
	backend.Respond = testutil.FailCommand("mysql -e 'RESET SLAVE ALL;'", "ERROR 1227")
	p := newPool(t, backend)

	err := NewRunner(p, nil).Run(context.Background(), ResetTargetAgent(), EnableGTID())
	if !errors.Is(err, apperrors.ErrFixture) {
		t.Fatalf("expected fixture error, got %v", err)
	}
	if errors.Is(err, apperrors.ErrJobFailed) {
		t.Error("fixture errors must not look like a failed job")
	}

	var appErr *apperrors.Error
	if !errors.As(err, &appErr) || appErr.Host != "targetagent" {
		t.Errorf("expected failure on targetagent, got %v", err)
	}
	if got := len(backend.CommandsOn("targetagent")); got != 2 {
		t.Errorf("target ran %d commands, want 2", got)
	}
	// enable-gtid never started.
	if got := len(backend.CommandsOn("sourceagent")); got != 0 {
		t.Errorf("source ran %d commands, want 0", got)
	}
}

func TestRun_NoMatchingHosts(t *testing.T) {
	t.Parallel()
	p := newPool(t, testutil.NewFakeBackend())

	proc := Procedure{Name: "spare", Actions: []Action{{AppliesTo: host.ByTag("spare"), Command: "true"}}}
	err := NewRunner(p, nil).Run(context.Background(), proc)
	if !errors.Is(err, apperrors.ErrFixture) || !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("expected fixture not-found error, got %v", err)
	}
}

func TestBuiltin(t *testing.T) {
	t.Parallel()
	for _, name := range []string{"reset-target-agent", "enable-gtid", "disable-gtid", "reset-lvm"} {
		proc, ok := Builtin(name)
		if !ok || proc.Name != name || len(proc.Actions) == 0 {
			t.Errorf("Builtin(%q) = %v, %v", name, proc, ok)
		}
	}
	if _, ok := Builtin("reset-everything"); ok {
		t.Error("unknown procedure should not resolve")
	}
}

func TestNames(t *testing.T) {
	t.Parallel()
	got := Names([]Procedure{EnableGTID(), ResetLVM(DefaultLVMVolume)})
	if !slices.Equal(got, []string{"enable-gtid", "reset-lvm"}) {
		t.Errorf("Names() = %v", got)
	}
}
