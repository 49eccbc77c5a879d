package terminal

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os/exec"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeProcess is a Process backed by a pipe. Tests push output with emit.
type fakeProcess struct {
	outR *io.PipeReader
	outW *io.PipeWriter

	mu     sync.Mutex
	input  bytes.Buffer
	sizes  [][2]uint16
	kills  int
	spec   Spec
	waitCh chan struct{}
	once   sync.Once
}

func newFakeProcess(spec Spec) *fakeProcess {
	r, w := io.Pipe()
	return &fakeProcess{outR: r, outW: w, spec: spec, waitCh: make(chan struct{})}
}

func (p *fakeProcess) Read(b []byte) (int, error) { return p.outR.Read(b) }

func (p *fakeProcess) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.input.Write(b)
}

func (p *fakeProcess) Resize(cols, rows uint16) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sizes = append(p.sizes, [2]uint16{cols, rows})
	return nil
}

func (p *fakeProcess) Kill() error {
	p.mu.Lock()
	p.kills++
	p.mu.Unlock()
	p.once.Do(func() {
		p.outW.Close()
		close(p.waitCh)
	})
	return nil
}

func (p *fakeProcess) Wait() error {
	<-p.waitCh
	return nil
}

func (p *fakeProcess) emit(t *testing.T, s string) {
	t.Helper()
	if _, err := p.outW.Write([]byte(s)); err != nil {
		t.Fatalf("emit: %v", err)
	}
}

func (p *fakeProcess) killCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.kills
}

func (p *fakeProcess) inputString() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.input.String()
}

// fakeSpawner hands out fakeProcesses and remembers them in order.
type fakeSpawner struct {
	mu    sync.Mutex
	procs []*fakeProcess
	err   error
	// onSpawn runs before the process is created.
	onSpawn func()
}

func (s *fakeSpawner) spawn(ctx context.Context, spec Spec) (Process, error) {
	if s.onSpawn != nil {
		s.onSpawn()
	}
	if s.err != nil {
		return nil, s.err
	}
	p := newFakeProcess(spec)
	s.mu.Lock()
	s.procs = append(s.procs, p)
	s.mu.Unlock()
	return p, nil
}

func (s *fakeSpawner) last() *fakeProcess {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.procs[len(s.procs)-1]
}

func newTestManager(t *testing.T, sp *fakeSpawner) *Manager {
	t.Helper()
	m, err := NewManager(NewRegistry(), Config{Shell: "/bin/bash", Dir: "/workspace", Spawn: sp.spawn})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

// collector gathers output chunks.
type collector struct {
	mu  sync.Mutex
	buf strings.Builder
}

func (c *collector) add(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buf.Write(data)
}

func (c *collector) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.String()
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestManager_CreateRelaysOutputInOrder(t *testing.T) {
	sp := &fakeSpawner{}
	m := newTestManager(t, sp)
	out := &collector{}

	h, err := m.Create(context.Background(), "conn-1", "abc123", 0, 0, out.add)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer m.Release("conn-1")

	if h.State() != StateRunning {
		t.Errorf("expected running, got %s", h.State())
	}
	if h.ConnID != "conn-1" || h.SessionID != "abc123" || h.ID == "" {
		t.Errorf("unexpected handle identity: %+v", h)
	}

	p := sp.last()
	for _, chunk := range []string{"$ ", "ls\r\n", "main.py\r\n"} {
		p.emit(t, chunk)
	}
	waitFor(t, "output", func() bool { return out.String() == "$ ls\r\nmain.py\r\n" })
}

func TestManager_SpawnSpec(t *testing.T) {
	sp := &fakeSpawner{}
	m := newTestManager(t, sp)

	if _, err := m.Create(context.Background(), "c", "sess-9", 0, 0, nil); err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer m.Release("c")

	spec := sp.last().spec
	if spec.Shell != "/bin/bash" || spec.Dir != "/workspace" {
		t.Errorf("unexpected spec: %+v", spec)
	}
	if spec.Cols != DefaultCols || spec.Rows != DefaultRows {
		t.Errorf("size = %dx%d, want defaults", spec.Cols, spec.Rows)
	}
	found := false
	for _, e := range spec.Env {
		if e == "REPL_ID=sess-9" {
			found = true
		}
	}
	if !found {
		t.Errorf("env %v missing REPL_ID", spec.Env)
	}
}

func TestManager_WriteAndResize(t *testing.T) {
	sp := &fakeSpawner{}
	m := newTestManager(t, sp)

	if _, err := m.Create(context.Background(), "c", "s", 120, 40, nil); err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer m.Release("c")
	p := sp.last()

	m.Write("c", []byte("ls\n"))
	m.Write("c", []byte("pwd\n"))
	if got := p.inputString(); got != "ls\npwd\n" {
		t.Errorf("input = %q", got)
	}

	m.Resize("c", 9999, 9999)
	m.Resize("c", 0, 10)
	p.mu.Lock()
	sizes := append([][2]uint16(nil), p.sizes...)
	p.mu.Unlock()
	if len(sizes) != 1 || sizes[0] != [2]uint16{MaxTermCols, MaxTermRows} {
		t.Errorf("resizes = %v, want one clamped resize", sizes)
	}
	if p.spec.Cols != 120 || p.spec.Rows != 40 {
		t.Errorf("initial size = %dx%d", p.spec.Cols, p.spec.Rows)
	}
}

func TestManager_WriteUnknownConnectionIsDropped(t *testing.T) {
	m := newTestManager(t, &fakeSpawner{})
	m.Write("nobody", []byte("x"))
	m.Resize("nobody", 80, 24)
	m.Release("nobody")
}

func TestManager_ReplaceTerminatesOldFirst(t *testing.T) {
	sp := &fakeSpawner{}
	m := newTestManager(t, sp)

	first, err := m.Create(context.Background(), "c", "s", 0, 0, nil)
	if err != nil {
		t.Fatalf("first Create: %v", err)
	}
	oldProc := sp.last()

	var oldStateAtSpawn State
	sp.onSpawn = func() { oldStateAtSpawn = first.State() }

	second, err := m.Create(context.Background(), "c", "s", 0, 0, nil)
	if err != nil {
		t.Fatalf("second Create: %v", err)
	}
	defer m.Release("c")

	if oldStateAtSpawn != StateTerminated {
		t.Errorf("old handle was %s when the new shell spawned", oldStateAtSpawn)
	}
	if oldProc.killCount() != 1 {
		t.Errorf("old process kills = %d", oldProc.killCount())
	}
	if got, _ := m.Registry().Lookup("c"); got != second {
		t.Error("registry should hold the replacement handle")
	}
	if m.Registry().Len() != 1 {
		t.Errorf("registry len = %d", m.Registry().Len())
	}
}

func TestManager_SpawnFailure(t *testing.T) {
	sp := &fakeSpawner{}
	m := newTestManager(t, sp)

	old, err := m.Create(context.Background(), "c", "s", 0, 0, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	cause := errors.New("no ptys left")
	sp.err = cause
	_, err = m.Create(context.Background(), "c", "s", 0, 0, nil)
	if !errors.Is(err, ErrResourceUnavailable) || !errors.Is(err, cause) {
		t.Fatalf("expected ErrResourceUnavailable wrapping cause, got %v", err)
	}
	if _, ok := m.Registry().Lookup("c"); ok {
		t.Error("failed create should leave no handle")
	}
	if old.State() != StateTerminated {
		t.Errorf("replaced handle should be terminated, got %s", old.State())
	}
}

func TestHandle_TerminateIsIdempotent(t *testing.T) {
	sp := &fakeSpawner{}
	m := newTestManager(t, sp)
	out := &collector{}

	h, err := m.Create(context.Background(), "c", "s", 0, 0, out.add)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	p := sp.last()

	m.Release("c")
	h.Terminate()
	m.Release("c")

	select {
	case <-h.Done():
	default:
		t.Fatal("Done should be closed after Terminate")
	}
	if p.killCount() != 1 {
		t.Errorf("kills = %d, want 1", p.killCount())
	}

	h.Write([]byte("late"))
	if p.inputString() != "" {
		t.Errorf("write after terminate should be dropped, got %q", p.inputString())
	}
	if out.String() != "" {
		t.Errorf("no output expected, got %q", out.String())
	}
}

func TestHandle_ProcessExitTerminates(t *testing.T) {
	sp := &fakeSpawner{}
	m := newTestManager(t, sp)

	h, err := m.Create(context.Background(), "c", "s", 0, 0, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer m.Release("c")

	sp.last().outW.Close()
	select {
	case <-h.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("handle did not terminate after process output ended")
	}
	if h.State() != StateTerminated {
		t.Errorf("state = %s", h.State())
	}
}

func TestHandle_Unsubscribe(t *testing.T) {
	sp := &fakeSpawner{}
	m := newTestManager(t, sp)

	h, err := m.Create(context.Background(), "c", "s", 0, 0, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer m.Release("c")

	a, b := &collector{}, &collector{}
	unsubA := h.Subscribe(a.add)
	h.Subscribe(b.add)

	p := sp.last()
	p.emit(t, "one")
	waitFor(t, "both subscribers", func() bool { return a.String() == "one" && b.String() == "one" })

	unsubA()
	p.emit(t, "two")
	waitFor(t, "second chunk", func() bool { return b.String() == "onetwo" })
	if a.String() != "one" {
		t.Errorf("unsubscribed collector got %q", a.String())
	}
}

func TestRegistry_CloseAll(t *testing.T) {
	sp := &fakeSpawner{}
	m := newTestManager(t, sp)

	var handles []*Handle
	for _, id := range []string{"a", "b", "c"} {
		h, err := m.Create(context.Background(), id, "s", 0, 0, nil)
		if err != nil {
			t.Fatalf("Create %s: %v", id, err)
		}
		handles = append(handles, h)
	}
	if m.Registry().Len() != 3 {
		t.Fatalf("len = %d", m.Registry().Len())
	}

	m.Registry().CloseAll()
	if m.Registry().Len() != 0 {
		t.Errorf("len after CloseAll = %d", m.Registry().Len())
	}
	for _, h := range handles {
		if h.State() != StateTerminated {
			t.Errorf("handle %s state = %s", h.ConnID, h.State())
		}
	}
}

func TestStartPTY_RealShell(t *testing.T) {
	if testing.Short() {
		t.Skip("spawns a real shell")
	}
	if _, err := exec.LookPath("/bin/sh"); err != nil {
		t.Skip("/bin/sh not available")
	}

	m, err := NewManager(NewRegistry(), Config{Shell: "/bin/sh", Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	out := &collector{}
	if _, err := m.Create(context.Background(), "pty", "real-session", 0, 0, out.add); err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer m.Release("pty")

	m.Write("pty", []byte("echo id=$REPL_ID\n"))
	waitFor(t, "shell echo", func() bool { return strings.Contains(out.String(), "id=real-session") })
}

func TestNewManager_RejectsShell(t *testing.T) {
	if _, err := NewManager(NewRegistry(), Config{Shell: "/usr/bin/python3"}); err == nil {
		t.Error("expected error for disallowed shell")
	}
}

func TestRegistry_ReleaseUnknownIsNoop(t *testing.T) {
	r := NewRegistry()
	r.Release("never-seen")
	if r.Len() != 0 {
		t.Errorf("len = %d", r.Len())
	}
	if _, ok := r.Lookup("never-seen"); ok {
		t.Error("lookup should miss")
	}
}

func TestShellEnv_Allowlist(t *testing.T) {
	t.Setenv("PATH", "/usr/bin:/bin")
	t.Setenv("REPL_S3_SECRET_KEY", "topsecret")
	t.Setenv("REPL_S3_ACCESS_KEY", "AKIA123")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "awssecret")

	env := shellEnv(sessionEnv("abc"))
	joined := strings.Join(env, "\n")
	for _, leaked := range []string{"topsecret", "AKIA123", "awssecret", "REPL_S3_"} {
		if strings.Contains(joined, leaked) {
			t.Errorf("shell env contains %q:\n%s", leaked, joined)
		}
	}
	for _, want := range []string{"PATH=/usr/bin:/bin", "REPL_ID=abc", "TERM=xterm-256color"} {
		if !strings.Contains(joined, want) {
			t.Errorf("shell env missing %q:\n%s", want, joined)
		}
	}
}

func TestStartPTY_DoesNotExposeRunnerSecrets(t *testing.T) {
	if testing.Short() {
		t.Skip("spawns a real shell")
	}
	if _, err := exec.LookPath("/bin/sh"); err != nil {
		t.Skip("/bin/sh not available")
	}
	t.Setenv("REPL_S3_SECRET_KEY", "topsecret")

	m, err := NewManager(NewRegistry(), Config{Shell: "/bin/sh", Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	out := &collector{}
	if _, err := m.Create(context.Background(), "pty", "s", 0, 0, out.add); err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer m.Release("pty")

	m.Write("pty", []byte("echo KEY=[$REPL_S3_SECRET_KEY]\n"))
	waitFor(t, "shell echo", func() bool { return strings.Contains(out.String(), "KEY=[]") })
	if strings.Contains(out.String(), "topsecret") {
		t.Errorf("shell saw runner secret: %q", out.String())
	}
}
