package core

import (
	"io"
	"sync"
	"testing"
	"time"

	"pkt.systems/coxswain/schema"
)

// fakeProc stands in for a PTY-backed process. Output is injected
// with emit and the exit code with exit; Read drains injected chunks
// and returns EOF after exit.
type fakeProc struct {
	pid int

	mu       sync.Mutex
	writes   []byte
	resizes  [][2]int
	writeErr error
	resizeErr error
	killed   bool

	out      chan []byte
	exitOnce sync.Once
	exitCode int
}

func newFakeProc(pid int) *fakeProc {
	return &fakeProc{pid: pid, out: make(chan []byte, 64)}
}

func (p *fakeProc) emit(text string) { p.out <- []byte(text) }

func (p *fakeProc) exit(code int) {
	p.exitOnce.Do(func() {
		p.mu.Lock()
		p.exitCode = code
		p.mu.Unlock()
		close(p.out)
	})
}

func (p *fakeProc) PID() int { return p.pid }

func (p *fakeProc) Read(buf []byte) (int, error) {
	chunk, ok := <-p.out
	if !ok {
		return 0, io.EOF
	}
	return copy(buf, chunk), nil
}

func (p *fakeProc) Write(buf []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.writeErr != nil {
		return 0, p.writeErr
	}
	p.writes = append(p.writes, buf...)
	return len(buf), nil
}

func (p *fakeProc) written() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return string(p.writes)
}

func (p *fakeProc) Resize(cols, rows int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.resizeErr != nil {
		return p.resizeErr
	}
	p.resizes = append(p.resizes, [2]int{cols, rows})
	return nil
}

func (p *fakeProc) Kill() error {
	p.mu.Lock()
	p.killed = true
	p.mu.Unlock()
	p.exit(137)
	return nil
}

func (p *fakeProc) wasKilled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.killed
}

func (p *fakeProc) Wait() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode
}

func (p *fakeProc) Close() error { return nil }

// fakeStarter records resolved spawn specs and hands out fakeProcs in
// order. An empty queue fails the spawn.
type fakeStarter struct {
	mu    sync.Mutex
	specs []spawnSpec
	queue []*fakeProc
	err   error
	next  int
}

func (f *fakeStarter) start(spec spawnSpec) (runningProcess, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.specs = append(f.specs, spec)
	if f.err != nil {
		return nil, f.err
	}
	if f.next >= len(f.queue) {
		proc := newFakeProc(1000 + f.next)
		f.queue = append(f.queue, proc)
		f.next++
		return proc, nil
	}
	proc := f.queue[f.next]
	f.next++
	return proc, nil
}

func (f *fakeStarter) lastSpec(t *testing.T) spawnSpec {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.specs) == 0 {
		t.Fatalf("no spawns recorded")
	}
	return f.specs[len(f.specs)-1]
}

func (f *fakeStarter) proc(t *testing.T, i int) *fakeProc {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if i >= len(f.queue) {
		t.Fatalf("no process %d, have %d", i, len(f.queue))
	}
	return f.queue[i]
}

func (f *fakeStarter) spawnCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.specs)
}

// captureSink records every emitted event for assertions, plus the
// order the event types arrived in.
type captureSink struct {
	mu        sync.Mutex
	order     []string
	data      []schema.DataEvent
	raw       []schema.RawDataEvent
	exits     []schema.ExitEvent
	agentErrs []schema.AgentErrorEvent
	session   []schema.SessionEvent
}

func (c *captureSink) OnData(event schema.DataEvent) {
	c.mu.Lock()
	c.order = append(c.order, "data")
	c.data = append(c.data, event)
	c.mu.Unlock()
}

func (c *captureSink) OnRawData(event schema.RawDataEvent) {
	c.mu.Lock()
	c.order = append(c.order, "raw-data")
	c.raw = append(c.raw, event)
	c.mu.Unlock()
}

func (c *captureSink) OnExit(event schema.ExitEvent) {
	c.mu.Lock()
	c.order = append(c.order, "exit")
	c.exits = append(c.exits, event)
	c.mu.Unlock()
}

func (c *captureSink) OnAgentError(event schema.AgentErrorEvent) {
	c.mu.Lock()
	c.order = append(c.order, "agent-error")
	c.agentErrs = append(c.agentErrs, event)
	c.mu.Unlock()
}

func (c *captureSink) OnSessionEvent(event schema.SessionEvent) {
	c.mu.Lock()
	c.order = append(c.order, "session")
	c.session = append(c.session, event)
	c.mu.Unlock()
}

func (c *captureSink) eventOrder() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.order...)
}

func (c *captureSink) dataEvents() []schema.DataEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]schema.DataEvent(nil), c.data...)
}

func (c *captureSink) rawEvents() []schema.RawDataEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]schema.RawDataEvent(nil), c.raw...)
}

func (c *captureSink) exitEvents() []schema.ExitEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]schema.ExitEvent(nil), c.exits...)
}

func (c *captureSink) agentErrors() []schema.AgentErrorEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]schema.AgentErrorEvent(nil), c.agentErrs...)
}

// fakeCatalog serves a fixed agent table.
type fakeCatalog struct {
	agents map[schema.AgentID]schema.AgentInfo
}

func (f fakeCatalog) GetAgent(id schema.AgentID) (schema.AgentInfo, error) {
	info, ok := f.agents[id]
	if !ok {
		return schema.AgentInfo{}, nil
	}
	return info, nil
}

func (f fakeCatalog) List() []schema.AgentSnapshot { return nil }

// newTestService builds a service with a fake starter so nothing real
// is ever spawned.
func newTestService(t *testing.T, cfg schema.ServiceConfig, deps ServiceDeps) (*service, *fakeStarter) {
	t.Helper()
	if cfg.StateDir == "" {
		cfg.StateDir = t.TempDir()
	}
	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = time.Millisecond
	}
	svc, err := NewService(cfg, deps)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	impl := svc.(*service)
	starter := &fakeStarter{}
	impl.start = starter.start
	t.Cleanup(func() { _ = impl.Close() })
	return impl, starter
}

// waitUntil polls until the condition holds or the deadline passes.
func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
