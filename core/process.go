package core

import (
	"os"
	"os/exec"
	"time"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"

	"pkt.systems/coxswain/schema"
)

// spawnSpec is the fully resolved spawn input handed to the starter:
// command path, argv, environment, geometry. All policy decisions
// (shell resolution, env strategy, remote wrapping) happen before this
// point.
type spawnSpec struct {
	Command string
	Args    []string
	Dir     string
	Env     []string
	Cols    int
	Rows    int
}

// runningProcess abstracts one live PTY-backed OS process so tests can
// substitute fakes for the registry and lifecycle machinery.
type runningProcess interface {
	PID() int
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Resize(cols, rows int) error
	Kill() error
	// Wait blocks until the process exits and returns its exit code.
	Wait() int
	Close() error
}

// starterFunc creates a runningProcess from a resolved spec. The
// service default spawns a real PTY; tests install fakes.
type starterFunc func(spec spawnSpec) (runningProcess, error)

// managedProcess is the registry entry for a spawned PTY, correlated
// with the owning tab only by key.
type managedProcess struct {
	key     schema.ProcessKey
	mode    schema.ProcessMode
	agentID schema.AgentID
	pid     int
	command string
	args    []string
	cwd     string
	started time.Time
	proc    runningProcess
	// tail keeps recent output for exit-time error classification. It
	// is touched only by the process's own serve goroutine.
	tail []byte
}

const tailMax = 2048

func (m *managedProcess) appendTail(chunk string) {
	m.tail = append(m.tail, chunk...)
	if len(m.tail) > tailMax {
		m.tail = m.tail[len(m.tail)-tailMax:]
	}
}

func (m *managedProcess) tailString() string {
	return string(m.tail)
}

func (m *managedProcess) snapshot() schema.ProcessSnapshot {
	return schema.ProcessSnapshot{
		Key:     m.key,
		Mode:    m.mode,
		PID:     m.pid,
		Command: m.command,
		Cwd:     m.cwd,
		Started: m.started,
	}
}

type ptyProcess struct {
	cmd  *exec.Cmd
	ptmx *os.File
}

// startPTY is the default starter: one pseudo-terminal per process,
// sized up front so full-screen programs never see a 0x0 window.
func startPTY(spec spawnSpec) (runningProcess, error) {
	cmd := exec.Command(spec.Command, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = spec.Env
	cols, rows := spec.Cols, spec.Rows
	if cols <= 0 {
		cols = schema.DefaultCols
	}
	if rows <= 0 {
		rows = schema.DefaultRows
	}
	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{
		Cols: uint16(cols),
		Rows: uint16(rows),
	})
	if err != nil {
		return nil, err
	}
	return &ptyProcess{cmd: cmd, ptmx: ptmx}, nil
}

func (p *ptyProcess) PID() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

func (p *ptyProcess) Read(buf []byte) (int, error) {
	return p.ptmx.Read(buf)
}

func (p *ptyProcess) Write(buf []byte) (int, error) {
	return p.ptmx.Write(buf)
}

func (p *ptyProcess) Resize(cols, rows int) error {
	return pty.Setsize(p.ptmx, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)})
}

// Kill terminates the whole process group; the PTY start put the
// child in its own session, so the negative pid reaches shell
// descendants too.
func (p *ptyProcess) Kill() error {
	pid := p.PID()
	if pid <= 0 {
		return nil
	}
	if err := unix.Kill(-pid, unix.SIGKILL); err == nil {
		return nil
	}
	return p.cmd.Process.Kill()
}

func (p *ptyProcess) Wait() int {
	err := p.cmd.Wait()
	if err == nil {
		return 0
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode()
	}
	return -1
}

func (p *ptyProcess) Close() error {
	return p.ptmx.Close()
}
