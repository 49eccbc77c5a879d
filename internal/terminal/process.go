package terminal

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/creack/pty"
)

// Process is a running interactive program. Reads return its output, writes
// feed its input.
type Process interface {
	io.Reader
	io.Writer
	Resize(cols, rows uint16) error
	// Kill stops the program and releases its terminal.
	Kill() error
	Wait() error
}

// Spec describes the program to start.
type Spec struct {
	Shell string
	Dir   string
	Env   []string
	Cols  uint16
	Rows  uint16
}

// Spawner starts a Process.
type Spawner func(ctx context.Context, spec Spec) (Process, error)

// StartPTY starts spec.Shell attached to a new PTY. The process is not tied
// to ctx; it lives until Kill.
func StartPTY(ctx context.Context, spec Spec) (Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cmd := exec.Command(spec.Shell)
	cmd.Dir = spec.Dir
	cmd.Env = shellEnv(spec.Env)

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: spec.Cols, Rows: spec.Rows})
	if err != nil {
		return nil, fmt.Errorf("start pty: %w", err)
	}
	return &ptyProcess{cmd: cmd, ptmx: ptmx}, nil
}

// inheritedEnv lists the runner variables a user shell may see. Everything
// else, object-store credentials included, stays in the runner.
var inheritedEnv = []string{"PATH", "HOME", "USER", "LOGNAME", "LANG", "LC_ALL", "TZ"}

func shellEnv(extra []string) []string {
	env := make([]string, 0, len(inheritedEnv)+len(extra))
	for _, name := range inheritedEnv {
		if v, ok := os.LookupEnv(name); ok {
			env = append(env, name+"="+v)
		}
	}
	return append(env, extra...)
}

type ptyProcess struct {
	cmd  *exec.Cmd
	ptmx *os.File
}

func (p *ptyProcess) Read(b []byte) (int, error)  { return p.ptmx.Read(b) }
func (p *ptyProcess) Write(b []byte) (int, error) { return p.ptmx.Write(b) }

func (p *ptyProcess) Resize(cols, rows uint16) error {
	return pty.Setsize(p.ptmx, &pty.Winsize{Cols: cols, Rows: rows})
}

func (p *ptyProcess) Kill() error {
	var killErr error
	if p.cmd.Process != nil {
		killErr = p.cmd.Process.Kill()
	}
	if err := p.ptmx.Close(); err != nil && killErr == nil {
		killErr = err
	}
	return killErr
}

func (p *ptyProcess) Wait() error {
	return p.cmd.Wait()
}
