package terminal

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/ALOK9821/replit-clone/internal/logging"
	"github.com/ALOK9821/replit-clone/internal/metrics"
)

// ErrResourceUnavailable is returned when a shell could not be started.
var ErrResourceUnavailable = errors.New("terminal resource unavailable")

// Config controls how a Manager starts shells.
type Config struct {
	Shell string
	// Dir is the working directory of every shell.
	Dir  string
	Cols uint16
	Rows uint16
	// Spawn starts the process; StartPTY when nil.
	Spawn Spawner
}

// Manager starts shells for connections and keeps them in a Registry.
type Manager struct {
	registry *Registry
	shell    string
	dir      string
	cols     uint16
	rows     uint16
	spawn    Spawner
}

// NewManager validates cfg and returns a Manager backed by registry.
func NewManager(registry *Registry, cfg Config) (*Manager, error) {
	if err := ValidateShell(cfg.Shell); err != nil {
		return nil, fmt.Errorf("validate shell: %w", err)
	}
	m := &Manager{
		registry: registry,
		shell:    cfg.Shell,
		dir:      cfg.Dir,
		cols:     cfg.Cols,
		rows:     cfg.Rows,
		spawn:    cfg.Spawn,
	}
	if m.shell == "" {
		m.shell = DefaultShell
	}
	if m.cols == 0 {
		m.cols = DefaultCols
	}
	if m.rows == 0 {
		m.rows = DefaultRows
	}
	if m.spawn == nil {
		m.spawn = StartPTY
	}
	return m, nil
}

// Registry returns the registry the manager installs handles into.
func (m *Manager) Registry() *Registry {
	return m.registry
}

// Create starts a shell for connID, replacing any shell the connection
// already has. onOutput, when non-nil, is subscribed before the shell starts
// so no output is missed. cols and rows of zero use the manager defaults.
func (m *Manager) Create(ctx context.Context, connID, sessionID string, cols, rows uint16, onOutput OutputFunc) (*Handle, error) {
	if cols == 0 {
		cols = m.cols
	}
	if rows == 0 {
		rows = m.rows
	}
	cols = min(cols, MaxTermCols)
	rows = min(rows, MaxTermRows)

	return m.registry.CreateOrReplace(connID, func() (*Handle, error) {
		h := newHandle(connID, sessionID)
		if onOutput != nil {
			h.Subscribe(onOutput)
		}

		proc, err := m.spawn(ctx, Spec{
			Shell: m.shell,
			Dir:   m.dir,
			Env:   sessionEnv(sessionID),
			Cols:  cols,
			Rows:  rows,
		})
		if err != nil {
			h.discard()
			metrics.RecordTerminalSpawnFailure()
			logging.Error("terminal spawn failed",
				zap.String("conn", connID), zap.String("session", sessionID), zap.Error(err))
			return nil, fmt.Errorf("%w: %w", ErrResourceUnavailable, err)
		}
		h.start(proc)

		logging.Info("terminal started",
			zap.String("handle", h.ID), zap.String("conn", connID),
			zap.String("session", sessionID), zap.String("shell", m.shell))
		return h, nil
	})
}

// Write sends input to the connection's shell. Input for a connection
// without a shell is dropped.
func (m *Manager) Write(connID string, data []byte) {
	if h, ok := m.registry.Lookup(connID); ok {
		h.Write(data)
	}
}

// Resize changes the connection's terminal size, if it has one.
func (m *Manager) Resize(connID string, cols, rows uint16) {
	if h, ok := m.registry.Lookup(connID); ok {
		h.Resize(cols, rows)
	}
}

// Release terminates the connection's shell.
func (m *Manager) Release(connID string) {
	m.registry.Release(connID)
}

func sessionEnv(sessionID string) []string {
	return []string{
		"TERM=xterm-256color",
		"REPL_ID=" + sessionID,
	}
}
