package terminal

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ALOK9821/replit-clone/internal/logging"
	"github.com/ALOK9821/replit-clone/internal/metrics"
)

// State is the lifecycle state of a Handle.
type State int32

const (
	StateSpawning State = iota
	StateRunning
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateSpawning:
		return "spawning"
	case StateRunning:
		return "running"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// OutputFunc receives one chunk of terminal output. The slice is owned by
// the callee.
type OutputFunc func(data []byte)

type subscription struct {
	id int
	fn OutputFunc
}

// Handle owns one shell process bound to a connection.
type Handle struct {
	ID        string
	ConnID    string
	SessionID string
	CreatedAt time.Time

	mu    sync.Mutex
	state State
	proc  Process

	// subMu is held while output is delivered, so once Terminate has
	// cleared the subscriptions no callback runs again.
	subMu   sync.Mutex
	subs    []subscription
	nextSub int

	writeMu  sync.Mutex
	termOnce sync.Once
	done     chan struct{}
}

func newHandle(connID, sessionID string) *Handle {
	return &Handle{
		ID:        uuid.New().String(),
		ConnID:    connID,
		SessionID: sessionID,
		CreatedAt: time.Now(),
		state:     StateSpawning,
		done:      make(chan struct{}),
	}
}

// State returns the current lifecycle state.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Done is closed once the handle is terminated.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Subscribe registers fn for every later output chunk. Chunks arrive in the
// order the process produced them. fn must not call Subscribe or Terminate.
func (h *Handle) Subscribe(fn OutputFunc) (unsubscribe func()) {
	h.subMu.Lock()
	id := h.nextSub
	h.nextSub++
	h.subs = append(h.subs, subscription{id: id, fn: fn})
	h.subMu.Unlock()

	return func() {
		h.subMu.Lock()
		defer h.subMu.Unlock()
		for i, s := range h.subs {
			if s.id == id {
				h.subs = append(h.subs[:i], h.subs[i+1:]...)
				return
			}
		}
	}
}

// start moves a spawning handle to running and begins relaying output.
func (h *Handle) start(proc Process) {
	h.mu.Lock()
	h.proc = proc
	h.state = StateRunning
	h.mu.Unlock()

	metrics.TerminalStarted()
	go h.relayOutput()
}

// discard marks a handle whose spawn failed. It never ran.
func (h *Handle) discard() {
	h.termOnce.Do(func() {
		h.mu.Lock()
		h.state = StateTerminated
		h.mu.Unlock()
		close(h.done)
	})
}

func (h *Handle) relayOutput() {
	buf := make([]byte, 32*1024)
	for {
		n, err := h.proc.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])

			h.subMu.Lock()
			for _, s := range h.subs {
				s.fn(chunk)
			}
			h.subMu.Unlock()
		}
		if err != nil {
			if h.State() == StateRunning {
				logging.Debug("terminal output ended",
					zap.String("handle", h.ID), zap.String("conn", h.ConnID), zap.Error(err))
			}
			h.Terminate()
			return
		}
	}
}

// Write forwards input to the process. Input for a handle that is not
// running is dropped.
func (h *Handle) Write(data []byte) {
	h.mu.Lock()
	running := h.state == StateRunning
	proc := h.proc
	h.mu.Unlock()
	if !running {
		return
	}

	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	if _, err := proc.Write(data); err != nil {
		logging.Debug("terminal write dropped",
			zap.String("handle", h.ID), zap.Error(err))
	}
}

// Resize changes the PTY window size, clamped to MaxTermCols x MaxTermRows.
func (h *Handle) Resize(cols, rows uint16) {
	if cols == 0 || rows == 0 {
		return
	}
	cols = min(cols, MaxTermCols)
	rows = min(rows, MaxTermRows)

	h.mu.Lock()
	running := h.state == StateRunning
	proc := h.proc
	h.mu.Unlock()
	if !running {
		return
	}
	if err := proc.Resize(cols, rows); err != nil {
		logging.Debug("terminal resize failed", zap.String("handle", h.ID), zap.Error(err))
	}
}

// Terminate kills the process and drops all subscriptions. Calling it more
// than once is a no-op.
func (h *Handle) Terminate() {
	h.termOnce.Do(func() {
		h.mu.Lock()
		wasRunning := h.state == StateRunning
		h.state = StateTerminated
		proc := h.proc
		h.mu.Unlock()

		if proc != nil {
			if err := proc.Kill(); err != nil {
				logging.Debug("terminal kill", zap.String("handle", h.ID), zap.Error(err))
			}
		}

		h.subMu.Lock()
		h.subs = nil
		h.subMu.Unlock()

		if proc != nil {
			go proc.Wait()
		}
		if wasRunning {
			metrics.TerminalStopped()
		}
		close(h.done)

		logging.Info("terminal terminated",
			zap.String("handle", h.ID), zap.String("conn", h.ConnID), zap.String("session", h.SessionID))
	})
}
