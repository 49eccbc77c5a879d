package terminal

import (
	"sync"

	"go.uber.org/zap"

	"github.com/ALOK9821/replit-clone/internal/logging"
)

// Factory builds the handle to install for a connection.
type Factory func() (*Handle, error)

// Registry maps connection IDs to their terminal handle. It is safe for
// concurrent use.
type Registry struct {
	mu      sync.Mutex
	handles map[string]*Handle
	// creating serializes CreateOrReplace per connection.
	creating map[string]*sync.Mutex
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		handles:  make(map[string]*Handle),
		creating: make(map[string]*sync.Mutex),
	}
}

func (r *Registry) connLock(connID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.creating[connID]
	if !ok {
		l = &sync.Mutex{}
		r.creating[connID] = l
	}
	return l
}

// CreateOrReplace terminates any handle the connection already owns, then
// installs the one built by factory. If factory fails the connection is
// left with no handle.
func (r *Registry) CreateOrReplace(connID string, factory Factory) (*Handle, error) {
	l := r.connLock(connID)
	l.Lock()
	defer l.Unlock()

	r.mu.Lock()
	old := r.handles[connID]
	delete(r.handles, connID)
	r.mu.Unlock()

	if old != nil {
		logging.Info("replacing terminal", zap.String("conn", connID), zap.String("handle", old.ID))
		old.Terminate()
	}

	h, err := factory()
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	prev := r.handles[connID]
	r.handles[connID] = h
	r.mu.Unlock()

	// Only reachable if something installed a handle without going
	// through CreateOrReplace.
	if prev != nil && prev != h {
		prev.Terminate()
	}
	return h, nil
}

// Lookup returns the live handle for a connection.
func (r *Registry) Lookup(connID string) (*Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[connID]
	return h, ok
}

// Release terminates and removes the connection's handle. Releasing an
// unknown connection is a no-op.
func (r *Registry) Release(connID string) {
	r.mu.Lock()
	h := r.handles[connID]
	delete(r.handles, connID)
	delete(r.creating, connID)
	r.mu.Unlock()

	if h != nil {
		h.Terminate()
	}
}

// Len returns the number of installed handles.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}

// CloseAll terminates every handle. Used on shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	handles := make([]*Handle, 0, len(r.handles))
	for _, h := range r.handles {
		handles = append(handles, h)
	}
	r.handles = make(map[string]*Handle)
	r.creating = make(map[string]*sync.Mutex)
	r.mu.Unlock()

	for _, h := range handles {
		h.Terminate()
	}
	if len(handles) > 0 {
		logging.Info("terminated all terminals", zap.Int("count", len(handles)))
	}
}
