package protocol

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/ALOK9821/replit-clone/internal/identity"
	"github.com/ALOK9821/replit-clone/internal/logging"
	"github.com/ALOK9821/replit-clone/internal/metrics"
	"github.com/ALOK9821/replit-clone/internal/mirror"
	"github.com/ALOK9821/replit-clone/internal/terminal"
	"github.com/ALOK9821/replit-clone/internal/workspace"
)

// Config wires a Router to its collaborators.
type Config struct {
	Resolver  identity.Resolver
	FS        *workspace.FS
	Sync      mirror.SyncPolicy
	Terminals *terminal.Manager

	// Terminal input rate limit, in messages per second.
	RateLimit float64
	RateBurst int
}

// Router serves websocket connections. One Router is shared by all
// connections; per-connection state lives in a connection value.
type Router struct {
	resolver  identity.Resolver
	fs        *workspace.FS
	sync      mirror.SyncPolicy
	terminals *terminal.Manager
	rateLimit float64
	rateBurst int
}

// NewRouter returns a Router. Zero rate settings default to 200/s.
func NewRouter(cfg Config) *Router {
	rt := &Router{
		resolver:  cfg.Resolver,
		fs:        cfg.FS,
		sync:      cfg.Sync,
		terminals: cfg.Terminals,
		rateLimit: cfg.RateLimit,
		rateBurst: cfg.RateBurst,
	}
	if rt.rateLimit <= 0 {
		rt.rateLimit = 200
	}
	if rt.rateBurst <= 0 {
		rt.rateBurst = 200
	}
	return rt
}

// handlerFunc handles one event. A nil reply sends no ack.
type handlerFunc func(ctx context.Context, data json.RawMessage) any

type connection struct {
	rt        *Router
	conn      Conn
	connID    string
	sessionID string
	ctx       context.Context

	writeMu  sync.Mutex
	handlers map[string]handlerFunc
	limiter  *terminal.RateLimiter
}

// Serve runs the protocol on conn until the client disconnects or ctx is
// cancelled. r is the upgrade request the session identity is read from.
// The connection's terminal is released when Serve returns.
func (rt *Router) Serve(ctx context.Context, conn Conn, r *http.Request, connID string) {
	sessionID, err := rt.resolver.Resolve(r)
	if err != nil {
		metrics.RecordIdentityRejection()
		logging.Warn("rejecting connection without session identity",
			zap.String("conn", connID), zap.String("host", logging.SanitizeForLog(r.Host)), zap.Error(err))
		rt.terminals.Release(connID)
		conn.Close(StatusIdentityMissing, "session identity missing")
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	// cancel runs first so a blocked output write unblocks before release.
	defer rt.terminals.Release(connID)
	defer cancel()

	metrics.ConnectionOpened()
	defer metrics.ConnectionClosed()

	c := &connection{
		rt:        rt,
		conn:      conn,
		connID:    connID,
		sessionID: sessionID,
		ctx:       ctx,
		limiter:   terminal.NewRateLimiter(rt.rateLimit, rt.rateBurst),
	}
	c.handlers = map[string]handlerFunc{
		EventFetchDir:        c.fetchDir,
		EventFetchContent:    c.fetchContent,
		EventUpdateContent:   c.updateContent,
		EventRequestTerminal: c.requestTerminal,
		EventTerminalResize:  c.terminalResize,
		EventTerminalData:    c.terminalData,
	}

	logging.Info("connection established", zap.String("conn", connID), zap.String("session", sessionID))
	defer logging.Info("connection closed", zap.String("conn", connID), zap.String("session", sessionID))

	root, err := rt.fs.ListDirectory(ctx, "")
	if err != nil {
		logging.Warn("listing workspace root failed", zap.String("conn", connID), zap.Error(err))
		root = []workspace.FileNode{}
	}
	if err := c.emit(EventLoaded, nil, loadedPayload{RootContent: root}); err != nil {
		return
	}

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			logging.Debug("connection read ended", zap.String("conn", connID), zap.Error(err))
			return
		}
		c.dispatch(typ, data)
	}
}

func (c *connection) dispatch(typ websocket.MessageType, data []byte) {
	if typ == websocket.MessageBinary {
		c.writeTerminal(data)
		return
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		logging.Debug("dropping malformed message", zap.String("conn", c.connID), zap.Error(err))
		return
	}
	h, ok := c.handlers[env.Event]
	if !ok {
		logging.Debug("ignoring unknown event",
			zap.String("conn", c.connID), zap.String("event", logging.SanitizeForLog(env.Event)))
		return
	}
	metrics.RecordProtocolEvent(env.Event)

	reply := h(c.ctx, env.Data)
	if reply == nil || env.ID == nil {
		return
	}
	if err := c.emit(EventAck, env.ID, reply); err != nil {
		logging.Debug("reply not delivered", zap.String("conn", c.connID), zap.Error(err))
	}
}

func (c *connection) emit(event string, id *int64, data any) error {
	b, err := json.Marshal(outgoing{Event: event, ID: id, Data: data})
	if err != nil {
		return err
	}
	return c.send(websocket.MessageText, b)
}

// send is the only path to the socket.
func (c *connection) send(typ websocket.MessageType, b []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.Write(c.ctx, typ, b)
}

func (c *connection) terminalOutput(data []byte) {
	if err := c.send(websocket.MessageBinary, data); err != nil {
		logging.Debug("terminal output not delivered", zap.String("conn", c.connID), zap.Error(err))
	}
}

func (c *connection) writeTerminal(data []byte) {
	if !c.limiter.Allow() {
		return
	}
	if len(data) > terminal.MaxInputMessageSize {
		logging.Warn("terminal input message too large",
			zap.String("conn", c.connID), zap.Int("size", len(data)), zap.Int("limit", terminal.MaxInputMessageSize))
		return
	}
	c.rt.terminals.Write(c.connID, data)
}
