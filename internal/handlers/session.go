package handlers

import (
	"net/http"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ALOK9821/replit-clone/internal/logging"
	"github.com/ALOK9821/replit-clone/internal/protocol"
)

// maxMessageSize bounds a single client message; file saves carry whole files.
const maxMessageSize = 16 * 1024 * 1024

// Router is set from main.go during init.
var Router *protocol.Router

// SessionWS upgrades the request and serves the session protocol on it.
func SessionWS(w http.ResponseWriter, r *http.Request) {
	if Router == nil {
		writeError(w, http.StatusServiceUnavailable, "Session runtime not initialized")
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		logging.Warn("failed to accept session websocket", zap.Error(err))
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(maxMessageSize)

	Router.Serve(r.Context(), conn, r, uuid.New().String())
	conn.Close(websocket.StatusNormalClosure, "")
}
