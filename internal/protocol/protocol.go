// Package protocol speaks the browser's websocket protocol for one session:
// file tree browsing, file edits and a terminal.
//
// Text frames carry JSON envelopes; binary frames carry raw terminal bytes.
package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/coder/websocket"
)

// Event names.
const (
	EventLoaded          = "loaded"
	EventAck             = "ack"
	EventFetchDir        = "fetchDir"
	EventFetchContent    = "fetchContent"
	EventUpdateContent   = "updateContent"
	EventRequestTerminal = "requestTerminal"
	EventTerminalResize  = "terminalResize"
	EventTerminalData    = "terminalData"
)

// StatusIdentityMissing closes connections whose session could not be
// identified.
const StatusIdentityMissing websocket.StatusCode = 4401

// Conn is the subset of *websocket.Conn the router uses.
type Conn interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
	Close(code websocket.StatusCode, reason string) error
}

// Envelope is one JSON message in either direction. ID is set by clients
// that want a reply and echoed on the matching ack.
type Envelope struct {
	Event string          `json:"event"`
	ID    *int64          `json:"id,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type outgoing struct {
	Event string `json:"event"`
	ID    *int64 `json:"id,omitempty"`
	Data  any    `json:"data,omitempty"`
}

type loadedPayload struct {
	RootContent any `json:"rootContent"`
}

type pathPayload struct {
	Path string `json:"path"`
}

type updatePayload struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

type terminalSize struct {
	Cols uint16 `json:"cols"`
	Rows uint16 `json:"rows"`
}

type terminalInput struct {
	Data string `json:"data"`
}

type errorReply struct {
	Error string `json:"error"`
}

type okReply struct {
	OK bool `json:"ok"`
}

var errBadPayload = errors.New("malformed payload")

// decodePath accepts either a bare JSON string or {"path": "..."}.
func decodePath(data json.RawMessage) (string, error) {
	raw := strings.TrimSpace(string(data))
	if raw == "" || raw == "null" {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return s, nil
	}
	var p pathPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return "", errBadPayload
	}
	return p.Path, nil
}

// decodeTerminalInput accepts either a bare JSON string or {"data": "..."}.
func decodeTerminalInput(data json.RawMessage) ([]byte, error) {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return []byte(s), nil
	}
	var in terminalInput
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, errBadPayload
	}
	return []byte(in.Data), nil
}
