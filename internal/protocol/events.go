package protocol

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/ALOK9821/replit-clone/internal/logging"
	"github.com/ALOK9821/replit-clone/internal/mirror"
	"github.com/ALOK9821/replit-clone/internal/workspace"
)

func (c *connection) fetchDir(ctx context.Context, data json.RawMessage) any {
	dir, err := decodePath(data)
	if err != nil {
		return errorReply{Error: "Invalid directory"}
	}
	nodes, err := c.rt.fs.ListDirectory(ctx, dir)
	if err != nil {
		logging.Warn("fetchDir failed", zap.String("conn", c.connID),
			zap.String("path", logging.SanitizeForLog(dir)), zap.Error(err))
		return errorReply{Error: "Failed to fetch directory"}
	}
	if nodes == nil {
		nodes = []workspace.FileNode{}
	}
	return nodes
}

func (c *connection) fetchContent(ctx context.Context, data json.RawMessage) any {
	p, err := decodePath(data)
	if err != nil || p == "" {
		return errorReply{Error: "Invalid path"}
	}
	content, err := c.rt.fs.ReadFile(ctx, p)
	if err != nil {
		logging.Warn("fetchContent failed", zap.String("conn", c.connID),
			zap.String("path", logging.SanitizeForLog(p)), zap.Error(err))
		return errorReply{Error: "Failed to read file"}
	}
	return content
}

// updateContent writes locally, then hands the edit to the sync policy. The
// upload runs detached from the connection so it survives a disconnect.
func (c *connection) updateContent(ctx context.Context, data json.RawMessage) any {
	var in updatePayload
	if err := json.Unmarshal(data, &in); err != nil || in.Path == "" {
		return errorReply{Error: "Invalid file update"}
	}
	if err := c.rt.fs.WriteFile(ctx, in.Path, in.Content); err != nil {
		logging.Warn("updateContent failed", zap.String("conn", c.connID),
			zap.String("path", logging.SanitizeForLog(in.Path)), zap.Error(err))
		return errorReply{Error: "Failed to save file"}
	}
	c.rt.sync.Sync(context.WithoutCancel(ctx), mirror.SessionPrefix(c.sessionID), in.Path, in.Content)
	return nil
}

func (c *connection) requestTerminal(ctx context.Context, data json.RawMessage) any {
	var size terminalSize
	if len(data) > 0 {
		// Size is optional; a bad payload falls back to defaults.
		_ = json.Unmarshal(data, &size)
	}
	_, err := c.rt.terminals.Create(ctx, c.connID, c.sessionID, size.Cols, size.Rows, c.terminalOutput)
	if err != nil {
		logging.Error("requestTerminal failed", zap.String("conn", c.connID), zap.Error(err))
		return errorReply{Error: "Failed to start terminal"}
	}
	return okReply{OK: true}
}

func (c *connection) terminalResize(ctx context.Context, data json.RawMessage) any {
	var size terminalSize
	if err := json.Unmarshal(data, &size); err != nil {
		return nil
	}
	c.rt.terminals.Resize(c.connID, size.Cols, size.Rows)
	return nil
}

func (c *connection) terminalData(ctx context.Context, data json.RawMessage) any {
	in, err := decodeTerminalInput(data)
	if err != nil {
		return nil
	}
	c.writeTerminal(in)
	return nil
}
