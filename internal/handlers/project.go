package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ALOK9821/replit-clone/internal/database"
	"github.com/ALOK9821/replit-clone/internal/logging"
	"github.com/ALOK9821/replit-clone/internal/mirror"
)

// DefaultTemplate is used when a request names no template.
const DefaultTemplate = "default"

// Mirror is set from main.go during init.
var Mirror *mirror.Mirror

type createProjectRequest struct {
	SessionTemplateID string `json:"sessionTemplateId"`
	NewSessionID      string `json:"newSessionId"`

	// Older clients send these names.
	Language string `json:"language"`
	ReplID   string `json:"replId"`
}

func (req createProjectRequest) template() string {
	t := strings.TrimSpace(req.SessionTemplateID)
	if t == "" {
		t = strings.TrimSpace(req.Language)
	}
	if t == "" {
		t = DefaultTemplate
	}
	return t
}

func (req createProjectRequest) sessionID() string {
	id := strings.TrimSpace(req.NewSessionID)
	if id == "" {
		id = strings.TrimSpace(req.ReplID)
	}
	return id
}

// validName rejects identifiers that would reach outside their prefix.
func validName(s string) bool {
	return s != "" && s != "." && s != ".." && !strings.ContainsAny(s, "/\\")
}

// CreateProject seeds code/<newSessionId>/ from base/<sessionTemplateId>/.
func CreateProject(w http.ResponseWriter, r *http.Request) {
	var req createProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	sessionID := req.sessionID()
	template := req.template()
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "Bad request")
		return
	}
	if !validName(sessionID) || !validName(template) {
		writeError(w, http.StatusBadRequest, "Invalid session or template id")
		return
	}
	if Mirror == nil {
		writeError(w, http.StatusInternalServerError, "Failed to create project")
		return
	}

	if database.DB != nil {
		if _, err := database.BeginProject(sessionID, template); err != nil {
			logging.Warn("project ledger unavailable", zap.String("session", sessionID), zap.Error(err))
		}
	}

	// Trailing slashes keep base/python from matching base/python2.
	src := mirror.TemplatePrefix(template) + "/"
	dst := mirror.SessionPrefix(sessionID) + "/"
	// A client that hangs up must not leave a half-copied session behind.
	copyErr := Mirror.CopyPrefix(context.WithoutCancel(r.Context()), src, dst)

	if database.DB != nil {
		if err := database.FinishProject(sessionID, copyErr); err != nil {
			logging.Warn("project ledger update failed", zap.String("session", sessionID), zap.Error(err))
		}
	}

	if copyErr != nil {
		logging.Error("project creation failed",
			zap.String("session", sessionID), zap.String("template", template), zap.Error(copyErr))
		writeError(w, http.StatusInternalServerError, "Failed to create project")
		return
	}

	logging.Info("project created", zap.String("session", sessionID), zap.String("template", template))
	writeJSON(w, http.StatusCreated, map[string]string{"message": "Project created successfully"})
}

// GetProject returns the ledger entry for a session.
func GetProject(w http.ResponseWriter, r *http.Request) {
	if database.DB == nil {
		writeError(w, http.StatusServiceUnavailable, "Project ledger disabled")
		return
	}
	p, err := database.GetProject(chi.URLParam(r, "id"))
	if errors.Is(err, database.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Project not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load project")
		return
	}
	writeJSON(w, http.StatusOK, p)
}
