package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/opencode-ai/agentcore/internal/session"
	"github.com/opencode-ai/agentcore/internal/storage"
	"github.com/opencode-ai/agentcore/pkg/types"
)

// CreateSessionRequest represents the request body for creating a session.
type CreateSessionRequest struct {
	Directory string  `json:"directory,omitempty"`
	Title     string  `json:"title,omitempty"`
	Model     string  `json:"model,omitempty"`
	ParentID  *string `json:"parentID,omitempty"`
}

// UpdateSessionRequest is the body of PATCH /session/{sessionID}.
type UpdateSessionRequest struct {
	Title    *string `json:"title,omitempty"`
	Archived *bool   `json:"archived,omitempty"`
}

// ForkSessionRequest is the body of POST /session/{sessionID}/fork. An empty
// messageID copies the whole history.
type ForkSessionRequest struct {
	MessageID string `json:"messageID,omitempty"`
}

// CompactSessionRequest is the body of POST /session/{sessionID}/compact.
type CompactSessionRequest struct {
	Model string `json:"model,omitempty"`
	Keep  int    `json:"keep,omitempty"`
}

// SessionStatus is the body of GET /session/{sessionID}/status.
type SessionStatus struct {
	State   session.LoopState `json:"state"`
	Running bool              `json:"running"`
}

// listSessions handles GET /session
func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := storage.ListOptions{
		IncludeArchived: q.Get("archived") == "true",
		RootsOnly:       q.Get("roots") == "true",
	}
	// Only filter by project when a directory was asked for explicitly.
	if dir := q.Get("directory"); dir != "" {
		opts.ProjectID = session.ProjectID(dir)
	}

	sessions, err := s.sessions.List(r.Context(), opts)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	// Ensure we return an empty array [] instead of null
	if sessions == nil {
		sessions = []*types.Session{}
	}

	writeJSON(w, http.StatusOK, sessions)
}

// createSession handles POST /session
func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "Invalid JSON body")
		return
	}

	directory := req.Directory
	if directory == "" {
		directory = getDirectory(r.Context())
	}

	sess, err := s.sessions.Create(r.Context(), session.CreateInput{
		Directory: directory,
		Title:     req.Title,
		Model:     req.Model,
		ParentID:  req.ParentID,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, sess)
}

// getSession handles GET /session/{sessionID}
func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Get(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, sess)
}

// updateSession handles PATCH /session/{sessionID}
func (s *Server) updateSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var req UpdateSessionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "Invalid JSON body")
		return
	}
	if req.Title == nil && req.Archived == nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "nothing to update")
		return
	}

	var (
		sess *types.Session
		err  error
	)
	if req.Title != nil {
		if *req.Title == "" {
			writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "title must not be empty")
			return
		}
		if sess, err = s.sessions.SetTitle(r.Context(), sessionID, *req.Title); err != nil {
			writeServiceError(w, err)
			return
		}
	}
	if req.Archived != nil {
		if sess, err = s.sessions.SetArchived(r.Context(), sessionID, *req.Archived); err != nil {
			writeServiceError(w, err)
			return
		}
	}

	writeJSON(w, http.StatusOK, sess)
}

// deleteSession handles DELETE /session/{sessionID}
func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Delete(r.Context(), chi.URLParam(r, "sessionID")); err != nil {
		writeServiceError(w, err)
		return
	}

	writeSuccess(w)
}

// getChildren handles GET /session/{sessionID}/children
func (s *Server) getChildren(w http.ResponseWriter, r *http.Request) {
	children, err := s.sessions.Children(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if children == nil {
		children = []*types.Session{}
	}

	writeJSON(w, http.StatusOK, children)
}

// forkSession handles POST /session/{sessionID}/fork
func (s *Server) forkSession(w http.ResponseWriter, r *http.Request) {
	var req ForkSessionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "Invalid JSON body")
		return
	}

	fork, err := s.sessions.Fork(r.Context(), chi.URLParam(r, "sessionID"), req.MessageID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, fork)
}

// abortSession handles POST /session/{sessionID}/abort
func (s *Server) abortSession(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Abort(chi.URLParam(r, "sessionID")); err != nil {
		writeServiceError(w, err)
		return
	}

	writeSuccess(w)
}

// compactSession handles POST /session/{sessionID}/compact
func (s *Server) compactSession(w http.ResponseWriter, r *http.Request) {
	var req CompactSessionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "Invalid JSON body")
		return
	}

	summary, err := s.sessions.Compact(r.Context(), session.CompactInput{
		SessionID: chi.URLParam(r, "sessionID"),
		Model:     req.Model,
		Keep:      req.Keep,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

// getSessionStatus handles GET /session/{sessionID}/status
func (s *Server) getSessionStatus(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if _, err := s.sessions.Get(r.Context(), sessionID); err != nil {
		writeServiceError(w, err)
		return
	}

	status := SessionStatus{State: session.StateIdle}
	if p := s.sessions.Processor(); p != nil {
		status.State = p.State(sessionID)
		status.Running = p.IsRunning(sessionID)
	}

	writeJSON(w, http.StatusOK, status)
}

// getUsage handles GET /session/{sessionID}/usage
func (s *Server) getUsage(w http.ResponseWriter, r *http.Request) {
	usage, err := s.sessions.Usage(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, usage)
}

// setSessionPermission handles PUT /session/{sessionID}/permission. The body
// is the full list of session-scoped rules.
func (s *Server) setSessionPermission(w http.ResponseWriter, r *http.Request) {
	var rules []types.PermissionRule
	if err := decodeBody(r, &rules); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "Invalid JSON body")
		return
	}

	sess, err := s.sessions.SetPermission(r.Context(), chi.URLParam(r, "sessionID"), rules)
	if err != nil {
		if _, getErr := s.sessions.Get(r.Context(), chi.URLParam(r, "sessionID")); getErr != nil {
			writeServiceError(w, getErr)
			return
		}
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, sess)
}
