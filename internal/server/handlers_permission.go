package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/opencode-ai/agentcore/internal/permission"
)

// PermissionResponseRequest is the body of
// POST /session/{sessionID}/permissions/{permissionID}.
type PermissionResponseRequest struct {
	Response permission.Response `json:"response"`
}

// listPermissions handles GET /permission
func (s *Server) listPermissions(w http.ResponseWriter, r *http.Request) {
	pending := []permission.Request{}
	if s.approver != nil {
		sessionID := r.URL.Query().Get("sessionID")
		for _, req := range s.approver.Pending() {
			if sessionID == "" || req.SessionID == sessionID {
				pending = append(pending, req)
			}
		}
	}

	writeJSON(w, http.StatusOK, pending)
}

// respondPermission handles POST /session/{sessionID}/permissions/{permissionID}
func (s *Server) respondPermission(w http.ResponseWriter, r *http.Request) {
	if s.approver == nil {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "permission prompts are not served over HTTP")
		return
	}

	var req PermissionResponseRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "Invalid JSON body")
		return
	}

	err := s.approver.Respond(chi.URLParam(r, "sessionID"), chi.URLParam(r, "permissionID"), req.Response)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeSuccess(w)
}
