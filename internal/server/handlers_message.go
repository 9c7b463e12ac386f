package server

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/opencode-ai/agentcore/internal/session"
	"github.com/opencode-ai/agentcore/internal/storage"
	"github.com/opencode-ai/agentcore/pkg/types"
)

// TextPartInput represents a text part in the SDK format.
type TextPartInput struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// SendMessageRequest represents the request to send a message.
// Supports both a plain "text" field and the SDK "parts" array.
type SendMessageRequest struct {
	Text  string              `json:"text,omitempty"`
	Parts []TextPartInput     `json:"parts,omitempty"`
	Files []session.FileInput `json:"files,omitempty"`
	Agent string              `json:"agent,omitempty"`
	Model string              `json:"model,omitempty"`
}

// GetText returns the message text from either Text or Parts.
func (r *SendMessageRequest) GetText() string {
	if r.Text != "" {
		return r.Text
	}
	var texts []string
	for _, part := range r.Parts {
		if part.Type == "text" && part.Text != "" {
			texts = append(texts, part.Text)
		}
	}
	return strings.Join(texts, "\n")
}

// sendMessage handles POST /session/{sessionID}/message
//
// The request runs the loop to completion and answers with the assistant
// message. Progress is published on /event while it runs. A run that ends in
// an error still answers 200; the error is recorded on the message.
func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var req SendMessageRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "Invalid JSON body")
		return
	}

	if _, err := s.sessions.Get(r.Context(), sessionID); err != nil {
		writeServiceError(w, err)
		return
	}

	res, err := s.sessions.Run(r.Context(), session.RunInput{
		SessionID: sessionID,
		Text:      req.GetText(),
		Files:     req.Files,
		Agent:     req.Agent,
		Model:     req.Model,
	})
	if res == nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, res)
}

// getMessages handles GET /session/{sessionID}/message
func (s *Server) getMessages(w http.ResponseWriter, r *http.Request) {
	messages, err := s.sessions.Messages(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if messages == nil {
		messages = []*types.MessageWithParts{}
	}

	writeJSON(w, http.StatusOK, messages)
}

// getMessage handles GET /session/{sessionID}/message/{messageID}
func (s *Server) getMessage(w http.ResponseWriter, r *http.Request) {
	messageID := chi.URLParam(r, "messageID")

	messages, err := s.sessions.Messages(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	for _, m := range messages {
		if m.Info.ID == messageID {
			writeJSON(w, http.StatusOK, m)
			return
		}
	}

	writeServiceError(w, storage.ErrNotFound)
}
