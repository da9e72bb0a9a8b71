package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"mcpchat/internal/usecase"
)

type chatRequest struct {
	Message        string                     `json:"message"`
	SessionID      string                     `json:"sessionId"`
	UseMCP         bool                       `json:"useMcp"`
	MCPTools       []string                   `json:"mcpTools,omitempty"`
	ToolParameters map[string]json.RawMessage `json:"toolParameters,omitempty"`
}

type chatResponse struct {
	ID           string    `json:"id"`
	Message      string    `json:"message"`
	AIResponse   string    `json:"aiResponse"`
	Timestamp    time.Time `json:"timestamp"`
	SessionID    string    `json:"sessionId"`
	MCPToolsUsed []string  `json:"mcpToolsUsed,omitempty"`
	Success      bool      `json:"success"`
	Error        string    `json:"error,omitempty"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeBody(w, r, s.deps.Config.MaxBodyBytes, &req); err != nil {
		badRequest(w, err.Error())
		return
	}
	req.SessionID = strings.TrimSpace(req.SessionID)
	if req.SessionID == "" {
		badRequest(w, "sessionId is required")
		return
	}

	res, err := s.deps.Dispatcher.Dispatch(r.Context(), usecase.DispatchRequest{
		SessionID: req.SessionID,
		Message:   req.Message,
		Tools:     s.resolveTools(req),
		Params:    req.ToolParameters,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	resp := chatResponse{
		ID:           res.Reply.ID,
		Message:      res.UserMessage.Content,
		AIResponse:   res.Reply.Content,
		Timestamp:    res.Reply.Timestamp,
		SessionID:    req.SessionID,
		MCPToolsUsed: res.ToolsUsed,
		Success:      res.Success,
	}
	if !res.Success {
		resp.Error = usecase.ApologyText
	}
	writeJSON(w, http.StatusOK, resp)
}

// resolveTools picks the tools for a chat request: the explicit list when
// given, otherwise the session's server-side selection.
func (s *Server) resolveTools(req chatRequest) []string {
	if !req.UseMCP {
		return nil
	}
	if len(req.MCPTools) > 0 {
		return req.MCPTools
	}
	if s.deps.Selections == nil {
		return nil
	}
	return s.deps.Selections.For(req.SessionID).Resolve(s.deps.Registry)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionParam(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Sessions.History(id))
}

func (s *Server) handleRecent(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionParam(w, r)
	if !ok {
		return
	}
	limit := s.deps.RecentLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			badRequest(w, "limit must be a positive integer")
			return
		}
		limit = n
	}
	writeJSON(w, http.StatusOK, s.deps.Sessions.Recent(id, limit))
}

func (s *Server) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionParam(w, r)
	if !ok {
		return
	}
	s.deps.Sessions.Clear(id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionParam(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Sessions.Snapshot(id))
}

func (s *Server) handleHealth(service string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": service})
	}
}
