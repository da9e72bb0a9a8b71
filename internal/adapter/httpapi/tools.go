package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"mcpchat/internal/domain"
)

type executeResponse struct {
	Success bool `json:"success"`
	Result  any  `json:"result"`
}

func (s *Server) handleListTools(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Registry.List())
}

func (s *Server) handleGetTool(w http.ResponseWriter, r *http.Request) {
	desc, err := s.deps.Registry.Describe(r.PathValue("name"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, desc)
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(r.URL.Query().Get("toolName"))
	if name == "" {
		badRequest(w, "toolName is required")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.deps.Config.MaxBodyBytes))
	if err != nil {
		badRequest(w, "request body too large")
		return
	}
	if len(strings.TrimSpace(string(body))) > 0 && !json.Valid(body) {
		badRequest(w, "invalid JSON body")
		return
	}

	res, err := s.deps.Registry.Execute(r.Context(), name, body)
	if err != nil {
		s.deps.Logger.Debug("tool execute failed", "tool", name, "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, executeResponse{Success: !res.IsError, Result: resultValue(res)})
}

// resultValue embeds JSON tool output as-is and everything else as a string.
func resultValue(res *domain.ToolResult) any {
	trimmed := strings.TrimSpace(res.Content)
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		if json.Valid([]byte(trimmed)) {
			return json.RawMessage(trimmed)
		}
	}
	return res.Content
}

func (s *Server) handleGetSelection(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionParam(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Selections.For(id).Names())
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionParam(w, r)
	if !ok {
		return
	}
	name := r.PathValue("name")
	if _, err := s.deps.Registry.Get(name); err != nil {
		writeError(w, err)
		return
	}
	sel := s.deps.Selections.For(id)
	sel.Select(name)
	writeJSON(w, http.StatusOK, sel.Names())
}

func (s *Server) handleDeselect(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionParam(w, r)
	if !ok {
		return
	}
	sel := s.deps.Selections.For(id)
	sel.Deselect(r.PathValue("name"))
	writeJSON(w, http.StatusOK, sel.Names())
}

func (s *Server) handleClearSelection(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionParam(w, r)
	if !ok {
		return
	}
	sel := s.deps.Selections.For(id)
	sel.Clear()
	writeJSON(w, http.StatusOK, sel.Names())
}
