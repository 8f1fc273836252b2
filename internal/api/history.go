package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// handleNodeHistory returns recorded state changes for a node, newest first.
//
// Query parameters:
//   - limit: number of entries (default 50, max 200)
func (s *Server) handleNodeHistory(w http.ResponseWriter, r *http.Request) {
	id, limit, ok := s.historyParams(w, r)
	if !ok {
		return
	}

	entries, err := s.history.GetHistory(r.Context(), id, limit)
	if err != nil {
		s.logger.Error("failed to load node history", "node_id", id, "error", err)
		writeInternalError(w, "failed to load history")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"node_id": id,
		"history": entries,
		"count":   len(entries),
	})
}

// handleNodeCommands returns recorded command outcomes for a node, newest first.
func (s *Server) handleNodeCommands(w http.ResponseWriter, r *http.Request) {
	id, limit, ok := s.historyParams(w, r)
	if !ok {
		return
	}

	entries, err := s.history.GetCommands(r.Context(), id, limit)
	if err != nil {
		s.logger.Error("failed to load command log", "node_id", id, "error", err)
		writeInternalError(w, "failed to load command log")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"node_id":  id,
		"commands": entries,
		"count":    len(entries),
	})
}

// historyParams validates the node and limit shared by the history endpoints.
func (s *Server) historyParams(w http.ResponseWriter, r *http.Request) (string, int, bool) {
	if s.history == nil {
		writeUnavailable(w, "history storage is disabled")
		return "", 0, false
	}

	limit, err := parseHistoryLimit(r.URL.Query().Get("limit"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return "", 0, false
	}

	id := chi.URLParam(r, "id")
	if id == "" || len(id) > maxNodeIDLen {
		writeBadRequest(w, "invalid node ID")
		return "", 0, false
	}
	// Nodes are known once the appliance has reported them.
	if _, ok := s.nodes.Get(id); !ok {
		writeNotFound(w, "node not found")
		return "", 0, false
	}
	return id, limit, true
}

func parseHistoryLimit(raw string) (int, error) {
	if raw == "" {
		return defaultHistoryLimit, nil
	}

	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, fmt.Errorf("invalid limit")
	}
	if limit > maxHistoryLimit {
		return 0, fmt.Errorf("limit exceeds maximum")
	}
	return limit, nil
}
