package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/autelis-bridge/internal/bridges/autelis"
)

// maxNodeIDLen bounds node identifiers taken from the URL.
const maxNodeIDLen = 64

// NodeResponse is the JSON view of a node.
type NodeResponse struct {
	autelis.Node
	State map[string]any `json:"state"`
}

func newNodeResponse(n autelis.Node) NodeResponse {
	return NodeResponse{Node: n, State: n.Value.Fields(n.Class)}
}

// handleListNodes returns every node the appliance has reported.
//
// Query parameters:
//   - class: filter by capability class (RELAY, PAIRED_RELAY, HEATER, TEMP_SENSOR)
func (s *Server) handleListNodes(w http.ResponseWriter, r *http.Request) {
	class := autelis.CapabilityClass(r.URL.Query().Get("class"))

	nodes := s.nodes.List()
	resp := make([]NodeResponse, 0, len(nodes))
	for _, n := range nodes {
		if class != "" && n.Class != class {
			continue
		}
		resp = append(resp, newNodeResponse(n))
	}
	sort.Slice(resp, func(i, j int) bool { return resp[i].ID < resp[j].ID })

	writeJSON(w, http.StatusOK, map[string]any{"nodes": resp, "count": len(resp)})
}

// handleGetNode returns one node.
func (s *Server) handleGetNode(w http.ResponseWriter, r *http.Request) {
	node, ok := s.lookupNode(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, newNodeResponse(node))
}

// lookupNode resolves the {id} URL parameter, writing the error response
// when the node is unknown.
func (s *Server) lookupNode(w http.ResponseWriter, r *http.Request) (autelis.Node, bool) {
	id := chi.URLParam(r, "id")
	if id == "" || len(id) > maxNodeIDLen {
		writeBadRequest(w, "invalid node ID")
		return autelis.Node{}, false
	}
	node, ok := s.nodes.Get(id)
	if !ok {
		writeNotFound(w, "node not found")
		return autelis.Node{}, false
	}
	return node, true
}

// CommandRequest is the body of POST /nodes/{id}/command.
type CommandRequest struct {
	Command string `json:"command"`
	Value   *int   `json:"value,omitempty"`

	// Wait holds the response until a poll confirms the command.
	Wait bool `json:"wait,omitempty"`
}

// CommandResponse reports a command's outcome.
type CommandResponse struct {
	NodeID    string `json:"node_id"`
	Status    string `json:"status"`
	Confirmed bool   `json:"confirmed"`
}

// handleNodeCommand validates a command and hands it to the engine.
//
// The response is 202 Accepted with the synchronous receipt. With
// "wait": true it is 200 once a poll confirms the command, or 504 when the
// command times out. Confirmed state also arrives over the WebSocket.
func (s *Server) handleNodeCommand(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" || len(id) > maxNodeIDLen {
		writeBadRequest(w, "invalid node ID")
		return
	}

	var req CommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Command == "" {
		writeBadRequest(w, "command field is required")
		return
	}

	receipt, err := s.commands.Execute(r.Context(), autelis.Command{
		NodeID: id,
		Verb:   req.Command,
		Value:  req.Value,
	})
	if err != nil {
		s.logger.Debug("command rejected", "node_id", id, "command", req.Command, "error", err)
		writeCommandError(w, err)
		return
	}

	resp := CommandResponse{
		NodeID:    id,
		Status:    string(receipt.Status),
		Confirmed: receipt.Status == autelis.ReceiptNoOp,
	}

	if !req.Wait || receipt.Command == nil || resp.Confirmed {
		code := http.StatusAccepted
		if resp.Confirmed {
			code = http.StatusOK
		}
		writeJSON(w, code, resp)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.commandWait)
	defer cancel()
	if err := receipt.Command.Wait(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		writeCommandError(w, err)
		return
	}
	resp.Status = "confirmed"
	resp.Confirmed = true
	writeJSON(w, http.StatusOK, resp)
}
