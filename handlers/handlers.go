package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"aggtree/aggregator"
	"aggtree/codec"
	"aggtree/logger"
	"aggtree/models"
	"aggtree/node"
	"aggtree/topology"
)

const maxBodyBytes = 1 << 16

// Handler contains the HTTP handlers for the aggregation API endpoints
type Handler struct {
	Service *aggregator.Service
	ready   atomic.Bool
}

// NewHandler creates and returns a new Handler instance
func NewHandler(s *aggregator.Service) *Handler {
	h := &Handler{Service: s}
	h.ready.Store(true)
	return h
}

// SetReady flips the readiness probe
func (h *Handler) SetReady(ready bool) {
	h.ready.Store(ready)
}

type nodeView struct {
	ID     models.NodeID  `json:"id"`
	Parent *models.NodeID `json:"parent"`
	Value  uint64         `json:"value"`
}

func viewOf(s *models.NodeState) nodeView {
	return nodeView{ID: s.ID, Parent: s.Parent, Value: s.Value}
}

type createNodeRequest struct {
	ID    string `json:"id"`
	Value string `json:"value"` // optional decimal seed
}

// CreateNode handles POST requests to create new nodes on this host
func (h *Handler) CreateNode(w http.ResponseWriter, r *http.Request) {
	var req createNodeRequest
	if err := decodeJSON(r, &req); err != nil {
		logger.Logger.Error("Failed to decode node", zap.Error(err))
		writeError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	seed, err := parseAmount(req.Value)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	state, err := h.Service.CreateNode(r.Context(), models.NodeID(req.ID), seed)
	if err != nil {
		logger.Logger.Error("Failed to create node", zap.Error(err))
		writeError(w, statusFor(err), err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"message": "Node created successfully",
		"node":    viewOf(state),
	})
}

// ListNodes handles GET requests for every hosted node
func (h *Handler) ListNodes(w http.ResponseWriter, r *http.Request) {
	states, err := h.Service.List(r.Context())
	if err != nil {
		logger.Logger.Error("Failed to list nodes", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	views := make([]nodeView, 0, len(states))
	for _, s := range states {
		views = append(views, viewOf(s))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"nodes": views})
}

// GetNode handles GET requests for one node's value and parent
func (h *Handler) GetNode(w http.ResponseWriter, r *http.Request) {
	state, err := h.Service.Get(r.Context(), nodeID(r))
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, viewOf(state))
}

// ConnectToParent handles POST {"parent": id}
func (h *Handler) ConnectToParent(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Parent string `json:"parent"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	op, err := BuildConnectToParent(req.Parent)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.apply(w, r, op, "Parent connected")
}

// Submit handles POST {"value": "<decimal>"}
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Value string `json:"value"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	op, err := BuildSubmit(req.Value)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.apply(w, r, op, "Value submitted")
}

// Flush handles POST requests draining a node into its parent
func (h *Handler) Flush(w http.ResponseWriter, r *http.Request) {
	h.apply(w, r, BuildFlush(), "Node flushed")
}

// ExecuteOperation handles a raw operation, as JSON or XDR
func (h *Handler) ExecuteOperation(w http.ResponseWriter, r *http.Request) {
	var op models.Operation
	if isXDR(r) {
		data, err := readBody(r)
		if err == nil {
			op, err = codec.DecodeOperation(data)
		}
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	} else if err := decodeJSON(r, &op); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	h.apply(w, r, op, "Operation applied")
}

func (h *Handler) apply(w http.ResponseWriter, r *http.Request, op models.Operation, message string) {
	id := nodeID(r)
	res, err := h.Service.Execute(r.Context(), id, op)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": message,
		"node":    viewOf(res.State),
		"sent":    res.Sent,
	})
}

// ReceiveMessage handles a message flushed by a child hosted elsewhere.
// Only XDR bodies, as sent by a peer relay, carry delivery metadata; a JSON
// body is merged as an unsequenced message.
func (h *Handler) ReceiveMessage(w http.ResponseWriter, r *http.Request) {
	var msg models.Message
	if isXDR(r) {
		data, err := readBody(r)
		if err == nil {
			msg, err = codec.DecodeMessage(data)
		}
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	} else {
		if err := decodeJSON(r, &msg); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request payload")
			return
		}
		msg.Epoch, msg.Seq = 0, 0
	}

	id := nodeID(r)
	if msg.To == "" {
		msg.To = id
	}
	if msg.To != id {
		writeError(w, http.StatusBadRequest, "message is addressed to "+string(msg.To))
		return
	}

	applied, err := h.Service.Deliver(r.Context(), msg)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{"applied": applied})
}

// ValidateTopology reports whether hosted parent links form a forest
func (h *Handler) ValidateTopology(w http.ResponseWriter, r *http.Request) {
	if err := h.Service.Validate(r.Context()); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "consistent"})
}

// Livez provides a simple health check to verify the server is running
func (h *Handler) Livez(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// Readyz reports whether the host accepts traffic
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	if !h.ready.Load() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// statusFor maps domain errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, aggregator.ErrInvalidID),
		errors.Is(err, node.ErrUnknownOperation),
		errors.Is(err, ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, aggregator.ErrNodeNotFound):
		return http.StatusNotFound
	case errors.Is(err, node.ErrInboundOverflow):
		return http.StatusInternalServerError
	case errors.Is(err, node.ErrOverflow):
		return http.StatusUnprocessableEntity
	case errors.Is(err, aggregator.ErrNodeExists),
		errors.Is(err, node.ErrNoParent),
		errors.Is(err, topology.ErrCycle):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func nodeID(r *http.Request) models.NodeID {
	return models.NodeID(mux.Vars(r)["id"])
}

func isXDR(r *http.Request) bool {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mt == codec.ContentType
}

func readBody(r *http.Request) ([]byte, error) {
	return io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
}

func decodeJSON(r *http.Request, v interface{}) error {
	return json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
