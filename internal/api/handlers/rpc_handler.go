package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"

	"hookbridge/internal/api/middleware"
	"hookbridge/internal/control"
	"hookbridge/internal/platform/store"
)

const (
	codeParseError     = -32700
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternalError  = -32603
	codeRateLimited    = -32000
)

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	} `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

// RPCHandler serves the control plane: tool calls over POST and the
// notification stream over GET.
type RPCHandler struct {
	plane   *control.Plane
	limiter *middleware.RateLimiter
}

func NewRPCHandler(plane *control.Plane, limiter *middleware.RateLimiter) *RPCHandler {
	return &RPCHandler{plane: plane, limiter: limiter}
}

func writeRPC(w http.ResponseWriter, status int, resp rpcResponse) {
	resp.JSONRPC = "2.0"
	if len(resp.ID) == 0 {
		resp.ID = json.RawMessage("null")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

// Call handles POST /mcp.
func (h *RPCHandler) Call(w http.ResponseWriter, r *http.Request) {
	if !h.limiter.Allow(middleware.ClientIP(r)) {
		writeRPC(w, http.StatusTooManyRequests, rpcResponse{
			Error: &rpcError{Code: codeRateLimited, Message: "rate limit exceeded"},
		})
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 10<<20))
	if err != nil || len(body) == 0 {
		writeRPC(w, http.StatusOK, rpcResponse{
			Error: &rpcError{Code: codeParseError, Message: "parse error"},
		})
		return
	}

	var req rpcRequest
	if err := json.Unmarshal(body, &req); err != nil {
		// The id is unrecoverable from a malformed envelope.
		writeRPC(w, http.StatusOK, rpcResponse{
			Error: &rpcError{Code: codeParseError, Message: "parse error"},
		})
		return
	}

	if req.Method != "tools/call" {
		writeRPC(w, http.StatusOK, rpcResponse{
			ID:    req.ID,
			Error: &rpcError{Code: codeMethodNotFound, Message: "method not found: " + req.Method},
		})
		return
	}

	result, err := h.plane.CallTool(req.Params.Name, req.Params.Arguments)
	if err != nil {
		writeRPC(w, http.StatusOK, rpcResponse{ID: req.ID, Error: toolError(err)})
		return
	}

	writeRPC(w, http.StatusOK, rpcResponse{ID: req.ID, Result: result})
}

func toolError(err error) *rpcError {
	switch {
	case errors.Is(err, control.ErrUnknownTool):
		return &rpcError{Code: codeMethodNotFound, Message: err.Error()}
	case errors.Is(err, control.ErrBadArgs):
		return &rpcError{Code: codeInvalidParams, Message: err.Error()}
	case errors.Is(err, store.ErrNotFound):
		return &rpcError{Code: codeInvalidParams, Message: err.Error()}
	default:
		log.Error().Err(err).Msg("tool call failed")
		return &rpcError{Code: codeInternalError, Message: err.Error()}
	}
}

// flushWriter pushes every notification frame to the client as soon as
// it is written.
type flushWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func (fw flushWriter) Write(p []byte) (int, error) {
	n, err := fw.w.Write(p)
	if err == nil {
		fw.flusher.Flush()
	}
	return n, err
}

// Stream handles GET /mcp: a server-sent-events notification channel
// held open until the client disconnects.
func (h *RPCHandler) Stream(w http.ResponseWriter, r *http.Request) {
	if !h.limiter.Allow(middleware.ClientIP(r)) {
		w.Header().Set("Retry-After", "60")
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	fw := flushWriter{w: w, flusher: flusher}
	if _, err := io.WriteString(fw, ": connected\n\n"); err != nil {
		return
	}

	unregister := h.plane.Notifier().Register(fw)
	defer unregister()

	<-r.Context().Done()
}
