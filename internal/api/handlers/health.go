package handlers

import (
	"encoding/json"
	"net/http"
	"time"
)

type HealthHandler struct {
	serverName string
}

func NewHealthHandler(serverName string) *HealthHandler {
	return &HealthHandler{serverName: serverName}
}

func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	response := struct {
		Status    string `json:"status"`
		Server    string `json:"server"`
		Timestamp string `json:"timestamp"`
	}{
		Status:    "ok",
		Server:    h.serverName,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}
