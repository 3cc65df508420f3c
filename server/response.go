package server

import (
	"encoding/json"
	"net/http"

	"github.com/poiesic/docqa/core"
)

type errorResponse struct {
	Error string    `json:"error"`
	Kind  core.Kind `json:"kind,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string, kind core.Kind) {
	writeJSON(w, status, errorResponse{Error: message, Kind: kind})
}
