package api

import (
	"encoding/json"
	"net/http"
)

// errorResponse — тело ответа с ошибкой.
type errorResponse struct {
	Error string `json:"error"`
}

// writeJSON сериализует v в тело ответа.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError пишет ошибку в стандартном формате.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}
