package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/iudanet/gophsync/pkg/api"
)

// sendError отвечает api.ErrorResponse с текстом статуса
func sendError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(api.ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
	})
}
