package admin

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"

	"github.com/marmos91/tcpros/internal/logger"
)

// response is the standard JSON envelope every admin endpoint returns,
// grounded on the teacher's control-plane API response wrapper.
type response struct {
	Status    string      `json:"status"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(data); err != nil {
		logger.Error("failed to encode admin response", "error", err)
		http.Error(w, `{"status":"error","error":"failed to encode response"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

func okResponse(data interface{}) response {
	return response{Status: "ok", Timestamp: time.Now().UTC(), Data: data}
}

func errResponse(status string, errMsg string) response {
	return response{Status: status, Timestamp: time.Now().UTC(), Error: errMsg}
}
