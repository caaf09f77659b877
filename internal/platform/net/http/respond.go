package http

import (
	"encoding/json"
	stdhttp "net/http"

	perr "snapvault/internal/platform/errors"
)

// Envelope is the standard response body for all control endpoints
type Envelope struct {
	StatusCode int            `json:"status_code"`
	Status     string         `json:"status"`
	Code       perr.ErrorCode `json:"code,omitempty"`
	Error      string         `json:"error,omitempty"`
	Data       any            `json:"data,omitempty"`
}

// JSON writes v as application/json with the given status
func JSON(w stdhttp.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// RespondOK writes a 200 envelope with data
func RespondOK(w stdhttp.ResponseWriter, data any) {
	JSON(w, stdhttp.StatusOK, Envelope{
		StatusCode: stdhttp.StatusOK,
		Status:     stdhttp.StatusText(stdhttp.StatusOK),
		Data:       data,
	})
}

// RespondAccepted writes a 202 envelope with data
func RespondAccepted(w stdhttp.ResponseWriter, data any) {
	JSON(w, stdhttp.StatusAccepted, Envelope{
		StatusCode: stdhttp.StatusAccepted,
		Status:     stdhttp.StatusText(stdhttp.StatusAccepted),
		Data:       data,
	})
}

// RespondError maps err through the perr taxonomy and writes the envelope
func RespondError(w stdhttp.ResponseWriter, err error) {
	status, wire := perr.HTTP(err)
	JSON(w, status, Envelope{
		StatusCode: status,
		Status:     stdhttp.StatusText(status),
		Code:       wire.Code,
		Error:      wire.Message,
	})
}
