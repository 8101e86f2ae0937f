package web

// errors.go provides unified error response handling for the web layer.
//
// Every handler error goes through respondError, which:
//  1. Maps the error via core.MapError to a user-facing message and code
//  2. Picks the HTTP status from the code
//  3. Logs the technical error with the request ID for correlation
//  4. Writes JSON for API clients or an HTML alert fragment for HTMX

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/JonMunkholm/pagegen/internal/core"
	"github.com/JonMunkholm/pagegen/internal/logging"
	"github.com/JonMunkholm/pagegen/internal/web/templates"
)

// ErrorResponse is the JSON body of API error responses. Code is machine
// readable; Message and Action are for people.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
}

// statusByCode maps error codes to HTTP status. Unlisted codes are 500.
var statusByCode = map[string]int{
	"TPL001":  http.StatusNotFound,
	"INP001":  http.StatusBadRequest,
	"INP002":  http.StatusBadRequest,
	"FILE001": http.StatusRequestEntityTooLarge,
	"FILE002": http.StatusBadRequest,
	"FILE003": http.StatusBadRequest,
	"FILE004": http.StatusBadRequest,
	"JOB001":  http.StatusConflict,
	"JOB002":  http.StatusServiceUnavailable,
	"JOB003":  http.StatusNotFound,
	"JOB004":  http.StatusGatewayTimeout,
	"DB001":   http.StatusConflict,
	"DB002":   http.StatusServiceUnavailable,
	"DB003":   http.StatusNotFound,
	"RATE001": http.StatusTooManyRequests,
}

func statusFor(msg core.UserMessage) int {
	if status, ok := statusByCode[msg.Code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// respondError writes err as a user-friendly response.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	userMsg := core.MapError(err)
	status := statusFor(userMsg)

	logger := logging.FromContext(r.Context())
	attrs := []any{
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", err.Error(),
		"code", userMsg.Code,
	}
	if status >= 500 {
		logger.Error("request error", attrs...)
	} else {
		logger.Warn("request error", attrs...)
	}

	if errors.Is(err, core.ErrTooManyJobs) {
		w.Header().Set("Retry-After", strconv.Itoa(int(s.cfg.Generate.MaxWaitTime.Seconds())+1))
	}

	if isHTMX(r) {
		renderErrorPartial(w, r, userMsg, status)
		return
	}
	respondErrorJSON(w, userMsg, status)
}

func respondErrorJSON(w http.ResponseWriter, msg core.UserMessage, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   msg.Message,
		Message: msg.Message,
		Action:  msg.Action,
		Code:    msg.Code,
	})
}

// renderErrorPartial renders an HTMX-compatible error fragment.
func renderErrorPartial(w http.ResponseWriter, r *http.Request, msg core.UserMessage, status int) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := templates.ErrorAlert(msg).Render(r.Context(), w); err != nil {
		logging.FromContext(r.Context()).Error("render error alert", "error", err)
	}
}

// isHTMX checks if the request is an HTMX request.
func isHTMX(r *http.Request) bool {
	return r.Header.Get("HX-Request") == "true"
}

// acceptsHTML reports whether an HTMX client wants a fragment back.
func acceptsHTML(r *http.Request) bool {
	return isHTMX(r) && !strings.Contains(r.Header.Get("Accept"), "application/json")
}
