package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/michael-freling/file-drive/internal/xerrors"
)

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, logger *slog.Logger, status int, data any) {
	// encode first so that a failure can still change the status
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(data); err != nil {
		logger.Error("failed to encode a response", "error", err)
		http.Error(w, `{"code":"Internal","message":"failed to encode a response"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

func statusOf(code string) int {
	switch code {
	case "NotFound":
		return http.StatusNotFound
	case "InvalidParent", "InvalidName", "InvalidArgument":
		return http.StatusBadRequest
	case "CycleError", "TransactionConflict":
		return http.StatusConflict
	case "StoreFull":
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusInternalServerError
}

func (server *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := xerrors.Code(err)
	status := statusOf(code)

	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		code, status = "StoreFull", http.StatusRequestEntityTooLarge
	}

	message := err.Error()
	if status == http.StatusInternalServerError {
		server.logger.ErrorContext(r.Context(), "request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
		// internal details stay in the log
		message = http.StatusText(status)
	}
	writeJSON(w, server.logger, status, errorResponse{
		Code:    code,
		Message: message,
	})
}

func (server *Server) badRequest(w http.ResponseWriter, message string) {
	writeJSON(w, server.logger, http.StatusBadRequest, errorResponse{
		Code:    "InvalidArgument",
		Message: message,
	})
}
