package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/pothole-detector/apiserver/internal/apperror"
	"github.com/sirupsen/logrus"
)

const maxJSONBodyBytes = 1 << 20

type contextKey string

const contextSubjectKey contextKey = "sub"

func withUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, contextSubjectKey, userID)
}

func userIDFromContext(ctx context.Context) (string, error) {
	subject, ok := ctx.Value(contextSubjectKey).(string)
	if !ok {
		return "", errors.New("missing subject")
	}
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "", errors.New("invalid subject")
	}
	return subject, nil
}

// ErrorResponse is the failure envelope.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

// writeError renders err in the failure envelope. Errors that are not an
// AppError become a 500 and are logged with their cause.
func writeError(w http.ResponseWriter, log logrus.FieldLogger, err error) {
	appErr := apperror.From(err)
	if appErr.HTTPStatus >= http.StatusInternalServerError && log != nil {
		log.WithError(err).WithField("code", appErr.Code).Error("request failed")
	}
	writeJSON(w, appErr.HTTPStatus, ErrorResponse{
		Success: false,
		Message: appErr.Message,
		Error:   string(appErr.Code),
	})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return apperror.Validation("Request body is required")
		}
		return apperror.Validation("Please enter correct body structure")
	}
	return nil
}

// Healthz reports liveness.
func Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "status": "ok"})
}

// NotFound renders unknown routes in the failure envelope.
func NotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, nil, apperror.New(apperror.CodeNotFound, "Route not found"))
}

// MethodNotAllowed renders unsupported methods in the failure envelope.
func MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusMethodNotAllowed, ErrorResponse{
		Success: false,
		Message: "Method not allowed",
		Error:   "METHOD_NOT_ALLOWED",
	})
}
