package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/agrilovers/internal/controller"
	"github.com/agrilovers/internal/gateway"
	"github.com/agrilovers/internal/logger"
)

const maxJSONBody = 1 << 20

type errorResponse struct {
	Error string                 `json:"error"`
	State *controller.ErrorState `json:"state,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Errorf("writeJSON encode: %v", err)
	}
}

// writeError отдаёт ошибку вместе с её ErrorState; код ответа выводится из класса ошибки.
func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), errorResponse{Error: err.Error(), State: controller.Present(err)})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeError(w, &gateway.ValidationError{Reason: msg})
}

func statusFor(err error) int {
	if errors.Is(err, gateway.ErrNotFound) || errors.Is(err, controller.ErrUnknownView) {
		return http.StatusNotFound
	}
	switch gateway.Classify(err) {
	case gateway.KindValidation:
		return http.StatusBadRequest
	case gateway.KindUnauthenticated:
		return http.StatusUnauthorized
	case gateway.KindAuthorization:
		return http.StatusForbidden
	case gateway.KindConflict:
		return http.StatusConflict
	case gateway.KindConfig:
		return http.StatusServiceUnavailable
	case gateway.KindTransient:
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// decodeJSON читает тело запроса; пустое тело допустимо и оставляет v как есть.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody)).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	badRequest(w, "invalid body")
	return false
}

func queryInt(r *http.Request, key string, defaultVal int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return n
}

func queryFloat(r *http.Request, key string) (float64, bool) {
	n, err := strconv.ParseFloat(r.URL.Query().Get(key), 64)
	return n, err == nil
}

func noContent(w http.ResponseWriter, err error) {
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
