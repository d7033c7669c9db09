package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gluk-w/devsync/internal/database"
	"github.com/gluk-w/devsync/internal/pool"
	"github.com/gluk-w/devsync/internal/session"
)

// Set from main before the router starts serving.
var (
	Engine  *pool.Engine
	Devices *database.DeviceStore
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

// statusFor maps engine errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrValidation), errors.Is(err, session.ErrCredentials):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrAuthentication):
		return http.StatusUnauthorized
	case errors.Is(err, session.ErrUnreachable):
		return http.StatusGatewayTimeout
	case errors.Is(err, session.ErrNotFound), errors.Is(err, database.ErrDeviceNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrNotConnected):
		return http.StatusServiceUnavailable
	}
	var de *session.DeviceError
	if errors.As(err, &de) {
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// writeDeviceError writes err with its mapped status and kind.
func writeDeviceError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), map[string]string{
		"detail": err.Error(),
		"kind":   session.KindOf(err),
	})
}
