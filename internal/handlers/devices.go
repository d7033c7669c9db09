package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/gluk-w/devsync/internal/credentials"
	"github.com/gluk-w/devsync/internal/database"
	"github.com/gluk-w/devsync/internal/logging"
	"github.com/gluk-w/devsync/internal/pool"
	"github.com/gluk-w/devsync/internal/session"
)

type deviceResponse struct {
	database.Device
	Pool pool.PoolStatus `json:"pool"`
}

func toDeviceResponse(d database.Device) deviceResponse {
	return deviceResponse{Device: d, Pool: Engine.Status(d.Hostname)}
}

type deviceCreateRequest struct {
	Hostname      string `json:"hostname"`
	DeviceType    string `json:"device_type"`
	Port          int    `json:"port"`
	Username      string `json:"username"`
	Password      string `json:"password"`
	Secret        string `json:"secret"`
	CredentialRef string `json:"credential_ref"`
}

func ListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := Devices.ListAll(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list devices")
		return
	}

	resp := make([]deviceResponse, 0, len(devices))
	for _, d := range devices {
		resp = append(resp, toDeviceResponse(d))
	}
	writeJSON(w, http.StatusOK, resp)
}

// CreateDevice registers a device and opens its session before answering.
func CreateDevice(w http.ResponseWriter, r *http.Request) {
	var body deviceCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(body.Hostname) == "" {
		writeError(w, http.StatusBadRequest, "hostname is required")
		return
	}
	if strings.TrimSpace(body.DeviceType) == "" {
		writeError(w, http.StatusBadRequest, "device_type is required")
		return
	}
	if body.Port < 0 || body.Port > 65535 {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid port %d", body.Port))
		return
	}
	if err := credentials.ValidateRef(body.CredentialRef); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	dev, err := Engine.AddOrUpdate(r.Context(), session.DeviceSpec{
		Hostname:   body.Hostname,
		DeviceType: body.DeviceType,
		Port:       body.Port,
		Credentials: session.Credentials{
			Username: body.Username,
			Password: body.Password,
			Secret:   body.Secret,
		},
		CredentialRef: body.CredentialRef,
	})
	if err != nil {
		log.Warn().Err(err).Str("hostname", logging.Sanitize(body.Hostname)).Msg("Add device failed")
		writeDeviceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toDeviceResponse(*dev))
}

func GetDeviceStatus(w http.ResponseWriter, r *http.Request) {
	hostname := session.NormalizeHostname(chi.URLParam(r, "hostname"))
	dev, err := Devices.FindByHostname(r.Context(), hostname)
	if errors.Is(err, database.ErrDeviceNotFound) {
		writeError(w, http.StatusNotFound, "Device not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load device")
		return
	}
	writeJSON(w, http.StatusOK, toDeviceResponse(*dev))
}

// GetDeviceEvents returns the recorded connection events for a hostname,
// including events recorded before the device was removed.
func GetDeviceEvents(w http.ResponseWriter, r *http.Request) {
	hostname := session.NormalizeHostname(chi.URLParam(r, "hostname"))
	events := Engine.Events(hostname)
	if events == nil {
		events = []pool.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"hostname": hostname,
		"events":   events,
	})
}

func DeleteDevice(w http.ResponseWriter, r *http.Request) {
	hostname := session.NormalizeHostname(chi.URLParam(r, "hostname"))
	if err := Engine.Remove(r.Context(), hostname); err != nil {
		log.Error().Err(err).Str("hostname", logging.Sanitize(hostname)).Msg("Remove device failed")
		writeError(w, http.StatusInternalServerError, "Failed to remove device")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"message": fmt.Sprintf("Device %s removed", hostname),
	})
}
