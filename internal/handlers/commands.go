package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/gluk-w/devsync/internal/database"
	"github.com/gluk-w/devsync/internal/logging"
	"github.com/gluk-w/devsync/internal/session"
)

// fanoutWorkers bounds concurrent commands in one fanout request.
const fanoutWorkers = 10

const showOnlyDetail = "Only supports show commands"

var showCommand = regexp.MustCompile(`^show\s`)

// commandAllowed reports whether cmd is a read-only show command.
func commandAllowed(cmd string) bool {
	return showCommand.MatchString(cmd)
}

type commandRequest struct {
	Hostname   string `json:"hostname"`
	Command    string `json:"command"`
	EnableMode bool   `json:"enable_mode"`
}

type commandResult struct {
	Hostname string  `json:"hostname"`
	Command  string  `json:"command"`
	Output   *string `json:"output,omitempty"`
	Error    string  `json:"error,omitempty"`
	Kind     string  `json:"kind,omitempty"`
}

func decodeCommandRequest(w http.ResponseWriter, r *http.Request) (commandRequest, bool) {
	var body commandRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return body, false
	}
	if strings.TrimSpace(body.Hostname) == "" {
		writeError(w, http.StatusBadRequest, "hostname is required")
		return body, false
	}
	if !commandAllowed(body.Command) {
		writeError(w, http.StatusBadRequest, showOnlyDetail)
		return body, false
	}
	return body, true
}

// ExecCommand runs a show command on one device, matched exactly.
func ExecCommand(w http.ResponseWriter, r *http.Request) {
	body, ok := decodeCommandRequest(w, r)
	if !ok {
		return
	}
	hostname := session.NormalizeHostname(body.Hostname)

	if _, err := Devices.FindByHostname(r.Context(), hostname); err != nil {
		if errors.Is(err, database.ErrDeviceNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"detail": "Device not found",
				"kind":   session.KindOf(session.ErrNotFound),
			})
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to load device")
		return
	}

	output, err := Engine.Exec(r.Context(), hostname, body.Command, body.EnableMode)
	if err != nil {
		if errors.Is(err, session.ErrNotConnected) {
			writeDeviceError(w, err)
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"detail": "Command execution error: " + err.Error(),
			"kind":   session.KindOf(err),
		})
		return
	}

	writeJSON(w, http.StatusOK, commandResult{
		Hostname: hostname,
		Command:  body.Command,
		Output:   &output,
	})
}

// FanoutCommand runs a show command on every registered device whose
// hostname contains the requested substring. Per-device failures are reported
// inline; the request itself succeeds.
func FanoutCommand(w http.ResponseWriter, r *http.Request) {
	body, ok := decodeCommandRequest(w, r)
	if !ok {
		return
	}

	devices, err := Devices.FindByHostnameContains(r.Context(), body.Hostname)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to search devices")
		return
	}
	if len(devices) == 0 {
		writeError(w, http.StatusNotFound, "No matching devices found")
		return
	}

	results := make([]commandResult, len(devices))
	var g errgroup.Group
	g.SetLimit(fanoutWorkers)
	for i, d := range devices {
		g.Go(func() error {
			res := commandResult{Hostname: d.Hostname, Command: body.Command}
			out, err := Engine.Exec(r.Context(), d.Hostname, body.Command, body.EnableMode)
			if err != nil {
				res.Error = "Command execution error: " + err.Error()
				res.Kind = session.KindOf(err)
			} else {
				res.Output = &out
			}
			results[i] = res
			return nil
		})
	}
	g.Wait()

	log.Debug().
		Str("pattern", logging.Sanitize(body.Hostname)).
		Int("devices", len(devices)).
		Msg("Fanout command completed")
	writeJSON(w, http.StatusOK, results)
}
