package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/smarthome-bridge/internal/control"
	"github.com/nerrad567/smarthome-bridge/internal/metrics"
)

// handleGetControl returns the desired control list of a device as a bare
// JSON array, or [] if the device was never commanded. Firmware scans this
// body for `"control":"<name>"` followed by `"value":`, so the shape and
// compact encoding must not change.
func (s *Server) handleGetControl(w http.ResponseWriter, r *http.Request) {
	if s.remote != nil {
		s.proxy(w, r, http.MethodGet, "/api/control", forwardQuery(r, "device"), nil)
		return
	}

	entries := s.controls.Get(s.queryDevice(r))
	metrics.IncControlPoll(len(entries) > 0)
	writeJSON(w, http.StatusOK, entries)
}

// handleSetControl merges a control update and returns the full state.
//
// Body: {"device": "esp32-1", "led1": true, "door_angle": 90, ...}.
// The device may also be given as a query parameter; unknown keys are ignored.
func (s *Server) handleSetControl(w http.ResponseWriter, r *http.Request) {
	body, ok := readJSONBody(w, r)
	if !ok {
		return
	}

	if s.remote != nil {
		s.proxy(w, r, http.MethodPost, "/api/control", nil, body)
		return
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil || payload == nil {
		writeBadRequest(w, ErrKindInvalidJSON, "body must be a JSON object")
		return
	}

	device := s.queryDevice(r)
	if raw, ok := payload["device"]; ok && raw != nil {
		name, isString := raw.(string)
		if !isString || name == "" {
			writeBadRequest(w, ErrKindInvalidPayload, "device must be a non-empty string")
			return
		}
		device = name
	}

	state, err := s.controls.Set(device, payload)
	if err != nil {
		metrics.IncControlSet(metrics.ResultInvalid)
		if errors.Is(err, control.ErrInvalidValue) || errors.Is(err, control.ErrInvalidDevice) {
			writeBadRequest(w, ErrKindInvalidPayload, err.Error())
			return
		}
		writeInternalError(w, "failed to update controls")
		return
	}
	metrics.IncControlSet(metrics.ResultSuccess)

	if s.publisher != nil {
		if err := s.publisher.PublishControls(state); err != nil {
			// Polling still delivers the state.
			s.logger.Warn("publishing controls failed", "device", device, "error", err)
		}
	}
	s.hub.Broadcast(EventControlUpdated, state.Device, state)

	s.logger.Debug("controls updated", "device", device)
	writeJSON(w, http.StatusOK, state)
}
