package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/nerrad567/smarthome-bridge/internal/remote"
	"github.com/nerrad567/smarthome-bridge/internal/telemetry"
)

// handleListReadings returns stored readings newest first.
// Query: device (optional), limit (optional).
func (s *Server) handleListReadings(w http.ResponseWriter, r *http.Request) {
	if s.remote != nil {
		s.proxy(w, r, http.MethodGet, "/api", forwardQuery(r, "limit", "device"), nil)
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeBadRequest(w, ErrKindInvalidPayload, "limit must be an integer")
			return
		}
		limit = n
	}

	readings, err := s.telemetry.Readings(r.Context(), r.URL.Query().Get("device"), limit)
	if err != nil {
		s.logger.Error("listing readings failed", "error", err)
		writeInternalError(w, "failed to list readings")
		return
	}
	if readings == nil {
		readings = []telemetry.Reading{}
	}

	writeJSON(w, http.StatusOK, readings)
}

// handleIngest accepts a device telemetry payload.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	body, ok := readJSONBody(w, r)
	if !ok {
		return
	}

	if s.remote != nil {
		s.proxy(w, r, http.MethodPost, "/api", nil, body)
		return
	}

	payload, err := telemetry.ParsePayload(body)
	if err != nil {
		writeBadRequest(w, ErrKindInvalidPayload, err.Error())
		return
	}
	if payload.Device == "" {
		payload.Device = r.URL.Query().Get("device")
	}

	result, err := s.telemetry.Ingest(r.Context(), payload)
	if err != nil {
		if errors.Is(err, telemetry.ErrInvalidPayload) {
			writeBadRequest(w, ErrKindInvalidPayload, err.Error())
			return
		}
		s.logger.Error("ingest failed", "device", payload.Device, "error", err)
		writeInternalError(w, "failed to ingest telemetry")
		return
	}

	writeJSON(w, http.StatusCreated, result)
}

// handleLatest returns the latest metrics of a device.
// Remote mode aggregates the per-sensor endpoints of the upstream.
func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	device := s.queryDevice(r)

	if s.remote != nil {
		writeJSON(w, http.StatusOK, s.remote.Latest(r.Context(), device))
		return
	}

	latest, err := s.telemetry.Latest(r.Context(), device)
	if err != nil {
		s.logger.Error("latest lookup failed", "device", device, "error", err)
		writeInternalError(w, "failed to load latest telemetry")
		return
	}
	writeJSON(w, http.StatusOK, latest)
}

// handleSensor returns the latest value of one sensor as
// {device, <sensor>: value, timestamp}.
func (s *Server) handleSensor(sensor string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.remote != nil {
			v, resp, err := s.remote.Sensor(r.Context(), sensor, r.URL.Query().Get("device"))
			if err != nil {
				s.writeRemoteError(w, resp, err)
				return
			}
			writeJSON(w, http.StatusOK, v)
			return
		}

		device := s.queryDevice(r)
		latest, err := s.telemetry.Latest(r.Context(), device)
		if err != nil {
			s.logger.Error("latest lookup failed", "device", device, "error", err)
			writeInternalError(w, "failed to load latest telemetry")
			return
		}

		value := metricValue(latest.Metrics, sensor)
		if value == nil {
			writeError(w, http.StatusNotFound, ErrKindNoData, sensor+" has no reading for "+device)
			return
		}

		out := remote.SensorValue{Device: device, Sensor: sensor, Value: value}
		if latest.Timestamp != nil {
			out.Timestamp = latest.Timestamp
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// handleSummary returns the dashboard overview.
func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.telemetry.Summary(r.Context())
	if err != nil {
		s.logger.Error("summary failed", "error", err)
		writeInternalError(w, "failed to build summary")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// queryDevice returns the device query parameter or the configured default.
func (s *Server) queryDevice(r *http.Request) string {
	if d := r.URL.Query().Get("device"); d != "" {
		return d
	}
	return s.defaultDevice
}

func metricValue(m telemetry.Metrics, sensor string) any {
	switch sensor {
	case "temp":
		if m.Temp != nil {
			return *m.Temp
		}
	case "hum":
		if m.Hum != nil {
			return *m.Hum
		}
	case "motion":
		if m.Motion != nil {
			return *m.Motion
		}
	}
	return nil
}
