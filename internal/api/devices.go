package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/smarthome-bridge/internal/device"
)

// handleListDevices returns every registered device ordered by id.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.registry.ListDevices(r.Context())
	if err != nil {
		s.logger.Error("listing devices failed", "error", err)
		writeInternalError(w, "failed to list devices")
		return
	}
	if devices == nil {
		devices = []device.Device{}
	}
	writeJSON(w, http.StatusOK, devices)
}

// handleRegisterDevice creates a device from an explicit spec.
//
// Body: {"name": "door-1", "type": "ACTUATOR", "pin": 13, "model": "SG90", ...}.
// Type defaults to HYBRID and state to OFF. Answers 201 with the device,
// or 409 when the name is taken.
func (s *Server) handleRegisterDevice(w http.ResponseWriter, r *http.Request) {
	body, ok := readJSONBody(w, r)
	if !ok {
		return
	}

	var spec device.Spec
	if err := json.Unmarshal(body, &spec); err != nil {
		writeBadRequest(w, ErrKindInvalidJSON, "body must be a device object: "+err.Error())
		return
	}

	dev, err := s.registry.RegisterDevice(r.Context(), spec)
	if err != nil {
		switch {
		case errors.Is(err, device.ErrDeviceExists):
			writeError(w, http.StatusConflict, ErrKindConflict, "device already exists: "+spec.Name)
		case errors.Is(err, device.ErrInvalidName),
			errors.Is(err, device.ErrInvalidDeviceType),
			errors.Is(err, device.ErrInvalidState),
			errors.Is(err, device.ErrInvalidDevice):
			writeBadRequest(w, ErrKindInvalidPayload, err.Error())
		default:
			s.logger.Error("registering device failed", "device", spec.Name, "error", err)
			writeInternalError(w, "failed to register device")
		}
		return
	}
	writeJSON(w, http.StatusCreated, dev)
}

// handleGetDevice returns a single device by name.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	dev, err := s.registry.GetDevice(r.Context(), name)
	if err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "device not found: "+name)
			return
		}
		s.logger.Error("getting device failed", "device", name, "error", err)
		writeInternalError(w, "failed to get device")
		return
	}
	writeJSON(w, http.StatusOK, dev)
}

// handleListHomes returns every home.
func (s *Server) handleListHomes(w http.ResponseWriter, r *http.Request) {
	homes, err := s.registry.ListHomes(r.Context())
	if err != nil {
		s.logger.Error("listing homes failed", "error", err)
		writeInternalError(w, "failed to list homes")
		return
	}
	if homes == nil {
		homes = []device.Home{}
	}
	writeJSON(w, http.StatusOK, homes)
}

// handleCreateHome creates a home.
//
// Body: {"name": "Casa", "timezone": "Europe/Madrid", "description": "...", "address": "..."}.
// Every field is optional; answers 201 with the stored home.
func (s *Server) handleCreateHome(w http.ResponseWriter, r *http.Request) {
	body, ok := readJSONBody(w, r)
	if !ok {
		return
	}

	var spec device.HomeSpec
	if err := json.Unmarshal(body, &spec); err != nil {
		writeBadRequest(w, ErrKindInvalidJSON, "body must be a home object: "+err.Error())
		return
	}

	home, err := s.registry.CreateHome(r.Context(), spec)
	if err != nil {
		if errors.Is(err, device.ErrInvalidHome) {
			writeBadRequest(w, ErrKindInvalidPayload, err.Error())
			return
		}
		s.logger.Error("creating home failed", "error", err)
		writeInternalError(w, "failed to create home")
		return
	}
	writeJSON(w, http.StatusCreated, home)
}
