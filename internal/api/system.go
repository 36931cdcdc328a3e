package api

import (
	"net/http"
	"time"
)

// Link names reported by GET /api/system.
const (
	LinkDatabase = "database"
	LinkMQTT     = "mqtt"
	LinkInfluxDB = "influxdb"
	LinkRemote   = "remote"
)

// SystemStatus is the response of GET /api/system.
type SystemStatus struct {
	Time          time.Time       `json:"time"`
	Version       string          `json:"version"`
	Mode          string          `json:"mode"`
	UptimeSeconds int64           `json:"uptime_seconds"`
	Links         map[string]Link `json:"links"`
	Devices       DeviceMetrics   `json:"devices"`
	WSClients     int             `json:"websocket_clients"`
}

// Link is the state of one outbound dependency. Connected is omitted for
// links without a health check, such as the remote upstream.
type Link struct {
	Enabled   bool   `json:"enabled"`
	Connected *bool  `json:"connected,omitempty"`
	Target    string `json:"target,omitempty"`
}

// DeviceMetrics counts devices in the registry and the in-memory state.
type DeviceMetrics struct {
	Registered int `json:"registered"`
	Cached     int `json:"cached"`
	Commanded  int `json:"commanded"`
}

func checkedLink(enabled, connected bool) Link {
	return Link{Enabled: enabled, Connected: &connected}
}

// handleSystem reports uptime, link state and device counts.
func (s *Server) handleSystem(w http.ResponseWriter, r *http.Request) {
	out := SystemStatus{
		Time:          time.Now().UTC(),
		Version:       s.version,
		Mode:          s.Mode(),
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Links: map[string]Link{
			LinkMQTT:     {},
			LinkInfluxDB: {},
			LinkRemote:   {},
		},
		Devices: DeviceMetrics{
			Registered: s.registry.GetDeviceCount(),
			Cached:     s.telemetry.Cache().Len(),
			Commanded:  len(s.controls.Devices()),
		},
		WSClients: s.hub.ClientCount(),
	}

	if s.db != nil {
		out.Links[LinkDatabase] = checkedLink(true, s.db.HealthCheck(r.Context()) == nil)
	}
	if s.mqtt != nil {
		out.Links[LinkMQTT] = checkedLink(true, s.mqtt.IsConnected())
	}
	if s.influx != nil {
		out.Links[LinkInfluxDB] = checkedLink(true, s.influx.IsConnected())
	}
	if s.remote != nil {
		out.Links[LinkRemote] = Link{Enabled: true, Target: s.remote.BaseURL()}
	}

	writeJSON(w, http.StatusOK, out)
}
