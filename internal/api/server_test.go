package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/smarthome-bridge/internal/control"
	"github.com/nerrad567/smarthome-bridge/internal/device"
	"github.com/nerrad567/smarthome-bridge/internal/infrastructure/config"
	"github.com/nerrad567/smarthome-bridge/internal/infrastructure/database"
	"github.com/nerrad567/smarthome-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/smarthome-bridge/internal/remote"
	"github.com/nerrad567/smarthome-bridge/internal/telemetry"
	_ "github.com/nerrad567/smarthome-bridge/migrations"
)

type testEnv struct {
	srv      *Server
	router   http.Handler
	registry *device.Registry
	service  *telemetry.Service
	controls *control.Queue
}

var testWS = config.WebSocketConfig{MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10}

func setupTestDB(t *testing.T) *database.DB {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(ctx, database.Config{
		Path:        filepath.Join(t.TempDir(), "api.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup
	require.NoError(t, db.Migrate(ctx))
	return db
}

// newTestEnv builds a server over a real SQLite registry and store.
// Options may adjust the dependencies before the server is created.
func newTestEnv(t *testing.T, opts ...func(*Deps)) *testEnv {
	t.Helper()

	db := setupTestDB(t)
	registry := device.NewRegistry(device.NewSQLiteRepository(db), device.DefaultProvisioning())
	require.NoError(t, registry.RefreshCache(context.Background()))

	service := telemetry.NewService(registry, telemetry.NewSQLiteStore(db), nil,
		telemetry.Options{DefaultDevice: "esp32-1", FallbackLimit: 10})
	controls := control.NewQueue()

	deps := Deps{
		Config: config.APIConfig{
			Host: "127.0.0.1",
			CORS: config.CORSConfig{AllowedOrigins: []string{"http://localhost:3000"}},
		},
		WS:            testWS,
		DefaultDevice: "esp32-1",
		Logger:        logging.Discard(),
		Registry:      registry,
		Telemetry:     service,
		Controls:      controls,
		DB:            db,
		Version:       "test",
	}
	for _, opt := range opts {
		opt(&deps)
	}

	srv, err := New(deps)
	require.NoError(t, err)

	return &testEnv{
		srv:      srv,
		router:   srv.buildRouter(),
		registry: registry,
		service:  service,
		controls: controls,
	}
}

func (e *testEnv) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func assertErrorKind(t *testing.T, w *httptest.ResponseRecorder, status int, kind string) {
	t.Helper()
	assert.Equal(t, status, w.Code, w.Body.String())
	assert.Equal(t, kind, decode[ErrorResponse](t, w).Error)
}

// ─── Construction ──────────────────────────────────────────────────

func TestNew_RequiresDependencies(t *testing.T) {
	_, err := New(Deps{})
	assert.Error(t, err)

	_, err = New(Deps{Logger: logging.Discard()})
	assert.Error(t, err)
}

func TestServer_StartAndClose(t *testing.T) {
	env := newTestEnv(t)

	assert.Error(t, env.srv.HealthCheck(context.Background()), "not started")

	require.NoError(t, env.srv.Start(context.Background()))
	assert.NoError(t, env.srv.HealthCheck(context.Background()))
	assert.NoError(t, env.srv.Close())
}

func TestServer_CloseNotStarted(t *testing.T) {
	env := newTestEnv(t)
	assert.NoError(t, env.srv.Close())
}

// ─── Health and middleware ─────────────────────────────────────────

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	resp := decode[map[string]string](t, w)
	assert.Equal(t, "ok", resp["status"])
	assert.Equal(t, "test", resp["version"])
	assert.Equal(t, ModeLocal, resp["mode"])
}

func TestRequestID_Generated(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/health", "")
	_, err := uuid.Parse(w.Header().Get("X-Request-ID"))
	assert.NoError(t, err)
}

func TestRequestID_PreservesClient(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("X-Request-ID", "client-123")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	assert.Equal(t, "client-123", w.Header().Get("X-Request-ID"))
}

func TestCORS_Preflight(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/control", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORS_DisallowedOrigin(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("Origin", "http://evil.example")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestNotFound(t *testing.T) {
	env := newTestEnv(t)
	assertErrorKind(t, env.do(t, http.MethodGet, "/api/nonexistent", ""), http.StatusNotFound, ErrKindNotFound)
}

func TestBodyTooLarge(t *testing.T) {
	env := newTestEnv(t)

	big := `{"temp": 1, "pad": "` + strings.Repeat("x", maxRequestBodySize) + `"}`
	w := env.do(t, http.MethodPost, "/api", big)
	assertErrorKind(t, w, http.StatusRequestEntityTooLarge, ErrKindTooLarge)
}

func TestRecovery(t *testing.T) {
	env := newTestEnv(t)
	h := env.srv.recoveryMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assertErrorKind(t, w, http.StatusInternalServerError, ErrKindInternal)
}

func TestPrometheusEndpoint(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

// ─── Telemetry ─────────────────────────────────────────────────────

func TestIngest_Local(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api", `{"device":"esp32-1","temp":"21.5","motion":1,"led1":true}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.JSONEq(t, `{"status":"ingested","device":"esp32-1","metrics":{"temp":21.5,"motion":true}}`, w.Body.String())

	w = env.do(t, http.MethodGet, "/api/?device=esp32-1", "")
	require.Equal(t, http.StatusOK, w.Code)
	readings := decode[[]telemetry.Reading](t, w)
	assert.Len(t, readings, 2)

	w = env.do(t, http.MethodGet, "/api/temp", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode[map[string]any](t, w)
	assert.Equal(t, "esp32-1", body["device"])
	assert.Equal(t, 21.5, body["temp"])
	assert.NotNil(t, body["timestamp"])

	w = env.do(t, http.MethodGet, "/api/motion", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode[map[string]any](t, w)["motion"])

	assertErrorKind(t, env.do(t, http.MethodGet, "/api/hum", ""), http.StatusNotFound, ErrKindNoData)

	dev, err := env.registry.GetDevice(context.Background(), "esp32-1")
	require.NoError(t, err)
	require.NotNil(t, dev.State)
	assert.Equal(t, device.StateOn, *dev.State)
}

func TestIngest_DeviceFromQuery(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/?device=esp32-9", `{"hum":40}`)
	require.Equal(t, http.StatusCreated, w.Code)

	w = env.do(t, http.MethodGet, "/api/devices/esp32-9", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "esp32-9", decode[device.Device](t, w).Name)
}

func TestIngest_Invalid(t *testing.T) {
	env := newTestEnv(t)

	assertErrorKind(t, env.do(t, http.MethodPost, "/api", `{"temp":"hot"}`), http.StatusBadRequest, ErrKindInvalidPayload)
	assertErrorKind(t, env.do(t, http.MethodPost, "/api", `[1,2]`), http.StatusBadRequest, ErrKindInvalidPayload)
	assertErrorKind(t, env.do(t, http.MethodPost, "/api", `not json`), http.StatusBadRequest, ErrKindInvalidJSON)

	w := env.do(t, http.MethodGet, "/api/devices", "")
	assert.JSONEq(t, `[]`, w.Body.String(), "nothing persisted")
}

func TestListReadings(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())

	assertErrorKind(t, env.do(t, http.MethodGet, "/api?limit=ten", ""), http.StatusBadRequest, ErrKindInvalidPayload)

	for i := 0; i < 3; i++ {
		env.do(t, http.MethodPost, "/api", `{"temp":20}`)
	}
	w = env.do(t, http.MethodGet, "/api?limit=2", "")
	assert.Len(t, decode[[]telemetry.Reading](t, w), 2)
}

func TestLatest(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/telemetry/latest?device=ghost", "")
	require.Equal(t, http.StatusOK, w.Code)
	latest := decode[telemetry.Latest](t, w)
	assert.Equal(t, "ghost", latest.Device)
	assert.Nil(t, latest.Timestamp)
	assert.Equal(t, telemetry.NoDataMessage, latest.Message)

	env.do(t, http.MethodPost, "/api", `{"temp":19,"hum":55,"door_open":true}`)
	w = env.do(t, http.MethodGet, "/api/telemetry/latest", "")
	latest = decode[telemetry.Latest](t, w)
	assert.Equal(t, "esp32-1", latest.Device)
	require.NotNil(t, latest.Metrics.Hum)
	assert.Equal(t, 55.0, *latest.Metrics.Hum)
	require.NotNil(t, latest.DoorOpen)
	assert.True(t, *latest.DoorOpen)
}

// ─── Control ───────────────────────────────────────────────────────

func TestControl_NeverCommandedIsEmptyArray(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/control?device=esp32-1", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "[]\n", w.Body.String())
}

func TestControl_SetThenPoll(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/control", `{"device":"esp32-1","led1":true,"door_angle":90,"bogus":1}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	state := decode[control.State](t, w)
	assert.Equal(t, "esp32-1", state.Device)
	assert.Len(t, state.Controls, 4)
	assert.False(t, state.UpdatedAt.IsZero())

	w = env.do(t, http.MethodGet, "/api/control?device=esp32-1", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[
		{"control":"led1","value":true},
		{"control":"led2","value":false},
		{"control":"door_open","value":false},
		{"control":"door_angle","value":90}
	]`, w.Body.String())

	// Firmware scans the raw body instead of parsing it.
	body := w.Body.String()
	i := strings.Index(body, `"control":"led1"`)
	require.GreaterOrEqual(t, i, 0)
	j := strings.Index(body[i:], `"value":`)
	require.GreaterOrEqual(t, j, 0)
	assert.True(t, strings.HasPrefix(body[i+j+len(`"value":`):], "true"))
}

func TestControl_Invalid(t *testing.T) {
	env := newTestEnv(t)

	assertErrorKind(t, env.do(t, http.MethodPost, "/api/control", `{"led1":"yes"}`), http.StatusBadRequest, ErrKindInvalidPayload)
	assertErrorKind(t, env.do(t, http.MethodPost, "/api/control", `{"device":5,"led1":true}`), http.StatusBadRequest, ErrKindInvalidPayload)
	assertErrorKind(t, env.do(t, http.MethodPost, "/api/control", `[1,2]`), http.StatusBadRequest, ErrKindInvalidJSON)
	assertErrorKind(t, env.do(t, http.MethodPost, "/api/control", `{`), http.StatusBadRequest, ErrKindInvalidJSON)

	// Names that would break the device's MQTT topics.
	assertErrorKind(t, env.do(t, http.MethodPost, "/api/control", `{"device":"kitchen/esp32","led1":true}`), http.StatusBadRequest, ErrKindInvalidPayload)
	assertErrorKind(t, env.do(t, http.MethodPost, "/api/control?device=esp32%2B", `{"led1":true}`), http.StatusBadRequest, ErrKindInvalidPayload)
	assertErrorKind(t, env.do(t, http.MethodPost, "/api", `{"device":"esp32/#","temp":1}`), http.StatusBadRequest, ErrKindInvalidPayload)

	assert.Empty(t, env.controls.Devices())
}

type fakePublisher struct {
	mu     sync.Mutex
	states []control.State
}

func (f *fakePublisher) PublishControls(s control.State) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states = append(f.states, s)
	return nil
}

func TestControl_Publishes(t *testing.T) {
	pub := &fakePublisher{}
	env := newTestEnv(t, func(d *Deps) { d.Publisher = pub })

	w := env.do(t, http.MethodPost, "/api/control?device=esp32-2", `{"led2":true}`)
	require.Equal(t, http.StatusOK, w.Code)

	require.Len(t, pub.states, 1)
	assert.Equal(t, "esp32-2", pub.states[0].Device)
	assert.Equal(t, true, pub.states[0].Controls[1].Value)
}

// ─── Registry endpoints ────────────────────────────────────────────

func TestDevicesAndHomes(t *testing.T) {
	env := newTestEnv(t)

	assert.JSONEq(t, `[]`, env.do(t, http.MethodGet, "/api/devices", "").Body.String())
	assert.JSONEq(t, `[]`, env.do(t, http.MethodGet, "/api/homes", "").Body.String())
	assertErrorKind(t, env.do(t, http.MethodGet, "/api/devices/missing", ""), http.StatusNotFound, ErrKindNotFound)

	env.do(t, http.MethodPost, "/api", `{"device":"a","temp":1}`)
	env.do(t, http.MethodPost, "/api", `{"device":"b","temp":2}`)

	devices := decode[[]device.Device](t, env.do(t, http.MethodGet, "/api/devices", ""))
	require.Len(t, devices, 2)
	assert.Equal(t, "a", devices[0].Name)
	assert.Equal(t, devices[0].HomeID, devices[1].HomeID)

	homes := decode[[]device.Home](t, env.do(t, http.MethodGet, "/api/homes", ""))
	require.Len(t, homes, 1)
	assert.Equal(t, "Demo Home", homes[0].Name)
}

func TestRegisterDevice(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/devices", `{"name":"door-1","type":"ACTUATOR","pin":13,"model":"SG90"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	dev := decode[device.Device](t, w)
	assert.Equal(t, "door-1", dev.Name)
	assert.Equal(t, device.TypeActuator, dev.Type)
	require.NotNil(t, dev.State)
	assert.Equal(t, device.StateOff, *dev.State)

	w = env.do(t, http.MethodPost, "/api/devices", `{"name":"lamp","state":"on"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	lamp := decode[device.Device](t, w)
	assert.Equal(t, device.TypeHybrid, lamp.Type)
	assert.Equal(t, device.StateOn, *lamp.State)

	got := decode[device.Device](t, env.do(t, http.MethodGet, "/api/devices/door-1", ""))
	assert.Equal(t, dev.ID, got.ID)
	assert.Equal(t, 2, env.registry.GetDeviceCount())

	assertErrorKind(t, env.do(t, http.MethodPost, "/api/devices", `{"name":"door-1"}`), http.StatusConflict, ErrKindConflict)
	assertErrorKind(t, env.do(t, http.MethodPost, "/api/devices", `{"name":"a/b"}`), http.StatusBadRequest, ErrKindInvalidPayload)
	assertErrorKind(t, env.do(t, http.MethodPost, "/api/devices", `{"name":"x","type":"ROBOT"}`), http.StatusBadRequest, ErrKindInvalidPayload)
	assertErrorKind(t, env.do(t, http.MethodPost, "/api/devices", `{"name":"x","state":"melted"}`), http.StatusBadRequest, ErrKindInvalidPayload)
	assertErrorKind(t, env.do(t, http.MethodPost, "/api/devices", `{"name":"x","pin":-1}`), http.StatusBadRequest, ErrKindInvalidPayload)
	assertErrorKind(t, env.do(t, http.MethodPost, "/api/devices", `[1]`), http.StatusBadRequest, ErrKindInvalidJSON)

	assert.Len(t, decode[[]device.Device](t, env.do(t, http.MethodGet, "/api/devices", "")), 2)
}

func TestCreateHome(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/homes", `{"name":"  Casa  ","timezone":"Europe/Madrid","address":"Calle Mayor 1"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	home := decode[device.Home](t, w)
	assert.NotZero(t, home.ID)
	assert.Equal(t, "Casa", home.Name)
	assert.Equal(t, "Europe/Madrid", home.Timezone)
	require.NotNil(t, home.Address)
	assert.Equal(t, "Calle Mayor 1", *home.Address)
	assert.Nil(t, home.Description)

	w = env.do(t, http.MethodPost, "/api/homes", `{}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	defaults := decode[device.Home](t, w)
	assert.Equal(t, device.DefaultHomeName, defaults.Name)
	assert.Equal(t, device.DefaultHomeTimezone, defaults.Timezone)

	assertErrorKind(t, env.do(t, http.MethodPost, "/api/homes", `{"timezone":"Mars/Olympus"}`), http.StatusBadRequest, ErrKindInvalidPayload)
	assertErrorKind(t, env.do(t, http.MethodPost, "/api/homes", `{"name":5}`), http.StatusBadRequest, ErrKindInvalidJSON)

	homes := decode[[]device.Home](t, env.do(t, http.MethodGet, "/api/homes", ""))
	require.Len(t, homes, 2)
	assert.Equal(t, "Casa", homes[0].Name)

	// Telemetry from new devices lands in the first home.
	env.do(t, http.MethodPost, "/api", `{"temp":20}`)
	sum := decode[telemetry.Summary](t, env.do(t, http.MethodGet, "/api/metrics/summary", ""))
	require.NotNil(t, sum.Home)
	assert.Equal(t, "Casa", sum.Home.Name)
	assert.Equal(t, 2, sum.Counts.Homes)
}

func TestSummary(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/metrics/summary", "")
	require.Equal(t, http.StatusOK, w.Code)
	empty := decode[telemetry.Summary](t, w)
	assert.Nil(t, empty.Home)
	assert.Nil(t, empty.Last)

	env.do(t, http.MethodPost, "/api", `{"temp":20,"hum":40}`)

	sum := decode[telemetry.Summary](t, env.do(t, http.MethodGet, "/api/metrics/summary", ""))
	require.NotNil(t, sum.Home)
	assert.Equal(t, telemetry.Counts{Homes: 1, Devices: 1, Readings: 2}, sum.Counts)
	require.NotNil(t, sum.Last)
}

func TestSystem(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodPost, "/api", `{"temp":20}`)
	env.do(t, http.MethodPost, "/api/control", `{"led1":true}`)

	w := env.do(t, http.MethodGet, "/api/system", "")
	require.Equal(t, http.StatusOK, w.Code)
	sys := decode[SystemStatus](t, w)
	assert.Equal(t, ModeLocal, sys.Mode)
	assert.Equal(t, DeviceMetrics{Registered: 1, Cached: 1, Commanded: 1}, sys.Devices)
	assert.False(t, sys.Links[LinkMQTT].Enabled)
	assert.False(t, sys.Links[LinkRemote].Enabled)

	db := sys.Links[LinkDatabase]
	assert.True(t, db.Enabled)
	require.NotNil(t, db.Connected)
	assert.True(t, *db.Connected)
}

// ─── Remote mode ───────────────────────────────────────────────────

type upstreamCall struct {
	method string
	path   string
	query  map[string][]string
	key    string
	body   string
}

type upstream struct {
	mu    sync.Mutex
	calls []upstreamCall
}

func (u *upstream) last() upstreamCall {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.calls[len(u.calls)-1]
}

// newRemoteEnv starts a fake upstream answering with routes[path] and a
// server proxying to it.
func newRemoteEnv(t *testing.T, routes map[string]func(w http.ResponseWriter)) (*testEnv, *upstream) {
	t.Helper()
	up := &upstream{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		up.mu.Lock()
		up.calls = append(up.calls, upstreamCall{
			method: r.Method,
			path:   r.URL.Path,
			query:  r.URL.Query(),
			key:    r.Header.Get(remote.APIKeyHeader),
			body:   string(b),
		})
		up.mu.Unlock()

		if fn, ok := routes[r.URL.Path]; ok {
			fn(w)
			return
		}
		http.NotFound(w, r)
	}))
	t.Cleanup(ts.Close)

	client, err := remote.New(remote.Config{BaseURL: ts.URL, APIToken: "k", Timeout: time.Second})
	require.NoError(t, err)

	return newTestEnv(t, func(d *Deps) { d.Remote = client }), up
}

func answer(status int, body string) func(w http.ResponseWriter) {
	return func(w http.ResponseWriter) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}
}

func TestRemote_ListReadingsProxied(t *testing.T) {
	env, up := newRemoteEnv(t, map[string]func(http.ResponseWriter){
		"/api": answer(http.StatusOK, `[{"device":"esp32-1","measure":"TEMPERATURE","value":21}]`),
	})

	w := env.do(t, http.MethodGet, "/api?limit=5&device=esp32-1&junk=1", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[{"device":"esp32-1","measure":"TEMPERATURE","value":21}]`, w.Body.String())

	call := up.last()
	assert.Equal(t, http.MethodGet, call.method)
	assert.Equal(t, "k", call.key)
	assert.Equal(t, map[string][]string{"limit": {"5"}, "device": {"esp32-1"}}, call.query)

	assert.Equal(t, ModeRemote, decode[map[string]string](t, env.do(t, http.MethodGet, "/api/health", ""))["mode"])
}

func TestRemote_IngestAndControlProxied(t *testing.T) {
	env, up := newRemoteEnv(t, map[string]func(http.ResponseWriter){
		"/api":         answer(http.StatusCreated, `{"status":"ingested"}`),
		"/api/control": answer(http.StatusOK, `{"device":"esp32-1"}`),
	})

	w := env.do(t, http.MethodPost, "/api", `{"temp":21}`)
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.JSONEq(t, `{"temp":21}`, up.last().body)

	w = env.do(t, http.MethodPost, "/api/control", `{"led1":true}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "/api/control", up.last().path)
	assert.JSONEq(t, `{"led1":true}`, up.last().body)

	assert.Empty(t, env.controls.Devices(), "local queue untouched")
	assert.JSONEq(t, `[]`, env.do(t, http.MethodGet, "/api/devices", "").Body.String(), "nothing ingested locally")
}

func TestRemote_ErrorPassThrough(t *testing.T) {
	env, _ := newRemoteEnv(t, map[string]func(http.ResponseWriter){
		"/api/control": answer(http.StatusInternalServerError, `{"error":"boom"}`),
		"/api/temp":    answer(http.StatusServiceUnavailable, `{"error":"warming up"}`),
		"/api/hum":     answer(http.StatusInternalServerError, `<html>upstream crashed</html>`),
		"/api":         answer(http.StatusOK, `<html>oops</html>`),
	})

	w := env.do(t, http.MethodGet, "/api/control?device=esp32-1", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"error":"boom"}`, w.Body.String())

	w = env.do(t, http.MethodGet, "/api/temp", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.JSONEq(t, `{"error":"warming up"}`, w.Body.String())

	assertErrorKind(t, env.do(t, http.MethodGet, "/api", ""), http.StatusOK, remote.KindInvalidJSON)

	// Sensor endpoints keep the upstream status for non-JSON answers too.
	assertErrorKind(t, env.do(t, http.MethodGet, "/api/hum", ""), http.StatusInternalServerError, remote.KindInvalidJSON)
}

func TestRemote_SensorsNormalised(t *testing.T) {
	env, _ := newRemoteEnv(t, map[string]func(http.ResponseWriter){
		"/api/temp":   answer(http.StatusOK, `{"device":"esp32-1","sensor":"temp","value":22.5,"ts":1,"time":"2026-10-15T09:00:00Z"}`),
		"/api/hum":    answer(http.StatusOK, `{"device":"esp32-1","sensor":"hum","value":null}`),
		"/api/motion": answer(http.StatusOK, `{"device":"esp32-1","sensor":"motion","value":0,"time":"2026-10-15T09:00:02Z"}`),
	})

	w := env.do(t, http.MethodGet, "/api/temp", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"device":"esp32-1","temp":22.5,"timestamp":"2026-10-15T09:00:00Z"}`, w.Body.String())

	w = env.do(t, http.MethodGet, "/api/motion", "")
	assert.JSONEq(t, `{"device":"esp32-1","motion":false,"timestamp":"2026-10-15T09:00:02Z"}`, w.Body.String())

	assertErrorKind(t, env.do(t, http.MethodGet, "/api/hum", ""), http.StatusNotFound, remote.KindNoData)

	w = env.do(t, http.MethodGet, "/api/telemetry/latest", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{
		"device":"esp32-1",
		"metrics":{"temp":22.5,"motion":false},
		"timestamp":"2026-10-15T09:00:00Z",
		"missing":{"hum":"no_data"}
	}`, w.Body.String())
}

func TestRemote_Unreachable(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	base := ts.URL
	ts.Close()

	client, err := remote.New(remote.Config{BaseURL: base, Timeout: 500 * time.Millisecond})
	require.NoError(t, err)
	env := newTestEnv(t, func(d *Deps) { d.Remote = client })

	w := env.do(t, http.MethodGet, "/api/control", "")
	assertErrorKind(t, w, http.StatusBadGateway, remote.KindUnreachable)
	assert.NotEmpty(t, decode[ErrorResponse](t, w).Detail)

	assertErrorKind(t, env.do(t, http.MethodGet, "/api/temp", ""), http.StatusBadGateway, remote.KindUnreachable)

	// Registry endpoints never leave the process.
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/api/devices", "").Code)
}

// ─── WebSocket ─────────────────────────────────────────────────────

func newHubClient(hub *Hub, device string, channels ...string) *wsClient {
	c := newWSClient(hub, nil)
	c.subscribe(channels, device)
	hub.add(c)
	return c
}

func receive(t *testing.T, c *wsClient) WSMessage {
	t.Helper()
	select {
	case data := <-c.send:
		var msg WSMessage
		require.NoError(t, json.Unmarshal(data, &msg))
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for websocket message")
		return WSMessage{}
	}
}

func assertNothingQueued(t *testing.T, c *wsClient) {
	t.Helper()
	select {
	case data := <-c.send:
		t.Errorf("unexpected message %s", data)
	default:
	}
}

func TestHub_BroadcastToSubscribed(t *testing.T) {
	hub := NewHub(testWS, logging.Discard())
	client := newHubClient(hub, "", EventControlUpdated)

	hub.Broadcast(EventControlUpdated, "esp32-1", map[string]any{"device": "esp32-1"})

	msg := receive(t, client)
	assert.Equal(t, WSTypeEvent, msg.Type)
	assert.Equal(t, EventControlUpdated, msg.Channel)
	assert.Equal(t, "esp32-1", msg.Device)
	assert.NotEmpty(t, msg.Time)
}

func TestHub_NoMessageForUnsubscribed(t *testing.T) {
	hub := NewHub(testWS, logging.Discard())
	client := newHubClient(hub, "", EventTelemetryIngested)

	hub.Broadcast(EventControlUpdated, "esp32-1", nil)
	assertNothingQueued(t, client)
}

func TestHub_DeviceFilter(t *testing.T) {
	hub := NewHub(testWS, logging.Discard())
	kitchen := newHubClient(hub, "esp32-2", EventTelemetryIngested)
	all := newHubClient(hub, "", EventTelemetryIngested)

	hub.Broadcast(EventTelemetryIngested, "esp32-1", nil)
	assertNothingQueued(t, kitchen)
	assert.Equal(t, "esp32-1", receive(t, all).Device)

	hub.Broadcast(EventTelemetryIngested, "esp32-2", nil)
	assert.Equal(t, "esp32-2", receive(t, kitchen).Device)
	assert.Equal(t, "esp32-2", receive(t, all).Device)
}

func TestHub_FullQueueDropsEvents(t *testing.T) {
	hub := NewHub(testWS, logging.Discard())
	client := newHubClient(hub, "", EventControlUpdated)

	for i := 0; i < wsSendBufferSize+10; i++ {
		hub.Broadcast(EventControlUpdated, "esp32-1", nil)
	}
	assert.Len(t, client.send, wsSendBufferSize)
}

func TestHub_RemoveAndRun(t *testing.T) {
	hub := NewHub(testWS, logging.Discard())
	assert.Equal(t, 0, hub.ClientCount())

	first := newHubClient(hub, "")
	second := newHubClient(hub, "")
	assert.Equal(t, 2, hub.ClientCount())

	hub.remove(first)
	hub.remove(first) // second call must not close twice
	assert.Equal(t, 1, hub.ClientCount())

	// Replies to a departed client are discarded.
	hub.reply(first, []byte(`{}`))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()
	cancel()
	<-done

	assert.Equal(t, 0, hub.ClientCount())
	_, open := <-second.send
	assert.False(t, open)
}

func dialWS(t *testing.T, ts *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/ws" + query
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	// A pong proves the client is registered before events are produced.
	require.NoError(t, conn.WriteJSON(map[string]string{"type": WSTypePing, "id": "ping"}))
	var msg WSMessage
	require.NoError(t, conn.ReadJSON(&msg))
	require.Equal(t, WSTypePong, msg.Type)
	require.Equal(t, "ping", msg.ID)
	return conn
}

func postJSON(t *testing.T, ts *httptest.Server, path, body string) {
	t.Helper()
	r, err := http.Post(ts.URL+path, "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	r.Body.Close()
}

func TestWebSocket_Events(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.router)
	t.Cleanup(ts.Close)

	conn := dialWS(t, ts, "?channels="+EventTelemetryIngested)

	require.NoError(t, conn.WriteJSON(map[string]any{
		"type":    WSTypeSubscribe,
		"id":      "2",
		"payload": WSSubscribePayload{Channels: []string{EventTelemetryIngested, EventControlUpdated}},
	}))
	var msg WSMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, WSTypeResponse, msg.Type)
	assert.Equal(t, "2", msg.ID)

	postJSON(t, ts, "/api", `{"device":"esp32-1","temp":23}`)
	msg = WSMessage{}
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, EventTelemetryIngested, msg.Channel)
	assert.Equal(t, "esp32-1", msg.Device)
	assert.Equal(t, "esp32-1", msg.Payload.(map[string]any)["device"])

	postJSON(t, ts, "/api/control", `{"led1":true}`)
	msg = WSMessage{}
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, EventControlUpdated, msg.Channel)
	assert.Equal(t, "esp32-1", msg.Device)

	assert.Equal(t, 1, env.srv.Hub().ClientCount())
}

func TestWebSocket_DeviceQuery(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.router)
	t.Cleanup(ts.Close)

	conn := dialWS(t, ts, "?channels="+EventTelemetryIngested+"&device=esp32-2")

	postJSON(t, ts, "/api", `{"device":"esp32-1","temp":23}`)
	postJSON(t, ts, "/api", `{"device":"esp32-2","temp":19}`)

	var msg WSMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "esp32-2", msg.Device)
}

func TestWebSocket_BadMessages(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.router)
	t.Cleanup(ts.Close)

	conn := dialWS(t, ts, "")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	var msg WSMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, WSTypeError, msg.Type)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": WSTypeSubscribe, "id": "3"}))
	msg = WSMessage{}
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, WSTypeError, msg.Type)
	assert.Equal(t, "3", msg.ID)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "shout", "id": "4"}))
	msg = WSMessage{}
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, WSTypeError, msg.Type)
	assert.Contains(t, msg.Payload.(map[string]any)["message"], "shout")
}
