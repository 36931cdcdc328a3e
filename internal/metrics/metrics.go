// Package metrics exposes Prometheus instrumentation for the bridge.
//
// Init registers every collector once; the Observe/Inc helpers are no-ops
// until then so packages can call them from tests without setup.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	metricPrefix = "smarthome_"

	// ResultSuccess labels a successful operation.
	ResultSuccess = "success"
	// ResultError labels a failed operation.
	ResultError = "error"
	// ResultInvalid labels a rejected request.
	ResultInvalid = "invalid"
)

// Sources reports values sampled at scrape time.
type Sources struct {
	CachedDevices  func() int
	ControlDevices func() int
	WSClients      func() int
}

var (
	registerOnce sync.Once

	ingestRequests *prometheus.CounterVec
	ingestLatency  *prometheus.HistogramVec
	readingsTotal  *prometheus.CounterVec

	controlSets  *prometheus.CounterVec
	controlPolls *prometheus.CounterVec

	remoteRequests *prometheus.CounterVec
	remoteLatency  *prometheus.HistogramVec

	httpRequests *prometheus.CounterVec
	httpLatency  *prometheus.HistogramVec

	mqttMessages *prometheus.CounterVec
)

// Init registers the collectors with the default registry.
func Init(src Sources) {
	registerOnce.Do(func() {
		ingestRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_requests_total",
				Help: "Total telemetry ingests by result",
			},
			[]string{"result"},
		)
		ingestLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "ingest_latency_seconds",
				Help:    "Telemetry ingest latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)
		readingsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "readings_total",
				Help: "Total readings persisted by measure",
			},
			[]string{"measure"},
		)

		controlSets = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "control_sets_total",
				Help: "Total control updates by result",
			},
			[]string{"result"},
		)
		controlPolls = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "control_polls_total",
				Help: "Total control polls by whether the device had commands",
			},
			[]string{"queued"},
		)

		remoteRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "remote_requests_total",
				Help: "Total remote API calls by endpoint and result",
			},
			[]string{"endpoint", "result"},
		)
		remoteLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "remote_latency_seconds",
				Help:    "Remote API call latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"endpoint"},
		)

		httpRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "http_requests_total",
				Help: "Total HTTP requests by route, method and status",
			},
			[]string{"route", "method", "status"},
		)
		httpLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route"},
		)

		mqttMessages = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "mqtt_messages_total",
				Help: "Total MQTT messages by direction and result",
			},
			[]string{"direction", "result"},
		)

		prometheus.MustRegister(
			ingestRequests,
			ingestLatency,
			readingsTotal,
			controlSets,
			controlPolls,
			remoteRequests,
			remoteLatency,
			httpRequests,
			httpLatency,
			mqttMessages,
		)

		registerGauges(src)
	})
}

func registerGauges(src Sources) {
	gauge := func(name, help string, fn func() int) {
		if fn == nil {
			return
		}
		prometheus.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Name: metricPrefix + name, Help: help},
			func() float64 { return float64(fn()) },
		))
	}

	gauge("cached_devices", "Devices held in the registry cache", src.CachedDevices)
	gauge("control_devices", "Devices with queued control state", src.ControlDevices)
	gauge("websocket_clients", "Connected websocket clients", src.WSClients)
}

// Handler serves the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveIngest records ingest duration and result.
func ObserveIngest(result string, duration time.Duration) {
	if result == "" {
		result = ResultSuccess
	}
	if ingestRequests != nil {
		ingestRequests.WithLabelValues(result).Inc()
	}
	if ingestLatency != nil {
		ingestLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// AddReadings counts persisted readings of one measure.
func AddReadings(measure string, n int) {
	if readingsTotal != nil && n > 0 {
		readingsTotal.WithLabelValues(measure).Add(float64(n))
	}
}

// IncControlSet counts a control update.
func IncControlSet(result string) {
	if result == "" {
		result = ResultSuccess
	}
	if controlSets != nil {
		controlSets.WithLabelValues(result).Inc()
	}
}

// IncControlPoll counts a device poll.
func IncControlPoll(queued bool) {
	if controlPolls != nil {
		controlPolls.WithLabelValues(strconv.FormatBool(queued)).Inc()
	}
}

// ObserveRemote records a remote API call.
func ObserveRemote(endpoint, result string, duration time.Duration) {
	if endpoint == "" {
		endpoint = "unknown"
	}
	if remoteRequests != nil {
		remoteRequests.WithLabelValues(endpoint, result).Inc()
	}
	if remoteLatency != nil {
		remoteLatency.WithLabelValues(endpoint).Observe(duration.Seconds())
	}
}

// ObserveHTTP records a served HTTP request.
func ObserveHTTP(route, method string, status int, duration time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	if httpRequests != nil {
		httpRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	}
	if httpLatency != nil {
		httpLatency.WithLabelValues(route).Observe(duration.Seconds())
	}
}

// IncMQTT counts an MQTT message; direction is "in" or "out".
func IncMQTT(direction, result string) {
	if mqttMessages != nil {
		mqttMessages.WithLabelValues(direction, result).Inc()
	}
}
