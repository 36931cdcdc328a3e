package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"

	"github.com/nerrad567/smarthome-bridge/internal/metrics"
)

// APIKeyHeader carries the shared secret to the upstream.
const APIKeyHeader = "X-API-Key"

// Sensors are the per-sensor endpoints, in fan-out order.
var Sensors = []string{"temp", "hum", "motion"}

// Config configures a Client.
type Config struct {
	BaseURL  string
	APIToken string
	Timeout  time.Duration
}

// Logger is the logging interface used by the Client.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// Client forwards dashboard requests to a remote telemetry API.
// Every call is a single attempt bounded by the configured timeout.
type Client struct {
	http   *resty.Client
	base   string
	logger Logger
}

// Response is an upstream answer whose body is valid JSON.
type Response struct {
	StatusCode int
	Body       []byte
}

// New creates a Client for cfg.BaseURL.
func New(cfg Config) (*Client, error) {
	u, err := url.Parse(cfg.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("remote: invalid base url %q", cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}

	base := strings.TrimRight(cfg.BaseURL, "/")
	rc := resty.New().
		SetBaseURL(base).
		SetTimeout(cfg.Timeout).
		SetRetryCount(0).
		SetHeader("Accept", "application/json")
	if cfg.APIToken != "" {
		rc.SetHeader(APIKeyHeader, cfg.APIToken)
	}

	return &Client{http: rc, base: base, logger: noopLogger{}}, nil
}

// SetLogger sets the logger for the client.
func (c *Client) SetLogger(logger Logger) {
	c.logger = logger
}

// BaseURL returns the upstream root.
func (c *Client) BaseURL() string {
	return c.base
}

// Forward sends one request upstream and returns its status and body.
//
// A transport failure or timeout yields ErrRemoteUnreachable. A body that is
// not JSON yields ErrInvalidJSON alongside a Response carrying the status.
// Non-2xx answers are not errors here; callers pass them through.
func (c *Client) Forward(ctx context.Context, method, path string, query url.Values, body []byte) (*Response, error) {
	if c == nil {
		return nil, ErrDisabled
	}

	start := time.Now()
	req := c.http.R().SetContext(ctx)
	if len(query) > 0 {
		req.SetQueryParamsFromValues(query)
	}
	if body != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(body)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		metrics.ObserveRemote(path, KindUnreachable, time.Since(start))
		c.logger.Warn("remote request failed", "method", method, "path", path, "error", err)
		return nil, fmt.Errorf("%w: %s %s: %w", ErrRemoteUnreachable, method, path, err)
	}

	out := &Response{StatusCode: resp.StatusCode(), Body: resp.Body()}
	if !gjson.ValidBytes(out.Body) {
		metrics.ObserveRemote(path, KindInvalidJSON, time.Since(start))
		return out, fmt.Errorf("%w: %s %s (status %d)", ErrInvalidJSON, method, path, out.StatusCode)
	}

	metrics.ObserveRemote(path, metrics.ResultSuccess, time.Since(start))
	c.logger.Debug("remote request", "method", method, "path", path, "status", out.StatusCode)
	return out, nil
}

// SensorValue is a normalised single-sensor answer.
type SensorValue struct {
	Device    string
	Sensor    string
	Value     any
	Timestamp any
}

// MarshalJSON renders {device, <sensor>: value, timestamp}.
func (v SensorValue) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{
		"device":    v.Device,
		v.Sensor:    v.Value,
		"timestamp": v.Timestamp,
	})
}

// Sensor fetches the latest value of one sensor ("temp", "hum" or "motion")
// and reshapes {device, sensor, value, time} into a SensorValue. Motion is
// coerced to a boolean. A non-200 answer is returned as *UpstreamError.
//
// The raw upstream Response is returned whenever one was received, including
// alongside ErrInvalidJSON, so callers can keep the upstream status.
func (c *Client) Sensor(ctx context.Context, sensor, device string) (*SensorValue, *Response, error) {
	var query url.Values
	if device != "" {
		query = url.Values{"device": {device}}
	}

	resp, err := c.Forward(ctx, http.MethodGet, "/api/"+sensor, query, nil)
	if err != nil {
		return nil, resp, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, resp, &UpstreamError{StatusCode: resp.StatusCode, Body: resp.Body}
	}

	root := gjson.ParseBytes(resp.Body)
	value := root.Get("value")
	if !value.Exists() || value.Type == gjson.Null {
		return nil, resp, fmt.Errorf("%w: %s", ErrNoData, sensor)
	}

	out := &SensorValue{
		Device: root.Get("device").String(),
		Sensor: sensor,
		Value:  value.Value(),
	}
	if out.Device == "" {
		out.Device = device
	}
	if sensor == "motion" {
		out.Value = value.Bool()
	}
	if ts := root.Get("time"); ts.Exists() {
		out.Timestamp = ts.Value()
	}
	return out, resp, nil
}

// LatestResult aggregates the sensor endpoints. Missing maps each failed
// sensor to its error kind.
type LatestResult struct {
	Device    string            `json:"device"`
	Metrics   map[string]any    `json:"metrics"`
	Timestamp any               `json:"timestamp"`
	Missing   map[string]string `json:"missing,omitempty"`
}

// Latest queries every sensor concurrently and merges the answers. The
// timestamp is taken from the first successful sensor in Sensors order.
func (c *Client) Latest(ctx context.Context, device string) LatestResult {
	type leg struct {
		val *SensorValue
		err error
	}
	legs := make([]leg, len(Sensors))

	var wg sync.WaitGroup
	for i, sensor := range Sensors {
		wg.Add(1)
		go func(i int, sensor string) {
			defer wg.Done()
			v, _, err := c.Sensor(ctx, sensor, device)
			legs[i] = leg{val: v, err: err}
		}(i, sensor)
	}
	wg.Wait()

	res := LatestResult{Device: device, Metrics: map[string]any{}}
	for i, sensor := range Sensors {
		l := legs[i]
		if l.err != nil {
			if res.Missing == nil {
				res.Missing = map[string]string{}
			}
			res.Missing[sensor] = Kind(l.err)
			continue
		}
		res.Metrics[sensor] = l.val.Value
		if res.Timestamp == nil {
			res.Timestamp = l.val.Timestamp
		}
	}
	return res
}
