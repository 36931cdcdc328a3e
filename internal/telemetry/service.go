package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/smarthome-bridge/internal/device"
	"github.com/nerrad567/smarthome-bridge/internal/metrics"
)

// Reading list bounds for Service.Readings.
const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

// StatusIngested is the status of a successful ingest.
const StatusIngested = "ingested"

// DeviceRegistry is the subset of device.Registry the service needs.
type DeviceRegistry interface {
	EnsureDevice(ctx context.Context, name string) (*device.Device, error)
	GetDevice(ctx context.Context, name string) (*device.Device, error)
	ObserveState(name string, state device.State)
	ListHomes(ctx context.Context) ([]device.Home, error)
	FirstHome(ctx context.Context) (*device.Home, error)
	ListDevices(ctx context.Context) ([]device.Device, error)
}

// Logger is the logging interface used by the Service.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Listener is notified after an ingest committed. It runs on the ingest
// path and must not block.
type Listener func(snap Snapshot, readings []Reading)

// Options configures a Service.
type Options struct {
	DefaultDevice string
	FallbackLimit int
}

// Service ingests telemetry and answers latest-value queries.
type Service struct {
	registry DeviceRegistry
	store    Store
	cache    *LatestCache

	defaultDevice string
	fallbackLimit int

	listeners []Listener
	logger    Logger
	now       func() time.Time
}

// NewService creates a telemetry service.
func NewService(registry DeviceRegistry, store Store, cache *LatestCache, opts Options) *Service {
	if cache == nil {
		cache = NewLatestCache()
	}
	if opts.FallbackLimit < 1 {
		opts.FallbackLimit = 10
	}
	return &Service{
		registry:      registry,
		store:         store,
		cache:         cache,
		defaultDevice: opts.DefaultDevice,
		fallbackLimit: opts.FallbackLimit,
		logger:        noopLogger{},
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// SetLogger sets the logger for the service.
func (s *Service) SetLogger(logger Logger) {
	s.logger = logger
}

// AddListener registers l for ingest notifications. Not safe to call once
// ingests are running.
func (s *Service) AddListener(l Listener) {
	s.listeners = append(s.listeners, l)
}

// Cache returns the latest-value cache.
func (s *Service) Cache() *LatestCache {
	return s.cache
}

// Ingest persists one payload: it provisions the device on first contact,
// writes a reading per sensor value and the derived state in a single
// transaction, then refreshes the cache and notifies listeners.
func (s *Service) Ingest(ctx context.Context, p Payload) (*IngestResult, error) {
	start := time.Now()
	res, err := s.ingest(ctx, p)

	result := metrics.ResultSuccess
	switch {
	case errors.Is(err, ErrInvalidPayload):
		result = metrics.ResultInvalid
	case err != nil:
		result = metrics.ResultError
	}
	metrics.ObserveIngest(result, time.Since(start))
	return res, err
}

func (s *Service) ingest(ctx context.Context, p Payload) (*IngestResult, error) {
	name := p.Device
	if name == "" {
		name = s.defaultDevice
	}

	dev, err := s.registry.EnsureDevice(ctx, name)
	if err != nil {
		if errors.Is(err, device.ErrInvalidName) {
			return nil, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
		}
		return nil, fmt.Errorf("ensuring device: %w", err)
	}

	at := s.now()
	readings := p.readings(dev, at)
	state := DeriveState(p)

	saved, err := s.store.Record(ctx, dev, readings, state, at)
	if err != nil {
		return nil, fmt.Errorf("recording telemetry for %q: %w", dev.Name, err)
	}
	for _, r := range saved {
		metrics.AddReadings(string(r.Measure), 1)
	}

	if state != nil {
		s.registry.ObserveState(dev.Name, *state)
	}

	snap := Snapshot{
		Device:    dev.Name,
		Timestamp: at,
		Metrics:   p.Metrics(),
		Motion:    p.Motion,
		DoorOpen:  p.DoorOpen,
		DoorAngle: p.DoorAngle,
		LED1:      p.LED1,
		LED2:      p.LED2,
		State:     state,
	}
	s.cache.Put(snap)

	for _, l := range s.listeners {
		l(snap, saved)
	}

	args := []any{"device", dev.Name, "readings", len(saved)}
	if state != nil {
		args = append(args, "state", string(*state))
	}
	s.logger.Debug("telemetry ingested", args...)

	return &IngestResult{
		Status:  StatusIngested,
		Device:  dev.Name,
		Metrics: p.Metrics(),
	}, nil
}

// Latest returns the newest known telemetry of a device. The cache is
// consulted first; otherwise the most recent stored readings are folded,
// newest value per measure. A device without data yields a Latest with
// empty metrics, a nil timestamp and NoDataMessage.
func (s *Service) Latest(ctx context.Context, name string) (*Latest, error) {
	if name == "" {
		name = s.defaultDevice
	}

	if snap, ok := s.cache.Get(name); ok {
		ts := snap.Timestamp
		return &Latest{
			Device:    snap.Device,
			Metrics:   snap.Metrics,
			Timestamp: &ts,
			DoorOpen:  snap.DoorOpen,
			DoorAngle: snap.DoorAngle,
			LED1:      snap.LED1,
			LED2:      snap.LED2,
			Source:    SourceCache,
		}, nil
	}

	noData := &Latest{Device: name, Source: SourceNone, Message: NoDataMessage}

	dev, err := s.registry.GetDevice(ctx, name)
	if err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			return noData, nil
		}
		return nil, fmt.Errorf("looking up device %q: %w", name, err)
	}

	readings, err := s.store.LatestByDevice(ctx, dev.ID, s.fallbackLimit)
	if err != nil {
		return nil, err
	}
	if len(readings) == 0 {
		return noData, nil
	}

	m := foldLatest(readings)
	ts := readings[0].Timestamp
	return &Latest{
		Device:    dev.Name,
		Metrics:   m,
		Timestamp: &ts,
		Source:    SourceStore,
	}, nil
}

// foldLatest keeps the first value per measure of newest-first readings.
func foldLatest(readings []Reading) Metrics {
	var m Metrics
	for _, r := range readings {
		v := r.Value
		switch r.Measure {
		case MeasureTemperature:
			if m.Temp == nil {
				m.Temp = &v
			}
		case MeasureHumidity:
			if m.Hum == nil {
				m.Hum = &v
			}
		case MeasureMotion:
			if m.Motion == nil {
				b := v != 0
				m.Motion = &b
			}
		}
	}
	return m
}

// Readings returns stored readings newest first. An empty name lists every
// device. limit is clamped to [1, MaxListLimit]; zero means DefaultListLimit.
func (s *Service) Readings(ctx context.Context, name string, limit int) ([]Reading, error) {
	switch {
	case limit <= 0:
		limit = DefaultListLimit
	case limit > MaxListLimit:
		limit = MaxListLimit
	}
	return s.store.List(ctx, Query{Device: name, Limit: limit})
}

// Summary describes the first home: totals and its newest reading.
func (s *Service) Summary(ctx context.Context) (*Summary, error) {
	homes, err := s.registry.ListHomes(ctx)
	if err != nil {
		return nil, err
	}
	devices, err := s.registry.ListDevices(ctx)
	if err != nil {
		return nil, err
	}

	sum := &Summary{
		Counts:    Counts{Homes: len(homes), Devices: len(devices)},
		Timestamp: s.now(),
	}
	home, err := s.registry.FirstHome(ctx)
	if errors.Is(err, device.ErrHomeNotFound) {
		return sum, nil
	}
	if err != nil {
		return nil, err
	}
	sum.Home = &HomeRef{ID: home.ID, Name: home.Name}

	if sum.Counts.Readings, err = s.store.CountByHome(ctx, home.ID); err != nil {
		return nil, err
	}

	last, err := s.store.LastByHome(ctx, home.ID)
	if err != nil {
		return nil, err
	}
	if last != nil {
		sum.Last = &LastReading{
			Device:    last.Device,
			Measure:   last.Measure,
			Value:     last.Value,
			Timestamp: last.Timestamp,
		}
	}
	return sum, nil
}
