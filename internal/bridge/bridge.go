package bridge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/smarthome-bridge/internal/control"
	"github.com/nerrad567/smarthome-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/smarthome-bridge/internal/metrics"
	"github.com/nerrad567/smarthome-bridge/internal/telemetry"
)

const (
	ingestTimeout = 10 * time.Second
	stateQueueLen = 64
)

// Broker is the subset of the MQTT client used by the bridge.
type Broker interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	PublishJSON(topic string, v any, retained bool) error
}

// Ingester accepts decoded telemetry.
type Ingester interface {
	Ingest(ctx context.Context, p telemetry.Payload) (*telemetry.IngestResult, error)
}

// Logger is the logging interface used by the Bridge.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// Bridge connects devices on MQTT to the telemetry service and control queue.
type Bridge struct {
	broker   Broker
	ingester Ingester
	qos      byte

	states chan telemetry.Snapshot
	done   chan struct{}

	ctx    context.Context
	ctxMu  sync.RWMutex
	logger Logger
}

// New creates a bridge. Start must be called before messages flow.
func New(broker Broker, ingester Ingester, qos byte) *Bridge {
	return &Bridge{
		broker:   broker,
		ingester: ingester,
		qos:      qos,
		states:   make(chan telemetry.Snapshot, stateQueueLen),
		done:     make(chan struct{}),
		ctx:      context.Background(),
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger for the bridge.
func (b *Bridge) SetLogger(logger Logger) {
	b.logger = logger
}

// Start subscribes to device telemetry and runs the state publisher until
// ctx is cancelled.
func (b *Bridge) Start(ctx context.Context) error {
	b.ctxMu.Lock()
	b.ctx = ctx
	b.ctxMu.Unlock()

	if err := b.broker.Subscribe(mqtt.Topics{}.AllTelemetry(), b.qos, b.handleTelemetry); err != nil {
		return fmt.Errorf("subscribing to telemetry: %w", err)
	}

	go b.publishStates(ctx)
	return nil
}

// Done is closed once the state publisher has stopped.
func (b *Bridge) Done() <-chan struct{} {
	return b.done
}

// handleTelemetry ingests one device message. The device named in the
// topic is used when the payload has none.
func (b *Bridge) handleTelemetry(topic string, payload []byte) error {
	p, err := telemetry.ParsePayload(payload)
	if err != nil {
		return err
	}
	if p.Device == "" {
		p.Device = mqtt.DeviceFromTopic(topic)
	}

	b.ctxMu.RLock()
	parent := b.ctx
	b.ctxMu.RUnlock()

	ctx, cancel := context.WithTimeout(parent, ingestTimeout)
	defer cancel()

	res, err := b.ingester.Ingest(ctx, p)
	if err != nil {
		return fmt.Errorf("ingesting %s: %w", topic, err)
	}
	b.logger.Debug("mqtt telemetry ingested", "device", res.Device, "topic", topic)
	return nil
}

// PublishControls publishes a device's full control list as a retained
// message, so a device that connects later still gets its desired state.
func (b *Bridge) PublishControls(state control.State) error {
	err := b.broker.PublishJSON(mqtt.Topics{}.Control(state.Device), state.Controls, true)
	countOut(err)
	return err
}

// OnIngest queues the snapshot for publication. It never blocks; when the
// queue is full the snapshot is dropped.
func (b *Bridge) OnIngest(snap telemetry.Snapshot, _ []telemetry.Reading) {
	select {
	case b.states <- snap:
	default:
		metrics.IncMQTT("out", "dropped")
		b.logger.Warn("mqtt state queue full, dropping snapshot", "device", snap.Device)
	}
}

func (b *Bridge) publishStates(ctx context.Context) {
	defer close(b.done)
	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-b.states:
			err := b.broker.PublishJSON(mqtt.Topics{}.State(snap.Device), snap, false)
			countOut(err)
			if err != nil {
				b.logger.Warn("publishing device state failed", "device", snap.Device, "error", err)
			}
		}
	}
}

func countOut(err error) {
	if err != nil {
		metrics.IncMQTT("out", metrics.ResultError)
		return
	}
	metrics.IncMQTT("out", metrics.ResultSuccess)
}
