//go:build integration

package mqtt

import (
	"testing"
	"time"

	"github.com/nerrad567/smarthome-bridge/internal/infrastructure/config"
)

// Integration tests need a broker at 127.0.0.1:1883.
//
//	go test -tags=integration -v ./internal/infrastructure/mqtt/...

func integrationConfig(clientID string) config.MQTTConfig {
	return config.MQTTConfig{
		Enabled:   true,
		Broker:    config.MQTTBrokerConfig{Host: "127.0.0.1", Port: 1883, ClientID: clientID},
		QoS:       1,
		Reconnect: config.MQTTReconnectConfig{InitialDelay: 1, MaxDelay: 5},
	}
}

func TestIntegration_TelemetryRoundtrip(t *testing.T) {
	client, err := Connect(integrationConfig("smarthome-int-roundtrip"))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	received := make(chan string, 1)
	err = client.Subscribe(Topics{}.AllTelemetry(), 1, func(topic string, payload []byte) error {
		received <- DeviceFromTopic(topic) + " " + string(payload)
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	client.subMu.RLock()
	_, tracked := client.subscriptions[Topics{}.AllTelemetry()]
	client.subMu.RUnlock()
	if !tracked {
		t.Error("subscription not tracked for reconnect")
	}

	time.Sleep(100 * time.Millisecond)
	if err := client.Publish(Topics{}.Telemetry("esp32-int"), []byte(`{"temp":21}`), 1, false); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case got := <-received:
		if got != `esp32-int {"temp":21}` {
			t.Errorf("received %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("message not received")
	}
}

func TestIntegration_RetainedControl(t *testing.T) {
	pub, err := Connect(integrationConfig("smarthome-int-pub"))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer pub.Close()

	topic := Topics{}.Control("esp32-int")
	if err := pub.PublishJSON(topic, []map[string]any{{"control": "led1", "value": true}}, true); err != nil {
		t.Fatalf("PublishJSON() error = %v", err)
	}

	sub, err := Connect(integrationConfig("smarthome-int-sub"))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer sub.Close()

	received := make(chan []byte, 1)
	if err := sub.Subscribe(topic, 1, func(_ string, payload []byte) error {
		received <- payload
		return nil
	}); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	select {
	case got := <-received:
		if string(got) != `[{"control":"led1","value":true}]` {
			t.Errorf("retained payload = %s", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("retained message not delivered")
	}
}
