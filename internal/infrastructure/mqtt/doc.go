// Package mqtt connects the bridge to an MQTT broker.
//
// Devices publish ingest payloads on smarthome/telemetry/<device> and pick up
// their desired actuator state from the retained smarthome/control/<device>
// message. The client reconnects with capped backoff, restores its
// subscriptions, and keeps a retained online/offline status on
// smarthome/bridge/status (offline is also set as the Last Will).
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.AllTelemetry(), 1,
//	    func(topic string, payload []byte) error {
//	        return handle(mqtt.DeviceFromTopic(topic), payload)
//	    })
package mqtt
