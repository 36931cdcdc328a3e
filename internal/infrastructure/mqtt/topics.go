package mqtt

import (
	"fmt"
	"strings"
)

// TopicPrefix is the root of every bridge topic.
const TopicPrefix = "smarthome"

// Topics provides builders for the bridge's MQTT topics.
//
//	smarthome/telemetry/<device>   device → bridge, ingest payload
//	smarthome/control/<device>     bridge → device, retained control list
//	smarthome/state/<device>       bridge → subscribers, latest snapshot
//	smarthome/bridge/status        bridge online/offline (LWT)
type Topics struct{}

// Telemetry returns the topic a device publishes readings on.
func (Topics) Telemetry(device string) string {
	return fmt.Sprintf("%s/telemetry/%s", TopicPrefix, device)
}

// Control returns the retained control topic of a device.
func (Topics) Control(device string) string {
	return fmt.Sprintf("%s/control/%s", TopicPrefix, device)
}

// State returns the snapshot topic of a device.
func (Topics) State(device string) string {
	return fmt.Sprintf("%s/state/%s", TopicPrefix, device)
}

// BridgeStatus returns the bridge status topic.
func (Topics) BridgeStatus() string {
	return TopicPrefix + "/bridge/status"
}

// AllTelemetry matches every device telemetry topic.
func (Topics) AllTelemetry() string {
	return TopicPrefix + "/telemetry/+"
}

// DeviceFromTopic returns the last segment of a device topic such as
// smarthome/telemetry/esp32-1. It returns "" for topics without one.
func DeviceFromTopic(topic string) string {
	i := strings.LastIndexByte(topic, '/')
	if i < 0 || i == len(topic)-1 {
		return ""
	}
	return topic[i+1:]
}
