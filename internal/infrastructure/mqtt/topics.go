package mqtt

import "fmt"

// DefaultTopicPrefix is used when no prefix is configured.
const DefaultTopicPrefix = "remotelab"

// Topics builds the topic hierarchy under a common prefix.
// Using these helpers keeps topic naming consistent across the codebase.
//
//	topics := mqtt.NewTopics("remotelab")
//	topics.DeviceEvent("5f0c...", "firmware.build")
//	// Returns: "remotelab/device/5f0c.../event/firmware.build"
type Topics struct {
	Prefix string
}

// NewTopics returns a Topics for prefix, falling back to DefaultTopicPrefix.
func NewTopics(prefix string) Topics {
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{Prefix: prefix}
}

// SystemStatus returns the retained online/offline status topic.
//
// Example: remotelab/system/status
func (t Topics) SystemStatus() string {
	return fmt.Sprintf("%s/system/status", t.Prefix)
}

// DeviceEvent returns the topic for a lifecycle event of one device.
//
// Example: remotelab/device/{id}/event/device.created
func (t Topics) DeviceEvent(deviceID, eventType string) string {
	return fmt.Sprintf("%s/device/%s/event/%s", t.Prefix, deviceID, eventType)
}
