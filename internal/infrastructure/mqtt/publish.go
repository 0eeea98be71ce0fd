package mqtt

import (
	"encoding/json"
	"fmt"
)

// maxPayloadSize caps a single message at 1MB.
const maxPayloadSize = 1 << 20

// Publish sends payload to topic and waits up to defaultPublishTimeout for
// the broker to acknowledge it (QoS 1 and 2).
//
// Invalid arguments are rejected before the connection is looked at.
// A publish attempted while disconnected counts as dropped; a broker error
// or timeout counts as failed.
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	switch {
	case topic == "":
		return ErrInvalidTopic
	case qos > maxQoS:
		return ErrInvalidQoS
	case len(payload) > maxPayloadSize:
		return fmt.Errorf("%w: %d byte payload over the %d byte limit", ErrPublishFailed, len(payload), maxPayloadSize)
	}

	if !c.IsConnected() {
		if c != nil {
			c.dropped.Add(1)
		}
		return ErrNotConnected
	}

	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(defaultPublishTimeout) {
		c.failed.Add(1)
		return fmt.Errorf("%w: %s not acknowledged within %v", ErrPublishFailed, topic, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		c.failed.Add(1)
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}

	c.published.Add(1)
	return nil
}

// PublishEvent encodes payload as JSON and publishes it, not retained, on
// <prefix>/device/<deviceID>/event/<eventType> with the configured QoS.
func (c *Client) PublishEvent(deviceID, eventType string, payload any) error {
	if deviceID == "" || eventType == "" {
		return ErrInvalidTopic
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%w: encoding %s event: %w", ErrPublishFailed, eventType, err)
	}
	return c.Publish(c.topics.DeviceEvent(deviceID, eventType), data, byte(c.cfg.QoS), false)
}
