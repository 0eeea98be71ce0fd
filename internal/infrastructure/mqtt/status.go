package mqtt

import (
	"encoding/json"
	"time"
)

// Service states published on the system status topic.
const (
	StateOnline  = "online"
	StateOffline = "offline"
)

// Reasons attached to an offline status.
const (
	ReasonShutdown   = "graceful_shutdown"
	ReasonUnexpected = "unexpected_disconnect"
)

// Status is the retained payload on <prefix>/system/status.
// Dashboards use it to tell a stopped service from a crashed one.
type Status struct {
	Status    string `json:"status"`
	ClientID  string `json:"client_id"`
	Reason    string `json:"reason,omitempty"`
	Timestamp string `json:"timestamp"`
}

// statusPayload encodes a Status stamped with the current UTC time.
func statusPayload(state, clientID, reason string) []byte {
	//nolint:errcheck // a struct of strings always encodes
	data, _ := json.Marshal(Status{
		Status:    state,
		ClientID:  clientID,
		Reason:    reason,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	return data
}
