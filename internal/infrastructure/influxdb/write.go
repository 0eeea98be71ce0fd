package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/remote-lab-core/internal/device"
	"github.com/nerrad567/remote-lab-core/internal/toolchain"
)

// Measurement names.
const (
	measurementToolchainRun = "toolchain_runs"
	measurementRegistry     = "device_registry"
)

// ObserveCommand records one toolchain invocation. It satisfies
// toolchain.Observer, so the client can be passed to Runner.SetObserver.
// The write is non-blocking; data is batched and sent asynchronously.
func (c *Client) ObserveCommand(rec toolchain.CommandRecord) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(toolchainRunPoint(rec))
}

// WriteRegistryStats records the current device counts.
//
// Example:
//
//	stats, _ := registry.Stats(ctx)
//	client.WriteRegistryStats(stats)
func (c *Client) WriteRegistryStats(stats device.Stats) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(registryPoint(stats, time.Now()))
}

// toolchainRunPoint tags by action and outcome only; project paths are
// unbounded and stay out of the tag set.
func toolchainRunPoint(rec toolchain.CommandRecord) *write.Point {
	at := rec.Time
	if at.IsZero() {
		at = time.Now()
	}
	return write.NewPoint(
		measurementToolchainRun,
		map[string]string{
			"action":  rec.Action,
			"outcome": string(rec.Outcome),
		},
		map[string]interface{}{
			"duration_ms": rec.Duration.Milliseconds(),
			"exit_code":   rec.ExitCode,
			"project":     rec.ProjectPath,
		},
		at,
	)
}

func registryPoint(stats device.Stats, at time.Time) *write.Point {
	return write.NewPoint(
		measurementRegistry,
		nil,
		map[string]interface{}{
			"total":      stats.Total,
			"configured": stats.Configured,
			"bare":       stats.Bare,
		},
		at,
	)
}
