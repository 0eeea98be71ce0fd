// Package mqtt publishes remote-lab events to an MQTT broker.
//
// Bench controllers and dashboards subscribe here instead of polling the
// HTTP API. The client only publishes; it never subscribes.
//
//	remotelab/system/status                      retained Status JSON
//	remotelab/device/{id}/event/device.created
//	remotelab/device/{id}/event/firmware.build   (upload, init, clean, ...)
//
// The status topic carries "online" while the service runs, "offline" with
// reason "graceful_shutdown" after Close, and "offline" with reason
// "unexpected_disconnect" when the broker fires the Last Will.
//
// Events published while the link is down are dropped and counted in
// Stats. Enable TLS (broker.tls) outside the lab network: firmware events
// include toolchain output.
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.PublishEvent(dev.ID.String(), "firmware.build", result)
package mqtt
