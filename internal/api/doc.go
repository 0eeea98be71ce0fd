// Package api provides the HTTP REST API and WebSocket server for the remote lab.
//
// It exposes the device registry and firmware toolchain actions to bench
// controllers, CI jobs and dashboards.
//
// The server follows the same lifecycle pattern as other infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// # Routes
//
//	GET  /health                      liveness plus toolchain availability
//	GET  /metrics                     runtime, registry and connectivity stats
//	GET  /devices                     list devices (JSON array)
//	POST /devices                     register a device
//	GET  /devices/{id}                fetch one device
//	GET  /devices/{id}/project        toolchain project configuration
//	POST /devices/{id}/build          compile firmware
//	POST /devices/{id}/upload         flash firmware, body {"port": "..."} optional
//	POST /devices/{id}/init           create and initialise the project, body {"board": "..."}
//	POST /devices/{id}/clean          remove build artefacts
//	POST /devices/{id}/create-main    write the starter src/main.cpp
//	GET  /audit                       audit trail (when audit is enabled)
//	GET  /ws                          event stream
//
// Device endpoints answer errors with {status, code, message}. Firmware
// endpoints always answer {success, output, error}; a command that ran and
// failed carries its captured stdout and stderr in output.
//
// # Security
//
// When security.jwt.secret is set, everything except /health and /metrics
// requires an HS256 token, sent as "Authorization: Bearer <token>" or, for
// WebSocket clients, as the token query parameter.
//
// # Graceful Degradation
//
// MQTT, InfluxDB and the audit trail are optional. Without them the API
// serves every route; events simply stop at the WebSocket hub.
package api
