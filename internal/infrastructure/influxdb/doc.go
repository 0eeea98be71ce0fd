// Package influxdb records remote-lab metrics in InfluxDB v2.
//
// Two measurements are written:
//
//	toolchain_runs   tags: action, outcome    fields: duration_ms, exit_code, project
//	device_registry  fields: total, configured, bare
//
// Writes are non-blocking and batched by the client library. Asynchronous
// write failures are delivered to the callback set with SetOnError.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	runner.SetObserver(client)
package influxdb
