// Package config handles loading and validating the remote lab service configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with REMOTELAB_* environment variables
//   - Validation of required fields (all problems reported at once)
//   - Default value handling, so the service runs with no file at all
//
// Security Considerations:
//   - Sensitive values (MQTT password, InfluxDB token, JWT secret) should be set via environment variables
//   - The config file should have restricted permissions (0600)
//   - Leaving security.jwt.secret empty disables API authentication
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Toolchain.Binary)
package config
