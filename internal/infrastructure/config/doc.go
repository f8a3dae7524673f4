// Package config handles loading and validating poller configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables
//   - Validation of required fields
//   - Default value handling
//
// Durations are written the way time.ParseDuration reads them:
//
//	engine:
//	  drop_interval: 60s
//	  poll_interval: 250ms
//
// Security Considerations:
//   - The engine credential and MQTT/InfluxDB secrets should be set via
//     environment variables
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/poller.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Engine.DropInterval)
package config
