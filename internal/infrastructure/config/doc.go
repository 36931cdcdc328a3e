// Package config handles loading and validating the bridge configuration.
//
// Values are resolved in this order:
//   - hardcoded defaults
//   - the YAML file given with -config
//   - SMARTHOME_* environment variables (a .env file is loaded first when present)
//
// Secrets such as the MQTT password, the InfluxDB token and the remote API
// token should be supplied through the environment rather than the file.
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Home.Name)
package config
