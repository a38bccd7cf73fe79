// Package config loads the relay's YAML configuration.
//
// Load reads the file, applies GRAYLOGIC_* environment overrides and
// validates the result. Secrets such as the JWT signing key, the MQTT
// password and the InfluxDB token are expected to come from the
// environment; the JWT secret has no default and Load fails without it.
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    return err
//	}
//	manager := bridge.NewManager(gateways, bridge.ConfigFrom(cfg.Bridge))
//
// Durations are plain integers in the file. Seconds and Minutes convert
// them.
package config
