// Package config provides centralized configuration management for the Pmax
// tools. It loads configuration from multiple sources, validates it, and
// exposes a typed struct to the rest of the application.
//
// # Configuration Sources
//
// Configuration is built in layers, later layers winning:
//
//	1. Default values (Default)
//	2. A YAML file: $PMAX_CONFIG_FILE, or pmax.yaml / configs/pmax.yaml
//	3. Environment variables
//
// # Environment Variables
//
// All environment variables follow the pattern PMAX_<SECTION>_<FIELD>:
//
//	PMAX_SERVER_PORT=8080
//	PMAX_LOGGING_LEVEL=debug
//	PMAX_BATCH_QUEUE_DEPTH=2
//	PMAX_BATCH_ROW_PARALLELISM=4
//	PMAX_SECURITY_ALLOWED_ORIGINS=http://localhost:3000,http://localhost:8080
//
// Run `pmax config` to print the full list.
//
// # Usage
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
