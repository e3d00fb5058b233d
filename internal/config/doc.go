// Package config handles configuration loading for wa-gateway.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from WA_GATEWAY_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/wa-gateway/gateway.yaml
//  3. ~/.config/wa-gateway/gateway.yaml
//
// Files ending in .toml are read as TOML; everything else as YAML. Both use
// the same keys.
//
// # Environment Variables
//
// Values can reference environment variables with ${VAR_NAME}. Unset
// variables expand to the empty string. Two variables override the file:
//
//	WA_GATEWAY_API_KEY   auth.api_key
//	WA_GATEWAY_DB_PATH   database.path
//
// # Example
//
//	server:
//	  http_addr: "0.0.0.0:3001"
//
//	auth:
//	  api_key: "${WA_GATEWAY_API_KEY}"
//	  jwt_secret: ""              # optional, enables JWT bearer tokens
//
//	database:
//	  path: "./data/wa-gateway.db"
//
//	whatsapp:
//	  device_store: "./data/whatsmeow.db"
//
//	credentials:
//	  encryption_key: ""          # optional, seals stored credentials
//
//	webhook:
//	  timeout: "10s"
//	  queue_size: 256
//
//	reconnect:
//	  initial_delay: "3s"
//	  multiplier: 2
//	  max_delay: "2m"
//	  max_attempts: 10            # 0 = retry forever
//
//	api:
//	  default_client_id: "whatsapp-crm"
//	  connect_wait: "2s"
//
//	qr:
//	  format: "data_url"          # or "raw"
//	  size: 300
//
//	logging:
//	  level: "info"
//	  format: "text"              # or "json"
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax ("500ms", "3s", "2m").
package config
