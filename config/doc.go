// Package config loads the process configuration.
//
// Configuration is layered. Built-in defaults come first, then each file
// added with AddLayer in order (JSON, YAML or TOML, chosen by extension),
// then PUMPVIEW_* environment variables. Files are deep-merged as maps, so a
// layer only needs the keys it changes.
//
//	loader := config.NewLoader()
//	loader.AddLayer("configs/base.yaml")
//	loader.AddLayer("configs/site.toml")
//	loader.EnableValidation(true)
//
//	cfg, err := loader.Load()
//
// Durations are written as Go duration strings ("90s", "5m") or day counts
// ("1d"). Environment overrides:
//
//	PUMPVIEW_TRANSPORT_KIND      mqtt | websocket | nats
//	PUMPVIEW_TRANSPORT_URL
//	PUMPVIEW_TRANSPORT_USERNAME
//	PUMPVIEW_TRANSPORT_PASSWORD
//	PUMPVIEW_ARCHIVE_URL
//	PUMPVIEW_HTTP_ADDR
//	PUMPVIEW_METRICS_PORT
//	PUMPVIEW_AUTH_SECRET_SALT
//	PUMPVIEW_LOG_LEVEL
//	PUMPVIEW_LOG_FORMAT
//
// Validation errors are classified Fatal: a process with a bad configuration
// does not start. Config.String masks passwords and salts.
package config
