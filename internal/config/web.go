package config

// WebConfig holds the status HTTP server settings.
type WebConfig struct {
	Enabled bool   `mapstructure:"ENABLED" json:"enabled"`
	Addr    string `mapstructure:"ADDR"    json:"addr" validate:"required_if=Enabled true,omitempty,wsaddr"`
}

// MetricsConfig toggles Prometheus collection. Metrics are served by the
// web server, so exposing them also requires WEB.ENABLED.
type MetricsConfig struct {
	Enabled bool `mapstructure:"ENABLED" json:"enabled"`
}
