package config

// ObservabilityConfig controls OpenTelemetry instrumentation.
// Exporter endpoints come from the standard OTEL env vars.
type ObservabilityConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
}

// DefaultObservabilityConfig returns the built-in observability defaults.
func DefaultObservabilityConfig() *ObservabilityConfig {
	return &ObservabilityConfig{
		ServiceName: "weft",
	}
}
