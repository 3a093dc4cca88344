package telemetry

// Config holds OpenTelemetry tracing configuration.
type Config struct {
	// Enabled turns on span export. When false a no-op tracer is used.
	Enabled bool

	// ServiceName and ServiceVersion are reported as resource attributes.
	ServiceName    string
	ServiceVersion string

	// Endpoint is the OTLP gRPC collector address, e.g. "localhost:4317".
	Endpoint string

	// Insecure disables TLS towards the collector.
	Insecure bool

	// SampleRate is the fraction of traces kept, from 0.0 to 1.0.
	SampleRate float64
}

// DefaultConfig returns tracing disabled with local collector defaults.
func DefaultConfig() Config {
	return Config{
		Enabled:        false,
		ServiceName:    "nfs3gw",
		ServiceVersion: "dev",
		Endpoint:       "localhost:4317",
		Insecure:       true,
		SampleRate:     1.0,
	}
}
