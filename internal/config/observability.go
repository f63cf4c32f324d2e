package config

// OtelConfig holds the OpenTelemetry trace export settings.
// AgentHost is the OTLP HTTP endpoint (host:port, no scheme).
type OtelConfig struct {
	AgentHost   string `mapstructure:"agent_host" json:"agent_host"`
	Environment string `mapstructure:"environment" json:"environment"`
	ServiceName string `mapstructure:"service_name" json:"service_name"`
}

// Enabled reports whether trace export should be wired up.
func (o OtelConfig) Enabled() bool {
	return o.AgentHost != ""
}
