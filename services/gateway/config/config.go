package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config holds typed configuration for the gateway service.
type Config struct {
	LogLevel     string
	HTTPPort     string
	MetricsAddr  string
	KafkaBrokers string
	RedisAddr    string
	PostgresDSN  string

	RateLimit       int
	RateLimitWindow time.Duration

	// Synchronous routing needs a local registry; these mirror the trigger
	// agent settings so /api/v1/route can run the same agents inline.
	AgentTimeout    time.Duration
	AnthropicAPIKey string
	AnthropicModel  string
	OpenAIAPIKey    string
	OpenAIModel     string
	HTTPAgents      map[string]string

	OTelEndpoint string
}

// Load reads all values from the given viper instance.
func Load(v *viper.Viper) Config {
	return Config{
		LogLevel:        v.GetString("log_level"),
		HTTPPort:        v.GetString("http_port"),
		MetricsAddr:     v.GetString("metrics_addr"),
		KafkaBrokers:    v.GetString("kafka_brokers"),
		RedisAddr:       v.GetString("redis_addr"),
		PostgresDSN:     v.GetString("postgres_dsn"),
		RateLimit:       v.GetInt("rate_limit"),
		RateLimitWindow: v.GetDuration("rate_limit_window"),
		AgentTimeout:    v.GetDuration("agent_timeout"),
		AnthropicAPIKey: v.GetString("anthropic_api_key"),
		AnthropicModel:  v.GetString("anthropic_model"),
		OpenAIAPIKey:    v.GetString("openai_api_key"),
		OpenAIModel:     v.GetString("openai_model"),
		HTTPAgents:      v.GetStringMapString("http_agents"),
		OTelEndpoint:    v.GetString("otel_endpoint"),
	}
}
