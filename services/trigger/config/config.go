package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config holds typed configuration for the trigger service.
type Config struct {
	LogLevel     string
	KafkaBrokers string
	RedisAddr    string
	PostgresDSN  string

	WriteRetries int
	AgentTimeout time.Duration

	AnthropicAPIKey string
	AnthropicModel  string
	OpenAIAPIKey    string
	OpenAIModel     string
	HTTPAgents      map[string]string // agent id -> endpoint URL

	MetricsAddr  string
	OTelEndpoint string
}

// Load reads all values from the given viper instance.
func Load(v *viper.Viper) Config {
	return Config{
		LogLevel:        v.GetString("log_level"),
		KafkaBrokers:    v.GetString("kafka_brokers"),
		RedisAddr:       v.GetString("redis_addr"),
		PostgresDSN:     v.GetString("postgres_dsn"),
		WriteRetries:    v.GetInt("write_retries"),
		AgentTimeout:    v.GetDuration("agent_timeout"),
		AnthropicAPIKey: v.GetString("anthropic_api_key"),
		AnthropicModel:  v.GetString("anthropic_model"),
		OpenAIAPIKey:    v.GetString("openai_api_key"),
		OpenAIModel:     v.GetString("openai_model"),
		HTTPAgents:      v.GetStringMapString("http_agents"),
		MetricsAddr:     v.GetString("metrics_addr"),
		OTelEndpoint:    v.GetString("otel_endpoint"),
	}
}
