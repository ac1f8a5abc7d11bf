package router

import (
	"log/slog"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/openai/openai-go"
)

// RegistryConfig selects which agents a service registers. Model agents
// activate only when an API key is set.
type RegistryConfig struct {
	AnthropicAPIKey string
	AnthropicModel  string
	OpenAIAPIKey    string
	OpenAIModel     string
	HTTPAgents      map[string]string // agent id -> endpoint URL
}

// BuildRegistry registers the echo agent plus whatever agents cfg enables.
func BuildRegistry(cfg RegistryConfig, logger *slog.Logger) *Registry {
	registry := NewRegistry()
	registry.Register(EchoAgent{})

	if cfg.AnthropicAPIKey != "" {
		registry.Register(NewAnthropicAgent("anthropic", func(o *AnthropicOptions) {
			o.APIKey = cfg.AnthropicAPIKey
			if cfg.AnthropicModel != "" {
				o.Model = anthropic.Model(cfg.AnthropicModel)
			}
		}))
		logger.Info("anthropic agent registered")
	}

	if cfg.OpenAIAPIKey != "" {
		registry.Register(NewOpenAIAgent("openai", func(o *OpenAIOptions) {
			o.APIKey = cfg.OpenAIAPIKey
			if cfg.OpenAIModel != "" {
				o.Model = openai.ChatModel(cfg.OpenAIModel)
			}
		}))
		logger.Info("openai agent registered")
	}

	for id, endpoint := range cfg.HTTPAgents {
		registry.Register(NewHTTPAgent(id, endpoint))
		logger.Info("http agent registered", slog.String("agent_id", id), slog.String("endpoint", endpoint))
	}

	return registry
}
