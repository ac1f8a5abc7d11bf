package router

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/tmajic/go-dispatch-engine/internal/domain"
)

// AnthropicOptions configures the Anthropic agent (model id, max tokens, API key).
type AnthropicOptions struct {
	Model     anthropic.Model
	MaxTokens int64
	APIKey    string
}

// AnthropicAgent forwards a prompt payload to the Anthropic Messages API.
// The SDK handles its own transient retries; any error it surfaces is final
// for the dispatch attempt.
type AnthropicAgent struct {
	id     string
	client *anthropic.Client
	opts   AnthropicOptions
}

// NewAnthropicAgent creates an Anthropic-backed agent using the official client.
func NewAnthropicAgent(id string, optFns ...func(o *AnthropicOptions)) *AnthropicAgent {
	opts := AnthropicOptions{
		Model:     anthropic.ModelClaude3_5Sonnet20241022,
		MaxTokens: 4096,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	client := anthropic.NewClient(clientOpts...)

	return &AnthropicAgent{id: id, client: &client, opts: opts}
}

func (a *AnthropicAgent) ID() string { return a.id }

// anthropicResult is the JSON shape persisted into the record's result field.
type anthropicResult struct {
	Text         string `json:"text"`
	Model        string `json:"model"`
	StopReason   string `json:"stop_reason,omitempty"`
	InputTokens  int64  `json:"input_tokens"`
	OutputTokens int64  `json:"output_tokens"`
}

func (a *AnthropicAgent) Execute(ctx context.Context, payload domain.Payload) (json.RawMessage, error) {
	ctx, span := otel.Tracer("router").Start(ctx, "agent.anthropic")
	defer span.End()
	span.SetAttributes(
		attribute.String("agent.id", a.id),
		attribute.String("agent.model", string(a.opts.Model)),
	)

	params := anthropic.MessageNewParams{
		Model:     a.opts.Model,
		MaxTokens: a.opts.MaxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(payload.Content)),
		},
	}
	if system, ok := payload.Metadata["system"]; ok && system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	msg, err := a.client.Messages.New(ctx, params)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "anthropic api error")
		return nil, fmt.Errorf("anthropic api: %w", err)
	}

	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	out, err := json.Marshal(anthropicResult{
		Text:         text,
		Model:        string(msg.Model),
		StopReason:   string(msg.StopReason),
		InputTokens:  msg.Usage.InputTokens,
		OutputTokens: msg.Usage.OutputTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal anthropic result: %w", err)
	}
	return out, nil
}
