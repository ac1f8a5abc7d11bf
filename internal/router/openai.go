package router

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/tmajic/go-dispatch-engine/internal/domain"
)

// OpenAIOptions configures the OpenAI agent.
type OpenAIOptions struct {
	Model  openai.ChatModel
	APIKey string
}

// OpenAIAgent forwards a prompt payload to the OpenAI Chat Completions API.
type OpenAIAgent struct {
	id     string
	client openai.Client
	opts   OpenAIOptions
}

// NewOpenAIAgent creates an OpenAI-backed agent using the official client.
func NewOpenAIAgent(id string, optFns ...func(o *OpenAIOptions)) *OpenAIAgent {
	opts := OpenAIOptions{
		Model: openai.ChatModelGPT4oMini,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	client := openai.NewClient(clientOpts...)

	return &OpenAIAgent{id: id, client: client, opts: opts}
}

func (a *OpenAIAgent) ID() string { return a.id }

type openaiResult struct {
	Text         string `json:"text"`
	Model        string `json:"model"`
	FinishReason string `json:"finish_reason,omitempty"`
	TotalTokens  int64  `json:"total_tokens"`
}

func (a *OpenAIAgent) Execute(ctx context.Context, payload domain.Payload) (json.RawMessage, error) {
	ctx, span := otel.Tracer("router").Start(ctx, "agent.openai")
	defer span.End()
	span.SetAttributes(
		attribute.String("agent.id", a.id),
		attribute.String("agent.model", string(a.opts.Model)),
	)

	messages := []openai.ChatCompletionMessageParamUnion{
		openai.UserMessage(payload.Content),
	}
	if system, ok := payload.Metadata["system"]; ok && system != "" {
		messages = append([]openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
		}, messages...)
	}

	resp, err := a.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    a.opts.Model,
		Messages: messages,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "openai api error")
		return nil, fmt.Errorf("openai api: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai api: response contained no choices")
	}

	choice := resp.Choices[0]
	out, err := json.Marshal(openaiResult{
		Text:         choice.Message.Content,
		Model:        resp.Model,
		FinishReason: string(choice.FinishReason),
		TotalTokens:  resp.Usage.TotalTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal openai result: %w", err)
	}
	return out, nil
}
