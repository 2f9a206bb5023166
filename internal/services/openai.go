package services

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// OpenAIProvider talks to any OpenAI-compatible chat-completion API.
type OpenAIProvider struct {
	name  string
	llm   llms.Model
	model string
}

// NewOpenAIProvider builds a provider; baseURL may be empty for api.openai.com.
func NewOpenAIProvider(name, apiKey, model, baseURL string) (*OpenAIProvider, error) {
	opts := []openai.Option{
		openai.WithToken(apiKey),
		openai.WithModel(model),
	}
	if baseURL != "" {
		opts = append(opts, openai.WithBaseURL(baseURL))
	}

	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("create %s model: %w", name, err)
	}
	return &OpenAIProvider{name: name, llm: llm, model: model}, nil
}

func (o *OpenAIProvider) Name() string { return o.name }

func messages(p Prompt) []llms.MessageContent {
	msgs := make([]llms.MessageContent, 0, 2)
	if p.System != "" {
		msgs = append(msgs, llms.TextParts(llms.ChatMessageTypeSystem, p.System))
	}
	return append(msgs, llms.TextParts(llms.ChatMessageTypeHuman, p.User))
}

func callOptions(p Prompt) []llms.CallOption {
	opts := []llms.CallOption{llms.WithTemperature(p.Temperature)}
	if p.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(p.MaxTokens))
	}
	return opts
}

func (o *OpenAIProvider) Generate(ctx context.Context, p Prompt) (string, error) {
	resp, err := o.llm.GenerateContent(ctx, messages(p), callOptions(p)...)
	if err != nil {
		return "", classifyProviderError(o.name, fmt.Errorf("%s generate: %w", o.name, err))
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%s returned no choices", o.name)
	}
	return resp.Choices[0].Content, nil
}

func (o *OpenAIProvider) Stream(ctx context.Context, p Prompt, onChunk func(string) error) error {
	opts := append(callOptions(p), llms.WithStreamingFunc(func(_ context.Context, chunk []byte) error {
		if len(chunk) == 0 {
			return nil
		}
		return onChunk(string(chunk))
	}))

	if _, err := o.llm.GenerateContent(ctx, messages(p), opts...); err != nil {
		return classifyProviderError(o.name, fmt.Errorf("%s stream: %w", o.name, err))
	}
	return nil
}
