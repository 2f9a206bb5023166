package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

type GeminiProvider struct {
	client    *genai.Client
	modelName string
	rateChan  chan struct{} // Token bucket
}

func NewGeminiProvider(ctx context.Context, apiKey, modelName string, concurrentReqs int) (*GeminiProvider, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	if concurrentReqs <= 0 {
		concurrentReqs = 1
	}
	rateChan := make(chan struct{}, concurrentReqs)
	for i := 0; i < concurrentReqs; i++ {
		rateChan <- struct{}{}
	}

	return &GeminiProvider{
		client:    client,
		modelName: modelName,
		rateChan:  rateChan,
	}, nil
}

func (g *GeminiProvider) Name() string { return "gemini" }

func (g *GeminiProvider) Close() {
	g.client.Close()
}

// acquireRate blocks until a rate slot is available
func (g *GeminiProvider) acquireRate(ctx context.Context) error {
	select {
	case <-g.rateChan:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(time.Minute):
		return fmt.Errorf("timeout waiting for Gemini rate slot")
	}
}

func (g *GeminiProvider) releaseRate() {
	g.rateChan <- struct{}{}
}

// model returns a per-call handle so concurrent prompts never share a system
// instruction.
func (g *GeminiProvider) model(p Prompt) *genai.GenerativeModel {
	m := g.client.GenerativeModel(g.modelName)
	m.SetTemperature(float32(p.Temperature))
	m.SetTopP(0.95)
	if p.MaxTokens > 0 {
		m.SetMaxOutputTokens(int32(p.MaxTokens))
	}
	if p.System != "" {
		m.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(p.System)}}
	}
	return m
}

func (g *GeminiProvider) Generate(ctx context.Context, p Prompt) (string, error) {
	if err := g.acquireRate(ctx); err != nil {
		return "", err
	}
	defer g.releaseRate()

	resp, err := g.model(p).GenerateContent(ctx, genai.Text(p.User))
	if err != nil {
		return "", classifyProviderError(g.Name(), fmt.Errorf("Gemini API error: %w", err))
	}

	for i, cand := range resp.Candidates {
		if cand.FinishReason != genai.FinishReasonStop && cand.FinishReason != genai.FinishReasonUnspecified {
			slog.Warn("gemini candidate stopped early", "candidate", i, "finish_reason", cand.FinishReason.String())
		}
	}

	return extractText(resp), nil
}

func (g *GeminiProvider) Stream(ctx context.Context, p Prompt, onChunk func(string) error) error {
	if err := g.acquireRate(ctx); err != nil {
		return err
	}
	defer g.releaseRate()

	iter := g.model(p).GenerateContentStream(ctx, genai.Text(p.User))
	for {
		resp, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			return nil
		}
		if err != nil {
			return classifyProviderError(g.Name(), fmt.Errorf("Gemini stream error: %w", err))
		}
		if text := extractText(resp); text != "" {
			if err := onChunk(text); err != nil {
				return err
			}
		}
	}
}

func extractText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	var text strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content != nil {
			for _, part := range cand.Content.Parts {
				if t, ok := part.(genai.Text); ok {
					text.WriteString(string(t))
				}
			}
		}
	}
	return text.String()
}
