package reasoning

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	lcopenai "github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"
)

// LangChain classifies through any langchaingo model.
type LangChain struct {
	model llms.Model
}

// NewLangChain wraps a langchaingo model.
func NewLangChain(model llms.Model) *LangChain {
	return &LangChain{model: model}
}

// NewLangChainOpenAI creates a LangChain classifier on an OpenAI-compatible
// endpoint.
func NewLangChainOpenAI(cfg *Config) (*LangChain, error) {
	opts := []lcopenai.Option{lcopenai.WithToken(cfg.APIKey), lcopenai.WithModel(cfg.Model)}
	if cfg.BaseURL != "" {
		opts = append(opts, lcopenai.WithBaseURL(cfg.BaseURL))
	}
	llm, err := lcopenai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("create langchain model: %w", err)
	}
	return NewLangChain(llm), nil
}

// Name returns the provider name.
func (*LangChain) Name() string { return ProviderLangChain }

// ClassifyImpact implements Service.
func (l *LangChain) ClassifyImpact(ctx context.Context, req Request) (*Decision, error) {
	msgs := []llms.MessageContent{
		llms.TextParts(schema.ChatMessageTypeSystem, systemPrompt),
		llms.TextParts(schema.ChatMessageTypeHuman, BuildPrompt(req)),
	}
	resp, err := l.model.GenerateContent(ctx, msgs, llms.WithTemperature(0.3), llms.WithMaxTokens(800))
	if err != nil {
		return nil, fmt.Errorf("generate content: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("model returned no choices")
	}
	return ParseDecision(resp.Choices[0].Content)
}
