package provider

import (
	"context"
	"strings"

	"github.com/theapemachine/gridswarm/pkg/errors"
)

/*
Interface is a single-turn chat completion backend. Implementations make
exactly one call per Chat and never retry.
*/
type Interface interface {
	Name() string
	Chat(ctx context.Context, request Request) (string, error)
}

// Options are the sampling parameters sent with every request.
type Options struct {
	ContextLength int     `json:"num_ctx" mapstructure:"context_length"`
	Temperature   float64 `json:"temperature" mapstructure:"temperature"`
	TopK          int     `json:"top_k" mapstructure:"top_k"`
	TopP          float64 `json:"top_p" mapstructure:"top_p"`
	MaxTokens     int     `json:"max_tokens" mapstructure:"max_tokens"`
}

type Request struct {
	Model   string
	System  string
	Prompt  string
	Options Options
}

func DefaultOptions() Options {
	return Options{
		ContextLength: 2048,
		Temperature:   0.7,
		TopK:          40,
		TopP:          0.9,
		MaxTokens:     512,
	}
}

/*
New picks a provider by name. Host overrides the default endpoint and an
empty apiKey falls back to the provider's usual environment variable.
*/
func New(name, host, apiKey string) (Interface, error) {
	switch strings.ToLower(name) {
	case "ollama", "":
		prvdr, err := NewOllamaProvider(WithOllamaHost(host))
		if err != nil {
			return nil, err
		}
		return prvdr, nil
	case "openai":
		return NewOpenAIProvider(WithOpenAIClient(host, apiKey)), nil
	case "anthropic":
		return NewAnthropicProvider(WithAnthropicClient(host, apiKey)), nil
	case "cohere":
		return NewCohereProvider(WithCohereClient(host, apiKey)), nil
	case "deepseek":
		return NewDeepseekProvider(WithDeepseekClient(host, apiKey)), nil
	case "google", "gemini":
		prvdr, err := NewGoogleProvider(WithGoogleClient(host, apiKey))
		if err != nil {
			return nil, err
		}
		return prvdr, nil
	default:
		return nil, errors.ErrUnknownProvider.WithMessagef("unknown chat provider %q", name)
	}
}
