package provider

import (
	"context"
	"os"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/charmbracelet/log"
	"github.com/theapemachine/gridswarm/pkg/errors"
)

/*
AnthropicProvider is a provider for the Anthropic Messages API.
*/
type AnthropicProvider struct {
	client *anthropic.Client
}

type AnthropicProviderOption func(*AnthropicProvider)

func NewAnthropicProvider(options ...AnthropicProviderOption) *AnthropicProvider {
	prvdr := &AnthropicProvider{}

	for _, option := range options {
		option(prvdr)
	}

	if prvdr.client == nil {
		WithAnthropicClient("", "")(prvdr)
	}

	return prvdr
}

func (prvdr *AnthropicProvider) Name() string {
	return "anthropic"
}

func (prvdr *AnthropicProvider) Chat(ctx context.Context, request Request) (string, error) {
	maxTokens := int64(request.Options.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = int64(DefaultOptions().MaxTokens)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(request.Model),
		MaxTokens: maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(request.Prompt)),
		},
		Temperature: anthropic.Float(request.Options.Temperature),
	}

	if request.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: request.System}}
	}

	message, err := prvdr.client.Messages.New(ctx, params)
	if err != nil {
		log.Debug("anthropic chat failed", "model", request.Model, "error", err)
		return "", err
	}

	var reply strings.Builder

	for _, block := range message.Content {
		switch contentBlock := block.AsAny().(type) {
		case anthropic.TextBlock:
			reply.WriteString(contentBlock.Text)
		}
	}

	if reply.Len() == 0 {
		return "", errors.ErrEmptyResponse
	}

	return reply.String(), nil
}

// WithAnthropicClient builds the client; an empty apiKey reads ANTHROPIC_API_KEY.
func WithAnthropicClient(baseURL, apiKey string) AnthropicProviderOption {
	return func(prvdr *AnthropicProvider) {
		if apiKey == "" {
			apiKey = os.Getenv("ANTHROPIC_API_KEY")
		}

		opts := []option.RequestOption{
			option.WithAPIKey(apiKey),
			option.WithMaxRetries(0),
		}

		if baseURL != "" {
			opts = append(opts, option.WithBaseURL(baseURL))
		}

		client := anthropic.NewClient(opts...)
		prvdr.client = &client
	}
}
