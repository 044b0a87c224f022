package provider

import (
	"context"
	"os"
	"strings"

	"github.com/charmbracelet/log"
	deepseek "github.com/cohesion-org/deepseek-go"
	"github.com/theapemachine/gridswarm/pkg/errors"
)

// DeepseekProvider is a provider for the DeepSeek chat completions API.
type DeepseekProvider struct {
	client *deepseek.Client
}

type DeepseekProviderOption func(*DeepseekProvider)

func NewDeepseekProvider(options ...DeepseekProviderOption) *DeepseekProvider {
	prvdr := &DeepseekProvider{}

	for _, option := range options {
		option(prvdr)
	}

	if prvdr.client == nil {
		WithDeepseekClient("", "")(prvdr)
	}

	return prvdr
}

func (prvdr *DeepseekProvider) Name() string {
	return "deepseek"
}

func (prvdr *DeepseekProvider) Chat(ctx context.Context, request Request) (string, error) {
	model := request.Model
	if model == "" {
		model = deepseek.DeepSeekChat
	}

	messages := make([]deepseek.ChatCompletionMessage, 0, 2)
	if request.System != "" {
		messages = append(messages, deepseek.ChatCompletionMessage{
			Role:    deepseek.ChatMessageRoleSystem,
			Content: request.System,
		})
	}

	messages = append(messages, deepseek.ChatCompletionMessage{
		Role:    deepseek.ChatMessageRoleUser,
		Content: request.Prompt,
	})

	response, err := prvdr.client.CreateChatCompletion(ctx, &deepseek.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: float32(request.Options.Temperature),
		TopP:        float32(request.Options.TopP),
		MaxTokens:   request.Options.MaxTokens,
	})
	if err != nil {
		log.Debug("deepseek chat failed", "model", model, "error", err)
		return "", err
	}

	if len(response.Choices) == 0 || response.Choices[0].Message.Content == "" {
		return "", errors.ErrEmptyResponse
	}

	return response.Choices[0].Message.Content, nil
}

/*
WithDeepseekClient builds the client. An empty apiKey reads DEEPSEEK_API_KEY
and a baseURL points it at any compatible endpoint.
*/
func WithDeepseekClient(baseURL, apiKey string) DeepseekProviderOption {
	return func(prvdr *DeepseekProvider) {
		if apiKey == "" {
			apiKey = os.Getenv("DEEPSEEK_API_KEY")
		}

		if baseURL == "" {
			prvdr.client = deepseek.NewClient(apiKey)
			return
		}

		if !strings.HasSuffix(baseURL, "/") {
			baseURL += "/"
		}

		prvdr.client = deepseek.NewClient(apiKey, baseURL)
	}
}
