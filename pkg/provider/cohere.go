package provider

import (
	"context"
	"os"

	"github.com/charmbracelet/log"
	cohere "github.com/cohere-ai/cohere-go/v2"
	cohereclient "github.com/cohere-ai/cohere-go/v2/client"
	cohereoption "github.com/cohere-ai/cohere-go/v2/option"
	"github.com/theapemachine/gridswarm/pkg/errors"
)

/*
CohereProvider is a provider for the Cohere chat API. The system prompt
travels as the preamble.
*/
type CohereProvider struct {
	client *cohereclient.Client
}

type CohereProviderOption func(*CohereProvider)

func NewCohereProvider(options ...CohereProviderOption) *CohereProvider {
	prvdr := &CohereProvider{}

	for _, option := range options {
		option(prvdr)
	}

	if prvdr.client == nil {
		WithCohereClient("", "")(prvdr)
	}

	return prvdr
}

func (prvdr *CohereProvider) Name() string {
	return "cohere"
}

func (prvdr *CohereProvider) Chat(ctx context.Context, request Request) (string, error) {
	model := request.Model
	temperature := request.Options.Temperature
	topP := request.Options.TopP

	params := &cohere.ChatRequest{
		Message:     request.Prompt,
		Model:       &model,
		Temperature: &temperature,
		P:           &topP,
	}

	if request.Options.TopK > 0 {
		topK := request.Options.TopK
		params.K = &topK
	}

	if request.Options.MaxTokens > 0 {
		maxTokens := request.Options.MaxTokens
		params.MaxTokens = &maxTokens
	}

	if request.System != "" {
		params.Preamble = cohere.String(request.System)
	}

	response, err := prvdr.client.Chat(ctx, params)
	if err != nil {
		log.Debug("cohere chat failed", "model", request.Model, "error", err)
		return "", err
	}

	if response.GetText() == "" {
		return "", errors.ErrEmptyResponse
	}

	return response.GetText(), nil
}

// WithCohereClient builds the client; an empty apiKey reads COHERE_API_KEY.
func WithCohereClient(baseURL, apiKey string) CohereProviderOption {
	return func(prvdr *CohereProvider) {
		if apiKey == "" {
			apiKey = os.Getenv("COHERE_API_KEY")
		}

		opts := []cohereoption.RequestOption{
			cohereoption.WithToken(apiKey),
		}

		if baseURL != "" {
			opts = append(opts, cohereoption.WithBaseURL(baseURL))
		}

		prvdr.client = cohereclient.NewClient(opts...)
	}
}
