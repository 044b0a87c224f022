package provider

import (
	"context"
	"os"

	"github.com/charmbracelet/log"
	"github.com/theapemachine/gridswarm/pkg/errors"
	"google.golang.org/genai"
)

/*
GoogleProvider is a provider for the Gemini API. The system prompt is sent
as the system instruction.
*/
type GoogleProvider struct {
	client *genai.Client
	err    error
}

type GoogleProviderOption func(*GoogleProvider)

func NewGoogleProvider(options ...GoogleProviderOption) (*GoogleProvider, error) {
	prvdr := &GoogleProvider{}

	for _, option := range options {
		option(prvdr)
	}

	if prvdr.client == nil && prvdr.err == nil {
		WithGoogleClient("", "")(prvdr)
	}

	if prvdr.err != nil {
		return nil, prvdr.err
	}

	return prvdr, nil
}

func (prvdr *GoogleProvider) Name() string {
	return "google"
}

func (prvdr *GoogleProvider) Chat(ctx context.Context, request Request) (string, error) {
	config := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(request.Options.Temperature)),
		TopP:        genai.Ptr(float32(request.Options.TopP)),
	}

	if request.Options.TopK > 0 {
		config.TopK = genai.Ptr(float32(request.Options.TopK))
	}

	if request.Options.MaxTokens > 0 {
		config.MaxOutputTokens = int32(request.Options.MaxTokens)
	}

	if request.System != "" {
		config.SystemInstruction = genai.NewContentFromText(request.System, genai.RoleUser)
	}

	response, err := prvdr.client.Models.GenerateContent(
		ctx,
		request.Model,
		[]*genai.Content{genai.NewContentFromText(request.Prompt, genai.RoleUser)},
		config,
	)
	if err != nil {
		log.Debug("google chat failed", "model", request.Model, "error", err)
		return "", err
	}

	reply := response.Text()
	if reply == "" {
		return "", errors.ErrEmptyResponse
	}

	return reply, nil
}

/*
WithGoogleClient builds a Gemini API client. An empty apiKey reads
GOOGLE_API_KEY, and baseURL overrides the public endpoint.
*/
func WithGoogleClient(baseURL, apiKey string) GoogleProviderOption {
	return func(prvdr *GoogleProvider) {
		if apiKey == "" {
			apiKey = os.Getenv("GOOGLE_API_KEY")
		}

		config := &genai.ClientConfig{
			APIKey:  apiKey,
			Backend: genai.BackendGeminiAPI,
		}

		if baseURL != "" {
			config.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
		}

		prvdr.client, prvdr.err = genai.NewClient(context.Background(), config)
	}
}
