package provider

import (
	"context"
	"os"

	"github.com/charmbracelet/log"
	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/theapemachine/gridswarm/pkg/errors"
)

/*
OpenAIProvider works against the OpenAI API or any server that speaks the
same chat completions protocol, such as llama.cpp or vLLM.
*/
type OpenAIProvider struct {
	client *openai.Client
}

type OpenAIProviderOption func(*OpenAIProvider)

func NewOpenAIProvider(options ...OpenAIProviderOption) *OpenAIProvider {
	prvdr := &OpenAIProvider{}

	for _, option := range options {
		option(prvdr)
	}

	if prvdr.client == nil {
		WithOpenAIClient("", "")(prvdr)
	}

	return prvdr
}

func (prvdr *OpenAIProvider) Name() string {
	return "openai"
}

func (prvdr *OpenAIProvider) Chat(ctx context.Context, request Request) (string, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if request.System != "" {
		messages = append(messages, openai.SystemMessage(request.System))
	}
	messages = append(messages, openai.UserMessage(request.Prompt))

	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(request.Model),
		Messages:    messages,
		Temperature: openai.Float(request.Options.Temperature),
		TopP:        openai.Float(request.Options.TopP),
	}

	if request.Options.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(request.Options.MaxTokens))
	}

	completion, err := prvdr.client.Chat.Completions.New(ctx, params)
	if err != nil {
		log.Debug("openai chat failed", "model", request.Model, "error", err)
		return "", err
	}

	if len(completion.Choices) == 0 || completion.Choices[0].Message.Content == "" {
		return "", errors.ErrEmptyResponse
	}

	return completion.Choices[0].Message.Content, nil
}

/*
WithOpenAIClient builds the client. An empty baseURL uses the public API,
an empty apiKey reads OPENAI_API_KEY. Retries are disabled so one task is
one request.
*/
func WithOpenAIClient(baseURL, apiKey string) OpenAIProviderOption {
	return func(prvdr *OpenAIProvider) {
		if apiKey == "" {
			apiKey = os.Getenv("OPENAI_API_KEY")
		}

		opts := []option.RequestOption{
			option.WithAPIKey(apiKey),
			option.WithMaxRetries(0),
		}

		if baseURL != "" {
			opts = append(opts, option.WithBaseURL(baseURL))
		}

		client := openai.NewClient(opts...)
		prvdr.client = &client
	}
}
