package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/ollama/ollama/api"
	"github.com/theapemachine/gridswarm/pkg/errors"
)

/*
OllamaProvider talks to a local or remote Ollama server.
*/
type OllamaProvider struct {
	client *api.Client
	host   string
	err    error
}

type OllamaProviderOption func(*OllamaProvider)

func NewOllamaProvider(options ...OllamaProviderOption) (*OllamaProvider, error) {
	prvdr := &OllamaProvider{}

	for _, option := range options {
		option(prvdr)
	}

	if prvdr.err != nil {
		return nil, prvdr.err
	}

	if prvdr.client == nil {
		client, err := api.ClientFromEnvironment()
		if err != nil {
			return nil, fmt.Errorf("create ollama client: %w", err)
		}
		prvdr.client = client
	}

	return prvdr, nil
}

func (prvdr *OllamaProvider) Name() string {
	return "ollama"
}

// Chat sends one non-streaming chat request and returns the reply text.
func (prvdr *OllamaProvider) Chat(ctx context.Context, request Request) (string, error) {
	stream := false

	messages := make([]api.Message, 0, 2)
	if request.System != "" {
		messages = append(messages, api.Message{Role: "system", Content: request.System})
	}
	messages = append(messages, api.Message{Role: "user", Content: request.Prompt})

	req := &api.ChatRequest{
		Model:    request.Model,
		Messages: messages,
		Stream:   &stream,
		Options: map[string]any{
			"num_ctx":     request.Options.ContextLength,
			"temperature": request.Options.Temperature,
			"top_k":       request.Options.TopK,
			"top_p":       request.Options.TopP,
		},
	}

	var reply strings.Builder

	respFunc := func(resp api.ChatResponse) error {
		reply.WriteString(resp.Message.Content)
		return nil
	}

	if err := prvdr.client.Chat(ctx, req, respFunc); err != nil {
		log.Debug("ollama chat failed", "host", prvdr.host, "model", request.Model, "error", err)
		return "", err
	}

	if reply.Len() == 0 {
		return "", errors.ErrEmptyResponse
	}

	return reply.String(), nil
}

/*
WithOllamaHost points the client at host, for example
"http://localhost:11434". An empty host keeps the OLLAMA_HOST default.
*/
func WithOllamaHost(host string) OllamaProviderOption {
	return func(prvdr *OllamaProvider) {
		if host == "" {
			return
		}

		base, err := url.Parse(host)
		if err != nil {
			prvdr.err = fmt.Errorf("parse ollama host %q: %w", host, err)
			return
		}

		prvdr.host = host
		prvdr.client = api.NewClient(base, http.DefaultClient)
	}
}
