package provider

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
	"github.com/theapemachine/gridswarm/pkg/errors"
)

func fakeServer(path string, handle func(body map[string]any) any) (*httptest.Server, *map[string]any) {
	seen := map[string]any{}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, path) {
			http.NotFound(w, r)
			return
		}

		_ = json.NewDecoder(r.Body).Decode(&seen)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(handle(seen))
	}))

	return server, &seen
}

func TestNew(t *testing.T) {
	Convey("Given provider names", t, func() {
		Convey("Then known names resolve", func() {
			for _, name := range []string{"ollama", "openai", "anthropic", "cohere", "deepseek", "google"} {
				prvdr, err := New(name, "http://localhost:1", "key")
				So(err, ShouldBeNil)
				So(prvdr.Name(), ShouldEqual, name)
			}
		})

		Convey("Then unknown names fail", func() {
			_, err := New("mistral", "", "")
			So(stderrors.Is(err, errors.ErrUnknownProvider), ShouldBeTrue)
		})

		Convey("Then a malformed ollama host fails", func() {
			_, err := New("ollama", "://nope", "")
			So(err, ShouldNotBeNil)
		})
	})
}

func TestOllamaChat(t *testing.T) {
	Convey("Given a fake ollama server", t, func() {
		server, seen := fakeServer("/api/chat", func(map[string]any) any {
			return map[string]any{
				"model":   "llama3.2:1b",
				"message": map[string]any{"role": "assistant", "content": "pong"},
				"done":    true,
			}
		})
		defer server.Close()

		prvdr, err := NewOllamaProvider(WithOllamaHost(server.URL))
		So(err, ShouldBeNil)

		reply, err := prvdr.Chat(context.Background(), Request{
			Model:   "llama3.2:1b",
			Prompt:  "ping",
			Options: DefaultOptions(),
		})

		Convey("Then the reply text is returned", func() {
			So(err, ShouldBeNil)
			So(reply, ShouldEqual, "pong")
		})

		Convey("Then sampling options are sent", func() {
			options := (*seen)["options"].(map[string]any)
			So(options["num_ctx"], ShouldEqual, 2048.0)
			So(options["top_k"], ShouldEqual, 40.0)
			So((*seen)["stream"], ShouldEqual, false)
		})
	})

	Convey("Given a server that returns an empty message", t, func() {
		server, _ := fakeServer("/api/chat", func(map[string]any) any {
			return map[string]any{"message": map[string]any{"role": "assistant", "content": ""}, "done": true}
		})
		defer server.Close()

		prvdr, _ := NewOllamaProvider(WithOllamaHost(server.URL))
		_, err := prvdr.Chat(context.Background(), Request{Model: "m", Prompt: "p"})

		Convey("Then the empty reply is an error", func() {
			So(stderrors.Is(err, errors.ErrEmptyResponse), ShouldBeTrue)
		})
	})
}

func TestOpenAIChat(t *testing.T) {
	Convey("Given a fake OpenAI compatible server", t, func() {
		server, seen := fakeServer("/v1/chat/completions", func(map[string]any) any {
			return map[string]any{
				"id":      "chatcmpl-1",
				"object":  "chat.completion",
				"created": 1,
				"model":   "local",
				"choices": []map[string]any{{
					"index":         0,
					"finish_reason": "stop",
					"message":       map[string]any{"role": "assistant", "content": "pong"},
				}},
			}
		})
		defer server.Close()

		prvdr := NewOpenAIProvider(WithOpenAIClient(server.URL+"/v1/", "test"))

		reply, err := prvdr.Chat(context.Background(), Request{
			Model:   "local",
			Prompt:  "ping",
			Options: DefaultOptions(),
		})

		Convey("Then the first choice is returned", func() {
			So(err, ShouldBeNil)
			So(reply, ShouldEqual, "pong")
			So((*seen)["model"], ShouldEqual, "local")
		})
	})
}

func TestAnthropicChat(t *testing.T) {
	Convey("Given a fake Anthropic server", t, func() {
		server, seen := fakeServer("/v1/messages", func(map[string]any) any {
			return map[string]any{
				"id":          "msg_1",
				"type":        "message",
				"role":        "assistant",
				"model":       "claude-3-5-haiku-latest",
				"stop_reason": "end_turn",
				"content":     []map[string]any{{"type": "text", "text": "pong"}},
				"usage":       map[string]any{"input_tokens": 1, "output_tokens": 1},
			}
		})
		defer server.Close()

		prvdr := NewAnthropicProvider(WithAnthropicClient(server.URL+"/", "test"))

		reply, err := prvdr.Chat(context.Background(), Request{
			Model:  "claude-3-5-haiku-latest",
			System: "be brief",
			Prompt: "ping",
		})

		Convey("Then text blocks are joined", func() {
			So(err, ShouldBeNil)
			So(reply, ShouldEqual, "pong")
			So((*seen)["max_tokens"], ShouldEqual, 512.0)
		})
	})
}

func TestCohereChat(t *testing.T) {
	Convey("Given a fake Cohere server", t, func() {
		server, seen := fakeServer("/v1/chat", func(map[string]any) any {
			return map[string]any{
				"text":          "pong",
				"generation_id": "gen-1",
				"finish_reason": "COMPLETE",
			}
		})
		defer server.Close()

		prvdr := NewCohereProvider(WithCohereClient(server.URL, "test"))

		reply, err := prvdr.Chat(context.Background(), Request{
			Model:   "command-r",
			System:  "be brief",
			Prompt:  "ping",
			Options: DefaultOptions(),
		})

		Convey("Then the reply text is returned", func() {
			So(err, ShouldBeNil)
			So(reply, ShouldEqual, "pong")
		})

		Convey("Then the system prompt becomes the preamble", func() {
			So((*seen)["message"], ShouldEqual, "ping")
			So((*seen)["preamble"], ShouldEqual, "be brief")
			So((*seen)["model"], ShouldEqual, "command-r")
			So((*seen)["max_tokens"], ShouldEqual, 512.0)
		})
	})

	Convey("Given a Cohere server that answers with no text", t, func() {
		server, _ := fakeServer("/v1/chat", func(map[string]any) any {
			return map[string]any{"text": ""}
		})
		defer server.Close()

		_, err := NewCohereProvider(WithCohereClient(server.URL, "test")).Chat(
			context.Background(), Request{Model: "command-r", Prompt: "ping"},
		)

		Convey("Then the empty reply is an error", func() {
			So(stderrors.Is(err, errors.ErrEmptyResponse), ShouldBeTrue)
		})
	})
}

func TestDeepseekChat(t *testing.T) {
	Convey("Given a fake DeepSeek server", t, func() {
		server, seen := fakeServer("/chat/completions", func(map[string]any) any {
			return map[string]any{
				"id":      "ds-1",
				"object":  "chat.completion",
				"created": 1,
				"model":   "deepseek-chat",
				"choices": []map[string]any{{
					"index":         0,
					"finish_reason": "stop",
					"message":       map[string]any{"role": "assistant", "content": "pong"},
				}},
			}
		})
		defer server.Close()

		prvdr := NewDeepseekProvider(WithDeepseekClient(server.URL, "test"))

		reply, err := prvdr.Chat(context.Background(), Request{
			System:  "be brief",
			Prompt:  "ping",
			Options: DefaultOptions(),
		})

		Convey("Then the first choice is returned", func() {
			So(err, ShouldBeNil)
			So(reply, ShouldEqual, "pong")
		})

		Convey("Then an empty model falls back to deepseek-chat", func() {
			So((*seen)["model"], ShouldEqual, "deepseek-chat")

			messages := (*seen)["messages"].([]any)
			So(messages, ShouldHaveLength, 2)
			So(messages[0].(map[string]any)["role"], ShouldEqual, "system")
		})
	})
}

func TestGoogleChat(t *testing.T) {
	Convey("Given a fake Gemini server", t, func() {
		server, seen := fakeServer(":generateContent", func(map[string]any) any {
			return map[string]any{
				"candidates": []map[string]any{{
					"content": map[string]any{
						"role":  "model",
						"parts": []map[string]any{{"text": "pong"}},
					},
					"finishReason": "STOP",
				}},
			}
		})
		defer server.Close()

		prvdr, err := NewGoogleProvider(WithGoogleClient(server.URL, "test"))
		So(err, ShouldBeNil)

		reply, err := prvdr.Chat(context.Background(), Request{
			Model:   "gemini-2.0-flash",
			System:  "be brief",
			Prompt:  "ping",
			Options: DefaultOptions(),
		})

		Convey("Then the candidate text is returned", func() {
			So(err, ShouldBeNil)
			So(reply, ShouldEqual, "pong")
		})

		Convey("Then the system prompt and limits are sent", func() {
			So((*seen)["systemInstruction"], ShouldNotBeNil)

			config := (*seen)["generationConfig"].(map[string]any)
			So(config["maxOutputTokens"], ShouldEqual, 512.0)
			So(config["topK"], ShouldEqual, 40.0)
		})
	})

	Convey("Given a Gemini server with no candidates", t, func() {
		server, _ := fakeServer(":generateContent", func(map[string]any) any {
			return map[string]any{"candidates": []any{}}
		})
		defer server.Close()

		prvdr, err := NewGoogleProvider(WithGoogleClient(server.URL, "test"))
		So(err, ShouldBeNil)

		_, err = prvdr.Chat(context.Background(), Request{Model: "gemini-2.0-flash", Prompt: "ping"})

		Convey("Then the empty reply is an error", func() {
			So(stderrors.Is(err, errors.ErrEmptyResponse), ShouldBeTrue)
		})
	})
}
