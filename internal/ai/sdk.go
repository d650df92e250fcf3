package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/pkg/errors"
	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

// SDKBackend uses the go-openai client. The client is built per call because
// the key and endpoint can change between requests.
type SDKBackend struct {
	httpClient *http.Client
	settings   SettingsGetter
	limiter    *rate.Limiter
}

func NewSDKBackend(sg SettingsGetter, httpClient *http.Client, limiter *rate.Limiter) *SDKBackend {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &SDKBackend{
		httpClient: httpClient,
		settings:   sg,
		limiter:    limiter,
	}
}

func (s *SDKBackend) Name() string { return "sdk" }

func (s *SDKBackend) client(key string) *openai.Client {
	cfg := openai.DefaultConfig(key)
	cfg.BaseURL = setting(s.settings, "ai_endpoint", DefaultEndpoint)
	cfg.HTTPClient = s.httpClient
	return openai.NewClientWithConfig(cfg)
}

func (s *SDKBackend) Invoke(ctx context.Context, req Request) ([]string, error) {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, transportError(req.Kind, err, "rate limiter")
		}
	}

	c := s.client(req.Key)

	if req.Kind == KindGenerateImage {
		resp, err := c.CreateImage(ctx, openai.ImageRequest{
			Prompt:         req.Prompt,
			N:              req.count(),
			Size:           fmt.Sprintf("%dx%d", req.imageSize(), req.imageSize()),
			ResponseFormat: openai.CreateImageResponseFormatURL,
		})
		if err != nil {
			return nil, classifySDKError(req.Kind, err)
		}
		out := make([]string, 0, len(resp.Data))
		for _, d := range resp.Data {
			if d.URL != "" {
				out = append(out, d.URL)
			}
		}
		if len(out) == 0 {
			return nil, parseError(req.Kind, "no image URLs in response")
		}
		return out, nil
	}

	msgs := req.chatMessages()
	wire := make([]openai.ChatCompletionMessage, len(msgs))
	for i, m := range msgs {
		wire[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}

	resp, err := c.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    setting(s.settings, "chat_model", DefaultChatModel),
		Messages: wire,
	})
	if err != nil {
		return nil, classifySDKError(req.Kind, err)
	}
	if len(resp.Choices) == 0 {
		return nil, parseError(req.Kind, "no choices in response")
	}
	return []string{resp.Choices[0].Message.Content}, nil
}

// classifySDKError maps go-openai errors onto the shared taxonomy.
func classifySDKError(kind Kind, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		slog.Error("AI backend error", "kind", kind, "status", apiErr.HTTPStatusCode, "error", apiErr.Message)
		msg := apiErr.Message
		if msg == "" {
			msg = "The AI service reported an error without a message."
		}
		return backendError(kind, msg)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return parseError(kind, "unexpected status %d", reqErr.HTTPStatusCode)
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return parseError(kind, "decode response: %v", err)
	}

	return transportError(kind, err, "sdk request")
}
