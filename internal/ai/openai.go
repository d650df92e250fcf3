package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"
)

// Chat/completions and images/generations wire types (unexported).

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type imageRequest struct {
	Prompt         string `json:"prompt"`
	N              int    `json:"n"`
	Size           string `json:"size"`
	ResponseFormat string `json:"response_format"`
}

// HTTPBackend talks to an OpenAI-compatible endpoint with plain HTTP and
// reads responses with gjson so an error envelope is recognised whatever
// the status code.
type HTTPBackend struct {
	httpClient *http.Client
	settings   SettingsGetter
	limiter    *rate.Limiter
}

// NewHTTPBackend creates an HTTP backend. A nil limiter disables pacing.
func NewHTTPBackend(sg SettingsGetter, httpClient *http.Client, limiter *rate.Limiter) *HTTPBackend {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Minute}
	}
	return &HTTPBackend{
		httpClient: httpClient,
		settings:   sg,
		limiter:    limiter,
	}
}

func (h *HTTPBackend) Name() string { return "http" }

func (h *HTTPBackend) Invoke(ctx context.Context, req Request) ([]string, error) {
	endpoint := setting(h.settings, "ai_endpoint", DefaultEndpoint)

	var (
		path    string
		payload any
	)
	switch req.Kind {
	case KindGenerateImage:
		path = "/images/generations"
		payload = imageRequest{
			Prompt:         req.Prompt,
			N:              req.count(),
			Size:           fmt.Sprintf("%dx%d", req.imageSize(), req.imageSize()),
			ResponseFormat: "url",
		}
	default:
		path = "/chat/completions"
		msgs := req.chatMessages()
		wire := make([]chatMessage, len(msgs))
		for i, m := range msgs {
			wire[i] = chatMessage{Role: m.Role, Content: m.Content}
		}
		payload = chatRequest{
			Model:    setting(h.settings, "chat_model", DefaultChatModel),
			Messages: wire,
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, parseError(req.Kind, "marshal request: %v", err)
	}

	if h.limiter != nil {
		if err := h.limiter.Wait(ctx); err != nil {
			return nil, transportError(req.Kind, err, "rate limiter")
		}
	}

	url := strings.TrimRight(endpoint, "/") + path
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return nil, transportError(req.Kind, err, "create request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if req.Key != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.Key)
	}

	resp, err := h.httpClient.Do(httpReq)
	if err != nil {
		return nil, transportError(req.Kind, err, "post %s", url)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transportError(req.Kind, err, "read response")
	}

	return decodeResponse(req.Kind, resp.StatusCode, respBody)
}

// decodeResponse maps a raw body to results or a classified error.
func decodeResponse(kind Kind, status int, body []byte) ([]string, error) {
	if !gjson.ValidBytes(body) {
		slog.Error("AI response is not JSON", "kind", kind, "status", status)
		return nil, parseError(kind, "response is not valid JSON (status %d)", status)
	}

	if msg, ok := extractError(body); ok {
		slog.Error("AI backend error", "kind", kind, "status", status, "error", msg)
		return nil, backendError(kind, msg)
	}

	if status < 200 || status > 299 {
		return nil, parseError(kind, "unexpected status %d", status)
	}

	switch kind {
	case KindGenerateImage:
		urls := gjson.GetBytes(body, "data.#.url").Array()
		out := make([]string, 0, len(urls))
		for _, u := range urls {
			if u.Type == gjson.String && u.String() != "" {
				out = append(out, u.String())
			}
		}
		if len(out) == 0 {
			return nil, parseError(kind, "no image URLs in response")
		}
		return out, nil
	default:
		content := gjson.GetBytes(body, "choices.0.message.content")
		if content.Type != gjson.String {
			return nil, parseError(kind, "no message content in response")
		}
		return []string{content.String()}, nil
	}
}

// extractError reads the {"error":{"message":...}} envelope. A bare string
// error field is accepted too.
func extractError(body []byte) (string, bool) {
	e := gjson.GetBytes(body, "error")
	if !e.Exists() || e.Type == gjson.Null {
		return "", false
	}
	if e.Type == gjson.String {
		return e.String(), true
	}
	if msg := e.Get("message"); msg.Type == gjson.String && msg.String() != "" {
		return msg.String(), true
	}
	return "The AI service reported an error without a message.", true
}

// setting reads key from sg, falling back when unset or unreadable.
func setting(sg SettingsGetter, key, fallback string) string {
	if sg == nil {
		return fallback
	}
	v, err := sg.GetSetting(key)
	if err != nil || v == "" {
		return fallback
	}
	return v
}
