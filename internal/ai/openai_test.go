package ai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapSettings map[string]string

func (m mapSettings) GetSetting(key string) (string, error) { return m[key], nil }

// capture records the last request a test server received.
type capture struct {
	path   string
	auth   string
	hasKey bool
	body   map[string]any
}

func newServer(t *testing.T, status int, body string, got *capture) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got != nil {
			got.path = r.URL.Path
			got.auth = r.Header.Get("Authorization")
			_, got.hasKey = r.Header["Authorization"]
			raw, _ := io.ReadAll(r.Body)
			_ = json.Unmarshal(raw, &got.body)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newHTTPBackend(url string) *HTTPBackend {
	return NewHTTPBackend(mapSettings{"ai_endpoint": url, "chat_model": "test-model"}, nil, nil)
}

func TestHTTPBackendChat(t *testing.T) {
	var got capture
	srv := newServer(t, 200, `{"choices":[{"message":{"role":"assistant","content":"hello there"}}]}`, &got)

	out, err := newHTTPBackend(srv.URL).Invoke(context.Background(), Request{
		Kind:         KindGenerateText,
		Prompt:       "hi",
		Instructions: TextInstructions,
		History:      []Message{{Role: "user", Content: "earlier"}, {Role: "assistant", Content: "reply"}},
		Key:          "sk-test",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"hello there"}, out)

	assert.Equal(t, "/chat/completions", got.path)
	assert.Equal(t, "Bearer sk-test", got.auth)
	assert.Equal(t, "test-model", got.body["model"])

	msgs, ok := got.body["messages"].([]any)
	require.True(t, ok)
	require.Len(t, msgs, 4)
	assert.Equal(t, "system", msgs[0].(map[string]any)["role"])
	assert.Equal(t, "earlier", msgs[1].(map[string]any)["content"])
	last := msgs[3].(map[string]any)
	assert.Equal(t, "user", last["role"])
	assert.Equal(t, "hi", last["content"])
}

func TestHTTPBackendOmitsAuthorizationWithoutKey(t *testing.T) {
	var got capture
	srv := newServer(t, 200, `{"choices":[{"message":{"content":"ok"}}]}`, &got)

	_, err := newHTTPBackend(srv.URL).Invoke(context.Background(), Request{Kind: KindClassify, Prompt: "x"})
	require.NoError(t, err)
	assert.False(t, got.hasKey)
}

func TestHTTPBackendImage(t *testing.T) {
	var got capture
	srv := newServer(t, 200, `{"created":1,"data":[{"url":"https://img/1.png"},{"url":"https://img/2.png"}]}`, &got)

	out, err := newHTTPBackend(srv.URL).Invoke(context.Background(), Request{
		Kind:      KindGenerateImage,
		Prompt:    "cat, photography",
		ImageSize: 512,
		Count:     2,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"https://img/1.png", "https://img/2.png"}, out)

	assert.Equal(t, "/images/generations", got.path)
	assert.Equal(t, "512x512", got.body["size"])
	assert.Equal(t, float64(2), got.body["n"])
	assert.Equal(t, "cat, photography", got.body["prompt"])
}

func TestHTTPBackendErrorClasses(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		class   Class
		message string
	}{
		{"envelope on 401", 401, `{"error":{"message":"Incorrect API key provided","type":"invalid_request_error"}}`, ClassBackend, "Incorrect API key provided"},
		{"envelope on 200", 200, `{"error":{"message":"model overloaded"}}`, ClassBackend, "model overloaded"},
		{"string error", 400, `{"error":"bad request"}`, ClassBackend, "bad request"},
		{"not json", 502, `<html>bad gateway</html>`, ClassParse, ""},
		{"missing content", 200, `{"choices":[]}`, ClassParse, ""},
		{"non-2xx without envelope", 500, `{"detail":"oops"}`, ClassParse, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newServer(t, tt.status, tt.body, nil)
			_, err := newHTTPBackend(srv.URL).Invoke(context.Background(), Request{Kind: KindGenerateText, Prompt: "x"})
			require.Error(t, err)
			assert.Equal(t, tt.class, ClassOf(err))
			if tt.message != "" {
				assert.Equal(t, tt.message, UserMessage(err))
			}
		})
	}
}

func TestHTTPBackendImageWithoutURLs(t *testing.T) {
	srv := newServer(t, 200, `{"data":[]}`, nil)
	_, err := newHTTPBackend(srv.URL).Invoke(context.Background(), Request{Kind: KindGenerateImage, Prompt: "x"})
	assert.Equal(t, ClassParse, ClassOf(err))
}

func TestHTTPBackendTransportError(t *testing.T) {
	srv := newServer(t, 200, `{}`, nil)
	url := srv.URL
	srv.Close()

	_, err := newHTTPBackend(url).Invoke(context.Background(), Request{Kind: KindGenerateText, Prompt: "x"})
	require.Error(t, err)
	assert.Equal(t, ClassTransport, ClassOf(err))
	assert.Equal(t, genericFailure, UserMessage(err))
}
