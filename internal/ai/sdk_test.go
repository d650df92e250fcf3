package ai

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSDKBackend(url string) *SDKBackend {
	return NewSDKBackend(mapSettings{"ai_endpoint": url, "chat_model": "test-model"}, nil, nil)
}

func TestSDKBackendChat(t *testing.T) {
	var got capture
	srv := newServer(t, 200, `{"id":"1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"from sdk"}}]}`, &got)

	out, err := newSDKBackend(srv.URL).Invoke(context.Background(), Request{Kind: KindGenerateText, Prompt: "hi", Key: "sk-test"})
	require.NoError(t, err)
	assert.Equal(t, []string{"from sdk"}, out)
	assert.Equal(t, "/chat/completions", got.path)
	assert.Equal(t, "Bearer sk-test", got.auth)
	assert.Equal(t, "test-model", got.body["model"])
}

func TestSDKBackendImage(t *testing.T) {
	var got capture
	srv := newServer(t, 200, `{"created":1,"data":[{"url":"https://img/a.png"}]}`, &got)

	out, err := newSDKBackend(srv.URL).Invoke(context.Background(), Request{Kind: KindGenerateImage, Prompt: "dog", ImageSize: 1024})
	require.NoError(t, err)
	assert.Equal(t, []string{"https://img/a.png"}, out)
	assert.Equal(t, "/images/generations", got.path)
	assert.Equal(t, "1024x1024", got.body["size"])
}

func TestSDKBackendErrorEnvelope(t *testing.T) {
	srv := newServer(t, 401, `{"error":{"message":"Incorrect API key provided","type":"invalid_request_error"}}`, nil)

	_, err := newSDKBackend(srv.URL).Invoke(context.Background(), Request{Kind: KindGenerateText, Prompt: "x"})
	require.Error(t, err)
	assert.Equal(t, ClassBackend, ClassOf(err))
	assert.Equal(t, "Incorrect API key provided", UserMessage(err))
}

func TestSDKBackendTransportError(t *testing.T) {
	srv := newServer(t, 200, `{}`, nil)
	url := srv.URL
	srv.Close()

	_, err := newSDKBackend(url).Invoke(context.Background(), Request{Kind: KindGenerateText, Prompt: "x"})
	assert.Equal(t, ClassTransport, ClassOf(err))
}
