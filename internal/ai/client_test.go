package ai

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thinkscotty/artichat/internal/metrics"
)

type stubBackend struct {
	name  string
	calls int
	out   []string
	err   error
}

func (s *stubBackend) Name() string { return s.name }

func (s *stubBackend) Invoke(ctx context.Context, req Request) ([]string, error) {
	s.calls++
	return s.out, s.err
}

func TestClientRoutesBySetting(t *testing.T) {
	httpB := &stubBackend{name: "http", out: []string{"h"}}
	sdkB := &stubBackend{name: "sdk", out: []string{"s"}}
	settings := mapSettings{}

	c := NewClientWithBackends(settings, nil, httpB, sdkB)

	out, err := c.Invoke(context.Background(), Request{Kind: KindClassify})
	require.NoError(t, err)
	assert.Equal(t, []string{"h"}, out)

	settings["ai_backend"] = "sdk"
	out, err = c.Invoke(context.Background(), Request{Kind: KindClassify})
	require.NoError(t, err)
	assert.Equal(t, []string{"s"}, out)

	settings["ai_backend"] = "bogus"
	_, _ = c.Invoke(context.Background(), Request{Kind: KindClassify})
	assert.Equal(t, 2, httpB.calls)
	assert.Equal(t, 1, sdkB.calls)
}

func TestClientRecordsMetrics(t *testing.T) {
	m := metrics.New()
	b := &stubBackend{name: "http", err: backendError(KindGenerateText, "nope")}
	c := NewClientWithBackends(mapSettings{}, m, b)

	_, err := c.Invoke(context.Background(), Request{Kind: KindGenerateText})
	require.Error(t, err)

	count, err := testutil.GatherAndCount(m.Registry(), "artichat_backend_calls_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestUserMessage(t *testing.T) {
	assert.Equal(t, "", UserMessage(nil))
	assert.Equal(t, "plain", UserMessage(errors.New("plain")))
	assert.Equal(t, "quota exceeded", UserMessage(backendError(KindGenerateText, "quota exceeded")))
	assert.Equal(t, "no key", UserMessage(CredentialError(errors.New("no key"))))
	assert.Equal(t, genericFailure, UserMessage(parseError(KindClassify, "bad")))
	assert.Equal(t, ClassCredential, ClassOf(CredentialError(errors.New("x"))))
	assert.Equal(t, Class(""), ClassOf(errors.New("x")))

	stored := StorageError(errors.New("write trial ledger: disk full"))
	assert.Equal(t, genericFailure, UserMessage(stored))
	assert.Equal(t, ClassStorage, ClassOf(stored))
}
