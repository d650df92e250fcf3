package ai

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/thinkscotty/artichat/internal/metrics"
)

const (
	DefaultEndpoint  = "https://api.openai.com/v1"
	DefaultChatModel = "gpt-3.5-turbo"
)

// Options tunes the shared transport.
type Options struct {
	RequestsPerSecond float64
	Timeout           time.Duration
}

// Client is the main AI entry point. It routes each request to the backend
// selected by the "ai_backend" setting and records call metrics.
type Client struct {
	backends map[string]Backend
	settings SettingsGetter
	metrics  *metrics.Exporter
}

// NewClient creates a client with both backends sharing one rate limiter.
func NewClient(sg SettingsGetter, m *metrics.Exporter, opts Options) *Client {
	var limiter *rate.Limiter
	if opts.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}
	httpClient := &http.Client{Timeout: opts.Timeout}

	return NewClientWithBackends(sg, m, NewHTTPBackend(sg, httpClient, limiter), NewSDKBackend(sg, httpClient, limiter))
}

// NewClientWithBackends builds a client over explicit backends. The first
// backend is the default.
func NewClientWithBackends(sg SettingsGetter, m *metrics.Exporter, backends ...Backend) *Client {
	c := &Client{
		backends: make(map[string]Backend, len(backends)),
		settings: sg,
		metrics:  m,
	}
	for i, b := range backends {
		c.backends[b.Name()] = b
		if i == 0 {
			c.backends[""] = b
		}
	}
	return c
}

func (c *Client) resolveBackend() Backend {
	name := setting(c.settings, "ai_backend", "")
	if b, ok := c.backends[name]; ok {
		return b
	}
	return c.backends[""]
}

// Invoke performs one outbound call.
func (c *Client) Invoke(ctx context.Context, req Request) ([]string, error) {
	b := c.resolveBackend()
	start := time.Now()
	out, err := b.Invoke(ctx, req)
	elapsed := time.Since(start)

	result := "ok"
	if err != nil {
		result = string(ClassOf(err))
		if result == "" {
			result = "unknown"
		}
		slog.Warn("AI call failed", "backend", b.Name(), "kind", req.Kind, "duration", elapsed, "error", err)
	} else {
		slog.Debug("AI call complete", "backend", b.Name(), "kind", req.Kind, "duration", elapsed, "results", len(out))
	}
	c.metrics.BackendCall(b.Name(), string(req.Kind), result, elapsed)
	return out, err
}
