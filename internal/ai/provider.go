package ai

import "context"

// SettingsGetter is a minimal interface so the ai package does not import settings.
type SettingsGetter interface {
	GetSetting(key string) (string, error)
}

// Kind selects the outbound request shape.
type Kind string

const (
	KindClassify      Kind = "classify"
	KindGenerateText  Kind = "generate_text"
	KindGenerateImage Kind = "generate_image"
)

// Backend is the interface all AI backends implement. One Invoke is exactly
// one outbound call.
type Backend interface {
	Invoke(ctx context.Context, req Request) ([]string, error)
	Name() string // "http" or "sdk"
}

// Request is a backend-agnostic request.
type Request struct {
	Kind         Kind
	Prompt       string
	Instructions string
	History      []Message

	// Key is the resolved credential. Empty sends no Authorization header.
	Key string

	ImageSize int // edge in pixels, image requests only
	Count     int // number of images, image requests only
}

// Message is a prior conversation turn sent as context.
type Message struct {
	Role    string // "system", "user", "assistant"
	Content string
}

func (r Request) imageSize() int {
	if r.ImageSize <= 0 {
		return 256
	}
	return r.ImageSize
}

func (r Request) count() int {
	if r.Count <= 0 {
		return 1
	}
	return r.Count
}

// chatMessages assembles system instructions, history and the prompt.
func (r Request) chatMessages() []Message {
	msgs := make([]Message, 0, len(r.History)+2)
	if r.Instructions != "" {
		msgs = append(msgs, Message{Role: "system", Content: r.Instructions})
	}
	msgs = append(msgs, r.History...)
	msgs = append(msgs, Message{Role: "user", Content: r.Prompt})
	return msgs
}
