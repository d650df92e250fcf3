package models

import "strings"

// Source identifies who authored a message.
type Source string

const (
	SourceHuman Source = "human"
	SourceAi    Source = "ai"
)

// ContentKind describes how a message's responses should be interpreted.
type ContentKind string

const (
	ContentError ContentKind = "error"
	ContentText  ContentKind = "text"
	ContentImage ContentKind = "image"
)

// Intent values recognised by the response pipeline.
const (
	IntentText  = "text"
	IntentImage = "image"
)

// Message is one entry in the conversation log. ID always equals the entry's
// position in the log and changes when earlier entries are removed; UID is
// assigned once by the store and never changes.
type Message struct {
	ID          int         `json:"id"`
	UID         string      `json:"uid,omitempty"`
	Source      Source      `json:"source"`
	ContentKind ContentKind `json:"contentKind"`
	Intent      string      `json:"intent,omitempty"`
	Prompt      string      `json:"prompt,omitempty"`
	ImagePrompt string      `json:"imagePrompt,omitempty"`
	Responses   []string    `json:"responses,omitempty"`
	Pinned      bool        `json:"pinned,omitempty"`

	// RenderOverride is an opaque UI payload. It is never persisted.
	RenderOverride any `json:"-"`
}

// Pending reports whether the message is still waiting for a response.
func (m Message) Pending() bool {
	return m.Responses == nil
}

// Text joins all responses into a single string.
func (m Message) Text() string {
	return strings.Join(m.Responses, "\n\n")
}

// Clone returns a deep copy of the message.
func (m Message) Clone() Message {
	if m.Responses != nil {
		r := make([]string, len(m.Responses))
		copy(r, m.Responses)
		m.Responses = r
	}
	return m
}

// Delta is a partial update to a Message. Only non-nil fields are applied.
// A non-nil Responses pointing at a nil slice marks the message pending again.
type Delta struct {
	ContentKind *ContentKind
	Intent      *string
	Prompt      *string
	ImagePrompt *string
	Responses   *[]string
	Pinned      *bool
}

// Apply merges the fields present in d into m.
func (d Delta) Apply(m *Message) {
	if d.ContentKind != nil {
		m.ContentKind = *d.ContentKind
	}
	if d.Intent != nil {
		m.Intent = *d.Intent
	}
	if d.Prompt != nil {
		m.Prompt = *d.Prompt
	}
	if d.ImagePrompt != nil {
		m.ImagePrompt = *d.ImagePrompt
	}
	if d.Responses != nil {
		if *d.Responses == nil {
			m.Responses = nil
		} else {
			r := make([]string, len(*d.Responses))
			copy(r, *d.Responses)
			m.Responses = r
		}
	}
	if d.Pinned != nil {
		m.Pinned = *d.Pinned
	}
}

// Ptr returns a pointer to v. Handy for building a Delta.
func Ptr[T any](v T) *T {
	return &v
}

// ClearResponses is the Responses value that re-arms a message.
func ClearResponses() *[]string {
	var none []string
	return &none
}

// Settings is the durable preference record persisted under the settings key.
type Settings struct {
	APIKey        string `json:"apiKey,omitempty"`
	RememberKey   bool   `json:"rememberKey,omitempty"`
	AIEndpoint    string `json:"aiEndpoint,omitempty"`
	ChatModel     string `json:"chatModel,omitempty"`
	Backend       string `json:"backend,omitempty"`
	ImageSize     int    `json:"imageSize,omitempty"`
	ResponseCount int    `json:"responseCount,omitempty"`
}

// Stage is a step of the response pipeline state machine.
type Stage string

const (
	StageInit              Stage = "init"
	StageClassifyIntent    Stage = "classify_intent"
	StageRefineImagePrompt Stage = "refine_image_prompt"
	StageGenerateImage     Stage = "generate_image"
	StageGenerateText      Stage = "generate_text"
	StageDone              Stage = "done"
	StageError             Stage = "error"
)

// Progress returns the user-facing progress text for a stage.
func (s Stage) Progress() string {
	switch s {
	case StageInit, StageClassifyIntent:
		return "Identifying intent..."
	case StageRefineImagePrompt:
		return "Generating keywords for an image..."
	case StageGenerateImage:
		return "Generating image..."
	case StageGenerateText:
		return "Generating text..."
	default:
		return "Done loading"
	}
}

// TrialStatus summarises the trial ledger for a welcome message.
type TrialStatus struct {
	Consumed      int  `json:"consumed"`
	Limit         int  `json:"limit"`
	Remaining     int  `json:"remaining"`
	HasFallback   bool `json:"has_fallback_key"`
	HasCredential bool `json:"has_credential"`
}
