// Package session wires user actions into the conversation store and the
// response pipeline.
package session

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/thinkscotty/artichat/internal/ai"
	"github.com/thinkscotty/artichat/internal/auth"
	"github.com/thinkscotty/artichat/internal/config"
	"github.com/thinkscotty/artichat/internal/conversation"
	"github.com/thinkscotty/artichat/internal/metrics"
	"github.com/thinkscotty/artichat/internal/models"
	"github.com/thinkscotty/artichat/internal/pipeline"
	"github.com/thinkscotty/artichat/internal/settings"
	"github.com/thinkscotty/artichat/internal/usage"
)

var (
	ErrNotFound      = errors.New("message not found")
	ErrNotAiResponse = errors.New("message is not an AI response")
	ErrNotImage      = errors.New("message is not an image response")
)

// interruptedMessage replaces restored pending entries when resuming is off.
const interruptedMessage = "This response was interrupted. Regenerate it to try again."

// KV is the storage contract every component shares.
type KV interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
	Delete(key string) error
}

// Entry is a message as presented to a UI, with progress for pending ones.
type Entry struct {
	models.Message
	Stage    models.Stage `json:"stage,omitempty"`
	Progress string       `json:"progress,omitempty"`
}

type Controller struct {
	kv       KV
	store    *conversation.Store
	pipe     *pipeline.Pipeline
	gate     *usage.Gate
	settings *settings.Store
	resume   bool
	scroll   func()
}

// New builds every component from cfg. fallbackKey is the build-time or
// environment trial key.
func New(cfg config.Config, kv KV, fallbackKey string, hooks pipeline.Hooks, m *metrics.Exporter) *Controller {
	sealer := auth.NewSealer(os.Getenv(cfg.Secrets.PassphraseEnv))
	st := settings.New(kv, sealer, cfg.AI)
	gate := usage.NewGate(kv, cfg.Trial.Limit, fallbackKey, m)
	client := ai.NewClient(st, m, ai.Options{
		RequestsPerSecond: cfg.AI.RequestsPerSecond,
		Timeout:           time.Duration(cfg.AI.TimeoutSeconds) * time.Second,
	})
	store := conversation.NewStore(kv, conversation.DefaultKey, m)
	pipe := pipeline.New(store, client, gate, st, hooks, m, cfg.Pipeline.MaxConcurrentRuns)

	return &Controller{
		kv:       kv,
		store:    store,
		pipe:     pipe,
		gate:     gate,
		settings: st,
		resume:   cfg.Pipeline.ResumePending,
		scroll:   hooks.OnScrollToEnd,
	}
}

// Open restores settings and the conversation without starting any runs.
// Commands that only read or edit the log use it.
func (c *Controller) Open() error {
	if err := c.settings.Load(); err != nil {
		return err
	}
	return c.store.Load()
}

// Start opens the session and begins answering pending entries.
func (c *Controller) Start() error {
	if err := c.Open(); err != nil {
		return err
	}

	if !c.resume {
		for _, e := range c.store.Entries() {
			if e.Source == models.SourceAi && e.Pending() {
				c.store.Modify(e.ID, models.Delta{
					Responses:   &[]string{interruptedMessage},
					ContentKind: models.Ptr(models.ContentError),
				})
			}
		}
	}

	c.store.Subscribe(c.pipe.Sync)
	c.pipe.Sync(c.store.Entries())

	st := c.Status()
	slog.Info("Session started", "entries", c.store.Len(), "trial_remaining", st.Remaining, "has_key", st.HasCredential)
	return nil
}

// Close stops the pipeline and writes the log out.
func (c *Controller) Close(ctx context.Context) error {
	c.pipe.Close()
	if err := c.store.Flush(ctx); err != nil && !errors.Is(err, conversation.ErrClosed) {
		slog.Warn("Conversation flush failed", "error", err)
	}
	return c.store.Close()
}

// Submit appends the human turn and an Ai placeholder. Blank input is
// ignored and reported with ok == false.
func (c *Controller) Submit(text string) (id int, ok bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return -1, false
	}
	ids := c.store.Append(
		models.Message{Source: models.SourceHuman, ContentKind: models.ContentText, Responses: []string{text}},
		models.Message{Source: models.SourceAi, ContentKind: models.ContentText, Prompt: text},
	)
	if c.scroll != nil {
		c.scroll()
	}
	return ids[1], true
}

// Regenerate re-arms an Ai entry. A negative id means the last Ai entry.
func (c *Controller) Regenerate(id int) (int, error) {
	m, err := c.aiEntry(id)
	if err != nil {
		return -1, err
	}
	c.store.Modify(m.ID, models.Delta{
		Responses:   models.ClearResponses(),
		ContentKind: models.Ptr(models.ContentText),
	})
	return m.ID, nil
}

// RejectImage answers an image entry again, as text.
func (c *Controller) RejectImage(id int) error {
	m, err := c.aiEntry(id)
	if err != nil {
		return err
	}
	if m.ContentKind != models.ContentImage {
		return ErrNotImage
	}
	c.store.Modify(m.ID, models.Delta{
		Intent:      models.Ptr(models.IntentText),
		ImagePrompt: models.Ptr(""),
		Responses:   models.ClearResponses(),
		ContentKind: models.Ptr(models.ContentText),
	})
	return nil
}

func (c *Controller) aiEntry(id int) (models.Message, error) {
	if id < 0 {
		entries := c.store.Entries()
		for i := len(entries) - 1; i >= 0; i-- {
			if entries[i].Source == models.SourceAi {
				return entries[i], nil
			}
		}
		return models.Message{}, ErrNotFound
	}
	m, ok := c.store.Get(id)
	if !ok {
		return models.Message{}, ErrNotFound
	}
	if m.Source != models.SourceAi {
		return models.Message{}, ErrNotAiResponse
	}
	return m, nil
}

func (c *Controller) TogglePin(id int) bool { return c.store.TogglePin(id) }

func (c *Controller) Delete(id int) bool { return c.store.Delete(id) }

func (c *Controller) Clear() { c.store.Clear() }

// Entries returns the log with stage and progress text for pending entries.
func (c *Controller) Entries() []Entry {
	msgs := c.store.Entries()
	out := make([]Entry, len(msgs))
	for i, m := range msgs {
		out[i] = Entry{Message: m}
		if m.Source != models.SourceAi || !m.Pending() {
			continue
		}
		stage, ok := c.pipe.Stage(m.ID)
		if !ok {
			stage = models.StageInit
		}
		out[i].Stage = stage
		out[i].Progress = stage.Progress()
	}
	return out
}

// Status reports the trial ledger and whether a key is configured.
func (c *Controller) Status() models.TrialStatus {
	return c.gate.Status(c.settings.Get().APIKey != "")
}

func (c *Controller) ResetTrial() error { return c.gate.Reset() }

func (c *Controller) Settings() models.Settings { return c.settings.Get() }

func (c *Controller) SaveSettings(s models.Settings) error { return c.settings.Save(s) }

// Flush waits for the log to reach storage.
func (c *Controller) Flush(ctx context.Context) error { return c.store.Flush(ctx) }

// StorageBytes reports the on-disk size when the storage driver knows it.
func (c *Controller) StorageBytes() (int64, bool) {
	sized, ok := c.kv.(interface{ SizeBytes() (int64, error) })
	if !ok {
		return 0, false
	}
	n, err := sized.SizeBytes()
	if err != nil {
		return 0, false
	}
	return n, true
}
