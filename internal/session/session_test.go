package session

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thinkscotty/artichat/internal/ai"
	"github.com/thinkscotty/artichat/internal/config"
	"github.com/thinkscotty/artichat/internal/conversation"
	"github.com/thinkscotty/artichat/internal/database"
	"github.com/thinkscotty/artichat/internal/models"
	"github.com/thinkscotty/artichat/internal/pipeline"
	"github.com/thinkscotty/artichat/internal/usage"
)

// fakeOpenAI answers like the real API: "picture" prompts classify as images.
type fakeOpenAI struct {
	classifies atomic.Int32
}

func (f *fakeOpenAI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	switch r.URL.Path {
	case "/images/generations":
		_, _ = w.Write([]byte(`{"data":[{"url":"https://img.example/1.png"}]}`))
	case "/chat/completions":
		var body struct {
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		system := body.Messages[0].Content
		prompt := body.Messages[len(body.Messages)-1].Content

		var reply string
		switch system {
		case ai.IntentInstructions:
			f.classifies.Add(1)
			reply = "The user wants to chat."
			if strings.Contains(prompt, "picture") {
				reply = ai.ImageIntentSentinel
			}
		case ai.KeywordInstructions:
			reply = "cat, photography"
		default:
			reply = "echo: " + prompt
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []any{map[string]any{"message": map[string]any{"role": "assistant", "content": reply}}},
		})
	default:
		http.NotFound(w, r)
	}
}

func newController(t *testing.T, kv *database.Memory, mutate func(*config.Config)) (*Controller, *fakeOpenAI) {
	t.Helper()
	fake := &fakeOpenAI{}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	cfg := config.DefaultConfig()
	cfg.AI.Endpoint = srv.URL
	cfg.AI.RequestsPerSecond = 0
	cfg.Secrets.PassphraseEnv = ""
	if mutate != nil {
		mutate(&cfg)
	}
	if kv == nil {
		kv = database.NewMemory()
	}

	c := New(cfg, kv, "", pipeline.Hooks{}, nil)
	require.NoError(t, c.Start())
	t.Cleanup(func() { _ = c.Close(context.Background()) })
	return c, fake
}

func waitDone(t *testing.T, c *Controller, id int) Entry {
	t.Helper()
	require.Eventually(t, func() bool {
		e := c.Entries()
		return id < len(e) && !e[id].Pending()
	}, 3*time.Second, 5*time.Millisecond)
	return c.Entries()[id]
}

func TestSubmitIgnoresBlankInput(t *testing.T) {
	c, _ := newController(t, nil, nil)
	_, ok := c.Submit("   \n")
	assert.False(t, ok)
	assert.Empty(t, c.Entries())
}

func TestSubmitProducesTextResponse(t *testing.T) {
	kv := database.NewMemory()
	c, _ := newController(t, kv, nil)

	id, ok := c.Submit(" hello ")
	require.True(t, ok)
	assert.Equal(t, 1, id)

	e := waitDone(t, c, id)
	assert.Equal(t, models.ContentText, e.ContentKind)
	assert.Equal(t, []string{"echo: hello"}, e.Responses)
	assert.Empty(t, e.Stage)

	human := c.Entries()[0]
	assert.Equal(t, models.SourceHuman, human.Source)
	assert.Equal(t, []string{"hello"}, human.Responses)

	st := c.Status()
	assert.Equal(t, 1, st.Consumed)
	assert.Equal(t, 19, st.Remaining)
}

func TestImageThenRejectImage(t *testing.T) {
	c, fake := newController(t, nil, nil)

	id, _ := c.Submit("draw a picture of a cat")
	e := waitDone(t, c, id)
	require.Equal(t, models.ContentImage, e.ContentKind)
	assert.Equal(t, "cat, photography", e.ImagePrompt)
	assert.Equal(t, []string{"https://img.example/1.png"}, e.Responses)
	require.Equal(t, int32(1), fake.classifies.Load())

	require.NoError(t, c.RejectImage(id))
	e = waitDone(t, c, id)
	assert.Equal(t, models.ContentText, e.ContentKind)
	assert.Equal(t, models.IntentText, e.Intent)
	assert.Empty(t, e.ImagePrompt)
	assert.Equal(t, []string{"echo: draw a picture of a cat"}, e.Responses)
	assert.Equal(t, int32(1), fake.classifies.Load())

	assert.ErrorIs(t, c.RejectImage(id), ErrNotImage)
}

func TestRegenerate(t *testing.T) {
	c, fake := newController(t, nil, nil)

	id, _ := c.Submit("hi")
	waitDone(t, c, id)

	got, err := c.Regenerate(-1)
	require.NoError(t, err)
	assert.Equal(t, id, got)
	e := waitDone(t, c, id)
	assert.Equal(t, []string{"echo: hi"}, e.Responses)
	assert.Equal(t, int32(2), fake.classifies.Load())

	_, err = c.Regenerate(0)
	assert.ErrorIs(t, err, ErrNotAiResponse)
	_, err = c.Regenerate(42)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRegenerateOnEmptyLog(t *testing.T) {
	c, _ := newController(t, nil, nil)
	_, err := c.Regenerate(-1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResumePendingOnStart(t *testing.T) {
	kv := database.NewMemory()
	require.NoError(t, kv.Set(conversation.DefaultKey,
		`[{"id":0,"source":"human","contentKind":"text","responses":["again"]},{"id":1,"source":"ai","contentKind":"text","prompt":"again"}]`))

	c, _ := newController(t, kv, nil)
	e := waitDone(t, c, 1)
	assert.Equal(t, []string{"echo: again"}, e.Responses)
}

func TestNoResumeMarksInterrupted(t *testing.T) {
	kv := database.NewMemory()
	require.NoError(t, kv.Set(conversation.DefaultKey,
		`[{"id":0,"source":"ai","contentKind":"text","prompt":"again"}]`))

	c, _ := newController(t, kv, func(cfg *config.Config) { cfg.Pipeline.ResumePending = false })
	e := c.Entries()[0]
	assert.Equal(t, models.ContentError, e.ContentKind)
	assert.Equal(t, []string{interruptedMessage}, e.Responses)
}

func TestExhaustedTrialWithoutKey(t *testing.T) {
	kv := database.NewMemory()
	require.NoError(t, kv.Set(usage.LedgerKey, "20"))
	c, fake := newController(t, kv, nil)

	id, _ := c.Submit("hi")
	e := waitDone(t, c, id)
	assert.Equal(t, models.ContentError, e.ContentKind)
	assert.Equal(t, []string{usage.ErrTrialExhausted.Error()}, e.Responses)
	assert.Equal(t, int32(0), fake.classifies.Load())

	require.NoError(t, c.SaveSettings(models.Settings{APIKey: "sk-user"}))
	_, err := c.Regenerate(id)
	require.NoError(t, err)
	e = waitDone(t, c, id)
	assert.Equal(t, models.ContentText, e.ContentKind)
	assert.True(t, c.Status().HasCredential)
}

func TestPinDeleteClear(t *testing.T) {
	c, _ := newController(t, nil, nil)
	id, _ := c.Submit("one")
	waitDone(t, c, id)
	id, _ = c.Submit("two")
	waitDone(t, c, id)

	require.True(t, c.TogglePin(1))
	require.True(t, c.Delete(0))
	assert.Len(t, c.Entries(), 3)
	assert.True(t, c.Entries()[0].Pinned)

	c.Clear()
	entries := c.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, 0, entries[0].ID)
	assert.Equal(t, []string{"echo: one"}, entries[0].Responses)
}

func TestClosePersists(t *testing.T) {
	kv := database.NewMemory()
	c, _ := newController(t, kv, nil)
	id, _ := c.Submit("persist me")
	waitDone(t, c, id)
	require.NoError(t, c.Close(context.Background()))

	raw, ok, err := kv.Get(conversation.DefaultKey)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Contains(t, raw, "echo: persist me")
}

func TestOpenDoesNotRunPipeline(t *testing.T) {
	kv := database.NewMemory()
	require.NoError(t, kv.Set(conversation.DefaultKey,
		`[{"id":0,"source":"ai","contentKind":"text","prompt":"again"}]`))

	fake := &fakeOpenAI{}
	srv := httptest.NewServer(fake)
	defer srv.Close()
	cfg := config.DefaultConfig()
	cfg.AI.Endpoint = srv.URL

	c := New(cfg, kv, "", pipeline.Hooks{}, nil)
	require.NoError(t, c.Open())
	defer c.Close(context.Background())

	c.Clear()
	assert.Empty(t, c.Entries())
	assert.Equal(t, int32(0), fake.classifies.Load())
}

func TestStorageBytes(t *testing.T) {
	c, _ := newController(t, nil, nil)
	_, ok := c.StorageBytes()
	assert.False(t, ok)

	sq, err := database.NewSQLite(filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	defer sq.Close()

	c2 := New(config.DefaultConfig(), sq, "", pipeline.Hooks{}, nil)
	defer c2.Close(context.Background())
	n, ok := c2.StorageBytes()
	assert.True(t, ok)
	assert.GreaterOrEqual(t, n, int64(0))
}

func TestSubmitScrollsToEnd(t *testing.T) {
	release := make(chan struct{})
	fake := &fakeOpenAI{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
			return
		}
		fake.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)

	cfg := config.DefaultConfig()
	cfg.AI.Endpoint = srv.URL
	cfg.AI.RequestsPerSecond = 0
	cfg.Secrets.PassphraseEnv = ""

	var scrolls atomic.Int32
	hooks := pipeline.Hooks{OnScrollToEnd: func() { scrolls.Add(1) }}
	c := New(cfg, database.NewMemory(), "", hooks, nil)
	require.NoError(t, c.Start())
	t.Cleanup(func() { _ = c.Close(context.Background()) })

	id, ok := c.Submit("x")
	require.True(t, ok)
	assert.Equal(t, int32(1), scrolls.Load())
	assert.True(t, c.Entries()[id].Pending())

	_, ok = c.Submit("   ")
	require.False(t, ok)
	assert.Equal(t, int32(1), scrolls.Load())

	close(release)
	waitDone(t, c, id)
	require.Eventually(t, func() bool { return scrolls.Load() == 2 }, time.Second, 5*time.Millisecond)
}
