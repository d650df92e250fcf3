// Package pipeline turns a pending Ai entry into a finished response. Each
// run walks a small state machine (classify, optionally refine into an image
// prompt, generate) and writes its result back to the conversation store.
package pipeline

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sync/semaphore"

	"github.com/thinkscotty/artichat/internal/ai"
	"github.com/thinkscotty/artichat/internal/metrics"
	"github.com/thinkscotty/artichat/internal/models"
	"github.com/thinkscotty/artichat/internal/usage"
)

// Invoker performs one outbound AI call. *ai.Client implements it.
type Invoker interface {
	Invoke(ctx context.Context, req ai.Request) ([]string, error)
}

// Gate is the usage gate. *usage.Gate implements it.
type Gate interface {
	Check(suppliedKey string) (usage.Grant, error)
	Authorize(suppliedKey string) (usage.Grant, error)
}

// Store is the part of the conversation store a run writes through. Runs
// address entries by UID so deleting earlier entries does not orphan them.
type Store interface {
	Entries() []models.Message
	ModifyByUID(uid string, pred func(models.Message) bool, d models.Delta) (int, bool)
}

// Hooks are UI collaborators. Any of them may be nil.
type Hooks struct {
	OnStageChanged func(id int, stage models.Stage)
	OnScrollToEnd  func()
	OnSpeak        func(text string)
}

// run is bound to one (entry UID, prompt, intent) triple. msgID tracks the
// entry's current position and is guarded by Pipeline.mu.
type run struct {
	uid    string
	msgID  int
	prompt string
	intent string
	stage  models.Stage
}

type Pipeline struct {
	store    Store
	ai       Invoker
	gate     Gate
	settings ai.SettingsGetter
	hooks    Hooks
	metrics  *metrics.Exporter
	sem      *semaphore.Weighted

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	runs   map[string]*run // by entry UID
	closed bool
}

// New creates a pipeline. maxConcurrent bounds how many runs call the
// backend at once.
func New(store Store, invoker Invoker, gate Gate, sg ai.SettingsGetter, hooks Hooks, m *metrics.Exporter, maxConcurrent int) *Pipeline {
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pipeline{
		store:    store,
		ai:       invoker,
		gate:     gate,
		settings: sg,
		hooks:    hooks,
		metrics:  m,
		sem:      semaphore.NewWeighted(int64(maxConcurrent)),
		ctx:      ctx,
		cancel:   cancel,
		runs:     make(map[string]*run),
	}
}

// Sync makes sure every pending Ai entry that has a prompt is bound to a
// run. A run follows its entry when earlier entries are removed. A run whose
// prompt or intent no longer matches its entry is superseded: it keeps going
// but its result will be dropped. It is meant to be registered as a
// conversation store listener.
func (p *Pipeline) Sync(entries []models.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}

	wanted := make(map[string]bool)
	for _, e := range entries {
		if e.Source != models.SourceAi || !e.Pending() || e.Prompt == "" || e.UID == "" {
			continue
		}
		wanted[e.UID] = true

		if r, ok := p.runs[e.UID]; ok {
			if r.prompt == e.Prompt && r.intent == e.Intent {
				if r.msgID != e.ID {
					slog.Debug("Run moved", "uid", e.UID, "from", r.msgID, "to", e.ID)
					r.msgID = e.ID
				}
				continue
			}
			slog.Debug("Run superseded", "id", e.ID, "uid", e.UID, "prompt", r.prompt)
		}

		r := &run{
			uid:    e.UID,
			msgID:  e.ID,
			prompt: e.Prompt,
			intent: e.Intent,
			stage:  models.StageInit,
		}
		p.runs[e.UID] = r
		p.wg.Add(1)
		go p.execute(r)
	}

	for uid := range p.runs {
		if !wanted[uid] {
			delete(p.runs, uid)
		}
	}
}

// Stage reports the current stage of the run bound to the entry at id.
func (p *Pipeline) Stage(id int) (models.Stage, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, r := range p.runs {
		if r.msgID == id {
			return r.stage, true
		}
	}
	return "", false
}

// Close stops accepting runs, cancels in-flight calls and waits for them.
// Entries whose runs were cancelled stay pending.
func (p *Pipeline) Close() {
	p.mu.Lock()
	p.closed = true
	p.runs = make(map[string]*run)
	p.mu.Unlock()

	p.cancel()
	p.wg.Wait()
}

func (p *Pipeline) current(r *run) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.runs[r.uid] == r
}

// setStage records and announces a stage for a run that is still current.
func (p *Pipeline) setStage(r *run, stage models.Stage) {
	p.mu.Lock()
	live := p.runs[r.uid] == r
	id := r.msgID
	if live {
		r.stage = stage
	}
	p.mu.Unlock()
	if !live {
		return
	}

	slog.Debug("Pipeline stage", "id", id, "uid", r.uid, "stage", stage)
	p.metrics.StageChanged(string(stage))
	if p.hooks.OnStageChanged != nil {
		p.hooks.OnStageChanged(id, stage)
	}
}

func (p *Pipeline) execute(r *run) {
	defer p.wg.Done()

	if err := p.sem.Acquire(p.ctx, 1); err != nil {
		return
	}
	defer p.sem.Release(1)

	if !p.current(r) {
		p.metrics.RunFinished("dropped")
		return
	}

	outcome, delta := p.process(p.ctx, r)

	if p.ctx.Err() != nil {
		slog.Debug("Pipeline closed, leaving entry pending", "uid", r.uid)
		return
	}

	id, ok := p.store.ModifyByUID(r.uid, func(m models.Message) bool {
		return p.current(r) && m.Source == models.SourceAi && m.Pending() && m.Prompt == r.prompt
	}, delta)

	p.mu.Lock()
	if p.runs[r.uid] == r {
		delete(p.runs, r.uid)
	}
	p.mu.Unlock()

	if !ok {
		slog.Debug("Dropped stale pipeline result", "uid", r.uid)
		p.metrics.RunFinished("dropped")
		return
	}

	slog.Info("Response ready", "id", id, "outcome", outcome)
	p.metrics.RunFinished(outcome)

	final := models.StageDone
	if outcome == "error" {
		final = models.StageError
	}
	p.metrics.StageChanged(string(final))
	if p.hooks.OnStageChanged != nil {
		p.hooks.OnStageChanged(id, final)
	}
	if p.hooks.OnScrollToEnd != nil {
		p.hooks.OnScrollToEnd()
	}
	if outcome == "text" && p.hooks.OnSpeak != nil && delta.Responses != nil {
		p.hooks.OnSpeak(strings.Join(*delta.Responses, "\n\n"))
	}
}

// process runs the state machine and returns the outcome label and the
// delta to commit.
func (p *Pipeline) process(ctx context.Context, r *run) (string, models.Delta) {
	p.setStage(r, models.StageInit)
	key := p.setting("api_key")

	// No network call happens without a usable credential or trial use.
	grant, err := p.gate.Check(key)
	if err != nil {
		return p.failed(r, gateError(err))
	}

	intent := r.intent
	refine := false
	switch intent {
	case models.IntentText:
	case models.IntentImage:
	default:
		intent = p.classify(ctx, r, grant.Key)
		refine = intent == models.IntentImage
	}

	imagePrompt := r.prompt
	if refine {
		keywords, ok := p.refine(ctx, r, grant.Key)
		if ok {
			imagePrompt = keywords
		} else {
			intent = models.IntentText
		}
	}

	grant, err = p.gate.Authorize(key)
	if err != nil {
		return p.failed(r, gateError(err))
	}

	if intent == models.IntentImage {
		p.setStage(r, models.StageGenerateImage)
		urls, err := p.ai.Invoke(ctx, ai.Request{
			Kind:      ai.KindGenerateImage,
			Prompt:    imagePrompt,
			Key:       grant.Key,
			ImageSize: p.intSetting("image_size"),
			Count:     p.intSetting("response_count"),
		})
		if err != nil {
			return p.failed(r, err)
		}
		return "image", models.Delta{
			Prompt:      models.Ptr(r.prompt),
			ImagePrompt: models.Ptr(imagePrompt),
			Responses:   &urls,
			ContentKind: models.Ptr(models.ContentImage),
		}
	}

	p.setStage(r, models.StageGenerateText)
	out, err := p.ai.Invoke(ctx, ai.Request{
		Kind:         ai.KindGenerateText,
		Prompt:       r.prompt,
		Instructions: ai.TextInstructions,
		History:      p.history(r.uid),
		Key:          grant.Key,
	})
	if err != nil {
		return p.failed(r, err)
	}
	return "text", models.Delta{
		Prompt:      models.Ptr(r.prompt),
		Responses:   &out,
		ContentKind: models.Ptr(models.ContentText),
	}
}

// classify fails open: any error means text.
func (p *Pipeline) classify(ctx context.Context, r *run, key string) string {
	p.setStage(r, models.StageClassifyIntent)
	out, err := p.ai.Invoke(ctx, ai.Request{
		Kind:         ai.KindClassify,
		Prompt:       r.prompt,
		Instructions: ai.IntentInstructions,
		Key:          key,
	})
	if err != nil {
		slog.Warn("Intent classification failed, assuming text", "uid", r.uid, "error", err)
		return models.IntentText
	}
	if len(out) > 0 && ai.IsImageIntent(out[0]) {
		return models.IntentImage
	}
	return models.IntentText
}

func (p *Pipeline) refine(ctx context.Context, r *run, key string) (string, bool) {
	p.setStage(r, models.StageRefineImagePrompt)
	out, err := p.ai.Invoke(ctx, ai.Request{
		Kind:         ai.KindGenerateText,
		Prompt:       r.prompt,
		Instructions: ai.KeywordInstructions,
		Key:          key,
	})
	if err != nil {
		slog.Warn("Image prompt refinement failed, answering with text", "uid", r.uid, "error", err)
		return "", false
	}
	var keywords string
	if len(out) > 0 {
		keywords = ai.CleanKeywords(out[0])
	}
	if keywords == "" {
		slog.Warn("Image prompt refinement returned nothing, answering with text", "uid", r.uid)
		return "", false
	}
	return keywords, true
}

func (p *Pipeline) failed(r *run, err error) (string, models.Delta) {
	slog.Error("Pipeline run failed", "uid", r.uid, "class", ai.ClassOf(err), "error", err)
	return "error", models.Delta{
		Prompt:      models.Ptr(r.prompt),
		Responses:   &[]string{ai.UserMessage(err)},
		ContentKind: models.Ptr(models.ContentError),
	}
}

// gateError keeps refusals user-visible and hides ledger storage failures
// behind the generic message.
func gateError(err error) error {
	if errors.Is(err, usage.ErrTrialExhausted) {
		return ai.CredentialError(err)
	}
	return ai.StorageError(err)
}

// history returns entries before the one with uid that already carry a response.
func (p *Pipeline) history(uid string) []ai.Message {
	var out []ai.Message
	for _, e := range p.store.Entries() {
		if e.UID == uid {
			break
		}
		if e.Responses == nil {
			continue
		}
		role := "assistant"
		if e.Source == models.SourceHuman {
			role = "user"
		}
		out = append(out, ai.Message{Role: role, Content: e.Text()})
	}
	return out
}

func (p *Pipeline) setting(key string) string {
	if p.settings == nil {
		return ""
	}
	v, err := p.settings.GetSetting(key)
	if err != nil {
		return ""
	}
	return v
}

func (p *Pipeline) intSetting(key string) int {
	n, _ := strconv.Atoi(p.setting(key))
	return n
}
