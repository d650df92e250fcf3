// Package conversation holds the ordered message log. Every entry's ID equals
// its position, and every committed mutation is persisted in the background.
package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/thinkscotty/artichat/internal/metrics"
	"github.com/thinkscotty/artichat/internal/models"
)

// DefaultKey is the storage key of the persisted log.
const DefaultKey = "conversation"

// ErrClosed is returned by Flush after Close.
var ErrClosed = errors.New("conversation store is closed")

// KV is the subset of the storage contract the store needs.
type KV interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
	Delete(key string) error
}

// Listener receives a snapshot after every committed mutation. Listeners are
// called one at a time, outside the store lock, and must not mutate the store
// synchronously.
type Listener func(entries []models.Message)

type Store struct {
	kv      KV
	key     string
	metrics *metrics.Exporter

	mu        sync.Mutex
	entries   []models.Message
	version   uint64
	persisted uint64
	drop      bool // next write deletes the record instead of storing it
	flushed   chan struct{}
	closed    bool

	notifyMu  sync.Mutex
	listeners []Listener

	wake      chan struct{}
	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewStore creates an empty store and starts its writer.
func NewStore(kv KV, key string, m *metrics.Exporter) *Store {
	if key == "" {
		key = DefaultKey
	}
	s := &Store{
		kv:      kv,
		key:     key,
		metrics: m,
		flushed: make(chan struct{}),
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go s.writer()
	return s
}

// Subscribe registers a listener for committed mutations.
func (s *Store) Subscribe(l Listener) {
	s.notifyMu.Lock()
	s.listeners = append(s.listeners, l)
	s.notifyMu.Unlock()
}

// Load replaces the log with the persisted record. An absent or corrupt
// record yields an empty log.
func (s *Store) Load() error {
	raw, ok, err := s.kv.Get(s.key)
	if err != nil {
		return err
	}

	var loaded []models.Message
	if ok {
		if err := json.Unmarshal([]byte(raw), &loaded); err != nil {
			slog.Warn("Persisted conversation is corrupt, starting empty", "error", err)
			loaded = nil
		}
	}
	reindex(loaded)
	for i := range loaded {
		if loaded[i].UID == "" {
			loaded[i].UID = uuid.NewString()
		}
	}

	s.mu.Lock()
	s.entries = loaded
	s.drop = false
	s.version++
	s.persisted = s.version
	s.mu.Unlock()

	slog.Info("Conversation loaded", "entries", len(loaded))
	s.notify()
	return nil
}

// Append adds entries at the end and returns their assigned IDs. Entries
// without a UID get a fresh one.
func (s *Store) Append(msgs ...models.Message) []int {
	if len(msgs) == 0 {
		return nil
	}
	s.mu.Lock()
	ids := make([]int, len(msgs))
	for i, m := range msgs {
		m = m.Clone()
		m.ID = len(s.entries)
		if m.UID == "" {
			m.UID = uuid.NewString()
		}
		ids[i] = m.ID
		s.entries = append(s.entries, m)
	}
	s.commit("append")
	s.mu.Unlock()

	s.notify()
	return ids
}

// Modify merges d into the entry at id. An out-of-bounds id is logged and ignored.
func (s *Store) Modify(id int, d models.Delta) bool {
	return s.ModifyIf(id, nil, d)
}

// ModifyIf applies d only when pred accepts the current entry. The check and
// the write happen under one lock.
func (s *Store) ModifyIf(id int, pred func(models.Message) bool, d models.Delta) bool {
	s.mu.Lock()
	if !s.inBounds(id) {
		s.mu.Unlock()
		return false
	}
	if pred != nil && !pred(s.entries[id].Clone()) {
		s.mu.Unlock()
		return false
	}
	d.Apply(&s.entries[id])
	s.commit("modify")
	s.mu.Unlock()

	s.notify()
	return true
}

// ModifyByUID is ModifyIf addressed by UID, for writers that must survive
// re-indexing. It returns the entry's position at the time of the write.
func (s *Store) ModifyByUID(uid string, pred func(models.Message) bool, d models.Delta) (int, bool) {
	s.mu.Lock()
	id := -1
	for i := range s.entries {
		if s.entries[i].UID == uid {
			id = i
			break
		}
	}
	if id < 0 {
		s.mu.Unlock()
		slog.Debug("Message no longer in log", "uid", uid)
		return -1, false
	}
	if pred != nil && !pred(s.entries[id].Clone()) {
		s.mu.Unlock()
		return id, false
	}
	d.Apply(&s.entries[id])
	s.commit("modify")
	s.mu.Unlock()

	s.notify()
	return id, true
}

// Delete removes the entry at id and re-indexes the rest.
func (s *Store) Delete(id int) bool {
	s.mu.Lock()
	if !s.inBounds(id) {
		s.mu.Unlock()
		return false
	}
	s.entries = append(s.entries[:id:id], s.entries[id+1:]...)
	reindex(s.entries)
	s.commit("delete")
	s.mu.Unlock()

	s.notify()
	return true
}

// TogglePin flips the pinned flag of the entry at id.
func (s *Store) TogglePin(id int) bool {
	s.mu.Lock()
	if !s.inBounds(id) {
		s.mu.Unlock()
		return false
	}
	s.entries[id].Pinned = !s.entries[id].Pinned
	s.commit("pin")
	s.mu.Unlock()

	s.notify()
	return true
}

// Clear keeps only pinned entries, re-indexed from 0. When nothing is pinned
// the persisted record is deleted.
func (s *Store) Clear() {
	s.mu.Lock()
	var kept []models.Message
	for _, m := range s.entries {
		if m.Pinned {
			kept = append(kept, m)
		}
	}
	reindex(kept)
	s.entries = kept
	s.commit("clear")
	s.drop = len(kept) == 0
	s.mu.Unlock()

	s.notify()
}

// Entries returns a deep copy of the log.
func (s *Store) Entries() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return snapshot(s.entries)
}

// Get returns a copy of the entry at id.
func (s *Store) Get(id int) (models.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id < 0 || id >= len(s.entries) {
		return models.Message{}, false
	}
	return s.entries[id].Clone(), true
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Flush blocks until every committed mutation has been written.
func (s *Store) Flush(ctx context.Context) error {
	for {
		s.mu.Lock()
		if s.persisted >= s.version {
			s.mu.Unlock()
			return nil
		}
		if s.closed {
			s.mu.Unlock()
			return ErrClosed
		}
		ch := s.flushed
		s.mu.Unlock()

		s.schedule()
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close writes any pending state and stops the writer.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		close(s.stop)
		<-s.done
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
	})
	return nil
}

// inBounds must be called with s.mu held.
func (s *Store) inBounds(id int) bool {
	if id < 0 || id >= len(s.entries) {
		slog.Error("Message index out of bounds", "id", id, "len", len(s.entries))
		return false
	}
	return true
}

// commit must be called with s.mu held.
func (s *Store) commit(op string) {
	s.version++
	s.drop = false
	s.metrics.StoreMutation(op)
	s.schedule()
}

func (s *Store) schedule() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Store) notify() {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	if len(s.listeners) == 0 {
		return
	}
	snap := s.Entries()
	for _, l := range s.listeners {
		l(snap)
	}
}

func (s *Store) writer() {
	defer close(s.done)
	for {
		select {
		case <-s.wake:
			s.persist()
		case <-s.stop:
			s.persist()
			return
		}
	}
}

// persist writes the latest snapshot. Only the writer goroutine calls it, so
// an older snapshot can never land after a newer one.
func (s *Store) persist() {
	s.mu.Lock()
	if s.persisted >= s.version {
		s.mu.Unlock()
		return
	}
	snap := snapshot(s.entries)
	ver := s.version
	drop := s.drop
	s.mu.Unlock()

	var err error
	if drop {
		err = s.kv.Delete(s.key)
	} else {
		var data []byte
		data, err = json.Marshal(persistable(snap))
		if err == nil {
			err = s.kv.Set(s.key, string(data))
		}
	}
	if err != nil {
		slog.Error("Failed to persist conversation", "version", ver, "error", err)
	} else {
		slog.Debug("Conversation persisted", "version", ver, "entries", len(snap), "deleted", drop)
	}

	s.mu.Lock()
	// A failed write still advances the mark so Flush cannot hang; the next
	// mutation writes the full log again.
	if ver > s.persisted {
		s.persisted = ver
	}
	close(s.flushed)
	s.flushed = make(chan struct{})
	s.mu.Unlock()
}

// persistable drops pending Ai entries that have no prompt.
func persistable(entries []models.Message) []models.Message {
	out := make([]models.Message, 0, len(entries))
	for _, m := range entries {
		if m.Source == models.SourceAi && m.Pending() && m.Prompt == "" {
			continue
		}
		out = append(out, m)
	}
	return out
}

func snapshot(entries []models.Message) []models.Message {
	out := make([]models.Message, len(entries))
	for i, m := range entries {
		out[i] = m.Clone()
	}
	return out
}

func reindex(entries []models.Message) {
	for i := range entries {
		entries[i].ID = i
	}
}
