package settings

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/thinkscotty/artichat/internal/auth"
	"github.com/thinkscotty/artichat/internal/config"
	"github.com/thinkscotty/artichat/internal/models"
)

// Key is the storage key of the settings record.
const Key = "settings"

// Setting names exposed through GetSetting.
const (
	APIKey        = "api_key"
	AIEndpoint    = "ai_endpoint"
	ChatModel     = "chat_model"
	Backend       = "ai_backend"
	ImageSize     = "image_size"
	ResponseCount = "response_count"
)

// KV is the subset of the storage contract the settings store needs.
type KV interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
}

// Store keeps the settings record in memory and writes it through to storage.
// An API key that is not remembered lives only for the current process.
type Store struct {
	kv       KV
	sealer   *auth.Sealer
	defaults config.AIConfig

	mu      sync.RWMutex
	current models.Settings
}

func New(kv KV, sealer *auth.Sealer, defaults config.AIConfig) *Store {
	return &Store{kv: kv, sealer: sealer, defaults: defaults}
}

// Load reads the persisted record. A missing or corrupt record leaves the
// defaults in place.
func (s *Store) Load() error {
	raw, ok, err := s.kv.Get(Key)
	if err != nil {
		return fmt.Errorf("read settings: %w", err)
	}
	if !ok {
		return nil
	}

	var stored models.Settings
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		slog.Error("Settings record is corrupt, using defaults", "error", err)
		return nil
	}

	if stored.APIKey != "" {
		key, err := s.sealer.Open(stored.APIKey)
		if err != nil {
			slog.Warn("Stored API key could not be opened, ignoring it", "error", err)
			key = ""
		}
		stored.APIKey = key
	}

	s.mu.Lock()
	s.current = stored
	s.mu.Unlock()
	return nil
}

// Get returns the settings with defaults filled in for unset fields.
func (s *Store) Get() models.Settings {
	s.mu.RLock()
	cur := s.current
	s.mu.RUnlock()

	if cur.AIEndpoint == "" {
		cur.AIEndpoint = s.defaults.Endpoint
	}
	if cur.ChatModel == "" {
		cur.ChatModel = s.defaults.ChatModel
	}
	if cur.Backend == "" {
		cur.Backend = s.defaults.Backend
	}
	if cur.ImageSize == 0 {
		cur.ImageSize = s.defaults.ImageSize
	}
	if cur.ResponseCount <= 0 {
		cur.ResponseCount = s.defaults.ResponseCount
	}
	if cur.ResponseCount <= 0 {
		cur.ResponseCount = 1
	}
	return cur
}

// Save replaces the settings and persists them.
func (s *Store) Save(next models.Settings) error {
	if err := validate(next); err != nil {
		return err
	}
	next.AIEndpoint = strings.TrimSpace(next.AIEndpoint)
	next.APIKey = strings.TrimSpace(next.APIKey)

	stored := next
	if !next.RememberKey {
		stored.APIKey = ""
	} else if stored.APIKey != "" {
		sealed, err := s.sealer.Seal(stored.APIKey)
		if err != nil {
			return fmt.Errorf("seal api key: %w", err)
		}
		stored.APIKey = sealed
	}

	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	if err := s.kv.Set(Key, string(data)); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	s.mu.Lock()
	s.current = next
	s.mu.Unlock()
	slog.Debug("Settings saved", "remember_key", next.RememberKey, "sealed", s.sealer.Enabled())
	return nil
}

// GetSetting returns a single effective setting by name.
func (s *Store) GetSetting(key string) (string, error) {
	cur := s.Get()
	switch key {
	case APIKey:
		return cur.APIKey, nil
	case AIEndpoint:
		return cur.AIEndpoint, nil
	case ChatModel:
		return cur.ChatModel, nil
	case Backend:
		return cur.Backend, nil
	case ImageSize:
		return strconv.Itoa(cur.ImageSize), nil
	case ResponseCount:
		return strconv.Itoa(cur.ResponseCount), nil
	default:
		return "", fmt.Errorf("unknown setting %q", key)
	}
}

func validate(s models.Settings) error {
	switch s.ImageSize {
	case 0, 256, 512, 1024:
	default:
		return fmt.Errorf("image size must be 256, 512 or 1024, got %d", s.ImageSize)
	}
	switch s.Backend {
	case "", "http", "sdk":
	default:
		return fmt.Errorf("unknown backend %q", s.Backend)
	}
	if s.ResponseCount < 0 || s.ResponseCount > 10 {
		return fmt.Errorf("response count must be between 1 and 10, got %d", s.ResponseCount)
	}
	return nil
}

// MaskKey keeps only enough of a key to recognise it.
func MaskKey(key string) string {
	if key == "" {
		return ""
	}
	if len(key) <= 8 {
		return "****"
	}
	return key[:3] + "..." + key[len(key)-4:]
}
