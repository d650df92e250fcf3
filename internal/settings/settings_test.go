package settings

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thinkscotty/artichat/internal/auth"
	"github.com/thinkscotty/artichat/internal/config"
	"github.com/thinkscotty/artichat/internal/database"
	"github.com/thinkscotty/artichat/internal/models"
)

func newStore(t *testing.T, kv KV, passphrase string) *Store {
	t.Helper()
	s := New(kv, auth.NewSealer(passphrase), config.DefaultConfig().AI)
	require.NoError(t, s.Load())
	return s
}

func TestDefaultsWhenNothingStored(t *testing.T) {
	s := newStore(t, database.NewMemory(), "")
	got := s.Get()
	assert.Equal(t, "", got.APIKey)
	assert.Equal(t, "https://api.openai.com/v1", got.AIEndpoint)
	assert.Equal(t, "gpt-3.5-turbo", got.ChatModel)
	assert.Equal(t, 256, got.ImageSize)
	assert.Equal(t, 1, got.ResponseCount)

	v, err := s.GetSetting(ImageSize)
	require.NoError(t, err)
	assert.Equal(t, "256", v)

	_, err = s.GetSetting("nope")
	assert.Error(t, err)
}

func TestKeyNotRememberedStaysInMemory(t *testing.T) {
	kv := database.NewMemory()
	s := newStore(t, kv, "")

	require.NoError(t, s.Save(models.Settings{APIKey: "sk-live", ChatModel: "gpt-4"}))
	assert.Equal(t, "sk-live", s.Get().APIKey)

	raw, ok, err := kv.Get(Key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotContains(t, raw, "sk-live")

	reloaded := newStore(t, kv, "")
	assert.Equal(t, "", reloaded.Get().APIKey)
	assert.Equal(t, "gpt-4", reloaded.Get().ChatModel)
}

func TestRememberedKeyIsSealed(t *testing.T) {
	kv := database.NewMemory()
	s := newStore(t, kv, "hunter2")

	require.NoError(t, s.Save(models.Settings{APIKey: "sk-live", RememberKey: true}))

	raw, _, err := kv.Get(Key)
	require.NoError(t, err)
	var stored models.Settings
	require.NoError(t, json.Unmarshal([]byte(raw), &stored))
	assert.True(t, auth.IsSealed(stored.APIKey))

	assert.Equal(t, "sk-live", newStore(t, kv, "hunter2").Get().APIKey)
	assert.Equal(t, "", newStore(t, kv, "wrong").Get().APIKey)
}

func TestCorruptRecordFallsBackToDefaults(t *testing.T) {
	kv := database.NewMemory()
	require.NoError(t, kv.Set(Key, "{not json"))
	s := newStore(t, kv, "")
	assert.Equal(t, "gpt-3.5-turbo", s.Get().ChatModel)
}

func TestSaveValidates(t *testing.T) {
	s := newStore(t, database.NewMemory(), "")
	assert.Error(t, s.Save(models.Settings{ImageSize: 300}))
	assert.Error(t, s.Save(models.Settings{Backend: "carrier-pigeon"}))
	assert.Error(t, s.Save(models.Settings{ResponseCount: 11}))
	assert.NoError(t, s.Save(models.Settings{ImageSize: 1024, Backend: "sdk", ResponseCount: 2}))
}

func TestMaskKey(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"short", "****"},
		{"sk-1234567890", "sk-...7890"},
	}
	for _, tt := range tests {
		if got := MaskKey(tt.in); got != tt.want {
			t.Errorf("MaskKey(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
