package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const clientYAML = `
server:
  url: ${TEST_CHAT_SERVER_URL}
  dial_timeout: 3s
reconnect:
  max_attempts: 7
timers:
  auto_read_delay: 500ms
redis:
  enabled: true
  redis_db: 2
`

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "chat_client.yaml"), []byte(clientYAML), 0o644))
	t.Setenv("TEST_CHAT_SERVER_URL", "ws://chat.example:9000/ws")

	cfg, err := LoadConfig[Client]("chat_client", dir)
	require.NoError(t, err)

	assert.Equal(t, "ws://chat.example:9000/ws", cfg.Server.URL)
	assert.Equal(t, 3*time.Second, cfg.Server.DialTimeout)
	assert.Equal(t, 7, cfg.Reconnect.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Timers.AutoReadDelay)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, 2, cfg.Redis.RedisDB)

	// 沒寫在 YAML 的欄位使用預設值
	assert.Equal(t, time.Second, cfg.Reconnect.BaseDelay)
	assert.Equal(t, 5*time.Second, cfg.Reconnect.MaxDelay)
	assert.Equal(t, 10*time.Second, cfg.Reconnect.StableAfter)
	assert.Equal(t, 2*time.Second, cfg.Timers.TypingIdle)
	assert.Equal(t, "chat:view:", cfg.Redis.ChannelPrefix)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig[Client]("does_not_exist", t.TempDir())
	assert.Error(t, err)
}

func TestDefaultClient(t *testing.T) {
	cfg := DefaultClient()
	assert.Equal(t, 5, cfg.Reconnect.MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.Timers.AutoReadDelay)
	assert.Equal(t, 2*time.Second, cfg.Timers.TypingIdle)
	assert.False(t, cfg.Redis.Enabled)
}

func TestGetPath(t *testing.T) {
	_, err := GetPath("no-such-file.env", 2)
	assert.Error(t, err)
}
