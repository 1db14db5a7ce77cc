package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("TELEGRAM_APITOKEN", "token")
	t.Setenv("DATABASE_URL", "postgres://u:p@localhost:5432/flows")
	t.Setenv("OWNER_CHAT_ID", "42")
	t.Setenv("ADMIN_CHAT_IDS", "7,8")
	t.Setenv("BOT_USERNAME", "@flow_bot")
	t.Setenv("WEBAPP_ORIGINS", "https://webapp.example.com,https://admin.example.com")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.DBDriver)
	assert.Equal(t, "uploads", cfg.MediaRoot)
	assert.Equal(t, "flow_bot", cfg.BotUsername)
	assert.Equal(t, 3, cfg.SendAttempts)
	assert.Equal(t, 2*time.Second, cfg.SendBackoff)
	assert.Equal(t, 30*time.Second, cfg.SendTimeout)
	assert.Equal(t, []int64{7, 8}, cfg.AdminChatIDs)
	assert.Equal(t, []string{"https://webapp.example.com", "https://admin.example.com"}, cfg.WebAppOrigins)

	p := cfg.SendPolicy()
	assert.Equal(t, 3, p.Attempts)
}

func TestLoadConfig_RequiresToken(t *testing.T) {
	t.Setenv("TELEGRAM_APITOKEN", "")
	t.Setenv("DATABASE_URL", "postgres://localhost/flows")

	_, err := LoadConfig()
	require.Error(t, err)
}

func TestLoadConfig_RejectsUnknownDriver(t *testing.T) {
	t.Setenv("TELEGRAM_APITOKEN", "token")
	t.Setenv("DATABASE_URL", "file:x.db")
	t.Setenv("DB_DRIVER", "mysql")

	_, err := LoadConfig()
	require.Error(t, err)
}

func TestIsAdmin(t *testing.T) {
	cfg := &Config{OwnerChatID: 1, AdminChatIDs: []int64{2, 3}}

	assert.True(t, cfg.IsAdmin(1))
	assert.True(t, cfg.IsAdmin(3))
	assert.False(t, cfg.IsAdmin(4))
	assert.False(t, (&Config{}).IsAdmin(0))
}
