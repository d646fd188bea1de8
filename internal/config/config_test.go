package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kimhsiao/babylog/internal/identity"
	"github.com/kimhsiao/babylog/internal/logging"
)

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, identity.DefaultFallbackUserID, cfg.Identity.FallbackUserID)
	assert.Equal(t, 3*time.Hour, cfg.Reminder.FeedingInterval)
	assert.Equal(t, logging.LevelInfo, cfg.LogLevel())
	assert.IsType(t, identity.NoSession{}, cfg.Sessions())
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "babylog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  addr: ":9000"
  allowed_origins: ["https://baby.example.com"]
database:
  dir: /var/lib/babylog
identity:
  user_id: parent-1
  email: parent@example.com
logging:
  level: debug
reminder:
  feeding_interval: 2h30m
timezone: UTC
`), 0600))

	t.Setenv("BABYLOG_DATA_DIR", "/tmp/override")
	t.Setenv("BABYLOG_ALLOWED_ORIGINS", "http://a.test, http://b.test,")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "/tmp/override", cfg.Database.Dir)
	assert.Equal(t, 150*time.Minute, cfg.Reminder.FeedingInterval)
	assert.Equal(t, "@every 1m", cfg.Reminder.CheckSchedule)
	assert.Equal(t, logging.LevelDebug, cfg.LogLevel())
	assert.Equal(t, identity.StaticSession{ID: "parent-1", Email: "parent@example.com"}, cfg.Sessions())

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, time.UTC, loc)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: ["), 0600))
	_, err = Load(path)
	assert.Error(t, err)
}

func TestApplyEnv_Interval(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.ApplyEnv(envMap(map[string]string{"BABYLOG_FEEDING_INTERVAL": "45m"})))
	assert.Equal(t, 45*time.Minute, cfg.Reminder.FeedingInterval)

	assert.Error(t, cfg.ApplyEnv(envMap(map[string]string{"BABYLOG_FEEDING_INTERVAL": "soon"})))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"empty addr", func(c *Config) { c.Server.Addr = "" }},
		{"empty dir", func(c *Config) { c.Database.Dir = "" }},
		{"bad fallback", func(c *Config) { c.Identity.FallbackUserID = "nobody" }},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }},
		{"zero interval", func(c *Config) { c.Reminder.FeedingInterval = 0 }},
		{"bad schedule", func(c *Config) { c.Reminder.CheckSchedule = "sometimes" }},
		{"bad timezone", func(c *Config) { c.Timezone = "Mars/Olympus" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
