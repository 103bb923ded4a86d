package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("HTTP_ADDR", "")
	t.Setenv("STREAM_MAX_RETRIES", "")
	cfg := Load()
	check.Equal(t, ":8080", cfg.HTTPAddr)
	check.Equal(t, 3, cfg.MaxReconnectRetries)
	check.Equal(t, 3*time.Second, cfg.ReconnectDelay)
	check.Equal(t, 30*time.Minute, cfg.IntentTTL)
	check.False(t, cfg.PaymentsDevMode)
}

func TestLoadClampsNonsense(t *testing.T) {
	t.Setenv("STREAM_MAX_RETRIES", "0")
	t.Setenv("STREAM_RECONNECT_DELAY_MS", "5")
	t.Setenv("INTENT_TTL_SEC", "1")
	cfg := Load()
	check.Equal(t, 1, cfg.MaxReconnectRetries)
	check.Equal(t, 100*time.Millisecond, cfg.ReconnectDelay)
	check.Equal(t, time.Minute, cfg.IntentTTL)
}

func TestEnvParsing(t *testing.T) {
	t.Setenv("PAYMENTS_DEV_MODE", "yes")
	t.Setenv("REDIS_DB", "not-a-number")
	t.Setenv("ADMIN_NICKNAMES", " ops, ,root ")
	cfg := Load()
	check.True(t, cfg.PaymentsDevMode)
	check.Equal(t, 0, cfg.RedisDB)
	check.Equal(t, map[string]bool{"ops": true, "root": true}, cfg.AdminNicknames)
}

func TestDotEnvDoesNotOverrideEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	assert.NoError(t, os.WriteFile(path, []byte("# comment\nBIDLIVE_TEST_A=\"from-file\"\nBIDLIVE_TEST_B=file\nbroken line\n"), 0o600))
	t.Setenv("BIDLIVE_TEST_A", "")
	t.Setenv("BIDLIVE_TEST_B", "env")

	loadDotEnv(path)
	check.Equal(t, "from-file", os.Getenv("BIDLIVE_TEST_A"))
	check.Equal(t, "env", os.Getenv("BIDLIVE_TEST_B"))
}
