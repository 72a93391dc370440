package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()
	assert.Equal(t, ":8080", cfg.Addr)
	assert.Empty(t, cfg.DatabaseURL)
	assert.Equal(t, 6, cfg.Trial.CodeLength)
	assert.Equal(t, 2*time.Second, cfg.PollInterval)
	assert.Equal(t, 10, cfg.Evaluation.DefenseBias)
	assert.Equal(t, 50, cfg.Evaluation.ObjectionThreshold)
	assert.Nil(t, cfg.AllowedOrigins)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("ADDR", ":9000")
	t.Setenv("DATABASE_URL", "postgres://localhost/trial")
	t.Setenv("CODE_LENGTH", "8")
	t.Setenv("POLL_INTERVAL", "500ms")
	t.Setenv("DEFENSE_BIAS", "0")
	t.Setenv("OBJECTION_THRESHOLD", "70")
	t.Setenv("ALLOWED_ORIGINS", "localhost:*, example.com ,")

	cfg := Load()
	assert.Equal(t, ":9000", cfg.Addr)
	assert.Equal(t, "postgres://localhost/trial", cfg.DatabaseURL)
	assert.Equal(t, 8, cfg.Trial.CodeLength)
	assert.Equal(t, 500*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, 0, cfg.Evaluation.DefenseBias)
	assert.Equal(t, 70, cfg.Evaluation.ObjectionThreshold)
	assert.Equal(t, []string{"localhost:*", "example.com"}, cfg.AllowedOrigins)
}

func TestLoad_BadValuesFallBack(t *testing.T) {
	t.Setenv("CODE_RETRIES", "many")
	t.Setenv("SIGNAL_TTL", "-5s")
	t.Setenv("IDLE_TIMEOUT", "soon")

	cfg := Load()
	assert.Equal(t, 8, cfg.Trial.CodeRetries)
	assert.Equal(t, 10*time.Minute, cfg.SignalTTL)
	assert.Equal(t, 2*time.Hour, cfg.IdleTimeout)
}
