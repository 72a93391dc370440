// Package config reads server settings from the environment. A .env file in
// the working directory is loaded first when present; real environment
// variables win over it.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/DoyleJ11/trial-backend/internal/evaluation"
	"github.com/DoyleJ11/trial-backend/internal/trial"
)

type Config struct {
	Addr   string
	LogEnv string

	// DatabaseURL selects the postgres store; empty runs in memory.
	DatabaseURL   string
	NotifyChannel string
	// RedisURL selects the redis signal mailbox; empty uses the session store.
	RedisURL string

	Trial      trial.Config
	Evaluation evaluation.Params
	CasesFile  string

	PollInterval time.Duration
	SignalTTL    time.Duration
	IdleTimeout  time.Duration
	JanitorSpec  string

	AllowedOrigins []string
}

func Load() Config {
	_ = godotenv.Load()

	def := trial.DefaultConfig()
	params := evaluation.DefaultParams()
	params.DefenseBias = getenvInt("DEFENSE_BIAS", params.DefenseBias)
	params.ObjectionThreshold = getenvInt("OBJECTION_THRESHOLD", params.ObjectionThreshold)
	params.HighConfidenceGap = getenvInt("HIGH_CONFIDENCE_GAP", params.HighConfidenceGap)

	return Config{
		Addr:          getenv("ADDR", ":8080"),
		LogEnv:        getenv("LOG_ENV", "development"),
		DatabaseURL:   getenv("DATABASE_URL", ""),
		NotifyChannel: getenv("NOTIFY_CHANNEL", "trial_changes"),
		RedisURL:      getenv("REDIS_URL", ""),
		Trial: trial.Config{
			CodeLength:      getenvInt("CODE_LENGTH", def.CodeLength),
			CodeRetries:     getenvInt("CODE_RETRIES", def.CodeRetries),
			DefaultCapacity: getenvInt("DEFAULT_CAPACITY", def.DefaultCapacity),
		},
		Evaluation:     params,
		CasesFile:      getenv("CASES_FILE", ""),
		PollInterval:   getenvDuration("POLL_INTERVAL", 2*time.Second),
		SignalTTL:      getenvDuration("SIGNAL_TTL", 10*time.Minute),
		IdleTimeout:    getenvDuration("IDLE_TIMEOUT", 2*time.Hour),
		JanitorSpec:    getenv("JANITOR_SPEC", "@every 1m"),
		AllowedOrigins: getenvList("ALLOWED_ORIGINS", nil),
	}
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

// getenvList splits a comma separated value, dropping empty items.
func getenvList(key string, fallback []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
