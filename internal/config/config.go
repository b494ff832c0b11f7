// Package config handles service configuration
package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	apperrors "github.com/GriffinCanCode/good-listener/backend/notes/internal/errors"
)

type Config struct {
	HTTPAddr string
	DBPath   string
	LogLevel slog.Level

	LLMProvider string
	LLMBaseURL  string
	LLMModel    string
	STTProvider string

	MinWords               int           // eligibility floor for enhancement
	AutoEnhanceMaxAttempts int           // auto-enhance retries before giving up
	AutoEnhanceRetryDelay  time.Duration // delay between auto-enhance attempts
	ChunkTokenBudget       int           // local-provider prompt budget
	ValidationMaxRetries   int           // early-validation retries per generation
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first; variables already set in the environment win.
func Load() *Config {
	if err := godotenv.Load(); err == nil {
		slog.Debug("loaded .env file")
	}

	return &Config{
		HTTPAddr:               getEnv("HTTP_ADDR", ":8000"),
		DBPath:                 getEnv("DB_PATH", "notes.sqlite"),
		LogLevel:               getEnvLevel("LOG_LEVEL", slog.LevelInfo),
		LLMProvider:            getEnv("LLM_PROVIDER", "ollama"),
		LLMBaseURL:             getEnv("LLM_BASE_URL", "http://localhost:11434"),
		LLMModel:               getEnv("LLM_MODEL", ""),
		STTProvider:            getEnv("STT_PROVIDER", "deepgram"),
		MinWords:               getEnvInt("ENHANCE_MIN_WORDS", 5),
		AutoEnhanceMaxAttempts: getEnvInt("AUTO_ENHANCE_MAX_ATTEMPTS", 20),
		AutoEnhanceRetryDelay:  getEnvDuration("AUTO_ENHANCE_RETRY_DELAY", 500*time.Millisecond),
		ChunkTokenBudget:       getEnvInt("CHUNK_TOKEN_BUDGET", 6000),
		ValidationMaxRetries:   getEnvInt("VALIDATION_MAX_RETRIES", 2),
	}
}

// Validate rejects values the enhancer cannot run with.
func (c *Config) Validate() error {
	checks := []struct {
		name  string
		value int
	}{
		{"ENHANCE_MIN_WORDS", c.MinWords},
		{"AUTO_ENHANCE_MAX_ATTEMPTS", c.AutoEnhanceMaxAttempts},
		{"CHUNK_TOKEN_BUDGET", c.ChunkTokenBudget},
	}
	for _, chk := range checks {
		if chk.value <= 0 {
			return apperrors.Newf(apperrors.ConfigInvalid, "%s must be positive, got %d", chk.name, chk.value)
		}
	}
	if c.ValidationMaxRetries < 0 {
		return apperrors.Newf(apperrors.ConfigInvalid, "VALIDATION_MAX_RETRIES must not be negative, got %d", c.ValidationMaxRetries)
	}
	if c.AutoEnhanceRetryDelay <= 0 {
		return apperrors.New(apperrors.ConfigInvalid, "AUTO_ENHANCE_RETRY_DELAY must be positive")
	}
	return nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getEnvLevel(key string, def slog.Level) slog.Level {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(v)); err != nil {
		return def
	}
	return lvl
}
