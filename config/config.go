// Package config provides configuration for the mock agent.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds the mock agent configuration. Environment variables set the
// defaults; CLI flags override individual fields.
type Config struct {
	// Server settings
	Port int

	// Database
	DatabaseURL string

	// Timeouts
	ToolTimeout       time.Duration
	HookTimeout       time.Duration
	CheckpointTimeout time.Duration

	// Request logging: a path template with {scenario}/{key} placeholders,
	// "stdout", or "none".
	RequestLogTemplate string

	// Transcript roots
	CodexHome  string
	ClaudeHome string
}

// Load loads configuration from environment variables.
func Load() *Config {
	home, _ := os.UserHomeDir()
	cfg := &Config{
		Port:               getEnvInt("MOCKAGENT_PORT", 8080),
		DatabaseURL:        getEnv("DATABASE_URL", "file:mockagent.db?cache=shared&mode=rwc"),
		ToolTimeout:        time.Duration(getEnvInt("TOOL_TIMEOUT_MS", 60000)) * time.Millisecond,
		HookTimeout:        time.Duration(getEnvInt("HOOK_TIMEOUT_MS", 30000)) * time.Millisecond,
		CheckpointTimeout:  time.Duration(getEnvInt("CHECKPOINT_TIMEOUT_MS", 60000)) * time.Millisecond,
		RequestLogTemplate: getEnv("REQUEST_LOG_TEMPLATE", "none"),
		CodexHome:          getEnv("CODEX_HOME", home+"/.codex"),
		ClaudeHome:         getEnv("CLAUDE_HOME", home+"/.claude"),
	}
	return cfg
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}
