package config

import (
	"os"
	"strings"
	"time"
)

const (
	StoreDriverSQLite   = "sqlite"
	StoreDriverPostgres = "postgres"
)

type Config struct {
	Port        string
	Environment string
	CORSOrigins string
	TablePrefix string

	// Storage
	StoreDriver string // "sqlite" (default) or "postgres"
	SQLitePath  string
	DatabaseURL string

	// Auth is disabled when JWKSURL is empty
	JWKSURL string

	// LLM Configuration
	AnthropicAPIKey  string
	OpenRouterAPIKey string
	DefaultProvider  string
	DefaultModel     string
	ToolsEnabled     bool

	// Engine tuning; the EngineConfigFile overlay may replace these
	Engine           EngineConfig
	EngineConfigFile string

	NamingEnabled bool
	LogDir        string
	LogMaxFiles   int

	// Debug flags
	Debug bool // Enables DEBUG features like SSE event IDs
}

func Load() *Config {
	env := getEnv("ENVIRONMENT", "dev")

	return &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: env,
		CORSOrigins: getEnv("CORS_ORIGINS", "http://localhost:3000"),
		TablePrefix: getTablePrefix(env),

		StoreDriver: strings.ToLower(getEnv("STORE_DRIVER", StoreDriverSQLite)),
		SQLitePath:  getEnv("SQLITE_PATH", "data/chat.db"),
		DatabaseURL: getEnv("DATABASE_URL", ""),

		JWKSURL: getEnv("JWKS_URL", ""),

		AnthropicAPIKey:  getEnv("ANTHROPIC_API_KEY", ""),
		OpenRouterAPIKey: getEnv("OPENROUTER_API_KEY", ""),
		DefaultProvider:  getEnv("DEFAULT_PROVIDER", "lorem"),
		DefaultModel:     getEnv("DEFAULT_MODEL", "lorem-fast"),
		ToolsEnabled:     getEnv("TOOLS_ENABLED", "true") == "true",

		Engine: EngineConfig{
			ToolWaitTimeout: getDuration("TOOL_WAIT_TIMEOUT", DefaultToolWaitTimeout),
			PersistInterval: getDuration("PERSIST_INTERVAL", DefaultPersistInterval),
			NamingTimeout:   getDuration("NAMING_TIMEOUT", DefaultNamingTimeout),
			Notices:         DefaultNotices(),
		},
		EngineConfigFile: getEnv("ENGINE_CONFIG_FILE", ""),

		NamingEnabled: getEnv("NAMING_ENABLED", "true") == "true",
		LogDir:        getEnv("LOG_DIR", ""),
		LogMaxFiles:   10,

		// Debug flags - default to true in dev/test, false in production
		Debug: getEnv("DEBUG", getDefaultDebug(env)) == "true",
	}
}

// getDefaultDebug returns the default debug setting based on environment
func getDefaultDebug(env string) string {
	if env == "prod" {
		return "false"
	}
	return "true"
}

// getTablePrefix returns the table prefix based on environment.
// TABLE_PREFIX overrides it.
func getTablePrefix(env string) string {
	if prefix := os.Getenv("TABLE_PREFIX"); prefix != "" {
		return prefix
	}

	switch env {
	case "prod":
		return "prod_"
	case "test":
		return "test_"
	default:
		return "dev_"
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getDuration parses values like "150ms" or "60s"; invalid values fall
// back to the default.
func getDuration(key string, defaultValue time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return defaultValue
	}
	return d
}
