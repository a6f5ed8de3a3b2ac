package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const defaultTableAllowlist = "executive_data_plane_overview," +
	"maroon_architecture_runs," +
	"maroon_architecture_lineage," +
	"maroon_complete_picture_runs," +
	"maroon_complete_picture_system_registry," +
	"maroon_execution_tickets," +
	"maroon_counsel_ip_queue," +
	"maroon_asset_ownership_registry," +
	"maroon_hidden_gems_docket," +
	"maroon_redteam_gap_register," +
	"maroon_db_embedding_forensic_inspection," +
	"maroon_corpus_quality_overview," +
	"maroon_corpus_gap_register," +
	"maroon_corpus_file_inventory"

// Config is the immutable process configuration. It is loaded once in
// main and passed explicitly into every constructor; nothing re-reads
// the environment per request.
type Config struct {
	HTTPPort string
	LogLevel string

	// Identity provider policy.
	AuthRequired         bool // false enables the bypass operator; deploy-time switch only
	RequireEmailVerified bool
	AllowedEmails        []string
	AllowedDomains       []string
	DefaultRole          string
	RoleBootstrapKey     string

	// Provider credentials and defaults.
	GeminiAPIKey    string
	AnthropicAPIKey string
	DeepSeekAPIKey  string
	DeepSeekBaseURL string
	GeminiModel     string
	ClaudeModel     string
	DeepSeekModel   string
	PrimaryProvider string
	EmbedModels     []string

	// Warehouse settings.
	BigQueryProject  string
	BigQueryDataset  string
	BigQueryLocation string
	MaxBytesBilled   int64
	TableAllowlist   []string

	// Document store backend: "memory", "sqlite" or "firestore".
	StoreDriver      string
	SQLitePath       string
	FirestoreProject string
}

// Load reads .env (if present) and the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	cfg := &Config{
		HTTPPort: getEnv("HTTP_PORT", "8080"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		AuthRequired:         getEnvAsBool("MAROON_REQUIRE_AUTH", true),
		RequireEmailVerified: getEnvAsBool("MAROON_REQUIRE_EMAIL_VERIFIED", true),
		AllowedEmails:        getEnvAsList("MAROON_AUTH_ALLOWED_EMAILS", ""),
		AllowedDomains:       getEnvAsList("MAROON_AUTH_ALLOWED_DOMAINS", ""),
		DefaultRole:          strings.ToLower(strings.TrimSpace(getEnv("MAROON_DEFAULT_ROLE", "engineer"))),
		RoleBootstrapKey:     strings.TrimSpace(getEnv("MAROON_ROLE_ADMIN_KEY", "")),

		GeminiAPIKey:    firstNonEmpty(os.Getenv("GEMINI_API_KEY"), os.Getenv("GOOGLE_API_KEY")),
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		DeepSeekAPIKey:  getEnv("DEEPSEEK_API_KEY", ""),
		DeepSeekBaseURL: getEnv("DEEPSEEK_BASE_URL", "https://api.deepseek.com/v1"),
		GeminiModel:     getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
		ClaudeModel:     getEnv("CLAUDE_MODEL", "claude-3-5-sonnet-20241022"),
		DeepSeekModel:   getEnv("DEEPSEEK_MODEL", "deepseek-chat"),
		PrimaryProvider: strings.ToLower(getEnv("PRIMARY_PROVIDER", "claude")),
		EmbedModels:     getEnvAsList("GEMINI_EMBED_MODELS", "gemini-embedding-001,text-embedding-004"),

		BigQueryProject:  firstNonEmpty(os.Getenv("BIGQUERY_PROJECT"), os.Getenv("GCLOUD_PROJECT"), os.Getenv("GCP_PROJECT")),
		BigQueryDataset:  getEnv("BIGQUERY_DATASET", "maroon_ops"),
		BigQueryLocation: getEnv("BIGQUERY_LOCATION", "US"),
		MaxBytesBilled:   getEnvAsInt64("BQ_MAX_BYTES_BILLED", 500000000),
		TableAllowlist:   getEnvAsList("MAROON_BQ_ALLOWLIST", defaultTableAllowlist),

		StoreDriver:      strings.ToLower(getEnv("STORE_DRIVER", "sqlite")),
		SQLitePath:       getEnv("SQLITE_PATH", "signal_console.db"),
		FirestoreProject: firstNonEmpty(os.Getenv("FIRESTORE_PROJECT"), os.Getenv("GCLOUD_PROJECT")),
	}

	if cfg.MaxBytesBilled <= 0 {
		cfg.MaxBytesBilled = 500000000
	}
	switch cfg.StoreDriver {
	case "memory", "sqlite", "firestore":
	default:
		return nil, fmt.Errorf("unknown STORE_DRIVER %q (want memory, sqlite or firestore)", cfg.StoreDriver)
	}
	return cfg, nil
}

func getEnv(key string, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseInt(valueStr, 10, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	switch strings.ToLower(strings.TrimSpace(getEnv(key, ""))) {
	case "true":
		return true
	case "false":
		return false
	}
	return defaultValue
}

// getEnvAsList splits a comma-separated variable, trimming entries and
// dropping empties.
func getEnvAsList(key, defaultValue string) []string {
	raw := getEnv(key, defaultValue)
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
