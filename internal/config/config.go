// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/quantflow/stratd/internal/domain"
)

// Config holds application configuration. Values are read once at startup;
// runtime changes require a restart.
type Config struct {
	Port      int
	LogLevel  string
	LogPretty bool

	// Configuration store.
	MongoURI           string
	MongoDB            string
	ConfigCollection   string
	AccountsCollection string

	// Engine family gates. Configs for a disabled family are skipped.
	EnableVnpy       bool
	EnableBacktrader bool

	// Orchestrator.
	ReloadInterval time.Duration // 0 disables hot reload
	WarmupDays     int
	StopTimeout    time.Duration

	// Log routing.
	LogBackends []string // file, console, stream, loki, elk
	LogRoot     string
	LokiURL     string
	ELKAddr     string

	// HTTP surface.
	PublicHost  string // rewrites stream URLs for clients; empty = no rewrite
	AuthEnabled bool
	JWTSecret   string

	// Lifecycle.
	CalendarLocale        string
	LifecycleEnabled      bool
	LifecycleAutoStart    bool
	LifecycleAutoStop     bool
	LifecycleInterval     time.Duration
	LifecyclePersistMarks bool

	// State persistence.
	DataDir        string
	BackupS3Bucket string // empty disables snapshot backups
	BackupS3Prefix string
}

const devJWTSecret = "stratd-dev-secret-change-me"

// Load reads configuration from the environment, after loading a .env file
// if one is present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:      getEnvAsInt("STRATD_PORT", 8080),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogPretty: getEnvAsBool("LOG_PRETTY", false),

		MongoURI:           getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDB:            getEnv("MONGO_DB", "finance"),
		ConfigCollection:   getEnv("CONFIG_COLLECTION", "watchlist_strategies"),
		AccountsCollection: getEnv("ACCOUNTS_COLLECTION", "securities_accounts"),

		EnableVnpy:       getEnvAsBool("ENABLE_VNPY", true),
		EnableBacktrader: getEnvAsBool("ENABLE_BACKTRADER", false),

		ReloadInterval: getEnvAsDuration("RELOAD_INTERVAL", 60*time.Second),
		WarmupDays:     getEnvAsInt("WARMUP_DAYS", 90),
		StopTimeout:    getEnvAsDuration("STOP_TIMEOUT", 5*time.Second),

		LogBackends: getEnvAsList("LOG_BACKENDS", []string{"file", "stream"}),
		LogRoot:     getEnv("LOG_ROOT", "./logs"),
		LokiURL:     getEnv("LOKI_URL", ""),
		ELKAddr:     getEnv("ELK_ADDR", ""),

		PublicHost:  getEnv("PUBLIC_HOST", ""),
		AuthEnabled: getEnvAsBool("AUTH_ENABLED", false),
		JWTSecret:   getEnv("JWT_SECRET_KEY", devJWTSecret),

		CalendarLocale:        getEnv("CALENDAR_LOCALE", "cn"),
		LifecycleEnabled:      getEnvAsBool("LIFECYCLE_ENABLED", true),
		LifecycleAutoStart:    getEnvAsBool("LIFECYCLE_AUTO_START", true),
		LifecycleAutoStop:     getEnvAsBool("LIFECYCLE_AUTO_STOP", true),
		LifecycleInterval:     getEnvAsDuration("LIFECYCLE_INTERVAL", 30*time.Second),
		LifecyclePersistMarks: getEnvAsBool("LIFECYCLE_PERSIST_MARKERS", false),

		DataDir:        getEnv("DATA_DIR", "./data"),
		BackupS3Bucket: getEnv("STATE_BACKUP_S3_BUCKET", ""),
		BackupS3Prefix: getEnv("STATE_BACKUP_S3_PREFIX", "stratd/state"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for values that would fail later in a
// less obvious place.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.MongoURI == "" {
		return fmt.Errorf("MONGO_URI must not be empty")
	}
	if c.AuthEnabled && c.JWTSecret == devJWTSecret {
		return fmt.Errorf("AUTH_ENABLED requires a real JWT_SECRET_KEY")
	}
	if c.ReloadInterval < 0 {
		return fmt.Errorf("RELOAD_INTERVAL must not be negative")
	}
	for _, b := range c.LogBackends {
		switch b {
		case "file", "console", "stream", "loki", "elk":
		default:
			return fmt.Errorf("unknown log backend %q", b)
		}
	}
	return nil
}

// EnabledFamilies lists the engine families the gates allow.
func (c *Config) EnabledFamilies() []domain.EngineFamily {
	var out []domain.EngineFamily
	if c.EnableVnpy {
		out = append(out, domain.EngineVnpy)
	}
	if c.EnableBacktrader {
		out = append(out, domain.EngineBacktrader)
	}
	return out
}

// StateDBPath is the sqlite file holding engine snapshots and lifecycle
// markers.
func (c *Config) StateDBPath() string {
	return filepath.Join(c.DataDir, "state.db")
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

// getEnvAsDuration accepts Go duration strings ("45s", "2m") and, for
// compatibility with older deployments, bare integers meaning seconds.
func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}

func getEnvAsList(key string, fallback []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
