package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/Wikid82/warden/internal/models"
)

// Config captures runtime configuration sourced from environment variables,
// an optional .env file and an optional YAML policy file.
type Config struct {
	Environment string          `yaml:"environment"`
	Debug       bool            `yaml:"debug"`
	LogDir      string          `yaml:"log_dir"`
	Agent       AgentConfig     `yaml:"agent"`
	Collector   CollectorConfig `yaml:"collector"`
}

// AgentConfig configures the client-side guard and delivery pipeline.
type AgentConfig struct {
	StoreBackend string `yaml:"store_backend"` // memory, sqlite, badger
	StorePath    string `yaml:"store_path"`

	CollectorURL string `yaml:"collector_url"`
	APIKey       string `yaml:"api_key"`
	Origin       string `yaml:"origin"`
	Locale       string `yaml:"locale"`

	BatchSize      int           `yaml:"batch_size"`
	FlushInterval  time.Duration `yaml:"flush_interval"`
	RequeueCeiling int           `yaml:"requeue_ceiling"`

	LockoutThreshold int           `yaml:"lockout_threshold"`
	LockoutDuration  time.Duration `yaml:"lockout_duration"`
	ViolationWindow  time.Duration `yaml:"violation_window"`

	OverlayOpenThreshold int `yaml:"overlay_open_threshold"`

	Policies  []models.ActionPolicy `yaml:"policies"`
	AlertURLs []string              `yaml:"alert_urls"`
}

// CollectorConfig configures the telemetry collector endpoint.
type CollectorConfig struct {
	HTTPPort       string   `yaml:"http_port"`
	DatabasePath   string   `yaml:"database_path"`
	APIKey         string   `yaml:"api_key"`
	APIKeyHash     string   `yaml:"api_key_hash"` // bcrypt; takes precedence over APIKey
	AllowedOrigins []string `yaml:"allowed_origins"`
	RetentionDays  int      `yaml:"retention_days"`
	// RetentionSchedule is a cron spec for the stored-event retention sweep.
	RetentionSchedule string `yaml:"retention_schedule"`
}

const (
	ActionOverlayOpen   = "overlay_open"
	ActionDocumentClick = "document_click"
)

// Load reads env vars and falls back to defaults so both binaries can boot
// with zero configuration.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	dataDir := getEnv("WARDEN_DATA_DIR", "data")
	cfg := Config{
		Environment: getEnv("WARDEN_ENV", "development"),
		Debug:       getEnvBool("WARDEN_DEBUG", false),
		LogDir:      getEnv("WARDEN_LOG_DIR", filepath.Join(dataDir, "logs")),
		Agent: AgentConfig{
			StoreBackend:         getEnv("WARDEN_STORE", "sqlite"),
			StorePath:            getEnv("WARDEN_STORE_PATH", filepath.Join(dataDir, "agent.db")),
			CollectorURL:         getEnv("WARDEN_COLLECTOR_URL", "http://localhost:8080/api/v1/events"),
			APIKey:               getEnv("WARDEN_API_KEY", ""),
			Origin:               getEnv("WARDEN_ORIGIN", "http://localhost"),
			Locale:               getEnv("WARDEN_LOCALE", "en"),
			BatchSize:            getEnvInt("WARDEN_BATCH_SIZE", 10),
			FlushInterval:        getEnvDuration("WARDEN_FLUSH_INTERVAL", 30*time.Second),
			RequeueCeiling:       getEnvInt("WARDEN_REQUEUE_CEILING", 100),
			LockoutThreshold:     getEnvInt("WARDEN_LOCKOUT_THRESHOLD", 5),
			LockoutDuration:      getEnvDuration("WARDEN_LOCKOUT_DURATION", 5*time.Minute),
			ViolationWindow:      getEnvDuration("WARDEN_VIOLATION_WINDOW", 5*time.Minute),
			OverlayOpenThreshold: getEnvInt("WARDEN_OVERLAY_OPEN_THRESHOLD", 10),
			Policies: []models.ActionPolicy{
				{
					Action:      ActionOverlayOpen,
					MaxAttempts: uint(getEnvInt("WARDEN_MAX_OVERLAY_OPENS", 10)),
					Window:      getEnvDuration("WARDEN_OVERLAY_WINDOW", time.Minute),
				},
				{
					Action:      ActionDocumentClick,
					MaxAttempts: uint(getEnvInt("WARDEN_MAX_DOCUMENT_CLICKS", 30)),
					Window:      getEnvDuration("WARDEN_DOCUMENT_WINDOW", time.Minute),
				},
			},
			AlertURLs: getEnvList("WARDEN_ALERT_URLS"),
		},
		Collector: CollectorConfig{
			HTTPPort:          getEnv("WARDEN_HTTP_PORT", "8080"),
			DatabasePath:      getEnv("WARDEN_DB_PATH", filepath.Join(dataDir, "collector.db")),
			APIKey:            getEnv("WARDEN_COLLECTOR_API_KEY", ""),
			APIKeyHash:        getEnv("WARDEN_COLLECTOR_API_KEY_HASH", ""),
			AllowedOrigins:    getEnvList("WARDEN_ALLOWED_ORIGINS"),
			RetentionDays:     getEnvInt("WARDEN_RETENTION_DAYS", 30),
			RetentionSchedule: getEnv("WARDEN_RETENTION_SCHEDULE", "@daily"),
		},
	}

	if path := os.Getenv("WARDEN_CONFIG"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return Config{}, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// loadFile overlays the YAML file at path on top of cfg. ${VAR} references
// are expanded from the environment first.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// Validate checks the values the core components cannot run without.
func (c Config) Validate() error {
	a := c.Agent
	switch a.StoreBackend {
	case "memory", "sqlite", "badger":
	default:
		return fmt.Errorf("unknown store backend %q", a.StoreBackend)
	}
	if a.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive, got %d", a.BatchSize)
	}
	if a.FlushInterval <= 0 {
		return fmt.Errorf("flush_interval must be positive, got %s", a.FlushInterval)
	}
	if a.RequeueCeiling <= 0 {
		return fmt.Errorf("requeue_ceiling must be positive, got %d", a.RequeueCeiling)
	}
	if a.LockoutThreshold <= 0 {
		return fmt.Errorf("lockout_threshold must be positive, got %d", a.LockoutThreshold)
	}
	if a.LockoutDuration <= 0 || a.ViolationWindow <= 0 {
		return fmt.Errorf("lockout_duration and violation_window must be positive")
	}
	seen := make(map[string]struct{}, len(a.Policies))
	for _, p := range a.Policies {
		if err := p.Validate(); err != nil {
			return err
		}
		if _, dup := seen[p.Action]; dup {
			return fmt.Errorf("%w: duplicate action %s", models.ErrInvalidPolicy, p.Action)
		}
		seen[p.Action] = struct{}{}
	}
	if c.Collector.RetentionDays < 0 {
		return fmt.Errorf("retention_days must not be negative")
	}
	return nil
}

// EnsureDir creates the parent directory of path.
func EnsureDir(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("ensure data directory: %w", err)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}

	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return fallback
}

// getEnvDuration accepts Go durations ("90s") or bare milliseconds ("60000").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	if d, err := time.ParseDuration(val); err == nil {
		return d
	}
	if ms, err := strconv.ParseInt(val, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return fallback
}

func getEnvList(key string) []string {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(val, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
