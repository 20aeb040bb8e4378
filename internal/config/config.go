package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the runtime configuration of the intake backend. Secrets come
// from the environment; non-secret knobs live in Tuning and may be
// overridden by an optional YAML file (CONFIG_FILE).
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Auth      AuthConfig
	Agent     AgentConfig
	OCR       OCRConfig
	Storage   StorageConfig
	SMTP      SMTPConfig
	Directory DirectoryConfig
	Webhook   WebhookConfig
	Tuning    Tuning
}

type ServerConfig struct {
	Port string
	Env  string // "development" or "production"
}

func (s ServerConfig) IsDevelopment() bool { return s.Env != "production" }

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig is optional: an empty Addr selects the in-memory
// conversation-lock fallback.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type AuthConfig struct {
	// Secret is the HS256 signing secret shared with the auth service.
	Secret string
}

type AgentConfig struct {
	BaseURL        string
	APIKey         string
	OrganizationID string
	LibraryID      string
	ConnectTimeout time.Duration
}

type OCRConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

type StorageConfig struct {
	URL        string
	ServiceKey string
	Bucket     string
}

type SMTPConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	// LinkBaseURL is the client app origin used to build deep links in
	// outbound mail.
	LinkBaseURL string
	Timeout     time.Duration
}

// Configured reports whether outbound mail can actually be sent. When it
// returns false the mailer degrades to a logging no-op.
func (s SMTPConfig) Configured() bool { return s.Host != "" && s.From != "" }

type DirectoryConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

type WebhookConfig struct {
	// LawyerSecret guards the lawyer-response webhook. Empty means the
	// endpoint accepts any caller (development only).
	LawyerSecret string
}

// FromEnv builds the configuration from environment variables with
// development defaults, then overlays the optional tuning file named by
// CONFIG_FILE. Missing optional services degrade (and are logged by their
// adapters); a missing DATABASE_URL is the only hard error.
func FromEnv() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: getEnv("PORT", "8080"),
			Env:  getEnv("ENV", "development"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    getEnvInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: 30 * time.Minute,
		},
		Redis: RedisConfig{
			Addr:     os.Getenv("REDIS_ADDR"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Auth: AuthConfig{
			Secret: os.Getenv("AUTH_SECRET"),
		},
		Agent: AgentConfig{
			BaseURL:        os.Getenv("AGENT_API_URL"),
			APIKey:         os.Getenv("AGENT_API_KEY"),
			OrganizationID: os.Getenv("AGENT_ORG_ID"),
			LibraryID:      os.Getenv("AGENT_LIBRARY_ID"),
			ConnectTimeout: 30 * time.Second,
		},
		OCR: OCRConfig{
			BaseURL: os.Getenv("OCR_API_URL"),
			APIKey:  os.Getenv("OCR_API_KEY"),
			Timeout: 120 * time.Second,
		},
		Storage: StorageConfig{
			URL:        os.Getenv("STORAGE_URL"),
			ServiceKey: os.Getenv("STORAGE_SERVICE_KEY"),
			Bucket:     getEnv("STORAGE_BUCKET", "case-files"),
		},
		SMTP: SMTPConfig{
			Host:        os.Getenv("SMTP_HOST"),
			Port:        getEnv("SMTP_PORT", "587"),
			Username:    os.Getenv("SMTP_USERNAME"),
			Password:    os.Getenv("SMTP_PASSWORD"),
			From:        os.Getenv("SMTP_FROM"),
			LinkBaseURL: getEnv("APP_LINK_BASE_URL", "https://app.anwado.de"),
			Timeout:     10 * time.Second,
		},
		Directory: DirectoryConfig{
			BaseURL: os.Getenv("ANWALT_API_URL"),
			APIKey:  os.Getenv("ANWALT_API_KEY"),
			Timeout: 15 * time.Second,
		},
		Webhook: WebhookConfig{
			LawyerSecret: os.Getenv("LAWYER_WEBHOOK_SECRET"),
		},
		Tuning: DefaultTuning(),
	}

	if cfg.Database.URL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.Auth.Secret == "" && !cfg.Server.IsDevelopment() {
		return nil, fmt.Errorf("AUTH_SECRET is required in production")
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.Tuning.LoadFile(path); err != nil {
			return nil, fmt.Errorf("load tuning file %s: %w", path, err)
		}
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
