package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the service. It is immutable
// after Load returns.
type Config struct {
	App      AppConfig
	Install  InstallConfig
	Outbound OutboundConfig
	LLM      LLMConfig
	Store    StoreConfig
	Mail     MailConfig
	Dedup    DedupConfig
	Request  RequestConfig
	Ack      AckConfig
	Redis    RedisConfig
	Logger   LoggerConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Host               string
	Port               string
	StartupHealthcheck bool
}

// InstallConfig identifies this installation in ticket ids and templates.
type InstallConfig struct {
	Prefix    string
	ShortName string
	Timezone  string

	location *time.Location
}

// OutboundConfig names the mailbox the system sends from.
type OutboundConfig struct {
	FromAddr string
	CCAddr   string
}

// LLMConfig controls the chat-completion endpoint.
type LLMConfig struct {
	Enabled    bool
	APIKey     string
	Model      string
	DeadlineMS int
}

// StoreConfig selects and tunes the document store backend.
type StoreConfig struct {
	Backend    string
	DeadlineMS int
	WriteQPS   int

	// airtable backend
	APIKey string
	BaseID string
	Table  string
	// postgres backend
	PostgresDSN   string
	RunMigrations bool
}

// MailConfig tunes the outbound mail provider.
type MailConfig struct {
	APIKey      string
	APIURL      string
	DeadlineMS  int
	Retries     int
	BaseDelayMS int
}

// DedupConfig tunes the message-id claim set.
type DedupConfig struct {
	Backend  string
	TTLHours int
}

// RequestConfig bounds a single webhook invocation.
type RequestConfig struct {
	DeadlineMS int
}

// AckConfig carries the acknowledgment templates and the loop-guard marker.
type AckConfig struct {
	TemplateText string
	TemplateHTML string
	MarkerPhrase string
}

// RedisConfig holds Redis connection values for the redis dedup backend.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
}

// DefaultMarkerPhrase is the body phrase every acknowledgment carries; the
// loop guard matches on it when our own mail is forwarded back in.
const DefaultMarkerPhrase = "We have received your enquiry and assigned it ticket number"

// recognizedKeys enumerates every environment variable the service reads.
// Any variable sharing one of the reserved prefixes but not listed here
// fails validation.
var recognizedKeys = map[string]struct{}{
	"INSTALL_PREFIX":         {},
	"INSTALL_SHORT_NAME":     {},
	"INSTALL_TIMEZONE":       {},
	"OUTBOUND_FROM_ADDR":     {},
	"OUTBOUND_CC_ADDR":       {},
	"LLM_ENABLED":            {},
	"LLM_API_KEY":            {},
	"LLM_MODEL":              {},
	"LLM_DEADLINE_MS":        {},
	"STORE_BACKEND":          {},
	"STORE_DEADLINE_MS":      {},
	"STORE_WRITE_QPS":        {},
	"STORE_API_KEY":          {},
	"STORE_BASE_ID":          {},
	"STORE_TABLE":            {},
	"MAIL_API_KEY":           {},
	"MAIL_API_URL":           {},
	"MAIL_DEADLINE_MS":       {},
	"MAIL_RETRIES":           {},
	"MAIL_BASE_DELAY_MS":     {},
	"DEDUP_BACKEND":          {},
	"DEDUP_TTL_HOURS":        {},
	"REQUEST_DEADLINE_MS":    {},
	"ACK_TEMPLATE_TEXT":      {},
	"ACK_TEMPLATE_HTML":      {},
	"ACK_MARKER_PHRASE":      {},
}

var reservedPrefixes = []string{
	"INSTALL_", "OUTBOUND_", "LLM_", "STORE_", "MAIL_",
	"DEDUP_", "REQUEST_", "ACK_TEMPLATE_",
}

// Load reads configuration from environment variables, applying defaults
// where possible, and validates the result.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		App: AppConfig{
			Host:               getEnv("APP_HOST", "0.0.0.0"),
			Port:               getEnv("APP_PORT", "8080"),
			StartupHealthcheck: getEnvAsBool("STARTUP_HEALTHCHECK", false),
		},
		Install: InstallConfig{
			Prefix:    getEnv("INSTALL_PREFIX", "ARG"),
			ShortName: getEnv("INSTALL_SHORT_NAME", "Argan HR Consultancy"),
			Timezone:  getEnv("INSTALL_TIMEZONE", "Europe/London"),
		},
		Outbound: OutboundConfig{
			FromAddr: strings.ToLower(os.Getenv("OUTBOUND_FROM_ADDR")),
			CCAddr:   os.Getenv("OUTBOUND_CC_ADDR"),
		},
		LLM: LLMConfig{
			Enabled:    getEnvAsBool("LLM_ENABLED", true),
			APIKey:     os.Getenv("LLM_API_KEY"),
			Model:      getEnv("LLM_MODEL", "gpt-4o-mini"),
			DeadlineMS: getEnvAsInt("LLM_DEADLINE_MS", 30000),
		},
		Store: StoreConfig{
			Backend:       getEnv("STORE_BACKEND", "airtable"),
			DeadlineMS:    getEnvAsInt("STORE_DEADLINE_MS", 10000),
			WriteQPS:      getEnvAsInt("STORE_WRITE_QPS", 5),
			APIKey:        os.Getenv("STORE_API_KEY"),
			BaseID:        os.Getenv("STORE_BASE_ID"),
			Table:         getEnv("STORE_TABLE", "call_log"),
			PostgresDSN:   os.Getenv("POSTGRES_DSN"),
			RunMigrations: getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true),
		},
		Mail: MailConfig{
			APIKey:      os.Getenv("MAIL_API_KEY"),
			APIURL:      getEnv("MAIL_API_URL", "https://api.sendgrid.com/v3/mail/send"),
			DeadlineMS:  getEnvAsInt("MAIL_DEADLINE_MS", 15000),
			Retries:     getEnvAsInt("MAIL_RETRIES", 3),
			BaseDelayMS: getEnvAsInt("MAIL_BASE_DELAY_MS", 2000),
		},
		Dedup: DedupConfig{
			Backend:  getEnv("DEDUP_BACKEND", "memory"),
			TTLHours: getEnvAsInt("DEDUP_TTL_HOURS", 168),
		},
		Request: RequestConfig{
			DeadlineMS: getEnvAsInt("REQUEST_DEADLINE_MS", 120000),
		},
		Ack: AckConfig{
			TemplateText: os.Getenv("ACK_TEMPLATE_TEXT"),
			TemplateHTML: os.Getenv("ACK_TEMPLATE_HTML"),
			MarkerPhrase: getEnv("ACK_MARKER_PHRASE", DefaultMarkerPhrase),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if err := rejectUnknownKeys(os.Environ()); err != nil {
		return err
	}

	if c.Outbound.FromAddr == "" || !strings.Contains(c.Outbound.FromAddr, "@") {
		return fmt.Errorf("OUTBOUND_FROM_ADDR must be a valid address, got %q", c.Outbound.FromAddr)
	}
	if n := len(c.Install.Prefix); n == 0 || n > 8 {
		return fmt.Errorf("INSTALL_PREFIX must be 1-8 characters, got %q", c.Install.Prefix)
	}
	for _, r := range c.Install.Prefix {
		if r < 'A' || r > 'Z' {
			return fmt.Errorf("INSTALL_PREFIX must be uppercase letters, got %q", c.Install.Prefix)
		}
	}

	loc, err := time.LoadLocation(c.Install.Timezone)
	if err != nil {
		return fmt.Errorf("invalid INSTALL_TIMEZONE %q: %w", c.Install.Timezone, err)
	}
	c.Install.location = loc

	switch c.Store.Backend {
	case "airtable":
		if c.Store.BaseID == "" {
			return fmt.Errorf("STORE_BASE_ID is required for the airtable backend")
		}
	case "postgres":
		if c.Store.PostgresDSN == "" {
			return fmt.Errorf("POSTGRES_DSN is required for the postgres backend")
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.Store.Backend)
	}

	switch c.Dedup.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown DEDUP_BACKEND %q", c.Dedup.Backend)
	}

	if c.Store.WriteQPS <= 0 {
		return fmt.Errorf("STORE_WRITE_QPS must be positive, got %d", c.Store.WriteQPS)
	}
	if c.Dedup.TTLHours <= 0 {
		return fmt.Errorf("DEDUP_TTL_HOURS must be positive, got %d", c.Dedup.TTLHours)
	}
	if c.Request.DeadlineMS <= 0 {
		return fmt.Errorf("REQUEST_DEADLINE_MS must be positive, got %d", c.Request.DeadlineMS)
	}
	return nil
}

func rejectUnknownKeys(environ []string) error {
	for _, kv := range environ {
		key, _, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		for _, prefix := range reservedPrefixes {
			if strings.HasPrefix(key, prefix) {
				if _, known := recognizedKeys[key]; !known {
					return fmt.Errorf("unrecognized configuration key %s", key)
				}
				break
			}
		}
	}
	return nil
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// Location returns the installation time zone loaded during validation.
func (i InstallConfig) Location() *time.Location {
	if i.location == nil {
		return time.UTC
	}
	return i.location
}

// Deadline returns the per-call deadline for the chat endpoint.
func (l LLMConfig) Deadline() time.Duration { return time.Duration(l.DeadlineMS) * time.Millisecond }

// Deadline returns the per-call store deadline.
func (s StoreConfig) Deadline() time.Duration { return time.Duration(s.DeadlineMS) * time.Millisecond }

// Deadline returns the per-call mail deadline.
func (m MailConfig) Deadline() time.Duration { return time.Duration(m.DeadlineMS) * time.Millisecond }

// BaseDelay returns the first retry backoff step for mail sends.
func (m MailConfig) BaseDelay() time.Duration { return time.Duration(m.BaseDelayMS) * time.Millisecond }

// TTL returns the dedup claim lifetime.
func (d DedupConfig) TTL() time.Duration { return time.Duration(d.TTLHours) * time.Hour }

// Deadline returns the whole-request deadline.
func (r RequestConfig) Deadline() time.Duration { return time.Duration(r.DeadlineMS) * time.Millisecond }

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}
