package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Document store backends.
const (
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendBolt     = "bolt"
)

// Config aggregates all runtime settings required by the application.
type Config struct {
	AppName     string
	Environment string
	Location    *time.Location
	HTTP        HTTPConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	Store       StoreConfig
	Identity    IdentityConfig
	Auth        AuthConfig
	Session     SessionConfig
	Reminder    ReminderConfig
	Celebration CelebrationConfig
	Monitor     MonitorConfig
	Context     ContextConfig
	Logger      LoggerConfig
	Migrations  MigrationsConfig
}

type HTTPConfig struct {
	Host         string
	Port         string
	ReadTimeout  time.Duration
	// WriteTimeout bounds a whole response, so a non-zero value cuts event streams.
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	MaxConn      int
	// EventsHeartbeat is the keep-alive interval of the server-sent event stream.
	EventsHeartbeat time.Duration
}

type DatabaseConfig struct {
	URL             string
	Host            string
	Port            string
	Name            string
	User            string
	Password        string
	MaxOpenConns    int
	MaxIdleConns    int
	MaxConnLifetime time.Duration
	SSLMode         string
}

type RedisConfig struct {
	URL      string
	Password string
	DB       int
}

type StoreConfig struct {
	Backend     string
	BoltPath    string
	RedisPrefix string
	MaxRetries  int
}

type IdentityConfig struct {
	JWKSURL     string
	JWKSRefresh time.Duration
	Secret      string
	Audience    string
	Issuer      string
}

type AuthConfig struct {
	AllowedEmails []string
	AllowedUIDs   []string
}

type SessionConfig struct {
	TTL             time.Duration
	JanitorSchedule string
}

type ReminderConfig struct {
	Enabled  bool
	Schedule string
	Hour     int
	// Notifier is "redis", "log" or "both".
	Notifier string
}

type CelebrationConfig struct {
	Duration time.Duration
}

type MonitorConfig struct {
	Interval time.Duration
}

type ContextConfig struct {
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
}

type LoggerConfig struct {
	Level    string
	Encoding string
}

type MigrationsConfig struct {
	Enabled bool
	Path    string
}

// Load reads configuration from environment variables (optionally .env)
// and applies sane defaults so the service can boot in any environment.
func Load() (*Config, error) {
	_ = godotenv.Load(".env")

	cfg := &Config{
		AppName:     getString("APP_NAME", "donote"),
		Environment: getString("APP_ENV", "development"),
		HTTP: HTTPConfig{
			Host:            getString("SERVER_HOST", "0.0.0.0"),
			Port:            getString("SERVER_PORT", "8080"),
			ReadTimeout:     getDuration("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:    getDuration("SERVER_WRITE_TIMEOUT", 0),
			IdleTimeout:     getDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
			MaxConn:         getInt("SERVER_MAX_CONN", 0),
			EventsHeartbeat: getDuration("EVENTS_HEARTBEAT", 15*time.Second),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			Host:            getString("DB_HOST", "localhost"),
			Port:            getString("DB_PORT", "5432"),
			Name:            getString("DB_NAME", "donote"),
			User:            getString("DB_USER", "donote"),
			Password:        os.Getenv("DB_PASSWORD"),
			MaxOpenConns:    getInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getInt("DB_MAX_IDLE_CONNS", 10),
			MaxConnLifetime: getDuration("DB_CONN_LIFETIME", time.Hour),
			SSLMode:         getString("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			URL:      getString("REDIS_URL", "redis://localhost:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       getInt("REDIS_DB", 0),
		},
		Store: StoreConfig{
			Backend:     strings.ToLower(getString("STORE_BACKEND", BackendRedis)),
			BoltPath:    getString("BOLTDB_PATH", "./data/donote.db"),
			RedisPrefix: getString("STORE_REDIS_PREFIX", "donote:"),
			MaxRetries:  getInt("STORE_MAX_RETRIES", 16),
		},
		Identity: IdentityConfig{
			JWKSURL:     os.Getenv("IDENTITY_JWKS_URL"),
			JWKSRefresh: getDuration("IDENTITY_JWKS_REFRESH", time.Hour),
			Secret:      os.Getenv("JWT_SECRET"),
			Audience:    os.Getenv("IDENTITY_AUDIENCE"),
			Issuer:      os.Getenv("IDENTITY_ISSUER"),
		},
		Auth: AuthConfig{
			AllowedEmails: getList("AUTH_ALLOWED_EMAILS"),
			AllowedUIDs:   getList("AUTH_ALLOWED_UIDS"),
		},
		Session: SessionConfig{
			TTL:             getDuration("SESSION_TTL", 24*time.Hour),
			JanitorSchedule: getString("SESSION_JANITOR_SCHEDULE", "@every 1m"),
		},
		Reminder: ReminderConfig{
			Enabled:  getBool("REMINDER_ENABLED", true),
			Schedule: getString("REMINDER_SCHEDULE", "@every 1m"),
			Hour:     getInt("REMINDER_HOUR", 9),
			Notifier: strings.ToLower(getString("REMINDER_NOTIFIER", "both")),
		},
		Celebration: CelebrationConfig{
			Duration: getDuration("CELEBRATION_DURATION", 4*time.Second),
		},
		Monitor: MonitorConfig{
			Interval: getDuration("MONITOR_INTERVAL", 10*time.Second),
		},
		Context: ContextConfig{
			RequestTimeout:  getDuration("REQUEST_TIMEOUT_SECONDS", 5*time.Second),
			ShutdownTimeout: getDuration("SHUTDOWN_TIMEOUT_SECONDS", 15*time.Second),
		},
		Logger: LoggerConfig{
			Level:    getString("LOG_LEVEL", "info"),
			Encoding: getString("LOG_ENCODING", "json"),
		},
		Migrations: MigrationsConfig{
			Enabled: getBool("RUN_MIGRATIONS", true),
			Path:    getString("MIGRATIONS_PATH", "./assets/migrations"),
		},
	}

	loc, err := time.LoadLocation(getString("APP_TIMEZONE", "Local"))
	if err != nil {
		return nil, fmt.Errorf("APP_TIMEZONE: %w", err)
	}
	cfg.Location = loc

	if cfg.Database.URL == "" {
		cfg.Database.URL = buildPostgresURL(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// MustLoad panics if configuration cannot be loaded.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Validate rejects settings the service cannot start with.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case BackendRedis, BackendPostgres, BackendBolt:
	default:
		return fmt.Errorf("STORE_BACKEND: unsupported backend %q", c.Store.Backend)
	}
	if c.Identity.JWKSURL == "" && c.Identity.Secret == "" {
		return fmt.Errorf("either IDENTITY_JWKS_URL or JWT_SECRET must be set")
	}
	if c.Reminder.Hour < 0 || c.Reminder.Hour > 23 {
		return fmt.Errorf("REMINDER_HOUR: %d is not an hour of the day", c.Reminder.Hour)
	}
	switch c.Reminder.Notifier {
	case "redis", "log", "both":
	default:
		return fmt.Errorf("REMINDER_NOTIFIER: unsupported notifier %q", c.Reminder.Notifier)
	}
	return nil
}

// UsesPostgres reports whether the configured backends need a database pool.
func (c *Config) UsesPostgres() bool {
	return c.Store.Backend == BackendPostgres
}

func buildPostgresURL(cfg *Config) string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		cfg.Database.User,
		cfg.Database.Password,
		cfg.Database.Host,
		cfg.Database.Port,
		cfg.Database.Name,
		cfg.Database.SSLMode,
	)
}

func getString(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseBool(val); err == nil {
			return parsed
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
		if seconds, err := strconv.Atoi(val); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return fallback
}

// getList splits a comma-separated variable, dropping blanks.
func getList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Address returns the HTTP listen address for the fasthttp server.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%s", c.HTTP.Host, c.HTTP.Port)
}
