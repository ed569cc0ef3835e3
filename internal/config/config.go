// Package config manages application configuration
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// MinSecretLength is the shortest session secret accepted at startup.
const MinSecretLength = 32

// Supported database drivers
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

// Config holds all application configuration
type Config struct {
	App      AppConfig
	Session  SessionConfig
	Database DatabaseConfig
	CCOW     CCOWConfig
	VistA    ServiceConfig
	MedZ1    ServiceConfig

	// BcryptCost is the work factor used when hashing new passwords
	BcryptCost int
}

// AppConfig holds server settings
type AppConfig struct {
	Name     string
	Version  string
	Port     int
	Debug    bool
	LogLevel string
}

// SessionConfig holds session cookie settings
type SessionConfig struct {
	SecretKey      string
	TimeoutMinutes int
	CookieName     string
	CookieSecure   bool
}

// Timeout returns the session lifetime.
func (s SessionConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutMinutes) * time.Minute
}

// CookieMaxAge returns the cookie Max-Age in seconds.
func (s SessionConfig) CookieMaxAge() int {
	return s.TimeoutMinutes * 60
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Driver     string
	Host       string
	Port       int
	Name       string
	User       string
	Password   string
	SQLitePath string
}

// DSN returns the connection string for the configured driver.
func (d DatabaseConfig) DSN() string {
	if d.Driver == DriverSQLite {
		return d.SQLitePath
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(d.User, d.Password),
		Host:     fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:     "/" + d.Name,
		RawQuery: "sslmode=disable",
	}
	return u.String()
}

// CCOWConfig holds CCOW vault settings
type CCOWConfig struct {
	BaseURL        string
	HealthEndpoint string
	Timeout        time.Duration
}

// ServiceConfig locates a sibling application.
type ServiceConfig struct {
	BaseURL        string
	HealthEndpoint string
}

// Load reads configuration from the environment, optionally seeded by a .env file.
// An empty envFile skips file loading.
func Load(envFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			v.SetConfigFile(envFile)
			v.SetConfigType("env")
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read %s: %w", envFile, err)
			}
		}
	}

	cfg := &Config{
		App: AppConfig{
			Name:     v.GetString("APP_NAME"),
			Version:  v.GetString("APP_VERSION"),
			Port:     v.GetInt("APP_PORT"),
			Debug:    v.GetBool("DEBUG"),
			LogLevel: strings.ToLower(v.GetString("LOG_LEVEL")),
		},
		Session: SessionConfig{
			SecretKey:      v.GetString("SESSION_SECRET_KEY"),
			TimeoutMinutes: v.GetInt("SESSION_TIMEOUT_MINUTES"),
			CookieName:     v.GetString("SESSION_COOKIE_NAME"),
			CookieSecure:   v.GetBool("SESSION_COOKIE_SECURE"),
		},
		Database: DatabaseConfig{
			Driver:     strings.ToLower(v.GetString("DB_DRIVER")),
			Host:       v.GetString("POSTGRES_HOST"),
			Port:       v.GetInt("POSTGRES_PORT"),
			Name:       v.GetString("POSTGRES_DB"),
			User:       v.GetString("POSTGRES_USER"),
			Password:   v.GetString("POSTGRES_PASSWORD"),
			SQLitePath: v.GetString("SQLITE_PATH"),
		},
		CCOW: CCOWConfig{
			BaseURL:        strings.TrimRight(v.GetString("CCOW_BASE_URL"), "/"),
			HealthEndpoint: v.GetString("CCOW_HEALTH_ENDPOINT"),
			Timeout:        time.Duration(v.GetInt("CCOW_TIMEOUT_SECONDS")) * time.Second,
		},
		VistA: ServiceConfig{
			BaseURL:        strings.TrimRight(v.GetString("VISTA_BASE_URL"), "/"),
			HealthEndpoint: v.GetString("VISTA_HEALTH_ENDPOINT"),
		},
		MedZ1: ServiceConfig{
			BaseURL: strings.TrimRight(v.GetString("MEDZ1_BASE_URL"), "/"),
		},
		BcryptCost: v.GetInt("BCRYPT_ROUNDS"),
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_NAME", "med-z4")
	v.SetDefault("APP_VERSION", "0.1.0")
	v.SetDefault("APP_PORT", 8005)
	v.SetDefault("DEBUG", false)
	v.SetDefault("LOG_LEVEL", "info")

	v.SetDefault("SESSION_TIMEOUT_MINUTES", 25)
	v.SetDefault("SESSION_COOKIE_NAME", "med_z4_session_id")
	v.SetDefault("SESSION_COOKIE_SECURE", false)

	v.SetDefault("DB_DRIVER", DriverPostgres)
	v.SetDefault("POSTGRES_HOST", "localhost")
	v.SetDefault("POSTGRES_PORT", 5432)
	v.SetDefault("POSTGRES_DB", "medz1")
	v.SetDefault("POSTGRES_USER", "postgres")
	v.SetDefault("SQLITE_PATH", "medz4.db")

	v.SetDefault("CCOW_BASE_URL", "http://localhost:8001")
	v.SetDefault("CCOW_HEALTH_ENDPOINT", "/ccow/health")
	v.SetDefault("CCOW_TIMEOUT_SECONDS", 5)

	v.SetDefault("VISTA_BASE_URL", "http://localhost:8003")
	v.SetDefault("VISTA_HEALTH_ENDPOINT", "/health")
	v.SetDefault("MEDZ1_BASE_URL", "http://localhost:8000")

	v.SetDefault("BCRYPT_ROUNDS", 12)
}

func (c *Config) validate() error {
	if c.Session.SecretKey == "" {
		return errors.New("SESSION_SECRET_KEY must be set")
	}
	if len(c.Session.SecretKey) < MinSecretLength {
		return fmt.Errorf("SESSION_SECRET_KEY must be at least %d characters", MinSecretLength)
	}
	if c.Session.TimeoutMinutes <= 0 {
		return fmt.Errorf("invalid SESSION_TIMEOUT_MINUTES: %d", c.Session.TimeoutMinutes)
	}
	if c.Session.CookieName == "" {
		return errors.New("SESSION_COOKIE_NAME must not be empty")
	}

	switch c.Database.Driver {
	case DriverPostgres:
		if c.Database.Password == "" {
			return errors.New("POSTGRES_PASSWORD must be set")
		}
	case DriverSQLite:
		if c.Database.SQLitePath == "" {
			return errors.New("SQLITE_PATH must be set")
		}
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.Database.Driver)
	}

	if c.App.Port <= 0 || c.App.Port > 65535 {
		return fmt.Errorf("invalid APP_PORT: %d", c.App.Port)
	}
	if c.CCOW.BaseURL == "" {
		return errors.New("CCOW_BASE_URL must be set")
	}
	if c.CCOW.Timeout <= 0 {
		c.CCOW.Timeout = 5 * time.Second
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		return fmt.Errorf("invalid BCRYPT_ROUNDS: %d", c.BcryptCost)
	}
	return nil
}

// IsDevelopment returns true when debug mode is on
func (c *Config) IsDevelopment() bool {
	return c.App.Debug
}
