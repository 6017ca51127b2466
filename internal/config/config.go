// Package config loads settings from the environment, an optional .env file
// and the YAML provider file.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/sakif/social-connect/internal/apperror"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"

	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	defaultSQLitePath = "data/connections.db"
)

// Config holds application configuration.
type Config struct {
	Environment   string `validate:"oneof=development production test"`
	LogLevel      string `validate:"oneof=debug info warn error"`
	Database      DatabaseConfig
	Encryption    EncryptionConfig
	ProvidersFile string
}

// DatabaseConfig selects and tunes the connection store.
type DatabaseConfig struct {
	Driver       string `validate:"oneof=sqlite postgres"`
	DSN          string `validate:"required"`
	MaxOpenConns int    `validate:"gte=0"`
	MaxIdleConns int    `validate:"gte=0"`
	LogQueries   bool
	AutoMigrate  bool // apply schema migrations when the store is opened
}

// EncryptionConfig is the key material for stored tokens. An empty password
// stores tokens as plaintext, which only development allows.
type EncryptionConfig struct {
	Password string
	Salt     string `validate:"omitempty,hexadecimal"` // hex, at least 8 bytes
}

var validate = validator.New()

// Load reads .env when present, then the environment, and validates the result.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config: loading .env: %w", err)
	}

	driver := getEnv("DATABASE_DRIVER", DriverSQLite)
	dsn := getEnv("DATABASE_DSN", "")
	if dsn == "" && driver == DriverSQLite {
		dsn = defaultSQLitePath
	}

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", EnvDevelopment),
		LogLevel:    strings.ToLower(getEnv("LOG_LEVEL", "info")),
		Database: DatabaseConfig{
			Driver:       driver,
			DSN:          dsn,
			MaxOpenConns: getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns: getEnvInt("DB_MAX_IDLE_CONNS", 5),
			LogQueries:   getEnvBool("DB_LOG_QUERIES", false),
			AutoMigrate:  getEnvBool("DB_AUTO_MIGRATE", true),
		},
		Encryption: EncryptionConfig{
			Password: os.Getenv("ENCRYPTION_PASSWORD"),
			Salt:     os.Getenv("ENCRYPTION_SALT"),
		},
		ProvidersFile: getEnv("PROVIDERS_FILE", "providers.yaml"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks struct tags first, then the rules that span fields.
func (c *Config) Validate() error {
	if err := validateStruct(c); err != nil {
		return err
	}

	if c.Encryption.Password == "" {
		if c.Environment == EnvProduction {
			return apperror.InvalidArgument("ENCRYPTION_PASSWORD", "ENCRYPTION_PASSWORD is required in production")
		}
		return nil
	}
	if len(c.Encryption.Salt) < 16 {
		return apperror.InvalidArgument("ENCRYPTION_SALT", "ENCRYPTION_SALT must be at least 16 hex characters when ENCRYPTION_PASSWORD is set")
	}
	return nil
}

// IsProduction reports whether the service runs in production.
func (c *Config) IsProduction() bool {
	return c.Environment == EnvProduction
}

// NewLogger builds the process logger: human-readable text in development,
// JSON in production.
func NewLogger(cfg *Config, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}
	if cfg.IsProduction() {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(level string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// validateStruct reports the first failing field as an InvalidArgument.
func validateStruct(v any) error {
	if err := validate.Struct(v); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) && len(validationErrors) > 0 {
			fe := validationErrors[0]
			return apperror.InvalidArgument(fe.Namespace(),
				fmt.Sprintf("%s failed on '%s' validation", fe.Namespace(), fe.Tag()))
		}
		return fmt.Errorf("config: validating: %w", err)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return fallback
}
