package config

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/social-connect/internal/apperror"
)

// clearEnv unsets every variable Load reads; t.Setenv restores them afterwards.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"ENVIRONMENT", "LOG_LEVEL", "DATABASE_DRIVER", "DATABASE_DSN",
		"DB_MAX_OPEN_CONNS", "DB_MAX_IDLE_CONNS", "DB_LOG_QUERIES", "DB_AUTO_MIGRATE",
		"ENCRYPTION_PASSWORD", "ENCRYPTION_SALT", "PROVIDERS_FILE",
	} {
		t.Setenv(key, "")
	}
	// Keep a developer's .env out of the test.
	t.Chdir(t.TempDir())
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, EnvDevelopment, cfg.Environment)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, DriverSQLite, cfg.Database.Driver)
	assert.Equal(t, "data/connections.db", cfg.Database.DSN)
	assert.Equal(t, 25, cfg.Database.MaxOpenConns)
	assert.Equal(t, 5, cfg.Database.MaxIdleConns)
	assert.False(t, cfg.Database.LogQueries)
	assert.True(t, cfg.Database.AutoMigrate)
	assert.Equal(t, "providers.yaml", cfg.ProvidersFile)
}

func TestLoad_FromEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("DATABASE_DRIVER", "postgres")
	t.Setenv("DATABASE_DSN", "postgres://u:p@localhost:5432/social?sslmode=disable")
	t.Setenv("DB_MAX_OPEN_CONNS", "10")
	t.Setenv("DB_LOG_QUERIES", "true")
	t.Setenv("ENCRYPTION_PASSWORD", "hunter2")
	t.Setenv("ENCRYPTION_SALT", "5c0744940b5c369b")

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.IsProduction())
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, DriverPostgres, cfg.Database.Driver)
	assert.Equal(t, 10, cfg.Database.MaxOpenConns)
	assert.True(t, cfg.Database.LogQueries)
	assert.Equal(t, "hunter2", cfg.Encryption.Password)
}

func TestLoad_DotEnv(t *testing.T) {
	clearEnv(t)
	require.NoError(t, os.WriteFile(".env", []byte("DATABASE_DSN=from-dotenv.db\n"), 0o644))
	// godotenv does not override variables that are already set, even empty ones.
	os.Unsetenv("DATABASE_DSN")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv.db", cfg.Database.DSN)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		env   map[string]string
		field string
	}{
		{"unknown driver", map[string]string{"DATABASE_DRIVER": "mysql"}, "Config.Database.Driver"},
		{"postgres without dsn", map[string]string{"DATABASE_DRIVER": "postgres"}, "Config.Database.DSN"},
		{"bad log level", map[string]string{"LOG_LEVEL": "loud"}, "Config.LogLevel"},
		{"production without password", map[string]string{"ENVIRONMENT": "production"}, "ENCRYPTION_PASSWORD"},
		{"password without salt", map[string]string{"ENCRYPTION_PASSWORD": "pw"}, "ENCRYPTION_SALT"},
		{"salt not hex", map[string]string{"ENCRYPTION_PASSWORD": "pw", "ENCRYPTION_SALT": "zzzzzzzzzzzzzzzz"}, "Config.Encryption.Salt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := Load()
			require.ErrorIs(t, err, apperror.ErrInvalidArgument)

			var appErr *apperror.AppError
			require.ErrorAs(t, err, &appErr)
			assert.Equal(t, tt.field, appErr.Field)
		})
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer

	prod := NewLogger(&Config{Environment: EnvProduction, LogLevel: "warn"}, &buf)
	prod.Info("hidden")
	prod.Warn("shown", "providerID", "github")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry), "production logs are JSON")
	assert.Equal(t, "shown", entry["msg"])
	assert.Equal(t, "github", entry["providerID"])

	buf.Reset()
	dev := NewLogger(&Config{Environment: EnvDevelopment, LogLevel: "debug"}, &buf)
	dev.Debug("visible")
	assert.Contains(t, buf.String(), "msg=visible")
}

// =========================================================================
// PROVIDERS FILE
// =========================================================================

func writeProviders(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "providers.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadProviders(t *testing.T) {
	t.Setenv("GITHUB_SECRET", "s3cr3t")
	path := writeProviders(t, `
providers:
  - id: github
    client_id: gh-client
    client_secret: ${GITHUB_SECRET}
    endpoint: github
    redirect_url: http://localhost:8080/connect/github
    scopes: [read:user]
  - id: acme
    client_id: acme-client
    auth_url: https://acme.example/oauth/authorize
    token_url: https://acme.example/oauth/token
`)

	providers, err := LoadProviders(path)
	require.NoError(t, err)
	require.Len(t, providers, 2)

	assert.Equal(t, ProviderConfig{
		ID:           "github",
		ClientID:     "gh-client",
		ClientSecret: "s3cr3t",
		Endpoint:     "github",
		RedirectURL:  "http://localhost:8080/connect/github",
		Scopes:       []string{"read:user"},
	}, providers[0])
	assert.Equal(t, "https://acme.example/oauth/token", providers[1].TokenURL)
}

func TestLoadProviders_Empty(t *testing.T) {
	providers, err := LoadProviders(writeProviders(t, "providers: []\n"))
	require.NoError(t, err)
	assert.NotNil(t, providers)
	assert.Empty(t, providers)
}

func TestLoadProviders_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"missing id", "providers:\n  - client_id: x\n    endpoint: github\n"},
		{"missing client id", "providers:\n  - id: github\n    endpoint: github\n"},
		{"no endpoint", "providers:\n  - id: acme\n    client_id: x\n    auth_url: https://acme.example/a\n"},
		{"bad url", "providers:\n  - id: acme\n    client_id: x\n    auth_url: nope\n    token_url: https://acme.example/t\n"},
		{"duplicate id", "providers:\n  - {id: github, client_id: a, endpoint: github}\n  - {id: github, client_id: b, endpoint: github}\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadProviders(writeProviders(t, tt.content))
			assert.ErrorIs(t, err, apperror.ErrInvalidArgument)
		})
	}
}

func TestLoadProviders_Unreadable(t *testing.T) {
	_, err := LoadProviders(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = LoadProviders(writeProviders(t, "providers: [unclosed"))
	assert.Error(t, err)
}
