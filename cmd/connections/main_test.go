package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/social-connect/internal/apperror"
	"github.com/sakif/social-connect/internal/config"
	"github.com/sakif/social-connect/internal/database"
	"github.com/sakif/social-connect/internal/model"
)

const providersYAML = `
providers:
  - id: github
    client_id: gh-client
    endpoint: github
  - id: google
    client_id: g-client
    endpoint: google
`

// setup points the command at a fresh SQLite file and seeds it.
func setup(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)

	dbPath := filepath.Join(dir, "connections.db")
	providersPath := filepath.Join(dir, "providers.yaml")
	require.NoError(t, os.WriteFile(providersPath, []byte(providersYAML), 0o644))

	t.Setenv("ENVIRONMENT", "development")
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("DATABASE_DRIVER", "sqlite")
	t.Setenv("DATABASE_DSN", dbPath)
	t.Setenv("ENCRYPTION_PASSWORD", "")
	t.Setenv("ENCRYPTION_SALT", "")
	t.Setenv("PROVIDERS_FILE", providersPath)

	store, err := database.Open(config.DatabaseConfig{Driver: config.DriverSQLite, DSN: dbPath},
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	defer store.Close()

	name := "Octo Cat"
	ctx := context.Background()
	for _, c := range []model.UserConnection{
		{UserID: "u1", ProviderID: "github", ProviderUserID: "101", Rank: 1, DisplayName: &name},
		{UserID: "u1", ProviderID: "github", ProviderUserID: "102", Rank: 2},
		{UserID: "u2", ProviderID: "github", ProviderUserID: "101", Rank: 1},
	} {
		require.NoError(t, store.CreateConnection(ctx, &c))
	}
	return dbPath
}

func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout bytes.Buffer
	err := run(context.Background(), args, &stdout, io.Discard)
	return stdout.String(), err
}

func TestProviders(t *testing.T) {
	setup(t)

	out, err := runCmd(t, "providers")
	require.NoError(t, err)
	assert.Equal(t, "github\ngoogle\n", out)
}

func TestList(t *testing.T) {
	setup(t)

	out, err := runCmd(t, "list", "-user", "u1")
	require.NoError(t, err)
	assert.Contains(t, out, "PROVIDER USER")
	assert.Contains(t, out, "Octo Cat")
	assert.Regexp(t, `github\s+101\s+Octo Cat\s+false`, out)
	assert.Regexp(t, `github\s+102\s+false`, out)

	out, err = runCmd(t, "list", "-user", "u1", "-provider", "google")
	require.NoError(t, err)
	assert.NotContains(t, out, "github")
}

func TestList_RequiresUser(t *testing.T) {
	setup(t)

	_, err := runCmd(t, "list")
	assert.ErrorIs(t, err, apperror.ErrInvalidArgument)
}

func TestLookup(t *testing.T) {
	setup(t)

	out, err := runCmd(t, "lookup", "-provider", "github", "101", "102")
	require.NoError(t, err)
	assert.Equal(t, "u1\nu2\n", out)

	out, err = runCmd(t, "lookup", "-provider", "github", "999")
	require.NoError(t, err)
	assert.Empty(t, out)

	_, err = runCmd(t, "lookup", "-provider", "github")
	assert.Error(t, err)
}

func TestRemove(t *testing.T) {
	setup(t)

	_, err := runCmd(t, "remove", "-user", "u1", "-provider", "github", "-provider-user", "101")
	require.NoError(t, err)

	out, err := runCmd(t, "lookup", "-provider", "github", "101")
	require.NoError(t, err)
	assert.Equal(t, "u2\n", out)

	_, err = runCmd(t, "remove", "-user", "u1", "-provider", "github")
	require.NoError(t, err)

	out, err = runCmd(t, "list", "-user", "u1")
	require.NoError(t, err)
	assert.NotContains(t, out, "github ")
}

func TestRun_Usage(t *testing.T) {
	setup(t)

	_, err := runCmd(t)
	assert.ErrorIs(t, err, errUsage)

	_, err = runCmd(t, "frobnicate")
	assert.ErrorIs(t, err, errUsage)

	_, err = runCmd(t, "remove", "-user", "u1")
	assert.ErrorIs(t, err, errUsage)
}

func TestNewEncryptor(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	plain, err := newEncryptor(&config.Config{}, logger)
	require.NoError(t, err)
	assert.True(t, plain.IsNoOp())

	enc, err := newEncryptor(&config.Config{Encryption: config.EncryptionConfig{
		Password: "hunter2", Salt: "5c0744940b5c369b",
	}}, logger)
	require.NoError(t, err)
	assert.False(t, enc.IsNoOp())
}
