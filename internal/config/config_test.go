package config_test

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"

	"confluenceqa/internal/config"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := config.Load()
	assert.NoError(t, err)
	assert.Equal(t, "https://templates.atlassian.net/wiki/", cfg.ConfluenceURL)
	assert.Equal(t, "RD", cfg.ConfluenceSpaceKey)
	assert.Equal(t, 100, cfg.PageLimit)
	assert.Equal(t, "pgvector", cfg.VectorBackend)
	assert.Equal(t, 8081, cfg.ServerPort)
}

func TestLoadConfig_FromEnv(t *testing.T) {
	os.Setenv("CONFLUENCE_SPACE_KEY", "ENG")
	os.Setenv("DB_HOST", "test-host")
	defer os.Unsetenv("CONFLUENCE_SPACE_KEY")
	defer os.Unsetenv("DB_HOST")

	cfg, err := config.Load()
	assert.NoError(t, err)
	assert.Equal(t, "ENG", cfg.ConfluenceSpaceKey)
	assert.Equal(t, "test-host", cfg.DBHost)
}

func TestLoadConfig_FromEnvFile(t *testing.T) {
	content := []byte("CONFLUENCE_URL=https://wiki.example.com/")
	err := os.WriteFile(".env", content, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(".env")

	cfg, err := config.Load()
	assert.NoError(t, err)
	assert.Equal(t, "https://wiki.example.com/", cfg.ConfluenceURL)
}

func TestValidate_UnknownBackend(t *testing.T) {
	cfg := &config.Config{VectorBackend: "qdrant"}
	assert.Error(t, cfg.Validate())
}

func TestValidate_PgvectorRequiresDB(t *testing.T) {
	cfg := &config.Config{VectorBackend: "pgvector", DBHost: "localhost", DBUser: "pgvector"}
	err := cfg.Validate()
	assert.ErrorIs(t, err, config.ErrMissingRequired)
}

func TestDSN(t *testing.T) {
	cfg := &config.Config{DBHost: "db", DBPort: 5432, DBUser: "u", DBPass: "p", DBName: "n"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=n sslmode=disable", cfg.DSN())
}
