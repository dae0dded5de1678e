package config

import (
	"errors"
	"fmt"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

var ErrMissingRequired = errors.New("missing required configuration")

// Config is the process-level configuration. The Confluence fields are only
// defaults: the session surface lets users override them per ingestion.
type Config struct {
	ConfluenceURL      string `envconfig:"CONFLUENCE_URL" default:"https://templates.atlassian.net/wiki/"`
	ConfluenceUsername string `envconfig:"CONFLUENCE_USERNAME"`
	ConfluenceAPIKey   string `envconfig:"CONFLUENCE_API_KEY"`
	ConfluenceSpaceKey string `envconfig:"CONFLUENCE_SPACE_KEY" default:"RD"`
	PageLimit          int    `envconfig:"CONFLUENCE_PAGE_LIMIT" default:"100"`

	GeminiAPIKey string `envconfig:"GEMINI_API_KEY"`

	// VectorBackend selects the index implementation: pgvector or weaviate.
	VectorBackend string `envconfig:"VECTOR_BACKEND" default:"pgvector"`

	DBHost string `envconfig:"DB_HOST" default:"localhost"`
	DBPort int    `envconfig:"DB_PORT" default:"5432"`
	DBUser string `envconfig:"DB_USER" default:"pgvector"`
	DBPass string `envconfig:"DB_PASSWORD" default:"password"`
	DBName string `envconfig:"POSTGRES_DB" default:"pgvector"`

	WeaviateHost   string `envconfig:"WEAVIATE_HOST" default:"localhost:8080"`
	WeaviateScheme string `envconfig:"WEAVIATE_SCHEME" default:"http"`

	ServerPort    int    `envconfig:"SERVER_PORT" default:"8081"`
	MigrationPath string `envconfig:"MIGRATION_PATH" default:"file://migrations"`
	QueryLogPath  string `envconfig:"QUERY_LOG_PATH" default:"data/logs/query.log"`
}

func Load() (*Config, error) {
	// Env vars may come from the shell instead; a missing .env is fine.
	_ = godotenv.Load(".env")

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.VectorBackend {
	case "pgvector":
		if c.DBHost == "" {
			return fmt.Errorf("%w: DB_HOST", ErrMissingRequired)
		}
		if c.DBUser == "" {
			return fmt.Errorf("%w: DB_USER", ErrMissingRequired)
		}
		if c.DBName == "" {
			return fmt.Errorf("%w: POSTGRES_DB", ErrMissingRequired)
		}
	case "weaviate":
		if c.WeaviateHost == "" {
			return fmt.Errorf("%w: WEAVIATE_HOST", ErrMissingRequired)
		}
	default:
		return fmt.Errorf("unknown VECTOR_BACKEND %q", c.VectorBackend)
	}
	return nil
}

// DSN builds the Postgres connection string for the pgvector backend.
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		c.DBHost, c.DBPort, c.DBUser, c.DBPass, c.DBName)
}
