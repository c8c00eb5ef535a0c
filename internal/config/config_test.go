package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("HTTP_PORT", "9001")
	t.Setenv("CORS_ORIGINS", "https://a.example,https://b.example")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, "0.0.0.0:9001", cfg.Server.Address())
	assert.Equal(t, 24*time.Hour, cfg.Auth.TokenTTL)
	assert.Equal(t, 64, cfg.Bus.SubscriberBuffer)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
auth:
  jwt_secret: from-file
  token_ttl: 2h
store:
  driver: postgres
  postgres_dsn: postgres://localhost/zchat
redis:
  url: redis://localhost:6379/0
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.Auth.JWTSecret)
	assert.Equal(t, 2*time.Hour, cfg.Auth.TokenTTL)
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Redis.URL)
	assert.Equal(t, "zchat:events", cfg.Redis.Channel)
}

func TestValidate(t *testing.T) {
	cfg := Config{
		Store:       Store{Driver: "mysql"},
		Attachments: Attachments{Driver: "ftp"},
	}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET")
	assert.Contains(t, err.Error(), "mysql")
	assert.Contains(t, err.Error(), "ftp")
	assert.Contains(t, err.Error(), "buffer")

	cfg = Config{
		Auth:        Auth{JWTSecret: "x"},
		Store:       Store{Driver: DriverPostgres},
		Attachments: Attachments{Driver: AttachmentsDisk},
		Bus:         Bus{SubscriberBuffer: 1},
	}
	assert.ErrorContains(t, cfg.Validate(), "DATABASE_URL")
}
