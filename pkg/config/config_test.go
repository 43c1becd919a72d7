package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("APP_PORT", "")
	t.Setenv("DB_NAME", "")
	t.Setenv("DB_SSLMODE", "")

	cfg := LoadConfig()

	assert.Equal(t, "5000", cfg.AppPort)
	assert.Equal(t, "web_toko_pakaian", cfg.DBName)
	assert.Equal(t, "disable", cfg.DBSSLMode)
	assert.Equal(t, 5000, cfg.GetAppPortInt())
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("APP_PORT", "8080")
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("DB_PASSWORD", "s3cret")
	t.Setenv("DB_PORT", "")
	t.Setenv("DB_USER", "")
	t.Setenv("DB_NAME", "")
	t.Setenv("DB_SSLMODE", "")

	cfg := LoadConfig()
	assert.Equal(t, "8080", cfg.AppPort)
	assert.Equal(t, 8080, cfg.GetAppPortInt())
	assert.Equal(t, "host=db.internal port=5432 user=postgres password=s3cret dbname=web_toko_pakaian sslmode=disable", cfg.GetDSN())
}
