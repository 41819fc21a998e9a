package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rpattn/stockimport/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 50000, cfg.Pipeline.MaxRows)
	assert.Equal(t, 2, cfg.Pipeline.FuzzyDistance)
	assert.Equal(t, domain.DateOrderDMY, cfg.Pipeline.DateOrder)
	assert.Equal(t, 50.0, cfg.Validation.RateVariancePct)
	assert.Equal(t, 60.0, cfg.Quality.ReviewSource)
	assert.Equal(t, 3, cfg.Resilience.RetryMaxAttempts)
	assert.Equal(t, 100*time.Millisecond, cfg.Resilience.RetryInitialBackoff)
	assert.Empty(t, cfg.NATS.URL)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	yaml := `
server:
  addr: ":9000"
database:
  host: db.internal
  dbname: inventory
pipeline:
  max_rows: 100
  date_order: mdy
validation:
  allowed_units: [kg, pcs]
quality:
  completeness: 95
resilience:
  breaker_open_timeout: 45s
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o600))
	t.Setenv("STOCKIMPORT_DATABASE_HOST", "db.override")
	t.Setenv("STOCKIMPORT_NATS_URL", "nats://localhost:4222")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, "db.override", cfg.Database.Host)
	assert.Equal(t, "inventory", cfg.Database.DBName)
	assert.Equal(t, 100, cfg.Pipeline.MaxRows)
	assert.Equal(t, domain.DateOrderMDY, cfg.Pipeline.DateOrder)
	assert.Equal(t, []string{"kg", "pcs"}, cfg.Validation.AllowedUnits)
	assert.Equal(t, 95.0, cfg.Quality.Completeness)
	assert.Equal(t, 80.0, cfg.Quality.Accuracy)
	assert.Equal(t, 45*time.Second, cfg.Resilience.BreakerOpenTimeout)
	assert.Equal(t, "nats://localhost:4222", cfg.NATS.URL)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("pipeline:\n  max_rows: -1\n"), 0o600))
	_, err := Load(dir)
	assert.Error(t, err)
}

func TestLoadRejectsUnknownDateOrder(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("pipeline:\n  date_order: YMD\n"), 0o600))
	_, err := Load(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pipeline.date_order")
}
