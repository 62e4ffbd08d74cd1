package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsFallBackToSQLiteInDebug(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, DriverSQLite, cfg.Database.Driver)
	assert.Equal(t, 3, cfg.RateLimit.AnonymousLimit)
	assert.Equal(t, 24*time.Hour, cfg.RateLimit.Window)
	assert.Equal(t, int64(10<<20), cfg.Server.MaxUploadBytes)
	assert.Equal(t, BackendTFLite, cfg.Classifier.Backend)
}

func TestLoadReadsFileAndEnvironment(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  mode: release
database:
  driver: postgres
  dsn: host=db user=app dbname=waste
rate_limit:
  anonymous_limit: 5
  window: 1h
storage:
  upload_dir: /var/lib/waste/uploads
`), 0o600))

	t.Setenv("ANON_UPLOAD_LIMIT", "7")
	t.Setenv("WASTE_CLASSIFIER_BACKEND", "grpc")
	t.Setenv("WASTE_CLASSIFIER_GRPC_ADDR", "inference:50051")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "release", cfg.Server.Mode)
	assert.Equal(t, DriverPostgres, cfg.Database.Driver)
	assert.Equal(t, "host=db user=app dbname=waste", cfg.Database.DSN)
	assert.Equal(t, 7, cfg.RateLimit.AnonymousLimit)
	assert.Equal(t, time.Hour, cfg.RateLimit.Window)
	assert.Equal(t, "/var/lib/waste/uploads", cfg.Storage.UploadDir)
	assert.Equal(t, BackendGRPC, cfg.Classifier.Backend)
	assert.Equal(t, "inference:50051", cfg.Classifier.GRPCAddr)
}

func TestReleaseModeRequiresDSN(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("WASTE_SERVER_MODE", "release")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database.dsn")
}

func TestValidateCollectsErrors(t *testing.T) {
	cfg := &Config{
		Server:     ServerConfig{Mode: "prod"},
		Database:   DatabaseConfig{Driver: "oracle"},
		Classifier: ClassifierConfig{Backend: BackendGRPC},
		Storage:    StorageConfig{Backend: StorageS3},
	}

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"server.mode", "max_upload_bytes", "oracle", "grpc_addr", "input_size", "bucket", "rate_limit.window"} {
		assert.Contains(t, err.Error(), want)
	}
}
