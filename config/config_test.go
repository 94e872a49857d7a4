package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("NATS_URL", "nats://localhost:4222")
	t.Setenv("FEED_INTERNAL_TOKEN", "secret")
	t.Setenv("DATABASE_URL", "postgres://feedeater@localhost/feedeater")
	t.Setenv("FEED_API_BASE_URL", "")
	t.Setenv("FEED_MODULES_DIR", "")
	t.Setenv("FEED_HTTP_ADDR", "")
	t.Setenv("OLLAMA_EMBED_DIM", "")
}

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	setRequiredEnv(t)

	cfg, err := Load("", slog.New(slog.DiscardHandler))
	require.NoError(t, err)

	assert.Equal(t, "nats://localhost:4222", cfg.NATSURL)
	assert.Equal(t, "http://localhost:4000", cfg.APIBaseURL)
	assert.Equal(t, "/app/modules", cfg.ModulesDir)
	assert.Equal(t, 4096, cfg.EmbedDim)
	assert.Equal(t, ":9090", cfg.HTTPAddr)
}

func TestLoadMissingRequired(t *testing.T) {
	tests := []struct {
		name string
		key  string
	}{
		{name: "missing NATS_URL", key: "NATS_URL"},
		{name: "missing FEED_INTERNAL_TOKEN", key: "FEED_INTERNAL_TOKEN"},
		{name: "missing DATABASE_URL", key: "DATABASE_URL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Chdir(t.TempDir())
			setRequiredEnv(t)
			t.Setenv(tt.key, "")

			_, err := Load("", slog.New(slog.DiscardHandler))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.key)
		})
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	setRequiredEnv(t)
	t.Setenv("FEED_API_BASE_URL", "http://dashboard:4000")
	t.Setenv("FEED_MODULES_DIR", "/srv/modules")
	t.Setenv("OLLAMA_EMBED_DIM", "768")

	cfg, err := Load("", slog.New(slog.DiscardHandler))
	require.NoError(t, err)

	assert.Equal(t, "http://dashboard:4000", cfg.APIBaseURL)
	assert.Equal(t, "/srv/modules", cfg.ModulesDir)
	assert.Equal(t, 768, cfg.EmbedDim)
}

func TestLoadInvalidEmbedDim(t *testing.T) {
	t.Chdir(t.TempDir())
	setRequiredEnv(t)

	t.Setenv("OLLAMA_EMBED_DIM", "not-a-number")
	_, err := Load("", slog.New(slog.DiscardHandler))
	require.Error(t, err)

	t.Setenv("OLLAMA_EMBED_DIM", "0")
	_, err = Load("", slog.New(slog.DiscardHandler))
	require.Error(t, err)
}

func TestLoadYAMLOverlay(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	setRequiredEnv(t)

	overlay := "modulesDir: /opt/modules\nembedDim: 1024\nhttpAddr: \":8088\"\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, OverlayFile), []byte(overlay), 0o644))

	cfg, err := Load("", slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	assert.Equal(t, "/opt/modules", cfg.ModulesDir)
	assert.Equal(t, 1024, cfg.EmbedDim)
	assert.Equal(t, ":8088", cfg.HTTPAddr)

	// Environment still wins over the overlay.
	t.Setenv("FEED_MODULES_DIR", "/env/modules")
	cfg, err = Load("", slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	assert.Equal(t, "/env/modules", cfg.ModulesDir)
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	setRequiredEnv(t)
	t.Setenv("NATS_URL", "")

	envFile := filepath.Join(dir, "worker.env")
	require.NoError(t, os.WriteFile(envFile, []byte("NATS_URL=nats://fromfile:4222\n"), 0o644))

	cfg, err := Load(envFile, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	assert.Equal(t, "nats://fromfile:4222", cfg.NATSURL)

	_, err = Load(filepath.Join(dir, "missing.env"), slog.New(slog.DiscardHandler))
	require.Error(t, err, "an explicitly named env file must exist")
}
