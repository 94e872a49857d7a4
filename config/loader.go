package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// OverlayFile is the optional YAML overlay read from the working directory.
const OverlayFile = "feedeater.yaml"

// Load assembles the configuration in layers: defaults, the YAML overlay,
// then environment variables. envFile, when non-empty, names a dotenv file
// that must exist; otherwise a .env in the working directory is loaded when
// present.
func Load(envFile string, logger *slog.Logger) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("load env file %s: %w", envFile, err)
		}
	} else if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logger.Warn("failed to load .env", "error", err)
	}

	cfg := Defaults()

	if data, err := os.ReadFile(OverlayFile); err == nil {
		if err := cfg.applyYAML(data); err != nil {
			return nil, fmt.Errorf("overlay %s: %w", OverlayFile, err)
		}
		logger.Info("applied config overlay", "file", OverlayFile)
	} else if !os.IsNotExist(err) {
		logger.Warn("failed to read config overlay", "file", OverlayFile, "error", err)
	}

	setString(&cfg.NATSURL, "NATS_URL")
	setString(&cfg.InternalToken, "FEED_INTERNAL_TOKEN")
	setString(&cfg.DatabaseURL, "DATABASE_URL")
	setString(&cfg.APIBaseURL, "FEED_API_BASE_URL")
	setString(&cfg.ModulesDir, "FEED_MODULES_DIR")
	setString(&cfg.HTTPAddr, "FEED_HTTP_ADDR")
	if err := setInt(&cfg.EmbedDim, "OLLAMA_EMBED_DIM"); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}
