// Package settings fetches per-module key/value settings from the internal
// settings service. Fetches retry forever with exponential backoff; callers
// invoke per job, there is no cache.
package settings

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/feedeater/feedeater/wire"
)

// Recognized keys of the "system" module.
const (
	KeyEmbedDim       = "ollama_embed_dim"
	KeyHistoryMinutes = "dashboard_bus_history_minutes"
	KeyContextTopK    = "context_top_k"

	DefaultEmbedDim       = 4096
	DefaultHistoryMinutes = 60
	DefaultContextTopK    = 20
)

// SystemModule is the module name whose settings configure the worker itself.
const SystemModule = "system"

// Values is the settings map for one module. A nil value means the key is
// present but unset.
type Values map[string]*string

// Fetcher is the capability handed to module handlers.
type Fetcher interface {
	Fetch(ctx context.Context, module string) (Values, error)
}

// Client talks to the settings service over HTTP.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	logger  *slog.Logger
	codec   wire.Codec

	// Backoff shape; overridable for tests.
	initialInterval time.Duration
	maxInterval     time.Duration
	multiplier      float64
}

// NewClient creates a settings client for the service at baseURL,
// authenticating with the internal bearer token.
func NewClient(baseURL, token string, logger *slog.Logger) *Client {
	return &Client{
		baseURL:         baseURL,
		token:           token,
		http:            &http.Client{Timeout: 10 * time.Second},
		logger:          logger,
		initialInterval: 250 * time.Millisecond,
		maxInterval:     5 * time.Second,
		multiplier:      1.6,
	}
}

type settingsResponse struct {
	Settings []struct {
		Key   string  `json:"key"`
		Value *string `json:"value"`
	} `json:"settings"`
}

// Fetch retrieves the settings for module, retrying transport errors and
// non-2xx responses with backoff min(maxInterval, initial·multiplier^(n−1))
// until ctx is cancelled. The first success after one or more failures emits
// an informational log.
func (c *Client) Fetch(ctx context.Context, module string) (Values, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.initialInterval
	bo.MaxInterval = c.maxInterval
	bo.Multiplier = c.multiplier
	bo.RandomizationFactor = 0

	attempts := 0
	for {
		values, err := c.fetchOnce(ctx, module)
		if err == nil {
			if attempts > 0 {
				c.logger.Info("settings fetch recovered",
					"module", module,
					"failed_attempts", attempts)
			}
			return values, nil
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("fetch settings for %s: %w", module, ctx.Err())
		}

		attempts++
		c.logger.Warn("settings fetch failed, retrying",
			"module", module,
			"attempt", attempts,
			"error", err)

		sleep := bo.NextBackOff()
		if sleep == backoff.Stop {
			sleep = c.maxInterval
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("fetch settings for %s: %w", module, ctx.Err())
		case <-time.After(sleep):
		}
	}
}

func (c *Client) fetchOnce(ctx context.Context, module string) (Values, error) {
	url := fmt.Sprintf("%s/api/internal/settings/%s", c.baseURL, module)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("settings service returned %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var decoded settingsResponse
	if err := c.codec.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	values := make(Values, len(decoded.Settings))
	for _, s := range decoded.Settings {
		values[s.Key] = s.Value
	}
	return values, nil
}

// Int reads an integer setting, falling back to def when the key is absent,
// unset or malformed.
func (v Values) Int(key string, def int) int {
	raw, ok := v[key]
	if !ok || raw == nil {
		return def
	}
	n, err := strconv.Atoi(*raw)
	if err != nil {
		return def
	}
	return n
}

// EmbedDim returns the configured embedding dimension.
func (v Values) EmbedDim() int {
	n := v.Int(KeyEmbedDim, DefaultEmbedDim)
	if n <= 0 {
		return DefaultEmbedDim
	}
	return n
}

// HistoryMinutes returns the replay lookback window in minutes. Negative
// values fall back to the default.
func (v Values) HistoryMinutes() int {
	n := v.Int(KeyHistoryMinutes, DefaultHistoryMinutes)
	if n < 0 {
		return DefaultHistoryMinutes
	}
	return n
}

// ContextTopK returns the configured context_top_k.
func (v Values) ContextTopK() int {
	n := v.Int(KeyContextTopK, DefaultContextTopK)
	if n <= 0 {
		return DefaultContextTopK
	}
	return n
}
