package config

import (
	"fmt"
	"time"
)

// Config holds all application configuration settings.
type Config struct {
	HTTPPort    int           `envconfig:"HTTP_PORT" default:"8080"`
	HTTPTimeout time.Duration `envconfig:"HTTP_TIMEOUT" default:"15s"`

	// ServerURL is the record-store base URL the worker connects to.
	ServerURL string `envconfig:"SERVER_URL" default:"http://127.0.0.1:8080"`

	// WorkerID scopes the change feed; work items assigned to other
	// workers are ignored. Defaults to the hostname.
	WorkerID string `envconfig:"WORKER_ID"`

	DataDir   string `envconfig:"DATA_DIR" default:"./data"`
	CacheDir  string `envconfig:"CACHE_DIR" default:"./cache"`
	StateFile string `envconfig:"STATE_FILE" default:"./state.json"`

	MaxConcurrentDownloads int           `envconfig:"MAX_CONCURRENT_DOWNLOADS" default:"5"`
	ProgressInterval       time.Duration `envconfig:"PROGRESS_INTERVAL" default:"2s"`
	CancelGracePeriod      time.Duration `envconfig:"CANCEL_GRACE_PERIOD" default:"5s"`
	WatchRetryDelay        time.Duration `envconfig:"WATCH_RETRY_DELAY" default:"5s"`

	HuggingFaceEndpoint string `envconfig:"HUGGINGFACE_ENDPOINT" default:"https://huggingface.co"`
	HuggingFaceToken    string `envconfig:"HUGGINGFACE_TOKEN"`
	ModelScopeEndpoint  string `envconfig:"MODELSCOPE_ENDPOINT" default:"https://modelscope.cn"`
	OllamaLibraryURL    string `envconfig:"OLLAMA_LIBRARY_URL" default:"https://registry.ollama.ai"`

	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`
}

// Validate checks the configuration for invalid or missing values.
// Returns an error describing the first invalid setting found.
func (c *Config) Validate() error {
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}

	if c.MaxConcurrentDownloads <= 0 {
		return fmt.Errorf("max concurrent downloads must be positive: %d", c.MaxConcurrentDownloads)
	}

	if c.ProgressInterval <= 0 {
		return fmt.Errorf("progress interval must be positive: %s", c.ProgressInterval)
	}
	if c.CancelGracePeriod <= 0 {
		return fmt.Errorf("cancel grace period must be positive: %s", c.CancelGracePeriod)
	}

	if c.DataDir == "" {
		return fmt.Errorf("data directory cannot be empty")
	}
	if c.CacheDir == "" {
		return fmt.Errorf("cache directory cannot be empty")
	}
	if c.StateFile == "" {
		return fmt.Errorf("state file cannot be empty")
	}

	return nil
}
