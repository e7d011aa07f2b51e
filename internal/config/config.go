// Package config loads rpreport settings from a YAML (or JSON) file and
// the environment.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"rpreport/internal/logging"
	"rpreport/internal/reporting"
	"rpreport/internal/rp"
)

// DefaultPath is the config file looked up when none is given.
const DefaultPath = "rpreport.yaml"

// DefaultStatePath is the relative location of the session state database.
const DefaultStatePath = ".rpreport/state.db"

// Environment variables that override file values.
const (
	EnvEndpoint     = "RP_ENDPOINT"
	EnvProject      = "RP_PROJECT"
	EnvToken        = "RP_TOKEN"
	EnvTokenFile    = "RP_TOKEN_FILE"
	EnvLogBatchSize = "RP_LOG_BATCH_SIZE"
)

// Config is the full set of client settings.
type Config struct {
	Endpoint         string        `yaml:"endpoint"`
	Project          string        `yaml:"project"`
	Token            string        `yaml:"token"`
	TokenFile        string        `yaml:"token_file"`
	LogBatchSize     int           `yaml:"log_batch_size"`
	IsSkippedAnIssue bool          `yaml:"is_skipped_an_issue"`
	VerifyTLS        bool          `yaml:"verify_tls"`
	UnifyLogs        bool          `yaml:"unify_logs"`
	Timeout          time.Duration `yaml:"timeout"`
	Retry            Retry         `yaml:"retry"`
	Log              Log           `yaml:"log"`
	StatePath        string        `yaml:"state_path"`
}

// Retry holds transport and batch retry settings.
type Retry struct {
	TransportRetries int           `yaml:"transport_retries"`
	TransportWaitMin time.Duration `yaml:"transport_wait_min"`
	TransportWaitMax time.Duration `yaml:"transport_wait_max"`
	BatchAttempts    int           `yaml:"batch_attempts"`
	BatchBackoff     time.Duration `yaml:"batch_backoff"`
}

// Log selects the slog level and handler format.
type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the settings used for keys a file leaves out.
func Default() *Config {
	return &Config{
		LogBatchSize:     reporting.DefaultLogBatchSize,
		IsSkippedAnIssue: true,
		VerifyTLS:        true,
		Timeout:          30 * time.Second,
		Retry: Retry{
			BatchAttempts: reporting.DefaultFlushMaxAttempts,
			BatchBackoff:  500 * time.Millisecond,
		},
		Log:       Log{Level: "info", Format: "text"},
		StatePath: DefaultStatePath,
	}
}

// Load reads path (if non-empty and present), applies environment
// overrides, reads the token file and validates the result. A missing
// file at DefaultPath is not an error.
func Load(path string) (*Config, error) {
	return load(path, os.LookupEnv)
}

func load(path string, lookup func(string) (string, bool)) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist) && path == DefaultPath:
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := cfg.decode(data); err != nil {
				return nil, err
			}
			cfg.resolvePaths(filepath.Dir(path))
		}
	}
	if err := cfg.applyEnv(lookup); err != nil {
		return nil, err
	}
	if cfg.Token == "" && cfg.TokenFile != "" {
		token, err := rp.ReadAPIKey(cfg.TokenFile)
		if err != nil {
			return nil, fmt.Errorf("read token file: %w", err)
		}
		cfg.Token = token
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes a document over the defaults without touching the
// environment or validating.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := cfg.decode(data); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decode parses YAML; a JSON document is valid YAML and goes through the
// same path so durations like "30s" work in both.
func (c *Config) decode(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

// resolvePaths makes relative file references relative to the config file.
func (c *Config) resolvePaths(dir string) {
	if c.TokenFile != "" && !filepath.IsAbs(c.TokenFile) {
		c.TokenFile = filepath.Join(dir, c.TokenFile)
	}
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvEndpoint); ok && v != "" {
		c.Endpoint = v
	}
	if v, ok := lookup(EnvProject); ok && v != "" {
		c.Project = v
	}
	if v, ok := lookup(EnvToken); ok && v != "" {
		c.Token = v
	}
	if v, ok := lookup(EnvTokenFile); ok && v != "" {
		c.TokenFile = v
	}
	if v, ok := lookup(EnvLogBatchSize); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvLogBatchSize, err)
		}
		c.LogBatchSize = n
	}
	return nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Endpoint == "" {
		return fmt.Errorf("config: endpoint is required")
	}
	u, err := url.Parse(c.Endpoint)
	if err != nil {
		return fmt.Errorf("config: endpoint: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return fmt.Errorf("config: endpoint %q must be an http(s) URL", c.Endpoint)
	}
	if strings.TrimSpace(c.Project) == "" {
		return fmt.Errorf("config: project is required")
	}
	if c.Token == "" {
		return fmt.Errorf("config: token or token_file is required")
	}
	if c.LogBatchSize < 1 {
		return fmt.Errorf("config: log_batch_size must be positive, got %d", c.LogBatchSize)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("config: negative timeout %s", c.Timeout)
	}
	if c.Retry.TransportRetries < 0 {
		return fmt.Errorf("config: negative retry.transport_retries %d", c.Retry.TransportRetries)
	}
	if c.Retry.TransportWaitMax > 0 && c.Retry.TransportWaitMin > c.Retry.TransportWaitMax {
		return fmt.Errorf("config: retry.transport_wait_min %s exceeds transport_wait_max %s",
			c.Retry.TransportWaitMin, c.Retry.TransportWaitMax)
	}
	if c.Retry.BatchAttempts < 1 {
		return fmt.Errorf("config: retry.batch_attempts must be at least 1, got %d", c.Retry.BatchAttempts)
	}
	if c.Retry.BatchBackoff < 0 {
		return fmt.Errorf("config: negative retry.batch_backoff %s", c.Retry.BatchBackoff)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("config: log.format %q must be text or json", c.Log.Format)
	}
	return nil
}

// ClientOptions translates the transport settings into rp options.
func (c *Config) ClientOptions(logger *slog.Logger) []rp.Option {
	opts := []rp.Option{
		rp.WithTimeout(c.Timeout),
		rp.WithTLSVerification(c.VerifyTLS),
	}
	if logger != nil {
		opts = append(opts, rp.WithLogger(logger))
	}
	if c.Retry.TransportRetries > 0 {
		opts = append(opts, rp.WithRetryPolicy(rp.RetryPolicy{
			MaxRetries: c.Retry.TransportRetries,
			WaitMin:    c.Retry.TransportWaitMin,
			WaitMax:    c.Retry.TransportWaitMax,
		}))
	}
	return opts
}

// SessionOptions translates the reporting settings into session options.
func (c *Config) SessionOptions() []reporting.Option {
	return []reporting.Option{
		reporting.WithLogBatchSize(c.LogBatchSize),
		reporting.WithSkippedIsIssue(c.IsSkippedAnIssue),
		reporting.WithUnifiedLogs(c.UnifyLogs),
		reporting.WithFlushRetry(c.Retry.BatchAttempts, c.Retry.BatchBackoff),
	}
}

// NewClient builds an rp.Client from the settings.
func (c *Config) NewClient(logger *slog.Logger) (*rp.Client, error) {
	return rp.New(c.Endpoint, c.Token, c.ClientOptions(logger)...)
}
