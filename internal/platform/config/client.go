package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Client configures the field-device process.
type Client struct {
	// Listen is where the offline cache proxy accepts browser traffic.
	Listen string `yaml:"listen"`
	// Origin is the registry server base URL.
	Origin string `yaml:"origin"`
	// DataDir holds the queue and cache sqlite files.
	DataDir string `yaml:"data_dir"`
	// RedisURL switches the response cache to a shared Redis when set.
	RedisURL string `yaml:"redis_url"`
	// Token is the operator bearer token used for sync.
	Token         string        `yaml:"token"`
	ProbeInterval time.Duration `yaml:"probe_interval"`
	FetchTimeout  time.Duration `yaml:"fetch_timeout"`
	SubmitTimeout time.Duration `yaml:"submit_timeout"`
	// MarkerHeader identifies data-fetch requests from the page framework.
	MarkerHeader string   `yaml:"marker_header"`
	WarmRoutes   []string `yaml:"warm_routes"`
	LogLevel     string   `yaml:"log_level"`
	LogFormat    string   `yaml:"log_format"`
}

// DefaultClient returns the settings used when no file or key is given.
func DefaultClient() Client {
	return Client{
		Listen:        "127.0.0.1:8787",
		Origin:        "http://localhost:8080",
		DataDir:       ".relief",
		ProbeInterval: 10 * time.Second,
		FetchTimeout:  10 * time.Second,
		SubmitTimeout: 15 * time.Second,
		MarkerHeader:  "X-Inertia",
		WarmRoutes:    []string{"/dashboard", "/beneficiaries", "/beneficiaries/create"},
		LogLevel:      "info",
		LogFormat:     "text",
	}
}

// LoadClient reads a YAML file over the defaults. A missing file yields the defaults.
func LoadClient(path string) (Client, error) {
	cfg := DefaultClient()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return Client{}, fmt.Errorf("read client config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Client{}, fmt.Errorf("parse client config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Client{}, err
	}
	return cfg, nil
}

// Validate checks fields a running client cannot do without.
func (c Client) Validate() error {
	u, err := url.Parse(c.Origin)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("origin must be an absolute http(s) URL, got %q", c.Origin)
	}
	if c.Listen == "" {
		return errors.New("listen address is required")
	}
	if c.ProbeInterval <= 0 || c.FetchTimeout <= 0 || c.SubmitTimeout <= 0 {
		return errors.New("probe_interval, fetch_timeout and submit_timeout must be positive")
	}
	return nil
}

// RedisConfig tunes the connection to the shared field-office cache.
type RedisConfig struct {
	URL          string
	PoolSize     int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// GatewayRedis returns settings for RedisURL sized for one device on a slow link: a
// small pool and short timeouts, so an unreachable gateway is noticed quickly.
func (c Client) GatewayRedis() RedisConfig {
	return RedisConfig{
		URL:          c.RedisURL,
		PoolSize:     4,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	}
}
