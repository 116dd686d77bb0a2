package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment overrides, applied after the file is read.
const (
	EnvBaseURL  = "NBASSIST_BASE_URL"
	EnvModel    = "NBASSIST_MODEL"
	EnvNotebook = "NBASSIST_NOTEBOOK"
	EnvLogLevel = "NBASSIST_LOG_LEVEL"
)

const (
	DefaultBaseURL = "http://localhost:5055/api"
	DefaultTimeout = 60 * time.Second
)

type APIConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

type AgentConfig struct {
	NotebookID    string `yaml:"notebook_id,omitempty"`
	ModelOverride string `yaml:"model_override,omitempty"`
	// Record keeps a local transcript of agent runs.
	Record bool `yaml:"record"`
}

type LogConfig struct {
	Level   string `yaml:"level"`
	File    string `yaml:"file,omitempty"`
	Console bool   `yaml:"console"`
}

// Client is the contents of config.yaml.
type Client struct {
	API   APIConfig   `yaml:"api"`
	Agent AgentConfig `yaml:"agent"`
	Log   LogConfig   `yaml:"log"`
}

// Default returns the configuration used when no file exists.
func Default() Client {
	return Client{
		API:   APIConfig{BaseURL: DefaultBaseURL, Timeout: DefaultTimeout},
		Agent: AgentConfig{Record: true},
		Log:   LogConfig{Level: "info"},
	}
}

// LoadDotenv loads .env files into the process environment without
// overriding variables that are already set. Missing files are ignored.
func LoadDotenv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// Load reads path on top of the defaults, then applies environment
// overrides. A missing file is not an error.
func Load(path string) (Client, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return cfg, fmt.Errorf("read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.API.BaseURL = expandEnvVars(cfg.API.BaseURL)
	cfg.Agent.NotebookID = expandEnvVars(cfg.Agent.NotebookID)
	cfg.Agent.ModelOverride = expandEnvVars(cfg.Agent.ModelOverride)
	cfg.Log.File = expandEnvVars(cfg.Log.File)

	cfg.applyEnv(os.LookupEnv)
	cfg.normalize()
	if err := ValidateBaseURL(cfg.API.BaseURL); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ValidateBaseURL checks that the API address is an absolute http(s) URL.
func ValidateBaseURL(address string) error {
	if address == "" {
		return fmt.Errorf("api.base_url cannot be empty")
	}
	u, err := url.Parse(address)
	if err != nil {
		return fmt.Errorf("invalid api.base_url %q: %w", address, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("api.base_url must start with 'http://' or 'https://', got: %s", address)
	}
	if u.Host == "" {
		return fmt.Errorf("api.base_url has no host: %s", address)
	}
	return nil
}

// Save writes cfg to path.
func Save(path string, cfg Client) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// EnsureConfigExists writes the defaults to path when it is missing.
func EnsureConfigExists(path string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return false, err
	}
	return true, Save(path, Default())
}

func (c *Client) applyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvBaseURL); ok && strings.TrimSpace(v) != "" {
		c.API.BaseURL = v
	}
	if v, ok := lookup(EnvModel); ok {
		c.Agent.ModelOverride = v
	}
	if v, ok := lookup(EnvNotebook); ok && strings.TrimSpace(v) != "" {
		c.Agent.NotebookID = v
	}
	if v, ok := lookup(EnvLogLevel); ok && strings.TrimSpace(v) != "" {
		c.Log.Level = v
	}
}

func (c *Client) normalize() {
	c.API.BaseURL = strings.TrimRight(strings.TrimSpace(c.API.BaseURL), "/")
	if c.API.BaseURL == "" {
		c.API.BaseURL = DefaultBaseURL
	}
	if c.API.Timeout <= 0 {
		c.API.Timeout = DefaultTimeout
	}
	c.Agent.NotebookID = strings.TrimSpace(c.Agent.NotebookID)
	c.Agent.ModelOverride = strings.TrimSpace(c.Agent.ModelOverride)
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// expandEnvVars expands ${VAR} references.
func expandEnvVars(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return os.Expand(s, os.Getenv)
}
