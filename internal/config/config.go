// Package config loads service configuration from an optional YAML file and
// the environment. Environment variables win over file values.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// PathEnv names the env var holding the optional YAML config path.
const PathEnv = "SUPPORT_CHAT_CONFIG"

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverDynamoDB = "dynamodb"

	ProviderOpenRouter = "openrouter"
	ProviderAnthropic  = "anthropic"

	DefaultOpenRouterModel = "mistralai/mistral-7b-instruct"
	DefaultAnthropicModel  = "claude-3-5-haiku-latest"
)

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	LLM     LLMConfig     `yaml:"llm"`
	CORS    CORSConfig    `yaml:"cors"`
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
}

type ServerConfig struct {
	Port int `yaml:"port"`

	ReadHeaderTimeout time.Duration `yaml:"-"`
	ReadTimeout       time.Duration `yaml:"-"`
	WriteTimeout      time.Duration `yaml:"-"`
	IdleTimeout       time.Duration `yaml:"-"`
	ShutdownTimeout   time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	ReadHeaderTimeoutRaw string `yaml:"read_header_timeout"`
	ReadTimeoutRaw       string `yaml:"read_timeout"`
	WriteTimeoutRaw      string `yaml:"write_timeout"`
	IdleTimeoutRaw       string `yaml:"idle_timeout"`
	ShutdownTimeoutRaw   string `yaml:"shutdown_timeout"`
}

// StorageConfig selects and configures the conversation store.
type StorageConfig struct {
	Driver   string `yaml:"driver"`
	Path     string `yaml:"path"`
	URL      string `yaml:"url"`
	MaxConns int32  `yaml:"max_conns"`
	Schema   string `yaml:"schema"`
	Table    string `yaml:"table"`
}

// LLMConfig configures the reply provider. An empty APIKey with no
// APIKeyParam leaves the provider unconfigured.
type LLMConfig struct {
	Provider     string        `yaml:"provider"`
	APIKey       string        `yaml:"api_key"`
	APIKeyParam  string        `yaml:"api_key_param"`
	Model        string        `yaml:"model"`
	BaseURL      string        `yaml:"base_url"`
	SystemPrompt string        `yaml:"system_prompt"`
	Timeout      time.Duration `yaml:"-"`
	TimeoutRaw   string        `yaml:"timeout"`
}

// Configured reports whether a credential source is present.
func (c LLMConfig) Configured() bool {
	return strings.TrimSpace(c.APIKey) != "" || strings.TrimSpace(c.APIKeyParam) != ""
}

type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:              3000,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      45 * time.Second,
			IdleTimeout:       60 * time.Second,
			ShutdownTimeout:   10 * time.Second,
		},
		Storage: StorageConfig{
			Driver:   DriverSQLite,
			Path:     "data/chat.db",
			MaxConns: 10,
			Schema:   "public",
		},
		LLM: LLMConfig{
			Provider: ProviderOpenRouter,
			Timeout:  30 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
		Metrics: MetricsConfig{Enabled: true, Path: "/metrics"},
	}
}

// FromEnv loads the file named by SUPPORT_CHAT_CONFIG (if any) and applies
// environment overrides.
func FromEnv() (*Config, error) {
	return Load(strings.TrimSpace(os.Getenv(PathEnv)))
}

// Load reads an optional configuration file, applies environment overrides
// and validates the result. An empty path skips the file.
// Environment variables in the format ${VAR_NAME} are expanded in the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
		if err := parseDurations(cfg); err != nil {
			return nil, fmt.Errorf("parsing durations: %w", err)
		}
	}

	applyEnv(cfg)
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

var envVarRE = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarRE.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarRE.FindStringSubmatch(match)[1])
	})
}

func applyEnv(cfg *Config) {
	cfg.Server.Port = envInt("PORT", cfg.Server.Port)
	cfg.Server.ReadHeaderTimeout = envDuration("HTTP_READ_HEADER_TIMEOUT", cfg.Server.ReadHeaderTimeout)
	cfg.Server.ReadTimeout = envDuration("HTTP_READ_TIMEOUT", cfg.Server.ReadTimeout)
	cfg.Server.WriteTimeout = envDuration("HTTP_WRITE_TIMEOUT", cfg.Server.WriteTimeout)
	cfg.Server.IdleTimeout = envDuration("HTTP_IDLE_TIMEOUT", cfg.Server.IdleTimeout)
	cfg.Server.ShutdownTimeout = envDuration("HTTP_SHUTDOWN_TIMEOUT", cfg.Server.ShutdownTimeout)

	cfg.Storage.Driver = strings.ToLower(envString("STORAGE_DRIVER", cfg.Storage.Driver))
	cfg.Storage.Path = envString("DATABASE_PATH", cfg.Storage.Path)
	cfg.Storage.URL = envString("DATABASE_URL", cfg.Storage.URL)
	cfg.Storage.MaxConns = envInt32("DB_MAX_CONNS", cfg.Storage.MaxConns)
	cfg.Storage.Schema = envString("DB_SCHEMA", cfg.Storage.Schema)
	cfg.Storage.Table = envString("STATE_TABLE", cfg.Storage.Table)

	cfg.LLM.Provider = strings.ToLower(envString("LLM_PROVIDER", cfg.LLM.Provider))
	switch cfg.LLM.Provider {
	case ProviderAnthropic:
		cfg.LLM.APIKey = envString("ANTHROPIC_API_KEY", cfg.LLM.APIKey)
		cfg.LLM.Model = envString("ANTHROPIC_MODEL", cfg.LLM.Model)
	default:
		cfg.LLM.APIKey = envString("OPENROUTER_API_KEY", cfg.LLM.APIKey)
		cfg.LLM.Model = envString("OPENROUTER_MODEL", cfg.LLM.Model)
	}
	cfg.LLM.APIKeyParam = envString("LLM_API_KEY_PARAM", cfg.LLM.APIKeyParam)
	cfg.LLM.BaseURL = envString("LLM_BASE_URL", cfg.LLM.BaseURL)
	cfg.LLM.SystemPrompt = envString("LLM_SYSTEM_PROMPT", cfg.LLM.SystemPrompt)
	cfg.LLM.Timeout = envDuration("LLM_TIMEOUT", cfg.LLM.Timeout)

	if v := envString("FRONTEND_URL", ""); v != "" {
		cfg.CORS.AllowedOrigins = splitList(v)
	}

	cfg.Logging.Level = envString("LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = envString("LOG_FORMAT", cfg.Logging.Format)

	cfg.Metrics.Enabled = envBool("METRICS_ENABLED", cfg.Metrics.Enabled)
	cfg.Metrics.Path = envString("METRICS_PATH", cfg.Metrics.Path)
}

func (c *Config) applyDefaults() {
	if c.LLM.Model == "" {
		switch c.LLM.Provider {
		case ProviderAnthropic:
			c.LLM.Model = DefaultAnthropicModel
		default:
			c.LLM.Model = DefaultOpenRouterModel
		}
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	origins := c.CORS.AllowedOrigins[:0]
	for _, o := range c.CORS.AllowedOrigins {
		if o = strings.TrimRight(strings.TrimSpace(o), "/"); o != "" {
			origins = append(origins, o)
		}
	}
	c.CORS.AllowedOrigins = origins
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d is out of range", c.Server.Port)
	}

	switch c.Storage.Driver {
	case DriverSQLite:
		if strings.TrimSpace(c.Storage.Path) == "" {
			return fmt.Errorf("storage.path is required for the sqlite driver")
		}
	case DriverPostgres:
		if strings.TrimSpace(c.Storage.URL) == "" {
			return fmt.Errorf("storage.url is required for the postgres driver")
		}
	case DriverDynamoDB:
		if strings.TrimSpace(c.Storage.Table) == "" {
			return fmt.Errorf("storage.table is required for the dynamodb driver")
		}
	default:
		return fmt.Errorf("storage.driver %q is not supported", c.Storage.Driver)
	}

	switch c.LLM.Provider {
	case ProviderOpenRouter, ProviderAnthropic:
	default:
		return fmt.Errorf("llm.provider %q is not supported", c.LLM.Provider)
	}
	if c.LLM.Provider == ProviderAnthropic && c.LLM.APIKey == "" && c.LLM.APIKeyParam != "" {
		return fmt.Errorf("llm.api_key_param is only supported for the openrouter provider")
	}
	if c.LLM.Timeout <= 0 {
		return fmt.Errorf("llm.timeout must be positive")
	}

	if !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /")
	}
	return nil
}

// Addr returns the HTTP listen address.
func (c *Config) Addr() string {
	return ":" + strconv.Itoa(c.Server.Port)
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"server.read_header_timeout", cfg.Server.ReadHeaderTimeoutRaw, &cfg.Server.ReadHeaderTimeout},
		{"server.read_timeout", cfg.Server.ReadTimeoutRaw, &cfg.Server.ReadTimeout},
		{"server.write_timeout", cfg.Server.WriteTimeoutRaw, &cfg.Server.WriteTimeout},
		{"server.idle_timeout", cfg.Server.IdleTimeoutRaw, &cfg.Server.IdleTimeout},
		{"server.shutdown_timeout", cfg.Server.ShutdownTimeoutRaw, &cfg.Server.ShutdownTimeout},
		{"llm.timeout", cfg.LLM.TimeoutRaw, &cfg.LLM.Timeout},
	}
	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
