package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ClientType is the transport used to reach an MCP server.
type ClientType string

const (
	ClientTypeSSE            ClientType = "sse"
	ClientTypeStreamableHTTP ClientType = "streamable_http"
	ClientTypeStdio          ClientType = "stdio"
)

// Resolver kinds.
const (
	ResolverStub = "stub"
	ResolverLLM  = "llm"
)

// Config holds the application configuration
type Config struct {
	Server     ServerConfig
	Log        LogConfig
	Resolver   ResolverConfig
	LLM        LLMConfig
	Cache      CacheConfig
	Sessions   SessionsConfig
	Search     SearchConfig
	MCPServers []MCPServerConfig `mapstructure:"mcp_servers"`
}

// ServerConfig holds the server configuration
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port string `mapstructure:"port"`
}

// Addr joins host and port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%s", s.Host, s.Port)
}

// LogConfig holds the logging configuration
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// ResolverConfig selects and tunes the response resolver.
type ResolverConfig struct {
	Kind    string        `mapstructure:"kind"`
	Latency time.Duration `mapstructure:"latency"` // stub only
	Timeout time.Duration `mapstructure:"timeout"` // zero means no limit
}

// LLMConfig holds the LLM configuration
type LLMConfig struct {
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
	Model   string `mapstructure:"model"`
}

// CacheConfig sizes the glossary answer cache.
type CacheConfig struct {
	Size int `mapstructure:"size"`
}

// SessionsConfig bounds the number of live sessions.
type SessionsConfig struct {
	Max int `mapstructure:"max"`
}

// SearchConfig configures web search for latest mode.
type SearchConfig struct {
	Results int          `mapstructure:"results"`
	Google  GoogleConfig `mapstructure:"google"`
}

// GoogleConfig holds the Google Custom Search credentials.
type GoogleConfig struct {
	APIKey   string `mapstructure:"api_key"`
	EngineID string `mapstructure:"engine_id"`
}

// Enabled reports whether both credentials are present.
func (g GoogleConfig) Enabled() bool {
	return g.APIKey != "" && g.EngineID != ""
}

// MCPServerConfig describes an MCP server exposing a search tool.
type MCPServerConfig struct {
	Name    string            `mapstructure:"name"`
	Type    ClientType        `mapstructure:"type"`
	URL     string            `mapstructure:"url"`
	Command string            `mapstructure:"command"`
	Args    []string          `mapstructure:"args"`
	Env     map[string]string `mapstructure:"env"`
	Headers map[string]string `mapstructure:"headers"`
	Tool    string            `mapstructure:"tool"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("resolver.kind", ResolverStub)
	v.SetDefault("resolver.latency", time.Second)
	v.SetDefault("resolver.timeout", time.Duration(0))
	v.SetDefault("llm.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("cache.size", 256)
	v.SetDefault("sessions.max", 1024)
	v.SetDefault("search.results", 6)
	v.SetDefault("search.google.api_key", "")
	v.SetDefault("search.google.engine_id", "")
}

// Load reads configuration from the file named by CONFIG_PATH, or from
// config.yaml in the working directory when that variable is unset.
func Load() (*Config, error) {
	return LoadFile(os.Getenv("CONFIG_PATH"))
}

// LoadFile reads configuration from path. An empty path looks for an optional
// config.yaml in the working directory. Environment variables prefixed with
// SEIJITALK_ override file values, and a .env file is honoured if present.
func LoadFile(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("seijitalk")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("llm.api_key", "SEIJITALK_LLM_API_KEY", "OPENAI_API_KEY"); err != nil {
		return nil, err
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate checks the settings that would otherwise fail late at runtime.
func (c *Config) Validate() error {
	switch c.Resolver.Kind {
	case ResolverStub:
	case ResolverLLM:
		if c.LLM.APIKey == "" {
			return errors.New("llm resolver requires llm.api_key (or OPENAI_API_KEY)")
		}
	default:
		return fmt.Errorf("unknown resolver kind %q", c.Resolver.Kind)
	}
	if c.Server.Port == "" {
		return errors.New("server.port must not be empty")
	}
	if c.Cache.Size <= 0 {
		return fmt.Errorf("cache.size must be positive, got %d", c.Cache.Size)
	}
	if c.Sessions.Max <= 0 {
		return fmt.Errorf("sessions.max must be positive, got %d", c.Sessions.Max)
	}
	for i, s := range c.MCPServers {
		switch s.Type {
		case ClientTypeSSE, ClientTypeStreamableHTTP:
			if s.URL == "" {
				return fmt.Errorf("mcp_servers[%d]: url is required for %s", i, s.Type)
			}
		case ClientTypeStdio:
			if s.Command == "" {
				return fmt.Errorf("mcp_servers[%d]: command is required for stdio", i)
			}
		default:
			return fmt.Errorf("mcp_servers[%d]: unsupported type %q", i, s.Type)
		}
	}
	return nil
}
