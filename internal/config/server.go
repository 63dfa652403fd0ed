// Package config holds the gateway configuration and its flag, env,
// and file bindings.
package config

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ServerConfig holds configuration for the safegate server.
type ServerConfig struct {
	Port        int    `yaml:"port"`
	MetricsAddr string `yaml:"metrics_addr"`
	WSPath      string `yaml:"ws_path"`

	JWKSURL      string        `yaml:"jwks_url"`
	Audience     string        `yaml:"audience"`
	JWKSMaxStale time.Duration `yaml:"jwks_max_stale"`

	RedisAddr     string        `yaml:"redis_addr"`
	ConnectionTTL time.Duration `yaml:"connection_ttl"`

	BackendURL     string        `yaml:"backend_url"`
	AgentID        string        `yaml:"agent_id"`
	AgentAliasID   string        `yaml:"agent_alias_id"`
	BackendTimeout time.Duration `yaml:"backend_timeout"`

	DelegateURL     string        `yaml:"delegate_url"`
	DelegateTimeout time.Duration `yaml:"delegate_timeout"`

	PushBase string `yaml:"push_base"`

	AllowedOrigins []string `yaml:"allowed_origins"`
	LogLevel       string   `yaml:"log_level"`
	ConfigFile     string   `yaml:"-"`
}

// DefaultConfigPath returns the default config file path for the given
// file name (e.g. "server.yaml").
func DefaultConfigPath(name string) string {
	home, _ := os.UserHomeDir()
	programData := os.Getenv("ProgramData")
	return ResolveConfigPath(runtime.GOOS, home, programData, name)
}

// ResolveConfigPath constructs a config file path for the given OS and
// base directories. It is mainly used in tests.
func ResolveConfigPath(goos, home, programData, name string) string {
	switch goos {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "safegate", name)
	case "windows":
		if programData == "" {
			programData = "C:/ProgramData"
		}
		programData = strings.TrimRight(programData, "\\/")
		return filepath.Join(programData, "safegate", name)
	default:
		return filepath.Join("/etc", "safegate", name)
	}
}

// GetEnv returns the environment value for key or def when unset.
func GetEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if d, err := time.ParseDuration(GetEnv(key, "")); err == nil {
		return d
	}
	return def
}

// BindFlags populates the struct with defaults from environment
// variables and binds command line flags so main can call flag.Parse().
func (c *ServerConfig) BindFlags() {
	c.ConfigFile = GetEnv("CONFIG_FILE", DefaultConfigPath("server.yaml"))
	c.LogLevel = GetEnv("LOG_LEVEL", "info")

	port, _ := strconv.Atoi(GetEnv("PORT", "8080"))
	c.Port = port
	mp := GetEnv("METRICS_PORT", "")
	switch {
	case mp == "":
		c.MetricsAddr = fmt.Sprintf(":%d", port)
	case strings.Contains(mp, ":"):
		c.MetricsAddr = mp
	default:
		c.MetricsAddr = ":" + mp
	}
	c.WSPath = GetEnv("WS_PATH", "/ws")

	c.JWKSURL = GetEnv("JWKS_URL", "")
	c.Audience = GetEnv("JWT_AUDIENCE", "")
	c.JWKSMaxStale = envDuration("JWKS_MAX_STALE", 5*time.Minute)

	c.RedisAddr = GetEnv("REDIS_ADDR", "")
	c.ConnectionTTL = envDuration("CONNECTION_TTL", 10*time.Minute)

	c.BackendURL = GetEnv("BACKEND_URL", "")
	c.AgentID = GetEnv("AGENT_ID", "")
	c.AgentAliasID = GetEnv("AGENT_ALIAS_ID", "")
	c.BackendTimeout = envDuration("BACKEND_TIMEOUT", 120*time.Second)

	c.DelegateURL = GetEnv("DELEGATE_URL", "")
	c.DelegateTimeout = envDuration("DELEGATE_TIMEOUT", 120*time.Second)

	c.PushBase = GetEnv("PUSH_BASE", "")
	c.AllowedOrigins = splitComma(GetEnv("ALLOWED_ORIGINS", ""))

	flag.StringVar(&c.ConfigFile, "config", c.ConfigFile, "server config file path")
	flag.StringVar(&c.LogLevel, "log-level", c.LogLevel, "log verbosity (all, debug, info, warn, error, fatal, none)")
	flag.IntVar(&c.Port, "port", c.Port, "HTTP listen port")
	flag.StringVar(&c.MetricsAddr, "metrics-port", c.MetricsAddr, "Prometheus metrics listen address or port; defaults to the value of --port")
	flag.StringVar(&c.WSPath, "ws-path", c.WSPath, "websocket mount path")
	flag.StringVar(&c.JWKSURL, "jwks-url", c.JWKSURL, "JWKS endpoint for token verification; leave empty to reject all messages")
	flag.StringVar(&c.Audience, "jwt-audience", c.Audience, "expected JWT audience claim")
	flag.DurationVar(&c.JWKSMaxStale, "jwks-max-stale", c.JWKSMaxStale, "how long a cached JWKS document stays fresh")
	flag.StringVar(&c.RedisAddr, "redis-addr", c.RedisAddr, "redis connection URL for the connection registry; empty uses in-process state")
	flag.DurationVar(&c.ConnectionTTL, "connection-ttl", c.ConnectionTTL, "registry lifetime of an idle connection")
	flag.StringVar(&c.BackendURL, "backend-url", c.BackendURL, "streaming agent service base URL")
	flag.StringVar(&c.AgentID, "agent-id", c.AgentID, "agent id passed to the streaming backend")
	flag.StringVar(&c.AgentAliasID, "agent-alias-id", c.AgentAliasID, "agent alias id passed to the streaming backend")
	flag.DurationVar(&c.BackendTimeout, "backend-timeout", c.BackendTimeout, "streaming backend request timeout")
	flag.StringVar(&c.DelegateURL, "delegate-url", c.DelegateURL, "delegating agent service URL")
	flag.DurationVar(&c.DelegateTimeout, "delegate-timeout", c.DelegateTimeout, "delegating backend request timeout")
	flag.StringVar(&c.PushBase, "push-base", c.PushBase, "externally reachable base URL for direct pushes; derived from the request host when empty")
	flag.Func("allowed-origins", "comma separated list of allowed CORS origins", func(v string) error {
		c.AllowedOrigins = splitComma(v)
		return nil
	})
}

func splitComma(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
	}
	return parts
}

// LoadFile populates the config from a YAML file.
func (c *ServerConfig) LoadFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(b, c)
}
