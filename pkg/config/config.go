// Package config loads waypoint.yaml into a validated Config. Loading
// expands environment variables through Go template syntax
// ({{.VAR_NAME}}), fills defaults with mergo, and validates before
// anything else starts.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// Config is the complete waypoint.yaml file structure.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Auth        AuthConfig        `yaml:"auth"`
	Content     ContentConfig     `yaml:"content"`
	Bus         BusConfig         `yaml:"bus"`
	Interpreter InterpreterConfig `yaml:"interpreter"`
	Slack       SlackConfig       `yaml:"slack"`
}

// ServerConfig holds the HTTP/WebSocket listener settings.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// SendBuffer is the per-connection outbound queue; a subscriber
	// that falls this far behind is disconnected.
	SendBuffer int `yaml:"send_buffer"`
}

// AuthConfig holds token verification settings.
type AuthConfig struct {
	// JWTSecret is the pre-shared HS256 signing secret. Set it from
	// the environment: jwt_secret: "{{.WAYPOINT_JWT_SECRET}}".
	JWTSecret string `yaml:"jwt_secret"`
}

// ContentConfig points at the on-disk experience content root.
type ContentConfig struct {
	Root string `yaml:"root"`
	// ZoneRadiusMeters bounds how far from a zone anchor a player can
	// stand and still be inside the zone.
	ZoneRadiusMeters float64 `yaml:"zone_radius_meters"`
}

// Bus kinds.
const (
	BusMemory = "memory"
	BusNATS   = "nats"
)

// BusConfig selects the delta pub/sub backend.
type BusConfig struct {
	Kind string `yaml:"kind"`
	URL  string `yaml:"url"` // NATS server URL, nats kind only
}

// InterpreterConfig configures the slow-path adapter. An empty URL
// disables the interpreter; unknown commands then fail cleanly with
// not_implemented.
type InterpreterConfig struct {
	URL         string        `yaml:"url"`
	BearerToken string        `yaml:"bearer_token"`
	Timeout     time.Duration `yaml:"timeout"`
}

// SlackConfig configures admin-operation notifications.
type SlackConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
	Channel string `yaml:"channel"`
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8000,
			ShutdownTimeout: 10 * time.Second,
			SendBuffer:      64,
		},
		Content: ContentConfig{
			Root:             "./content",
			ZoneRadiusMeters: 500,
		},
		Bus: BusConfig{
			Kind: BusMemory,
			URL:  "nats://127.0.0.1:4222",
		},
		Interpreter: InterpreterConfig{
			Timeout: 30 * time.Second,
		},
	}
}

// Load reads, expands, parses, and validates a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse builds a Config from raw YAML bytes.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(expandEnv(data), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	def := defaults()
	if err := mergo.Merge(&cfg, def); err != nil {
		return nil, fmt.Errorf("apply config defaults: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	var problems []string
	if c.Auth.JWTSecret == "" {
		problems = append(problems, "auth.jwt_secret is required")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		problems = append(problems, fmt.Sprintf("server.port %d is out of range", c.Server.Port))
	}
	switch c.Bus.Kind {
	case BusMemory:
	case BusNATS:
		if c.Bus.URL == "" {
			problems = append(problems, "bus.url is required for the nats bus")
		}
	default:
		problems = append(problems, fmt.Sprintf("bus.kind %q is not one of memory, nats", c.Bus.Kind))
	}
	if c.Slack.Enabled {
		if c.Slack.Token == "" {
			problems = append(problems, "slack.token is required when slack is enabled")
		}
		if c.Slack.Channel == "" {
			problems = append(problems, "slack.channel is required when slack is enabled")
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration:\n  - %s", strings.Join(problems, "\n  - "))
	}
	return nil
}

// Addr is the listener address in host:port form.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
