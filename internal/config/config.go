// Package config loads the ormql YAML file and overlays environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

// DefaultPath is the config file read when none is given
const DefaultPath = "ormql.yaml"

var ErrInvalid = errors.New("invalid config")

type Config struct {
	Env      string         `yaml:"env"`
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Schema   SchemaConfig   `yaml:"schema"`
	Models   []ModelConfig  `yaml:"models"`
}

type ServerConfig struct {
	Addr       string          `yaml:"addr"`
	Path       string          `yaml:"path"`
	Playground *bool           `yaml:"playground"`
	Timeout    time.Duration   `yaml:"timeout"`
	RateLimit  RateLimitConfig `yaml:"rateLimit"`
}

// RateLimitConfig is per caller; a zero RPS disables limiting
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
	// Migrations is a SQL file executed once at startup
	Migrations string `yaml:"migrations"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwtSecret"`
}

type SchemaConfig struct {
	Whitelist []string `yaml:"whitelist"`
	Blacklist []string `yaml:"blacklist"`
}

// Load reads path, applies defaults and then the environment. A missing
// .env file is ignored.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML and applies defaults and the environment overlay
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Env == "" {
		c.Env = "development"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.Path == "" {
		c.Server.Path = "/graphql"
	}
	if c.Server.Playground == nil {
		on := true
		c.Server.Playground = &on
	}
	if c.Server.Timeout == 0 {
		c.Server.Timeout = 30 * time.Second
	}
	if c.Server.RateLimit.RPS > 0 && c.Server.RateLimit.Burst == 0 {
		c.Server.RateLimit.Burst = int(c.Server.RateLimit.RPS * 2)
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.DSN == "" && c.Database.Driver == "sqlite" {
		c.Database.DSN = "file:ormql.db?_pragma=foreign_keys(1)"
	}
}

func (c *Config) applyEnv() {
	overlay := map[string]*string{
		"APP_ENV":          &c.Env,
		"ORMQL_ADDR":       &c.Server.Addr,
		"ORMQL_DB_DRIVER":  &c.Database.Driver,
		"ORMQL_DB_DSN":     &c.Database.DSN,
		"ORMQL_JWT_SECRET": &c.Auth.JWTSecret,
	}
	for key, field := range overlay {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*field = v
		}
	}
}

// Validate reports every problem at once
func (c *Config) Validate() error {
	var errs error

	switch c.Database.Driver {
	case "postgres", "pgx", "mysql", "sqlite", "sqlite3":
	default:
		errs = multierr.Append(errs, fmt.Errorf("%w: unsupported database driver %q", ErrInvalid, c.Database.Driver))
	}
	if c.Server.RateLimit.RPS < 0 {
		errs = multierr.Append(errs, fmt.Errorf("%w: rateLimit.rps must not be negative", ErrInvalid))
	}

	seen := make(map[string]bool)
	for i, m := range c.Models {
		if m.Name == "" {
			errs = multierr.Append(errs, fmt.Errorf("%w: models[%d] has no name", ErrInvalid, i))
			continue
		}
		if seen[m.Name] {
			errs = multierr.Append(errs, fmt.Errorf("%w: model %s is defined twice", ErrInvalid, m.Name))
		}
		seen[m.Name] = true
		errs = multierr.Append(errs, m.validate())
	}
	for _, m := range c.Models {
		for _, a := range m.Associations {
			if a.Target != "" && !seen[a.Target] {
				errs = multierr.Append(errs, fmt.Errorf("%w: %s.%s targets unknown model %s", ErrInvalid, m.Name, a.Name, a.Target))
			}
		}
	}
	return errs
}
