// Package config loads the server configuration from a YAML file, applies
// STRATADB_* environment overrides, and exposes command-line flag parsing.
// Precedence: flags > environment > file > defaults.
package config

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"stratadb/pkg/validation"
)

// Addr returns host:port for the HTTP server.
func (c *Config) Addr() string {
	addr := c.Server.Address
	if addr == "" {
		addr = "0.0.0.0"
	}
	p := c.Server.Port
	if p == 0 {
		p = 8080
	}
	return fmt.Sprintf("%s:%d", addr, p)
}

// Rules converts a collection's validation spec into validator rules.
func (v ValidationSpec) Rules() validation.Rules {
	rules := validation.Rules{Required: v.Required}
	if len(v.Types) > 0 {
		rules.Types = map[string]string{}
		for _, t := range v.Types {
			rules.Types[t.Path] = t.Type
		}
	}
	if len(v.MaxLen) > 0 {
		rules.MaxLen = map[string]int{}
		for _, m := range v.MaxLen {
			rules.MaxLen[m.Path] = m.Max
		}
	}
	if len(v.Enums) > 0 {
		rules.Enums = map[string][]string{}
		for _, e := range v.Enums {
			rules.Enums[e.Path] = e.Values
		}
	}
	return rules
}

// Load reads and parses the YAML config at path.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found at %s: %w", path, err)
		}
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ParseCommandFlags defines and parses command-line flags and returns their
// values along with a map indicating which flags were explicitly set.
func ParseCommandFlags() (addr string, dbPath string, cfgPath string, setFlags map[string]bool) {
	addrPtr := flag.String("addr", ":8080", "HTTP listen address")
	dbPtr := flag.String("db", "./.database", "Pebble DB path")
	cfgPtr := flag.String("config", "./config.yaml", "Path to config file")
	flag.Parse()
	setFlags = map[string]bool{}
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = true })
	return *addrPtr, *dbPtr, *cfgPtr, setFlags
}

func isTruthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes":
		return true
	}
	return false
}

// LoadEnvOverrides applies environment overrides onto the provided cfg and
// reports whether any env var was used.
func LoadEnvOverrides(cfg *Config) bool {
	envUsed := false

	if v := os.Getenv("STRATADB_ADDR"); v != "" {
		envUsed = true
		if h, p, err := net.SplitHostPort(v); err == nil {
			cfg.Server.Address = h
			if pi, err := strconv.Atoi(p); err == nil {
				cfg.Server.Port = pi
			}
		} else {
			cfg.Server.Address = v
		}
	} else {
		if host := os.Getenv("STRATADB_ADDRESS"); host != "" {
			envUsed = true
			cfg.Server.Address = host
		}
		if port := os.Getenv("STRATADB_PORT"); port != "" {
			envUsed = true
			if pi, err := strconv.Atoi(port); err == nil {
				cfg.Server.Port = pi
			}
		}
	}

	if v := os.Getenv("STRATADB_DB_PATH"); v != "" {
		envUsed = true
		cfg.Storage.DBPath = v
	}
	if v := os.Getenv("STRATADB_LOG_LEVEL"); v != "" {
		envUsed = true
		cfg.Logging.Level = v
	}
	if v := os.Getenv("STRATADB_AUDIT"); v != "" {
		envUsed = true
		cfg.Audit.Enabled = isTruthy(v)
	}
	if v := os.Getenv("STRATADB_WORKERS"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			envUsed = true
			cfg.Workers.Workers = n
		}
	}
	if v := os.Getenv("STRATADB_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			envUsed = true
			cfg.Workers.MaxRetries = n
		}
	}
	if v := os.Getenv("STRATADB_RETENTION_CRON"); v != "" {
		envUsed = true
		cfg.Retention.Cron = v
	}
	if v := os.Getenv("STRATADB_RETENTION_ENABLED"); v != "" {
		envUsed = true
		cfg.Retention.Enabled = isTruthy(v)
	}

	return envUsed
}

// Sources reports where the effective configuration came from.
type Sources struct {
	File bool
	Env  bool
}

// LoadEffective loads config from the given path and applies environment
// overrides. A missing file is not fatal; env and defaults still apply. A
// file that exists but cannot be parsed is an error.
func LoadEffective(path string) (*Config, Sources, error) {
	var src Sources
	cfg, err := Load(path)
	switch {
	case err == nil:
		src.File = true
	case errors.Is(err, os.ErrNotExist):
		cfg = &Config{}
	default:
		return nil, src, err
	}
	src.Env = LoadEnvOverrides(cfg)
	return cfg, src, nil
}

// ResolveConfigPath decides the config file path using the flag-provided
// value and the environment variable STRATADB_CONFIG when the flag was not
// set.
func ResolveConfigPath(flagPath string, flagSet bool) string {
	if flagSet {
		return flagPath
	}
	if p := os.Getenv("STRATADB_CONFIG"); p != "" {
		return p
	}
	return flagPath
}
