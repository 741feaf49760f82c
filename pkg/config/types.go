package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// Config is the main configuration struct.
type Config struct {
	Server      ServerConfig     `yaml:"server"`
	Storage     StorageConfig    `yaml:"storage"`
	Logging     LoggingConfig    `yaml:"logging"`
	Audit       AuditConfig      `yaml:"audit"`
	Workers     WorkersConfig    `yaml:"workers"`
	Retention   RetentionConfig  `yaml:"retention"`
	Collections []CollectionSpec `yaml:"collections"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Address     string    `yaml:"address"`
	Port        int       `yaml:"port"`
	MaxBodySize SizeBytes `yaml:"max_body_size"`
}

// StorageConfig holds backing store settings.
type StorageConfig struct {
	DBPath string `yaml:"db_path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// AuditConfig toggles the audit trail for every collection.
type AuditConfig struct {
	Enabled bool `yaml:"enabled"`
}

// WorkersConfig holds the default worker pool tunables; a collection's
// transformation config may override them.
type WorkersConfig struct {
	Workers     int      `yaml:"workers"`
	MaxRetries  int      `yaml:"max_retries"`
	RetryDelay  Duration `yaml:"retry_delay"`
	PollTimeout Duration `yaml:"poll_timeout"`
}

// RetentionConfig holds configuration for the scheduled cleanup runner.
type RetentionConfig struct {
	Enabled bool   `yaml:"enabled"`
	Cron    string `yaml:"cron"`
	DryRun  bool   `yaml:"dry_run"`
	Paused  bool   `yaml:"paused"`
}

// CollectionSpec declares one collection: its scope, document class, TTL
// override, validation rules, and retention limits. Mutation and
// transformation functions are code, registered at startup, not configured
// here.
type CollectionSpec struct {
	Domain          string         `yaml:"domain"`
	App             string         `yaml:"app"`
	Name            string         `yaml:"name"`
	ObjectType      string         `yaml:"object_type"` // config|settings|state|content
	TTL             Duration       `yaml:"ttl"`
	KeepVersions    int            `yaml:"keep_versions"`
	AuditMaxEntries int            `yaml:"audit_max_entries"`
	Validation      ValidationSpec `yaml:"validation"`
}

// ValidationSpec is the YAML shape of a collection's validation rules.
type ValidationSpec struct {
	Required []string `yaml:"required"`
	Types    []struct {
		Path string `yaml:"path"`
		Type string `yaml:"type"` // string|number|boolean|object|array
	} `yaml:"types"`
	MaxLen []struct {
		Path string `yaml:"path"`
		Max  int    `yaml:"max"`
	} `yaml:"max_len"`
	Enums []struct {
		Path   string   `yaml:"path"`
		Values []string `yaml:"values"`
	} `yaml:"enums"`
}

// Empty reports whether no rules are declared.
func (v ValidationSpec) Empty() bool {
	return len(v.Required) == 0 && len(v.Types) == 0 && len(v.MaxLen) == 0 && len(v.Enums) == 0
}

// SizeBytes represents a number of bytes, unmarshaled from human-friendly strings like "64MB" or plain integers.
type SizeBytes int64

func (s *SizeBytes) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*s = 0
		return nil
	}
	raw := strings.TrimSpace(node.Value)
	if raw == "" {
		*s = 0
		return nil
	}
	if v, err := humanize.ParseBytes(raw); err == nil {
		*s = SizeBytes(v)
		return nil
	}
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		*s = SizeBytes(i)
		return nil
	}
	return fmt.Errorf("invalid size value: %q", node.Value)
}

func (s SizeBytes) Int64() int64 { return int64(s) }

// Duration is a wrapper around time.Duration that supports YAML parsing from strings like "100ms" or plain numbers (interpreted as seconds).
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*d = Duration(0)
		return nil
	}
	raw := strings.TrimSpace(node.Value)
	if raw == "" {
		*d = Duration(0)
		return nil
	}
	if td, err := time.ParseDuration(raw); err == nil {
		*d = Duration(td)
		return nil
	}
	// allow numeric seconds
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		*d = Duration(time.Duration(f * float64(time.Second)))
		return nil
	}
	return fmt.Errorf("invalid duration value: %q", node.Value)
}

func (d Duration) Duration() time.Duration { return time.Duration(d) }
