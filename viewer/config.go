package viewer

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kapiw0n/terraform-log-viewer/tflog"
)

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type StorageConfig struct {
	// Dir holds uploaded logs as <file_id>_<name>.
	Dir string `yaml:"dir"`
}

// InboxConfig enables the watched drop directory. Dir empty disables it.
type InboxConfig struct {
	Dir          string        `yaml:"dir"`
	ProcessedDir string        `yaml:"processed_dir"`
	ErrorDir     string        `yaml:"error_dir"`
	Session      string        `yaml:"session"`
	Settle       time.Duration `yaml:"settle"`
}

// BodyFieldsConfig accepts either:
//  1. mapping form (preferred):
//     body_fields:
//     request:  [tf_http_req_body, request_body]
//     response: [tf_http_res_body]
//     generic:  [body]
//  2. list form, every name generic:
//     body_fields: [payload, body]
type BodyFieldsConfig struct {
	Fields tflog.BodyFields
}

func (b *BodyFieldsConfig) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	switch value.Kind {
	case yaml.MappingNode:
		var fields tflog.BodyFields
		for i := 0; i+1 < len(value.Content); i += 2 {
			kind := tflog.BodyKind(strings.ToLower(strings.TrimSpace(value.Content[i].Value)))
			switch kind {
			case tflog.BodyRequest, tflog.BodyResponse, tflog.BodyGeneric:
			default:
				return fmt.Errorf("body_fields: unknown kind %q (want request, response or generic)", value.Content[i].Value)
			}
			names, err := decodeNames(value.Content[i+1])
			if err != nil {
				return fmt.Errorf("body_fields.%s: %w", kind, err)
			}
			for _, n := range names {
				fields = append(fields, tflog.BodyField{Name: n, Kind: kind})
			}
		}
		b.Fields = fields
		return nil
	case yaml.SequenceNode:
		names, err := decodeNames(value)
		if err != nil {
			return fmt.Errorf("body_fields: %w", err)
		}
		fields := make(tflog.BodyFields, 0, len(names))
		for _, n := range names {
			fields = append(fields, tflog.BodyField{Name: n, Kind: tflog.BodyGeneric})
		}
		b.Fields = fields
		return nil
	default:
		return nil
	}
}

// decodeNames reads a scalar or a list of scalars, dropping blanks.
func decodeNames(node *yaml.Node) ([]string, error) {
	var raw []string
	switch node.Kind {
	case yaml.ScalarNode:
		raw = []string{node.Value}
	case yaml.SequenceNode:
		if err := node.Decode(&raw); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("expected a name or a list of names")
	}
	out := raw[:0]
	for _, n := range raw {
		if n = strings.TrimSpace(n); n != "" {
			out = append(out, n)
		}
	}
	return out, nil
}

type Config struct {
	Listen   string         `yaml:"listen"`
	Debug    bool           `yaml:"debug"`
	Database DatabaseConfig `yaml:"database"`
	Storage  StorageConfig  `yaml:"storage"`

	MaxUploadBytes int64 `yaml:"max_upload_bytes"`
	MaxLineBytes   int   `yaml:"max_line_bytes"`
	ParseWorkers   int   `yaml:"parse_workers"`

	// Retention is how long an uploaded file is kept. Negative keeps files forever.
	Retention       time.Duration `yaml:"retention"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`

	PageSize     int `yaml:"page_size"`
	MaxPageSize  int `yaml:"max_page_size"`
	CacheEntries int `yaml:"cache_entries"`

	BodyFields BodyFieldsConfig `yaml:"body_fields"`
	Inbox      InboxConfig      `yaml:"inbox"`
}

func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func LoadConfig(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Listen == "" {
		c.Listen = ":8000"
	}
	if c.Database.Path == "" {
		c.Database.Path = "tflog.db"
	}
	if c.Storage.Dir == "" {
		c.Storage.Dir = "log_storage"
	}
	if c.MaxUploadBytes <= 0 {
		c.MaxUploadBytes = 200 << 20
	}
	if c.MaxLineBytes <= 0 {
		c.MaxLineBytes = tflog.DefaultMaxLineBytes
	}
	if c.ParseWorkers <= 0 {
		c.ParseWorkers = 1
	}
	if c.Retention == 0 {
		c.Retention = 24 * time.Hour
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = time.Hour
	}
	if c.PageSize <= 0 {
		c.PageSize = tflog.DefaultPageSize
	}
	if c.MaxPageSize <= 0 {
		c.MaxPageSize = tflog.DefaultMaxPageSize
	}
	if c.CacheEntries <= 0 {
		c.CacheEntries = 16
	}
	if len(c.BodyFields.Fields) == 0 {
		c.BodyFields.Fields = tflog.DefaultBodyFields
	}
	if c.Inbox.Session == "" {
		c.Inbox.Session = "inbox"
	}
	if c.Inbox.Settle <= 0 {
		c.Inbox.Settle = 2 * time.Second
	}
}

// ParserOptions derives the core parser settings.
func (c *Config) ParserOptions() tflog.Options {
	return tflog.Options{
		BodyFields:   c.BodyFields.Fields,
		Workers:      c.ParseWorkers,
		MaxLineBytes: c.MaxLineBytes,
	}
}
