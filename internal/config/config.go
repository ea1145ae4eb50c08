// Package config loads claude-sync settings.
//
// Sources, lowest precedence first: built-in defaults, the YAML config file,
// the first .env file found, the process environment, command line flags.
// Flags are applied by the caller.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Environment variable names.
const (
	EnvOrgID      = "CLAUDE_ORG_UUID"
	EnvSessionKey = "CLAUDE_SESSION_KEY"
	EnvOutputDir  = "CLAUDE_SYNC_OUTPUT"
)

// Config holds every setting of a sync run.
type Config struct {
	OrgID             string  `yaml:"org_id"`
	OutputDir         string  `yaml:"output_dir"`
	SessionKey        string  `yaml:"session_key"`
	Conversations     bool    `yaml:"conversations"`
	Standalone        bool    `yaml:"standalone"`
	Workers           int     `yaml:"workers"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	MaxDocumentBytes  int64   `yaml:"max_document_bytes"`
	MaxMessages       int     `yaml:"max_messages"`
	MaxNameLength     int     `yaml:"max_name_length"`
	Git               bool    `yaml:"git"`
	LogLevel          string  `yaml:"log_level"`
	LogFile           string  `yaml:"log_file"`
}

// Default returns the built-in defaults.
func Default() *Config {
	out := "claude-sync"
	if home, err := os.UserHomeDir(); err == nil {
		out = filepath.Join(home, ".local", "share", "claude-sync")
	}
	return &Config{
		OutputDir:         out,
		Workers:           4,
		RequestsPerSecond: 5,
		MaxDocumentBytes:  10 << 20,
		MaxMessages:       10000,
		MaxNameLength:     200,
		LogLevel:          "info",
	}
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "claude-sync", "config.yaml")
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR} with the environment value.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

// LoadFile overlays the YAML file at path onto c. A missing file is not an
// error.
func (c *Config) LoadFile(path string) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), c); err != nil {
		return fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	slog.Debug("loaded config", "path", path)
	return nil
}

// DotEnvPaths returns the .env files looked up, in order.
func DotEnvPaths() []string {
	var out []string
	if wd, err := os.Getwd(); err == nil {
		out = append(out, filepath.Join(wd, ".env"), filepath.Join(wd, ".claude-sync.env"))
	}
	if home, err := os.UserHomeDir(); err == nil {
		out = append(out, filepath.Join(home, ".claude-sync.env"))
	}
	return out
}

// LoadDotEnv parses the first existing file of paths. It returns the values
// and the file used, "" when none exists.
func LoadDotEnv(paths ...string) (map[string]string, string, error) {
	for _, p := range paths {
		content, err := os.ReadFile(p)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, "", err
		}
		env, err := parseDotEnv(string(content))
		if err != nil {
			return nil, "", fmt.Errorf("%s: %w", p, err)
		}
		return env, p, nil
	}
	return map[string]string{}, "", nil
}

func parseDotEnv(content string) (map[string]string, error) {
	env := make(map[string]string)
	for line := range strings.SplitSeq(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		val = strings.TrimSpace(val)
		switch {
		case strings.HasPrefix(val, "\""):
			unquoted, err := strconv.Unquote(val)
			if err != nil {
				return nil, fmt.Errorf("failed to unquote %s: %w", key, err)
			}
			val = unquoted
		case strings.HasPrefix(val, "'") || strings.HasSuffix(val, "'"):
			if len(val) < 2 || !strings.HasPrefix(val, "'") || !strings.HasSuffix(val, "'") {
				return nil, fmt.Errorf("unbalanced single quotes for %s", key)
			}
			val = val[1 : len(val)-1]
		}
		env[key] = val
	}
	return env, nil
}

// ApplyEnv overlays values found through lookup. Empty values are ignored.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	get := func(k string) (string, bool) {
		v, ok := lookup(k)
		return v, ok && v != ""
	}
	if v, ok := get(EnvOrgID); ok {
		c.OrgID = v
	}
	if v, ok := get(EnvSessionKey); ok {
		c.SessionKey = v
	}
	if v, ok := get(EnvOutputDir); ok {
		c.OutputDir = v
	}
}

// MapLookup adapts a map to ApplyEnv.
func MapLookup(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

// ParseLevel converts a level name to a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid log level %q", s)
	}
	return l, nil
}

// ValidateOutput checks the settings needed to read an output directory.
func (c *Config) ValidateOutput() error {
	if c.OutputDir == "" {
		return errors.New("output directory is required")
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// Validate checks the settings needed for a sync run.
func (c *Config) Validate() error {
	if err := c.ValidateOutput(); err != nil {
		return err
	}
	if c.OrgID == "" {
		return fmt.Errorf("organization UUID is required; pass it as an argument or set %s", EnvOrgID)
	}
	if _, err := uuid.Parse(c.OrgID); err != nil {
		return fmt.Errorf("invalid organization UUID %q: %w", c.OrgID, err)
	}
	if c.SessionKey == "" {
		return fmt.Errorf("session key is required; copy the sessionKey cookie of claude.ai into %s", EnvSessionKey)
	}
	if len(c.SessionKey) < 20 {
		return errors.New("session key looks truncated or expired; log into claude.ai and copy the sessionKey cookie again")
	}
	if c.Workers < 1 || c.Workers > 32 {
		return fmt.Errorf("workers must be between 1 and 32, got %d", c.Workers)
	}
	if c.RequestsPerSecond <= 0 {
		return fmt.Errorf("requests_per_second must be positive, got %g", c.RequestsPerSecond)
	}
	if c.MaxDocumentBytes < 0 || c.MaxMessages < 0 {
		return errors.New("limits must not be negative")
	}
	if c.MaxNameLength < 10 || c.MaxNameLength > 240 {
		return fmt.Errorf("max_name_length must be between 10 and 240, got %d", c.MaxNameLength)
	}
	return nil
}
