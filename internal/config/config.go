package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix prefixes environment overrides, e.g. USERADMIN_SERVER_LISTEN.
const EnvPrefix = "USERADMIN"

// DefaultPath is tried when Load is given no path.
const DefaultPath = "~/.useradmin/config.toml"

type Config struct {
	Server   ServerConfig   `toml:"server"`
	Database DatabaseConfig `toml:"database"`
	Keys     KeysConfig     `toml:"keys"`
	Logging  LoggingConfig  `toml:"logging"`
}

type ServerConfig struct {
	Listen          string   `toml:"listen"`
	CORSOrigins     []string `toml:"cors_origins" split_words:"true"`
	RequestTimeout  Duration `toml:"request_timeout" split_words:"true"`
	ShutdownTimeout Duration `toml:"shutdown_timeout" split_words:"true"`
	// VerifyConcurrency bounds parallel signature checks in batch verification.
	VerifyConcurrency int `toml:"verify_concurrency" split_words:"true"`
	// WriteRateLimit caps POST, PUT and DELETE requests per client IP per
	// second, with bursts of twice that. Zero disables the limit.
	WriteRateLimit float64 `toml:"write_rate_limit" split_words:"true"`
}

type DatabaseConfig struct {
	// Path of the SQLite file. Empty means a private in-memory database.
	Path string `toml:"path"`
}

type KeysConfig struct {
	Dir    string `toml:"dir"`
	Scheme string `toml:"scheme"`
	// HistoryPath is the bbolt file holding the key history. Empty keeps
	// history in memory.
	HistoryPath string `toml:"history_path" split_words:"true"`
}

type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Duration is a time.Duration that decodes from strings like "30s" in both
// TOML and environment variables.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Defaults returns a Config with sane defaults.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:            "0.0.0.0:9090",
			CORSOrigins:       []string{"http://localhost:5173"},
			RequestTimeout:    Duration{30 * time.Second},
			ShutdownTimeout:   Duration{10 * time.Second},
			VerifyConcurrency: 8,
			WriteRateLimit:    20,
		},
		Database: DatabaseConfig{
			Path: "~/.useradmin/users.db",
		},
		Keys: KeysConfig{
			Dir:         "~/.useradmin/keys",
			Scheme:      "ecdsa-secp256k1",
			HistoryPath: "~/.useradmin/keys.db",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load builds the configuration: defaults, then the TOML file, then
// USERADMIN_* environment variables. If path is empty the default location
// is used when it exists. Leading ~/ in paths is expanded.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path == "" {
		path = expandHome(DefaultPath)
		if _, err := os.Stat(path); os.IsNotExist(err) {
			path = ""
		}
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("processing environment: %w", err)
	}

	cfg.expandPaths()
	return cfg, nil
}

func (c *Config) expandPaths() {
	c.Database.Path = expandHome(c.Database.Path)
	c.Keys.Dir = expandHome(c.Keys.Dir)
	c.Keys.HistoryPath = expandHome(c.Keys.HistoryPath)
}

// ExpandHome resolves a leading ~/ to the user's home directory.
func ExpandHome(path string) string {
	return expandHome(path)
}

func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}

// errList collects validation failures so all of them are reported at once.
type errList []error

func (l *errList) add(field string, err error) {
	*l = append(*l, fmt.Errorf("%s: %w", field, err))
}

func (l errList) err() error {
	if len(l) == 0 {
		return nil
	}
	return fmt.Errorf("invalid config: %w", errors.Join(l...))
}
