package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	appLog "artcrm/internal/log"
)

// EnvPrefix prefixes every environment override, e.g. ARTCRM_LISTEN.
const EnvPrefix = "ARTCRM_"

const (
	defaultListen       = "127.0.0.1:8080"
	defaultTimezone     = "Europe/Moscow"
	defaultDatabasePath = "./var/artcrm.db"
	defaultRolloverCron = "0 3 1 * *"
	defaultPatternName  = "Classic"
	defaultMaxOccur     = 5000
	defaultWorkers      = 4
	defaultLogLevel     = "info"
)

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA zone every datetime is normalized into
	// (e.g. "Europe/Moscow").
	Timezone string `yaml:"timezone" json:"timezone"`

	// DatabasePath is the SQLite file. ":memory:" keeps everything in RAM.
	DatabasePath string `yaml:"database_path" json:"database_path"`

	// RolloverCron is a cron-style schedule (e.g. "0 3 1 * *") for creating
	// every user's month schedule ahead of use. Empty disables the job.
	RolloverCron string `yaml:"rollover_cron" json:"rollover_cron"`

	// DefaultPatternName names the pattern new users start with.
	DefaultPatternName string `yaml:"default_pattern_name" json:"default_pattern_name"`

	// MaxOccurrencesPerEvent caps rule expansion per event and window.
	MaxOccurrencesPerEvent int `yaml:"max_occurrences_per_event" json:"max_occurrences_per_event"`

	// ExpandWorkers bounds concurrent event expansion.
	ExpandWorkers int `yaml:"expand_workers" json:"expand_workers"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:                 defaultListen,
		Timezone:               defaultTimezone,
		DatabasePath:           defaultDatabasePath,
		RolloverCron:           defaultRolloverCron,
		DefaultPatternName:     defaultPatternName,
		MaxOccurrencesPerEvent: defaultMaxOccur,
		ExpandWorkers:          defaultWorkers,
		LogLevel:               defaultLogLevel,
		BasicAuth:              nil,
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly. RolloverCron is left
// alone: empty means disabled.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.Timezone == "" {
		c.Timezone = defaultTimezone
	}
	if c.DatabasePath == "" {
		c.DatabasePath = defaultDatabasePath
	}
	if c.DefaultPatternName == "" {
		c.DefaultPatternName = defaultPatternName
	}
	if c.MaxOccurrencesPerEvent <= 0 {
		c.MaxOccurrencesPerEvent = defaultMaxOccur
	}
	if c.ExpandWorkers <= 0 {
		c.ExpandWorkers = defaultWorkers
	}
	if c.LogLevel == "" {
		c.LogLevel = defaultLogLevel
	}
	if c.BasicAuth != nil && c.BasicAuth.Username == "" && c.BasicAuth.Password == "" {
		c.BasicAuth = nil
	}
}

// Validate reports settings that Normalize cannot repair.
func (c *Config) Validate() error {
	var problems []string
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		problems = append(problems, fmt.Sprintf("timezone %q: %v", c.Timezone, err))
	}
	if _, err := appLog.ParseLevel(c.LogLevel); err != nil {
		problems = append(problems, err.Error())
	}
	if c.BasicAuth != nil && (c.BasicAuth.Username == "" || c.BasicAuth.Password == "") {
		problems = append(problems, "basic_auth needs both username and password")
	}
	if len(problems) > 0 {
		return errors.New("config: " + strings.Join(problems, "; "))
	}
	return nil
}

// Location loads the configured timezone.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				return cfg, err
			}
			appLog.Info("default config written", "path", path)
			return cfg, nil
		}
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	cfg.Normalize()

	return cfg, nil
}

// LoadDotEnv copies KEY=VALUE pairs from the given .env files into the
// process environment without overriding variables that are already set.
// Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("loading %s: %w", p, err)
		}
		appLog.Info(".env file loaded", "path", p)
	}
	return nil
}

// ApplyEnv overrides fields from ARTCRM_* variables. lookup is usually
// os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		v, ok := lookup(EnvPrefix + key)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
		}
		*dst = n
		return nil
	}

	str("LISTEN", &c.Listen)
	str("TIMEZONE", &c.Timezone)
	str("DATABASE_PATH", &c.DatabasePath)
	str("DEFAULT_PATTERN_NAME", &c.DefaultPatternName)
	str("LOG_LEVEL", &c.LogLevel)
	// An explicitly empty value disables the rollover job.
	if v, ok := lookup(EnvPrefix + "ROLLOVER_CRON"); ok {
		c.RolloverCron = v
	}
	if err := num("MAX_OCCURRENCES_PER_EVENT", &c.MaxOccurrencesPerEvent); err != nil {
		return err
	}
	if err := num("EXPAND_WORKERS", &c.ExpandWorkers); err != nil {
		return err
	}

	user, hasUser := lookup(EnvPrefix + "BASIC_AUTH_USERNAME")
	pass, hasPass := lookup(EnvPrefix + "BASIC_AUTH_PASSWORD")
	if hasUser || hasPass {
		c.BasicAuth = &BasicAuthConfig{Username: user, Password: pass}
	}

	c.Normalize()
	return nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".artcrm-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
