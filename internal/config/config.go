package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DefaultDelay separates usernames in sequential batches.
const DefaultDelay = time.Second

// EnvPrefix prefixes environment overrides, e.g. HANDLECHECK_TIMEOUT=5.
const EnvPrefix = "HANDLECHECK"

// Config is the effective run configuration: defaults, then the config
// file, then the environment, then command-line flags.
type Config struct {
	Timeout      int           `mapstructure:"timeout"`
	Concurrency  int           `mapstructure:"concurrency"`
	Delay        time.Duration `mapstructure:"delay"`
	Parallel     bool          `mapstructure:"parallel"`
	Workers      int           `mapstructure:"workers"`
	UserAgent    string        `mapstructure:"user_agent"`
	Platforms    string        `mapstructure:"platforms"`
	Sites        []string      `mapstructure:"sites"`
	OutputDir    string        `mapstructure:"output"`
	Save         bool          `mapstructure:"save"`
	Proxy        string        `mapstructure:"proxy"`
	Tor          bool          `mapstructure:"tor"`
	NoColor      bool          `mapstructure:"no_color"`
	Verbose      bool          `mapstructure:"verbose"`
	MaxBodyBytes int64         `mapstructure:"max_body_bytes"`
}

// New returns a viper instance with defaults and environment lookup set up.
// Callers bind their flags to it before calling Load.
func New() *viper.Viper {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("timeout", 10)
	v.SetDefault("concurrency", 10)
	v.SetDefault("delay", DefaultDelay)
	v.SetDefault("parallel", false)
	v.SetDefault("workers", 2)
	v.SetDefault("user_agent", "")
	v.SetDefault("platforms", "")
	v.SetDefault("sites", []string{})
	v.SetDefault("output", ".")
	v.SetDefault("save", false)
	v.SetDefault("proxy", "")
	v.SetDefault("tor", false)
	v.SetDefault("no_color", false)
	v.SetDefault("verbose", false)
	v.SetDefault("max_body_bytes", 2<<20)
}

// Load reads the config file, if any, and decodes the merged configuration.
// With an empty path, handlecheck.yaml is looked up in the working directory
// and ~/.config/handlecheck; a missing file is not an error.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("handlecheck")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "handlecheck"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.Sites = splitList(cfg.Sites)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error

	if c.Timeout <= 0 {
		errs = append(errs, errors.New("timeout must be positive"))
	}
	if c.Concurrency <= 0 {
		errs = append(errs, errors.New("concurrency must be positive"))
	}
	if c.Delay < 0 {
		errs = append(errs, errors.New("delay cannot be negative"))
	}
	if c.Parallel && c.Workers <= 0 {
		errs = append(errs, errors.New("workers must be positive in parallel mode"))
	}
	if c.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("max_body_bytes must be positive"))
	}
	if c.Proxy != "" && c.Tor {
		errs = append(errs, errors.New("proxy and tor are mutually exclusive"))
	}

	return errors.Join(errs...)
}

func (c *Config) TimeoutDuration() time.Duration {
	return time.Duration(c.Timeout) * time.Second
}

// splitList flattens comma-separated entries, which is how lists arrive from
// the environment.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, s := range strings.Split(item, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}
