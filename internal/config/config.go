// Package config loads rahad settings from defaults, an optional raha.yaml,
// RAHA_* environment variables and command-line flags, in increasing priority.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	EnvPrefix  = "RAHA"
	configName = "raha"
	appDir     = "raha"
)

type Config struct {
	HTTP     HTTP     `mapstructure:"http"`
	Storage  Storage  `mapstructure:"storage"`
	Auth     Auth     `mapstructure:"auth"`
	Profiles Profiles `mapstructure:"profiles"`
	Admin    Admin    `mapstructure:"admin"`
	Log      Log      `mapstructure:"log"`

	// File is the config file that was read, if any.
	File string `mapstructure:"-"`
}

type HTTP struct {
	Addr           string   `mapstructure:"addr"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	RatePerSecond  float64  `mapstructure:"rate_per_second"`
	Burst          int      `mapstructure:"burst"`
	MaxBodyBytes   int64    `mapstructure:"max_body_bytes"`
}

type Storage struct {
	Driver     string `mapstructure:"driver"`
	Path       string `mapstructure:"path"`
	QuotaBytes int    `mapstructure:"quota_bytes"`
}

type Auth struct {
	URL             string `mapstructure:"url"`
	AnonKey         string `mapstructure:"anon_key"`
	JWTSecret       string `mapstructure:"jwt_secret"`
	RedirectBase    string `mapstructure:"redirect_base"`
	SignInPerMinute int    `mapstructure:"sign_in_per_minute"`
}

type Profiles struct {
	DSN string `mapstructure:"dsn"`
}

type Admin struct {
	OrganizationID string `mapstructure:"organization_id"`
	NotesLimit     int    `mapstructure:"notes_limit"`
}

type Log struct {
	Level string `mapstructure:"level"`
}

// flagKeys maps command-line flag names to config keys.
var flagKeys = map[string]string{
	"addr":           "http.addr",
	"storage-driver": "storage.driver",
	"storage-path":   "storage.path",
	"auth-url":       "auth.url",
	"profiles-dsn":   "profiles.dsn",
	"log-level":      "log.level",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", "127.0.0.1:8765")
	v.SetDefault("http.allowed_origins", []string{"http://localhost:5173", "http://localhost:8080"})
	v.SetDefault("http.rate_per_second", 20.0)
	v.SetDefault("http.burst", 40)
	v.SetDefault("http.max_body_bytes", int64(1<<20))
	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.path", "")
	v.SetDefault("storage.quota_bytes", 0)
	v.SetDefault("auth.url", "")
	v.SetDefault("auth.anon_key", "")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.redirect_base", "http://localhost:8080")
	v.SetDefault("auth.sign_in_per_minute", 10)
	v.SetDefault("profiles.dsn", "")
	v.SetDefault("admin.organization_id", "org-default")
	v.SetDefault("admin.notes_limit", 200)
	v.SetDefault("log.level", "info")
}

// Load resolves the configuration. cmd may be nil; when set, its "config" flag
// selects an explicit file and the flags in flagKeys override everything else.
func Load(cmd *cobra.Command) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	explicit := ""
	if cmd != nil {
		if f := cmd.Flags().Lookup("config"); f != nil {
			explicit = f.Value.String()
		}
		for name, key := range flagKeys {
			if f := cmd.Flags().Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return Config{}, fmt.Errorf("config: bind flag %s: %w", name, err)
				}
			}
		}
	}

	if explicit != "" {
		v.SetConfigFile(explicit)
	} else {
		v.SetConfigName(configName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, appDir))
		}
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if explicit != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("config: read %s: %w", v.ConfigFileUsed(), err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode: %w", err)
	}
	cfg.File = v.ConfigFileUsed()
	if cfg.Storage.Path == "" && cfg.Storage.Driver == "sqlite" {
		cfg.Storage.Path = DefaultStoragePath()
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// DefaultStoragePath places the device database under the user config directory.
func DefaultStoragePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "raha-device.db"
	}
	return filepath.Join(dir, appDir, "device.db")
}

// Validate rejects settings no component can run with.
func (c Config) Validate() error {
	var errs []error
	switch c.Storage.Driver {
	case "sqlite", "memory":
	default:
		errs = append(errs, fmt.Errorf("storage.driver must be sqlite or memory, got %q", c.Storage.Driver))
	}
	if strings.TrimSpace(c.HTTP.Addr) == "" {
		errs = append(errs, errors.New("http.addr is required"))
	}
	if c.HTTP.RatePerSecond < 0 || c.HTTP.Burst < 0 {
		errs = append(errs, errors.New("http rate limits must not be negative"))
	}
	if c.Admin.NotesLimit <= 0 {
		errs = append(errs, errors.New("admin.notes_limit must be positive"))
	}
	if c.Storage.QuotaBytes < 0 {
		errs = append(errs, errors.New("storage.quota_bytes must not be negative"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// Offline reports whether no remote auth gateway is configured.
func (c Config) Offline() bool {
	return strings.TrimSpace(c.Auth.URL) == ""
}
