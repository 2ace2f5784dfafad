// Package config loads the daemon configuration from a TOML file, overlaid
// on built-in defaults.
package config

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config is the daemon runtime configuration.
type Config struct {
	SocketPath string `toml:"socket_path"`
	PIDPath    string `toml:"pid_path"`
	DBPath     string `toml:"db_path"`

	// Service is the PAM service name handed to the worker.
	Service string `toml:"service"`
	// Class is the session class reported during login.
	Class string `toml:"class"`
	// VT is the virtual terminal sessions run on; 0 means none (the
	// worker allocates a pty instead).
	VT int `toml:"vt"`

	// DefaultCmd is the session command used when a greeter starts a
	// session without specifying one.
	DefaultCmd []string `toml:"default_cmd"`

	Auth AuthConfig `toml:"auth"`
}

// AuthConfig configures the static development authentication backend.
type AuthConfig struct {
	User     string `toml:"user"`
	Password string `toml:"password"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		SocketPath: "/run/sessiond/sessiond.sock",
		PIDPath:    "/run/sessiond/sessiond.pid",
		DBPath:     "/var/lib/sessiond/sessions.db",
		Service:    "login",
		Class:      "user",
		DefaultCmd: []string{"/bin/sh"},
	}
}

// Load reads path over the defaults. A missing file is an error; callers
// that want defaults only should not pass a path.
func Load(path string) (Config, error) {
	cfg := Default()
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	if undec := meta.Undecoded(); len(undec) > 0 {
		keys := make([]string, len(undec))
		for i, k := range undec {
			keys[i] = k.String()
		}
		return Config{}, fmt.Errorf("load config: unknown keys: %s", strings.Join(keys, ", "))
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the daemon cannot run with.
func Validate(cfg Config) error {
	if strings.TrimSpace(cfg.SocketPath) == "" {
		return fmt.Errorf("config: socket_path must not be empty")
	}
	if strings.TrimSpace(cfg.Service) == "" {
		return fmt.Errorf("config: service must not be empty")
	}
	if len(cfg.DefaultCmd) == 0 {
		return fmt.Errorf("config: default_cmd must not be empty")
	}
	if cfg.VT < 0 {
		return fmt.Errorf("config: vt must not be negative")
	}
	return nil
}
