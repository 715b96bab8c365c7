// Package config loads shellmux settings: built-in defaults, then the
// YAML config file, then command-line flags, each layer overriding the
// previous one.
package config

import (
	"flag"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config holds settings for both binaries. The client reads the top
// level; shellmuxd reads the host section.
type Config struct {
	Endpoint    string `yaml:"endpoint"`
	MaxSessions int    `yaml:"max_sessions"`
	Scrollback  int    `yaml:"scrollback"`
	ThemeDir    string `yaml:"theme_dir"`
	DBPath      string `yaml:"db_path"`
	Theme       string `yaml:"theme"`

	Host HostConfig `yaml:"host"`
}

// HostConfig configures shellmuxd.
type HostConfig struct {
	Listen  string `yaml:"listen"`
	Command string `yaml:"command"`
	WorkDir string `yaml:"work_dir"`
}

// DefaultPath returns the per-user config file location.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("config: failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".config", "shellmux", "config.yaml"), nil
}

func defaults() Config {
	return Config{
		Endpoint:    "ws://127.0.0.1:8770/shell",
		MaxSessions: 16,
		Scrollback:  10000,
		Host: HostConfig{
			Listen: "127.0.0.1:8770",
		},
	}
}

// Load builds the configuration from defaults, the config file, and
// args (the command line after the program name). A -config flag points
// at an alternate file; a missing file at the default path is not an
// error.
func Load(args []string) (*Config, error) {
	cfg := defaults()

	fs := flag.NewFlagSet("shellmux", flag.ContinueOnError)
	configPath := fs.String("config", "", "config file path")
	endpoint := fs.String("endpoint", "", "websocket endpoint of the shell host")
	maxSessions := fs.Int("max-sessions", 0, "maximum concurrent sessions")
	scrollback := fs.Int("scrollback", 0, "scrollback line cap per session")
	themeDir := fs.String("theme-dir", "", "directory of theme preset files")
	dbPath := fs.String("db", "", "sqlite database path")
	themeName := fs.String("theme", "", "theme preset to activate at startup")
	listen := fs.String("listen", "", "host listen address")
	command := fs.String("command", "", "shell command spawned per session")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	path := *configPath
	explicit := path != ""
	if !explicit {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}
	if err := cfg.loadFile(path); err != nil {
		if explicit || !os.IsNotExist(err) {
			return nil, err
		}
	}

	// Flags the user actually set win over the file.
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "endpoint":
			cfg.Endpoint = *endpoint
		case "max-sessions":
			cfg.MaxSessions = *maxSessions
		case "scrollback":
			cfg.Scrollback = *scrollback
		case "theme-dir":
			cfg.ThemeDir = *themeDir
		case "db":
			cfg.DBPath = *dbPath
		case "theme":
			cfg.Theme = *themeName
		case "listen":
			cfg.Host.Listen = *listen
		case "command":
			cfg.Host.Command = *command
		}
	})

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: failed to parse %s: %w", path, err)
	}
	return nil
}

func (c *Config) validate() error {
	u, err := url.Parse(c.Endpoint)
	if err != nil {
		return fmt.Errorf("config: invalid endpoint %q: %w", c.Endpoint, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("config: endpoint %q must use ws or wss", c.Endpoint)
	}
	if c.MaxSessions < 1 {
		return fmt.Errorf("config: max_sessions %d must be at least 1", c.MaxSessions)
	}
	if c.Scrollback < 1 {
		return fmt.Errorf("config: scrollback %d must be at least 1", c.Scrollback)
	}
	if c.Host.Listen == "" {
		return fmt.Errorf("config: host listen address must not be empty")
	}
	return nil
}
