// Package theme holds the shared terminal appearance configuration.
// A single immutable Config is broadcast to every session's render
// adapter; changing it never touches connection state.
package theme

import (
	"errors"
	"fmt"
	"regexp"
	"sync"
)

var hexColorPattern = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

// Palette is the 16-color ANSI palette plus default foreground and
// background, as "#rrggbb" strings.
type Palette struct {
	Foreground string     `yaml:"foreground" json:"foreground"`
	Background string     `yaml:"background" json:"background"`
	ANSI       [16]string `yaml:"ansi" json:"ansi"`
}

// Config is one complete appearance configuration. Values are copied on
// read and write; callers never observe partial updates.
type Config struct {
	Name       string  `yaml:"name" json:"name"`
	Palette    Palette `yaml:"palette" json:"palette"`
	FontSize   int     `yaml:"font_size" json:"font_size"`
	FontFamily string  `yaml:"font_family" json:"font_family"`
}

// Default returns the built-in dark theme used when no preset is configured.
func Default() Config {
	return Config{
		Name: "default-dark",
		Palette: Palette{
			Foreground: "#d4d4d4",
			Background: "#1e1e1e",
			ANSI: [16]string{
				"#000000", "#cd3131", "#0dbc79", "#e5e510",
				"#2472c8", "#bc3fbc", "#11a8cd", "#e5e5e5",
				"#666666", "#f14c4c", "#23d18b", "#f5f543",
				"#3b8eea", "#d670d6", "#29b8db", "#ffffff",
			},
		},
		FontSize:   14,
		FontFamily: "monospace",
	}
}

// Validate checks that cfg is well formed enough to broadcast.
func Validate(cfg Config) error {
	if cfg.Name == "" {
		return errors.New("theme: name is required")
	}
	if cfg.FontSize <= 0 {
		return fmt.Errorf("theme %q: font size must be positive", cfg.Name)
	}
	colors := append([]string{cfg.Palette.Foreground, cfg.Palette.Background}, cfg.Palette.ANSI[:]...)
	for _, c := range colors {
		if !hexColorPattern.MatchString(c) {
			return fmt.Errorf("theme %q: invalid color %q", cfg.Name, c)
		}
	}
	return nil
}

// Manager holds the current configuration and the loaded presets.
type Manager struct {
	mu      sync.RWMutex
	current Config
	presets map[string]Config
}

// NewManager creates a Manager starting from the default theme.
func NewManager() *Manager {
	return &Manager{
		current: Default(),
		presets: map[string]Config{},
	}
}

// Current returns the active configuration.
func (m *Manager) Current() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Set replaces the active configuration after validation.
func (m *Manager) Set(cfg Config) error {
	if err := Validate(cfg); err != nil {
		return err
	}
	m.mu.Lock()
	m.current = cfg
	m.mu.Unlock()
	return nil
}

// SetPreset activates a loaded preset by name.
func (m *Manager) SetPreset(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg, ok := m.presets[name]
	if !ok {
		return fmt.Errorf("theme: unknown preset %q", name)
	}
	m.current = cfg
	return nil
}

// Presets returns the names of all loaded presets.
func (m *Manager) Presets() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.presets))
	for name := range m.presets {
		names = append(names, name)
	}
	return names
}
