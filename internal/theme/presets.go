package theme

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/user/shellmux/configs"
)

// LoadShippedPresets registers the preset themes embedded in the
// binary. User presets loaded afterwards override same-named entries.
func (m *Manager) LoadShippedPresets() error {
	entries, err := fs.ReadDir(configs.ThemeDefaults, "themes")
	if err != nil {
		return fmt.Errorf("theme: read embedded presets: %w", err)
	}
	for _, entry := range entries {
		data, err := configs.ThemeDefaults.ReadFile(filepath.Join("themes", entry.Name()))
		if err != nil {
			return fmt.Errorf("theme: read embedded preset %q: %w", entry.Name(), err)
		}
		cfg := Default()
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return fmt.Errorf("theme: parse embedded preset %q: %w", entry.Name(), err)
		}
		if err := Validate(cfg); err != nil {
			return err
		}
		m.mu.Lock()
		m.presets[cfg.Name] = cfg
		m.mu.Unlock()
	}
	return nil
}

// LoadPresets reads every *.yaml file in dir into the preset table.
// A missing directory is not an error; an invalid file is.
func (m *Manager) LoadPresets(dir string) error {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("theme: read presets dir: %w", err)
	}

	loaded := make(map[string]Config)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := strings.ToLower(entry.Name())
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		cfg, err := loadPresetFile(path)
		if err != nil {
			return err
		}
		if _, exists := loaded[cfg.Name]; exists {
			return fmt.Errorf("theme: duplicate preset %q", cfg.Name)
		}
		loaded[cfg.Name] = cfg
	}

	m.mu.Lock()
	for name, cfg := range loaded {
		m.presets[name] = cfg
	}
	m.mu.Unlock()
	return nil
}

func loadPresetFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("theme: read preset %q: %w", path, err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("theme: parse preset %q: %w", path, err)
	}
	if err := Validate(cfg); err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// SavePreset writes cfg to dir as <name>.yaml and registers it.
func (m *Manager) SavePreset(dir string, cfg Config) error {
	if err := Validate(cfg); err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("theme: create presets dir: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("theme: marshal preset: %w", err)
	}
	path := filepath.Join(dir, cfg.Name+".yaml")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("theme: write preset %q: %w", path, err)
	}

	m.mu.Lock()
	m.presets[cfg.Name] = cfg
	m.mu.Unlock()
	return nil
}

// SortedPresets returns preset names in stable order for UI menus.
func (m *Manager) SortedPresets() []string {
	names := m.Presets()
	sort.Strings(names)
	return names
}
