package configs

import "embed"

// ThemeDefaults contains the shipped theme preset YAML files.
//
//go:embed themes/*.yaml
var ThemeDefaults embed.FS
