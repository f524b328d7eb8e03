package app

import (
	"fmt"
	"os"
	"path/filepath"

	"modidx/internal/settings"
)

// Environment overrides for the default locations.
const (
	EnvConfigPath = "MODIDX_CONFIG_PATH"
	EnvHome       = "MODIDX_HOME"
)

// Defaults are the locations modidx uses before a config file says otherwise.
type Defaults struct {
	ConfigPath   string // MODIDX_CONFIG_PATH, else ~/.config/modidx.toml
	BaseDir      string // MODIDX_HOME, else ~/.local/share/modidx
	LogDir       string // <BaseDir>/log
	SettingsPath string // <BaseDir>/settings.json, holds the mods root
}

// GetDefaults resolves the default locations, preferring the environment.
func GetDefaults() (*Defaults, error) {
	configPath, err := fromEnvOrHome(EnvConfigPath, ".config", "modidx.toml")
	if err != nil {
		return nil, err
	}
	baseDir, err := fromEnvOrHome(EnvHome, ".local", "share", "modidx")
	if err != nil {
		return nil, err
	}

	return &Defaults{
		ConfigPath:   configPath,
		BaseDir:      baseDir,
		LogDir:       filepath.Join(baseDir, "log"),
		SettingsPath: filepath.Join(baseDir, settings.FileName),
	}, nil
}

// fromEnvOrHome returns $env when set, else the home-relative path.
func fromEnvOrHome(env string, rel ...string) (string, error) {
	if path := os.Getenv(env); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(append([]string{homeDir}, rel...)...), nil
}
