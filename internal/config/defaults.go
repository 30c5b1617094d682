package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// PlatformConfigDir returns the platform-specific config directory.
// ARCINTEGRITY_CONFIG_DIR overrides it.
//
// Platform paths:
//   - macOS:   ~/Library/Application Support/arcintegrity/
//   - Linux:   $XDG_CONFIG_HOME/arcintegrity/ or ~/.config/arcintegrity/
//   - Windows: %APPDATA%\arcintegrity\
func PlatformConfigDir() string {
	if dir := os.Getenv("ARCINTEGRITY_CONFIG_DIR"); dir != "" {
		return dir
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(homeDir(), "Library", "Application Support", "arcintegrity")
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "arcintegrity")
		}
		return fallbackDir()
	default:
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			return filepath.Join(xdg, "arcintegrity")
		}
		return filepath.Join(homeDir(), ".config", "arcintegrity")
	}
}

// PlatformLogDir returns the platform-specific log directory.
//
// Platform paths:
//   - macOS:   ~/Library/Logs/arcintegrity/
//   - Linux:   $XDG_STATE_HOME/arcintegrity/ or ~/.local/state/arcintegrity/
//   - Windows: %LOCALAPPDATA%\arcintegrity\logs\
func PlatformLogDir() string {
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(homeDir(), "Library", "Logs", "arcintegrity")
	case "windows":
		if local := os.Getenv("LOCALAPPDATA"); local != "" {
			return filepath.Join(local, "arcintegrity", "logs")
		}
		return filepath.Join(fallbackDir(), "logs")
	default:
		if xdg := os.Getenv("XDG_STATE_HOME"); xdg != "" {
			return filepath.Join(xdg, "arcintegrity")
		}
		return filepath.Join(homeDir(), ".local", "state", "arcintegrity")
	}
}

func homeDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return home
	}
	return "."
}

func fallbackDir() string {
	return filepath.Join(homeDir(), ".arcintegrity")
}

// SupportedConfigFormats returns the list of supported config file formats.
func SupportedConfigFormats() []string {
	return []string{
		"toml",
		"json",
		"yaml",
		"yml",
	}
}

// FindConfigFile searches for a config file in standard locations.
// Returns the path to the first found config file, or empty string if none found.
func FindConfigFile() string {
	// Search order:
	// 1. Current directory (arcintegrity.<ext>)
	// 2. Config directory (config.<ext>)
	for _, ext := range SupportedConfigFormats() {
		path := "arcintegrity." + ext
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	dir := PlatformConfigDir()
	for _, ext := range SupportedConfigFormats() {
		path := filepath.Join(dir, "config."+ext)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}
