// Package settings persists user preferences between runs.
package settings

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
)

// Settings holds user preferences that persist across restarts.
type Settings struct {
	CrashReporting bool   `json:"crashReporting"` // opt-in Sentry reporting
	LastLibrary    string `json:"lastLibrary,omitempty"`
}

var (
	current  *Settings
	mu       sync.RWMutex
	filePath string
)

// DefaultSettings returns the default settings.
func DefaultSettings() *Settings {
	return &Settings{
		CrashReporting: false,
	}
}

// SetPath overrides the settings file location. An empty path restores the
// per-user default. Loaded settings are discarded.
func SetPath(path string) {
	mu.Lock()
	defer mu.Unlock()
	filePath = path
	current = nil
}

// getSettingsPath returns the path to the settings file. Callers hold mu.
func getSettingsPath() (string, error) {
	if filePath != "" {
		return filePath, nil
	}
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "spooltag", "settings.json"), nil
}

// Load reads settings from disk, or returns defaults if file doesn't exist.
func Load() (*Settings, error) {
	mu.Lock()
	defer mu.Unlock()

	path, err := getSettingsPath()
	if err != nil {
		current = DefaultSettings()
		return current, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		current = DefaultSettings()
		if os.IsNotExist(err) {
			return current, nil
		}
		return current, err
	}

	var s Settings
	if err := json.Unmarshal(data, &s); err != nil {
		current = DefaultSettings()
		return current, err
	}

	current = &s
	return current, nil
}

// Save writes the current settings to disk.
func Save() error {
	mu.Lock()
	defer mu.Unlock()

	if current == nil {
		current = DefaultSettings()
	}

	path, err := getSettingsPath()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(current, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// Get returns the current settings (loads from disk if not yet loaded).
func Get() *Settings {
	mu.RLock()
	if current != nil {
		defer mu.RUnlock()
		return current
	}
	mu.RUnlock()

	s, _ := Load()
	return s
}

// update applies fn to the loaded settings and saves them.
func update(fn func(s *Settings)) error {
	Get()

	mu.Lock()
	next := *current
	fn(&next)
	current = &next
	mu.Unlock()

	return Save()
}

// SetCrashReporting updates the crash reporting preference and saves.
func SetCrashReporting(enabled bool) error {
	return update(func(s *Settings) { s.CrashReporting = enabled })
}

// IsCrashReportingEnabled returns whether crash reporting is enabled.
func IsCrashReportingEnabled() bool {
	return Get().CrashReporting
}

// SetLastLibrary remembers the most recently synced library directory.
func SetLastLibrary(dir string) error {
	return update(func(s *Settings) { s.LastLibrary = dir })
}

// LastLibrary returns the most recently synced library directory, if any.
func LastLibrary() string {
	return Get().LastLibrary
}
