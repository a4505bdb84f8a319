package config

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// Settings holds all configuration options.
type Settings struct {
	// Download settings
	OutputDir             string  `json:"output_dir"`
	MaxConcurrentEntries  int     `json:"max_concurrent_entries"`
	DownloadMaxRetries    int     `json:"download_max_retries"`
	DownloadRetryCooldown float64 `json:"download_retry_cooldown"`
	DownloadRetryExponent float64 `json:"download_retry_exponent"`
	RequestTimeoutSeconds int     `json:"request_timeout_seconds"`

	// Entry selection
	IncludeDiffs bool   `json:"include_diffs"`
	LevelFilter  string `json:"level_filter"`
	SkipExisting bool   `json:"skip_existing"`

	// Link resolution
	MaxResolveDepth      int `json:"max_resolve_depth"`
	RenderTimeoutSeconds int `json:"render_timeout_seconds"`

	// HTTP settings
	UserAgent string `json:"user_agent"`
}

// DefaultSettings returns settings with default values.
func DefaultSettings() *Settings {
	return &Settings{
		OutputDir:             ".",
		MaxConcurrentEntries:  8,
		DownloadMaxRetries:    3,
		DownloadRetryCooldown: 4.0,
		DownloadRetryExponent: 4.0,
		RequestTimeoutSeconds: 300,

		IncludeDiffs: true,
		LevelFilter:  "",
		SkipExisting: false,

		MaxResolveDepth:      5,
		RenderTimeoutSeconds: 30,

		UserAgent: "bmstable-downloader",
	}
}

// Load reads settings from a JSON file.
//
// A missing file is not an error: defaults are returned so the tool works
// without any configuration.
func Load(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultSettings(), nil
		}
		return nil, err
	}

	settings := DefaultSettings()
	if err := json.Unmarshal(data, settings); err != nil {
		return nil, err
	}

	return settings, nil
}

// Save writes settings to a JSON file.
func (s *Settings) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}
