// Package config provides configuration management for bmstable-downloader.
//
// This package handles:
//   - Loading and saving settings from JSON files
//   - Default configuration values
//
// # Default Settings
//
// Use DefaultSettings() to get sensible defaults:
//
//	settings := config.DefaultSettings()
//	// Downloads into the current directory
//	// 8 concurrent entries, 3 retries with exponential backoff
//	// Diff archives included
//
// # Loading from File
//
//	settings, err := config.Load("/path/to/config.json")
//	if err != nil {
//	    // Uses defaults if file doesn't exist
//	}
//
// # Saving Settings
//
//	settings.OutputDir = "/bms/stella"
//	err := settings.Save("/path/to/config.json")
//
// # Configuration Options
//
// Settings includes options for:
//   - Output directory and concurrency limit
//   - Retry behavior (count, cooldown, exponent)
//   - Diff inclusion, level filtering and skip-existing
//   - Link resolution depth and rendered-page timeout
package config
