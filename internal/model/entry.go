package model

import (
	"regexp"
	"strings"
)

// Entry represents one chart listed in a difficulty table body.
//
// The JSON field names follow the bmstable body.json convention. Only
// Title, Level, URL and URLDiff drive the pipeline; the hashes are kept
// for diagnostics and directory-key stability checks.
type Entry struct {
	MD5     string `json:"md5"`
	SHA256  string `json:"sha256"`
	Title   string `json:"title"`
	Artist  string `json:"artist"`
	URL     string `json:"url"`
	URLDiff string `json:"url_diff"`
	Level   string `json:"level"`
}

// EntryGroup collects the entries that share one output directory.
//
// Several table rows can point at the same song (one per chart
// difficulty); they share the base archive and contribute diff URLs.
type EntryGroup struct {
	// DirName is the sanitized output directory name, derived from the
	// table symbol, the entry level and the title. It is the stable key
	// that makes skip-existing meaningful across runs.
	DirName string

	// Level is the table's level label for the group's entries.
	Level string

	// BaseURL is the source URL of the main chart archive. Empty when the
	// table lists only diffs for this song.
	BaseURL string

	// DiffURLs are the deduplicated source URLs of diff archives.
	DiffURLs []string
}

// GroupEntries merges entries into groups keyed by output directory name.
//
// The first non-empty base URL wins; diff URLs are deduplicated while
// preserving table order. The returned slice keeps the order in which
// directory names first appear in the table.
func GroupEntries(entries []Entry, symbol string) []*EntryGroup {
	byName := make(map[string]*EntryGroup)
	var order []*EntryGroup

	for _, e := range entries {
		dirName := MakeDirName(e, symbol)

		group, ok := byName[dirName]
		if !ok {
			group = &EntryGroup{DirName: dirName, Level: e.Level}
			byName[dirName] = group
			order = append(order, group)
		}

		if group.BaseURL == "" && e.URL != "" {
			group.BaseURL = e.URL
		}

		if e.URLDiff != "" && !contains(group.DiffURLs, e.URLDiff) {
			group.DiffURLs = append(group.DiffURLs, e.URLDiff)
		}
	}

	return order
}

// MakeDirName derives the output directory name for an entry:
// "<symbol><level>_<title>", sanitized for the filesystem.
//
// Missing levels become "_" and missing titles become "unknown" so every
// entry still lands somewhere deterministic.
func MakeDirName(e Entry, symbol string) string {
	level := e.Level
	if level == "" {
		level = "_"
	}
	title := e.Title
	if title == "" {
		title = "unknown"
	}
	return SanitizeName(symbol + level + "_" + title)
}

var invalidNameChars = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f]`)

// SanitizeName replaces characters that are invalid in file or folder
// names with underscores and trims surrounding whitespace.
func SanitizeName(name string) string {
	name = invalidNameChars.ReplaceAllString(name, "_")
	return strings.TrimSpace(name)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
