package table

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	httpclient "github.com/nekoshiro/bmstable-downloader/internal/http"
	"github.com/nekoshiro/bmstable-downloader/internal/model"
)

// ErrNoTableMeta is returned when the table page carries no bmstable
// meta tag.
var ErrNoTableMeta = errors.New("bmstable meta tag not found")

// Header is the table's header.json document.
type Header struct {
	// Name is the table's display name.
	Name string `json:"name"`

	// Symbol is the short level prefix (e.g. "sl", "st", "▼") used in
	// output directory names.
	Symbol string `json:"symbol"`

	// DataURL points at body.json, relative to the header URL.
	DataURL string `json:"data_url"`
}

// Fetcher loads a difficulty table: HTML page, header.json, body.json.
type Fetcher struct {
	client *httpclient.Client
}

// NewFetcher creates a Fetcher using the given HTTP client.
func NewFetcher(client *httpclient.Client) *Fetcher {
	return &Fetcher{client: client}
}

// Fetch loads the table at tableURL and returns its header and entries.
func (f *Fetcher) Fetch(ctx context.Context, tableURL string) (*Header, []model.Entry, error) {
	base, err := url.Parse(tableURL)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid table URL: %w", err)
	}

	html, err := f.client.GetString(ctx, tableURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to fetch table HTML: %w", err)
	}

	headerPath, err := extractHeaderPath(html)
	if err != nil {
		return nil, nil, err
	}

	headerURL, err := base.Parse(headerPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to resolve header URL %q: %w", headerPath, err)
	}

	headerBody, err := f.client.Get(ctx, headerURL.String())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to fetch header.json: %w", err)
	}

	var header Header
	if err := json.Unmarshal(headerBody, &header); err != nil {
		return nil, nil, fmt.Errorf("failed to parse header.json: %w", err)
	}

	dataURL, err := headerURL.Parse(header.DataURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to resolve data URL %q: %w", header.DataURL, err)
	}

	dataBody, err := f.client.Get(ctx, dataURL.String())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to fetch body.json: %w", err)
	}

	entries, err := parseEntries(dataBody)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse body.json: %w", err)
	}

	return &header, entries, nil
}

// extractHeaderPath finds the bmstable meta tag's content attribute.
func extractHeaderPath(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("failed to parse table HTML: %w", err)
	}

	content, ok := doc.Find(`meta[name="bmstable"]`).First().Attr("content")
	if !ok || content == "" {
		return "", ErrNoTableMeta
	}

	return content, nil
}

// parseEntries decodes the body.json entry list.
//
// Levels appear as both JSON strings and numbers in the wild, so entries
// are decoded through a shim that normalizes the level to a string.
func parseEntries(data []byte) ([]model.Entry, error) {
	var raw []struct {
		MD5     string          `json:"md5"`
		SHA256  string          `json:"sha256"`
		Title   string          `json:"title"`
		Artist  string          `json:"artist"`
		URL     string          `json:"url"`
		URLDiff string          `json:"url_diff"`
		Level   json.RawMessage `json:"level"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	entries := make([]model.Entry, 0, len(raw))
	for _, r := range raw {
		entries = append(entries, model.Entry{
			MD5:     r.MD5,
			SHA256:  r.SHA256,
			Title:   r.Title,
			Artist:  r.Artist,
			URL:     r.URL,
			URLDiff: r.URLDiff,
			Level:   levelString(r.Level),
		})
	}
	return entries, nil
}

func levelString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return strings.Trim(string(raw), `"`)
}
