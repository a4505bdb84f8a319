// Package http provides an HTTP client configured for table and archive
// hosts.
//
// The Client in this package handles:
//   - User-Agent headers (some mirrors reject the Go default)
//   - Cookie persistence (Google Drive's confirmation flow needs it)
//   - Bounded redirects and timeout handling
//   - Streaming downloads with progress tracking
//
// # Basic Usage
//
//	client := http.NewClient("bmstable-downloader", 5*time.Minute)
//
//	// Fetch an HTML page
//	html, err := client.GetString(ctx, "https://manbow.nothing.sh/event/...")
//
//	// Stream a response body to disk with progress
//	resp, err := client.Do(ctx, archiveURL)
//
// # Status errors
//
// Non-2xx responses surface as *StatusError so callers can distinguish
// retryable server errors (5xx) from permanent client errors (4xx):
//
//	var se *http.StatusError
//	if errors.As(err, &se) && se.Temporary() {
//	    // retry with backoff
//	}
package http
