// Package download orchestrates a full difficulty-table run.
//
// # Manager
//
// The Manager drives the whole pipeline:
//
//  1. Fetch and parse the difficulty table
//  2. Group table entries into songs
//  3. Resolve each song's source URL to a direct archive URL
//  4. Download, extract and normalize each song folder
//  5. Merge separately-distributed difficulty charts
//
// # Basic Usage
//
//	manager := download.NewManager(settings, renderer, func(event download.ProgressEvent) {
//	    fmt.Println(event.Message)
//	})
//
//	summary, err := manager.Run(ctx, "https://example.com/table/")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(summary)
//
// # Failure Isolation
//
// Songs are independent: a song that fails at any stage produces a
// failed Outcome and a line in failed.log while every other song keeps
// downloading. Run returns an error only when the table itself cannot
// be loaded.
//
// # Concurrency
//
// Songs are processed concurrently, bounded by
// settings.MaxConcurrentEntries. All the work for one song, from URL
// resolution to folder normalization, happens on one worker.
//
// # Retry Logic
//
// Transient download failures are retried with exponential backoff,
// configurable via settings.DownloadMaxRetries,
// settings.DownloadRetryCooldown and settings.DownloadRetryExponent.
// Permanent failures, like an HTML error page served in place of an
// archive, are not retried.
package download
