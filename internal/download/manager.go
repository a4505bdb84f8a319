package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nekoshiro/bmstable-downloader/internal/archive"
	"github.com/nekoshiro/bmstable-downloader/internal/config"
	httpclient "github.com/nekoshiro/bmstable-downloader/internal/http"
	"github.com/nekoshiro/bmstable-downloader/internal/model"
	"github.com/nekoshiro/bmstable-downloader/internal/normalize"
	"github.com/nekoshiro/bmstable-downloader/internal/resolve"
	"github.com/nekoshiro/bmstable-downloader/internal/table"
	"golang.org/x/sync/errgroup"
)

// ProgressLevel indicates the severity/type of a progress message.
type ProgressLevel int

const (
	LevelInfo ProgressLevel = iota
	LevelVerbose
	LevelWarning
	LevelError
	LevelSuccess
)

// ProgressEvent represents a pipeline progress update.
type ProgressEvent struct {
	Message string
	Level   ProgressLevel
}

// Manager coordinates a whole table run: fetch the table, group its
// entries into songs, and push every song through the
// resolve/fetch/extract/normalize pipeline with bounded concurrency.
//
// One song failing never aborts the run; it becomes a failed Outcome
// while its siblings keep going.
type Manager struct {
	settings *config.Settings
	client   *httpclient.Client
	fetcher  *table.Fetcher
	resolver *resolve.Resolver

	doneGroups    int32
	totalGroups   int32
	receivedBytes int64

	onProgress func(ProgressEvent)

	mu       sync.Mutex
	outcomes []model.Outcome
}

// NewManager creates a Manager.
//
// renderer may be nil to disable the rendered-page fallback on mirror
// index pages.
func NewManager(settings *config.Settings, renderer resolve.Renderer, onProgress func(ProgressEvent)) *Manager {
	client := httpclient.NewClient(settings.UserAgent, time.Duration(settings.RequestTimeoutSeconds)*time.Second)
	return &Manager{
		settings:   settings,
		client:     client,
		fetcher:    table.NewFetcher(client),
		resolver:   resolve.NewResolver(client, renderer, settings.MaxResolveDepth, time.Duration(settings.RenderTimeoutSeconds)*time.Second),
		onProgress: onProgress,
	}
}

// Run processes the difficulty table at tableURL and returns a Summary
// with one Outcome per song. It returns an error only for failures that
// make the whole run impossible, like an unreachable table.
func (m *Manager) Run(ctx context.Context, tableURL string) (*Summary, error) {
	start := time.Now()

	header, entries, err := m.fetcher.Fetch(ctx, tableURL)
	if err != nil {
		return nil, fmt.Errorf("failed to load difficulty table: %w", err)
	}
	m.progress(ProgressEvent{Message: fmt.Sprintf("Table: %s (%d entries)", header.Name, len(entries)), Level: LevelInfo})

	groups := model.GroupEntries(entries, header.Symbol)
	atomic.StoreInt32(&m.totalGroups, int32(len(groups)))

	if err := os.MkdirAll(m.settings.OutputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.settings.MaxConcurrentEntries)

	for _, group := range groups {
		group := group
		g.Go(func() error {
			m.processGroup(gctx, group)
			atomic.AddInt32(&m.doneGroups, 1)
			return nil
		})
	}
	_ = g.Wait()

	summary := &Summary{
		TableName: header.Name,
		Outcomes:  m.Outcomes(),
		Duration:  time.Since(start),
		Bytes:     atomic.LoadInt64(&m.receivedBytes),
	}

	if err := m.writeFailedLog(summary); err != nil {
		m.progress(ProgressEvent{Message: fmt.Sprintf("Error writing failed.log: %v", err), Level: LevelWarning})
	}

	return summary, nil
}

// Progress returns how many songs finished, how many exist in total and
// the number of payload bytes received so far.
func (m *Manager) Progress() (done, total int32, bytes int64) {
	return atomic.LoadInt32(&m.doneGroups), atomic.LoadInt32(&m.totalGroups), atomic.LoadInt64(&m.receivedBytes)
}

// Outcomes returns a copy of the outcomes recorded so far.
func (m *Manager) Outcomes() []model.Outcome {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Outcome, len(m.outcomes))
	copy(out, m.outcomes)
	return out
}

// processGroup runs the full pipeline for one song and records exactly
// one Outcome for it.
func (m *Manager) processGroup(ctx context.Context, group *model.EntryGroup) {
	dir := filepath.Join(m.settings.OutputDir, group.DirName)

	if err := ctx.Err(); err != nil {
		m.record(model.Outcome{DirName: group.DirName, URL: group.BaseURL, Status: model.StatusFailed, Stage: model.StageResolve, Reason: "cancelled"})
		return
	}

	if m.settings.LevelFilter != "" && group.Level != m.settings.LevelFilter {
		m.record(model.Outcome{DirName: group.DirName, URL: group.BaseURL, Status: model.StatusSkipped, Reason: "level " + group.Level + " filtered out"})
		return
	}

	if m.settings.SkipExisting {
		if done := m.finishExisting(ctx, dir); done {
			m.progress(ProgressEvent{Message: fmt.Sprintf("Skipping existing: %s", group.DirName), Level: LevelVerbose})
			m.record(model.Outcome{DirName: group.DirName, URL: group.BaseURL, Status: model.StatusSkipped, Reason: "already downloaded", OutputPath: dir})
			return
		}
	}

	if group.BaseURL == "" && len(group.DiffURLs) == 0 {
		m.record(model.Outcome{DirName: group.DirName, Status: model.StatusFailed, Stage: model.StageResolve, Reason: "entry has no download URL"})
		return
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		m.record(model.Outcome{DirName: group.DirName, URL: group.BaseURL, Status: model.StatusFailed, Stage: model.StageFetch, Reason: err.Error()})
		return
	}

	if group.BaseURL != "" {
		m.progress(ProgressEvent{Message: fmt.Sprintf("Processing %s", group.DirName), Level: LevelVerbose})
		if stage, err := m.processBase(ctx, group.BaseURL, dir); err != nil {
			os.RemoveAll(dir)
			m.progress(ProgressEvent{Message: fmt.Sprintf("Failed %s: %v", group.DirName, err), Level: LevelError})
			m.record(model.Outcome{DirName: group.DirName, URL: group.BaseURL, Status: model.StatusFailed, Stage: stage, Reason: err.Error()})
			return
		}
	}

	if m.settings.IncludeDiffs {
		for _, diffURL := range group.DiffURLs {
			if err := m.processDiff(ctx, diffURL, dir); err != nil {
				// A broken diff never fails the song.
				m.progress(ProgressEvent{Message: fmt.Sprintf("Diff failed for %s (%s): %v", group.DirName, diffURL, err), Level: LevelWarning})
			}
		}
	}

	found, err := normalize.ContainsChartFiles(dir)
	if err == nil && !found {
		os.RemoveAll(dir)
		outcome := model.Outcome{DirName: group.DirName, URL: group.BaseURL, Status: model.StatusFailed, Stage: model.StageNormalize, Reason: "archive contains no chart files"}
		if group.BaseURL == "" {
			// Diff-only song: nothing landed at all.
			outcome.URL = group.DiffURLs[0]
			outcome.Stage = model.StageFetch
			outcome.Reason = "no diff chart could be downloaded"
		}
		m.progress(ProgressEvent{Message: fmt.Sprintf("Failed %s: %s", group.DirName, outcome.Reason), Level: LevelError})
		m.record(outcome)
		return
	}

	m.progress(ProgressEvent{Message: fmt.Sprintf("Done: %s", group.DirName), Level: LevelSuccess})
	m.record(model.Outcome{DirName: group.DirName, URL: group.BaseURL, Status: model.StatusSucceeded, OutputPath: dir})
}

// processBase downloads and unpacks the song's main archive into dir.
// It reports the pipeline stage a failure happened in.
func (m *Manager) processBase(ctx context.Context, rawURL, dir string) (model.Stage, error) {
	target, err := m.resolver.Resolve(ctx, rawURL)
	if err != nil {
		return model.StageResolve, err
	}

	archivePath, err := m.fetchWithRetries(ctx, target.URL, dir)
	if err != nil {
		return model.StageFetch, err
	}

	if err := m.unpack(ctx, archivePath, dir); err != nil {
		return model.StageExtract, err
	}
	return model.StageNormalize, nil
}

// processDiff downloads one diff and merges its charts into dir. Diffs
// are either bare chart files or small archives.
func (m *Manager) processDiff(ctx context.Context, rawURL, dir string) error {
	target, err := m.resolver.Resolve(ctx, rawURL)
	if err != nil {
		return err
	}

	staging, err := os.MkdirTemp(dir, ".diff-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(staging)

	path, err := m.fetchWithRetries(ctx, target.URL, staging)
	if err != nil {
		return err
	}

	format, err := archive.Detect(path)
	if err != nil {
		return err
	}
	if format == archive.FormatUnknown {
		if !normalize.IsChartFile(path) {
			return fmt.Errorf("diff is neither an archive nor a chart file")
		}
		// A single chart file: merge it directly.
		if _, err := normalize.MergeCharts(staging, dir); err != nil {
			return err
		}
		return nil
	}

	extracted := filepath.Join(staging, "unpacked")
	if err := archive.ExtractTo(ctx, path, extracted); err != nil {
		return err
	}
	if err := normalize.Flatten(extracted); err != nil {
		return err
	}
	_, err = normalize.MergeCharts(extracted, dir)
	return err
}

// unpack extracts archivePath into dir via a hidden staging directory,
// flattens wrapper folders, then moves the content up and removes both
// the staging directory and the archive.
func (m *Manager) unpack(ctx context.Context, archivePath, dir string) error {
	staging := filepath.Join(dir, "."+filepath.Base(archivePath)+"_extracted")
	if err := os.RemoveAll(staging); err != nil {
		return err
	}

	if err := archive.ExtractTo(ctx, archivePath, staging); err != nil {
		return err
	}
	if err := normalize.Flatten(staging); err != nil {
		return err
	}
	if err := moveChildren(staging, dir); err != nil {
		return err
	}
	if err := os.RemoveAll(staging); err != nil {
		return err
	}
	return os.Remove(archivePath)
}

// moveChildren renames every entry of src into dst. Entries that
// already exist in dst are left alone.
func moveChildren(src, dst string) error {
	children, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	for _, child := range children {
		from := filepath.Join(src, child.Name())
		to := filepath.Join(dst, child.Name())
		if _, err := os.Stat(to); err == nil {
			continue
		}
		if err := os.Rename(from, to); err != nil {
			return err
		}
	}
	return nil
}

// finishExisting reports whether dir already holds a playable song.
// Archives left behind by an interrupted run are unpacked first; a
// directory that still has no chart files afterwards is removed so the
// song is downloaded again.
func (m *Manager) finishExisting(ctx context.Context, dir string) bool {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if isHTMLFile(path) {
			// Error pages saved under archive names by older runs.
			os.Remove(path)
			continue
		}
		format, err := archive.Detect(path)
		if err != nil || format == archive.FormatUnknown {
			continue
		}
		if err := m.unpack(ctx, path, dir); err != nil {
			m.progress(ProgressEvent{Message: fmt.Sprintf("Error unpacking leftover archive %s: %v", path, err), Level: LevelWarning})
		}
	}

	found, err := normalize.ContainsChartFiles(dir)
	if err != nil || !found {
		os.RemoveAll(dir)
		return false
	}
	return true
}

// isHTMLFile reports whether the file starts with HTML markup.
func isHTMLFile(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	head := make([]byte, 512)
	n, _ := io.ReadFull(f, head)
	return archive.IsHTML(head[:n])
}

// fetchWithRetries downloads url into destDir, retrying transient
// failures with exponential backoff.
func (m *Manager) fetchWithRetries(ctx context.Context, url, destDir string) (string, error) {
	var path string
	var err error

	attempts := m.settings.DownloadMaxRetries
	if attempts < 1 {
		attempts = 1
	}
	for tries := 0; tries < attempts; tries++ {
		path, err = m.fetchFile(ctx, url, destDir)
		if err == nil {
			return path, nil
		}
		if ctx.Err() != nil || !retryable(err) {
			break
		}
		m.progress(ProgressEvent{Message: fmt.Sprintf("Retry %d/%d for %s: %v", tries+1, attempts, url, err), Level: LevelWarning})
		m.waitForRetry(ctx, tries)
	}

	return "", err
}

// retryable reports whether a download error is worth another attempt.
// Permanent HTTP statuses and HTML payloads never get better.
func retryable(err error) bool {
	var statusErr *httpclient.StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Temporary()
	}
	if errors.Is(err, errHTMLPayload) {
		return false
	}
	return true
}

func (m *Manager) waitForRetry(ctx context.Context, tries int) {
	cooldown := m.settings.DownloadRetryCooldown * math.Pow(m.settings.DownloadRetryExponent, float64(tries))
	select {
	case <-ctx.Done():
	case <-time.After(time.Duration(cooldown * float64(time.Second))):
	}
}

func (m *Manager) record(outcome model.Outcome) {
	m.mu.Lock()
	m.outcomes = append(m.outcomes, outcome)
	m.mu.Unlock()
}

func (m *Manager) progress(event ProgressEvent) {
	if m.onProgress != nil {
		m.onProgress(event)
	}
}
