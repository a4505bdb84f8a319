package download

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nekoshiro/bmstable-downloader/internal/config"
	"github.com/nekoshiro/bmstable-downloader/internal/model"
)

func zipBytes(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := io.WriteString(w, content); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// newTableServer starts a server and registers the standard table
// routes. The score body template may use the placeholder URL for the
// server's own base URL.
func newTableServer(t *testing.T, scoreTemplate string) (*httptest.Server, *http.ServeMux) {
	t.Helper()
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	mux.HandleFunc("/table.html", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `<html><head><meta name="bmstable" content="header.json"></head></html>`)
	})
	mux.HandleFunc("/header.json", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"name":"Test Table","symbol":"☆","data_url":"score.json"}`)
	})
	mux.HandleFunc("/score.json", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, strings.ReplaceAll(scoreTemplate, "URL", srv.URL))
	})

	return srv, mux
}

func testSettings(t *testing.T) *config.Settings {
	s := config.DefaultSettings()
	s.OutputDir = t.TempDir()
	s.MaxConcurrentEntries = 4
	s.DownloadMaxRetries = 2
	s.DownloadRetryCooldown = 0.001
	return s
}

func outcomeFor(summary *Summary, dirName string) (model.Outcome, bool) {
	for _, o := range summary.Outcomes {
		if o.DirName == dirName {
			return o, true
		}
	}
	return model.Outcome{}, false
}

func TestRunEndToEnd(t *testing.T) {
	srv, mux := newTableServer(t, `[
		{"title":"Alpha","level":"1","url":"URL/files/alpha.zip","url_diff":"URL/diffs/extra.bms"},
		{"title":"Beta","level":"2","url":"URL/files/missing.zip"}
	]`)
	mux.HandleFunc("/files/alpha.zip", func(w http.ResponseWriter, r *http.Request) {
		w.Write(zipBytes(t, map[string]string{
			"wrapper/chart.bms": "#TITLE Alpha",
			"wrapper/bgm.wav":   "pcm",
		}))
	})
	mux.HandleFunc("/diffs/extra.bms", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "#TITLE Alpha Another")
	})
	mux.HandleFunc("/files/missing.zip", http.NotFound)

	settings := testSettings(t)
	m := NewManager(settings, nil, nil)

	summary, err := m.Run(context.Background(), srv.URL+"/table.html")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	succeeded, skipped, failed := summary.Counts()
	if succeeded != 1 || skipped != 0 || failed != 1 {
		t.Fatalf("counts = %d/%d/%d, want 1/0/1", succeeded, skipped, failed)
	}

	alphaDir := filepath.Join(settings.OutputDir, "☆1_Alpha")

	// The wrapper folder must be flattened away.
	got, err := os.ReadFile(filepath.Join(alphaDir, "chart.bms"))
	if err != nil {
		t.Fatalf("chart.bms: %v", err)
	}
	if string(got) != "#TITLE Alpha" {
		t.Errorf("chart.bms = %q", got)
	}

	// The diff chart is merged in.
	if _, err := os.Stat(filepath.Join(alphaDir, "extra.bms")); err != nil {
		t.Errorf("diff chart missing: %v", err)
	}

	// The archive itself must be cleaned up after extraction.
	if _, err := os.Stat(filepath.Join(alphaDir, "alpha.zip")); !os.IsNotExist(err) {
		t.Error("archive left behind after extraction")
	}

	// The failed song's directory must not survive.
	if _, err := os.Stat(filepath.Join(settings.OutputDir, "☆2_Beta")); !os.IsNotExist(err) {
		t.Error("failed song directory left behind")
	}

	beta, ok := outcomeFor(summary, "☆2_Beta")
	if !ok {
		t.Fatal("no outcome for failed song")
	}
	if beta.Status != model.StatusFailed || beta.Stage != model.StageFetch {
		t.Errorf("beta outcome = %+v", beta)
	}

	// failed.log records the broken URL.
	log, err := os.ReadFile(filepath.Join(settings.OutputDir, FailedLogName))
	if err != nil {
		t.Fatalf("failed.log: %v", err)
	}
	if !strings.Contains(string(log), "/files/missing.zip\t") {
		t.Errorf("failed.log = %q", log)
	}
}

func TestRunSkipExisting(t *testing.T) {
	var zipHits int32
	srv, mux := newTableServer(t, `[
		{"title":"Alpha","level":"1","url":"URL/files/alpha.zip"}
	]`)
	mux.HandleFunc("/files/alpha.zip", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&zipHits, 1)
		w.Write(zipBytes(t, map[string]string{"chart.bms": "#TITLE Alpha"}))
	})

	settings := testSettings(t)
	settings.SkipExisting = true

	first := NewManager(settings, nil, nil)
	if _, err := first.Run(context.Background(), srv.URL+"/table.html"); err != nil {
		t.Fatalf("first run: %v", err)
	}

	second := NewManager(settings, nil, nil)
	summary, err := second.Run(context.Background(), srv.URL+"/table.html")
	if err != nil {
		t.Fatalf("second run: %v", err)
	}

	if _, skipped, _ := summary.Counts(); skipped != 1 {
		t.Errorf("skipped = %d, want 1", skipped)
	}
	if hits := atomic.LoadInt32(&zipHits); hits != 1 {
		t.Errorf("archive fetched %d times, want 1", hits)
	}
}

func TestRunSkipExistingRedownloadsChartlessDir(t *testing.T) {
	srv, mux := newTableServer(t, `[
		{"title":"Alpha","level":"1","url":"URL/files/alpha.zip"}
	]`)
	mux.HandleFunc("/files/alpha.zip", func(w http.ResponseWriter, r *http.Request) {
		w.Write(zipBytes(t, map[string]string{"chart.bms": "#TITLE Alpha"}))
	})

	settings := testSettings(t)
	settings.SkipExisting = true

	// A stale directory without charts must be replaced, not skipped.
	stale := filepath.Join(settings.OutputDir, "☆1_Alpha")
	if err := os.MkdirAll(stale, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(stale, "readme.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	m := NewManager(settings, nil, nil)
	summary, err := m.Run(context.Background(), srv.URL+"/table.html")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if succeeded, skipped, _ := summary.Counts(); succeeded != 1 || skipped != 0 {
		t.Errorf("counts = %d succeeded, %d skipped, want 1/0", succeeded, skipped)
	}
	if _, err := os.Stat(filepath.Join(stale, "chart.bms")); err != nil {
		t.Errorf("chart not downloaded into replaced dir: %v", err)
	}
}

func TestRunHonorsConcurrencyLimit(t *testing.T) {
	srv, mux := newTableServer(t, `[
		{"title":"S1","level":"1","url":"URL/files/s1.zip"},
		{"title":"S2","level":"2","url":"URL/files/s2.zip"},
		{"title":"S3","level":"3","url":"URL/files/s3.zip"},
		{"title":"S4","level":"4","url":"URL/files/s4.zip"},
		{"title":"S5","level":"5","url":"URL/files/s5.zip"},
		{"title":"S6","level":"6","url":"URL/files/s6.zip"}
	]`)

	payload := zipBytes(t, map[string]string{"chart.bms": "#TITLE x"})
	var inFlight, peak int32
	mux.HandleFunc("/files/", func(w http.ResponseWriter, r *http.Request) {
		cur := atomic.AddInt32(&inFlight, 1)
		defer atomic.AddInt32(&inFlight, -1)
		for {
			old := atomic.LoadInt32(&peak)
			if cur <= old || atomic.CompareAndSwapInt32(&peak, old, cur) {
				break
			}
		}
		time.Sleep(30 * time.Millisecond)
		w.Write(payload)
	})

	settings := testSettings(t)
	settings.MaxConcurrentEntries = 2

	m := NewManager(settings, nil, nil)
	summary, err := m.Run(context.Background(), srv.URL+"/table.html")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if succeeded, _, _ := summary.Counts(); succeeded != 6 {
		t.Errorf("succeeded = %d, want 6", succeeded)
	}
	if p := atomic.LoadInt32(&peak); p > 2 {
		t.Errorf("%d downloads in flight at once, limit is 2", p)
	}
}

func TestRunLevelFilter(t *testing.T) {
	srv, mux := newTableServer(t, `[
		{"title":"Alpha","level":"1","url":"URL/files/alpha.zip"},
		{"title":"Beta","level":"2","url":"URL/files/beta.zip"}
	]`)
	for _, route := range []string{"/files/alpha.zip", "/files/beta.zip"} {
		mux.HandleFunc(route, func(w http.ResponseWriter, r *http.Request) {
			w.Write(zipBytes(t, map[string]string{"chart.bms": "#TITLE x"}))
		})
	}

	settings := testSettings(t)
	settings.LevelFilter = "2"

	m := NewManager(settings, nil, nil)
	summary, err := m.Run(context.Background(), srv.URL+"/table.html")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	// Every entry still gets a terminal outcome; the filtered one is
	// Skipped without touching the network.
	if len(summary.Outcomes) != 2 {
		t.Fatalf("outcomes = %d, want 2", len(summary.Outcomes))
	}
	alpha, ok := outcomeFor(summary, "☆1_Alpha")
	if !ok || alpha.Status != model.StatusSkipped {
		t.Errorf("alpha outcome = %+v, want skipped", alpha)
	}
	beta, ok := outcomeFor(summary, "☆2_Beta")
	if !ok || beta.Status != model.StatusSucceeded {
		t.Errorf("beta outcome = %+v, want succeeded", beta)
	}
	if _, err := os.Stat(filepath.Join(settings.OutputDir, "☆1_Alpha")); !os.IsNotExist(err) {
		t.Error("filtered-out song was downloaded")
	}
}

func TestRunNoDiffs(t *testing.T) {
	var diffHits int32
	srv, mux := newTableServer(t, `[
		{"title":"Alpha","level":"1","url":"URL/files/alpha.zip","url_diff":"URL/diffs/extra.bms"}
	]`)
	mux.HandleFunc("/files/alpha.zip", func(w http.ResponseWriter, r *http.Request) {
		w.Write(zipBytes(t, map[string]string{"chart.bms": "#TITLE Alpha"}))
	})
	mux.HandleFunc("/diffs/extra.bms", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&diffHits, 1)
	})

	settings := testSettings(t)
	settings.IncludeDiffs = false

	m := NewManager(settings, nil, nil)
	if _, err := m.Run(context.Background(), srv.URL+"/table.html"); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if hits := atomic.LoadInt32(&diffHits); hits != 0 {
		t.Errorf("diff fetched %d times with diffs disabled", hits)
	}
}

func TestRunBrokenDiffDoesNotFailSong(t *testing.T) {
	srv, mux := newTableServer(t, `[
		{"title":"Alpha","level":"1","url":"URL/files/alpha.zip","url_diff":"URL/diffs/gone.bms"}
	]`)
	mux.HandleFunc("/files/alpha.zip", func(w http.ResponseWriter, r *http.Request) {
		w.Write(zipBytes(t, map[string]string{"chart.bms": "#TITLE Alpha"}))
	})
	mux.HandleFunc("/diffs/gone.bms", http.NotFound)

	settings := testSettings(t)
	m := NewManager(settings, nil, nil)
	summary, err := m.Run(context.Background(), srv.URL+"/table.html")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if succeeded, _, failed := summary.Counts(); succeeded != 1 || failed != 0 {
		t.Errorf("counts = %d succeeded, %d failed, want 1/0", succeeded, failed)
	}
}

func TestRunDiffOnlyAllDiffsFailReportsFailure(t *testing.T) {
	srv, mux := newTableServer(t, `[
		{"title":"Gamma","level":"3","url":"","url_diff":"URL/diffs/gone.bms"}
	]`)
	mux.HandleFunc("/diffs/gone.bms", http.NotFound)

	settings := testSettings(t)
	m := NewManager(settings, nil, nil)
	summary, err := m.Run(context.Background(), srv.URL+"/table.html")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	// A diff-only song where no diff landed is a failure, not a success
	// with an empty directory.
	outcome, ok := outcomeFor(summary, "☆3_Gamma")
	if !ok {
		t.Fatal("no outcome for diff-only song")
	}
	if outcome.Status != model.StatusFailed || outcome.Stage != model.StageFetch {
		t.Errorf("outcome = %+v, want failed at fetch", outcome)
	}
	if _, err := os.Stat(filepath.Join(settings.OutputDir, "☆3_Gamma")); !os.IsNotExist(err) {
		t.Error("empty song directory left behind")
	}
}

func TestRunSkipExistingRemovesHTMLJunk(t *testing.T) {
	var zipHits int32
	srv, mux := newTableServer(t, `[
		{"title":"Alpha","level":"1","url":"URL/files/alpha.zip"}
	]`)
	mux.HandleFunc("/files/alpha.zip", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&zipHits, 1)
		w.Write(zipBytes(t, map[string]string{"chart.bms": "#TITLE Alpha"}))
	})

	settings := testSettings(t)
	settings.SkipExisting = true

	// A complete song dir with an error page saved under an archive
	// name by an older run.
	dir := filepath.Join(settings.OutputDir, "☆1_Alpha")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "chart.bms"), []byte("#TITLE Alpha"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "alpha.zip"), []byte("<html><body>removed</body></html>"), 0644); err != nil {
		t.Fatal(err)
	}

	m := NewManager(settings, nil, nil)
	summary, err := m.Run(context.Background(), srv.URL+"/table.html")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if _, skipped, _ := summary.Counts(); skipped != 1 {
		t.Errorf("skipped = %d, want 1", skipped)
	}
	if hits := atomic.LoadInt32(&zipHits); hits != 0 {
		t.Errorf("archive fetched %d times for a complete song", hits)
	}
	if _, err := os.Stat(filepath.Join(dir, "alpha.zip")); !os.IsNotExist(err) {
		t.Error("HTML junk file left in place")
	}
	if _, err := os.Stat(filepath.Join(dir, "chart.bms")); err != nil {
		t.Errorf("chart removed along with the junk: %v", err)
	}
}

func TestRunRejectsHTMLPayload(t *testing.T) {
	var hits int32
	srv, mux := newTableServer(t, `[
		{"title":"Alpha","level":"1","url":"URL/files/alpha.zip"}
	]`)
	mux.HandleFunc("/files/alpha.zip", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		io.WriteString(w, "<html><body>This file has been removed.</body></html>")
	})

	settings := testSettings(t)
	m := NewManager(settings, nil, nil)
	summary, err := m.Run(context.Background(), srv.URL+"/table.html")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	outcome, ok := outcomeFor(summary, "☆1_Alpha")
	if !ok || outcome.Status != model.StatusFailed || outcome.Stage != model.StageFetch {
		t.Fatalf("outcome = %+v", outcome)
	}
	// An HTML payload is permanent: no retries.
	if got := atomic.LoadInt32(&hits); got != 1 {
		t.Errorf("payload fetched %d times, want 1", got)
	}
}

func TestFetchFollowsDriveConfirmForm(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	payload := zipBytes(t, map[string]string{"chart.bms": "#TITLE big"})
	mux.HandleFunc("/interstitial", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `<html><body>
			<form id="download-form" action="`+srv.URL+`/confirmed" method="get">
				<input type="hidden" name="id" value="FILE123">
				<input type="hidden" name="confirm" value="t">
			</form>
		</body></html>`)
	})
	mux.HandleFunc("/confirmed", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("id") != "FILE123" || r.URL.Query().Get("confirm") != "t" {
			http.Error(w, "missing form params", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Disposition", `attachment; filename="big song.zip"`)
		w.Write(payload)
	})

	settings := testSettings(t)
	m := NewManager(settings, nil, nil)

	dest := t.TempDir()
	path, err := m.fetchFile(context.Background(), srv.URL+"/interstitial", dest)
	if err != nil {
		t.Fatalf("fetchFile: %v", err)
	}
	if filepath.Base(path) != "big song.zip" {
		t.Errorf("filename = %q", filepath.Base(path))
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, payload) {
		t.Error("payload mismatch")
	}
}

func TestFetchHTMLWithoutFormFails(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	mux.HandleFunc("/page", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "<html><body>quota exceeded</body></html>")
	})

	settings := testSettings(t)
	m := NewManager(settings, nil, nil)

	_, err := m.fetchFile(context.Background(), srv.URL+"/page", t.TempDir())
	if !errors.Is(err, errHTMLPayload) {
		t.Errorf("err = %v, want errHTMLPayload", err)
	}
}

func TestFetchLeavesNoPartialFile(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	mux.HandleFunc("/truncated.zip", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "100000")
		w.Write([]byte("PK\x03\x04 only a few bytes"))
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		// Kill the connection mid-body.
		if hj, ok := w.(http.Hijacker); ok {
			conn, _, _ := hj.Hijack()
			conn.Close()
		}
	})

	settings := testSettings(t)
	m := NewManager(settings, nil, nil)

	dest := t.TempDir()
	if _, err := m.fetchFile(context.Background(), srv.URL+"/truncated.zip", dest); err == nil {
		t.Fatal("expected error for truncated body")
	}
	if _, err := os.Stat(filepath.Join(dest, "truncated.zip")); !os.IsNotExist(err) {
		t.Error("truncated file left under its final name")
	}
}

func TestRetriedDownloadCountsBytesOnce(t *testing.T) {
	payload := zipBytes(t, map[string]string{"chart.bms": "#TITLE Alpha"})

	var attempts int32
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	mux.HandleFunc("/files/alpha.zip", func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) == 1 {
			// First attempt dies mid-body.
			w.Header().Set("Content-Length", "100000")
			w.Write(payload[:10])
			if f, ok := w.(http.Flusher); ok {
				f.Flush()
			}
			if hj, ok := w.(http.Hijacker); ok {
				conn, _, _ := hj.Hijack()
				conn.Close()
			}
			return
		}
		w.Write(payload)
	})

	m := NewManager(testSettings(t), nil, nil)
	if _, err := m.fetchWithRetries(context.Background(), srv.URL+"/files/alpha.zip", t.TempDir()); err != nil {
		t.Fatalf("fetchWithRetries: %v", err)
	}

	if got := atomic.LoadInt32(&attempts); got != 2 {
		t.Fatalf("attempts = %d, want 2", got)
	}
	// The failed attempt's partial bytes must not stay in the total.
	if got := atomic.LoadInt64(&m.receivedBytes); got != int64(len(payload)) {
		t.Errorf("receivedBytes = %d, want %d", got, len(payload))
	}
}

func TestFilenameFor(t *testing.T) {
	mustURL := func(raw string) *url.URL {
		u, err := url.Parse(raw)
		if err != nil {
			t.Fatal(err)
		}
		return u
	}

	tests := []struct {
		name        string
		disposition string
		url         string
		want        string
	}{
		{
			name:        "plain filename",
			disposition: `attachment; filename="song.zip"`,
			url:         "https://example.com/dl?id=1",
			want:        "song.zip",
		},
		{
			name:        "rfc 5987 filename",
			disposition: `attachment; filename*=UTF-8''%e3%81%bb%e3%81%92.zip`,
			url:         "https://example.com/dl",
			want:        "ほげ.zip",
		},
		{
			name: "url segment fallback",
			url:  "https://example.com/files/my%20song.rar?dl=1",
			want: "my song.rar",
		},
		{
			name:        "filename with path separators sanitized",
			disposition: `attachment; filename="a/b\c.zip"`,
			url:         "https://example.com/x",
			want:        "a_b_c.zip",
		},
		{
			name: "nothing to go on",
			url:  "https://example.com/",
			want: "download",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := filenameFor(tt.disposition, mustURL(tt.url)); got != tt.want {
				t.Errorf("filenameFor = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSummaryString(t *testing.T) {
	s := &Summary{
		TableName: "Test Table",
		Outcomes: []model.Outcome{
			{Status: model.StatusSucceeded},
			{Status: model.StatusSkipped},
			{Status: model.StatusFailed},
		},
	}
	got := s.String()
	if !strings.Contains(got, "1 succeeded") || !strings.Contains(got, "1 skipped") || !strings.Contains(got, "1 failed") {
		t.Errorf("String() = %q", got)
	}
}
