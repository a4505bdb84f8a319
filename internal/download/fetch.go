package download

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/PuerkitoBio/goquery"
	"github.com/nekoshiro/bmstable-downloader/internal/archive"
	httpclient "github.com/nekoshiro/bmstable-downloader/internal/http"
	"github.com/nekoshiro/bmstable-downloader/internal/model"
)

// errHTMLPayload marks a response that served an HTML page where a file
// was expected. Share hosts do this for expired or removed files while
// still answering 200.
var errHTMLPayload = errors.New("received an HTML page instead of a file")

// htmlSniffLimit bounds how much of an HTML payload is read while
// looking for a Google Drive confirmation form.
const htmlSniffLimit = 2 << 20

// fetchFile performs one download attempt of url into destDir and
// returns the path of the downloaded file. The file is written to a
// hidden temp name and renamed only once the body is complete, so an
// interrupted run never leaves a truncated file under the final name.
func (m *Manager) fetchFile(ctx context.Context, url, destDir string) (string, error) {
	return m.fetch(ctx, url, destDir, true)
}

func (m *Manager) fetch(ctx context.Context, fetchURL, destDir string, allowConfirm bool) (string, error) {
	resp, err := m.client.Do(ctx, fetchURL)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body := bufio.NewReader(resp.Body)
	head, _ := body.Peek(512)
	if archive.IsHTML(head) {
		if !allowConfirm {
			return "", errHTMLPayload
		}
		page, _ := io.ReadAll(io.LimitReader(body, htmlSniffLimit))
		confirmURL, err := driveConfirmURL(string(page), resp.Request.URL)
		if err != nil {
			return "", errHTMLPayload
		}
		// Large Google Drive files answer with a virus-scan
		// confirmation page first; follow its form exactly once.
		return m.fetch(ctx, confirmURL, destDir, false)
	}

	filename := filenameFor(resp.Header.Get("Content-Disposition"), resp.Request.URL)

	tmp := filepath.Join(destDir, "."+filename+".tmp")
	out, err := os.Create(tmp)
	if err != nil {
		return "", err
	}

	var prev int64
	pw := &httpclient.ProgressWriter{
		Writer: out,
		Total:  resp.ContentLength,
		OnUpdate: func(written, total int64) {
			atomic.AddInt64(&m.receivedBytes, written-prev)
			prev = written
		},
	}
	_, err = io.Copy(pw, body)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		// The retry re-downloads these bytes; take them back out of
		// the total.
		atomic.AddInt64(&m.receivedBytes, -prev)
		os.Remove(tmp)
		return "", err
	}

	final := filepath.Join(destDir, filename)
	if err := os.Rename(tmp, final); err != nil {
		atomic.AddInt64(&m.receivedBytes, -prev)
		os.Remove(tmp)
		return "", err
	}
	return final, nil
}

// filenameFor derives the local filename for a download: the
// Content-Disposition filename when present, the last URL path segment
// otherwise. The result is sanitized for the filesystem.
func filenameFor(disposition string, u *url.URL) string {
	name := ""
	if disposition != "" {
		if _, params, err := mime.ParseMediaType(disposition); err == nil {
			name = params["filename"]
		}
	}
	if name == "" && u != nil {
		segment := path.Base(u.Path)
		if segment != "/" && segment != "." {
			if unescaped, err := url.PathUnescape(segment); err == nil {
				segment = unescaped
			}
			name = segment
		}
	}
	name = model.SanitizeName(name)
	if name == "" {
		name = "download"
	}
	return name
}

// driveConfirmURL extracts the download URL from a Google Drive
// confirmation page: the form#download-form action plus its hidden
// inputs as query parameters.
func driveConfirmURL(html string, pageURL *url.URL) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", err
	}

	form := doc.Find("form#download-form").First()
	if form.Length() == 0 {
		return "", fmt.Errorf("no download confirmation form")
	}

	action, ok := form.Attr("action")
	if !ok || action == "" {
		return "", fmt.Errorf("confirmation form has no action")
	}

	actionURL, err := url.Parse(action)
	if err != nil {
		return "", err
	}
	if pageURL != nil {
		actionURL = pageURL.ResolveReference(actionURL)
	}

	q := actionURL.Query()
	form.Find(`input[type="hidden"]`).Each(func(_ int, input *goquery.Selection) {
		name, _ := input.Attr("name")
		value, _ := input.Attr("value")
		if name != "" {
			q.Set(name, value)
		}
	})
	actionURL.RawQuery = q.Encode()

	return actionURL.String(), nil
}
