package resolve

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	httpclient "github.com/nekoshiro/bmstable-downloader/internal/http"
)

// Resolution failure reasons. All are per-entry failures, never fatal to
// the run.
var (
	// ErrDepthExceeded is returned when a resolution chain exceeds the
	// configured hop count, guarding against redirect loops between
	// providers.
	ErrDepthExceeded = errors.New("resolution depth exceeded")

	// ErrCycle is returned when a chain revisits a URL it has already
	// resolved.
	ErrCycle = errors.New("resolution cycle detected")

	// ErrNoLink is returned when neither static scraping nor the
	// rendered-page fallback surfaces a download link.
	ErrNoLink = errors.New("no download link found")

	// ErrUnsupportedHost is returned for hosts the resolver knows it
	// cannot handle (e.g. mega.nz, which requires the encryption API).
	ErrUnsupportedHost = errors.New("unsupported hosting service")
)

// Target is the outcome of resolving one source URL: a directly
// fetchable URL plus the original URL it was derived from.
type Target struct {
	URL      string
	Original string
}

// Renderer is the rendered-page capability: it returns the fully
// rendered HTML of a URL as an owned string. Implementations live
// outside this package (see internal/browser).
type Renderer interface {
	Render(ctx context.Context, url string) (string, error)
}

// Resolver resolves entry source URLs to fetchable archive URLs.
type Resolver struct {
	client        *httpclient.Client
	renderer      Renderer
	maxDepth      int
	renderTimeout time.Duration

	// mirrorHosts are the hosts treated as mirror index pages that must
	// be scraped for the real link.
	mirrorHosts []string
}

// NewResolver creates a Resolver.
//
// renderer may be nil, in which case the rendered-page fallback is
// disabled and pages without static links fail with ErrNoLink.
func NewResolver(client *httpclient.Client, renderer Renderer, maxDepth int, renderTimeout time.Duration) *Resolver {
	if maxDepth <= 0 {
		maxDepth = 5
	}
	return &Resolver{
		client:        client,
		renderer:      renderer,
		maxDepth:      maxDepth,
		renderTimeout: renderTimeout,
		mirrorHosts:   []string{"manbow.nothing.sh"},
	}
}

func (r *Resolver) isMirrorHost(host string) bool {
	for _, h := range r.mirrorHosts {
		if host == h {
			return true
		}
	}
	return false
}

// Resolve turns rawURL into a fetchable Target.
//
// Resolution may recurse when a provider page links to another provider;
// the chain is bounded by the configured hop count and a visited set.
func (r *Resolver) Resolve(ctx context.Context, rawURL string) (Target, error) {
	return r.resolve(ctx, rawURL, 0, make(map[string]struct{}))
}

func (r *Resolver) resolve(ctx context.Context, rawURL string, depth int, visited map[string]struct{}) (Target, error) {
	if depth >= r.maxDepth {
		return Target{}, fmt.Errorf("%w (%d hops) at %s", ErrDepthExceeded, r.maxDepth, rawURL)
	}
	if _, seen := visited[rawURL]; seen {
		return Target{}, fmt.Errorf("%w at %s", ErrCycle, rawURL)
	}
	visited[rawURL] = struct{}{}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return Target{}, fmt.Errorf("invalid source URL %q: %w", rawURL, err)
	}

	host := parsed.Hostname()
	switch {
	case host == "drive.google.com":
		return resolveGoogleDrive(parsed, rawURL)
	case host == "dropbox.com" || host == "www.dropbox.com" || host == "dl.dropboxusercontent.com":
		return resolveDropbox(parsed, rawURL), nil
	case r.isMirrorHost(host):
		return r.resolveMirrorIndex(ctx, parsed, rawURL, depth, visited)
	case host == "mega.nz":
		return Target{}, fmt.Errorf("%w: %s (encryption API required)", ErrUnsupportedHost, host)
	default:
		// Anything else is assumed to be a direct byte stream.
		return Target{URL: rawURL, Original: rawURL}, nil
	}
}

// resolveGoogleDrive rewrites a Drive share link to the direct download
// endpoint. The file ID appears either as /file/d/{id} in the path or as
// an id query parameter.
func resolveGoogleDrive(parsed *url.URL, original string) (Target, error) {
	fileID := ""
	if _, rest, ok := strings.Cut(parsed.Path, "/file/d/"); ok {
		fileID, _, _ = strings.Cut(rest, "/")
	}
	if fileID == "" {
		fileID = parsed.Query().Get("id")
	}
	if fileID == "" {
		return Target{}, fmt.Errorf("%w: could not extract Google Drive file ID from %s", ErrNoLink, original)
	}

	return Target{
		URL:      "https://drive.google.com/uc?export=download&id=" + url.QueryEscape(fileID) + "&confirm=t",
		Original: original,
	}, nil
}

// resolveDropbox forces the dl=1 query parameter so the share page
// answers with the file instead of a preview.
func resolveDropbox(parsed *url.URL, original string) Target {
	direct := *parsed
	q := direct.Query()
	q.Set("dl", "1")
	direct.RawQuery = q.Encode()

	return Target{URL: direct.String(), Original: original}
}

// resolveMirrorIndex scrapes a mirror index page for a download link.
// Direct archive links win; hosting-service links are resolved
// recursively. If static markup exposes nothing, the rendered-page
// fallback is tried.
func (r *Resolver) resolveMirrorIndex(ctx context.Context, base *url.URL, original string, depth int, visited map[string]struct{}) (Target, error) {
	html, err := r.client.GetString(ctx, original)
	if err != nil {
		return Target{}, fmt.Errorf("failed to fetch mirror page %s: %w", original, err)
	}

	if target, next, found := pickCandidate(extractLinks(html, base)); found {
		if next == "" {
			return Target{URL: target, Original: original}, nil
		}
		return r.resolve(ctx, next, depth+1, visited)
	}

	// Fallback: JS-rendered DOM via the Renderer capability. The
	// rendered HTML is an owned string by the time it reaches us, so
	// recursing afterwards is safe.
	if r.renderer == nil {
		return Target{}, fmt.Errorf("%w on mirror page %s", ErrNoLink, original)
	}

	renderCtx := ctx
	if r.renderTimeout > 0 {
		var cancel context.CancelFunc
		renderCtx, cancel = context.WithTimeout(ctx, r.renderTimeout)
		defer cancel()
	}

	rendered, err := r.renderer.Render(renderCtx, original)
	if err != nil {
		return Target{}, fmt.Errorf("%w on mirror page %s (render fallback failed: %v)", ErrNoLink, original, err)
	}

	if target, next, found := pickCandidate(extractLinks(rendered, base)); found {
		if next == "" {
			return Target{URL: target, Original: original}, nil
		}
		return r.resolve(ctx, next, depth+1, visited)
	}

	return Target{}, fmt.Errorf("%w on mirror page %s (static and rendered)", ErrNoLink, original)
}
