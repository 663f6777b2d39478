// Package linkcheck probes smart link destinations and reports whether each
// URL still resolves to a live page about the expected recording. The
// dashboard surfaces the results as per-platform link health.
package linkcheck

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/JovieInc/jovie/internal/links"
	"github.com/JovieInc/jovie/internal/provider"
)

const (
	requestTimeout = 10 * time.Second
	userAgent      = "Jovie/1.0 (https://github.com/JovieInc/jovie)"

	// Titles live in <head>; half a megabyte covers even script-heavy
	// platform pages without pulling whole documents into memory.
	maxBodyBytes = 512 << 10
)

// Result records the outcome of probing one destination.
type Result struct {
	Provider   provider.Key `json:"provider"`
	URL        string       `json:"url"`
	Status     int          `json:"status"`
	Healthy    bool         `json:"healthy"`
	PageTitle  string       `json:"page_title,omitempty"`
	TitleMatch bool         `json:"title_match"`
	Error      string       `json:"error,omitempty"`
	CheckedAt  time.Time    `json:"checked_at"`
}

// Checker fetches link destinations over HTTP.
type Checker struct {
	client *http.Client
	logger *slog.Logger
}

// NewChecker creates a checker with a default HTTP client. Redirects are
// followed so shortened and region-bounced URLs verify against the final page.
func NewChecker(logger *slog.Logger) *Checker {
	return NewCheckerWithHTTPClient(&http.Client{Timeout: requestTimeout}, logger)
}

// NewCheckerWithHTTPClient creates a checker using the provided HTTP client.
func NewCheckerWithHTTPClient(client *http.Client, logger *slog.Logger) *Checker {
	return &Checker{
		client: client,
		logger: logger.With(slog.String("component", "linkcheck")),
	}
}

// Check probes a single destination. Transport failures are reported in the
// result rather than returned, so a dead link still produces a row.
func (c *Checker) Check(ctx context.Context, key provider.Key, rawURL, wantTitle string) Result {
	res := Result{Provider: key, URL: rawURL, CheckedAt: time.Now().UTC()}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html")

	resp, err := c.client.Do(req)
	if err != nil {
		res.Error = err.Error()
		c.logger.Warn("link unreachable",
			slog.String("provider", string(key)),
			slog.String("url", rawURL),
			slog.Any("error", err))
		return res
	}
	defer resp.Body.Close() //nolint:errcheck

	res.Status = resp.StatusCode
	res.Healthy = resp.StatusCode >= 200 && resp.StatusCode < 300
	if !res.Healthy {
		io.Copy(io.Discard, resp.Body) //nolint:errcheck
		return res
	}

	res.PageTitle = pageTitle(io.LimitReader(resp.Body, maxBodyBytes))
	if wantTitle != "" && res.PageTitle != "" {
		res.TitleMatch = links.TitleContains(res.PageTitle, wantTitle)
	}
	return res
}

// CheckAll probes each link in turn and returns results in input order.
// A canceled context stops the sweep; links not yet probed are omitted.
func (c *Checker) CheckAll(ctx context.Context, linkSet []links.DSPLink, wantTitle string) []Result {
	results := make([]Result, 0, len(linkSet))
	for _, l := range linkSet {
		if ctx.Err() != nil {
			break
		}
		results = append(results, c.Check(ctx, l.Provider, l.URL, wantTitle))
	}
	return results
}

// pageTitle extracts the page title from an HTML document, preferring the
// og:title meta tag over the <title> element. Platforms put the clean
// recording title in og:title and decorate <title> with site branding.
func pageTitle(r io.Reader) string {
	z := html.NewTokenizer(r)
	var title string
	for {
		switch z.Next() {
		case html.ErrorToken:
			return title
		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			switch string(name) {
			case "meta":
				var prop, content string
				for hasAttr {
					var k, v []byte
					k, v, hasAttr = z.TagAttr()
					switch string(k) {
					case "property", "name":
						prop = string(v)
					case "content":
						content = string(v)
					}
				}
				if prop == "og:title" && content != "" {
					return strings.TrimSpace(content)
				}
			case "title":
				if z.Next() == html.TextToken {
					title = strings.TrimSpace(string(z.Text()))
				}
			case "body":
				// Nothing below the head is of interest.
				return title
			}
		}
	}
}
