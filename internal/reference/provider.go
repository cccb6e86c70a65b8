// Package reference fetches the daily reference passage from a configured
// web source.
package reference

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/book-expert/logger"
)

// The URL may embed {date}; it is replaced with the run date so sources
// with per-day pages work alongside plain verse-of-the-day endpoints.
const datePlaceholder = "{date}"

const defaultTimeout = 10 * time.Second

// Provider fetches and extracts the daily passage. All failures downgrade
// to an empty string: a missing reference text must never fail a pipeline
// run.
type Provider struct {
	httpClient *http.Client
	url        string
	selector   string
	log        *logger.Logger
}

// New creates a Provider for the given source URL and CSS selector.
func New(url, selector string, timeout time.Duration, log *logger.Logger) *Provider {
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Provider{
		httpClient: &http.Client{Timeout: timeout},
		url:        url,
		selector:   selector,
		log:        log,
	}
}

// Fetch returns the passage for the given date, or "" if the source is
// unavailable or the page yields nothing under the selector.
func (p *Provider) Fetch(ctx context.Context, date time.Time) string {
	url := strings.ReplaceAll(p.url, datePlaceholder, date.Format("2006-01-02"))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		p.log.Warn("Failed to build reference text request: %v", err)

		return ""
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		p.log.Warn("Failed to fetch reference text from %s: %v", url, err)

		return ""
	}

	defer func() {
		closeErr := resp.Body.Close()
		if closeErr != nil {
			p.log.Warn("Failed to close reference text response body: %v", closeErr)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		p.log.Warn("Reference text source returned status %s", resp.Status)

		return ""
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		p.log.Warn("Failed to parse reference text page: %v", err)

		return ""
	}

	text := strings.TrimSpace(doc.Find(p.selector).First().Text())
	if text == "" {
		p.log.Warn("Reference text selector '%s' matched nothing at %s", p.selector, url)
	}

	return text
}
