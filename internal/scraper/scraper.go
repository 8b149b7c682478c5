// Package scraper extracts job postings from configured listing pages.
package scraper

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/jobgrid/scrape-service/internal/jobs"
)

// defaultDateLayout parses posting dates when a source does not set one.
const defaultDateLayout = "2006-01-02"

// Scraper turns one configured source into a batch of posting rows.
type Scraper interface {
	Scrape(ctx context.Context, src jobs.SourceConfig) ([]jobs.PostingRow, error)
}

// Config bounds the HTTP side of a scrape.
type Config struct {
	UserAgent	string
	RequestTimeout	time.Duration
	// Parallelism caps concurrent requests per domain in the fetcher.
	Parallelism int
}

// SiteScraper fetches a listing page (plain HTTP or headless-rendered) and
// pulls rows out of it with the source's CSS selectors.
type SiteScraper struct {
	fetcher		*collyFetcher
	renderer	Renderer
	logger		*zap.Logger
}

// New constructs a SiteScraper. renderer may be nil; sources flagged
// render_js then fail with an explicit error instead of silently
// degrading to the static fetch.
func New(cfg Config, renderer Renderer, logger *zap.Logger) (*SiteScraper, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	fetcher, err := newCollyFetcher(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("build fetcher: %w", err)
	}
	return &SiteScraper{fetcher: fetcher, renderer: renderer, logger: logger}, nil
}

// Scrape fetches the source's listing page and extracts posting rows.
// Rows missing a resolvable link are dropped and logged, not fatal.
func (s *SiteScraper) Scrape(ctx context.Context, src jobs.SourceConfig) ([]jobs.PostingRow, error) {
	base, err := url.Parse(src.URL)
	if err != nil {
		return nil, fmt.Errorf("parse source url %q: %w", src.URL, err)
	}

	html, err := s.fetch(ctx, src)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", src.Name, err)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", src.Name, err)
	}

	return s.extract(doc, base, src), nil
}

func (s *SiteScraper) fetch(ctx context.Context, src jobs.SourceConfig) (string, error) {
	if src.RenderJS {
		if s.renderer == nil {
			return "", ErrRendererDisabled
		}
		return s.renderer.Render(ctx, src.URL)
	}
	return s.fetcher.Fetch(ctx, src.URL)
}

func (s *SiteScraper) extract(doc *goquery.Document, base *url.URL, src jobs.SourceConfig) []jobs.PostingRow {
	sel := src.Selectors
	layout := sel.DateLayout
	if layout == "" {
		layout = defaultDateLayout
	}

	var rows []jobs.PostingRow
	doc.Find(sel.Item).Each(func(i int, item *goquery.Selection) {
		row, ok := s.rowFromSelection(item, base, src, layout)
		if !ok {
			s.logger.Debug("dropped row without link",
				zap.String("source", src.Name),
				zap.Int("index", i),
			)
			return
		}
		rows = append(rows, row)
	})
	return rows
}

// rowFromSelection maps one item node to a posting row. The link selector is
// mandatory because its resolved href is the row's identity.
func (s *SiteScraper) rowFromSelection(item *goquery.Selection, base *url.URL, src jobs.SourceConfig, layout string) (jobs.PostingRow, bool) {
	sel := src.Selectors

	link := resolveHref(item, sel.Link, base)
	if link == "" {
		return jobs.PostingRow{}, false
	}

	row := jobs.PostingRow{
		Title:		text(item, sel.Title),
		Company:	text(item, sel.Company),
		Location:	text(item, sel.Location),
		Description:	text(item, sel.Description),
		SourceURL:	link,
		PDFURL:		resolveHref(item, sel.PDFLink, base),
	}

	if raw := text(item, sel.PostedAt); raw != "" {
		posted, err := time.Parse(layout, raw)
		if err != nil {
			s.logger.Debug("unparseable posting date",
				zap.String("source", src.Name),
				zap.String("value", raw),
				zap.Error(err),
			)
		} else {
			row.PostedAt = posted
		}
	}
	return row, true
}

func text(item *goquery.Selection, selector string) string {
	if selector == "" {
		return ""
	}
	return strings.TrimSpace(item.Find(selector).First().Text())
}

// resolveHref reads the first matching anchor's href and resolves it against
// the listing page URL so relative links come out absolute.
func resolveHref(item *goquery.Selection, selector string, base *url.URL) string {
	if selector == "" {
		return ""
	}
	href, ok := item.Find(selector).First().Attr("href")
	if !ok {
		return ""
	}
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	return base.ResolveReference(ref).String()
}
