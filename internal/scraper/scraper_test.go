package scraper

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jobgrid/scrape-service/internal/jobs"
)

const listingHTML = `<!DOCTYPE html>
<html><body>
<ul id="jobs">
  <li class="job">
    <h2 class="title"> Senior Go Engineer </h2>
    <span class="company">ACME GmbH</span>
    <span class="location">Berlin, Germany</span>
    <p class="desc">Build distributed systems.</p>
    <a class="detail" href="/jobs/123">Details</a>
    <a class="pdf" href="/ads/123.pdf">PDF</a>
    <time class="posted">2026-08-20</time>
  </li>
  <li class="job">
    <h2 class="title">Data Engineer</h2>
    <span class="company"></span>
    <span class="location">Remote</span>
    <p class="desc">Pipelines.</p>
    <a class="detail" href="https://other.example/jobs/456">Details</a>
  </li>
  <li class="job">
    <h2 class="title">No Link Role</h2>
  </li>
</ul>
</body></html>`

func testSelectors() jobs.SourceSelectors {
	return jobs.SourceSelectors{
		Item:		"li.job",
		Title:		"h2.title",
		Company:	"span.company",
		Location:	"span.location",
		Description:	"p.desc",
		Link:		"a.detail",
		PDFLink:	"a.pdf",
		PostedAt:	"time.posted",
	}
}

func newTestScraper(t *testing.T, renderer Renderer) *SiteScraper {
	t.Helper()
	s, err := New(Config{
		UserAgent:	"test-agent",
		RequestTimeout:	5 * time.Second,
		Parallelism:	1,
	}, renderer, zap.NewNop())
	require.NoError(t, err)
	return s
}

func TestScrapeExtractsRows(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(listingHTML))
	}))
	t.Cleanup(srv.Close)

	s := newTestScraper(t, nil)
	rows, err := s.Scrape(context.Background(), jobs.SourceConfig{
		Name:		"test-board",
		URL:		srv.URL + "/listing",
		Selectors:	testSelectors(),
	})
	require.NoError(t, err)
	// The item without a link is dropped.
	require.Len(t, rows, 2)

	first := rows[0]
	require.Equal(t, "Senior Go Engineer", first.Title)
	require.Equal(t, "ACME GmbH", first.Company)
	require.Equal(t, "Berlin, Germany", first.Location)
	require.Equal(t, "Build distributed systems.", first.Description)
	// Relative links resolve against the listing URL.
	require.Equal(t, srv.URL+"/jobs/123", first.SourceURL)
	require.Equal(t, srv.URL+"/ads/123.pdf", first.PDFURL)
	require.Equal(t, time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC), first.PostedAt)

	second := rows[1]
	require.Equal(t, "Data Engineer", second.Title)
	// Absolute links pass through untouched.
	require.Equal(t, "https://other.example/jobs/456", second.SourceURL)
	require.Empty(t, second.PDFURL)
	require.True(t, second.PostedAt.IsZero())
}

func TestScrapeUnparseableDateIsDropped(t *testing.T) {
	t.Parallel()

	html := `<div class="job"><a class="detail" href="/j/1">x</a><time class="posted">yesterday</time></div>`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(html))
	}))
	t.Cleanup(srv.Close)

	sel := jobs.SourceSelectors{Item: "div.job", Link: "a.detail", PostedAt: "time.posted"}
	s := newTestScraper(t, nil)
	rows, err := s.Scrape(context.Background(), jobs.SourceConfig{Name: "b", URL: srv.URL, Selectors: sel})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.True(t, rows[0].PostedAt.IsZero())
}

func TestScrapeCustomDateLayout(t *testing.T) {
	t.Parallel()

	html := `<div class="job"><a class="detail" href="/j/1">x</a><time class="posted">20.08.2026</time></div>`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(html))
	}))
	t.Cleanup(srv.Close)

	sel := jobs.SourceSelectors{Item: "div.job", Link: "a.detail", PostedAt: "time.posted", DateLayout: "02.01.2006"}
	s := newTestScraper(t, nil)
	rows, err := s.Scrape(context.Background(), jobs.SourceConfig{Name: "b", URL: srv.URL, Selectors: sel})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC), rows[0].PostedAt)
}

type staticRenderer struct {
	html	string
	called	bool
}

func (r *staticRenderer) Render(context.Context, string) (string, error) {
	r.called = true
	return r.html, nil
}

func TestScrapeRenderJSUsesRenderer(t *testing.T) {
	t.Parallel()

	renderer := &staticRenderer{html: `<div class="job"><a class="detail" href="https://a.example/j/1">x</a></div>`}
	s := newTestScraper(t, renderer)

	rows, err := s.Scrape(context.Background(), jobs.SourceConfig{
		Name:		"spa-board",
		URL:		"https://a.example/listing",
		RenderJS:	true,
		Selectors:	jobs.SourceSelectors{Item: "div.job", Link: "a.detail"},
	})
	require.NoError(t, err)
	require.True(t, renderer.called)
	require.Len(t, rows, 1)
	require.Equal(t, "https://a.example/j/1", rows[0].SourceURL)
}

func TestScrapeRenderJSWithoutRendererFails(t *testing.T) {
	t.Parallel()

	s := newTestScraper(t, nil)
	_, err := s.Scrape(context.Background(), jobs.SourceConfig{
		Name:		"spa-board",
		URL:		"https://a.example/listing",
		RenderJS:	true,
		Selectors:	jobs.SourceSelectors{Item: "div", Link: "a"},
	})
	require.ErrorIs(t, err, ErrRendererDisabled)
}
