package mirror

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jobgrid/scrape-service/internal/storage/memory"
)

const pdfBody = "%PDF-1.7 fake document body"

func pdfServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write([]byte(pdfBody))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func enabledConfig() Config {
	return Config{Enabled: true, MaxBytes: 1 << 20, Timeout: 5 * time.Second}
}

func TestCacheStoresPDF(t *testing.T) {
	t.Parallel()

	srv := pdfServer(t)
	blobs := memory.NewBlobStore()
	m := New(enabledConfig(), blobs, nil, zap.NewNop())

	got := m.Cache(context.Background(), srv.URL+"/ads/offer.pdf")
	require.NotEmpty(t, got)
	require.True(t, strings.HasPrefix(got, "memory://job-ads/"))
	require.Equal(t, 1, blobs.Len())
}

func TestCachePathIsStablePerURL(t *testing.T) {
	t.Parallel()

	srv := pdfServer(t)
	blobs := memory.NewBlobStore()
	m := New(enabledConfig(), blobs, nil, zap.NewNop())

	url := srv.URL + "/ads/offer.pdf"
	first := m.Cache(context.Background(), url)
	second := m.Cache(context.Background(), url)
	require.Equal(t, first, second)
	require.Equal(t, 1, blobs.Len())
}

func TestCacheDisabledReturnsEmpty(t *testing.T) {
	t.Parallel()

	m := New(Config{Enabled: false}, memory.NewBlobStore(), nil, zap.NewNop())
	require.Empty(t, m.Cache(context.Background(), "https://a.example/doc.pdf"))
}

func TestCacheRejectsNonPDFContent(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html>not a pdf</html>"))
	}))
	t.Cleanup(srv.Close)

	blobs := memory.NewBlobStore()
	m := New(enabledConfig(), blobs, nil, zap.NewNop())

	require.Empty(t, m.Cache(context.Background(), srv.URL+"/doc.pdf"))
	require.Zero(t, blobs.Len())
}

func TestCacheSkipsNonPDFLookingPaths(t *testing.T) {
	t.Parallel()

	m := New(enabledConfig(), memory.NewBlobStore(), nil, zap.NewNop())
	require.Empty(t, m.Cache(context.Background(), "https://a.example/listing.html"))
}

func TestCacheRejectsDeclaredOversize(t *testing.T) {
	t.Parallel()

	srv := pdfServer(t)
	blobs := memory.NewBlobStore()
	cfg := enabledConfig()
	cfg.MaxBytes = 5
	m := New(cfg, blobs, nil, zap.NewNop())

	// Content-Length exceeds the ceiling, so the body is never read.
	require.Empty(t, m.Cache(context.Background(), srv.URL+"/big.pdf"))
	require.Zero(t, blobs.Len())
}

func TestCacheRejectsStreamedOversize(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		// Flush forces chunked encoding so no Content-Length is declared.
		w.(http.Flusher).Flush()
		_, _ = w.Write([]byte("%PDF-" + strings.Repeat("x", 100)))
	}))
	t.Cleanup(srv.Close)

	blobs := memory.NewBlobStore()
	cfg := enabledConfig()
	cfg.MaxBytes = 50
	m := New(cfg, blobs, nil, zap.NewNop())

	require.Empty(t, m.Cache(context.Background(), srv.URL+"/chunked.pdf"))
	require.Zero(t, blobs.Len())
}

func TestCacheRejectsBadStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	t.Cleanup(srv.Close)

	m := New(enabledConfig(), memory.NewBlobStore(), nil, zap.NewNop())
	require.Empty(t, m.Cache(context.Background(), srv.URL+"/gone.pdf"))
}

func TestObjectPathShape(t *testing.T) {
	t.Parallel()

	srv := pdfServer(t)
	blobs := memory.NewBlobStore()
	m := New(enabledConfig(), blobs, nil, zap.NewNop())

	got := m.Cache(context.Background(), srv.URL+"/ads/Senior%20Engineer.pdf")
	require.NotEmpty(t, got)
	// prefix/host/stem-hash16.pdf, all lowercased and sanitized.
	rest := strings.TrimPrefix(got, "memory://")
	parts := strings.Split(rest, "/")
	require.Len(t, parts, 3)
	require.Equal(t, "job-ads", parts[0])
	require.Equal(t, strings.ToLower(rest), rest)
	require.True(t, strings.HasSuffix(parts[2], ".pdf"))
}
