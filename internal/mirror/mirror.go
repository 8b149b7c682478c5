// Package mirror caches remote job-ad documents into durable object storage.
package mirror

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/jobgrid/scrape-service/internal/hash/sha256"
	"github.com/jobgrid/scrape-service/internal/metrics"
	"github.com/jobgrid/scrape-service/internal/storage"
)

// pdfMagic is the signature every well-formed PDF starts with.
var pdfMagic = []byte("%PDF-")

// Config bounds a single cache attempt.
type Config struct {
	Enabled		bool
	PathPrefix	string
	MaxBytes	int64
	Timeout		time.Duration
	// CacheTTL bounds the redis lookaside entries; zero disables expiry.
	CacheTTL time.Duration
}

const (
	defaultMaxBytes	= 10 << 20 // 10 MiB
	defaultTimeout	= 20 * time.Second
	maxStemLength	= 48
)

// Mirror downloads remote PDFs under size/time bounds and uploads them into
// object storage under a content-derived path. It never returns an error:
// every failure degrades to an empty URL so the caller can fall back to
// linking the original document.
type Mirror struct {
	cfg	Config
	blobs	storage.BlobStore
	client	*http.Client
	cache	redis.UniversalClient
	hasher	*sha256.Hasher
	logger	*zap.Logger
}

// New constructs a Mirror. cache may be nil to disable the lookaside.
func New(cfg Config, blobs storage.BlobStore, cache redis.UniversalClient, logger *zap.Logger) *Mirror {
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = defaultMaxBytes
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.PathPrefix == "" {
		cfg.PathPrefix = "job-ads"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Mirror{
		cfg:	cfg,
		blobs:	blobs,
		client:	&http.Client{Timeout: cfg.Timeout},
		cache:	cache,
		hasher:	sha256.New(),
		logger:	logger,
	}
}

// Cache mirrors pdfURL into object storage and returns the public URL, or ""
// when disabled or on any failure. Repeated calls for the same URL target
// the same object path, so re-caching is idempotent.
func (m *Mirror) Cache(ctx context.Context, pdfURL string) string {
	if m == nil || !m.cfg.Enabled || m.blobs == nil {
		return ""
	}
	pdfURL = strings.TrimSpace(pdfURL)
	parsed, err := url.Parse(pdfURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Hostname() == "" {
		metrics.ObservePDFCache("skipped")
		return ""
	}
	if !looksLikePDF(parsed.Path) {
		metrics.ObservePDFCache("skipped")
		return ""
	}

	objectPath := m.objectPath(parsed)

	if cached := m.lookaside(ctx, objectPath); cached != "" {
		metrics.ObservePDFCache("hit")
		return cached
	}

	data, contentType, err := m.download(ctx, pdfURL)
	if err != nil {
		m.warn(pdfURL, objectPath, err)
		return ""
	}
	if !isPDF(contentType, data) {
		m.warn(pdfURL, objectPath, fmt.Errorf("content is not a pdf (content-type %q)", contentType))
		return ""
	}

	publicURL, err := m.blobs.PutObject(ctx, objectPath, "application/pdf", data)
	if err != nil {
		m.warn(pdfURL, objectPath, err)
		return ""
	}
	m.remember(ctx, objectPath, publicURL)
	metrics.ObservePDFCache("stored")
	return publicURL
}

// download fetches the document under the configured timeout and byte
// ceiling. The ceiling is enforced twice: via Content-Length before the body
// is read, and via a limited reader in case the header is missing or lying.
func (m *Mirror) download(ctx context.Context, pdfURL string) ([]byte, string, error) {
	reqCtx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, pdfURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build request: %w", err)
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetch document: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if resp.ContentLength > m.cfg.MaxBytes {
		return nil, "", fmt.Errorf("declared size %d exceeds limit %d", resp.ContentLength, m.cfg.MaxBytes)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, m.cfg.MaxBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("read body: %w", err)
	}
	if int64(len(data)) > m.cfg.MaxBytes {
		return nil, "", fmt.Errorf("body exceeds limit %d", m.cfg.MaxBytes)
	}
	return data, resp.Header.Get("Content-Type"), nil
}

// objectPath builds prefix/sanitized-host/sanitized-stem-{sha256(url)[:16]}.pdf.
// The hash makes the path stable per URL, which is the dedup key.
func (m *Mirror) objectPath(u *url.URL) string {
	host := sanitizeSegment(strings.ToLower(u.Hostname()))
	stem := strings.TrimSuffix(path.Base(u.Path), path.Ext(u.Path))
	stem = sanitizeSegment(strings.ToLower(stem))
	if stem == "" || stem == "." || stem == "/" {
		stem = "document"
	}
	if len(stem) > maxStemLength {
		stem = stem[:maxStemLength]
	}
	digest := m.hasher.Hash([]byte(u.String()))[:16]
	return fmt.Sprintf("%s/%s/%s-%s.pdf", strings.Trim(m.cfg.PathPrefix, "/"), host, stem, digest)
}

func (m *Mirror) lookaside(ctx context.Context, objectPath string) string {
	if m.cache == nil {
		return ""
	}
	val, err := m.cache.Get(ctx, lookasideKey(objectPath)).Result()
	if err != nil {
		return ""
	}
	return val
}

func (m *Mirror) remember(ctx context.Context, objectPath, publicURL string) {
	if m.cache == nil {
		return
	}
	// Best effort: a failed set only costs a re-download next run.
	if err := m.cache.Set(ctx, lookasideKey(objectPath), publicURL, m.cfg.CacheTTL).Err(); err != nil {
		m.logger.Debug("pdf cache lookaside set failed", zap.Error(err))
	}
}

func (m *Mirror) warn(pdfURL, objectPath string, err error) {
	metrics.ObservePDFCache("failed")
	m.logger.Warn("pdf cache attempt failed",
		zap.String("url", pdfURL),
		zap.String("path", objectPath),
		zap.Error(err),
	)
}

func lookasideKey(objectPath string) string {
	return "pdfcache:" + objectPath
}

// looksLikePDF accepts .pdf paths and extensionless paths (some ad servers
// hand out PDFs from bare download endpoints).
func looksLikePDF(p string) bool {
	ext := strings.ToLower(path.Ext(p))
	return ext == "" || ext == ".pdf"
}

func isPDF(contentType string, data []byte) bool {
	if strings.Contains(strings.ToLower(contentType), "application/pdf") {
		return true
	}
	return bytes.HasPrefix(data, pdfMagic)
}

var segmentSanitizer = regexp.MustCompile(`[^a-z0-9._-]+`)

func sanitizeSegment(s string) string {
	s = segmentSanitizer.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}
