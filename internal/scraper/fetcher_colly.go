package scraper

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
)

// collyFetcher retrieves listing pages over plain HTTP via Colly.
type collyFetcher struct {
	baseCollector	*colly.Collector
	logger		*zap.Logger
}

func newCollyFetcher(cfg Config, logger *zap.Logger) (*collyFetcher, error) {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 2
	}

	opts := []colly.CollectorOption{
		colly.Async(true),
	}
	if cfg.UserAgent != "" {
		opts = append(opts, colly.UserAgent(cfg.UserAgent))
	}
	base := colly.NewCollector(opts...)
	base.AllowURLRevisit = true
	base.WithTransport(&http.Transport{
		Proxy:			http.ProxyFromEnvironment,
		MaxIdleConns:		64,
		MaxIdleConnsPerHost:	16,
		MaxConnsPerHost:	cfg.Parallelism * 2,
		IdleConnTimeout:	30 * time.Second,
		TLSHandshakeTimeout:	10 * time.Second,
		ResponseHeaderTimeout:	cfg.RequestTimeout,
		ForceAttemptHTTP2:	true,
	})
	base.SetRequestTimeout(cfg.RequestTimeout)

	if err := base.Limit(&colly.LimitRule{
		DomainGlob:	"*",
		Parallelism:	cfg.Parallelism,
		Delay:		time.Second,
	}); err != nil {
		return nil, err
	}

	return &collyFetcher{baseCollector: base, logger: logger}, nil
}

// Fetch retrieves a page body via a clone of the base collector.
func (f *collyFetcher) Fetch(ctx context.Context, rawURL string) (string, error) {
	collector := f.baseCollector.Clone()
	resultCh := make(chan fetchResult, 1)
	var once sync.Once
	send := func(res fetchResult) {
		once.Do(func() {
			resultCh <- res
		})
	}

	collector.OnResponse(func(r *colly.Response) {
		send(fetchResult{body: string(r.Body)})
	})
	collector.OnError(func(r *colly.Response, err error) {
		if err == nil {
			err = errors.New("unknown colly error")
		}
		if r != nil && r.StatusCode != 0 {
			err = fmt.Errorf("status %d: %w", r.StatusCode, err)
		}
		send(fetchResult{err: err})
	})

	if err := collector.Visit(rawURL); err != nil {
		return "", err
	}
	collector.Wait()

	select {
	case res := <-resultCh:
		if err := ctx.Err(); err != nil {
			return "", err
		}
		return res.body, res.err
	default:
		return "", errors.New("colly fetch produced no result")
	}
}

type fetchResult struct {
	body	string
	err	error
}
