// Package collyfetcher implements catalog.Fetcher using gocolly.
package collyfetcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/crawlkit/catalog-crawler/internal/policy/ratelimit"
	"github.com/crawlkit/catalog-crawler/internal/policy/simple"
)

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
	// Limiter, when set, gates requests per host before each fetch.
	Limiter *ratelimit.Limiter
	// Policy, when set, rejects URLs outside the allowed hosts.
	Policy *simple.Policy
	// Transport overrides the HTTP transport, mainly for tests.
	Transport http.RoundTripper
}

// ErrBlockedByPolicy marks URLs the fetch policy refuses.
var ErrBlockedByPolicy = errors.New("blocked by fetch policy")

// Fetcher issues single-page GETs through a Colly collector and parses
// the body into a goquery document. Any transport error, timeout, or
// non-2xx status comes back as an error the pipeline treats as "no
// content".
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
	logger        *zap.Logger
}

// New builds a Fetcher.
func New(cfg Config, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true
	// Clones share the visited-URL storage; retried and redelivered
	// tasks must be able to fetch the same URL again.
	c.AllowURLRevisit = true

	transport := cfg.Transport
	if transport == nil {
		transport = newHTTPTransport()
	}
	c.WithTransport(transport)

	return &Fetcher{
		cfg:           cfg,
		baseCollector: c,
		logger:        logger,
	}
}

// Fetch executes one HTTP GET and returns the parsed document.
func (f *Fetcher) Fetch(ctx context.Context, url string) (*goquery.Document, error) {
	if f.cfg.Policy != nil && !f.cfg.Policy.AllowFetch(url) {
		f.logger.Warn("fetch refused", zap.String("url", url))
		return nil, fmt.Errorf("fetch %s: %w", url, ErrBlockedByPolicy)
	}
	if f.cfg.Limiter != nil {
		if err := f.cfg.Limiter.Wait(ctx, url); err != nil {
			return nil, fmt.Errorf("fetch %s: %w", url, err)
		}
	}

	var (
		body       []byte
		statusCode int
		fetchErr   error
	)

	collector := f.baseCollector.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	timeout := f.cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	collector.SetRequestTimeout(timeout)

	collector.OnResponse(func(r *colly.Response) {
		statusCode = r.StatusCode
		body = append([]byte(nil), r.Body...)
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil {
			statusCode = r.StatusCode
		}
		fetchErr = err
	})

	if err := f.runCollector(ctx, collector, url); err != nil {
		f.logger.Warn("fetch failed", zap.String("url", url), zap.Error(err))
		return nil, err
	}
	if fetchErr != nil {
		f.logger.Warn("fetch failed",
			zap.String("url", url),
			zap.Int("status", statusCode),
			zap.Error(fetchErr),
		)
		return nil, fmt.Errorf("fetch %s: %w", url, fetchErr)
	}
	if statusCode < 200 || statusCode >= 300 {
		f.logger.Warn("fetch returned non-2xx", zap.String("url", url), zap.Int("status", statusCode))
		return nil, fmt.Errorf("fetch %s: unexpected status %d", url, statusCode)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", url, err)
	}
	return doc, nil
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("visit %s: %w", url, err)
		}
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
