// Package collyfetcher implements the page fetcher using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/vinmonopol-crawler/internal/crawler"
	"github.com/JakeFAU/vinmonopol-crawler/internal/metrics"
)

// SubscriptionKeyHeader carries the catalog API key on every request.
const SubscriptionKeyHeader = "Ocp-Apim-Subscription-Key"

// Config controls collector behavior.
type Config struct {
	// BaseURL is the site root product pages live under (<BaseURL>/p/<id>).
	BaseURL       string
	UserAgent     string
	APIKey        string
	RespectRobots bool
	Timeout       time.Duration
	// Transport overrides the HTTP transport, mainly for tests.
	Transport http.RoundTripper
}

// Fetcher implements crawler.Fetcher and crawler.PageGetter using the Colly
// collector. It performs a single attempt per call; retries belong to the
// caller.
type Fetcher struct {
	cfg           Config
	baseURL       *url.URL
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher.
func New(cfg Config) (*Fetcher, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	transport := cfg.Transport
	if transport == nil {
		transport = newHTTPTransport()
	}

	// Retries revisit the same URL. Clones share the backend, so the
	// transport and timeout are set once here.
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.WithTransport(transport)
	c.SetRequestTimeout(cfg.Timeout)

	return &Fetcher{
		cfg:           cfg,
		baseURL:       base,
		baseCollector: c,
	}, nil
}

// ProductURL returns the detail page address for id.
func (f *Fetcher) ProductURL(id crawler.ProductID) string {
	return f.baseURL.JoinPath("p", id.String()).String()
}

// Fetch retrieves the detail page for one product identifier.
func (f *Fetcher) Fetch(ctx context.Context, id crawler.ProductID) (crawler.RawPage, error) {
	page, err := f.Get(ctx, f.ProductURL(id))
	page.ID = id
	return page, err
}

// Get executes a single HTTP GET with the fixed header set.
func (f *Fetcher) Get(ctx context.Context, target string) (crawler.RawPage, error) {
	var (
		result   crawler.RawPage
		fetchErr error
	)
	start := time.Now()
	collector := f.buildCollector(start, &result, &fetchErr)

	err := f.runCollector(ctx, collector, target, &fetchErr)
	if err != nil {
		// After a cancellation the visit may still be writing result.
		metrics.ObserveFetch(target, errorStatus(err), 0, time.Since(start))
		return crawler.RawPage{URL: target}, err
	}
	metrics.ObserveFetch(target, result.StatusCode, len(result.Body), time.Since(start))
	return result, nil
}

func (f *Fetcher) buildCollector(start time.Time, result *crawler.RawPage, fetchErr *error) *colly.Collector {
	collector := f.baseCollector.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.IgnoreRobotsTxt = !f.cfg.RespectRobots

	f.configureCollectorHooks(collector, start, result, fetchErr)
	return collector
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	start time.Time,
	result *crawler.RawPage,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		f.applyHeaders(r)
	})

	hooks.OnResponse(func(r *colly.Response) {
		page := crawler.RawPage{
			StatusCode: r.StatusCode,
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
		if r.Request != nil && r.Request.URL != nil {
			page.URL = r.Request.URL.String()
		}
		if r.Headers != nil {
			page.Headers = r.Headers.Clone()
		}
		*result = page
	})

	hooks.OnError(func(r *colly.Response, err error) {
		*fetchErr = classifyError(r, err)
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, target string, fetchErr *error) error {
	if err := ctx.Err(); err != nil {
		return &crawler.TransportError{URL: target, Err: err}
	}

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(target)
	}()

	select {
	case <-ctx.Done():
		return &crawler.TransportError{URL: target, Err: ctx.Err()}
	case err := <-done:
		if *fetchErr != nil {
			return withURL(*fetchErr, target)
		}
		if err != nil {
			return fmt.Errorf("colly visit %s: %w", target, err)
		}
		return nil
	}
}

func (f *Fetcher) applyHeaders(r *colly.Request) {
	if f.cfg.UserAgent != "" {
		r.Headers.Set("User-Agent", f.cfg.UserAgent)
	}
	if f.cfg.APIKey != "" {
		r.Headers.Set(SubscriptionKeyHeader, f.cfg.APIKey)
	}
}

// classifyError maps a colly error callback into the crawler error taxonomy.
// A response carrying a status code is an HTTP failure; anything else never
// produced a response.
func classifyError(r *colly.Response, err error) error {
	if r != nil && r.StatusCode != 0 {
		return &crawler.HTTPStatusError{StatusCode: r.StatusCode}
	}
	if errors.Is(err, colly.ErrRobotsTxtBlocked) {
		return fmt.Errorf("robots.txt disallows fetch: %w", err)
	}
	return &crawler.TransportError{Err: err}
}

func withURL(err error, target string) error {
	var statusErr *crawler.HTTPStatusError
	if errors.As(err, &statusErr) && statusErr.URL == "" {
		statusErr.URL = target
	}
	var transportErr *crawler.TransportError
	if errors.As(err, &transportErr) && transportErr.URL == "" {
		transportErr.URL = target
	}
	return err
}

// errorStatus is the status label for a failed fetch: the HTTP status when
// one was received, zero otherwise.
func errorStatus(err error) int {
	var statusErr *crawler.HTTPStatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode
	}
	return 0
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
		MaxIdleConnsPerHost:   64,
		IdleConnTimeout:       90 * time.Second,
	}
}
