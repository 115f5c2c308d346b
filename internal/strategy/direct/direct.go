// Package direct implements the lightweight extraction strategy: plain HTTP
// requests through the SOCKS proxy, with rotating user agents and bounded
// circuit rotation when a block is detected.
package direct

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/papertrawl/papertrawl/internal/metrics"
	"github.com/papertrawl/papertrawl/internal/scholar"
)

// Config controls the direct strategy.
type Config struct {
	// BaseURL is the search endpoint; defaults to scholar.DefaultBaseURL.
	BaseURL string
	// ProxyURL routes requests through the anonymizing proxy when set,
	// e.g. "socks5://127.0.0.1:9050".
	ProxyURL string
	// UserAgents is the pool rotated across requests.
	UserAgents []string
	// Timeout bounds each HTTP request.
	Timeout time.Duration
	// Policy holds the pacing and retry tuning.
	Policy scholar.Policy
}

var defaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) Gecko/20100101 Firefox/121.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Safari/605.1.15",
}

// Strategy implements scholar.Strategy over a colly collector. Instances are
// per job run; Run may only be invoked once at a time.
type Strategy struct {
	cfg     Config
	policy  scholar.Policy
	rotator scholar.Rotator
	logger  *zap.Logger
	base    *colly.Collector
	pacer   *scholar.Pacer
	stats   scholar.Stats
	uaIndex atomic.Uint64

	// sleep is swappable in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// New builds a direct Strategy. rotator may be nil, which disables rotation
// and makes the first confirmed block terminal for the run.
func New(cfg Config, rotator scholar.Rotator, logger *zap.Logger) (*Strategy, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = scholar.DefaultBaseURL
	}
	if len(cfg.UserAgents) == 0 {
		cfg.UserAgents = defaultUserAgents
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	pol := cfg.Policy.WithDefaults()

	base := colly.NewCollector(colly.Async(false))
	base.IgnoreRobotsTxt = true
	base.WithTransport(newHTTPTransport())
	base.SetRequestTimeout(cfg.Timeout)
	if cfg.ProxyURL != "" {
		if err := base.SetProxy(cfg.ProxyURL); err != nil {
			return nil, fmt.Errorf("set proxy: %w", err)
		}
	}

	return &Strategy{
		cfg:     cfg,
		policy:  pol,
		rotator: rotator,
		logger:  logger,
		base:    base,
		pacer:   scholar.NewPacer(pol.MinRequestDelay, pol.RequestJitter),
		sleep:   scholar.SleepCtx,
	}, nil
}

// Name implements scholar.Strategy.
func (s *Strategy) Name() string { return "direct" }

// Available implements scholar.Strategy. The direct strategy has no external
// runtime requirement beyond the network.
func (s *Strategy) Available() bool { return true }

// Stats implements scholar.Strategy.
func (s *Strategy) Stats() scholar.StatsSnapshot { return s.stats.Snapshot() }

// Run implements scholar.Strategy by driving the shared decomposition with
// this strategy as the page fetcher.
func (s *Strategy) Run(ctx context.Context, spec scholar.SearchSpec, cp scholar.Checkpoint, cb scholar.Callbacks) ([]scholar.Record, error) {
	p := &scholar.Paginator{
		Name:    s.Name(),
		Fetcher: s,
		Policy:  s.policy,
		Logger:  s.logger,
		Sleep:   s.sleep,
	}
	out, err := p.Run(ctx, spec, cp, cb)
	if err != nil {
		return out, err
	}
	if len(out) == 0 && cp.Count == 0 {
		return out, scholar.NoResults(s.Name())
	}
	return out, nil
}

// FetchPage implements scholar.PageFetcher. On a confirmed block it rotates
// the circuit and retries the same page, up to the policy's rotation budget;
// a block that survives the full budget is returned as KindBlocked.
func (s *Strategy) FetchPage(ctx context.Context, req scholar.PageRequest) ([]scholar.Record, error) {
	pageURL := scholar.SearchURL(s.cfg.BaseURL, req.Query, req.Offset, req.YearLow, req.YearHigh)

	rotations := 0
	for {
		if err := s.pacer.Wait(ctx); err != nil {
			return nil, err
		}
		page, err := s.fetchOnce(ctx, pageURL)
		s.pacer.Done()
		if err != nil {
			s.stats.Failure()
			metrics.ObserveRequest(s.Name(), "error")
			return nil, err
		}
		if !scholar.BlockSignal(page.url, page.status, page.body) {
			records, perr := scholar.ParseResults(page.body)
			if perr != nil {
				s.stats.Failure()
				metrics.ObserveRequest(s.Name(), "error")
				return nil, fmt.Errorf("parse page at offset %d: %w", req.Offset, perr)
			}
			s.stats.Success()
			metrics.ObserveRequest(s.Name(), "ok")
			return records, nil
		}

		metrics.ObserveBlock(s.Name())
		if s.rotator == nil || rotations >= s.policy.RotationAttempts {
			s.stats.Failure()
			metrics.ObserveRequest(s.Name(), "blocked")
			return nil, scholar.Blocked(s.Name(), fmt.Errorf("block persisted after %d rotations at offset %d", rotations, req.Offset))
		}
		rotations++
		metrics.ObserveRotation("reactive")
		s.logger.Warn("block detected, rotating circuit",
			zap.Int("offset", req.Offset),
			zap.Int("rotation", rotations),
			zap.Int("rotation_budget", s.policy.RotationAttempts),
		)
		if rerr := s.rotator.Rotate(ctx); rerr != nil {
			// A failed rotation still consumes an attempt; the wait below
			// gives the previous circuit time to cool off either way.
			s.logger.Warn("circuit rotation failed", zap.Error(rerr))
		}
		if serr := s.sleep(ctx, s.policy.RotationWait); serr != nil {
			return nil, serr
		}
	}
}

type fetchedPage struct {
	url    string
	status int
	body   []byte
}

func (s *Strategy) fetchOnce(ctx context.Context, pageURL string) (fetchedPage, error) {
	var (
		page     fetchedPage
		fetchErr error
	)
	collector := s.base.Clone()
	collector.UserAgent = s.nextUserAgent()
	collector.SetRequestTimeout(s.cfg.Timeout)

	collector.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept-Language", "en-US,en;q=0.9")
	})
	collector.OnResponse(func(r *colly.Response) {
		page = fetchedPage{
			url:    r.Request.URL.String(),
			status: r.StatusCode,
			body:   append([]byte(nil), r.Body...),
		}
	})
	collector.OnError(func(r *colly.Response, err error) {
		// Colly reports non-2xx statuses here. A real response body is still
		// a page we must inspect for block markers; only transport failures
		// become errors.
		if r != nil && r.StatusCode != 0 {
			page = fetchedPage{
				url:    r.Request.URL.String(),
				status: r.StatusCode,
				body:   append([]byte(nil), r.Body...),
			}
			return
		}
		fetchErr = err
	})

	if err := s.runCollector(ctx, collector, pageURL, &fetchErr, &page); err != nil {
		return fetchedPage{}, err
	}
	return page, nil
}

func (s *Strategy) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error, page *fetchedPage) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil && page.status == 0 {
			return fmt.Errorf("visit failed: %w", err)
		}
		if *fetchErr != nil && page.status == 0 {
			return fmt.Errorf("response failed: %w", *fetchErr)
		}
		return nil
	}
}

func (s *Strategy) nextUserAgent() string {
	i := s.uaIndex.Add(1) - 1
	return s.cfg.UserAgents[int(i)%len(s.cfg.UserAgents)]
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

var _ scholar.Strategy = (*Strategy)(nil)
var _ scholar.PageFetcher = (*Strategy)(nil)
