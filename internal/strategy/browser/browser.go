// Package browser implements the heavyweight extraction strategy: a real
// headless browser driven over the DevTools protocol, with automation
// fingerprints suppressed. It is slower than the direct strategy but survives
// defenses that key on non-browser clients.
package browser

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/papertrawl/papertrawl/internal/metrics"
	"github.com/papertrawl/papertrawl/internal/scholar"
)

// resultsSelector is the container the result list renders into. Its absence
// after a successful navigation means an empty page, not a failure.
const resultsSelector = "#gs_res_ccl_mid"

// Config controls the browser strategy.
type Config struct {
	// BaseURL is the search endpoint; defaults to scholar.DefaultBaseURL.
	BaseURL string
	// ProxyURL routes the browser through the anonymizing proxy when set.
	ProxyURL string
	// UserAgent overrides the browser's default when set.
	UserAgent string
	// Headless toggles headless mode. Visible mode exists for debugging.
	Headless bool
	// NavTimeout bounds a single navigation including render.
	NavTimeout time.Duration
	// ResultsWait bounds the wait for the results container after navigation.
	ResultsWait time.Duration
	// ScreenshotDir stores block screenshots when set. Only the most recent
	// screenshot per job is kept.
	ScreenshotDir string
	// JobID labels screenshots; empty is fine for ad-hoc runs.
	JobID string
	// Policy holds the pacing and retry tuning.
	Policy scholar.Policy
}

// Strategy implements scholar.Strategy using chromedp. Instances are per job
// run and hold the proactive-rotation request counter, so two jobs never
// share one.
type Strategy struct {
	cfg     Config
	policy  scholar.Policy
	rotator scholar.Rotator
	logger  *zap.Logger
	limiter *rate.Limiter
	stats   scholar.Stats

	allocOnce   sync.Once
	allocator   context.Context
	allocCancel context.CancelFunc

	requests int
	lastShot string

	// sleep is swappable in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// New builds a browser Strategy. The browser process is not started until the
// first page fetch.
func New(cfg Config, rotator scholar.Rotator, logger *zap.Logger) *Strategy {
	if cfg.BaseURL == "" {
		cfg.BaseURL = scholar.DefaultBaseURL
	}
	if cfg.NavTimeout <= 0 {
		cfg.NavTimeout = 45 * time.Second
	}
	if cfg.ResultsWait <= 0 {
		cfg.ResultsWait = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	pol := cfg.Policy.WithDefaults()

	var limiter *rate.Limiter
	if pol.MinRequestDelay > 0 {
		limiter = rate.NewLimiter(rate.Every(pol.MinRequestDelay), 1)
	}

	return &Strategy{
		cfg:     cfg,
		policy:  pol,
		rotator: rotator,
		logger:  logger,
		limiter: limiter,
		sleep:   scholar.SleepCtx,
	}
}

// Close shuts down the browser process, if one was started.
func (s *Strategy) Close() {
	if s.allocCancel != nil {
		s.allocCancel()
	}
}

// Name implements scholar.Strategy.
func (s *Strategy) Name() string { return "browser" }

// Available reports whether a usable browser binary is on PATH.
func (s *Strategy) Available() bool {
	_, ok := findBrowser()
	return ok
}

// Stats implements scholar.Strategy.
func (s *Strategy) Stats() scholar.StatsSnapshot { return s.stats.Snapshot() }

// Run implements scholar.Strategy by driving the shared decomposition with
// this strategy as the page fetcher.
func (s *Strategy) Run(ctx context.Context, spec scholar.SearchSpec, cp scholar.Checkpoint, cb scholar.Callbacks) ([]scholar.Record, error) {
	defer s.Close()
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

// FetchPage implements scholar.PageFetcher. The browser rotates proactively
// every ProactiveRotateEvery requests and reactively on confirmed blocks,
// with the same bounded budget as the direct strategy.
func (s *Strategy) FetchPage(ctx context.Context, req scholar.PageRequest) ([]scholar.Record, error) {
	pageURL := scholar.SearchURL(s.cfg.BaseURL, req.Query, req.Offset, req.YearLow, req.YearHigh)

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("pace wait: %w", err)
		}
	}
	if err := s.maybeProactiveRotate(ctx); err != nil {
		return nil, err
	}
	s.requests++

	rotations := 0
	for {
		result, err := s.navigate(ctx, pageURL)
		if err != nil {
			s.stats.Failure()
			metrics.ObserveRequest(s.Name(), "error")
			return nil, err
		}
		if !scholar.BlockSignal(result.finalURL, result.status, []byte(result.html)) {
			if !result.hasResults {
				s.stats.Success()
				metrics.ObserveRequest(s.Name(), "ok")
				return nil, nil
			}
			records, perr := scholar.ParseResults([]byte(result.html))
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
		s.captureBlock(req, rotations, result.screenshot)
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
			s.logger.Warn("circuit rotation failed", zap.Error(rerr))
		}
		if serr := s.sleep(ctx, s.policy.RotationWait); serr != nil {
			return nil, serr
		}
	}
}

func (s *Strategy) maybeProactiveRotate(ctx context.Context) error {
	every := s.policy.ProactiveRotateEvery
	if every <= 0 || s.rotator == nil || s.requests == 0 || s.requests%every != 0 {
		return nil
	}
	s.logger.Info("proactive circuit rotation", zap.Int("requests", s.requests))
	metrics.ObserveRotation("proactive")
	if err := s.rotator.Rotate(ctx); err != nil {
		s.logger.Warn("proactive rotation failed", zap.Error(err))
		return nil
	}
	return s.sleep(ctx, s.policy.StabilizeWait)
}

type navResult struct {
	html       string
	finalURL   string
	status     int
	hasResults bool
	screenshot []byte
}

func (s *Strategy) navigate(ctx context.Context, pageURL string) (navResult, error) {
	if err := s.ensureAllocator(); err != nil {
		return navResult{}, err
	}

	tabCtx, tabCancel := chromedp.NewContext(s.allocator)
	defer tabCancel()
	tabCtx, cancel := context.WithTimeout(tabCtx, s.cfg.NavTimeout)
	defer cancel()
	// Honor the caller's cancellation alongside the navigation deadline.
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	var result navResult
	actions := []chromedp.Action{
		s.stealthAction(),
		chromedp.Navigate(pageURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	}
	if err := chromedp.Run(tabCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return navResult{}, fmt.Errorf("navigation canceled: %w", ctx.Err())
		}
		return navResult{}, fmt.Errorf("navigate %s: %w", pageURL, err)
	}

	result.hasResults = s.waitForResults(tabCtx)

	capture := []chromedp.Action{
		chromedp.Location(&result.finalURL),
		chromedp.OuterHTML("html", &result.html, chromedp.ByQuery),
	}
	if s.cfg.ScreenshotDir != "" {
		capture = append(capture, chromedp.CaptureScreenshot(&result.screenshot))
	}
	if err := chromedp.Run(tabCtx, capture...); err != nil {
		return navResult{}, fmt.Errorf("capture page: %w", err)
	}
	return result, nil
}

// waitForResults waits briefly for the result container. Absence is an
// ordinary empty page; the caller still checks for block markers.
func (s *Strategy) waitForResults(tabCtx context.Context) bool {
	waitCtx, cancel := context.WithTimeout(tabCtx, s.cfg.ResultsWait)
	defer cancel()
	err := chromedp.Run(waitCtx, chromedp.WaitVisible(resultsSelector, chromedp.ByID))
	return err == nil
}

func (s *Strategy) ensureAllocator() error {
	s.allocOnce.Do(func() {
		opts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", s.cfg.Headless),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("hide-scrollbars", true),
			chromedp.Flag("enable-automation", false),
			chromedp.Flag("disable-blink-features", "AutomationControlled"),
			chromedp.WindowSize(1920, 1080),
		)
		if s.cfg.ProxyURL != "" {
			opts = append(opts, chromedp.ProxyServer(s.cfg.ProxyURL))
		}
		if s.cfg.UserAgent != "" {
			opts = append(opts, chromedp.UserAgent(s.cfg.UserAgent))
		}
		s.allocator, s.allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
	})
	if s.allocator == nil {
		return fmt.Errorf("browser allocator not initialized")
	}
	return nil
}

// stealthAction removes the most common automation tells before any page
// script runs.
func (s *Strategy) stealthAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		const script = `
Object.defineProperty(navigator, 'webdriver', {get: () => undefined});
Object.defineProperty(navigator, 'languages', {get: () => ['en-US', 'en']});
Object.defineProperty(navigator, 'plugins', {get: () => [1, 2, 3, 4, 5]});
`
		_, err := page.AddScriptToEvaluateOnNewDocument(script).Do(ctx)
		if err != nil {
			return fmt.Errorf("install stealth script: %w", err)
		}
		return nil
	})
}

// captureBlock writes a screenshot of the blocked page and drops the previous
// one for this job. Failures are logged, never surfaced.
func (s *Strategy) captureBlock(req scholar.PageRequest, attempt int, shot []byte) {
	if s.cfg.ScreenshotDir == "" || len(shot) == 0 {
		return
	}
	if err := os.MkdirAll(s.cfg.ScreenshotDir, 0o755); err != nil {
		s.logger.Warn("create screenshot dir", zap.Error(err))
		return
	}
	name := screenshotName(s.cfg.JobID, req.Year, pageNumber(req.Offset, s.policy.PageSize), attempt)
	path := filepath.Join(s.cfg.ScreenshotDir, name)
	if err := os.WriteFile(path, shot, 0o644); err != nil {
		s.logger.Warn("write screenshot", zap.String("path", path), zap.Error(err))
		return
	}
	if s.lastShot != "" && s.lastShot != path {
		_ = os.Remove(s.lastShot)
	}
	s.lastShot = path
	s.logger.Debug("block screenshot saved", zap.String("path", path))
}

// pageNumber converts a record offset to a 1-based page number.
func pageNumber(offset, pageSize int) int {
	if pageSize <= 0 {
		return 1
	}
	return offset/pageSize + 1
}

func screenshotName(jobID string, year, pageNum, attempt int) string {
	if jobID == "" {
		jobID = "adhoc"
	}
	return fmt.Sprintf("job_%s_y%d_p%d_a%d.png", jobID, year, pageNum, attempt)
}

// browserCandidates are binaries probed for availability, in order.
var browserCandidates = []string{
	"google-chrome",
	"google-chrome-stable",
	"chromium",
	"chromium-browser",
	"headless-shell",
}

func findBrowser() (string, bool) {
	for _, name := range browserCandidates {
		if path, err := exec.LookPath(name); err == nil {
			return path, true
		}
	}
	return "", false
}

var _ scholar.Strategy = (*Strategy)(nil)
var _ scholar.PageFetcher = (*Strategy)(nil)
