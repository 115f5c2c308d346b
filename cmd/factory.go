package cmd

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/papertrawl/papertrawl/internal/circuit"
	"github.com/papertrawl/papertrawl/internal/config"
	"github.com/papertrawl/papertrawl/internal/job"
	"github.com/papertrawl/papertrawl/internal/orchestrator"
	"github.com/papertrawl/papertrawl/internal/scholar"
	"github.com/papertrawl/papertrawl/internal/strategy/browser"
	"github.com/papertrawl/papertrawl/internal/strategy/direct"
)

// buildRotator constructs the circuit controller, or nil when the control
// port is not configured. Without a rotator the strategies cannot recover
// from blocks and fail over to each other faster.
func buildRotator(cfg config.Config, logger *zap.Logger) scholar.Rotator {
	if cfg.Tor.ControlAddr == "" {
		return nil
	}
	return circuit.New(circuit.Config{
		ControlAddr: cfg.Tor.ControlAddr,
		SOCKSAddr:   cfg.Tor.SOCKSAddr,
		Password:    cfg.Tor.ControlPassword,
		CheckURL:    cfg.Tor.CheckURL,
	}, logger.Named("circuit"))
}

// buildSearcherFactory returns the per-job searcher constructor: fresh
// strategy instances behind a fresh orchestrator for every run.
func buildSearcherFactory(cfg config.Config, rotator scholar.Rotator, logger *zap.Logger) (job.SearcherFactory, error) {
	// Fail configuration problems at startup, not at first job.
	if _, err := buildStrategies(cfg, rotator, "startup-probe", logger); err != nil {
		return nil, err
	}
	return func(jobID string) job.Searcher {
		strategies, err := buildStrategies(cfg, rotator, jobID, logger)
		if err != nil {
			// Config was validated at startup; reaching this means the
			// environment changed underneath us.
			logger.Error("strategy construction failed", zap.String("job_id", jobID), zap.Error(err))
			strategies = nil
		}
		return orchestrator.New(strategies, orchestrator.DefaultConfig(), logger.Named("orchestrator"))
	}, nil
}

func buildStrategies(cfg config.Config, rotator scholar.Rotator, jobID string, logger *zap.Logger) ([]scholar.Strategy, error) {
	d, err := direct.New(direct.Config{
		BaseURL:    cfg.Search.BaseURL,
		ProxyURL:   cfg.SOCKSProxyURL(),
		UserAgents: cfg.Search.UserAgents,
		Timeout:    cfg.SearchTimeout(),
		Policy:     cfg.DirectPolicy(),
	}, rotator, logger.Named("direct"))
	if err != nil {
		return nil, fmt.Errorf("build direct strategy: %w", err)
	}

	strategies := []scholar.Strategy{d}
	if cfg.Browser.Enabled {
		b := browser.New(browser.Config{
			BaseURL:       cfg.Search.BaseURL,
			ProxyURL:      cfg.SOCKSProxyURL(),
			UserAgent:     cfg.Browser.UserAgent,
			Headless:      cfg.Browser.Headless,
			NavTimeout:    secondsToDuration(cfg.Browser.NavTimeoutSec),
			ResultsWait:   secondsToDuration(cfg.Browser.ResultsWaitSec),
			ScreenshotDir: cfg.Browser.ScreenshotDir,
			JobID:         jobID,
			Policy:        cfg.BrowserPolicy(),
		}, rotator, logger.Named("browser"))
		strategies = append(strategies, b)
	}
	return strategies, nil
}

func secondsToDuration(s int) time.Duration {
	return time.Duration(s) * time.Second
}
