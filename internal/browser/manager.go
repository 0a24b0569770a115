// Package browser owns the Chrome lifecycle: allocator, the form tab, and
// the wiring that turns the live page into dom documents and a bridge
// transport.
package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/nxtri/cardpilot/internal/config"
	"go.uber.org/zap"
)

// Manager launches and tears down the browser. One tab, one form.
type Manager struct {
	cfg config.BrowserConfig
	log *zap.Logger

	allocCancel context.CancelFunc
	tabCtx      context.Context
	tabCancel   context.CancelFunc
}

// NewManager builds a Manager; Start actually launches Chrome.
func NewManager(cfg config.BrowserConfig, log *zap.Logger) *Manager {
	return &Manager{cfg: cfg, log: log.Named("browser")}
}

// Start launches the browser and opens the tab context.
func (m *Manager) Start(ctx context.Context) error {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	if !m.cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	if m.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(m.cfg.ExecPath))
	}
	if m.cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(m.cfg.UserAgent))
	}
	if m.cfg.WindowWidth > 0 && m.cfg.WindowHeight > 0 {
		opts = append(opts, chromedp.WindowSize(m.cfg.WindowWidth, m.cfg.WindowHeight))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	m.allocCancel = allocCancel

	ctxOpts := []chromedp.ContextOption{}
	if m.cfg.Debug {
		ctxOpts = append(ctxOpts,
			chromedp.WithLogf(func(f string, a ...any) { m.log.Sugar().Debugf(f, a...) }),
			chromedp.WithErrorf(func(f string, a ...any) { m.log.Sugar().Errorf(f, a...) }),
		)
	}
	m.tabCtx, m.tabCancel = chromedp.NewContext(allocCtx, ctxOpts...)

	// Force the browser up now so a broken install fails Start, not the
	// first navigation.
	if err := chromedp.Run(m.tabCtx); err != nil {
		m.Close()
		return fmt.Errorf("launching browser: %w", err)
	}
	m.log.Info("Browser started", zap.Bool("headless", m.cfg.Headless))
	return nil
}

// Navigate loads the form URL and waits for the document to be ready.
func (m *Manager) Navigate(ctx context.Context, url string) error {
	m.log.Info("Navigating", zap.String("url", url))

	navTimeout := m.cfg.NavigationTimeout
	if navTimeout <= 0 {
		navTimeout = 90 * time.Second
	}
	navCtx, cancel := context.WithTimeout(m.tabCtx, navTimeout)
	defer cancel()

	err := chromedp.Run(navCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err != nil {
		if navCtx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("navigation timed out after %s: %w", navTimeout, err)
		}
		if ctx.Err() != nil {
			return fmt.Errorf("navigation canceled: %w", ctx.Err())
		}
		return fmt.Errorf("navigation failed: %w", err)
	}
	return nil
}

// PageContext returns the tab's chromedp context for document bindings.
func (m *Manager) PageContext() context.Context { return m.tabCtx }

// Close tears the browser down.
func (m *Manager) Close() {
	if m.tabCancel != nil {
		m.tabCancel()
		m.tabCancel = nil
	}
	if m.allocCancel != nil {
		m.allocCancel()
		m.allocCancel = nil
	}
}
