package carpages

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"recarmend/listingworker/helpers"
	"recarmend/listingworker/logger"
)

// Page is a rendered snapshot of the browser tab.
type Page struct {
	URL   string
	Title string
	HTML  string
}

// pageFetcher abstracts the rendered-page source so navigation and
// extraction logic can be exercised against static HTML in tests.
type pageFetcher interface {
	Fetch(ctx context.Context, url string) (*Page, error)
	Snapshot(ctx context.Context) (*Page, error)
	DismissConsent(ctx context.Context) bool
	DismissLocationPrompt(ctx context.Context) bool
	Restart(ctx context.Context) error
	Close()
}

type sessionConfig struct {
	Headless   bool
	NavTimeout time.Duration
	ProxyAddr  string
}

// browserSession drives one headless Chrome instance through a single
// tab. The tab is kept for the whole category walk so cookies and
// challenge clearance survive across page navigations.
type browserSession struct {
	cfg sessionConfig

	allocCancel context.CancelFunc
	tabCtx      context.Context
	tabCancel   context.CancelFunc

	currentURL string
	log        *logger.Logger
}

var _ pageFetcher = (*browserSession)(nil)

func newBrowserSession(cfg sessionConfig) (*browserSession, error) {
	s := &browserSession{
		cfg: cfg,
		log: logger.ForScraper(SourceName),
	}
	if err := s.start(); err != nil {
		return nil, err
	}
	return s, nil
}

// stealthOpts returns Chrome launch options that hide the usual
// automation tells: the AutomationControlled blink feature, the default
// window size, and a missing User-Agent.
func stealthOpts(cfg sessionConfig) []chromedp.ExecAllocatorOption {
	opts := []chromedp.ExecAllocatorOption{
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("deny-permission-prompts", true),
		chromedp.Flag("disable-background-timer-throttling", true),
		chromedp.Flag("disable-backgrounding-occluded-windows", true),
		chromedp.Flag("disable-renderer-backgrounding", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.WindowSize(1920, 1080),
		chromedp.UserAgent(helpers.RandomUserAgent()),
	}
	if cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", "new"))
	}
	if cfg.ProxyAddr != "" {
		opts = append(opts, chromedp.ProxyServer("socks5://"+cfg.ProxyAddr))
	}
	return opts
}

// hideWebDriver patches the JS properties challenge scripts probe for.
func hideWebDriver() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		return chromedp.Evaluate(`
			Object.defineProperty(navigator, 'webdriver', { get: () => undefined });
			Object.defineProperty(navigator, 'languages', { get: () => ['en-CA', 'en'] });
		`, nil).Do(ctx)
	})
}

func (s *browserSession) start() error {
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), stealthOpts(s.cfg)...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	startCtx, cancel := context.WithTimeout(tabCtx, 30*time.Second)
	defer cancel()

	err := chromedp.Run(startCtx,
		network.Enable(),
		network.SetExtraHTTPHeaders(network.Headers{
			"Accept-Language": "en-CA,en;q=0.9",
		}),
	)
	if err != nil {
		tabCancel()
		allocCancel()
		return fmt.Errorf("failed to start browser: %w", err)
	}

	s.allocCancel = allocCancel
	s.tabCtx = tabCtx
	s.tabCancel = tabCancel
	s.log.Debug().Msg("Browser session started")
	return nil
}

func (s *browserSession) stop() {
	if s.tabCancel != nil {
		s.tabCancel()
	}
	if s.allocCancel != nil {
		s.allocCancel()
	}
}

// Fetch navigates the tab to the URL and returns the rendered page.
func (s *browserSession) Fetch(ctx context.Context, pageURL string) (*Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithTimeout(s.tabCtx, s.cfg.NavTimeout)
	defer cancel()

	var title, html string
	err := chromedp.Run(runCtx,
		chromedp.Navigate(pageURL),
		hideWebDriver(),
		chromedp.Sleep(1500*time.Millisecond),
		chromedp.Title(&title),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", pageURL, err)
	}

	s.currentURL = pageURL
	return &Page{URL: pageURL, Title: title, HTML: html}, nil
}

// Snapshot re-reads the current tab without navigating. Used while
// waiting for a challenge interstitial to clear itself.
func (s *browserSession) Snapshot(ctx context.Context) (*Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithTimeout(s.tabCtx, s.cfg.NavTimeout)
	defer cancel()

	var title, html string
	err := chromedp.Run(runCtx,
		chromedp.Title(&title),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot page: %w", err)
	}

	return &Page{URL: s.currentURL, Title: title, HTML: html}, nil
}

// consentJS clicks the cookie banner's consent control when present.
const consentJS = `(() => {
	const byText = (sel, text) => Array.from(document.querySelectorAll(sel))
		.find(el => (el.textContent || '').includes(text));
	const btn = byText('button', 'Consent') || byText("div[role='button']", 'Consent');
	if (!btn) return false;
	btn.click();
	return true;
})()`

// locationJS closes the location-selection modal when present.
const locationJS = `(() => {
	const dialog = document.querySelector("div[role='dialog']");
	if (!dialog) return false;
	const btn = dialog.querySelector("button[aria-label='Close']") ||
		Array.from(dialog.querySelectorAll('button'))
			.find(el => /no thanks|not now|close/i.test(el.textContent || ''));
	if (!btn) return false;
	btn.click();
	return true;
})()`

func (s *browserSession) DismissConsent(ctx context.Context) bool {
	if s.evalClick(ctx, consentJS) {
		s.log.Debug().Msg("Cookie banner dismissed")
		return true
	}
	return false
}

func (s *browserSession) DismissLocationPrompt(ctx context.Context) bool {
	if s.evalClick(ctx, locationJS) {
		s.log.Debug().Msg("Location modal dismissed")
		return true
	}
	return false
}

func (s *browserSession) evalClick(ctx context.Context, js string) bool {
	if ctx.Err() != nil {
		return false
	}

	runCtx, cancel := context.WithTimeout(s.tabCtx, 5*time.Second)
	defer cancel()

	var clicked bool
	if err := chromedp.Run(runCtx, chromedp.Evaluate(js, &clicked)); err != nil {
		s.log.WithError(err).Debug().Msg("Dismissal script failed")
		return false
	}
	return clicked
}

// Restart tears down the browser and launches a fresh one, resetting
// cookies and cache. Callers re-dismiss friction prompts afterwards.
func (s *browserSession) Restart(ctx context.Context) error {
	s.stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(2 * time.Second):
	}
	return s.start()
}

func (s *browserSession) Close() {
	s.stop()
	s.log.Debug().Msg("Browser session closed")
}
