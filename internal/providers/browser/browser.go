// File: internal/providers/browser/browser.go
// Description: Chrome-backed browser capability provider. Pages are rendered
// as plain text with numbered clickable elements; the model acts by URL or by
// element number, never by raw selector.
package browser

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/pilot-cli/api/schemas"
	"github.com/xkilldash9x/pilot-cli/internal/config"
)

const ProviderID = "browser"

const (
	variantNavigate   = "navigate"
	variantClick      = "click"
	variantScreenshot = "screenshot"

	paramURL     = "url"
	paramElement = "element"
)

// Provider implements schemas.Provider on top of a headless Chrome instance.
// Element references are valid only for the page snapshot that enumerated
// them; every navigation or click re-enumerates from live DOM state.
type Provider struct {
	cfg config.BrowserConfig
	log *zap.Logger

	mu          sync.Mutex
	allocCtx    context.Context
	allocCancel context.CancelFunc
	tabCtx      context.Context
	tabCancel   context.CancelFunc

	currentURL string
	elements   []schemas.ElementRef
}

// New creates a browser provider. Chrome starts on the first navigation.
func New(cfg config.BrowserConfig, logger *zap.Logger) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{
		cfg: cfg,
		log: logger.Named("provider.browser"),
	}
}

func (p *Provider) ID() string { return ProviderID }

func (p *Provider) Describe() string {
	return "A text-mode web browser. Pages render as plain text; clickable elements are numbered like <3>. Navigate by URL or click by element number. Element numbers change on every page load."
}

// Variants reflects live page state: with no page loaded only navigation is
// legal, and clicking is offered only when the current page actually has
// enumerated elements.
func (p *Provider) Variants() []schemas.ActionVariant {
	p.mu.Lock()
	defer p.mu.Unlock()

	variants := []schemas.ActionVariant{
		{
			Name:    variantNavigate,
			Purpose: "Load a URL and observe the rendered page.",
			Parameters: []schemas.ParameterSpec{
				{Name: paramURL, Type: schemas.ParamTypeString, Purpose: "absolute URL to open", Required: true},
			},
		},
	}

	if len(p.elements) > 0 {
		refs := make([]string, len(p.elements))
		for i, el := range p.elements {
			refs[i] = strconv.Itoa(el.Ref)
		}
		variants = append(variants, schemas.ActionVariant{
			Name:    variantClick,
			Purpose: "Click one of the numbered elements on the current page.",
			Parameters: []schemas.ParameterSpec{
				{Name: paramElement, Type: schemas.ParamTypeEnum, Purpose: "element number from the current page", Required: true, Enum: refs},
			},
		})
	}

	if p.currentURL != "" && p.cfg.ScreenshotDir != "" {
		variants = append(variants, schemas.ActionVariant{
			Name:    variantScreenshot,
			Purpose: "Capture a screenshot of the current page.",
		})
	}

	return variants
}

// Execute dispatches one chosen action against the live page.
func (p *Provider) Execute(ctx context.Context, action *schemas.ChosenAction) (*schemas.Observation, error) {
	switch action.Variant {
	case variantNavigate:
		return p.navigate(ctx, action.Params[paramURL])
	case variantClick:
		return p.click(ctx, action.Params[paramElement])
	case variantScreenshot:
		return p.screenshot(ctx)
	default:
		return nil, &schemas.ProviderExecutionError{
			Provider: ProviderID,
			Action:   action.Variant,
			Cause:    fmt.Errorf("unsupported variant %q", action.Variant),
		}
	}
}

func (p *Provider) navigate(ctx context.Context, url string) (*schemas.Observation, error) {
	tab, err := p.session(ctx)
	if err != nil {
		return nil, &schemas.ProviderExecutionError{Provider: ProviderID, Action: variantNavigate, Cause: err}
	}

	p.log.Info("Navigating", zap.String("url", url))
	navCtx, cancel := context.WithTimeout(tab, p.cfg.NavigationTimeout)
	defer cancel()

	if err := chromedp.Run(navCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		return nil, &schemas.ProviderExecutionError{
			Provider: ProviderID,
			Action:   variantNavigate,
			Cause:    fmt.Errorf("navigation to %s failed: %w", url, err),
		}
	}

	return p.observePage(navCtx, fmt.Sprintf("loaded %s", url))
}

func (p *Provider) click(ctx context.Context, ref string) (*schemas.Observation, error) {
	p.mu.Lock()
	known := false
	for _, el := range p.elements {
		if strconv.Itoa(el.Ref) == ref {
			known = true
			break
		}
	}
	p.mu.Unlock()

	if !known {
		// The schema enum normally catches this; a second guard here covers
		// the race where the page changed between enumeration and dispatch.
		return nil, &schemas.ProviderExecutionError{
			Provider: ProviderID,
			Action:   variantClick,
			Cause:    fmt.Errorf("element reference %s is stale or unknown on the current page", ref),
		}
	}

	tab, err := p.session(ctx)
	if err != nil {
		return nil, &schemas.ProviderExecutionError{Provider: ProviderID, Action: variantClick, Cause: err}
	}

	p.log.Info("Clicking element", zap.String("ref", ref))
	clickCtx, cancel := context.WithTimeout(tab, p.cfg.NavigationTimeout)
	defer cancel()

	selector := fmt.Sprintf(`[%s=%q]`, refAttr, ref)
	if err := chromedp.Run(clickCtx,
		chromedp.ScrollIntoView(selector, chromedp.ByQuery),
		chromedp.Click(selector, chromedp.ByQuery),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		return nil, &schemas.ProviderExecutionError{
			Provider: ProviderID,
			Action:   variantClick,
			Cause:    fmt.Errorf("click on element %s failed: %w", ref, err),
		}
	}

	return p.observePage(clickCtx, fmt.Sprintf("clicked element %s", ref))
}

func (p *Provider) screenshot(ctx context.Context) (*schemas.Observation, error) {
	tab, err := p.session(ctx)
	if err != nil {
		return nil, &schemas.ProviderExecutionError{Provider: ProviderID, Action: variantScreenshot, Cause: err}
	}

	shotCtx, cancel := context.WithTimeout(tab, p.cfg.NavigationTimeout)
	defer cancel()

	var buf []byte
	if err := chromedp.Run(shotCtx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, &schemas.ProviderExecutionError{
			Provider: ProviderID,
			Action:   variantScreenshot,
			Cause:    fmt.Errorf("screenshot capture failed: %w", err),
		}
	}

	if err := os.MkdirAll(p.cfg.ScreenshotDir, 0o755); err != nil {
		return nil, &schemas.ProviderExecutionError{Provider: ProviderID, Action: variantScreenshot, Cause: err}
	}
	path := filepath.Join(p.cfg.ScreenshotDir, uuid.NewString()+".png")
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		return nil, &schemas.ProviderExecutionError{Provider: ProviderID, Action: variantScreenshot, Cause: err}
	}

	p.mu.Lock()
	url := p.currentURL
	p.mu.Unlock()

	return &schemas.Observation{
		Provider:   ProviderID,
		Summary:    fmt.Sprintf("screenshot of %s", url),
		ImagePath:  path,
		CapturedAt: time.Now().UTC(),
	}, nil
}

// observePage tags clickable elements in the live DOM, captures the result,
// and renders it as the model-facing observation. The element enumeration
// stored here is the only one click accepts until the next observation.
func (p *Provider) observePage(ctx context.Context, summary string) (*schemas.Observation, error) {
	var tagged int
	var domContent string
	var url string
	if err := chromedp.Run(ctx,
		chromedp.Evaluate(tagScript, &tagged),
		chromedp.OuterHTML("html", &domContent, chromedp.ByQuery),
		chromedp.Location(&url),
	); err != nil {
		return nil, &schemas.ProviderExecutionError{
			Provider: ProviderID,
			Action:   "observe",
			Cause:    fmt.Errorf("page capture failed: %w", err),
		}
	}

	body, elements, err := renderPage(domContent)
	if err != nil {
		return nil, &schemas.ProviderExecutionError{
			Provider: ProviderID,
			Action:   "observe",
			Cause:    fmt.Errorf("page rendering failed: %w", err),
		}
	}
	if p.cfg.MaxBodyChars > 0 && len(body) > p.cfg.MaxBodyChars {
		body = body[:p.cfg.MaxBodyChars] + "\n[page truncated]"
	}

	p.mu.Lock()
	p.currentURL = url
	p.elements = elements
	p.mu.Unlock()

	p.log.Debug("Page observed",
		zap.String("url", url),
		zap.Int("elements", len(elements)),
		zap.Int("body_chars", len(body)))

	return &schemas.Observation{
		Provider:   ProviderID,
		Summary:    summary,
		Body:       fmt.Sprintf("URL: %s\n\n%s", url, body),
		Elements:   elements,
		CapturedAt: time.Now().UTC(),
	}, nil
}

// session returns the live tab context, starting Chrome on first use. The
// browser's lifetime spans the mission, so it hangs off the background
// context rather than any single action's.
func (p *Provider) session(_ context.Context) (context.Context, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.tabCtx != nil && p.tabCtx.Err() == nil {
		return p.tabCtx, nil
	}

	opts := append([]chromedp.ExecAllocatorOption{},
		chromedp.NoSandbox,
		chromedp.DisableGPU,
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.UserAgent(p.cfg.UserAgent),
	)
	if p.cfg.Headless {
		opts = append(opts, chromedp.Headless)
	}
	if p.cfg.IgnoreTLSErrors {
		opts = append(opts, chromedp.Flag("ignore-certificate-errors", true))
	}

	p.allocCtx, p.allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
	p.tabCtx, p.tabCancel = chromedp.NewContext(p.allocCtx)

	// Force the browser process to start now so failures surface here rather
	// than mid-action.
	startCtx, cancel := context.WithTimeout(p.tabCtx, p.cfg.NavigationTimeout)
	defer cancel()
	if err := chromedp.Run(startCtx, chromedp.ActionFunc(func(c context.Context) error {
		return emulation.SetDeviceMetricsOverride(1280, 1024, 1.0, false).Do(c)
	})); err != nil {
		p.teardownLocked()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}

	p.log.Info("Browser session started", zap.Bool("headless", p.cfg.Headless))
	return p.tabCtx, nil
}

func (p *Provider) teardownLocked() {
	if p.tabCancel != nil {
		p.tabCancel()
		p.tabCancel = nil
		p.tabCtx = nil
	}
	if p.allocCancel != nil {
		p.allocCancel()
		p.allocCancel = nil
		p.allocCtx = nil
	}
	p.currentURL = ""
	p.elements = nil
}

// Close shuts the browser down.
func (p *Provider) Close(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.tabCtx == nil {
		return nil
	}
	// chromedp.Cancel waits for the browser process to exit.
	err := chromedp.Cancel(p.tabCtx)
	p.teardownLocked()
	if err != nil && err != context.Canceled {
		return fmt.Errorf("failed to shut down browser: %w", err)
	}
	return nil
}
