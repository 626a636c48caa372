package browser

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/transitwatch/internal/models"
)

// chromeSession is one tab in its own browser context.
// Only the owning scrape loop calls it, so steps never overlap.
type chromeSession struct {
	targetID    string
	browserCtx  context.Context
	cancelTab   context.CancelFunc
	cancelAlloc context.CancelFunc // nil for sessions on a shared allocator
	selectors   Selectors
	settleDelay time.Duration
	stealth     bool
	logger      arbor.ILogger

	closeOnce sync.Once
	mu        sync.Mutex
	closed    bool
	onClose   func(*chromeSession)
}

// start launches the tab and installs the stealth script.
// Chrome is only spawned on the first Run against the context.
func (s *chromeSession) start(ctx context.Context, timeout time.Duration) error {
	actions := []chromedp.Action{}
	if s.stealth {
		actions = append(actions, injectStealth())
	}
	actions = append(actions, chromedp.Navigate("about:blank"))

	if err := s.run(ctx, timeout, actions...); err != nil {
		return &models.SessionCrash{Err: err}
	}
	return nil
}

// run executes actions under a deadline and aborts early when ctx is cancelled
func (s *chromeSession) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	if !s.Alive() {
		return models.ErrSessionClosed
	}

	runCtx, cancel := context.WithTimeout(s.browserCtx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// Navigate loads the locator and waits for the document body
func (s *chromeSession) Navigate(ctx context.Context, locator string, timeout time.Duration) error {
	err := s.run(ctx, timeout,
		chromedp.Navigate(locator),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &models.NavigationError{Locator: locator, Err: err}
	}
	return nil
}

// Interact waits for the control to be visible and clicks it
func (s *chromeSession) Interact(ctx context.Context, control string, timeout time.Duration) error {
	err := s.run(ctx, timeout,
		chromedp.WaitVisible(control, chromedp.ByQuery),
		chromedp.Click(control, chromedp.ByQuery),
	)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &models.InteractionError{Control: control, Err: err}
	}
	return nil
}

// Extract waits for the result table, lets it fill, and parses the rows
func (s *chromeSession) Extract(ctx context.Context, result string, timeout time.Duration) (models.ParsedRows, error) {
	if err := s.run(ctx, timeout, chromedp.WaitReady(result, chromedp.ByQuery)); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &models.ExtractionTimeout{Selector: result, Timeout: timeout, Err: err}
	}

	if s.settleDelay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.settleDelay):
		}
	}

	var html string
	if err := s.run(ctx, timeout, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &models.ExtractionTimeout{Selector: result, Timeout: timeout, Err: err}
	}

	selectors := s.selectors
	selectors.ResultTable = result
	return extractRows(html, selectors, timeout)
}

// Reload reloads the current page without relaunching the browser
func (s *chromeSession) Reload(ctx context.Context, timeout time.Duration) error {
	return s.run(ctx, timeout,
		chromedp.ActionFunc(func(ctx context.Context) error {
			return page.Reload().Do(ctx)
		}),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
}

// Alive reports whether the tab and its browser are still running
func (s *chromeSession) Alive() bool {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	return !closed && s.browserCtx.Err() == nil
}

// Close closes the tab and, for a dedicated allocator, kills Chrome
func (s *chromeSession) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		if cancelErr := chromedp.Cancel(s.browserCtx); cancelErr != nil && !errors.Is(cancelErr, context.Canceled) {
			err = cancelErr
		}
		s.cancelTab()
		if s.cancelAlloc != nil {
			s.cancelAlloc()
		}

		if s.onClose != nil {
			s.onClose(s)
		}

		s.logger.Debug().Str("target_id", s.targetID).Msg("Browser session closed")
	})
	return err
}
