package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/transitwatch/internal/common"
)

// sharedBrowser is a single Chrome process whose tabs each get their own
// browser context, so cookies and storage are still isolated per target.
type sharedBrowser struct {
	config *common.BrowserConfig
	logger arbor.ILogger

	mu            sync.Mutex
	allocCtx      context.Context
	cancelAlloc   context.CancelFunc
	rootCtx       context.Context
	cancelRoot    context.CancelFunc
	launchedCount int
}

func newSharedBrowser(config *common.BrowserConfig, logger arbor.ILogger) *sharedBrowser {
	return &sharedBrowser{
		config: config,
		logger: logger,
	}
}

// parent returns the root browser context, launching Chrome when it is not running
func (b *sharedBrowser) parent(ctx context.Context, timeout time.Duration) (context.Context, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.rootCtx != nil && b.rootCtx.Err() == nil {
		return b.rootCtx, nil
	}
	b.cleanupLocked()

	startTime := time.Now()
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), allocatorOptions(b.config)...)
	rootCtx, cancelRoot := chromedp.NewContext(allocCtx)

	testCtx, testCancel := context.WithTimeout(rootCtx, timeout)
	defer testCancel()
	stop := context.AfterFunc(ctx, testCancel)
	defer stop()

	// First Run spawns the process
	if err := chromedp.Run(testCtx, chromedp.Navigate("about:blank")); err != nil {
		cancelRoot()
		cancelAlloc()
		return nil, fmt.Errorf("shared browser failed startup test: %w", err)
	}

	b.allocCtx, b.cancelAlloc = allocCtx, cancelAlloc
	b.rootCtx, b.cancelRoot = rootCtx, cancelRoot
	b.launchedCount++

	b.logger.Info().
		Int("launch", b.launchedCount).
		Dur("startup_time", time.Since(startTime)).
		Msg("Shared browser started")

	return rootCtx, nil
}

// newTab creates a tab in a fresh browser context of the shared process
func (b *sharedBrowser) newTab(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc, error) {
	parent, err := b.parent(ctx, timeout)
	if err != nil {
		return nil, nil, err
	}
	tabCtx, cancel := chromedp.NewContext(parent, chromedp.WithNewBrowserContext())
	return tabCtx, cancel, nil
}

// shutdown stops the shared process
func (b *sharedBrowser) shutdown() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cleanupLocked()
}

// cleanupLocked cancels the root and allocator contexts (must be called with mutex held)
func (b *sharedBrowser) cleanupLocked() {
	if b.cancelRoot != nil {
		b.cancelRoot()
		b.cancelRoot = nil
	}
	if b.cancelAlloc != nil {
		b.cancelAlloc()
		b.cancelAlloc = nil
	}
	b.rootCtx = nil
	b.allocCtx = nil
}
