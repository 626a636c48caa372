package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/transitwatch/internal/common"
	"github.com/ternarybob/transitwatch/internal/interfaces"
	"github.com/ternarybob/transitwatch/internal/models"
)

// Manager opens isolated Chrome sessions, one per scrape loop.
// By default every session gets its own Chrome process; with browser.shared
// the sessions are browser contexts inside one process.
type Manager struct {
	config        *common.BrowserConfig
	selectors     Selectors
	launchTimeout time.Duration
	settleDelay   time.Duration
	logger        arbor.ILogger

	shared *sharedBrowser

	mu       sync.Mutex
	sessions map[*chromeSession]struct{}
	closed   bool
}

var _ interfaces.SessionManager = (*Manager)(nil)

// NewManager creates a session manager for the browser and scraper configuration
func NewManager(config *common.BrowserConfig, scraper *common.ScraperConfig, logger arbor.ILogger) *Manager {
	m := &Manager{
		config:        config,
		selectors:     SelectorsFromConfig(config.Selectors),
		launchTimeout: scraper.NavigationTimeout,
		settleDelay:   scraper.SettleDelay,
		logger:        logger,
		sessions:      make(map[*chromeSession]struct{}),
	}
	if m.launchTimeout <= 0 {
		m.launchTimeout = 30 * time.Second
	}
	if config.Shared {
		m.shared = newSharedBrowser(config, logger)
	}

	logger.Debug().
		Bool("headless", config.Headless).
		Bool("stealth", config.Stealth).
		Bool("shared", config.Shared).
		Msg("Browser session manager initialized")

	return m
}

// Open launches a new session for the target
func (m *Manager) Open(ctx context.Context, targetID string) (interfaces.Session, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, &models.SessionCrash{Err: fmt.Errorf("session manager shut down")}
	}
	m.mu.Unlock()

	startTime := time.Now()

	s := &chromeSession{
		targetID:    targetID,
		selectors:   m.selectors,
		settleDelay: m.settleDelay,
		stealth:     m.config.Stealth,
		logger:      m.logger,
		onClose:     m.forget,
	}

	if m.shared != nil {
		tabCtx, cancelTab, err := m.shared.newTab(ctx, m.launchTimeout)
		if err != nil {
			return nil, &models.SessionCrash{Err: err}
		}
		s.browserCtx, s.cancelTab = tabCtx, cancelTab
	} else {
		allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), allocatorOptions(m.config)...)
		browserCtx, cancelTab := chromedp.NewContext(allocCtx)
		s.browserCtx, s.cancelTab, s.cancelAlloc = browserCtx, cancelTab, cancelAlloc
	}

	if err := s.start(ctx, m.launchTimeout); err != nil {
		s.onClose = nil
		s.Close()
		return nil, err
	}

	m.mu.Lock()
	m.sessions[s] = struct{}{}
	m.mu.Unlock()

	m.logger.Debug().
		Str("target_id", targetID).
		Dur("startup_time", time.Since(startTime)).
		Msg("Browser session opened")

	return s, nil
}

// OpenCount returns the number of live sessions
func (m *Manager) OpenCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Shutdown closes every open session and the shared browser
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	m.closed = true
	sessions := make([]*chromeSession, 0, len(m.sessions))
	for s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		if err := s.Close(); err != nil {
			m.logger.Warn().Err(err).Str("target_id", s.targetID).Msg("Failed to close browser session")
		}
	}

	if m.shared != nil {
		m.shared.shutdown()
	}

	m.logger.Info().Int("sessions_closed", len(sessions)).Msg("Browser session manager shut down")
	return nil
}

func (m *Manager) forget(s *chromeSession) {
	m.mu.Lock()
	delete(m.sessions, s)
	m.mu.Unlock()
}
