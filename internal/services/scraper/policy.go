package scraper

import (
	"context"
	"time"

	"github.com/ternarybob/transitwatch/internal/common"
	"github.com/ternarybob/transitwatch/internal/models"
)

// Policy holds the timings and limits of a scrape loop
type Policy struct {
	NavigationTimeout time.Duration
	ControlTimeout    time.Duration
	ResultTimeout     time.Duration
	PollInterval      time.Duration
	RetryDelay        time.Duration
	CooldownDelay     time.Duration
	MaxErrors         int
	NoServiceText     string

	Control     string // Selector of the control that requests fresh data
	ResultTable string // Selector of the arrivals table
}

// NewPolicy creates the default policy
func NewPolicy() Policy {
	config := common.NewDefaultConfig()
	return PolicyFromConfig(&config.Scraper, config.Browser.Selectors)
}

// PolicyFromConfig builds a policy from the scraper and selector configuration
func PolicyFromConfig(scraper *common.ScraperConfig, selectors common.SelectorsConfig) Policy {
	p := Policy{
		NavigationTimeout: scraper.NavigationTimeout,
		ControlTimeout:    scraper.ControlTimeout,
		ResultTimeout:     scraper.ResultTimeout,
		PollInterval:      scraper.PollInterval,
		RetryDelay:        scraper.RetryDelay,
		CooldownDelay:     scraper.CooldownDelay,
		MaxErrors:         scraper.MaxErrors,
		NoServiceText:     scraper.NoServiceText,
		Control:           selectors.Control,
		ResultTable:       selectors.ResultTable,
	}
	if p.MaxErrors <= 0 {
		p.MaxErrors = 3
	}
	if p.NoServiceText == "" {
		p.NoServiceText = models.NoServiceText
	}
	return p
}

// sleep waits for d and reports false if ctx was cancelled first
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
