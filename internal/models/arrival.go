package models

import "time"

// NoServiceText is reported when the stop has no upcoming arrival for the line
const NoServiceText = "Sefer Yok"

// BusArrival is one row of the arrivals table
type BusArrival struct {
	Line     string `json:"line"`
	LineName string `json:"line_name"`
	Time     string `json:"time"`
}

// ParsedRows are the arrival rows extracted from one page load
type ParsedRows []BusArrival

// ForLine returns the first row for the given line
func (p ParsedRows) ForLine(line string) (BusArrival, bool) {
	for _, row := range p {
		if row.Line == line {
			return row, true
		}
	}
	return BusArrival{}, false
}

// ScrapeMetrics records how long each part of a scrape cycle took
type ScrapeMetrics struct {
	NavigationMs int64 `json:"navigation_ms"`
	ExtractionMs int64 `json:"extraction_ms"`
	TotalMs      int64 `json:"total_ms"`
}

// ScrapeResult is the outcome of one successful or empty scrape
type ScrapeResult struct {
	TargetID  string         `json:"target_id"`
	Found     bool           `json:"found"`
	Time      string         `json:"time"`
	Metrics   *ScrapeMetrics `json:"metrics,omitempty"`
	Buses     []BusArrival   `json:"buses,omitempty"`
	Timestamp time.Time      `json:"timestamp"`

	// Error is set only on placeholder results built from a failed scrape.
	// The hub never caches these.
	Error string `json:"error,omitempty"`
}

// IsErrorPlaceholder reports whether the result stands in for a failed scrape
func (r ScrapeResult) IsErrorPlaceholder() bool {
	return r.Error != ""
}

// NewResultFromRows turns parsed rows into a result for the target's line.
// Rows without the target's line yield a not-found result that still carries the rows.
func NewResultFromRows(target Target, rows ParsedRows, noServiceText string) ScrapeResult {
	if noServiceText == "" {
		noServiceText = NoServiceText
	}
	result := ScrapeResult{
		TargetID:  target.ID,
		Found:     false,
		Time:      noServiceText,
		Buses:     []BusArrival(rows),
		Timestamp: time.Now(),
	}
	if row, ok := rows.ForLine(target.Line); ok {
		result.Found = true
		result.Time = row.Time
	}
	return result
}

// ArrivalEntry is the cached view of a target's latest result
type ArrivalEntry struct {
	ID        string         `json:"id" badgerhold:"key"`
	Line      string         `json:"line"`
	Stop      string         `json:"stop"`
	Found     bool           `json:"found"`
	Time      string         `json:"time"`
	Metrics   *ScrapeMetrics `json:"metrics,omitempty"`
	Buses     []BusArrival   `json:"buses,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// NewArrivalEntry combines a target and its result into a cache entry
func NewArrivalEntry(target Target, result ScrapeResult) ArrivalEntry {
	return ArrivalEntry{
		ID:        target.ID,
		Line:      target.Line,
		Stop:      target.Stop,
		Found:     result.Found,
		Time:      result.Time,
		Metrics:   result.Metrics,
		Buses:     result.Buses,
		Timestamp: result.Timestamp,
	}
}

// LegacyArrival is the flat shape served by /api/bustimes
type LegacyArrival struct {
	ID    string `json:"id"`
	Line  string `json:"line"`
	Found bool   `json:"found"`
	Time  string `json:"time"`
}
