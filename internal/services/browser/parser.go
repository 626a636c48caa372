package browser

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/transitwatch/internal/common"
	"github.com/ternarybob/transitwatch/internal/models"
)

// Selectors locate the parts of the arrival page. They change with the
// remote markup, so they live in configuration rather than code.
type Selectors struct {
	Control     string
	ResultTable string
	ArrivalText string
	TimePrefix  string
}

// SelectorsFromConfig copies the configured selectors
func SelectorsFromConfig(config common.SelectorsConfig) Selectors {
	return Selectors{
		Control:     config.Control,
		ResultTable: config.ResultTable,
		ArrivalText: config.ArrivalText,
		TimePrefix:  config.TimePrefix,
	}
}

// ParseArrivals extracts every arrival from the page HTML.
//
// The table alternates a header row of two bold cells (line number, line name)
// and a row holding a coloured <b> with the arrival estimate. An estimate row
// without a preceding header is ignored.
func ParseArrivals(html string, selectors Selectors) (models.ParsedRows, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse arrivals html: %w", err)
	}

	rows := models.ParsedRows{}
	var currentLine, currentName string

	doc.Find(selectors.ResultTable + " tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() == 2 && isBold(cells.First()) {
			currentLine = strings.TrimSpace(cells.First().Text())
			currentName = strings.TrimSpace(cells.Eq(1).Text())
			return
		}

		timeEl := row.Find(selectors.ArrivalText).First()
		if timeEl.Length() == 0 || currentLine == "" {
			return
		}

		rows = append(rows, models.BusArrival{
			Line:     currentLine,
			LineName: currentName,
			Time:     cleanArrivalText(timeEl.Text(), selectors.TimePrefix),
		})
		currentLine, currentName = "", ""
	})

	return rows, nil
}

// errTableGone means the table matched while waiting but is missing from the captured page
var errTableGone = errors.New("result table missing from page")

// extractRows parses a captured page. A page without the result table is an
// ExtractionTimeout (ERROR); a table with no rows is an empty result (EMPTY).
func extractRows(html string, selectors Selectors, timeout time.Duration) (models.ParsedRows, error) {
	if !HasResultTable(html, selectors) {
		return nil, &models.ExtractionTimeout{Selector: selectors.ResultTable, Timeout: timeout, Err: errTableGone}
	}
	rows, err := ParseArrivals(html, selectors)
	if err != nil {
		return nil, fmt.Errorf("failed to parse result table: %w", err)
	}
	return rows, nil
}

// HasResultTable reports whether the result table is present in the HTML
func HasResultTable(html string, selectors Selectors) bool {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return false
	}
	return doc.Find(selectors.ResultTable).Length() > 0
}

func isBold(cell *goquery.Selection) bool {
	style, ok := cell.Attr("style")
	if !ok {
		return false
	}
	style = strings.ToLower(strings.ReplaceAll(style, " ", ""))
	return strings.Contains(style, "font-weight:bold") || strings.Contains(style, "font-weight:700")
}

func cleanArrivalText(text, prefix string) string {
	text = strings.TrimSpace(text)
	if prefix != "" {
		text = strings.TrimPrefix(text, strings.TrimSpace(prefix))
	}
	return strings.TrimSpace(text)
}
