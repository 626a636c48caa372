package browser

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/transitwatch/internal/common"
	"github.com/ternarybob/transitwatch/internal/models"
)

const arrivalsPage = `<html><body>
<table class="list">
  <tr>
    <td style="font-weight: bold">561</td>
    <td style="font-weight: bold">ULUS - KIZILAY</td>
  </tr>
  <tr>
    <td colspan="2"><b style="color: #B80000">Tahmini Varış Süresi: 4 dk</b></td>
  </tr>
  <tr>
    <td style="font-weight:bold">540</td>
    <td style="font-weight:bold">BATIKENT</td>
  </tr>
  <tr>
    <td colspan="2"><b style="color: #B80000">Tahmini Varış Süresi:12 dk</b></td>
  </tr>
  <tr>
    <td colspan="2"><b style="color: #B80000">Tahmini Varış Süresi: 20 dk</b></td>
  </tr>
</table>
</body></html>`

func testSelectors() Selectors {
	return SelectorsFromConfig(common.NewDefaultConfig().Browser.Selectors)
}

func TestParseArrivals(t *testing.T) {
	rows, err := ParseArrivals(arrivalsPage, testSelectors())
	require.NoError(t, err)

	// The trailing estimate has no header row and is dropped
	require.Len(t, rows, 2)

	assert.Equal(t, "561", rows[0].Line)
	assert.Equal(t, "ULUS - KIZILAY", rows[0].LineName)
	assert.Equal(t, "4 dk", rows[0].Time)

	assert.Equal(t, "540", rows[1].Line)
	assert.Equal(t, "12 dk", rows[1].Time)

	row, ok := rows.ForLine("540")
	require.True(t, ok)
	assert.Equal(t, "BATIKENT", row.LineName)
}

func TestParseArrivalsEmptyTable(t *testing.T) {
	html := `<html><body><table class="list"><tr><td>Durağa yaklaşan otobüs yok</td></tr></table></body></html>`

	rows, err := ParseArrivals(html, testSelectors())
	require.NoError(t, err)
	assert.Empty(t, rows)
	assert.NotNil(t, rows, "an empty table yields an empty, non-nil slice")
	assert.True(t, HasResultTable(html, testSelectors()))
}

func TestParseArrivalsIgnoresOtherTables(t *testing.T) {
	html := `<html><body>
<table class="menu"><tr><td style="font-weight:bold">1</td><td style="font-weight:bold">x</td></tr>
<tr><td><b style="color:red">Tahmini Varış Süresi: 1 dk</b></td></tr></table>
</body></html>`

	rows, err := ParseArrivals(html, testSelectors())
	require.NoError(t, err)
	assert.Empty(t, rows)
	assert.False(t, HasResultTable(html, testSelectors()))
}

func TestExtractRowsSeparatesMissingTableFromEmpty(t *testing.T) {
	selectors := testSelectors()

	rows, err := extractRows(arrivalsPage, selectors, time.Second)
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	empty := `<html><body><table class="list"></table></body></html>`
	rows, err = extractRows(empty, selectors, time.Second)
	require.NoError(t, err)
	assert.Empty(t, rows, "table present with no rows is EMPTY")

	missing := `<html><body><p>Sayfa yenileniyor</p></body></html>`
	_, err = extractRows(missing, selectors, 15*time.Second)
	var timeout *models.ExtractionTimeout
	require.True(t, errors.As(err, &timeout), "expected ExtractionTimeout, got %v", err)
	assert.Equal(t, selectors.ResultTable, timeout.Selector)
	assert.Equal(t, 15*time.Second, timeout.Timeout)
	assert.ErrorIs(t, err, errTableGone)
}

func TestCleanArrivalText(t *testing.T) {
	cases := map[string]string{
		"Tahmini Varış Süresi: 4 dk": "4 dk",
		"Tahmini Varış Süresi:4 dk":  "4 dk",
		"  7 dk ":                    "7 dk",
	}
	for in, want := range cases {
		assert.Equal(t, want, cleanArrivalText(in, "Tahmini Varış Süresi:"), in)
	}
}
