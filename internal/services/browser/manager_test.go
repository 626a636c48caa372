package browser

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/transitwatch/internal/common"
	"github.com/ternarybob/transitwatch/internal/models"
)

// fakeStopPage renders the result table only after the button is clicked
const fakeStopPage = `<html><body>
<input class="btn red" type="button" value="Otobus Nerede?" onclick="show()">
<div id="out"></div>
<script>
function show() {
  document.getElementById('out').innerHTML =
    '<table class="list">' +
    '<tr><td style="font-weight:bold">%s</td><td style="font-weight:bold">TEST HATTI</td></tr>' +
    '<tr><td colspan="2"><b style="color: #B80000">Tahmini Varış Süresi: 4 dk</b></td></tr>' +
    '</table>';
}
</script>
</body></html>`

func requireChrome(t *testing.T) {
	t.Helper()
	for _, name := range []string{"google-chrome", "chromium", "chromium-browser", "headless-shell"} {
		if _, err := exec.LookPath(name); err == nil {
			return
		}
	}
	t.Skip("Chrome not installed")
}

func testManager(t *testing.T, shared bool) *Manager {
	t.Helper()

	config := common.NewDefaultConfig()
	config.Browser.Shared = shared
	config.Scraper.SettleDelay = 100 * time.Millisecond

	m := NewManager(&config.Browser, &config.Scraper, arbor.NewLogger())
	t.Cleanup(func() { m.Shutdown() })
	return m
}

func TestManagerSessionScrapesPage(t *testing.T) {
	requireChrome(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintf(w, fakeStopPage, r.URL.Query().Get("hat_no"))
	}))
	defer server.Close()

	for _, shared := range []bool{false, true} {
		t.Run(fmt.Sprintf("shared=%v", shared), func(t *testing.T) {
			m := testManager(t, shared)
			selectors := m.selectors
			ctx := context.Background()

			session, err := m.Open(ctx, "bus-1")
			require.NoError(t, err)
			assert.Equal(t, 1, m.OpenCount())

			locator := models.BuildLocator(server.URL+"/?durak_no={stop}&hat_no={line}", "561", "50782")
			require.NoError(t, session.Navigate(ctx, locator, 20*time.Second))
			require.NoError(t, session.Interact(ctx, selectors.Control, 10*time.Second))

			rows, err := session.Extract(ctx, selectors.ResultTable, 10*time.Second)
			require.NoError(t, err)
			require.Len(t, rows, 1)
			assert.Equal(t, "561", rows[0].Line)
			assert.Equal(t, "4 dk", rows[0].Time)

			require.NoError(t, session.Reload(ctx, 20*time.Second))

			// Without a click the table is absent
			_, err = session.Extract(ctx, selectors.ResultTable, 500*time.Millisecond)
			var timeout *models.ExtractionTimeout
			assert.True(t, errors.As(err, &timeout), "expected ExtractionTimeout, got %v", err)

			require.NoError(t, session.Close())
			require.NoError(t, session.Close(), "close is idempotent")
			assert.False(t, session.Alive())
			assert.Equal(t, 0, m.OpenCount())
		})
	}
}

func TestManagerNavigationError(t *testing.T) {
	requireChrome(t)

	m := testManager(t, false)
	ctx := context.Background()

	session, err := m.Open(ctx, "bus-1")
	require.NoError(t, err)
	defer session.Close()

	err = session.Navigate(ctx, "http://127.0.0.1:1/", 5*time.Second)
	var navErr *models.NavigationError
	assert.True(t, errors.As(err, &navErr), "expected NavigationError, got %v", err)
}

func TestManagerRefusesAfterShutdown(t *testing.T) {
	m := testManager(t, false)
	require.NoError(t, m.Shutdown())

	_, err := m.Open(context.Background(), "bus-1")
	var crash *models.SessionCrash
	assert.True(t, errors.As(err, &crash))
}

func TestAllocatorOptions(t *testing.T) {
	config := common.NewDefaultConfig().Browser
	config.ExecPath = "/usr/bin/chromium"
	config.ExtraFlags = map[string]string{"mute-audio": "true"}

	base := len(allocatorOptions(&common.BrowserConfig{}))
	opts := allocatorOptions(&config)

	// stealth flags, exec path, user agent and one extra flag are added
	assert.Greater(t, len(opts), base+3)
	assert.Equal(t, true, flagValue(""))
	assert.Equal(t, false, flagValue("false"))
	assert.Equal(t, "tr-TR", flagValue("tr-TR"))
}
