package browser

import (
	"context"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/ternarybob/transitwatch/internal/common"
)

// stealthScript hides the most common headless Chrome fingerprints.
// It runs before any page script on every new document.
const stealthScript = `
(() => {
    Object.defineProperty(navigator, 'webdriver', { get: () => undefined, configurable: true });
    try { delete Object.getPrototypeOf(navigator).webdriver; } catch (e) {}

    Object.defineProperty(navigator, 'languages', {
        get: () => Object.freeze(['tr-TR', 'tr', 'en-US', 'en']),
        configurable: true
    });

    const plugins = [
        { name: 'Chrome PDF Plugin', filename: 'internal-pdf-viewer', description: 'Portable Document Format' },
        { name: 'Chrome PDF Viewer', filename: 'mhjfbmdgcfjbbpaeojofohoefgiehjai', description: '' },
        { name: 'Native Client', filename: 'internal-nacl-plugin', description: '' }
    ];
    Object.defineProperty(navigator, 'plugins', {
        get: () => Object.assign(plugins.slice(), { item: (i) => plugins[i] || null, refresh: () => {} }),
        configurable: true
    });

    if (!window.chrome) {
        Object.defineProperty(window, 'chrome', { value: {}, writable: true, configurable: false });
    }
    if (!window.chrome.runtime) {
        window.chrome.runtime = {};
    }

    const query = window.navigator.permissions && window.navigator.permissions.query;
    if (query) {
        window.navigator.permissions.query = (params) =>
            params && params.name === 'notifications'
                ? Promise.resolve({ state: Notification.permission })
                : query.call(window.navigator.permissions, params);
    }

    const getParameter = WebGLRenderingContext.prototype.getParameter;
    WebGLRenderingContext.prototype.getParameter = function (p) {
        if (p === 37445) return 'Intel Inc.';
        if (p === 37446) return 'Intel Iris OpenGL Engine';
        return getParameter.call(this, p);
    };
})();
`

// injectStealth registers the stealth script for every document in the tab
func injectStealth() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		_, err := page.AddScriptToEvaluateOnNewDocument(stealthScript).Do(ctx)
		return err
	})
}

// allocatorOptions builds the Chrome launch flags for the configuration
func allocatorOptions(config *common.BrowserConfig) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("headless", config.Headless),
		chromedp.Flag("no-sandbox", config.NoSandbox),
		chromedp.Flag("disable-setuid-sandbox", config.NoSandbox),
		chromedp.Flag("disable-gpu", config.DisableGPU),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("ignore-certificate-errors", config.IgnoreCertError),
		chromedp.Flag("disable-background-timer-throttling", true),
		chromedp.Flag("disable-backgrounding-occluded-windows", true),
		chromedp.Flag("disable-renderer-backgrounding", true),
		chromedp.WindowSize(1366, 900),
	)

	if config.Stealth {
		opts = append(opts,
			chromedp.Flag("disable-blink-features", "AutomationControlled"),
			chromedp.Flag("excludeSwitches", "enable-automation"),
			chromedp.Flag("useAutomationExtension", false),
			chromedp.Flag("disable-infobars", true),
			chromedp.Flag("lang", "tr-TR,tr"),
		)
	}

	if config.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(config.UserAgent))
	}
	if config.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(config.ExecPath))
	}
	for name, value := range config.ExtraFlags {
		opts = append(opts, chromedp.Flag(name, flagValue(value)))
	}

	return opts
}

// flagValue maps "true"/"false"/"" to booleans so extra flags can be toggled from TOML
func flagValue(value string) interface{} {
	switch value {
	case "", "true":
		return true
	case "false":
		return false
	default:
		return value
	}
}
