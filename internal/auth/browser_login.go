package auth

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

// ssoCookie is issued by SAP systems after a successful single sign-on
const ssoCookie = "MYSAPSSO2"

// BrowserLoginOptions configure BrowserLogin
type BrowserLoginOptions struct {
	Headless     bool
	Verbose      bool
	Timeout      time.Duration // defaults to 5 minutes
	PollInterval time.Duration // defaults to 1 second
}

// BrowserLogin opens serviceURL in Chrome, waits until the user has signed in
// and returns the cookies of the service host
func BrowserLogin(ctx context.Context, serviceURL string, opts BrowserLoginOptions) (map[string]string, error) {
	target, err := url.Parse(serviceURL)
	if err != nil || target.Host == "" {
		return nil, fmt.Errorf("invalid service URL %q", serviceURL)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Minute
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
	)
	if !opts.Headless {
		allocOpts = append(allocOpts,
			chromedp.Flag("headless", false),
			chromedp.WindowSize(1024, 768),
		)
	}

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, allocOpts...)
	defer cancelAlloc()
	chromeCtx, cancelChrome := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(format string, args ...interface{}) {
		if opts.Verbose {
			fmt.Fprintf(os.Stderr, "[CHROME] "+format+"\n", args...)
		}
	}))
	defer cancelChrome()

	if !opts.Headless {
		fmt.Fprintln(os.Stderr, "\n=== Browser Authentication ===")
		fmt.Fprintln(os.Stderr, "Sign in in the Chrome window. It closes once the session cookies are set.")
	}

	if err := chromedp.Run(chromeCtx, network.Enable(), chromedp.Navigate(serviceURL)); err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", serviceURL, err)
	}

	ticker := time.NewTicker(opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-chromeCtx.Done():
			return nil, fmt.Errorf("browser authentication ended before sign-in completed: %w", chromeCtx.Err())
		case <-ticker.C:
		}

		var location string
		var cookies []*network.Cookie
		err := chromedp.Run(chromeCtx,
			chromedp.Location(&location),
			chromedp.ActionFunc(func(ctx context.Context) error {
				var err error
				cookies, err = network.GetCookies().Do(ctx)
				return err
			}),
		)
		if err != nil {
			if opts.Verbose {
				fmt.Fprintf(os.Stderr, "[VERBOSE] Error reading cookies: %v\n", err)
			}
			continue
		}

		hostCookies := cookiesForHost(cookies, target.Hostname())
		if opts.Verbose {
			fmt.Fprintf(os.Stderr, "[VERBOSE] At %s with %d service cookies\n", location, len(hostCookies))
		}
		if signInComplete(location, target, hostCookies) {
			return hostCookies, nil
		}
	}
}

// cookiesForHost keeps cookies whose domain matches host or a parent domain
func cookiesForHost(cookies []*network.Cookie, host string) map[string]string {
	out := make(map[string]string)
	for _, cookie := range cookies {
		domain := strings.TrimPrefix(cookie.Domain, ".")
		if domain == host || strings.HasSuffix(host, "."+domain) {
			out[cookie.Name] = cookie.Value
		}
	}
	return out
}

// signInComplete reports whether the browser is back on the service with a
// session: either the SSO cookie is present, or the identity provider has
// redirected back to the service path and set cookies there
func signInComplete(location string, target *url.URL, cookies map[string]string) bool {
	if _, ok := cookies[ssoCookie]; ok {
		return true
	}
	current, err := url.Parse(location)
	if err != nil {
		return false
	}
	return current.Host == target.Host &&
		strings.HasPrefix(current.Path, target.Path) &&
		len(cookies) > 0
}
