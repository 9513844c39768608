package main

import (
	"context"
	"fmt"
	"os"

	"github.com/zmcp/odata-provider/internal/auth"
	"github.com/zmcp/odata-provider/internal/client"
	"github.com/zmcp/odata-provider/internal/config"
	"github.com/zmcp/odata-provider/internal/constants"
	"github.com/zmcp/odata-provider/internal/debug"
	"github.com/zmcp/odata-provider/internal/provider"
)

// session is everything a command needs to talk to the service
type session struct {
	cfg      *config.Config
	client   *client.ODataClient
	provider *provider.DataProvider
	tracer   *debug.TraceLogger
	authName string
}

func (s *session) Close() {
	if s.tracer != nil {
		_ = s.tracer.Close()
	}
}

// openSession builds the client and downloads $metadata
func openSession(ctx context.Context, args []string) (*session, error) {
	cfg, err := loadConfig(args)
	if err != nil {
		return nil, err
	}

	tracer, err := debug.NewTraceLogger(cfg.TraceFile)
	if err != nil {
		return nil, fmt.Errorf("failed to open trace file: %w", err)
	}
	if tracer.Enabled() {
		fmt.Fprintf(os.Stderr, "Trace logging to: %s\n", tracer.Filename())
		tracer.Log("INFO", "Configuration", map[string]interface{}{
			"service_url": debug.MaskURL(cfg.ServiceURL),
			"username":    cfg.Username,
			"password":    debug.MaskPassword(cfg.Password),
			"transport":   cfg.Transport,
			"read_only":   cfg.ReadOnly,
			"resources":   cfg.AllowedResources,
		})
	}

	s := &session{cfg: cfg, tracer: tracer}
	s.client = client.NewODataClient(cfg.ServiceURL, cfg.IsVerbose())
	s.client.SetTraceLogger(tracer)
	if t := cfg.Timeout(); t > 0 {
		s.client.SetTimeout(t)
	}
	if settings, ok := cfg.Retry(); ok {
		policy := client.DefaultRetryPolicy()
		policy.MaxRetries = settings.MaxRetries
		if settings.InitialBackoff > 0 {
			policy.InitialBackoff = settings.InitialBackoff
		}
		if settings.MaxBackoff > 0 {
			policy.MaxBackoff = settings.MaxBackoff
		}
		if settings.BackoffMultiplier > 0 {
			policy.BackoffMultiplier = settings.BackoffMultiplier
		}
		s.client.SetRetryPolicy(policy)
	}

	if s.authName, err = applyAuthentication(ctx, cfg, s.client); err != nil {
		s.Close()
		return nil, err
	}

	s.provider, err = provider.New(ctx, s.client, provider.Options{
		Verbose:          cfg.IsVerbose(),
		LegacyDates:      cfg.LegacyDates,
		V2NumberAsString: cfg.V2NumberAsStr,
		AllowResource:    cfg.IsResourceAllowed,
	})
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to load service metadata: %w", err)
	}
	return s, nil
}

// applyAuthentication configures at most one authentication method on the
// client and returns its name
func applyAuthentication(ctx context.Context, cfg *config.Config, c *client.ODataClient) (string, error) {
	methods := 0
	for _, set := range []bool{cfg.AuthAAD, cfg.AuthChrome || cfg.AuthChromeHeadless, cfg.CookieFile != "" || cfg.CookieString != "", cfg.HasBasicAuth()} {
		if set {
			methods++
		}
	}
	if methods > 1 {
		return "", fmt.Errorf("only one authentication method can be used (basic, cookies, --auth-aad or --auth-chrome)")
	}

	switch {
	case cfg.HasAADAuth():
		tokens, err := auth.NewAADTokenSource(aadConfig(cfg), cfg.ServiceURL, cfg.IsVerbose())
		if err != nil {
			return "", fmt.Errorf("AAD authentication setup failed: %w", err)
		}
		c.SetTokenSource(tokens)
		return "aad", nil

	case cfg.AuthChrome || cfg.AuthChromeHeadless:
		cookies, err := auth.BrowserLogin(ctx, cfg.ServiceURL, auth.BrowserLoginOptions{
			Headless: cfg.AuthChromeHeadless,
			Verbose:  cfg.IsVerbose(),
		})
		if err != nil {
			return "", fmt.Errorf("browser sign-in failed: %w", err)
		}
		cfg.Cookies = cookies
		c.SetCookies(cookies)
		return "browser", nil

	case cfg.CookieFile != "":
		cookies, err := auth.LoadCookieFile(cfg.CookieFile)
		if err != nil {
			return "", fmt.Errorf("failed to load cookie file: %w", err)
		}
		cfg.Cookies = cookies
		if cfg.IsVerbose() {
			fmt.Fprintf(os.Stderr, "[VERBOSE] Loaded %d cookies from %s\n", len(cookies), cfg.CookieFile)
		}
		c.SetCookies(cookies)
		return "cookie", nil

	case cfg.CookieString != "":
		cookies := auth.ParseCookieString(cfg.CookieString)
		if len(cookies) == 0 {
			return "", fmt.Errorf("no cookies found in --cookie-string")
		}
		cfg.Cookies = cookies
		c.SetCookies(cookies)
		return "cookie", nil

	case cfg.HasBasicAuth():
		if cfg.IsVerbose() {
			fmt.Fprintf(os.Stderr, "[VERBOSE] Using basic authentication for user: %s\n", cfg.Username)
		}
		c.SetBasicAuth(cfg.Username, cfg.Password)
		return "basic", nil
	}

	if cfg.Username != "" || cfg.Password != "" {
		return "", fmt.Errorf("basic authentication needs both --user and --password")
	}
	if cfg.IsVerbose() {
		fmt.Fprintf(os.Stderr, "[VERBOSE] No authentication configured.\n")
	}
	return "none", nil
}

func aadConfig(cfg *config.Config) *auth.AADConfig {
	clientID := cfg.AADClientID
	if clientID == "" {
		clientID = constants.DefaultAADClientID
	}
	cacheFile := cfg.AADCache
	if cacheFile == "" {
		cacheFile = auth.DefaultCacheFile()
	}
	return &auth.AADConfig{
		TenantID:    cfg.AADTenant,
		ClientID:    clientID,
		Scopes:      cfg.GetAADScopes(),
		CacheFile:   cacheFile,
		Interactive: cfg.AADBrowser,
		OpenBrowser: true,
	}
}
