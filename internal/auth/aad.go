package auth

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/AzureAD/microsoft-authentication-library-for-go/apps/public"
	"github.com/google/uuid"
	"github.com/pkg/browser"
)

// refreshMargin renews tokens this long before they expire
const refreshMargin = 5 * time.Minute

// AADConfig holds Azure AD settings
type AADConfig struct {
	// TenantID is a tenant GUID, a domain such as contoso.onmicrosoft.com, or "common"
	TenantID string
	// ClientID is the application (client) ID of a public client registration
	ClientID string
	// Scopes default to {service host}/.default
	Scopes []string
	// CacheFile persists MSAL accounts and refresh tokens; empty keeps them in memory
	CacheFile string
	// Interactive uses the system browser flow instead of device code
	Interactive bool
	// OpenBrowser opens the device code verification page automatically
	OpenBrowser bool
	// Authority overrides https://login.microsoftonline.com/{tenant}
	Authority string
}

// Validate checks required settings
func (c *AADConfig) Validate() error {
	if c.TenantID == "" {
		return errors.New("tenant ID is required")
	}
	if c.ClientID == "" {
		return errors.New("client ID is required")
	}
	if _, err := uuid.Parse(c.ClientID); err != nil {
		return fmt.Errorf("client ID must be a valid GUID: %w", err)
	}
	return nil
}

// AuthorityURL returns the login authority for the tenant
func (c *AADConfig) AuthorityURL() string {
	if c.Authority != "" {
		return c.Authority
	}
	return "https://login.microsoftonline.com/" + c.TenantID
}

// ScopesFor returns the configured scopes or the .default scope of the
// service host
func (c *AADConfig) ScopesFor(serviceURL string) []string {
	if len(c.Scopes) > 0 {
		return c.Scopes
	}
	parsed, err := url.Parse(serviceURL)
	if err != nil || parsed.Host == "" {
		return nil
	}
	return []string{"https://" + parsed.Host + "/.default"}
}

// AADTokenSource supplies bearer tokens from Azure AD. Tokens are renewed
// silently while MSAL holds a refresh token; otherwise the user is prompted.
type AADTokenSource struct {
	config  *AADConfig
	scopes  []string
	client  public.Client
	verbose bool

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

// NewAADTokenSource creates a token source for serviceURL
func NewAADTokenSource(config *AADConfig, serviceURL string, verbose bool) (*AADTokenSource, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid AAD configuration: %w", err)
	}
	scopes := config.ScopesFor(serviceURL)
	if len(scopes) == 0 {
		return nil, fmt.Errorf("no AAD scopes configured and none derivable from %q", serviceURL)
	}

	options := []public.Option{public.WithAuthority(config.AuthorityURL())}
	if config.CacheFile != "" {
		options = append(options, public.WithCache(NewFileCache(config.CacheFile)))
	}

	client, err := public.New(config.ClientID, options...)
	if err != nil {
		return nil, fmt.Errorf("failed to create MSAL client: %w", err)
	}

	return &AADTokenSource{
		config:  config,
		scopes:  scopes,
		client:  client,
		verbose: verbose,
	}, nil
}

// Token returns a valid access token
func (s *AADTokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != "" && time.Until(s.expiresAt) > refreshMargin {
		return s.token, nil
	}

	result, err := s.acquireSilent(ctx)
	if err != nil {
		if s.verbose {
			fmt.Fprintf(os.Stderr, "[VERBOSE] Silent AAD token acquisition failed: %v\n", err)
		}
		if s.config.Interactive {
			result, err = s.client.AcquireTokenInteractive(ctx, s.scopes)
		} else {
			result, err = s.acquireByDeviceCode(ctx)
		}
		if err != nil {
			return "", fmt.Errorf("AAD authentication failed: %w", err)
		}
	}

	s.token = result.AccessToken
	s.expiresAt = result.ExpiresOn
	if s.verbose {
		fmt.Fprintf(os.Stderr, "[VERBOSE] AAD token acquired, expires %s\n", result.ExpiresOn.Format(time.RFC3339))
	}
	return s.token, nil
}

func (s *AADTokenSource) acquireSilent(ctx context.Context) (public.AuthResult, error) {
	accounts, err := s.client.Accounts(ctx)
	if err != nil {
		return public.AuthResult{}, err
	}
	if len(accounts) == 0 {
		return public.AuthResult{}, errors.New("no cached account")
	}
	return s.client.AcquireTokenSilent(ctx, s.scopes, public.WithSilentAccount(accounts[0]))
}

// acquireByDeviceCode prompts on stderr; stdout may carry JSON-RPC
func (s *AADTokenSource) acquireByDeviceCode(ctx context.Context) (public.AuthResult, error) {
	code, err := s.client.AcquireTokenByDeviceCode(ctx, s.scopes)
	if err != nil {
		return public.AuthResult{}, fmt.Errorf("failed to initiate device code flow: %w", err)
	}

	fmt.Fprintln(os.Stderr, "\n=== Azure AD Authentication Required ===")
	fmt.Fprintf(os.Stderr, "Open %s and enter the code: %s\n", code.Result.VerificationURL, code.Result.UserCode)
	fmt.Fprintln(os.Stderr, "Waiting for authentication...")

	if s.config.OpenBrowser {
		browser.Stdout = os.Stderr
		if err := browser.OpenURL(code.Result.VerificationURL); err != nil && s.verbose {
			fmt.Fprintf(os.Stderr, "[VERBOSE] Could not open browser: %v\n", err)
		}
	}

	return code.AuthenticationResult(ctx)
}

// SignOut removes cached accounts
func (s *AADTokenSource) SignOut(ctx context.Context) error {
	s.mu.Lock()
	s.token = ""
	s.expiresAt = time.Time{}
	s.mu.Unlock()

	accounts, err := s.client.Accounts(ctx)
	if err != nil {
		return err
	}
	var errs []string
	for _, account := range accounts {
		if err := s.client.RemoveAccount(ctx, account); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("failed to remove accounts: %s", strings.Join(errs, "; "))
	}
	return nil
}
