package config

import (
	"path"
	"strings"
	"time"
)

// Config holds all configuration options of the provider and its MCP server
type Config struct {
	// Service configuration
	ServiceURL string `mapstructure:"service_url"`

	// Authentication
	Username     string            `mapstructure:"username"`
	Password     string            `mapstructure:"password"`
	CookieFile   string            `mapstructure:"cookie_file"`
	CookieString string            `mapstructure:"cookie_string"`
	Cookies      map[string]string // Parsed cookies

	// AAD authentication
	AuthAAD     bool   `mapstructure:"auth_aad"`
	AADTenant   string `mapstructure:"aad_tenant"`
	AADClientID string `mapstructure:"aad_client_id"`
	AADScopes   string `mapstructure:"aad_scopes"` // Comma-separated
	AADCache    string `mapstructure:"aad_cache"`
	AADBrowser  bool   `mapstructure:"aad_browser"` // Interactive browser flow instead of device code

	// Browser SSO login
	AuthChrome         bool `mapstructure:"auth_chrome"`
	AuthChromeHeadless bool `mapstructure:"auth_chrome_headless"`

	// Resource filtering
	Resources        string   `mapstructure:"resources"`
	AllowedResources []string // Parsed from Resources; supports trailing '*' and path.Match patterns
	ReadOnly         bool     `mapstructure:"read_only"`

	// Payload handling
	LegacyDates   bool `mapstructure:"legacy_dates"`     // Convert /Date(ms)/ in responses to ISO 8601
	V2NumberAsStr bool `mapstructure:"v2_number_as_str"` // Send Edm.Decimal/Edm.Int64 as strings to v2 services

	// Transport to the OData service
	TimeoutSeconds    int     `mapstructure:"timeout"`
	MaxRetries        int     `mapstructure:"max_retries"`
	InitialBackoffMs  int     `mapstructure:"initial_backoff_ms"`
	MaxBackoffMs      int     `mapstructure:"max_backoff_ms"`
	BackoffMultiplier float64 `mapstructure:"backoff_multiplier"`

	// MCP transport
	Transport         string   `mapstructure:"transport"` // "stdio" or "http"
	HTTPAddr          string   `mapstructure:"http_addr"`
	CORSOrigins       string   `mapstructure:"cors_origins"`
	AllowedOrigins    []string // Parsed from CORSOrigins
	IAmSecurityExpert bool     `mapstructure:"i_am_security_expert"` // Allow non-localhost HTTP binding
	ToolPrefix        string   `mapstructure:"tool_prefix"`

	// Output and debugging
	Verbose   bool   `mapstructure:"verbose"`
	Debug     bool   `mapstructure:"debug"`
	TraceFile string `mapstructure:"trace_file"`
}

// RetrySettings is the retry part of the configuration, in client units
type RetrySettings struct {
	MaxRetries        int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
}

// HasBasicAuth returns true if username and password are configured
func (c *Config) HasBasicAuth() bool {
	return c.Username != "" && c.Password != ""
}

// HasCookieAuth returns true if cookies are configured
func (c *Config) HasCookieAuth() bool {
	return len(c.Cookies) > 0
}

// HasAADAuth returns true if AAD authentication is configured
func (c *Config) HasAADAuth() bool {
	return c.AuthAAD
}

// IsVerbose is true for --verbose and --debug
func (c *Config) IsVerbose() bool {
	return c.Verbose || c.Debug
}

// GetAADScopes returns the parsed AAD scopes
func (c *Config) GetAADScopes() []string {
	return ParseCommaSeparated(c.AADScopes)
}

// Timeout returns the per-request timeout, zero meaning the client default
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Retry returns the retry settings; ok is false when none were configured
func (c *Config) Retry() (settings RetrySettings, ok bool) {
	if c.MaxRetries <= 0 && c.InitialBackoffMs <= 0 {
		return RetrySettings{}, false
	}
	return RetrySettings{
		MaxRetries:        c.MaxRetries,
		InitialBackoff:    time.Duration(c.InitialBackoffMs) * time.Millisecond,
		MaxBackoff:        time.Duration(c.MaxBackoffMs) * time.Millisecond,
		BackoffMultiplier: c.BackoffMultiplier,
	}, true
}

// IsResourceAllowed checks a resource name against the allow-list. An empty
// list allows everything. Matching is case-insensitive.
func (c *Config) IsResourceAllowed(resource string) bool {
	if len(c.AllowedResources) == 0 {
		return true
	}
	name := strings.ToLower(resource)
	for _, pattern := range c.AllowedResources {
		pattern = strings.ToLower(pattern)
		if strings.HasSuffix(pattern, "*") && strings.HasPrefix(name, strings.TrimSuffix(pattern, "*")) {
			return true
		}
		if ok, err := path.Match(pattern, name); err == nil && ok {
			return true
		}
	}
	return false
}

// ParseCommaSeparated splits a comma-separated list, dropping empty items
func ParseCommaSeparated(s string) []string {
	var items []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}
