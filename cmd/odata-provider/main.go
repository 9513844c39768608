package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/zmcp/odata-provider/internal/config"
	"github.com/zmcp/odata-provider/internal/constants"
)

var rootCmd = &cobra.Command{
	Use:   "odata-provider [service-url]",
	Short: "Metadata-driven data provider for OData v4 and v2 services",
	Long: `Metadata-driven data provider for OData services.

Reads the service's $metadata once and exposes a generic list/get/create/update/delete
contract, either as MCP tools (serve, the default) or as one-shot commands.

Examples:
  odata-provider https://services.odata.org/V4/Northwind/Northwind.svc/
  odata-provider serve --transport http --http-addr 127.0.0.1:8080 --read-only
  odata-provider list Products --page 2 --per-page 10 --sort ProductName:desc
  odata-provider get Customers ALFKI
  odata-provider export Orders --out orders.xlsx
  odata-provider login --auth-chrome https://sap.example.com/sap/opu/odata/sap/API_SRV/`,
	Args:          cobra.MaximumNArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
}

// flagKeys maps flag names to configuration keys. Every key is also read
// from ODATA_<KEY> in the environment.
var flagKeys = map[string]string{
	"service":              "service_url",
	"user":                 "username",
	"password":             "password",
	"cookie-file":          "cookie_file",
	"cookie-string":        "cookie_string",
	"auth-aad":             "auth_aad",
	"aad-tenant":           "aad_tenant",
	"aad-client-id":        "aad_client_id",
	"aad-scopes":           "aad_scopes",
	"aad-cache":            "aad_cache",
	"aad-browser":          "aad_browser",
	"auth-chrome":          "auth_chrome",
	"auth-chrome-headless": "auth_chrome_headless",
	"resources":            "resources",
	"read-only":            "read_only",
	"legacy-dates":         "legacy_dates",
	"v2-number-as-string":  "v2_number_as_str",
	"timeout":              "timeout",
	"max-retries":          "max_retries",
	"initial-backoff-ms":   "initial_backoff_ms",
	"max-backoff-ms":       "max_backoff_ms",
	"backoff-multiplier":   "backoff_multiplier",
	"verbose":              "verbose",
	"debug":                "debug",
	"trace-file":           "trace_file",
	"transport":            "transport",
	"http-addr":            "http_addr",
	"cors-origins":         "cors_origins",
	"i-am-security-expert": "i_am_security_expert",
	"tool-prefix":          "tool_prefix",
}

// serveFlags are shared by the root command and serve
var serveFlags = pflag.NewFlagSet("serve", pflag.ContinueOnError)

func init() {
	// .env is optional
	_ = godotenv.Load()

	rootCmd.RunE = runServe
	flags := rootCmd.PersistentFlags()

	flags.String("service", "", "URL of the OData service (overrides positional argument and ODATA_SERVICE_URL)")

	flags.StringP("user", "u", "", "Username for basic authentication")
	flags.StringP("password", "p", "", "Password for basic authentication")
	flags.String("cookie-file", "", "Path to cookie file in Netscape or name=value format")
	flags.String("cookie-string", "", "Cookie string (key1=val1; key2=val2)")

	flags.Bool("auth-aad", false, "Use Azure AD bearer tokens")
	flags.String("aad-tenant", "organizations", "Azure AD tenant ID or domain")
	flags.String("aad-client-id", "", "Azure AD application (client) ID (default: Azure CLI public client)")
	flags.String("aad-scopes", "", "Comma-separated OAuth2 scopes (default: service host + /.default)")
	flags.String("aad-cache", "", "Token cache file (default: user config directory)")
	flags.Bool("aad-browser", false, "Use the interactive browser flow instead of device code")
	flags.Bool("auth-chrome", false, "Sign in through Chrome and use the resulting session cookies")
	flags.Bool("auth-chrome-headless", false, "Like --auth-chrome but without a visible window (for SSO that needs no input)")

	flags.String("resources", "", "Comma-separated resources to expose, wildcards allowed (e.g. 'Product*,Orders')")
	flags.Bool("read-only", false, "Hide create, update and delete operations")
	flags.Bool("legacy-dates", true, "Convert /Date(ms)/ values in responses to ISO 8601")
	flags.Bool("v2-number-as-string", true, "Send Edm.Decimal and Edm.Int64 values as strings to OData v2 services")

	flags.Int("timeout", constants.DefaultTimeout, "Request timeout in seconds")
	flags.Int("max-retries", 3, "Retries for throttled (429) and 5xx responses")
	flags.Int("initial-backoff-ms", 100, "Delay before the first retry")
	flags.Int("max-backoff-ms", 10000, "Upper bound for retry delays")
	flags.Float64("backoff-multiplier", 2.0, "Growth factor between retries")

	flags.BoolP("verbose", "v", false, "Enable verbose output to stderr")
	flags.Bool("debug", false, "Alias for --verbose")
	flags.String("trace-file", "", "Write a JSON-lines trace of MCP and HTTP traffic to this file ('auto' for a temp file)")

	serveFlags.String("transport", "stdio", "MCP transport: 'stdio' or 'http'")
	serveFlags.String("http-addr", constants.DefaultHTTPAddr, "Listen address for --transport http")
	serveFlags.String("cors-origins", "", "Comma-separated CORS origins for --transport http (default: localhost only)")
	serveFlags.Bool("i-am-security-expert", false, "Accept MCP HTTP connections from non-loopback addresses")
	serveFlags.String("tool-prefix", "", "Prefix for MCP tool names, e.g. 'northwind_'")
	rootCmd.Flags().AddFlagSet(serveFlags)

	viper.SetEnvPrefix("ODATA")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	bindFlags(flags)
	bindFlags(serveFlags)

	rootCmd.AddCommand(serveCmd, resourcesCmd, describeCmd, listCmd, getCmd, exportCmd, loginCmd, logoutCmd)
}

func bindFlags(flags *pflag.FlagSet) {
	flags.VisitAll(func(f *pflag.Flag) {
		if key, ok := flagKeys[f.Name]; ok {
			_ = viper.BindPFlag(key, f)
		}
	})
}

// loadConfig resolves flags, environment and .env into a Config. The service
// URL comes from --service, then the positional argument, then the environment.
func loadConfig(args []string) (*config.Config, error) {
	cfg := &config.Config{}
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to read configuration: %w", err)
	}
	if cfg.Debug {
		cfg.Verbose = true
	}

	if !rootCmd.PersistentFlags().Changed("service") && len(args) > 0 {
		cfg.ServiceURL = args[0]
		if cfg.Verbose {
			fmt.Fprintf(os.Stderr, "[VERBOSE] Using OData service URL from positional argument.\n")
		}
	}
	if cfg.ServiceURL == "" {
		cfg.ServiceURL = viper.GetString("url")
	}
	if cfg.ServiceURL == "" {
		return nil, fmt.Errorf("OData service URL not provided. Use --service, a positional argument, ODATA_SERVICE_URL or ODATA_URL")
	}

	cfg.AllowedResources = config.ParseCommaSeparated(cfg.Resources)
	cfg.AllowedOrigins = config.ParseCommaSeparated(cfg.CORSOrigins)
	if cfg.Verbose && len(cfg.AllowedResources) > 0 {
		fmt.Fprintf(os.Stderr, "[VERBOSE] Exposing only resources matching: %v\n", cfg.AllowedResources)
	}
	return cfg, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
