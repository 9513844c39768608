package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/zmcp/odata-provider/internal/auth"
	"github.com/zmcp/odata-provider/internal/bridge"
	"github.com/zmcp/odata-provider/internal/constants"
	"github.com/zmcp/odata-provider/internal/export"
	"github.com/zmcp/odata-provider/internal/models"
)

var resourcesCmd = &cobra.Command{
	Use:   "resources [service-url]",
	Short: "List the resources the service exposes",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd.Context(), args)
		if err != nil {
			return err
		}
		defer s.Close()

		result, err := s.provider.GetResources(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(result)
	},
}

var describeCmd = &cobra.Command{
	Use:   "describe <resource> [service-url]",
	Short: "Show the fields and navigation properties of a resource",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd.Context(), args[1:])
		if err != nil {
			return err
		}
		defer s.Close()

		set, err := s.provider.Resource(args[0])
		if err != nil {
			return err
		}
		return printJSON(bridge.Describe(set))
	},
}

var listCmd = &cobra.Command{
	Use:   "list <resource> [service-url]",
	Short: "Fetch one page of a resource",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd.Context(), args[1:])
		if err != nil {
			return err
		}
		defer s.Close()

		page, _ := cmd.Flags().GetInt("page")
		perPage, _ := cmd.Flags().GetInt("per-page")
		params := models.ListParams{
			Pagination: models.Pagination{Page: page, PerPage: perPage},
		}
		if params.Sort, err = sortFlag(cmd); err != nil {
			return err
		}
		if params.Filter, err = filterFlag(cmd); err != nil {
			return err
		}
		if id, _ := cmd.Flags().GetString("id"); id != "" {
			params.ID = id
			params.Related, _ = cmd.Flags().GetString("related")
		}

		result, err := s.provider.GetList(cmd.Context(), args[0], params)
		if err != nil {
			return err
		}
		return printJSON(result)
	},
}

var getCmd = &cobra.Command{
	Use:   "get <resource> <id> [service-url]",
	Short: "Fetch a single record by key",
	Args:  cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd.Context(), args[2:])
		if err != nil {
			return err
		}
		defer s.Close()

		result, err := s.provider.GetOne(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		return printJSON(result)
	},
}

var exportCmd = &cobra.Command{
	Use:   "export <resource> [service-url]",
	Short: "Export every page of a resource to an .xlsx workbook",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd.Context(), args[1:])
		if err != nil {
			return err
		}
		defer s.Close()

		out, _ := cmd.Flags().GetString("out")
		if out == "" {
			out = args[0] + ".xlsx"
		}
		perPage, _ := cmd.Flags().GetInt("per-page")
		maxRows, _ := cmd.Flags().GetInt("max-rows")
		opts := export.Options{PerPage: perPage, MaxRows: maxRows}
		if opts.Sort, err = sortFlag(cmd); err != nil {
			return err
		}
		if opts.Filter, err = filterFlag(cmd); err != nil {
			return err
		}
		if s.cfg.IsVerbose() {
			opts.Progress = func(rows int, total int64) {
				fmt.Fprintf(os.Stderr, "[VERBOSE] Exported %d of %d rows\n", rows, total)
			}
		}

		summary, err := export.ToFile(cmd.Context(), s.provider, args[0], out, opts)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "Wrote %d rows (%d columns, %d pages) of %s to %s\n",
			summary.Rows, len(summary.Columns), summary.Pages, summary.Resource, out)
		return nil
	},
}

var loginCmd = &cobra.Command{
	Use:   "login [service-url]",
	Short: "Sign in once and print the session cookies (or cache an Azure AD token)",
	Long: `Sign in to the service and keep the result for later runs.

With --auth-aad the token is acquired and stored in the MSAL cache file.
Otherwise Chrome opens the service URL; once sign-in completes the session
cookies are printed as a cookie string, or written to --save in Netscape format.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(args)
		if err != nil {
			return err
		}

		if cfg.AuthAAD {
			tokens, err := auth.NewAADTokenSource(aadConfig(cfg), cfg.ServiceURL, cfg.IsVerbose())
			if err != nil {
				return err
			}
			if _, err := tokens.Token(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "Signed in. Token cached in %s\n", aadConfig(cfg).CacheFile)
			return nil
		}

		cookies, err := auth.BrowserLogin(cmd.Context(), cfg.ServiceURL, auth.BrowserLoginOptions{
			Headless: cfg.AuthChromeHeadless,
			Verbose:  cfg.IsVerbose(),
		})
		if err != nil {
			return err
		}

		if path, _ := cmd.Flags().GetString("save"); path != "" {
			if err := auth.SaveCookieFile(path, cfg.ServiceURL, cookies); err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "Saved %d cookies to %s\n", len(cookies), path)
			return nil
		}
		fmt.Println(auth.FormatCookieString(cookies))
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout [service-url]",
	Short: "Remove cached Azure AD accounts",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(args)
		if err != nil {
			return err
		}
		tokens, err := auth.NewAADTokenSource(aadConfig(cfg), cfg.ServiceURL, cfg.IsVerbose())
		if err != nil {
			return err
		}
		return tokens.SignOut(cmd.Context())
	},
}

func init() {
	for _, cmd := range []*cobra.Command{listCmd, exportCmd} {
		cmd.Flags().String("sort", "", "Sort field, optionally with :asc or :desc (default: key)")
		cmd.Flags().StringArray("filter", nil, "Contains filter as field=value (repeatable)")
	}
	listCmd.Flags().Int("page", 1, "Page number, starting at 1")
	listCmd.Flags().Int("per-page", models.DefaultPerPage, "Records per page")
	listCmd.Flags().String("id", "", "List a navigation collection under this parent key")
	listCmd.Flags().String("related", "", "Navigation property to list with --id")

	exportCmd.Flags().StringP("out", "o", "", "Output file (default: <resource>.xlsx)")
	exportCmd.Flags().Int("per-page", constants.DefaultExportPerPage, "Records fetched per request")
	exportCmd.Flags().Int("max-rows", 0, "Stop after this many rows (0 exports everything)")

	loginCmd.Flags().String("save", "", "Write cookies to this file instead of printing them")
}

// sortFlag parses --sort field[:asc|:desc]
func sortFlag(cmd *cobra.Command) (models.Sort, error) {
	raw, _ := cmd.Flags().GetString("sort")
	if raw == "" {
		return models.Sort{}, nil
	}
	field, order, _ := strings.Cut(raw, ":")
	if strings.TrimSpace(field) == "" {
		return models.Sort{}, fmt.Errorf("invalid --sort %q", raw)
	}
	return models.Sort{Field: strings.TrimSpace(field), Order: models.ParseSortOrder(order)}, nil
}

// filterFlag parses repeated --filter field=value
func filterFlag(cmd *cobra.Command) (models.Filter, error) {
	raw, _ := cmd.Flags().GetStringArray("filter")
	if len(raw) == 0 {
		return nil, nil
	}
	filter := make(models.Filter, len(raw))
	for _, item := range raw {
		field, value, ok := strings.Cut(item, "=")
		if !ok || strings.TrimSpace(field) == "" {
			return nil, fmt.Errorf("invalid --filter %q, expected field=value", item)
		}
		filter[strings.TrimSpace(field)] = value
	}
	return filter, nil
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
