package auth

import (
	"bufio"
	"fmt"
	"io"
	"net/url"
	"os"
	"sort"
	"strings"
)

// LoadCookieFile reads cookies in Netscape format (7 tab-separated fields)
// or as name=value lines. Blank lines and # comments are skipped.
func LoadCookieFile(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open cookie file: %w", err)
	}
	defer file.Close()
	return ReadCookies(file)
}

// ReadCookies parses a cookie file from r
func ReadCookies(r io.Reader) (map[string]string, error) {
	cookies := make(map[string]string)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		// #HttpOnly_ marks an HttpOnly cookie in curl's format, not a comment
		line = strings.TrimPrefix(line, "#HttpOnly_")
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// domain, flag, path, secure, expiration, name, value
		if fields := strings.Split(line, "\t"); len(fields) >= 7 {
			cookies[fields[5]] = fields[6]
			continue
		}
		if name, value, ok := strings.Cut(line, "="); ok {
			cookies[strings.TrimSpace(name)] = strings.TrimSpace(value)
		}
	}
	return cookies, scanner.Err()
}

// ParseCookieString parses "name=value; name2=value2"
func ParseCookieString(s string) map[string]string {
	cookies := make(map[string]string)
	for _, part := range strings.Split(s, ";") {
		if name, value, ok := strings.Cut(strings.TrimSpace(part), "="); ok && name != "" {
			cookies[strings.TrimSpace(name)] = strings.TrimSpace(value)
		}
	}
	return cookies
}

// FormatCookieString renders cookies in name order as "a=1; b=2"
func FormatCookieString(cookies map[string]string) string {
	names := make([]string, 0, len(cookies))
	for name := range cookies {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = name + "=" + cookies[name]
	}
	return strings.Join(parts, "; ")
}

// SaveCookieFile writes cookies for serviceURL's host in Netscape format,
// readable by LoadCookieFile and curl. The file is only readable by the owner.
func SaveCookieFile(path, serviceURL string, cookies map[string]string) error {
	parsed, err := url.Parse(serviceURL)
	if err != nil || parsed.Hostname() == "" {
		return fmt.Errorf("invalid service URL: %s", serviceURL)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("failed to create cookie file: %w", err)
	}
	if err := WriteCookies(file, parsed.Hostname(), parsed.Scheme == "https", cookies); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// WriteCookies renders session cookies for host in Netscape format
func WriteCookies(w io.Writer, host string, secure bool, cookies map[string]string) error {
	names := make([]string, 0, len(cookies))
	for name := range cookies {
		names = append(names, name)
	}
	sort.Strings(names)

	secureFlag := "FALSE"
	if secure {
		secureFlag = "TRUE"
	}
	buf := bufio.NewWriter(w)
	fmt.Fprintln(buf, "# Netscape HTTP Cookie File")
	for _, name := range names {
		fmt.Fprintf(buf, "%s\tFALSE\t/\t%s\t0\t%s\t%s\n", host, secureFlag, name, cookies[name])
	}
	return buf.Flush()
}
