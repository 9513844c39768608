// Copyright (c) 2024 OData MCP Contributors
// SPDX-License-Identifier: MIT

package debug

import (
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
)

// sensitiveFragments mark a header, query parameter or record field as secret
var sensitiveFragments = []string{
	"password", "passwd", "pwd", "secret",
	"token", "api_key", "apikey", "api-key",
	"authorization", "auth", "credential",
	"csrf", "cookie", "session",
}

// IsSensitiveKey reports whether a key name looks like it carries a secret
func IsSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, fragment := range sensitiveFragments {
		if strings.Contains(lower, fragment) {
			return true
		}
	}
	return false
}

// MaskPassword hides a password entirely
func MaskPassword(password string) string {
	if password == "" {
		return ""
	}
	return "***"
}

// MaskToken keeps the last 8 characters of a token, enough to tell two
// tokens apart in a log
func MaskToken(token string) string {
	return maskTail(token, 8, "****")
}

func maskTail(value string, keep int, prefix string) string {
	switch {
	case value == "":
		return ""
	case len(value) <= keep:
		return prefix
	default:
		return prefix + value[len(value)-keep:]
	}
}

// MaskURL hides userinfo passwords and secret query parameters. The service
// query options ($filter etc.) are left readable.
func MaskURL(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	if parsed.User != nil {
		if _, ok := parsed.User.Password(); ok {
			parsed.User = url.UserPassword(parsed.User.Username(), "***")
		}
	}

	query := parsed.Query()
	masked := false
	for key := range query {
		if !strings.HasPrefix(key, "$") && IsSensitiveKey(key) {
			query.Set(key, "***")
			masked = true
		}
	}
	if masked {
		parsed.RawQuery = query.Encode()
	}
	return parsed.String()
}

// MaskHeader hides a header value when the header carries credentials.
// Authorization keeps its scheme (Basic, Bearer).
func MaskHeader(name, value string) string {
	if value == "" {
		return ""
	}
	if strings.EqualFold(name, "Authorization") {
		if scheme, credential, ok := strings.Cut(value, " "); ok {
			return scheme + " " + MaskToken(credential)
		}
		return MaskToken(value)
	}
	if IsSensitiveKey(name) {
		return MaskToken(value)
	}
	return value
}

// MaskHeaders renders headers as "Name: value" pairs in name order with
// secrets hidden
func MaskHeaders(headers http.Header) string {
	names := make([]string, 0, len(headers))
	for name := range headers {
		names = append(names, name)
	}
	sort.Strings(names)

	var parts []string
	for _, name := range names {
		for _, value := range headers[name] {
			parts = append(parts, fmt.Sprintf("%s: %s", name, MaskHeader(name, value)))
		}
	}
	return strings.Join(parts, ", ")
}

// MaskCookies returns cookie names with masked values, for logging
func MaskCookies(cookies map[string]string) map[string]string {
	out := make(map[string]string, len(cookies))
	for name, value := range cookies {
		out[name] = MaskToken(value)
	}
	return out
}

// MaskRecord copies a record replacing the values of secret-looking fields
func MaskRecord(record map[string]interface{}) map[string]interface{} {
	if record == nil {
		return nil
	}
	out := make(map[string]interface{}, len(record))
	for k, v := range record {
		if IsSensitiveKey(k) {
			out[k] = "***"
			continue
		}
		out[k] = v
	}
	return out
}
