package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/zmcp/odata-provider/internal/constants"
	"github.com/zmcp/odata-provider/internal/debug"
	"github.com/zmcp/odata-provider/internal/query"
	"github.com/zmcp/odata-provider/internal/response"
)

// TokenSource supplies bearer tokens, refreshing them as needed
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Response is a fully read HTTP response
type Response struct {
	StatusCode int
	StatusText string
	Header     http.Header
	Body       []byte
}

// ODataClient executes request descriptions against one OData service
type ODataClient struct {
	baseURL        string
	httpClient     *http.Client
	username       string
	password       string
	tokens         TokenSource
	verbose        bool
	v4             bool
	retry          *RetryPolicy
	tracer         *debug.TraceLogger
	mu             sync.RWMutex // guards cookies, sessionCookies, csrfToken
	cookies        map[string]string
	sessionCookies []*http.Cookie
	csrfToken      string
}

// NewODataClient creates a client for the service rooted at baseURL
func NewODataClient(baseURL string, verbose bool) *ODataClient {
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}

	return &ODataClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: time.Duration(constants.DefaultTimeout) * time.Second,
		},
		verbose: verbose,
		retry:   DefaultRetryPolicy(),
	}
}

// BaseURL returns the normalized service root
func (c *ODataClient) BaseURL() string {
	return c.baseURL
}

// SetBasicAuth configures basic authentication
func (c *ODataClient) SetBasicAuth(username, password string) {
	c.username = username
	c.password = password
}

// SetCookies configures cookie authentication
func (c *ODataClient) SetCookies(cookies map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cookies = cookies
}

// SetTokenSource configures bearer authentication
func (c *ODataClient) SetTokenSource(tokens TokenSource) {
	c.tokens = tokens
}

// SetRetryPolicy replaces the retry policy; nil is ignored
func (c *ODataClient) SetRetryPolicy(policy *RetryPolicy) {
	if policy != nil {
		c.retry = policy
	}
}

// SetTimeout sets the per-request timeout
func (c *ODataClient) SetTimeout(timeout time.Duration) {
	if timeout > 0 {
		c.httpClient.Timeout = timeout
	}
}

// SetTraceLogger records every HTTP exchange in the trace file
func (c *ODataClient) SetTraceLogger(tracer *debug.TraceLogger) {
	c.tracer = tracer
}

// SetV4 selects v4 Accept headers. It is set from the metadata version.
func (c *ODataClient) SetV4(v4 bool) {
	c.v4 = v4
}

// FetchMetadata downloads the $metadata document
func (c *ODataClient) FetchMetadata(ctx context.Context) ([]byte, error) {
	req, err := c.newRequest(ctx, constants.GET, constants.MetadataEndpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set(constants.Accept, constants.ContentTypeXML)

	resp, err := c.send(req, nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		_, err := response.Classify(resp.StatusCode, resp.StatusText, resp.Body, "failed to fetch metadata")
		return nil, err
	}
	return resp.Body, nil
}

// Do executes a request description. Non-2xx responses are returned, not
// turned into errors; classification belongs to the caller.
func (c *ODataClient) Do(ctx context.Context, r *query.Request) (*Response, error) {
	var payload []byte
	if r.Body != nil {
		var err error
		payload, err = json.Marshal(r.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal entity data: %w", err)
		}
	}

	modifying := r.Method != constants.GET
	if modifying {
		c.mu.RLock()
		haveToken := c.csrfToken != ""
		c.mu.RUnlock()
		if !haveToken {
			if err := c.fetchCSRFToken(ctx); err != nil && c.verbose {
				// Not every service requires a token
				fmt.Fprintf(os.Stderr, "[VERBOSE] Failed to fetch CSRF token, proceeding without it: %v\n", err)
			}
		}
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := c.newRequest(ctx, r.Method, r.URL(), body)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set(constants.ContentType, constants.ContentTypeJSON)
		req.ContentLength = int64(len(payload))
		if c.verbose {
			fmt.Fprintf(os.Stderr, "[VERBOSE] Request body: %v\n", debug.MaskRecord(r.Body))
		}
	}
	if r.Method == constants.POST || r.Method == constants.PATCH {
		req.Header.Set(constants.Prefer, constants.PreferRepresentation)
	}

	return c.send(req, payload)
}

// newRequest creates an HTTP request with headers and credentials
func (c *ODataClient) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	fullURL := c.baseURL + strings.TrimPrefix(endpoint, "/")

	req, err := http.NewRequestWithContext(ctx, method, fullURL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set(constants.UserAgent, constants.DefaultUserAgent)
	if c.v4 {
		req.Header.Set(constants.Accept, constants.ContentTypeODataJSONV4)
	} else {
		req.Header.Set(constants.Accept, constants.ContentTypeJSON)
	}

	switch {
	case c.tokens != nil:
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to acquire access token: %w", err)
		}
		req.Header.Set(constants.Authorization, "Bearer "+token)
	case c.username != "" && c.password != "":
		req.SetBasicAuth(c.username, c.password)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	for name, value := range c.cookies {
		req.AddCookie(&http.Cookie{Name: name, Value: value})
	}
	for _, cookie := range c.sessionCookies {
		req.AddCookie(cookie)
	}
	if c.csrfToken != "" {
		req.Header.Set(constants.CSRFTokenHeader, c.csrfToken)
	}

	return req, nil
}

// send executes req with retries and one CSRF re-fetch. payload is the
// request body, replayed on every attempt.
func (c *ODataClient) send(req *http.Request, payload []byte) (*Response, error) {
	var lastErr error
	var last *Response
	csrfRetried := false
	modifying := req.Method != constants.GET

	for attempt := 0; attempt <= c.retry.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := c.retry.Backoff(attempt - 1)
			if c.verbose {
				fmt.Fprintf(os.Stderr, "[VERBOSE] Retry attempt %d/%d after %v\n", attempt, c.retry.MaxRetries, backoff)
			}
			select {
			case <-req.Context().Done():
				return nil, req.Context().Err()
			case <-time.After(backoff):
			}
		}

		if payload != nil {
			req.Body = io.NopCloser(bytes.NewReader(payload))
			req.ContentLength = int64(len(payload))
		}

		if c.verbose && attempt == 0 {
			fmt.Fprintf(os.Stderr, "[VERBOSE] %s %s\n", req.Method, debug.MaskURL(req.URL.String()))
		}

		started := time.Now()
		httpResp, err := c.httpClient.Do(req)
		if err != nil {
			if req.Context().Err() != nil {
				return nil, req.Context().Err()
			}
			lastErr = fmt.Errorf("HTTP request failed: %w", err)
			if c.verbose {
				fmt.Fprintf(os.Stderr, "[VERBOSE] Request failed: %v\n", err)
			}
			continue
		}

		body, readErr := io.ReadAll(httpResp.Body)
		httpResp.Body.Close()
		c.tracer.LogHTTP(req.Method, req.URL.String(), httpResp.StatusCode, time.Since(started))
		if readErr != nil {
			lastErr = fmt.Errorf("failed to read response body: %w", readErr)
			continue
		}

		last = &Response{
			StatusCode: httpResp.StatusCode,
			StatusText: statusText(httpResp),
			Header:     httpResp.Header,
			Body:       body,
		}

		if modifying && !csrfRetried && isCSRFRejection(httpResp, body) {
			if c.verbose {
				fmt.Fprintf(os.Stderr, "[VERBOSE] CSRF token validation failed, attempting to refetch...\n")
			}
			csrfRetried = true
			if err := c.fetchCSRFToken(req.Context()); err != nil {
				return nil, fmt.Errorf("CSRF token required but refetch failed (HTTP %d): %w", httpResp.StatusCode, err)
			}
			c.mu.RLock()
			req.Header.Set(constants.CSRFTokenHeader, c.csrfToken)
			c.mu.RUnlock()
			attempt-- // the CSRF retry is free
			continue
		}

		if c.retry.ShouldRetry(httpResp.StatusCode, attempt) {
			if c.verbose {
				fmt.Fprintf(os.Stderr, "[VERBOSE] Received status %d, will retry\n", httpResp.StatusCode)
			}
			continue
		}

		return last, nil
	}

	if last != nil {
		return last, nil
	}
	return nil, fmt.Errorf("all %d retries failed: %w", c.retry.MaxRetries, lastErr)
}

// statusText strips the numeric code from resp.Status ("404 Not Found")
func statusText(resp *http.Response) string {
	if _, text, ok := strings.Cut(resp.Status, " "); ok && text != "" {
		return text
	}
	return http.StatusText(resp.StatusCode)
}

// fetchCSRFToken fetches a fresh token from the service root
func (c *ODataClient) fetchCSRFToken(ctx context.Context) error {
	if c.verbose {
		fmt.Fprintf(os.Stderr, "[VERBOSE] Fetching CSRF token...\n")
	}

	c.mu.Lock()
	c.csrfToken = ""
	c.mu.Unlock()

	req, err := c.newRequest(ctx, constants.GET, "", nil)
	if err != nil {
		return err
	}
	req.Header.Set(constants.CSRFTokenHeader, constants.CSRFTokenFetch)

	if c.verbose {
		fmt.Fprintf(os.Stderr, "[VERBOSE] Token fetch headers: %s\n", debug.MaskHeaders(req.Header))
	}

	// No retries here; a failing fetch falls back to the caller's request
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("CSRF token request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if cookies := resp.Cookies(); len(cookies) > 0 {
		c.mu.Lock()
		c.sessionCookies = mergeCookies(c.sessionCookies, cookies)
		c.mu.Unlock()
		if c.verbose {
			fmt.Fprintf(os.Stderr, "[VERBOSE] Received %d session cookies during token fetch\n", len(cookies))
		}
	}

	// Header lookup is case-insensitive
	token := resp.Header.Get(constants.CSRFTokenHeader)
	if token == "" || strings.EqualFold(token, constants.CSRFTokenFetch) {
		return fmt.Errorf("CSRF token not found in response headers")
	}

	c.mu.Lock()
	c.csrfToken = token
	c.mu.Unlock()
	if c.verbose {
		fmt.Fprintf(os.Stderr, "[VERBOSE] CSRF token fetched successfully: %s\n", debug.MaskToken(token))
	}
	return nil
}

// mergeCookies replaces cookies with the same name instead of accumulating
// duplicates across token fetches
func mergeCookies(existing, received []*http.Cookie) []*http.Cookie {
	byName := make(map[string]int, len(existing))
	for i, cookie := range existing {
		byName[cookie.Name] = i
	}
	for _, cookie := range received {
		if i, ok := byName[cookie.Name]; ok {
			existing[i] = cookie
			continue
		}
		byName[cookie.Name] = len(existing)
		existing = append(existing, cookie)
	}
	return existing
}
