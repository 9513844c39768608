package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zmcp/odata-provider/internal/query"
	"github.com/zmcp/odata-provider/internal/response"
)

func fastRetry(maxRetries int) *RetryPolicy {
	p := DefaultRetryPolicy()
	p.MaxRetries = maxRetries
	p.InitialBackoff = time.Millisecond
	p.MaxBackoff = 5 * time.Millisecond
	p.JitterFraction = 0
	return p
}

type staticTokens string

func (s staticTokens) Token(context.Context) (string, error) { return string(s), nil }

type failingTokens struct{}

func (failingTokens) Token(context.Context) (string, error) { return "", errors.New("expired") }

func TestDoGet(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/odata/Products", r.URL.Path)
		assert.Equal(t, "contains(ProductName,'Chai Tea')", r.URL.Query().Get("$filter"))
		assert.NotContains(t, r.URL.RawQuery, "+")
		assert.Equal(t, "application/json;odata.metadata=minimal", r.Header.Get("Accept"))
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "alice", user)
		assert.Equal(t, "secret", pass)
		w.Write([]byte(`{"value":[]}`))
	}))
	defer server.Close()

	c := NewODataClient(server.URL+"/odata", false)
	c.SetV4(true)
	c.SetBasicAuth("alice", "secret")
	assert.Equal(t, server.URL+"/odata/", c.BaseURL())

	req, err := query.NewBuilder(true).Build()
	require.NoError(t, err)
	req.Path = "Products"
	req.Query.Set("$filter", "contains(ProductName,'Chai Tea')")

	resp, err := c.Do(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "OK", resp.StatusText)
	assert.JSONEq(t, `{"value":[]}`, string(resp.Body))
}

func TestDoBearerAndCookies(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok-123", r.Header.Get("Authorization"))
		if cookie, err := r.Cookie("MYSAPSSO2"); assert.NoError(t, err) {
			assert.Equal(t, "sso", cookie.Value)
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	c := NewODataClient(server.URL, false)
	c.SetTokenSource(staticTokens("tok-123"))
	c.SetCookies(map[string]string{"MYSAPSSO2": "sso"})
	c.SetRetryPolicy(NoRetry())

	resp, err := c.Do(context.Background(), &query.Request{Method: "GET", Path: "Products(1)"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "Not Found", resp.StatusText)

	c.SetTokenSource(failingTokens{})
	_, err = c.Do(context.Background(), &query.Request{Method: "GET", Path: "Products(1)"})
	assert.ErrorContains(t, err, "expired")
}

func TestDoRetries(t *testing.T) {
	tests := []struct {
		name             string
		maxRetries       int
		statuses         []int
		expectedAttempts int32
		expectedStatus   int
	}{
		{"success on first try", 3, []int{200}, 1, 200},
		{"success after retries", 3, []int{503, 502, 200}, 3, 200},
		{"exhausts retries", 2, []int{503, 503, 503}, 3, 503},
		{"rate limited", 2, []int{429, 200}, 2, 200},
		{"not retryable", 3, []int{400}, 1, 400},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var attempts int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				n := atomic.AddInt32(&attempts, 1) - 1
				status := 200
				if int(n) < len(tt.statuses) {
					status = tt.statuses[n]
				}
				w.WriteHeader(status)
				w.Write([]byte(`{}`))
			}))
			defer server.Close()

			c := NewODataClient(server.URL, false)
			c.SetRetryPolicy(fastRetry(tt.maxRetries))

			resp, err := c.Do(context.Background(), &query.Request{Method: "GET", Path: "Products"})
			require.NoError(t, err)
			assert.Equal(t, tt.expectedStatus, resp.StatusCode)
			assert.Equal(t, tt.expectedAttempts, atomic.LoadInt32(&attempts))
		})
	}
}

func TestDoContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	c := NewODataClient(server.URL, false)
	policy := fastRetry(5)
	policy.InitialBackoff = time.Second
	policy.MaxBackoff = time.Second
	c.SetRetryPolicy(policy)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.Do(ctx, &query.Request{Method: "GET", Path: "Products"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDoCSRF(t *testing.T) {
	var fetches, posts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-CSRF-Token") == "Fetch" {
			n := atomic.AddInt32(&fetches, 1)
			http.SetCookie(w, &http.Cookie{Name: "SAP_SESSIONID", Value: "s"})
			if n == 1 {
				w.Header().Set("X-CSRF-Token", "stale-token")
			} else {
				w.Header().Set("X-CSRF-Token", "fresh-token")
			}
			return
		}

		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "return=representation", r.Header.Get("Prefer"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		atomic.AddInt32(&posts, 1)
		if r.Header.Get("X-CSRF-Token") != "fresh-token" {
			w.Header().Set("X-CSRF-Token", "Required")
			w.WriteHeader(http.StatusForbidden)
			return
		}
		_, err := r.Cookie("SAP_SESSIONID")
		assert.NoError(t, err)

		var body map[string]interface{}
		raw, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(raw, &body))
		assert.Equal(t, "Chai", body["ProductName"])

		w.WriteHeader(http.StatusCreated)
		w.Write(raw)
	}))
	defer server.Close()

	c := NewODataClient(server.URL, false)
	c.SetRetryPolicy(NoRetry())

	resp, err := c.Do(context.Background(), &query.Request{
		Method: "POST",
		Path:   "Products",
		Body:   map[string]interface{}{"ProductName": "Chai"},
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, int32(2), atomic.LoadInt32(&fetches))
	assert.Equal(t, int32(2), atomic.LoadInt32(&posts))
	assert.Len(t, c.sessionCookies, 1)
}

func TestFetchMetadata(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/$metadata" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		assert.Equal(t, "application/xml", r.Header.Get("Accept"))
		w.Write([]byte(`<edmx:Edmx Version="4.0"/>`))
	}))
	defer server.Close()

	body, err := NewODataClient(server.URL, false).FetchMetadata(context.Background())
	require.NoError(t, err)
	assert.Contains(t, string(body), "Edmx")

	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer broken.Close()

	c := NewODataClient(broken.URL, false)
	c.SetRetryPolicy(NoRetry())
	_, err = c.FetchMetadata(context.Background())
	var respErr *response.Error
	require.True(t, errors.As(err, &respErr))
	assert.Equal(t, http.StatusUnauthorized, respErr.StatusCode)
	assert.Equal(t, "Unauthorized", respErr.Message)
}

func TestMergeCookies(t *testing.T) {
	merged := mergeCookies(
		[]*http.Cookie{{Name: "a", Value: "1"}},
		[]*http.Cookie{{Name: "a", Value: "2"}, {Name: "b", Value: "3"}},
	)
	require.Len(t, merged, 2)
	assert.Equal(t, "2", merged[0].Value)
	assert.Equal(t, "b", merged[1].Name)
}
