package infra

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

// domesticNoProxy lists the mainland data-source domains that must bypass
// any configured proxy. They are appended to NO_PROXY at startup so a
// corporate or GFW proxy never sits between us and the exchanges.
var domesticNoProxy = []string{
	"eastmoney.com", "sina.com.cn", "163.com", "tushare.pro",
	"baostock.com", "sse.com.cn", "szse.cn", "csindex.com.cn",
	"cninfo.com.cn", "localhost", "127.0.0.1",
}

// userAgents is a small pool of current desktop browser identities.
var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:125.0) Gecko/20100101 Firefox/125.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
}

// RandomUserAgent returns one identity from the pool.
func RandomUserAgent() string {
	return userAgents[rand.Intn(len(userAgents))]
}

// InjectNoProxy appends the domestic data-source domains to the NO_PROXY
// environment variable (both spellings), preserving anything already set.
func InjectNoProxy() {
	existing := os.Getenv("NO_PROXY")
	if existing == "" {
		existing = os.Getenv("no_proxy")
	}
	seen := make(map[string]bool)
	parts := []string{}
	for _, p := range strings.Split(existing, ",") {
		p = strings.TrimSpace(p)
		if p != "" && !seen[p] {
			seen[p] = true
			parts = append(parts, p)
		}
	}
	for _, d := range domesticNoProxy {
		if !seen[d] {
			seen[d] = true
			parts = append(parts, d)
		}
	}
	merged := strings.Join(parts, ",")
	os.Setenv("NO_PROXY", merged)
	os.Setenv("no_proxy", merged)
}

// NewHTTPClient builds the shared client. proxyURL overrides the
// environment proxy when set; NO_PROXY is honored either way.
func NewHTTPClient(timeout time.Duration, proxyURL string) (*http.Client, error) {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        64,
		MaxIdleConnsPerHost: 8,
		IdleConnTimeout:     90 * time.Second,
	}
	if proxyURL != "" {
		u, err := url.Parse(proxyURL)
		if err != nil {
			return nil, fmt.Errorf("parse proxy url: %w", err)
		}
		transport.Proxy = http.ProxyURL(u)
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}, nil
}

// StatusError is a non-2xx HTTP response. The status text is part of the
// message so breaker ban heuristics can match on 403/429.
type StatusError struct {
	URL        string
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http %s: unexpected status %s", e.URL, e.Status)
}

// DoGet issues a GET with a rotated User-Agent and returns the body.
// Non-2xx responses return a *StatusError.
func DoGet(ctx context.Context, client *http.Client, rawURL string, headers map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", RandomUserAgent())
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return do(client, req)
}

// DoPostJSON issues a POST with a JSON-encoded payload and returns the body.
func DoPostJSON(ctx context.Context, client *http.Client, rawURL string, payload any, headers map[string]string) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", RandomUserAgent())
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return do(client, req)
}

func do(client *http.Client, req *http.Request) ([]byte, error) {
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain so the connection can be reused.
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{URL: req.URL.String(), StatusCode: resp.StatusCode, Status: resp.Status}
	}
	return io.ReadAll(resp.Body)
}
