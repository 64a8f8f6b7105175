// Package deepl is a thin client for the DeepL text, document, glossary and
// usage endpoints.
//
// Every call fails with a *TransportError (network or timeout) or a
// *ProviderError (HTTP 4xx/5xx with the decoded message). Only
// TranslateBatch retries, and only on 429/503; all other calls surface
// errors immediately. The API key travels in the Authorization header and
// never appears in logs.
package deepl

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/minios-linux/doctrans/metrics"
)

// Base URLs of the paid and free API plans.
const (
	ProBaseURL  = "https://api.deepl.com/v2"
	FreeBaseURL = "https://api-free.deepl.com/v2"
)

// ---------------------------------------------------------------------------
// Options
// ---------------------------------------------------------------------------

// Options configures a Client.
type Options struct {
	// APIKey is the DeepL authentication key.
	APIKey string
	// BaseURL overrides the endpoint; keys ending in ":fx" default to the free plan.
	BaseURL string
	// Proxy is an explicit proxy URL; HTTP(S)_PROXY is used when empty.
	Proxy string
	// ConnectTimeout bounds connection setup. Default: 15s.
	ConnectTimeout time.Duration
	// Timeout bounds each request end to end. Default: 60s.
	Timeout time.Duration
	// BatchMaxChars is the character budget of one batch request. Default: 30000.
	BatchMaxChars int
	// BatchMaxAttempts caps attempts per batch on 429/503. Default: 5.
	BatchMaxAttempts int
	// BatchBaseDelay is the first backoff delay, doubled per attempt. Default: 1s.
	BatchBaseDelay time.Duration
	// Verbose logs every request at debug level.
	Verbose bool
}

func (o *Options) effectiveConnectTimeout() time.Duration {
	if o.ConnectTimeout > 0 {
		return o.ConnectTimeout
	}
	return 15 * time.Second
}

func (o *Options) effectiveTimeout() time.Duration {
	if o.Timeout > 0 {
		return o.Timeout
	}
	return 60 * time.Second
}

func (o *Options) effectiveBatchMaxChars() int {
	if o.BatchMaxChars > 0 {
		return o.BatchMaxChars
	}
	return 30000
}

func (o *Options) effectiveBatchMaxAttempts() int {
	if o.BatchMaxAttempts > 0 {
		return o.BatchMaxAttempts
	}
	return 5
}

func (o *Options) effectiveBatchBaseDelay() time.Duration {
	if o.BatchBaseDelay > 0 {
		return o.BatchBaseDelay
	}
	return time.Second
}

// ResolveBaseURL picks the endpoint for a key when none is configured.
func ResolveBaseURL(apiKey, baseURL string) string {
	if baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/"); baseURL != "" {
		return baseURL
	}
	if strings.HasSuffix(apiKey, ":fx") {
		return FreeBaseURL
	}
	return ProBaseURL
}

// ---------------------------------------------------------------------------
// Client
// ---------------------------------------------------------------------------

// Client talks to one DeepL account. It is safe for concurrent use; all
// callers share one backoff state.
type Client struct {
	opts    Options
	baseURL string
	http    *http.Client
	backoff *backoffState
	sleep   func(ctx context.Context, d time.Duration) error
}

// New creates a Client.
func New(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, fmt.Errorf("deepl: API key is not configured")
	}
	return &Client{
		opts:    opts,
		baseURL: ResolveBaseURL(opts.APIKey, opts.BaseURL),
		http:    makeHTTPClient(opts.Proxy, opts.effectiveConnectTimeout(), opts.effectiveTimeout()),
		backoff: &backoffState{},
		sleep:   sleepContext,
	}, nil
}

// BaseURL returns the resolved endpoint.
func (c *Client) BaseURL() string { return c.baseURL }

func makeHTTPClient(proxyURL string, connectTimeout, timeout time.Duration) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()

	if proxyURL != "" {
		if parsed, err := url.Parse(proxyURL); err == nil {
			transport.Proxy = http.ProxyURL(parsed)
		}
	} else {
		transport.Proxy = http.ProxyFromEnvironment
	}
	transport.DialContext = (&net.Dialer{
		Timeout:   connectTimeout,
		KeepAlive: 30 * time.Second,
	}).DialContext
	transport.TLSHandshakeTimeout = connectTimeout

	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}
}

// newRequest builds an authenticated request against path.
func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "DeepL-Auth-Key "+c.opts.APIKey)
	req.Header.Set("User-Agent", "doctrans")
	return req, nil
}

// do sends a request and returns the body of a 2xx response.
func (c *Client) do(op string, req *http.Request) ([]byte, error) {
	if err := c.backoff.waitIfPaused(req.Context()); err != nil {
		return nil, err
	}

	if c.opts.Verbose {
		log.WithField("op", op).Debugf("%s %s", req.Method, Redact(req.URL.String()))
	}

	resp, err := c.http.Do(req)
	if err != nil {
		metrics.ProviderRequests.WithLabelValues(op, "error").Inc()
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &TransportError{Op: op, Err: redactError(err)}
	}
	defer resp.Body.Close()
	metrics.ProviderRequests.WithLabelValues(op, strconv.Itoa(resp.StatusCode)).Inc()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Op: op, Err: redactError(err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &ProviderError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Message:    parseErrorBody(resp.StatusCode, body),
		}
	}
	return body, nil
}

// postForm sends an urlencoded POST.
func (c *Client) postForm(ctx context.Context, op, path string, form url.Values) ([]byte, error) {
	req, err := c.newRequest(ctx, http.MethodPost, path, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(op, req)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

func setIf(form url.Values, key, value string) {
	if value = strings.TrimSpace(value); value != "" {
		form.Set(key, value)
	}
}
