// Package fetch implements the hardened JSON-over-HTTP client. Every hop
// of a request, including each redirect, is checked against the expected
// host's zone and a blocklist of binary path suffixes; payloads are
// bounded, content types whitelisted, and charsets sanitised before the
// body is parsed as JSON.
package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html/charset"

	"github.com/thanksstevenkim/the-hitchhikers-guide-to-the-fediverse/hostutil"
	"github.com/thanksstevenkim/the-hitchhikers-guide-to-the-fediverse/netutil"
)

const (
	// DefaultMaxBodyBytes caps JSON payload size. Checked against
	// Content-Length up front and enforced again while streaming.
	DefaultMaxBodyBytes = 2_000_000
	// DefaultMaxRedirects bounds the number of redirect hops per request.
	DefaultMaxRedirects = 5

	defaultTimeout   = 5 * time.Second
	defaultUserAgent = "fedistats/1.0"
	acceptHeader     = "application/json, */*+json; q=0.9"
)

var blockedSuffixes = []string{
	".bin", ".zip", ".tar", ".gz", ".xz", ".bz2", ".7z", ".rar",
	".mp4", ".mp3", ".avi",
}

// Policy violation sentinels; callers match them with errors.Is.
var (
	ErrCrossHost        = errors.New("redirected to different host")
	ErrSuspiciousPath   = errors.New("suspicious path")
	ErrTooManyRedirects = errors.New("too many redirects")
	ErrContentType      = errors.New("unexpected content type")
	ErrPayloadTooLarge  = errors.New("payload too large")
	ErrInvalidJSON      = errors.New("invalid JSON response")
)

// Error scopes any fetch failure to the URL that produced it.
type Error struct {
	URL string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%v: %s", e.Err, e.URL)
}

func (e *Error) Unwrap() error { return e.Err }

// StatusError reports a terminal response with status >= 400.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d", e.Code)
}

type Option func(*Client)

// Client performs policy-checked JSON requests. The zero options yield a
// client with the default transport, timeout, and limits.
type Client struct {
	httpClient   *http.Client
	userAgent    string
	maxRedirects int
	maxBodyBytes int64
}

func NewClient(opts ...Option) *Client {
	client := &Client{
		httpClient:   netutil.NewHTTPClient(defaultTimeout, nil),
		userAgent:    defaultUserAgent,
		maxRedirects: DefaultMaxRedirects,
		maxBodyBytes: DefaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// WithHTTPClient swaps the underlying client. It must not follow
// redirects itself; see netutil.NewHTTPClient.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// WithTimeout adjusts the overall per-request deadline on the
// underlying client. Apply it after WithHTTPClient when combining the
// two.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.httpClient.Timeout = timeout
		}
	}
}

func WithUserAgent(agent string) Option {
	return func(c *Client) {
		if strings.TrimSpace(agent) != "" {
			c.userAgent = agent
		}
	}
}

func WithMaxRedirects(n int) Option {
	return func(c *Client) {
		if n >= 0 {
			c.maxRedirects = n
		}
	}
}

func WithMaxBodyBytes(n int64) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxBodyBytes = n
		}
	}
}

// Get fetches rawURL and returns the decoded JSON value. When
// expectedHost is non-empty, the initial URL and every redirect hop must
// stay within its zone.
func (c *Client) Get(ctx context.Context, rawURL, expectedHost string) (any, error) {
	return c.request(ctx, http.MethodGet, rawURL, nil, expectedHost)
}

// Post sends body as JSON and returns the decoded JSON response, under
// the same hop policy as Get.
func (c *Client) Post(ctx context.Context, rawURL string, body any, expectedHost string) (any, error) {
	return c.request(ctx, http.MethodPost, rawURL, body, expectedHost)
}

// CheckURL validates a URL against the zone and path policy without
// fetching it. Discovery uses this to vet links before following them.
func CheckURL(rawURL, expectedHost string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return &Error{URL: rawURL, Err: fmt.Errorf("invalid URL: %w", err)}
	}
	if expectedHost != "" && !hostutil.SameZone(parsed.Hostname(), expectedHost) {
		return &Error{URL: rawURL, Err: ErrCrossHost}
	}
	if suspiciousPath(parsed.Path) {
		return &Error{URL: rawURL, Err: ErrSuspiciousPath}
	}
	return nil
}

func suspiciousPath(path string) bool {
	lower := strings.ToLower(path)
	for _, suffix := range blockedSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return true
		}
	}
	return false
}

func (c *Client) request(ctx context.Context, method, rawURL string, body any, expectedHost string) (any, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	var payload []byte
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, &Error{URL: rawURL, Err: fmt.Errorf("encoding request body: %w", err)}
		}
		payload = encoded
	}

	current := rawURL
	for hop := 0; hop <= c.maxRedirects; hop++ {
		if err := CheckURL(current, expectedHost); err != nil {
			return nil, err
		}

		resp, err := c.do(ctx, method, current, payload)
		if err != nil {
			return nil, &Error{URL: current, Err: err}
		}

		if resp.StatusCode >= 300 && resp.StatusCode < 400 {
			location := resp.Header.Get("Location")
			drain(resp)
			if location == "" {
				return nil, &Error{URL: current, Err: errors.New("redirect without location")}
			}
			next, err := resp.Request.URL.Parse(location)
			if err != nil {
				return nil, &Error{URL: current, Err: fmt.Errorf("invalid redirect location: %w", err)}
			}
			current = next.String()
			continue
		}

		value, err := c.consume(resp, current)
		if err != nil {
			return nil, err
		}
		return value, nil
	}

	return nil, &Error{URL: rawURL, Err: ErrTooManyRedirects}
}

func (c *Client) do(ctx context.Context, method, rawURL string, payload []byte) (*http.Response, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", acceptHeader)
	req.Header.Set("User-Agent", c.userAgent)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.httpClient.Do(req)
}

func (c *Client) consume(resp *http.Response, requestURL string) (any, error) {
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, &Error{URL: requestURL, Err: &StatusError{Code: resp.StatusCode}}
	}

	mediaType, params := parseContentType(resp.Header.Get("Content-Type"))
	if !jsonMediaType(mediaType) {
		return nil, &Error{URL: requestURL, Err: ErrContentType}
	}

	if resp.ContentLength > c.maxBodyBytes {
		return nil, &Error{URL: requestURL, Err: ErrPayloadTooLarge}
	}

	buf, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBodyBytes+1))
	if err != nil {
		return nil, &Error{URL: requestURL, Err: fmt.Errorf("reading body: %w", err)}
	}
	if int64(len(buf)) > c.maxBodyBytes {
		return nil, &Error{URL: requestURL, Err: ErrPayloadTooLarge}
	}

	buf = decodeCharset(buf, params["charset"])

	var value any
	if err := json.Unmarshal(buf, &value); err != nil {
		return nil, &Error{URL: requestURL, Err: fmt.Errorf("%w: %v", ErrInvalidJSON, err)}
	}
	return value, nil
}

func parseContentType(header string) (string, map[string]string) {
	if strings.TrimSpace(header) == "" {
		return "", nil
	}
	mediaType, params, err := mime.ParseMediaType(header)
	if err != nil {
		// Fall back to the bare type so a malformed parameter section
		// cannot smuggle past the whitelist.
		mediaType = strings.ToLower(strings.TrimSpace(strings.SplitN(header, ";", 2)[0]))
		return mediaType, nil
	}
	return mediaType, params
}

func jsonMediaType(mediaType string) bool {
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}

// decodeCharset transcodes the body to UTF-8. A missing, empty, or
// structurally invalid charset label, or one the encoding index does not
// know, is treated as UTF-8. Undecodable bytes are replaced, never fatal.
func decodeCharset(buf []byte, label string) []byte {
	sanitized := sanitizeCharset(label)
	if sanitized == "utf-8" {
		return buf
	}
	enc, _ := charset.Lookup(sanitized)
	if enc == nil {
		return buf
	}
	decoded, err := enc.NewDecoder().Bytes(buf)
	if err != nil {
		return buf
	}
	return decoded
}

func sanitizeCharset(label string) string {
	cleaned := strings.ToLower(strings.Trim(strings.TrimSpace(label), `"`))
	if cleaned == "" {
		return "utf-8"
	}
	// Multi-value garbage such as "utf-8, application/json" collapses to
	// UTF-8 instead of being handed to the decoder lookup.
	if cleaned != "utf-8" && strings.ContainsAny(cleaned, ",/ \t;") {
		return "utf-8"
	}
	return cleaned
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	_ = resp.Body.Close()
}
