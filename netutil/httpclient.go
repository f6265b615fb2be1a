// Package netutil builds the HTTP client used for all remote fetches.
package netutil

import (
	"net"
	"net/http"
	"time"

	"github.com/thanksstevenkim/the-hitchhikers-guide-to-the-fediverse/ratelimit"
)

type limitingRoundTripper struct {
	base    http.RoundTripper
	limiter *ratelimit.Limiter
}

func (l *limitingRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	base := l.base
	if base == nil {
		base = http.DefaultTransport
	}
	if err := l.limiter.Acquire(req.Context()); err != nil {
		return nil, err
	}
	return base.RoundTrip(req)
}

// NewHTTPClient returns a client with a tuned transport and redirects
// disabled; the fetch layer intercepts every hop itself so it can apply
// the same-zone and path policy per redirect.
func NewHTTPClient(timeout time.Duration, limiter *ratelimit.Limiter) *http.Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: timeout, KeepAlive: 30 * time.Second}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          64,
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   timeout,
		ExpectContinueTimeout: 1 * time.Second,
	}

	rt := http.RoundTripper(transport)
	if limiter != nil {
		rt = &limitingRoundTripper{base: transport, limiter: limiter}
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: rt,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}
