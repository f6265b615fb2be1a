// Package nodeinfo implements the two-hop NodeInfo discovery protocol:
// fetch the well-known index, pick the highest-versioned schema link, and
// fetch the document it points at. The host the chosen link lives on
// becomes the canonical base for all later platform requests.
package nodeinfo

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/thanksstevenkim/the-hitchhikers-guide-to-the-fediverse/fetch"
	"github.com/thanksstevenkim/the-hitchhikers-guide-to-the-fediverse/hostutil"
	"github.com/thanksstevenkim/the-hitchhikers-guide-to-the-fediverse/internal/jsontree"
)

const wellKnownPath = "/.well-known/nodeinfo"

// Result carries the parsed NodeInfo document and the canonical base URL
// (scheme://host[:port]) derived from the resolved schema link.
type Result struct {
	Document      any
	CanonicalBase string
}

type Option func(*Client)

type Client struct {
	fetcher *fetch.Client
	schemes []string
}

func NewClient(opts ...Option) *Client {
	client := &Client{
		fetcher: fetch.NewClient(),
		schemes: []string{"https", "http"},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

func WithFetcher(fetcher *fetch.Client) Option {
	return func(c *Client) {
		if fetcher != nil {
			c.fetcher = fetcher
		}
	}
}

// WithSchemes overrides the https-then-http probing order.
func WithSchemes(schemes ...string) Option {
	return func(c *Client) {
		if len(schemes) > 0 {
			c.schemes = append([]string(nil), schemes...)
		}
	}
}

// Discover runs the two-hop protocol against host, which may carry a
// port. Zone checks compare against the normalized hostname.
func (c *Client) Discover(ctx context.Context, host string) (*Result, error) {
	authority := strings.TrimSpace(host)
	if authority == "" {
		return nil, errors.New("empty host")
	}
	expected := hostutil.Normalize(authority)

	var lastErr error
	for _, scheme := range c.schemes {
		result, err := c.discoverVia(ctx, scheme+"://"+authority+wellKnownPath, expected)
		if err != nil {
			lastErr = err
			continue
		}
		return result, nil
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, errors.New("nodeinfo endpoint unreachable")
}

func (c *Client) discoverVia(ctx context.Context, indexURL, expectedHost string) (*Result, error) {
	index, err := c.fetcher.Get(ctx, indexURL, expectedHost)
	if err != nil {
		return nil, err
	}
	if jsontree.AsMap(index) == nil {
		return nil, errors.New("unexpected nodeinfo index payload")
	}

	links := jsontree.AsSlice(jsontree.Get(index, "links"))
	if links == nil {
		return nil, errors.New("nodeinfo index missing links")
	}

	best := SelectLatestLink(links)
	if best == nil {
		return nil, errors.New("no valid nodeinfo links")
	}
	href := jsontree.String(best, "href")
	if href == "" {
		return nil, errors.New("nodeinfo link missing href")
	}

	if err := fetch.CheckURL(href, expectedHost); err != nil {
		return nil, err
	}

	parsed, err := url.Parse(href)
	if err != nil {
		return nil, fmt.Errorf("invalid nodeinfo href: %w", err)
	}
	scheme := parsed.Scheme
	if scheme == "" {
		scheme = "https"
	}
	canonicalHost := strings.ToLower(parsed.Host)
	if canonicalHost == "" {
		canonicalHost = expectedHost
	}

	document, err := c.fetcher.Get(ctx, href, expectedHost)
	if err != nil {
		return nil, err
	}
	if jsontree.AsMap(document) == nil {
		return nil, errors.New("unexpected nodeinfo document")
	}

	return &Result{
		Document:      document,
		CanonicalBase: scheme + "://" + canonicalHost,
	}, nil
}

// SelectLatestLink picks the link advertising the highest major.minor
// schema version. The version is read from the rel suffix, falling back
// to the href path; malformed versions sort lowest but never disqualify
// a link outright.
func SelectLatestLink(links []any) map[string]any {
	var best map[string]any
	bestMajor, bestMinor := -1, -1

	for _, item := range links {
		link := jsontree.AsMap(item)
		if link == nil {
			continue
		}
		major, minor := linkVersion(link)
		if major > bestMajor || (major == bestMajor && minor > bestMinor) {
			best = link
			bestMajor, bestMinor = major, minor
		}
	}
	return best
}

func linkVersion(link map[string]any) (int, int) {
	version := ""
	if rel := jsontree.String(link, "rel"); rel != "" {
		version = lastPathSegment(rel)
	} else if href := jsontree.String(link, "href"); href != "" {
		version = lastPathSegment(strings.TrimRight(href, "/"))
	}
	if version == "" {
		return 0, 0
	}

	version = strings.Trim(strings.ReplaceAll(version, "nodeinfo", ""), "/ ")
	parts := strings.Split(version, ".")
	if len(parts) < 2 {
		return 0, 0
	}
	major, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0
	}
	minor, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0
	}
	return major, minor
}

func lastPathSegment(s string) string {
	if idx := strings.LastIndex(s, "/"); idx >= 0 {
		return s[idx+1:]
	}
	return s
}

// PeerHosts extracts federation peers a NodeInfo document advertises
// under metadata.peers, metadata.federation.peers, or
// metadata.federation.domains, normalized and sorted.
func PeerHosts(document any) []string {
	seen := make(map[string]struct{})

	collect := func(v any) {
		for _, raw := range jsontree.Strings(v) {
			if host := hostutil.PeerHost(raw); host != "" {
				seen[host] = struct{}{}
			}
		}
	}

	metadata := jsontree.Get(document, "metadata")
	if m := jsontree.AsMap(metadata); m != nil {
		collect(m["peers"])
		if federation := jsontree.AsMap(m["federation"]); federation != nil {
			collect(federation["peers"])
			collect(federation["domains"])
		}
	}

	if len(seen) == 0 {
		return nil
	}
	hosts := make([]string, 0, len(seen))
	for host := range seen {
		hosts = append(hosts, host)
	}
	sort.Strings(hosts)
	return hosts
}
