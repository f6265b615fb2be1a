// Package mastodon extracts instance statistics from the Mastodon
// instance API, covering both the v2 and legacy v1 endpoints.
package mastodon

import (
	"context"
	"errors"
	"net/url"
	"sort"
	"strings"

	"github.com/thanksstevenkim/the-hitchhikers-guide-to-the-fediverse/fetch"
	"github.com/thanksstevenkim/the-hitchhikers-guide-to-the-fediverse/hostutil"
	"github.com/thanksstevenkim/the-hitchhikers-guide-to-the-fediverse/internal/jsontree"
	"github.com/thanksstevenkim/the-hitchhikers-guide-to-the-fediverse/platform"
)

const (
	instanceV2Path = "/api/v2/instance"
	instanceV1Path = "/api/v1/instance"
	peersPath      = "/api/v1/instance/peers"
)

type Option func(*Client)

type Client struct {
	fetcher *fetch.Client
}

func NewClient(opts ...Option) *Client {
	client := &Client{fetcher: fetch.NewClient()}
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

func (c *Client) Name() string { return platform.Mastodon }

// Fetch queries the newer instance endpoint first and falls back to the
// legacy one, returning stats from the first well-formed object. The
// peers sub-request is advisory; its failure never fails the fetch.
func (c *Client) Fetch(ctx context.Context, baseURL string) (*platform.Stats, error) {
	expectedHost := expectedHostOf(baseURL)

	var failures []string
	for _, path := range []string{instanceV2Path, instanceV1Path} {
		payload, err := c.fetcher.Get(ctx, baseURL+path, expectedHost)
		if err != nil {
			failures = append(failures, err.Error())
			continue
		}
		doc := jsontree.AsMap(payload)
		if doc == nil {
			continue
		}
		stats := parseInstance(doc, path == instanceV2Path)
		stats.Peers = c.fetchPeers(ctx, baseURL, expectedHost)
		return stats, nil
	}

	if len(failures) > 0 {
		return nil, errors.New(strings.Join(failures, "; "))
	}
	return nil, errors.New("instance API unavailable")
}

func (c *Client) fetchPeers(ctx context.Context, baseURL, expectedHost string) []string {
	payload, err := c.fetcher.Get(ctx, baseURL+peersPath, expectedHost)
	if err != nil {
		return nil
	}

	seen := make(map[string]struct{})
	for _, raw := range jsontree.Strings(payload) {
		if host := hostutil.PeerHost(raw); host != "" {
			seen[host] = struct{}{}
		}
	}
	if len(seen) == 0 {
		return nil
	}
	peers := make([]string, 0, len(seen))
	for host := range seen {
		peers = append(peers, host)
	}
	sort.Strings(peers)
	return peers
}

func parseInstance(doc map[string]any, isV2 bool) *platform.Stats {
	usage := jsontree.Get(doc, "usage")
	users := jsontree.Get(usage, "users")
	legacyStats := jsontree.Get(doc, "stats")

	stats := &platform.Stats{
		UsersTotal: platform.FirstInt(
			jsontree.Int(users, "total"),
			jsontree.Int(legacyStats, "user_count"),
		),
		UsersActiveMonth: platform.FirstInt(
			jsontree.Int(users, "activeMonth"),
			jsontree.Int(legacyStats, "active_month"),
		),
		Statuses: platform.FirstInt(
			jsontree.Int(usage, "localPosts"),
			jsontree.Int(legacyStats, "status_count"),
		),
	}

	// Software block when present, otherwise the bare version string
	// implies stock Mastodon.
	if software := jsontree.AsMap(doc["software"]); software != nil {
		stats.SoftwareName = jsontree.String(software, "name")
		stats.SoftwareVersion = jsontree.String(software, "version")
	} else if version := jsontree.String(doc, "version"); version != "" {
		stats.SoftwareName = platform.Mastodon
		stats.SoftwareVersion = version
	}

	if registrations := jsontree.AsMap(doc["registrations"]); registrations != nil {
		stats.OpenRegistrations = jsontree.BoolValue(registrations["enabled"])
	} else {
		stats.OpenRegistrations = jsontree.BoolValue(doc["registrations"])
	}

	if configuration := jsontree.AsMap(doc["configuration"]); configuration != nil {
		stats.Languages = lowerStrings(jsontree.Strings(configuration["languages"]))
	} else if isV2 {
		stats.Languages = lowerStrings(jsontree.Strings(doc["languages"]))
	}

	return stats
}

func lowerStrings(values []string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, value := range values {
		code := strings.ToLower(strings.TrimSpace(value))
		if code == "" {
			continue
		}
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}
		out = append(out, code)
	}
	return out
}

func expectedHostOf(baseURL string) string {
	if parsed, err := url.Parse(baseURL); err == nil {
		return parsed.Hostname()
	}
	return ""
}
