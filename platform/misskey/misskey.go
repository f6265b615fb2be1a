// Package misskey extracts instance statistics from the Misskey meta
// API, shared by its forks.
package misskey

import (
	"context"
	"errors"
	"net/url"
	"sort"

	"github.com/thanksstevenkim/the-hitchhikers-guide-to-the-fediverse/fetch"
	"github.com/thanksstevenkim/the-hitchhikers-guide-to-the-fediverse/hostutil"
	"github.com/thanksstevenkim/the-hitchhikers-guide-to-the-fediverse/internal/jsontree"
	"github.com/thanksstevenkim/the-hitchhikers-guide-to-the-fediverse/platform"
)

const metaPath = "/api/meta"

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

func (c *Client) Name() string { return platform.Misskey }

// Fetch posts to the meta endpoint requesting detail. Locally-authored
// ("original") counters are preferred over aggregates; active-user
// counts fall back monthly, weekly, daily, then the generic field.
func (c *Client) Fetch(ctx context.Context, baseURL string) (*platform.Stats, error) {
	expectedHost := ""
	if parsed, err := url.Parse(baseURL); err == nil {
		expectedHost = parsed.Hostname()
	}

	payload, err := c.fetcher.Post(ctx, baseURL+metaPath, map[string]any{"detail": true}, expectedHost)
	if err != nil {
		return nil, err
	}
	doc := jsontree.AsMap(payload)
	if doc == nil {
		return nil, errors.New("unexpected meta payload")
	}

	counters := jsontree.Get(doc, "stats")

	// Registrations are reported inverted; only an explicit
	// disableRegistration=false means open.
	open := false
	if disabled, ok := doc["disableRegistration"].(bool); ok && !disabled {
		open = true
	}

	name := jsontree.String(doc, "softwareName")
	if name == "" {
		name = platform.Misskey
	}

	stats := &platform.Stats{
		SoftwareName:      name,
		SoftwareVersion:   jsontree.String(doc, "version"),
		OpenRegistrations: &open,
		UsersTotal: platform.FirstInt(
			jsontree.Int(counters, "originalUsersCount"),
			jsontree.Int(counters, "usersCount"),
		),
		UsersActiveMonth: platform.FirstInt(
			jsontree.Int(counters, "monthlyActiveUsers"),
			jsontree.Int(counters, "weeklyActiveUsers"),
			jsontree.Int(counters, "dailyActiveUsers"),
			jsontree.Int(counters, "activeUsers"),
		),
		Statuses: platform.FirstInt(
			jsontree.Int(counters, "originalNotesCount"),
			jsontree.Int(counters, "notesCount"),
		),
	}

	if federation := jsontree.AsMap(jsontree.Get(doc, "federation")); federation != nil {
		seen := make(map[string]struct{})
		for _, raw := range jsontree.Strings(federation["peers"]) {
			if host := hostutil.PeerHost(raw); host != "" {
				seen[host] = struct{}{}
			}
		}
		if len(seen) > 0 {
			peers := make([]string, 0, len(seen))
			for host := range seen {
				peers = append(peers, host)
			}
			sort.Strings(peers)
			stats.Peers = peers
		}
	}

	return stats, nil
}
