// Package seeds loads the hosts a crawl should visit: the curated
// instances file or a plain host-list file. Hosts already present in
// the store (directly or through an alias) are skipped so re-runs only
// touch new work.
package seeds

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/thanksstevenkim/the-hitchhikers-guide-to-the-fediverse/hostutil"
	"github.com/thanksstevenkim/the-hitchhikers-guide-to-the-fediverse/logging"
)

// Instance is one unit of crawl work.
type Instance struct {
	Name     string
	Host     string
	URL      string
	Platform string
}

// Filter answers which hosts were already processed and how aliases map
// onto canonical hosts. Satisfied by *store.Store.
type Filter interface {
	CheckedHosts() map[string]struct{}
	ResolveAlias(host string) string
}

// LoadInstances reads the curated instances file: a JSON array of
// objects carrying at least a url. Entries without a usable URL or host
// are skipped with a warning; a missing or malformed file aborts the
// run before anything is written.
func LoadInstances(path string, filter Filter, logger *logging.Logger) ([]Instance, error) {
	entries, err := readList(path)
	if err != nil {
		return nil, err
	}

	checked := filter.CheckedHosts()
	var instances []Instance
	skipped := 0

	for _, entry := range entries {
		obj, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		rawURL := strings.TrimSpace(stringField(obj, "url"))
		if rawURL == "" {
			logger.Warnf("skipping seed entry without URL: %v", obj)
			continue
		}
		host := extractHost(obj)
		if host == "" {
			logger.Warnf("skipping %s: could not determine host", rawURL)
			continue
		}
		mapped := filter.ResolveAlias(host)
		if _, done := checked[mapped]; done {
			skipped++
			continue
		}
		instances = append(instances, Instance{
			Name:     orDefault(stringField(obj, "name"), mapped),
			Host:     mapped,
			URL:      normalizeBaseURL(rawURL, mapped),
			Platform: orDefault(strings.ToLower(strings.TrimSpace(stringField(obj, "platform"))), "unknown"),
		})
	}

	logger.Infof("loaded %d new instances from %s (%d already checked, skipped)", len(instances), path, skipped)
	return instances, nil
}

// LoadHostList reads a host-list file: a JSON array whose elements are
// bare host strings or the same objects LoadInstances accepts.
func LoadHostList(path string, filter Filter, logger *logging.Logger) ([]Instance, error) {
	entries, err := readList(path)
	if err != nil {
		return nil, err
	}

	checked := filter.CheckedHosts()
	var instances []Instance
	skipped := 0

	for _, entry := range entries {
		switch value := entry.(type) {
		case string:
			host := hostutil.Normalize(value)
			if host == "" {
				continue
			}
			mapped := filter.ResolveAlias(host)
			if _, done := checked[mapped]; done {
				skipped++
				continue
			}
			instances = append(instances, Instance{
				Name:     orDefault(strings.TrimSpace(value), mapped),
				Host:     mapped,
				URL:      "https://" + mapped,
				Platform: "unknown",
			})
		case map[string]any:
			rawURL := strings.TrimSpace(stringField(value, "url"))
			host := extractHost(value)
			if host == "" {
				logger.Warnf("skipping %s: could not determine host", rawURL)
				continue
			}
			mapped := filter.ResolveAlias(host)
			if _, done := checked[mapped]; done {
				skipped++
				continue
			}
			instances = append(instances, Instance{
				Name:     orDefault(stringField(value, "name"), mapped),
				Host:     mapped,
				URL:      normalizeBaseURL(rawURL, mapped),
				Platform: orDefault(strings.ToLower(strings.TrimSpace(stringField(value, "platform"))), "unknown"),
			})
		}
	}

	logger.Infof("loaded %d new hosts from %s (%d already checked, skipped)", len(instances), path, skipped)
	return instances, nil
}

func readList(path string) ([]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading seed file: %w", err)
	}
	var entries []any
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parsing %s: expected a JSON array: %w", path, err)
	}
	return entries, nil
}

func stringField(obj map[string]any, key string) string {
	if value, ok := obj[key].(string); ok {
		return value
	}
	return ""
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

// extractHost prefers an explicit host field and falls back to the
// URL's hostname.
func extractHost(obj map[string]any) string {
	if host := strings.ToLower(strings.TrimSpace(stringField(obj, "host"))); host != "" {
		return hostutil.Normalize(host)
	}
	rawURL := stringField(obj, "url")
	if rawURL == "" {
		return ""
	}
	if parsed, err := url.Parse(rawURL); err == nil && parsed.Hostname() != "" {
		return hostutil.Normalize(parsed.Hostname())
	}
	return hostutil.Normalize(strings.TrimRight(strings.TrimSpace(rawURL), "/"))
}

// normalizeBaseURL rebuilds a seed URL as scheme://host with any
// trailing slash stripped, defaulting the scheme to https and the
// authority to the resolved host.
func normalizeBaseURL(rawURL, host string) string {
	if rawURL == "" {
		return "https://" + host
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "https://" + host
	}
	scheme := parsed.Scheme
	if scheme == "" {
		scheme = "https"
	}
	authority := parsed.Host
	if authority == "" {
		authority = host
	}
	path := strings.TrimRight(parsed.Path, "/")
	return strings.TrimRight(scheme+"://"+authority+path, "/")
}
