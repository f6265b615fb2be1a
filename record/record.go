// Package record assembles per-host statistics records from the
// discovery and platform stages. Fields follow a first-source-wins
// rule: whichever stage supplies a value first keeps it.
package record

import (
	"net/url"
	"strings"

	"github.com/thanksstevenkim/the-hitchhikers-guide-to-the-fediverse/hostutil"
	"github.com/thanksstevenkim/the-hitchhikers-guide-to-the-fediverse/internal/jsontree"
	"github.com/thanksstevenkim/the-hitchhikers-guide-to-the-fediverse/platform"
)

// Software identifies the server implementation. Empty fields are
// omitted inside the object but the object itself always serializes.
type Software struct {
	Name    string `json:"name,omitempty"`
	Version string `json:"version,omitempty"`
}

// StatsRecord is the persisted unit of work for one host. Pointer
// fields serialize as null when no source supplied them.
type StatsRecord struct {
	Host                string   `json:"host"`
	VerifiedActivityPub bool     `json:"verified_activitypub"`
	Software            Software `json:"software"`
	OpenRegistrations   *bool    `json:"open_registrations"`
	UsersTotal          *int64   `json:"users_total"`
	UsersActiveMonth    *int64   `json:"users_active_month"`
	Statuses            *int64   `json:"statuses"`
	LanguagesDetected   []string `json:"languages_detected"`
	FetchedAt           string   `json:"fetched_at"`
	RedirectedFrom      string   `json:"redirected_from,omitempty"`

	langSeen map[string]struct{}
}

// New returns an empty record for host stamped with fetchedAt.
func New(host, fetchedAt string) *StatsRecord {
	return &StatsRecord{
		Host:              host,
		LanguagesDetected: []string{},
		FetchedAt:         fetchedAt,
	}
}

// ApplyNodeInfo merges a fetched NodeInfo document and marks the host
// verified. Counters come from the usage block; languages, when the
// document carries them there, join the detected set.
func (r *StatsRecord) ApplyNodeInfo(document any) {
	doc := jsontree.AsMap(document)
	if doc == nil {
		return
	}
	r.VerifiedActivityPub = true

	if software := jsontree.AsMap(doc["software"]); software != nil {
		r.setSoftware(jsontree.String(software, "name"), jsontree.String(software, "version"))
	}
	r.setOpenRegistrations(jsontree.BoolValue(doc["openRegistrations"]))

	usage := jsontree.Get(doc, "usage")
	users := jsontree.Get(usage, "users")
	r.setCount(&r.UsersTotal, jsontree.Int(users, "total"))
	r.setCount(&r.UsersActiveMonth, jsontree.Int(users, "activeMonth"))
	r.setCount(&r.Statuses, jsontree.Int(usage, "localPosts"))

	if usageMap := jsontree.AsMap(usage); usageMap != nil {
		r.addLanguages(jsontree.Strings(usageMap["languages"]))
	}
}

// ApplyPlatform merges a platform adapter's result and marks the host
// verified. Fields already populated by an earlier source are kept.
func (r *StatsRecord) ApplyPlatform(stats *platform.Stats) {
	if stats == nil {
		return
	}
	r.VerifiedActivityPub = true

	r.setSoftware(stats.SoftwareName, stats.SoftwareVersion)
	r.setOpenRegistrations(stats.OpenRegistrations)
	r.setCount(&r.UsersTotal, stats.UsersTotal)
	r.setCount(&r.UsersActiveMonth, stats.UsersActiveMonth)
	r.setCount(&r.Statuses, stats.Statuses)
	r.addLanguages(stats.Languages)
}

// Canonicalize rewrites the record's host to the one named by the
// NodeInfo canonical base, but only within the same zone; a rewrite
// across zones would attribute one organization's stats to another.
// It reports the original host and whether the host actually changed,
// so the caller can register an alias.
func (r *StatsRecord) Canonicalize(canonicalBase string) (origHost string, changed bool) {
	origHost = r.Host
	if canonicalBase == "" {
		return origHost, false
	}
	parsed, err := url.Parse(canonicalBase)
	if err != nil {
		return origHost, false
	}
	canonHost := hostutil.Normalize(parsed.Hostname())
	if canonHost == "" {
		return origHost, false
	}
	normalized := hostutil.Normalize(origHost)
	if !hostutil.SameZone(canonHost, normalized) {
		return origHost, false
	}
	if canonHost != normalized {
		r.RedirectedFrom = origHost
		changed = true
	}
	r.Host = canonHost
	return origHost, changed
}

// HasMetrics reports whether any usage counter was populated.
func (r *StatsRecord) HasMetrics() bool {
	return r.UsersTotal != nil || r.UsersActiveMonth != nil || r.Statuses != nil
}

func (r *StatsRecord) setSoftware(name, version string) {
	if name != "" && r.Software.Name == "" {
		r.Software.Name = name
	}
	if version != "" && r.Software.Version == "" {
		r.Software.Version = version
	}
}

func (r *StatsRecord) setOpenRegistrations(value *bool) {
	if value != nil && r.OpenRegistrations == nil {
		r.OpenRegistrations = value
	}
}

func (r *StatsRecord) setCount(dst **int64, value *int64) {
	if value != nil && *dst == nil {
		*dst = value
	}
}

func (r *StatsRecord) addLanguages(values []string) {
	for _, value := range values {
		code := strings.ToLower(strings.TrimSpace(value))
		if code == "" {
			continue
		}
		if r.langSeen == nil {
			r.langSeen = make(map[string]struct{})
			for _, existing := range r.LanguagesDetected {
				r.langSeen[existing] = struct{}{}
			}
		}
		if _, dup := r.langSeen[code]; dup {
			continue
		}
		r.langSeen[code] = struct{}{}
		r.LanguagesDetected = append(r.LanguagesDetected, code)
	}
}
