// Package crawl drives the per-host pipeline: optional DNS pre-flight,
// NodeInfo discovery, canonical-host handling, platform adapter fetch,
// record assembly, classification, and incremental persistence. Hosts
// are processed strictly one at a time so the store has a single
// writer.
package crawl

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/thanksstevenkim/the-hitchhikers-guide-to-the-fediverse/classify"
	"github.com/thanksstevenkim/the-hitchhikers-guide-to-the-fediverse/logging"
	"github.com/thanksstevenkim/the-hitchhikers-guide-to-the-fediverse/nodeinfo"
	"github.com/thanksstevenkim/the-hitchhikers-guide-to-the-fediverse/platform"
	"github.com/thanksstevenkim/the-hitchhikers-guide-to-the-fediverse/record"
	"github.com/thanksstevenkim/the-hitchhikers-guide-to-the-fediverse/seeds"
	"github.com/thanksstevenkim/the-hitchhikers-guide-to-the-fediverse/stats"
)

// Discoverer resolves a host's NodeInfo document and canonical base.
type Discoverer interface {
	Discover(ctx context.Context, host string) (*nodeinfo.Result, error)
}

// Adapter fetches platform-specific statistics from an instance API.
type Adapter interface {
	Name() string
	Fetch(ctx context.Context, baseURL string) (*platform.Stats, error)
}

// Preflight answers whether a host resolves at all, letting the crawl
// skip the HTTP timeout for dead names.
type Preflight interface {
	HostExists(ctx context.Context, host string) (bool, error)
}

// Storage is the slice of the store the runner writes through.
type Storage interface {
	Upsert(rec *record.StatsRecord, classification string) bool
	Save() error
	RegisterAlias(original, canonical string) (bool, error)
}

// Options wires a Runner. NodeInfo and Storage are required; adapters
// are looked up by platform name. Preflight is optional.
type Options struct {
	NodeInfo      Discoverer
	Adapters      map[string]Adapter
	Store         Storage
	Preflight     Preflight
	Logger        *logging.Logger
	Tracker       *stats.Tracker
	DiscoverPeers bool

	// Now stamps records; defaults to UTC wall clock.
	Now func() time.Time
}

type Runner struct {
	opts  Options
	peers map[string]struct{}
}

// Summary reports what a run accomplished.
type Summary struct {
	Processed  int
	OKUpdates  int
	BadUpdates int
	Peers      map[string]struct{}
}

func NewRunner(opts Options) *Runner {
	if opts.Logger == nil {
		opts.Logger, _ = logging.New(logging.Options{})
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Runner{opts: opts, peers: make(map[string]struct{})}
}

// Run processes every instance in order, saving the store after each
// one. Context cancellation stops between hosts; work already persisted
// stays persisted.
func (r *Runner) Run(ctx context.Context, instances []seeds.Instance) (Summary, error) {
	summary := Summary{Peers: r.peers}
	timestamp := r.opts.Now().UTC().Truncate(time.Second).Format("2006-01-02T15:04:05Z")

	for _, instance := range instances {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		rec, errs, peers := r.processInstance(ctx, instance, timestamp)
		classification := classify.Classify(rec, len(errs) > 0)

		updated := r.opts.Store.Upsert(rec, classification)
		if classification == classify.Good {
			r.opts.Logger.Infof("OK   %s (%s)", rec.Host, orDash(rec.Software.Name))
			if updated {
				summary.OKUpdates++
			}
		} else {
			reason := "classified as anomalous/invalid"
			if len(errs) > 0 {
				reason = strings.Join(errs, "; ")
			}
			r.opts.Logger.Warnf("BAD  %s: %s", rec.Host, reason)
			if updated {
				summary.BadUpdates++
			}
		}
		r.opts.Tracker.RecordHost(classification == classify.Good, updated)
		summary.Processed++

		if err := r.opts.Store.Save(); err != nil {
			return summary, fmt.Errorf("saving after %s: %w", rec.Host, err)
		}

		if r.opts.DiscoverPeers {
			for _, peer := range peers {
				r.peers[peer] = struct{}{}
			}
		}
	}
	return summary, nil
}

// processInstance runs the full pipeline for one host and returns the
// assembled record, the per-stage error strings, and discovered peers.
func (r *Runner) processInstance(ctx context.Context, instance seeds.Instance, timestamp string) (*record.StatsRecord, []string, []string) {
	rec := record.New(instance.Host, timestamp)
	var errs []string
	var peers []string

	if r.opts.Preflight != nil {
		exists, err := r.opts.Preflight.HostExists(ctx, instance.Host)
		if err != nil {
			errs = append(errs, fmt.Sprintf("dns: %v", err))
			r.opts.Tracker.RecordStageError("dns")
			return rec, errs, peers
		}
		if !exists {
			errs = append(errs, fmt.Sprintf("dns: %s does not resolve", instance.Host))
			r.opts.Tracker.RecordStageError("dns")
			return rec, errs, peers
		}
	}

	baseURL := instance.URL
	result, err := r.opts.NodeInfo.Discover(ctx, instance.Host)
	if err != nil {
		errs = append(errs, fmt.Sprintf("nodeinfo: %v", err))
		r.opts.Tracker.RecordStageError("nodeinfo")
	} else {
		rec.ApplyNodeInfo(result.Document)
		peers = append(peers, nodeinfo.PeerHosts(result.Document)...)

		if result.CanonicalBase != "" {
			baseURL = result.CanonicalBase
			if orig, changed := rec.Canonicalize(result.CanonicalBase); changed {
				if _, aerr := r.opts.Store.RegisterAlias(orig, rec.Host); aerr != nil {
					r.opts.Logger.Warnf("alias %s -> %s: %v", orig, rec.Host, aerr)
				} else {
					r.opts.Logger.Debugf("canonical host %s (was %s)", rec.Host, orig)
				}
			}
		}
	}

	name := platform.Detect(instance.Platform, rec.Software.Name)
	switch name {
	case platform.Unknown:
		// Nothing more to try for this host.
	default:
		adapter, ok := r.opts.Adapters[name]
		if !ok {
			errs = append(errs, fmt.Sprintf("unsupported platform: %s", name))
			break
		}
		pstats, err := adapter.Fetch(ctx, baseURL)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", name, err))
			r.opts.Tracker.RecordStageError(name)
			break
		}
		rec.ApplyPlatform(pstats)
		peers = append(peers, pstats.Peers...)
	}

	return rec, errs, peers
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
