package crawl

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/thanksstevenkim/the-hitchhikers-guide-to-the-fediverse/classify"
	"github.com/thanksstevenkim/the-hitchhikers-guide-to-the-fediverse/logging"
	"github.com/thanksstevenkim/the-hitchhikers-guide-to-the-fediverse/nodeinfo"
	"github.com/thanksstevenkim/the-hitchhikers-guide-to-the-fediverse/platform"
	"github.com/thanksstevenkim/the-hitchhikers-guide-to-the-fediverse/record"
	"github.com/thanksstevenkim/the-hitchhikers-guide-to-the-fediverse/seeds"
)

type fakeDiscoverer struct {
	results map[string]*nodeinfo.Result
	err     error
}

func (f *fakeDiscoverer) Discover(ctx context.Context, host string) (*nodeinfo.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	if result, ok := f.results[host]; ok {
		return result, nil
	}
	return nil, errors.New("no nodeinfo")
}

type fakeAdapter struct {
	name  string
	stats *platform.Stats
	err   error
	base  string
}

func (f *fakeAdapter) Name() string { return f.name }

func (f *fakeAdapter) Fetch(ctx context.Context, baseURL string) (*platform.Stats, error) {
	f.base = baseURL
	if f.err != nil {
		return nil, f.err
	}
	return f.stats, nil
}

type fakeStore struct {
	records map[string]*record.StatsRecord
	buckets map[string]string
	aliases map[string]string
	saves   int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		records: make(map[string]*record.StatsRecord),
		buckets: make(map[string]string),
		aliases: make(map[string]string),
	}
}

func (f *fakeStore) Upsert(rec *record.StatsRecord, classification string) bool {
	_, existed := f.records[rec.Host]
	f.records[rec.Host] = rec
	f.buckets[rec.Host] = classification
	return !existed
}

func (f *fakeStore) Save() error { f.saves++; return nil }

func (f *fakeStore) RegisterAlias(original, canonical string) (bool, error) {
	f.aliases[original] = canonical
	return true, nil
}

type fakePreflight struct {
	exists bool
	err    error
	asked  []string
}

func (f *fakePreflight) HostExists(ctx context.Context, host string) (bool, error) {
	f.asked = append(f.asked, host)
	return f.exists, f.err
}

func quietLogger(t *testing.T) *logging.Logger {
	t.Helper()
	logger, err := logging.New(logging.Options{Level: logging.LevelError})
	if err != nil {
		t.Fatal(err)
	}
	return logger
}

func nodeinfoDoc(users int64) map[string]any {
	return map[string]any{
		"software":          map[string]any{"name": "mastodon", "version": "4.2.0"},
		"openRegistrations": true,
		"usage": map[string]any{
			"users":      map[string]any{"total": float64(users)},
			"localPosts": float64(500),
		},
		"metadata": map[string]any{"peers": []any{"peer.example"}},
	}
}

func TestRunHappyPath(t *testing.T) {
	store := newFakeStore()
	total := int64(42)
	adapter := &fakeAdapter{name: platform.Mastodon, stats: &platform.Stats{
		SoftwareName: "mastodon",
		UsersTotal:   &total,
		Peers:        []string{"other.example"},
	}}
	runner := NewRunner(Options{
		NodeInfo: &fakeDiscoverer{results: map[string]*nodeinfo.Result{
			"a.example": {Document: nodeinfoDoc(30), CanonicalBase: "https://a.example"},
		}},
		Adapters:      map[string]Adapter{platform.Mastodon: adapter},
		Store:         store,
		Logger:        quietLogger(t),
		DiscoverPeers: true,
		Now:           func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) },
	})

	summary, err := runner.Run(context.Background(), []seeds.Instance{
		{Name: "a", Host: "a.example", URL: "https://a.example", Platform: "unknown"},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if summary.Processed != 1 || summary.OKUpdates != 1 || summary.BadUpdates != 0 {
		t.Fatalf("summary = %+v", summary)
	}
	if store.buckets["a.example"] != classify.Good {
		t.Fatalf("bucket = %q", store.buckets["a.example"])
	}
	if store.saves != 1 {
		t.Fatalf("store saved %d times, want 1", store.saves)
	}

	rec := store.records["a.example"]
	if rec.FetchedAt != "2026-01-02T03:04:05Z" {
		t.Fatalf("fetched_at = %q", rec.FetchedAt)
	}
	// NodeInfo ran first, so its counter wins over the adapter's.
	if rec.UsersTotal == nil || *rec.UsersTotal != 30 {
		t.Fatalf("users_total = %v", rec.UsersTotal)
	}
	if adapter.base != "https://a.example" {
		t.Fatalf("adapter base = %q", adapter.base)
	}

	for _, peer := range []string{"peer.example", "other.example"} {
		if _, found := summary.Peers[peer]; !found {
			t.Fatalf("peers missing %s: %v", peer, summary.Peers)
		}
	}
}

func TestRunCanonicalHostRegistersAlias(t *testing.T) {
	store := newFakeStore()
	runner := NewRunner(Options{
		NodeInfo: &fakeDiscoverer{results: map[string]*nodeinfo.Result{
			"example.social": {Document: nodeinfoDoc(10), CanonicalBase: "https://fedi.example.social"},
		}},
		Adapters: map[string]Adapter{},
		Store:    store,
		Logger:   quietLogger(t),
	})

	if _, err := runner.Run(context.Background(), []seeds.Instance{
		{Host: "example.social", URL: "https://example.social", Platform: "unknown"},
	}); err != nil {
		t.Fatal(err)
	}

	if store.aliases["example.social"] != "fedi.example.social" {
		t.Fatalf("aliases = %v", store.aliases)
	}
	rec := store.records["fedi.example.social"]
	if rec == nil || rec.RedirectedFrom != "example.social" {
		t.Fatalf("record = %+v", rec)
	}
}

func TestRunNodeInfoFailureClassifiesBad(t *testing.T) {
	store := newFakeStore()
	runner := NewRunner(Options{
		NodeInfo: &fakeDiscoverer{err: errors.New("boom")},
		Adapters: map[string]Adapter{},
		Store:    store,
		Logger:   quietLogger(t),
	})

	summary, err := runner.Run(context.Background(), []seeds.Instance{
		{Host: "down.example", URL: "https://down.example", Platform: "unknown"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if summary.BadUpdates != 1 {
		t.Fatalf("summary = %+v", summary)
	}
	if store.buckets["down.example"] != classify.Bad {
		t.Fatalf("bucket = %q", store.buckets["down.example"])
	}
}

func TestRunAdapterSuccessAloneVerifies(t *testing.T) {
	store := newFakeStore()
	total := int64(7)
	statuses := int64(100)
	adapter := &fakeAdapter{name: platform.Misskey, stats: &platform.Stats{
		SoftwareName: "misskey",
		UsersTotal:   &total,
		Statuses:     &statuses,
	}}
	runner := NewRunner(Options{
		NodeInfo: &fakeDiscoverer{err: errors.New("no nodeinfo")},
		Adapters: map[string]Adapter{platform.Misskey: adapter},
		Store:    store,
		Logger:   quietLogger(t),
	})

	if _, err := runner.Run(context.Background(), []seeds.Instance{
		{Host: "mk.example", URL: "https://mk.example", Platform: "misskey"},
	}); err != nil {
		t.Fatal(err)
	}

	// The nodeinfo stage errored, so even a verified record stays bad.
	if store.buckets["mk.example"] != classify.Bad {
		t.Fatalf("bucket = %q", store.buckets["mk.example"])
	}
	if rec := store.records["mk.example"]; !rec.VerifiedActivityPub {
		t.Fatal("platform success should verify the record")
	}
}

func TestRunUnsupportedPlatform(t *testing.T) {
	store := newFakeStore()
	runner := NewRunner(Options{
		NodeInfo: &fakeDiscoverer{results: map[string]*nodeinfo.Result{
			"p.example": {Document: nodeinfoDoc(5)},
		}},
		Adapters: map[string]Adapter{},
		Store:    store,
		Logger:   quietLogger(t),
	})

	if _, err := runner.Run(context.Background(), []seeds.Instance{
		{Host: "p.example", URL: "https://p.example", Platform: "pleroma"},
	}); err != nil {
		t.Fatal(err)
	}
	if store.buckets["p.example"] != classify.Bad {
		t.Fatalf("declared-unsupported platform should classify bad, got %q", store.buckets["p.example"])
	}
}

func TestRunPreflightShortCircuits(t *testing.T) {
	store := newFakeStore()
	discoverer := &fakeDiscoverer{results: map[string]*nodeinfo.Result{}}
	preflight := &fakePreflight{exists: false}
	runner := NewRunner(Options{
		NodeInfo:  discoverer,
		Adapters:  map[string]Adapter{},
		Store:     store,
		Preflight: preflight,
		Logger:    quietLogger(t),
	})

	if _, err := runner.Run(context.Background(), []seeds.Instance{
		{Host: "ghost.example", URL: "https://ghost.example", Platform: "unknown"},
	}); err != nil {
		t.Fatal(err)
	}

	if len(preflight.asked) != 1 || preflight.asked[0] != "ghost.example" {
		t.Fatalf("preflight asked = %v", preflight.asked)
	}
	if store.buckets["ghost.example"] != classify.Bad {
		t.Fatalf("bucket = %q", store.buckets["ghost.example"])
	}
}

func TestRunStopsOnCancelledContext(t *testing.T) {
	store := newFakeStore()
	runner := NewRunner(Options{
		NodeInfo: &fakeDiscoverer{err: errors.New("unreachable")},
		Adapters: map[string]Adapter{},
		Store:    store,
		Logger:   quietLogger(t),
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := runner.Run(ctx, []seeds.Instance{
		{Host: "a.example", URL: "https://a.example"},
	})
	if err == nil {
		t.Fatal("cancelled context should surface an error")
	}
	if summary.Processed != 0 {
		t.Fatalf("no host should be processed after cancel, got %d", summary.Processed)
	}
}
