// Package stats tracks crawl progress: processed hosts, bucket
// outcomes, and per-stage error counts, with optional periodic
// progress logging.
package stats

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/thanksstevenkim/the-hitchhikers-guide-to-the-fediverse/logging"
)

type Options struct {
	Logger   *logging.Logger
	Interval time.Duration
}

type Tracker struct {
	mu         sync.RWMutex
	start      time.Time
	processed  int
	good       int
	bad        int
	okUpdates  int
	badUpdates int

	stageErrors map[string]int

	logger   *logging.Logger
	interval time.Duration
	ticker   *time.Ticker
	done     chan struct{}
	stopOnce sync.Once
}

type Snapshot struct {
	Processed   int
	Good        int
	Bad         int
	OKUpdates   int
	BadUpdates  int
	StageErrors map[string]int
	Duration    time.Duration
}

func NewTracker(opts Options) *Tracker {
	interval := opts.Interval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Tracker{
		logger:      opts.Logger,
		interval:    interval,
		stageErrors: make(map[string]int),
		done:        make(chan struct{}),
	}
}

func (t *Tracker) Start(ctxDone <-chan struct{}) {
	if t == nil {
		return
	}
	t.mu.Lock()
	t.start = time.Now()
	t.mu.Unlock()

	if t.logger == nil {
		return
	}

	t.ticker = time.NewTicker(t.interval)
	go func() {
		for {
			select {
			case <-t.ticker.C:
				t.logSnapshot(false)
			case <-ctxDone:
				return
			case <-t.done:
				return
			}
		}
	}()
}

func (t *Tracker) Stop() Snapshot {
	if t == nil {
		return Snapshot{}
	}
	t.stopOnce.Do(func() {
		close(t.done)
		if t.ticker != nil {
			t.ticker.Stop()
		}
	})
	return t.Snapshot()
}

// RecordHost tallies one finished host: which bucket it landed in and
// whether the stored record actually changed.
func (t *Tracker) RecordHost(good, updated bool) {
	if t == nil {
		return
	}
	t.mu.Lock()
	t.processed++
	if good {
		t.good++
		if updated {
			t.okUpdates++
		}
	} else {
		t.bad++
		if updated {
			t.badUpdates++
		}
	}
	t.mu.Unlock()
}

// RecordStageError counts a failure attributed to a pipeline stage
// (nodeinfo, mastodon, misskey, dns, ...).
func (t *Tracker) RecordStageError(stage string) {
	if t == nil {
		return
	}
	stage = strings.TrimSpace(stage)
	if stage == "" {
		return
	}
	t.mu.Lock()
	t.stageErrors[stage]++
	t.mu.Unlock()
}

func (t *Tracker) Snapshot() Snapshot {
	if t == nil {
		return Snapshot{}
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	copyMap := make(map[string]int, len(t.stageErrors))
	for key, value := range t.stageErrors {
		copyMap[key] = value
	}
	duration := time.Duration(0)
	if !t.start.IsZero() {
		duration = time.Since(t.start)
	}
	return Snapshot{
		Processed:   t.processed,
		Good:        t.good,
		Bad:         t.bad,
		OKUpdates:   t.okUpdates,
		BadUpdates:  t.badUpdates,
		StageErrors: copyMap,
		Duration:    duration,
	}
}

func (s Snapshot) GoodRate() float64 {
	if s.Processed == 0 {
		return 0
	}
	return (float64(s.Good) / float64(s.Processed)) * 100
}

func (t *Tracker) logSnapshot(final bool) {
	if t == nil || t.logger == nil {
		return
	}
	snapshot := t.Snapshot()
	if final {
		t.logger.Infof("Crawl statistics: %s", t.renderSnapshot(snapshot))
		return
	}
	t.logger.Infof("Progress: %s", t.renderSnapshot(snapshot))
}

// LogFinal emits the end-of-run summary line.
func (t *Tracker) LogFinal() {
	t.logSnapshot(true)
}

func (t *Tracker) renderSnapshot(s Snapshot) string {
	parts := []string{
		fmt.Sprintf("processed=%d", s.Processed),
		fmt.Sprintf("ok=%d", s.Good),
		fmt.Sprintf("bad=%d", s.Bad),
		fmt.Sprintf("ok_updates=%d", s.OKUpdates),
		fmt.Sprintf("bad_updates=%d", s.BadUpdates),
		fmt.Sprintf("good_rate=%.1f%%", s.GoodRate()),
		fmt.Sprintf("duration=%s", s.Duration.Truncate(time.Second)),
	}
	if len(s.StageErrors) > 0 {
		parts = append(parts, fmt.Sprintf("errors=%s", FormatStageBreakdown(s.StageErrors, 5)))
	}
	return strings.Join(parts, " | ")
}

// FormatStageBreakdown converts a map of stage error counts into a human readable string.
func FormatStageBreakdown(stages map[string]int, limit int) string {
	if limit <= 0 {
		limit = len(stages)
	}
	type item struct {
		name  string
		count int
	}
	entries := make([]item, 0, len(stages))
	for name, count := range stages {
		entries = append(entries, item{name: name, count: count})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].count == entries[j].count {
			return entries[i].name < entries[j].name
		}
		return entries[i].count > entries[j].count
	})
	if len(entries) > limit {
		entries = entries[:limit]
	}
	formatted := make([]string, 0, len(entries))
	for _, entry := range entries {
		formatted = append(formatted, fmt.Sprintf("%s=%d", entry.name, entry.count))
	}
	return strings.Join(formatted, ", ")
}
