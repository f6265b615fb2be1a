// Package store persists crawl results incrementally: two bucket files
// (good and bad records), an alias map from original to canonical
// hosts, and discovered-peer suggestions. Every write goes through a
// temp-file-then-rename so an interrupted run never leaves a torn file.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/thanksstevenkim/the-hitchhikers-guide-to-the-fediverse/classify"
	"github.com/thanksstevenkim/the-hitchhikers-guide-to-the-fediverse/hostutil"
	"github.com/thanksstevenkim/the-hitchhikers-guide-to-the-fediverse/logging"
	"github.com/thanksstevenkim/the-hitchhikers-guide-to-the-fediverse/record"
)

// Options name the files backing a Store. LegacyPath is an optional
// single-file layout from older runs; it is split into the two buckets
// on first load when both bucket files are missing or empty.
type Options struct {
	OKPath     string
	BadPath    string
	AliasPath  string
	LegacyPath string
	Logger     *logging.Logger
}

type Store struct {
	opts    Options
	logger  *logging.Logger
	ok      map[string]*record.StatsRecord
	bad     map[string]*record.StatsRecord
	aliases map[string]string

	// Hosts seen in the legacy file count as checked even when the
	// split buckets already existed and no migration ran.
	legacyHosts map[string]struct{}
}

// Open loads the bucket and alias files. Missing files start empty;
// corrupt files are logged and treated as empty rather than aborting,
// so one bad artifact cannot block a whole run.
func Open(opts Options) *Store {
	logger := opts.Logger
	if logger == nil {
		logger, _ = logging.New(logging.Options{})
	}
	s := &Store{
		opts:        opts,
		logger:      logger,
		ok:          make(map[string]*record.StatsRecord),
		bad:         make(map[string]*record.StatsRecord),
		aliases:     make(map[string]string),
		legacyHosts: make(map[string]struct{}),
	}

	s.loadBucket(opts.OKPath, s.ok)
	s.loadBucket(opts.BadPath, s.bad)
	s.loadAliases()

	if opts.LegacyPath != "" {
		s.loadLegacy()
	}
	return s
}

func (s *Store) loadBucket(path string, into map[string]*record.StatsRecord) {
	if path == "" {
		return
	}
	records, err := readRecordList(path)
	if err != nil {
		s.logger.Warnf("could not load %s: %v", filepath.Base(path), err)
		return
	}
	for _, rec := range records {
		into[rec.Host] = rec
	}
}

func (s *Store) loadLegacy() {
	records, err := readRecordList(s.opts.LegacyPath)
	if err != nil {
		s.logger.Warnf("could not read legacy stats file: %v", err)
		return
	}
	if len(records) == 0 {
		return
	}
	for _, rec := range records {
		s.legacyHosts[hostutil.Normalize(rec.Host)] = struct{}{}
	}
	if len(s.ok) > 0 || len(s.bad) > 0 {
		return
	}
	// First run against the split layout: partition the old file by
	// its verification flag.
	for _, rec := range records {
		if rec.VerifiedActivityPub {
			s.ok[rec.Host] = rec
		} else {
			s.bad[rec.Host] = rec
		}
	}
	s.logger.Infof("migrated legacy stats file into split buckets (ok=%d bad=%d)", len(s.ok), len(s.bad))
}

func readRecordList(path string) ([]*record.StatsRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var records []*record.StatsRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, err
	}
	out := records[:0]
	for _, rec := range records {
		if rec != nil && rec.Host != "" {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *Store) loadAliases() {
	if s.opts.AliasPath == "" {
		return
	}
	data, err := os.ReadFile(s.opts.AliasPath)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warnf("could not load alias map: %v", err)
		}
		return
	}
	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		s.logger.Warnf("could not parse alias map: %v", err)
		return
	}
	for key, value := range raw {
		nk := hostutil.Normalize(key)
		nv := hostutil.Normalize(value)
		if nk != "" && nv != "" {
			s.aliases[nk] = nv
		}
	}
}

// Upsert places rec into the bucket named by classification and evicts
// any stale entry for the same host from the other bucket, so a host
// never appears in both files. It reports whether the stored state
// actually changed (new host or differing record).
func (s *Store) Upsert(rec *record.StatsRecord, classification string) bool {
	var target, other map[string]*record.StatsRecord
	if classification == classify.Good {
		target, other = s.ok, s.bad
	} else {
		target, other = s.bad, s.ok
	}

	prev := target[rec.Host]
	target[rec.Host] = rec
	delete(other, rec.Host)

	return prev == nil || !recordsEqual(prev, rec)
}

func recordsEqual(a, b *record.StatsRecord) bool {
	aj, err := json.Marshal(a)
	if err != nil {
		return false
	}
	bj, err := json.Marshal(b)
	if err != nil {
		return false
	}
	return string(aj) == string(bj)
}

// Save writes both buckets as host-sorted pretty-printed arrays.
// Called after every processed host to bound data loss on interrupt.
func (s *Store) Save() error {
	if err := writeJSONAtomic(s.opts.OKPath, sortedRecords(s.ok)); err != nil {
		return fmt.Errorf("save ok bucket: %w", err)
	}
	if err := writeJSONAtomic(s.opts.BadPath, sortedRecords(s.bad)); err != nil {
		return fmt.Errorf("save bad bucket: %w", err)
	}
	return nil
}

func sortedRecords(bucket map[string]*record.StatsRecord) []*record.StatsRecord {
	records := make([]*record.StatsRecord, 0, len(bucket))
	for _, rec := range bucket {
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Host < records[j].Host })
	return records
}

// RegisterAlias records original→canonical. Both hosts are normalized;
// identical or cross-zone pairs are refused, and re-registering the
// same mapping is a no-op. The alias file is rewritten on change.
func (s *Store) RegisterAlias(original, canonical string) (bool, error) {
	o := hostutil.Normalize(original)
	c := hostutil.Normalize(canonical)
	if o == "" || c == "" || o == c {
		return false, nil
	}
	if !hostutil.SameZone(o, c) {
		return false, nil
	}
	if s.aliases[o] == c {
		return false, nil
	}
	s.aliases[o] = c
	if s.opts.AliasPath == "" {
		return true, nil
	}
	if err := writeJSONAtomic(s.opts.AliasPath, s.aliases); err != nil {
		return false, fmt.Errorf("save alias map: %w", err)
	}
	return true, nil
}

// ResolveAlias maps a normalized host through the alias map, returning
// the input unchanged when no alias exists.
func (s *Store) ResolveAlias(host string) string {
	normalized := hostutil.Normalize(host)
	if canonical, ok := s.aliases[normalized]; ok {
		return canonical
	}
	return normalized
}

// CheckedHosts returns every normalized host the store already knows
// about: bucket hosts, their redirect origins, legacy-file hosts, and
// both sides of every alias.
func (s *Store) CheckedHosts() map[string]struct{} {
	checked := make(map[string]struct{})
	for _, bucket := range []map[string]*record.StatsRecord{s.ok, s.bad} {
		for _, rec := range bucket {
			checked[hostutil.Normalize(rec.Host)] = struct{}{}
			if rec.RedirectedFrom != "" {
				checked[hostutil.Normalize(rec.RedirectedFrom)] = struct{}{}
			}
		}
	}
	for host := range s.legacyHosts {
		checked[host] = struct{}{}
	}
	for src, dst := range s.aliases {
		checked[src] = struct{}{}
		checked[dst] = struct{}{}
	}
	return checked
}

// Counts returns the current bucket sizes.
func (s *Store) Counts() (ok, bad int) {
	return len(s.ok), len(s.bad)
}

// EmitPeerSuggestions writes the discovered hosts that have not been
// checked yet, sorted, as a JSON array. A target of "-" writes to
// stdout. Returns the number of new hosts emitted.
func (s *Store) EmitPeerSuggestions(discovered map[string]struct{}, target string) (int, error) {
	if len(discovered) == 0 {
		s.logger.Infof("no federation peers discovered")
		return 0, nil
	}

	checked := s.CheckedHosts()
	var fresh []string
	for host := range discovered {
		if _, done := checked[hostutil.Normalize(host)]; !done {
			fresh = append(fresh, host)
		}
	}
	if len(fresh) == 0 {
		s.logger.Infof("all discovered peers already checked")
		return 0, nil
	}
	sort.Strings(fresh)

	if target == "-" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetEscapeHTML(false)
		enc.SetIndent("", "  ")
		if err := enc.Encode(fresh); err != nil {
			return 0, err
		}
		s.logger.Infof("emitted %d peers to stdout", len(fresh))
		return len(fresh), nil
	}

	if err := writeJSONAtomic(target, fresh); err != nil {
		return 0, fmt.Errorf("save peer suggestions: %w", err)
	}
	s.logger.Infof("wrote %s (%d new peers)", target, len(fresh))
	return len(fresh), nil
}

// writeJSONAtomic serializes value pretty-printed with a trailing
// newline and renames it into place. HTML escaping is off so hosts and
// URLs stay readable in the output files.
func writeJSONAtomic(path string, value any) error {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	enc := json.NewEncoder(tmp)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(value); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
