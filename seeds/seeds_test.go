package seeds

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/thanksstevenkim/the-hitchhikers-guide-to-the-fediverse/logging"
)

type fakeFilter struct {
	checked map[string]struct{}
	aliases map[string]string
}

func (f *fakeFilter) CheckedHosts() map[string]struct{} { return f.checked }

func (f *fakeFilter) ResolveAlias(host string) string {
	if canonical, ok := f.aliases[host]; ok {
		return canonical
	}
	return host
}

func emptyFilter() *fakeFilter {
	return &fakeFilter{checked: map[string]struct{}{}, aliases: map[string]string{}}
}

func writeSeedFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "seeds.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func testLogger(t *testing.T) *logging.Logger {
	t.Helper()
	logger, err := logging.New(logging.Options{Level: logging.LevelError})
	if err != nil {
		t.Fatal(err)
	}
	return logger
}

func TestLoadInstances(t *testing.T) {
	path := writeSeedFile(t, `[
		{"name": "Main", "url": "https://Fedi.Example.Social/", "platform": "Mastodon"},
		{"url": "https://done.example"},
		{"name": "no url here"},
		{"url": "https://aliased.example"}
	]`)
	filter := &fakeFilter{
		checked: map[string]struct{}{"done.example": {}, "canonical.aliased.example": {}},
		aliases: map[string]string{"aliased.example": "canonical.aliased.example"},
	}

	instances, err := LoadInstances(path, filter, testLogger(t))
	if err != nil {
		t.Fatalf("LoadInstances: %v", err)
	}
	if len(instances) != 1 {
		t.Fatalf("got %d instances: %v", len(instances), instances)
	}

	inst := instances[0]
	if inst.Host != "fedi.example.social" {
		t.Fatalf("host = %q", inst.Host)
	}
	if inst.URL != "https://Fedi.Example.Social" {
		t.Fatalf("url = %q", inst.URL)
	}
	if inst.Platform != "mastodon" {
		t.Fatalf("platform = %q", inst.Platform)
	}
	if inst.Name != "Main" {
		t.Fatalf("name = %q", inst.Name)
	}
}

func TestLoadInstancesMissingFile(t *testing.T) {
	if _, err := LoadInstances(filepath.Join(t.TempDir(), "nope.json"), emptyFilter(), testLogger(t)); err == nil {
		t.Fatal("missing seed file should abort")
	}
}

func TestLoadInstancesInvalidJSON(t *testing.T) {
	path := writeSeedFile(t, `{"not": "a list"}`)
	if _, err := LoadInstances(path, emptyFilter(), testLogger(t)); err == nil {
		t.Fatal("non-array input should abort")
	}
}

func TestLoadHostListStringsAndObjects(t *testing.T) {
	path := writeSeedFile(t, `[
		"Bare.Example",
		"already.example",
		{"host": "obj.example", "platform": "misskey"},
		42
	]`)
	filter := &fakeFilter{
		checked: map[string]struct{}{"already.example": {}},
		aliases: map[string]string{},
	}

	instances, err := LoadHostList(path, filter, testLogger(t))
	if err != nil {
		t.Fatalf("LoadHostList: %v", err)
	}
	if len(instances) != 2 {
		t.Fatalf("got %d instances: %v", len(instances), instances)
	}

	if instances[0].Host != "bare.example" || instances[0].URL != "https://bare.example" {
		t.Fatalf("string entry = %+v", instances[0])
	}
	if instances[1].Host != "obj.example" || instances[1].Platform != "misskey" {
		t.Fatalf("object entry = %+v", instances[1])
	}
	if instances[1].URL != "https://obj.example" {
		t.Fatalf("object entry url = %q", instances[1].URL)
	}
}

func TestLoadHostListAliasSkip(t *testing.T) {
	path := writeSeedFile(t, `["old.example.social"]`)
	filter := &fakeFilter{
		checked: map[string]struct{}{"new.example.social": {}},
		aliases: map[string]string{"old.example.social": "new.example.social"},
	}

	instances, err := LoadHostList(path, filter, testLogger(t))
	if err != nil {
		t.Fatal(err)
	}
	if len(instances) != 0 {
		t.Fatalf("alias-mapped checked host should be skipped: %v", instances)
	}
}
