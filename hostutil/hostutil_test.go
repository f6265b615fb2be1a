package hostutil

import "testing"

func TestNormalize(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"lowercase", "Example.ORG", "example.org"},
		{"port stripped", "example.org:8443", "example.org"},
		{"trailing dot stripped", "example.org.", "example.org"},
		{"whitespace trimmed", "  example.org ", "example.org"},
		{"unicode idna", "bücher.example", "xn--bcher-kva.example"},
		{"punycode passthrough", "xn--bcher-kva.example", "xn--bcher-kva.example"},
		{"ipv6 bracket untouched", "[::1]:8443", "[::1]:8443"},
		{"non numeric tail kept", "example.org:abc", "example.org:abc"},
		{"empty", "", ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Normalize(tc.in); got != tc.want {
				t.Fatalf("Normalize(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	inputs := []string{"Example.ORG:443", "bücher.example", "[::1]:8443", "sub.example.org."}
	for _, in := range inputs {
		once := Normalize(in)
		if twice := Normalize(once); twice != once {
			t.Fatalf("Normalize not idempotent for %q: %q != %q", in, once, twice)
		}
	}
}

func TestSameZone(t *testing.T) {
	cases := []struct {
		a, b string
		want bool
	}{
		{"example.org", "example.org", true},
		{"mastodon.example.org", "example.org", true},
		{"example.org", "mastodon.example.org", true},
		{"Example.ORG.", "example.org", true},
		{"a.example.org", "b.other.org", false},
		{"badexample.org", "example.org", false},
		{"", "example.org", false},
		{"example.org", "", false},
	}

	for _, tc := range cases {
		if got := SameZone(tc.a, tc.b); got != tc.want {
			t.Fatalf("SameZone(%q, %q) = %v, want %v", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestPeerHost(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"example.org", "example.org"},
		{"EXAMPLE.org/", "example.org"},
		{"https://example.org/path", "example.org"},
		{"http://example.org:8080", "example.org:8080"},
		{"https://example.org", "example.org"},
		{"  ", ""},
	}

	for _, tc := range cases {
		if got := PeerHost(tc.in); got != tc.want {
			t.Fatalf("PeerHost(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestHostFromURL(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"https://Mastodon.Example.org/about", "mastodon.example.org"},
		{"https://example.org:443", "example.org"},
		{"example.org", "example.org"},
		{"", ""},
	}

	for _, tc := range cases {
		if got := HostFromURL(tc.in); got != tc.want {
			t.Fatalf("HostFromURL(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
