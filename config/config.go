package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// Defaults for the data files, relative to the working directory.
const (
	DefaultInstancesPath = "data/instances.json"
	DefaultOKPath        = "data/stats.ok.json"
	DefaultBadPath       = "data/stats.bad.json"
	DefaultLegacyPath    = "data/stats.json"
	DefaultAliasPath     = "data/host_aliases.json"
	DefaultPeerOutput    = "data/peer_suggestions.json"
)

const (
	defaultTimeout      = 5 * time.Second
	defaultMaxRedirects = 5
	defaultMaxBodyBytes = 2_000_000
	defaultUserAgent    = "fedistats/1.0"
)

// Config captures all runtime configuration for the CLI.
type Config struct {
	InstancesPath string
	InputPath     string
	OKPath        string
	BadPath       string
	LegacyPath    string
	AliasPath     string

	DiscoverPeers bool
	PeerOutput    string

	Timeout      time.Duration
	MaxRedirects int
	MaxBodyBytes int64
	UserAgent    string
	RateLimit    float64

	PreflightDNS bool
	DNSServer    string
	DNSTimeout   time.Duration

	Verbose  bool
	LogLevel string
	LogFile  string

	Profile    string
	ConfigPath string
}

// BindFlags registers the shared command-line flags and returns a Config
// instance whose fields are populated when Cobra parses flag values.
func BindFlags(cmd *cobra.Command) *Config {
	cfg := &Config{}

	flags := cmd.PersistentFlags()
	flags.StringVar(&cfg.InstancesPath, "instances", DefaultInstancesPath, "Curated instances file (JSON array of objects)")
	flags.StringVarP(&cfg.InputPath, "input", "i", "", "Host-list file (JSON array of strings or objects); overrides --instances")
	flags.StringVar(&cfg.OKPath, "ok-output", DefaultOKPath, "Bucket file for verified records with sane stats")
	flags.StringVar(&cfg.BadPath, "bad-output", DefaultBadPath, "Bucket file for unverified or anomalous records")
	flags.StringVar(&cfg.LegacyPath, "legacy-stats", DefaultLegacyPath, "Legacy single stats file, migrated on first run")
	flags.StringVar(&cfg.AliasPath, "aliases", DefaultAliasPath, "Alias map file (original host -> canonical host)")
	flags.BoolVar(&cfg.DiscoverPeers, "discover-peers", false, "Collect federation peers for later curation")
	flags.StringVar(&cfg.PeerOutput, "peer-output", DefaultPeerOutput, "File path for discovered peers (use '-' for stdout)")
	flags.DurationVarP(&cfg.Timeout, "timeout", "t", defaultTimeout, "Per-request HTTP timeout")
	flags.IntVar(&cfg.MaxRedirects, "max-redirects", defaultMaxRedirects, "Maximum redirect hops to follow per request")
	flags.Int64Var(&cfg.MaxBodyBytes, "max-body", defaultMaxBodyBytes, "Maximum response body size in bytes")
	flags.StringVar(&cfg.UserAgent, "user-agent", defaultUserAgent, "User-Agent header sent with every request")
	flags.Float64Var(&cfg.RateLimit, "rate-limit", 0, "Maximum outbound requests per second (0 disables limiting)")
	flags.BoolVar(&cfg.PreflightDNS, "preflight-dns", false, "Check that a host resolves before fetching over HTTP")
	flags.StringVar(&cfg.DNSServer, "dns-server", "", "Custom DNS server for pre-flight checks (host or host:port)")
	flags.DurationVar(&cfg.DNSTimeout, "dns-timeout", defaultTimeout, "Timeout for pre-flight DNS lookups")
	flags.BoolVarP(&cfg.Verbose, "verbose", "v", false, "Enable verbose logging output")
	flags.StringVar(&cfg.LogLevel, "log-level", "", "Logging level (debug, info, warn, error)")
	flags.StringVar(&cfg.LogFile, "log-file", "", "Optional file to append log output to")
	flags.StringVar(&cfg.Profile, "profile", "", "Named profile from the config file to apply")
	flags.StringVar(&cfg.ConfigPath, "config", "", "Path to a config file (default: .fedistats.yaml)")

	return cfg
}

// Validate ensures the provided configuration values meet the expected
// constraints and normalises their representation where required.
func (c *Config) Validate() error {
	c.InstancesPath = strings.TrimSpace(c.InstancesPath)
	c.InputPath = strings.TrimSpace(c.InputPath)
	c.OKPath = strings.TrimSpace(c.OKPath)
	c.BadPath = strings.TrimSpace(c.BadPath)
	c.LegacyPath = strings.TrimSpace(c.LegacyPath)
	c.AliasPath = strings.TrimSpace(c.AliasPath)
	c.PeerOutput = strings.TrimSpace(c.PeerOutput)
	c.DNSServer = strings.TrimSpace(c.DNSServer)
	c.UserAgent = strings.TrimSpace(c.UserAgent)

	if c.InstancesPath == "" && c.InputPath == "" {
		return fmt.Errorf("no input configured: provide --instances or --input")
	}
	if c.OKPath == "" || c.BadPath == "" {
		return fmt.Errorf("both bucket files must be configured")
	}
	if c.OKPath == c.BadPath {
		return fmt.Errorf("ok and bad buckets must be distinct files")
	}

	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.MaxRedirects <= 0 {
		c.MaxRedirects = defaultMaxRedirects
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = defaultMaxBodyBytes
	}
	if c.UserAgent == "" {
		c.UserAgent = defaultUserAgent
	}
	if c.RateLimit < 0 {
		c.RateLimit = 0
	}
	if c.DNSTimeout <= 0 {
		c.DNSTimeout = c.Timeout
	}

	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	if c.LogLevel == "" {
		if c.Verbose {
			c.LogLevel = "debug"
		} else {
			c.LogLevel = "info"
		}
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log level %q: expected debug, info, warn, or error", c.LogLevel)
	}

	if c.DiscoverPeers && c.PeerOutput == "" {
		c.PeerOutput = DefaultPeerOutput
	}

	return nil
}
