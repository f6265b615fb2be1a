package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

const defaultConfigFilename = ".fedistats.yaml"

type fileConfig struct {
	Profiles map[string]profileSettings `yaml:"profiles"`
}

type profileSettings struct {
	InstancesPath *string   `yaml:"instances"`
	InputPath     *string   `yaml:"input"`
	OKPath        *string   `yaml:"ok_output"`
	BadPath       *string   `yaml:"bad_output"`
	LegacyPath    *string   `yaml:"legacy_stats"`
	AliasPath     *string   `yaml:"aliases"`
	DiscoverPeers *bool     `yaml:"discover_peers"`
	PeerOutput    *string   `yaml:"peer_output"`
	Timeout       *Duration `yaml:"timeout"`
	MaxRedirects  *int      `yaml:"max_redirects"`
	MaxBodyBytes  *int64    `yaml:"max_body"`
	UserAgent     *string   `yaml:"user_agent"`
	RateLimit     *float64  `yaml:"rate_limit"`
	PreflightDNS  *bool     `yaml:"preflight_dns"`
	DNSServer     *string   `yaml:"dns_server"`
	DNSTimeout    *Duration `yaml:"dns_timeout"`
	Verbose       *bool     `yaml:"verbose"`
	LogLevel      *string   `yaml:"log_level"`
	LogFile       *string   `yaml:"log_file"`
}

// Duration accepts either a Go duration string ("5s") or a bare number
// of seconds in YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var str string
	if err := value.Decode(&str); err == nil {
		if parsed, perr := time.ParseDuration(strings.TrimSpace(str)); perr == nil {
			*d = Duration(parsed)
			return nil
		}
	}
	var seconds float64
	if err := value.Decode(&seconds); err == nil {
		*d = Duration(time.Duration(seconds * float64(time.Second)))
		return nil
	}
	return fmt.Errorf("invalid duration %q", value.Value)
}

// ApplyProfile loads and applies the requested configuration profile to cfg.
// Command-line flag overrides take precedence over profile values.
func ApplyProfile(cfg *Config, cmd *cobra.Command) error {
	path, err := resolveConfigPath(cfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("locating config file: %w", err)
	}

	if path == "" {
		if cfg.Profile != "" {
			return fmt.Errorf("profile %q requested but no %s file was found", cfg.Profile, defaultConfigFilename)
		}
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file %s: %w", path, err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if len(fc.Profiles) == 0 {
		if cfg.Profile != "" {
			return fmt.Errorf("profile %q not found in %s", cfg.Profile, path)
		}
		return nil
	}

	profileName := cfg.Profile
	if profileName == "" {
		if _, ok := fc.Profiles["default"]; ok {
			profileName = "default"
		}
	}

	if profileName == "" {
		return nil
	}

	profile, ok := fc.Profiles[profileName]
	if !ok {
		return fmt.Errorf("profile %q not found in %s", profileName, path)
	}

	applyProfileSettings(cfg, &profile, cmd)
	cfg.ConfigPath = path
	return nil
}

func applyProfileSettings(cfg *Config, profile *profileSettings, cmd *cobra.Command) {
	flags := cmd.Flags()

	if profile.InstancesPath != nil && !flagChanged(flags, "instances") {
		cfg.InstancesPath = strings.TrimSpace(*profile.InstancesPath)
	}
	if profile.InputPath != nil && !flagChanged(flags, "input") {
		cfg.InputPath = strings.TrimSpace(*profile.InputPath)
	}
	if profile.OKPath != nil && !flagChanged(flags, "ok-output") {
		cfg.OKPath = strings.TrimSpace(*profile.OKPath)
	}
	if profile.BadPath != nil && !flagChanged(flags, "bad-output") {
		cfg.BadPath = strings.TrimSpace(*profile.BadPath)
	}
	if profile.LegacyPath != nil && !flagChanged(flags, "legacy-stats") {
		cfg.LegacyPath = strings.TrimSpace(*profile.LegacyPath)
	}
	if profile.AliasPath != nil && !flagChanged(flags, "aliases") {
		cfg.AliasPath = strings.TrimSpace(*profile.AliasPath)
	}
	if profile.DiscoverPeers != nil && !flagChanged(flags, "discover-peers") {
		cfg.DiscoverPeers = *profile.DiscoverPeers
	}
	if profile.PeerOutput != nil && !flagChanged(flags, "peer-output") {
		cfg.PeerOutput = strings.TrimSpace(*profile.PeerOutput)
	}
	if profile.Timeout != nil && !flagChanged(flags, "timeout") {
		cfg.Timeout = time.Duration(*profile.Timeout)
	}
	if profile.MaxRedirects != nil && !flagChanged(flags, "max-redirects") {
		cfg.MaxRedirects = *profile.MaxRedirects
	}
	if profile.MaxBodyBytes != nil && !flagChanged(flags, "max-body") {
		cfg.MaxBodyBytes = *profile.MaxBodyBytes
	}
	if profile.UserAgent != nil && !flagChanged(flags, "user-agent") {
		cfg.UserAgent = strings.TrimSpace(*profile.UserAgent)
	}
	if profile.RateLimit != nil && !flagChanged(flags, "rate-limit") {
		cfg.RateLimit = *profile.RateLimit
	}
	if profile.PreflightDNS != nil && !flagChanged(flags, "preflight-dns") {
		cfg.PreflightDNS = *profile.PreflightDNS
	}
	if profile.DNSServer != nil && !flagChanged(flags, "dns-server") {
		cfg.DNSServer = strings.TrimSpace(*profile.DNSServer)
	}
	if profile.DNSTimeout != nil && !flagChanged(flags, "dns-timeout") {
		cfg.DNSTimeout = time.Duration(*profile.DNSTimeout)
	}
	if profile.Verbose != nil && !flagChanged(flags, "verbose") {
		cfg.Verbose = *profile.Verbose
	}
	if profile.LogLevel != nil && !flagChanged(flags, "log-level") {
		cfg.LogLevel = strings.TrimSpace(*profile.LogLevel)
	}
	if profile.LogFile != nil && !flagChanged(flags, "log-file") {
		cfg.LogFile = strings.TrimSpace(*profile.LogFile)
	}
}

func resolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		abs := explicit
		if !filepath.IsAbs(abs) {
			if resolved, err := filepath.Abs(explicit); err == nil {
				abs = resolved
			}
		}
		if _, err := os.Stat(abs); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return "", err
			}
			return "", fmt.Errorf("stat %s: %w", abs, err)
		}
		return abs, nil
	}

	if cwd, err := os.Getwd(); err == nil {
		candidate := filepath.Join(cwd, defaultConfigFilename)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	} else {
		return "", fmt.Errorf("getwd: %w", err)
	}

	if home, err := os.UserHomeDir(); err == nil {
		candidate := filepath.Join(home, defaultConfigFilename)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}

	return "", nil
}

func flagChanged(flags *pflag.FlagSet, name string) bool {
	if flags == nil {
		return false
	}
	flag := flags.Lookup(name)
	if flag == nil {
		return false
	}
	return flag.Changed
}
