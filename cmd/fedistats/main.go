package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/thanksstevenkim/the-hitchhikers-guide-to-the-fediverse/config"
	"github.com/thanksstevenkim/the-hitchhikers-guide-to-the-fediverse/crawl"
	"github.com/thanksstevenkim/the-hitchhikers-guide-to-the-fediverse/fetch"
	"github.com/thanksstevenkim/the-hitchhikers-guide-to-the-fediverse/logging"
	"github.com/thanksstevenkim/the-hitchhikers-guide-to-the-fediverse/netutil"
	"github.com/thanksstevenkim/the-hitchhikers-guide-to-the-fediverse/nodeinfo"
	"github.com/thanksstevenkim/the-hitchhikers-guide-to-the-fediverse/platform"
	"github.com/thanksstevenkim/the-hitchhikers-guide-to-the-fediverse/platform/mastodon"
	"github.com/thanksstevenkim/the-hitchhikers-guide-to-the-fediverse/platform/misskey"
	"github.com/thanksstevenkim/the-hitchhikers-guide-to-the-fediverse/ratelimit"
	"github.com/thanksstevenkim/the-hitchhikers-guide-to-the-fediverse/resolver"
	"github.com/thanksstevenkim/the-hitchhikers-guide-to-the-fediverse/seeds"
	"github.com/thanksstevenkim/the-hitchhikers-guide-to-the-fediverse/stats"
	"github.com/thanksstevenkim/the-hitchhikers-guide-to-the-fediverse/store"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "fedistats",
	Short: "fedistats collects usage statistics from Fediverse instances.",
	Long: `fedistats crawls federated social-networking servers, verifies them via
NodeInfo, queries their platform APIs, and maintains split good/bad
statistics files that survive interruption at any point.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		showVersion, err := cmd.Flags().GetBool("version")
		if err != nil {
			return err
		}
		if showVersion {
			fmt.Fprintf(cmd.OutOrStdout(), "fedistats version: %s\n", version)
			fmt.Fprintf(cmd.OutOrStdout(), "commit: %s\n", commit)
			fmt.Fprintf(cmd.OutOrStdout(), "built: %s\n", date)
			return nil
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := config.ApplyProfile(cfg, cmd); err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		level, err := logging.ParseLevel(cfg.LogLevel)
		if err != nil {
			return err
		}
		logger, err := logging.New(logging.Options{Level: level, Console: cmd.ErrOrStderr(), FilePath: cfg.LogFile})
		if err != nil {
			return err
		}
		defer logger.Close()

		if cfg.LogFile != "" {
			logger.Infof("File logging enabled: %s", cfg.LogFile)
		}

		db := store.Open(store.Options{
			OKPath:     cfg.OKPath,
			BadPath:    cfg.BadPath,
			AliasPath:  cfg.AliasPath,
			LegacyPath: cfg.LegacyPath,
			Logger:     logger,
		})

		var instances []seeds.Instance
		if cfg.InputPath != "" {
			instances, err = seeds.LoadHostList(cfg.InputPath, db, logger)
		} else {
			instances, err = seeds.LoadInstances(cfg.InstancesPath, db, logger)
		}
		if err != nil {
			return err
		}
		if len(instances) == 0 {
			logger.Warnf("No instances to process. Populate %s or pass --input.", cfg.InstancesPath)
			return nil
		}

		limiter := ratelimit.New(cfg.RateLimit)
		fetcher := fetch.NewClient(
			fetch.WithHTTPClient(netutil.NewHTTPClient(cfg.Timeout, limiter)),
			fetch.WithUserAgent(cfg.UserAgent),
			fetch.WithMaxRedirects(cfg.MaxRedirects),
			fetch.WithMaxBodyBytes(cfg.MaxBodyBytes),
		)

		var preflight crawl.Preflight
		if cfg.PreflightDNS {
			dns, err := resolver.New(resolver.Options{Server: cfg.DNSServer, Timeout: cfg.DNSTimeout})
			if err != nil {
				return err
			}
			logger.Debugf("DNS pre-flight enabled via %s", dns.Server())
			preflight = dns
		}

		tracker := stats.NewTracker(stats.Options{Logger: logger})
		tracker.Start(ctx.Done())
		defer tracker.Stop()

		runner := crawl.NewRunner(crawl.Options{
			NodeInfo: nodeinfo.NewClient(nodeinfo.WithFetcher(fetcher)),
			Adapters: map[string]crawl.Adapter{
				platform.Mastodon: mastodon.NewClient(mastodon.WithFetcher(fetcher)),
				platform.Misskey:  misskey.NewClient(misskey.WithFetcher(fetcher)),
			},
			Store:         db,
			Preflight:     preflight,
			Logger:        logger,
			Tracker:       tracker,
			DiscoverPeers: cfg.DiscoverPeers,
		})

		summary, runErr := runner.Run(ctx, instances)
		logger.Infof("Incremental save complete: processed=%d, ok_updates=%d, bad_updates=%d",
			summary.Processed, summary.OKUpdates, summary.BadUpdates)

		if cfg.DiscoverPeers {
			if _, err := db.EmitPeerSuggestions(summary.Peers, cfg.PeerOutput); err != nil {
				logger.Errorf("peer suggestions: %v", err)
			}
		}

		tracker.Stop()
		tracker.LogFinal()
		return runErr
	},
}

func init() {
	cfg = config.BindFlags(rootCmd)
	rootCmd.PersistentFlags().BoolP("version", "V", false, "Show fedistats version information and exit")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
