package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/mediaharvest/internal/config"
	"github.com/JakeFAU/mediaharvest/internal/crawler"
	"github.com/JakeFAU/mediaharvest/internal/policy/ratelimit"
	"github.com/JakeFAU/mediaharvest/internal/progress"
	"github.com/JakeFAU/mediaharvest/internal/session"
)

type pullFlags struct {
	maxPage int
	logout  bool
}

// newPullCmd creates the 'pull' subcommand.
func newPullCmd(cfgFile *string) *cobra.Command {
	var flags pullFlags
	cmd := &cobra.Command{
		Use:   "pull <tag> <outputDir>",
		Short: "Crawl a tag and write per-item media manifests",
		Long: `Logs in (or reuses the persisted session), walks the tag's listing pages
and, for every item not yet present under outputDir/tag, writes imgs/info.txt
and videos/info.txt with the item's media URLs.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			var override func(*config.Config)
			if cmd.Flags().Changed("max-page") {
				override = func(c *config.Config) { c.Crawler.MaxPage = flags.maxPage }
			}
			return runPull(cmd.Context(), *cfgFile, args[0], args[1], flags.logout, override)
		},
	}
	cmd.Flags().IntVar(&flags.maxPage, "max-page", config.Unbounded, "highest listing page to visit (-1 for all)")
	cmd.Flags().BoolVar(&flags.logout, "logout", false, "log out after the crawl, before the session is saved")
	return cmd
}

func runPull(ctx context.Context, cfgFile, tag, outputDir string, logout bool, override func(*config.Config)) error {
	env, err := newRunEnv(cfgFile, "pull", override)
	if err != nil {
		return err
	}
	defer env.sync()
	cfg := env.cfg
	logger := env.logger.With(zap.String("tag", tag))

	hub, tally, reporter, err := env.newProgress()
	if err != nil {
		return err
	}
	defer env.closeProgress(ctx, hub)

	ops, stopOps := env.startOps(ctx, func() any { return tally.Snapshot() })
	defer stopOps()

	limiter := ratelimit.New(ratelimit.Config{RPS: cfg.HTTP.MaxRPS})
	sess := session.Open(session.Config{
		BaseURL:        cfg.Site.BaseURL,
		LoginPath:      cfg.Site.LoginPath,
		LogoutPath:     cfg.Site.LogoutPath,
		Referer:        cfg.Site.Referer,
		UserAgent:      cfg.HTTP.UserAgent,
		Platform:       cfg.HTTP.Platform,
		AcceptLanguage: cfg.HTTP.AcceptLanguage,
		MaxRedirects:   cfg.HTTP.MaxRedirects,
		Timeout:        cfg.HTTPTimeout(),
		CookiePath:     cfg.Session.CookiePath,
		SuccessMarker:  cfg.Session.SuccessMarker,
	}, limiter, logger.Named("session"))
	// Close logs its own failure; the jar is saved on every exit path.
	defer func() { _ = sess.Close() }()

	started := time.Now()
	reporter.Report(progress.Event{Stage: progress.StageRunStart, Scope: tag, Note: outputDir})

	if err := sess.Login(ctx, cfg.Session.Username, cfg.Session.Password); err != nil {
		logger.Error("Login failed; aborting crawl", zap.Error(err))
		return err
	}
	ops.SetReady(true)

	crawlCfg := crawler.Config{
		BaseURL:     cfg.Site.BaseURL,
		LandingPath: cfg.Site.LandingPath,
		PagePath:    cfg.Site.PagePath,
		Selectors: crawler.Selectors{
			Pagination: cfg.Site.PaginationSelector,
			Entry:      cfg.Site.EntrySelector,
			Image:      cfg.Site.ImageSelector,
			Video:      cfg.Site.VideoSelector,
		},
		PageDelay: cfg.Crawler.PageDelay,
		ItemDelay: cfg.Crawler.ItemDelay,
	}
	opts := crawler.Options{Reporter: reporter, Logger: logger.Named("crawler")}
	pages := crawler.NewPageCrawler(crawlCfg, sess, opts)
	processor := crawler.NewItemProcessor(crawlCfg, sess, outputDir, opts)

	summary, runErr := crawler.Run(ctx, pages, processor, tag, cfg.Crawler.MaxPage)

	if logout {
		if err := sess.Logout(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("Logout failed", zap.Error(err))
		}
	}

	reporter.Report(progress.Event{
		Stage: progress.StageRunDone,
		Scope: tag,
		Count: summary.Processed,
		Total: summary.Processed + summary.Skipped + summary.Failed,
		Dur:   time.Since(started),
	})
	logger.Info("Pull finished",
		zap.Int("processed", summary.Processed),
		zap.Int("skipped", summary.Skipped),
		zap.Int("failed", summary.Failed),
		zap.Duration("elapsed", time.Since(started)),
	)

	switch {
	case runErr == nil:
		return nil
	case errors.Is(runErr, context.Canceled):
		logger.Warn("Pull interrupted", zap.Error(runErr))
		return nil
	default:
		return fmt.Errorf("pull %s: %w", tag, runErr)
	}
}
