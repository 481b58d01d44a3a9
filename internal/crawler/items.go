package crawler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/mediaharvest/internal/manifest"
	"github.com/JakeFAU/mediaharvest/internal/metrics"
	"github.com/JakeFAU/mediaharvest/internal/progress"
)

// Summary counts what ItemProcessor did with a queue.
type Summary struct {
	Processed int
	Skipped   int
	Failed    int
}

// ItemProcessor writes media manifests for items under outputRoot/tag/title.
type ItemProcessor struct {
	cfg        Config
	fetcher    Fetcher
	outputRoot string
	opts       Options
}

// NewItemProcessor builds an ItemProcessor rooted at outputRoot.
func NewItemProcessor(cfg Config, fetcher Fetcher, outputRoot string, opts Options) *ItemProcessor {
	return &ItemProcessor{cfg: cfg, fetcher: fetcher, outputRoot: outputRoot, opts: opts.withDefaults()}
}

// ItemDir returns the directory an item is written to.
func (p *ItemProcessor) ItemDir(tag string, item Item) (string, error) {
	name, err := DirName(item.Title)
	if err != nil {
		return "", err
	}
	return filepath.Join(p.outputRoot, tag, name), nil
}

// Process consumes items in order. Items whose directory already exists are
// skipped; items that fail are logged and dropped. It only returns an error
// when ctx is canceled.
func (p *ItemProcessor) Process(ctx context.Context, tag string, items []Item) (Summary, error) {
	logger := p.opts.Logger.With(zap.String("tag", tag))
	var sum Summary
	for i, item := range items {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		dir, err := p.ItemDir(tag, item)
		if err != nil {
			logger.Error("Dropping item", zap.String("url", item.SourceURL), zap.Error(err))
			p.itemFailed(tag, item, err)
			sum.Failed++
			continue
		}
		if _, err := os.Stat(dir); err == nil {
			logger.Warn("Item directory exists; skipping", zap.String("dir", dir))
			metrics.ObserveItem(tag, "skipped")
			p.opts.Reporter.Report(progress.Event{Stage: progress.StageItemSkipped, Scope: tag, Item: item.Title})
			sum.Skipped++
			continue
		} else if !errors.Is(err, fs.ErrNotExist) {
			logger.Error("Cannot stat item directory", zap.String("dir", dir), zap.Error(err))
			p.itemFailed(tag, item, err)
			sum.Failed++
			continue
		}

		start := time.Now()
		p.opts.Reporter.Report(progress.Event{Stage: progress.StageItemStart, Scope: tag, Item: item.Title, URL: item.SourceURL, Count: i + 1, Total: len(items)})
		if err := p.processItem(ctx, tag, dir, item); err != nil {
			logger.Error("Failed to process item", zap.String("title", item.Title), zap.String("url", item.SourceURL), zap.Error(err))
			p.itemFailed(tag, item, err)
			sum.Failed++
		} else {
			logger.Info("Processed item", zap.String("title", item.Title), zap.String("dir", dir))
			metrics.ObserveItem(tag, "ok")
			p.opts.Reporter.Report(progress.Event{Stage: progress.StageItemDone, Scope: tag, Item: item.Title, Dur: time.Since(start)})
			sum.Processed++
		}
		p.opts.Pauser.Pause(ctx, p.cfg.ItemDelay)
	}
	return sum, nil
}

func (p *ItemProcessor) itemFailed(tag string, item Item, err error) {
	metrics.ObserveItem(tag, "error")
	title := item.Title
	if title == "" {
		title = item.SourceURL
	}
	p.opts.Reporter.Report(progress.Event{Stage: progress.StageItemError, Scope: tag, Item: title, URL: item.SourceURL, Note: err.Error()})
}

func (p *ItemProcessor) processItem(ctx context.Context, tag, dir string, item Item) error {
	body, err := p.fetcher.Get(ctx, item.SourceURL)
	if err != nil {
		return err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("parse item page: %w", err)
	}
	base, _ := url.Parse(item.SourceURL)
	lists := map[string][]string{
		manifest.CategoryImages: hrefs(doc, p.cfg.Selectors.Image, base),
		manifest.CategoryVideos: hrefs(doc, p.cfg.Selectors.Video, base),
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create item dir: %w", err)
	}

	var g errgroup.Group
	for _, category := range []string{manifest.CategoryImages, manifest.CategoryVideos} {
		urls := lists[category]
		if len(urls) == 0 {
			continue
		}
		g.Go(func() error {
			return p.writeManifest(tag, item, filepath.Join(dir, category), category, urls)
		})
	}
	return g.Wait()
}

func (p *ItemProcessor) writeManifest(tag string, item Item, dir, category string, urls []string) error {
	total := len(urls)
	path, err := manifest.Write(dir, urls, func(n int, u string) {
		p.opts.Reporter.Report(progress.Event{
			Stage:    progress.StageManifestLine,
			Scope:    tag,
			Item:     item.Title,
			Category: category,
			URL:      u,
			Count:    n,
			Total:    total,
		})
	})
	if err != nil {
		return fmt.Errorf("%s manifest: %w", category, err)
	}
	metrics.ObserveManifestURLs(category, total)
	p.opts.Reporter.Report(progress.Event{Stage: progress.StageManifestDone, Scope: tag, Item: item.Title, Category: category, Count: total, Total: total})
	p.opts.Logger.Debug("Wrote manifest", zap.String("path", path), zap.Int("urls", total))
	return nil
}

func hrefs(doc *goquery.Document, selector string, base *url.URL) []string {
	if selector == "" {
		return nil
	}
	var out []string
	doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
		if href, ok := resolveHref(base, s.AttrOr("href", "")); ok {
			out = append(out, href)
		}
	})
	return out
}
