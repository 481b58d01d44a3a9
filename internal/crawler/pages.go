package crawler

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/mediaharvest/internal/metrics"
	"github.com/JakeFAU/mediaharvest/internal/progress"
)

// Options carries collaborators shared by PageCrawler and ItemProcessor.
type Options struct {
	Pauser   Pauser
	Reporter progress.Reporter
	Logger   *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.Pauser == nil {
		o.Pauser = TimerPauser{}
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// PageCrawler discovers items by walking a tag's listing pages in order.
type PageCrawler struct {
	cfg     Config
	fetcher Fetcher
	opts    Options
}

// NewPageCrawler builds a PageCrawler.
func NewPageCrawler(cfg Config, fetcher Fetcher, opts Options) *PageCrawler {
	return &PageCrawler{cfg: cfg, fetcher: fetcher, opts: opts.withDefaults()}
}

// DiscoverTotalPages reads the page count from the tag's landing page. The
// count is the second-to-last node matched by the pagination selector (the
// last one is the "next" link).
func (p *PageCrawler) DiscoverTotalPages(ctx context.Context, tag string) (int, error) {
	landing := p.cfg.landingURL(tag)
	body, err := p.fetcher.Get(ctx, landing)
	if err != nil {
		return 0, fmt.Errorf("fetch landing page: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("parse landing page: %w", err)
	}
	nodes := doc.Find(p.cfg.Selectors.Pagination)
	if nodes.Length() < 2 {
		return 0, fmt.Errorf("%w: %d nodes match %q", ErrNoPagination, nodes.Length(), p.cfg.Selectors.Pagination)
	}
	text := strings.TrimSpace(nodes.Eq(nodes.Length() - 2).Text())
	total, err := strconv.Atoi(text)
	if err != nil || total < 1 {
		return 0, fmt.Errorf("%w: page count %q", ErrNoPagination, text)
	}
	return total, nil
}

// Walk returns the items listed on pages 1..min(total, maxPage) in page
// order. maxPage < 0 disables the cap. A page that fails to load contributes
// nothing; only a failed page count or cancellation is returned as an error.
func (p *PageCrawler) Walk(ctx context.Context, tag string, maxPage int) ([]Item, error) {
	logger := p.opts.Logger.With(zap.String("tag", tag))
	total, err := p.DiscoverTotalPages(ctx, tag)
	if err != nil {
		metrics.ObservePage(tag, "error")
		return nil, err
	}
	last := total
	if maxPage >= 0 && maxPage < last {
		last = maxPage
	}
	logger.Info("Discovered pages", zap.Int("total_pages", total), zap.Int("max_page", maxPage), zap.Int("walking", last))

	var items []Item
	for page := 1; page <= last; page++ {
		if err := ctx.Err(); err != nil {
			return items, err
		}
		if page > 1 {
			p.opts.Pauser.Pause(ctx, p.cfg.PageDelay)
		}
		pageItems, err := p.listPage(ctx, tag, page)
		if err != nil {
			logger.Error("Failed to list page", zap.Int("page", page), zap.Error(err))
			metrics.ObservePage(tag, "error")
			continue
		}
		metrics.ObservePage(tag, "ok")
		p.opts.Reporter.Report(progress.Event{
			Stage: progress.StagePageListed,
			Scope: tag,
			Count: page,
			Total: last,
			Note:  strconv.Itoa(len(pageItems)) + " items",
		})
		logger.Info("Listed page", zap.Int("page", page), zap.Int("items", len(pageItems)))
		items = append(items, pageItems...)
	}
	return items, nil
}

func (p *PageCrawler) listPage(ctx context.Context, tag string, page int) ([]Item, error) {
	pageURL := p.cfg.pageURL(tag, page)
	body, err := p.fetcher.Get(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse page %d: %w", page, err)
	}
	base, _ := url.Parse(pageURL)

	var items []Item
	doc.Find(p.cfg.Selectors.Entry).Each(func(_ int, s *goquery.Selection) {
		title, ok := s.Attr("title")
		if !ok || strings.TrimSpace(title) == "" {
			title = s.Text()
		}
		title = strings.TrimSpace(title)
		href, ok := resolveHref(base, s.AttrOr("href", ""))
		if title == "" || !ok {
			return
		}
		items = append(items, Item{Title: title, SourceURL: href})
	})
	return items, nil
}
