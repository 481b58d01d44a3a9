package crawler

import (
	"context"
	"fmt"
)

// Run walks tag's listing and hands the discovered items to the processor.
// A failed page count aborts the run; everything else is logged and skipped.
func Run(ctx context.Context, pages *PageCrawler, processor *ItemProcessor, tag string, maxPage int) (Summary, error) {
	items, err := pages.Walk(ctx, tag, maxPage)
	if err != nil {
		return Summary{}, fmt.Errorf("walk %s: %w", tag, err)
	}
	return processor.Process(ctx, tag, items)
}
